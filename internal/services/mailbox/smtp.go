package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

const implicitTLSPort = 465

// SMTPSender sends through the tenant's own SMTP account. Port 465 uses implicit
// TLS; any other port upgrades with STARTTLS when the server offers it.
type SMTPSender struct {
	logger *zap.Logger
}

func NewSMTPSender(logger *zap.Logger) *SMTPSender {
	return &SMTPSender{logger: logger}
}

func (s *SMTPSender) Send(ctx context.Context, tenant models.Tenant, m *gomail.Message) error {
	mb := tenant.Mailbox
	if mb.SMTPHost == "" || mb.SMTPPort == 0 {
		return fmt.Errorf("smtp is not configured for tenant %s", tenant.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := openSMTP(ctx, mb)
	if err != nil {
		return fmt.Errorf("failed to send via %s:%d: %w", mb.SMTPHost, mb.SMTPPort, err)
	}
	defer conn.Close()

	if err := gomail.Send(conn, m); err != nil {
		return fmt.Errorf("failed to send via %s:%d: %w", mb.SMTPHost, mb.SMTPPort, err)
	}
	if err := conn.Quit(); err != nil {
		s.logger.Debug("SMTP quit failed", zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
	}

	s.logger.Info("Email sent",
		zap.String("tenant_id", tenant.ID.String()),
		zap.Strings("to", m.GetHeader("To")))
	return nil
}

// smtpConn is a gomail.Sender over one authenticated SMTP session. The whole
// session shares the deadline of the context it was opened with.
type smtpConn struct {
	client  *smtp.Client
	release func()
}

// openSMTP dials, negotiates TLS and authenticates. The underlying connection
// carries ctx's deadline and is closed when ctx is done.
func openSMTP(ctx context.Context, mb models.MailboxConfig) (*smtpConn, error) {
	ctx, cancel := withMailDeadline(ctx)
	deadline, _ := ctx.Deadline()

	var nd net.Dialer
	raw, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(mb.SMTPHost, strconv.Itoa(mb.SMTPPort)))
	if err != nil {
		cancel()
		return nil, err
	}
	if err := raw.SetDeadline(deadline); err != nil {
		raw.Close()
		cancel()
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	release := func() {
		stop()
		cancel()
	}

	fail := func(err error) (*smtpConn, error) {
		raw.Close()
		release()
		return nil, err
	}

	tlsConfig := smtpTLSConfig(mb)
	var conn net.Conn = raw
	if mb.SMTPPort == implicitTLSPort {
		conn = tls.Client(raw, tlsConfig)
	}

	c, err := smtp.NewClient(conn, mb.SMTPHost)
	if err != nil {
		return fail(err)
	}
	if mb.SMTPPort != implicitTLSPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fail(err)
			}
		}
	}
	if mb.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", mb.Username, mb.Password, mb.SMTPHost)); err != nil {
				return fail(fmt.Errorf("smtp auth: %w", err))
			}
		}
	}

	return &smtpConn{client: c, release: release}, nil
}

func (s *smtpConn) Send(from string, to []string, msg io.WriterTo) error {
	if err := s.client.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := s.client.Rcpt(addr); err != nil {
			return err
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *smtpConn) Quit() error {
	return s.client.Quit()
}

func (s *smtpConn) Close() error {
	defer s.release()
	return s.client.Close()
}

func smtpTLSConfig(mb models.MailboxConfig) *tls.Config {
	return &tls.Config{ServerName: mb.SMTPHost, MinVersion: tls.VersionTLS12}
}
