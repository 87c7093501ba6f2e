package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

const (
	defaultIMAPPort = 993
	// defaultMailTimeout bounds a mail session when the caller sets no deadline.
	defaultMailTimeout = 2 * time.Minute
)

// imapClient is the subset of *client.Client the mailbox uses.
type imapClient interface {
	Login(username, password string) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Store(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Append(mbox string, flags []string, date time.Time, msg imap.Literal) error
	Logout() error
}

type imapDialer func(ctx context.Context, addr string, tlsConfig *tls.Config) (imapClient, error)

// ctxDialer dials under ctx and keeps the raw connection so the session can be
// torn down when ctx ends.
type ctxDialer struct {
	ctx      context.Context
	deadline time.Time
	conn     net.Conn
	stop     func() bool
}

func (d *ctxDialer) Dial(network, addr string) (net.Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(d.ctx, network, addr)
	if err != nil {
		return nil, err
	}
	// covers the greeting, which runs before the client timeout is set
	if err := conn.SetDeadline(d.deadline); err != nil {
		conn.Close()
		return nil, err
	}
	d.conn = conn
	d.stop = context.AfterFunc(d.ctx, func() { _ = conn.Close() })
	return conn, nil
}

// session releases the context watch on logout.
type session struct {
	*client.Client
	release func()
}

func (s *session) Logout() error {
	defer s.release()
	return s.Client.Logout()
}

// dialTLS opens an implicit-TLS session bounded by ctx: every command inherits
// the remaining time and the connection is closed once ctx is done.
func dialTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (imapClient, error) {
	ctx, cancel := withMailDeadline(ctx)
	deadline, _ := ctx.Deadline()

	d := &ctxDialer{ctx: ctx, deadline: deadline}
	c, err := client.DialWithDialerTLS(d, addr, tlsConfig)
	if err != nil {
		if d.conn != nil {
			d.stop()
			d.conn.Close()
		}
		cancel()
		return nil, err
	}
	release := func() {
		d.stop()
		cancel()
	}

	timeout := time.Until(deadline)
	if timeout <= 0 {
		d.conn.Close()
		release()
		return nil, context.DeadlineExceeded
	}
	c.Timeout = timeout

	return &session{Client: c, release: release}, nil
}

func withMailDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, defaultMailTimeout)
}

// connect opens an authenticated session to the tenant's IMAP server. The caller logs out.
func connect(ctx context.Context, dial imapDialer, mb models.MailboxConfig) (imapClient, error) {
	if mb.IMAPHost == "" {
		return nil, fmt.Errorf("imap is not configured")
	}
	port := mb.IMAPPort
	if port == 0 {
		port = defaultIMAPPort
	}

	c, err := dial(ctx, fmt.Sprintf("%s:%d", mb.IMAPHost, port), &tls.Config{
		ServerName: mb.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(mb.Username, mb.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}
	return c, nil
}

func listMailboxes(c imapClient) ([]*imap.MailboxInfo, error) {
	ch := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", ch)
	}()

	var boxes []*imap.MailboxInfo
	for box := range ch {
		boxes = append(boxes, box)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return boxes, nil
}

func formatAddress(addr *imap.Address) string {
	if addr == nil || addr.MailboxName == "" {
		return ""
	}
	if addr.HostName == "" {
		return addr.MailboxName
	}
	return addr.MailboxName + "@" + addr.HostName
}
