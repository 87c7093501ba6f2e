// Package mailbox delivers drafted records over SMTP or into the tenant's IMAP
// drafts folder, and reads the tenant's inbox for replies and bounces.
package mailbox

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

var (
	lineBreakTags = regexp.MustCompile(`(?i)<br\s*/?>|</p\s*>|</div\s*>|</li\s*>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// ValidateRecipient rejects a missing or malformed target address.
func ValidateRecipient(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: no target email", models.ErrInvalidRecipient)
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return fmt.Errorf("%w: %q: %v", models.ErrInvalidRecipient, email, err)
	}
	return nil
}

// BuildMessage renders a record's draft as a multipart message from the tenant's mailbox.
// A configured attachment that cannot be found is skipped with a warning.
func BuildMessage(tenant models.Tenant, record models.Record, now time.Time, logger *zap.Logger) *gomail.Message {
	body := record.DraftBody
	if footer := strings.TrimSpace(tenant.Mailbox.HTMLFooter); footer != "" {
		body += "<br><br>" + footer
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", tenant.Mailbox.Username, tenant.SenderDisplayName())
	m.SetHeader("To", strings.TrimSpace(record.TargetEmail))
	m.SetHeader("Subject", record.DraftSubject)
	m.SetDateHeader("Date", now)
	m.SetBody("text/plain", PlainText(body))
	m.AddAlternative("text/html", body)

	if path := tenant.Mailbox.AttachmentPath; path != "" {
		if _, err := os.Stat(path); err != nil {
			logger.Warn("Attachment not found, sending without it",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("path", path),
				zap.Error(err))
		} else {
			m.Attach(path)
		}
	}

	return m
}

// PlainText is a readable text rendition of simple HTML email bodies.
func PlainText(s string) string {
	s = lineBreakTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func render(m *gomail.Message) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	return &buf, nil
}
