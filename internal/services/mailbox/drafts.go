package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

const draftsAttr = `\Drafts`

var draftFolderCandidates = []string{"[Gmail]/Drafts", "Drafts", "Draft", "INBOX.Drafts"}

// DraftStore appends messages to the tenant's drafts folder for a human to send.
type DraftStore struct {
	dial   imapDialer
	now    func() time.Time
	logger *zap.Logger
}

func NewDraftStore(logger *zap.Logger) *DraftStore {
	return &DraftStore{dial: dialTLS, now: time.Now, logger: logger}
}

// Save returns the folder the message was stored in.
func (s *DraftStore) Save(ctx context.Context, tenant models.Tenant, m *gomail.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	buf, err := render(m)
	if err != nil {
		return "", err
	}

	c, err := connect(ctx, s.dial, tenant.Mailbox)
	if err != nil {
		return "", err
	}
	defer func() { _ = c.Logout() }()

	boxes, err := listMailboxes(c)
	if err != nil {
		s.logger.Warn("Could not list mailboxes, using default drafts folder",
			zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
	}
	folder := resolveDraftsFolder(tenant.Mailbox.DraftsFolder, boxes)

	flags := []string{imap.DraftFlag, imap.SeenFlag}
	if err := c.Append(folder, flags, s.now(), buf); err != nil {
		return "", fmt.Errorf("failed to append draft to %s: %w", folder, err)
	}

	s.logger.Info("Draft saved",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("folder", folder))
	return folder, nil
}

// resolveDraftsFolder picks the tenant override, then a well-known name, then the
// mailbox flagged \Drafts. An override is used even when the server did not list it.
func resolveDraftsFolder(override string, boxes []*imap.MailboxInfo) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}

	names := make(map[string]string, len(boxes))
	for _, box := range boxes {
		names[strings.ToLower(box.Name)] = box.Name
	}
	for _, candidate := range draftFolderCandidates {
		if name, ok := names[strings.ToLower(candidate)]; ok {
			return name
		}
	}

	for _, box := range boxes {
		for _, attr := range box.Attributes {
			if strings.EqualFold(attr, draftsAttr) {
				return box.Name
			}
		}
	}
	return "Drafts"
}
