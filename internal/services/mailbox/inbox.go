package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/llm"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/messaging"
)

const maxReplyContent = 5000

var bounceSenders = []string{"mailer-daemon", "postmaster"}

type ReplyStore interface {
	FindReplyTarget(ctx context.Context, tenantID uuid.UUID, sender string) (*models.Record, error)
	ListTrackedRecipients(ctx context.Context, tenantID uuid.UUID) ([]models.Record, error)
	RecordReply(ctx context.Context, record models.Record, reply models.Reply) (bool, error)
}

type ReplyClassifier interface {
	ClassifyReply(ctx context.Context, tenant models.Tenant, body string) (*llm.ReplyAnalysis, error)
}

// Inbox matches unread mail to records: prospect replies are classified, and
// bounce notices mark the recipient's record BOUNCED.
type Inbox struct {
	dial       imapDialer
	records    ReplyStore
	classifier ReplyClassifier
	events     messaging.Publisher
	now        func() time.Time
	logger     *zap.Logger
}

func NewInbox(records ReplyStore, classifier ReplyClassifier, events messaging.Publisher, logger *zap.Logger) *Inbox {
	return &Inbox{
		dial:       dialTLS,
		records:    records,
		classifier: classifier,
		events:     events,
		now:        time.Now,
		logger:     logger,
	}
}

type inboundMessage struct {
	seqNum  uint32
	from    string
	subject string
	text    string
	html    string
}

func (m inboundMessage) body() string {
	if strings.TrimSpace(m.text) != "" {
		return strings.TrimSpace(m.text)
	}
	return PlainText(m.html)
}

// CheckInbox returns how many records it updated. Per-message failures are
// collected and returned with the count; connection failures abort the check.
// A message is flagged \Seen only once it has been handled, so one that failed
// is picked up again by the next check.
func (i *Inbox) CheckInbox(ctx context.Context, tenant models.Tenant) (int, error) {
	if tenant.Mailbox.IMAPHost == "" {
		i.logger.Debug("Inbox check skipped, no IMAP configured", zap.String("tenant_id", tenant.ID.String()))
		return 0, nil
	}

	c, err := connect(ctx, i.dial, tenant.Mailbox)
	if err != nil {
		return 0, err
	}
	defer func() { _ = c.Logout() }()

	messages, err := i.fetchUnseen(c, tenant)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	i.logger.Info("Processing unread mail",
		zap.String("tenant_id", tenant.ID.String()),
		zap.Int("count", len(messages)))

	var (
		updated  int
		failures []error
		tracked  []models.Record
		loaded   bool
	)
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		var (
			ok  bool
			err error
		)
		if isBounce(msg.from) {
			if !loaded {
				tracked, err = i.records.ListTrackedRecipients(ctx, tenant.ID)
				if err != nil {
					failures = append(failures, err)
					continue
				}
				loaded = true
			}
			ok, err = i.handleBounce(ctx, tenant, msg, tracked)
		} else {
			ok, err = i.handleReply(ctx, tenant, msg)
		}

		if err != nil {
			i.logger.Warn("Failed to process inbound message, leaving it unread",
				zap.String("tenant_id", tenant.ID.String()),
				zap.Uint32("seq", msg.seqNum),
				zap.Error(err))
			failures = append(failures, err)
			continue
		}
		if ok {
			updated++
		}
		i.markSeen(c, tenant, msg.seqNum)
	}

	return updated, errors.Join(failures...)
}

// fetchUnseen peeks at unread mail so nothing is flagged \Seen by the fetch itself.
func (i *Inbox) fetchUnseen(c imapClient, tenant models.Tenant) ([]inboundMessage, error) {
	if _, err := c.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search inbox: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, ch)
	}()

	var (
		messages   []inboundMessage
		unreadable []uint32
	)
	for msg := range ch {
		parsed, err := parseMessage(msg, section)
		if err != nil {
			i.logger.Warn("Skipping unreadable message",
				zap.String("tenant_id", tenant.ID.String()),
				zap.Uint32("seq", msg.SeqNum),
				zap.Error(err))
			unreadable = append(unreadable, msg.SeqNum)
			continue
		}
		messages = append(messages, parsed)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	// a message that cannot be parsed never will be
	for _, seq := range unreadable {
		i.markSeen(c, tenant, seq)
	}
	return messages, nil
}

func (i *Inbox) markSeen(c imapClient, tenant models.Tenant, seq uint32) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seq)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		i.logger.Warn("Failed to flag message as seen",
			zap.String("tenant_id", tenant.ID.String()),
			zap.Uint32("seq", seq),
			zap.Error(err))
	}
}

func parseMessage(msg *imap.Message, section *imap.BodySectionName) (inboundMessage, error) {
	out := inboundMessage{seqNum: msg.SeqNum}
	if msg.Envelope != nil {
		out.subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			out.from = strings.ToLower(formatAddress(msg.Envelope.From[0]))
		}
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return out, fmt.Errorf("message body not found")
	}

	mr, err := mail.CreateReader(literal)
	if err != nil && !message.IsUnknownCharset(err) {
		return out, fmt.Errorf("failed to create message reader: %w", err)
	}

	var text, html strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return out, fmt.Errorf("failed to read part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return out, fmt.Errorf("failed to read body: %w", err)
		}

		switch {
		case strings.HasPrefix(contentType, "text/html"):
			html.Write(b)
		case strings.HasPrefix(contentType, "text/"), strings.HasPrefix(contentType, "message/"):
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.Write(b)
		}
	}

	out.text = text.String()
	out.html = html.String()
	return out, nil
}

func isBounce(sender string) bool {
	local, _, _ := strings.Cut(sender, "@")
	for _, b := range bounceSenders {
		if local == b {
			return true
		}
	}
	return false
}

func (i *Inbox) handleReply(ctx context.Context, tenant models.Tenant, msg inboundMessage) (bool, error) {
	if msg.from == "" {
		return false, nil
	}

	record, err := i.records.FindReplyTarget(ctx, tenant.ID, msg.from)
	if err != nil {
		return false, err
	}
	if record == nil {
		i.logger.Debug("Ignoring mail from unknown sender",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("from", msg.from))
		return false, nil
	}

	body := msg.body()
	if body == "" {
		return false, nil
	}

	analysis, err := i.classifier.ClassifyReply(ctx, tenant, body)
	if err != nil {
		return false, err
	}

	reply := models.Reply{
		Status:    ReplyStatus(analysis),
		RepliedAt: i.now(),
		Content:   llm.Truncate(body, maxReplyContent),
		Sentiment: analysis.Sentiment,
		Analysis:  fmt.Sprintf("%s | SUGGESTION: %s", analysis.Summary, analysis.SuggestedAction),
	}
	return i.store(ctx, tenant, *record, reply)
}

func (i *Inbox) handleBounce(ctx context.Context, tenant models.Tenant, msg inboundMessage, tracked []models.Record) (bool, error) {
	haystack := strings.ToLower(msg.body() + "\n" + msg.subject)

	for _, record := range tracked {
		target := strings.ToLower(strings.TrimSpace(record.TargetEmail))
		if target == "" || !strings.Contains(haystack, target) {
			continue
		}

		reply := models.Reply{
			Status:    models.StatusBounced,
			RepliedAt: i.now(),
			Content:   llm.Truncate(msg.body(), maxReplyContent),
			Analysis:  "Delivery failure reported by " + msg.from,
		}
		return i.store(ctx, tenant, record, reply)
	}

	i.logger.Debug("Bounce matched no tracked recipient",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("subject", msg.subject))
	return false, nil
}

func (i *Inbox) store(ctx context.Context, tenant models.Tenant, record models.Record, reply models.Reply) (bool, error) {
	applied, err := i.records.RecordReply(ctx, record, reply)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	i.events.Publish(ctx, messaging.NewEvent(messaging.EventRecordReplied, tenant.ID, map[string]interface{}{
		"status":    string(reply.Status),
		"sentiment": reply.Sentiment,
	}).ForRecord(record.ID))

	i.logger.Info("Reply recorded",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("record_id", record.ID.String()),
		zap.String("status", string(reply.Status)))
	return true, nil
}

// ReplyStatus maps a classification onto the record's new status.
func ReplyStatus(a *llm.ReplyAnalysis) models.RecordStatus {
	switch {
	case a.IsInterested:
		return models.StatusHotLead
	case a.Sentiment == llm.SentimentNegative:
		return models.StatusNotInterested
	default:
		return models.StatusReplied
	}
}
