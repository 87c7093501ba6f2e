package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/llm"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/messaging"
)

// MockIMAP is an in-memory IMAP session
type MockIMAP struct {
	mutex    sync.Mutex
	addr     string
	boxes    []*imap.MailboxInfo
	unseen   []uint32
	messages map[uint32]*imap.Message
	appended map[string][]byte
	flags    map[string][]string
	calls    map[string]int
	errors   map[string]error
}

func NewMockIMAP() *MockIMAP {
	return &MockIMAP{
		messages: make(map[uint32]*imap.Message),
		appended: make(map[string][]byte),
		flags:    make(map[string][]string),
		calls:    make(map[string]int),
		errors:   make(map[string]error),
	}
}

func (m *MockIMAP) Dialer() imapDialer {
	return func(_ context.Context, addr string, _ *tls.Config) (imapClient, error) {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		m.calls["Dial"]++
		m.addr = addr
		if err := m.errors["Dial"]; err != nil {
			return nil, err
		}
		return m, nil
	}
}

func (m *MockIMAP) AddMessage(seq uint32, from *imap.Address, subject, raw string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unseen = append(m.unseen, seq)
	m.messages[seq] = &imap.Message{
		SeqNum:   seq,
		Envelope: &imap.Envelope{Subject: subject, From: []*imap.Address{from}},
		Body: map[*imap.BodySectionName]imap.Literal{
			{}: bytes.NewBufferString(raw),
		},
	}
}

func (m *MockIMAP) record(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls[name]++
	return m.errors[name]
}

func (m *MockIMAP) Calls(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.calls[name]
}

func (m *MockIMAP) Login(username, password string) error {
	return m.record("Login")
}

func (m *MockIMAP) List(ref, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	if err := m.record("List"); err != nil {
		return err
	}
	for _, box := range m.boxes {
		ch <- box
	}
	return nil
}

func (m *MockIMAP) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	if err := m.record("Select"); err != nil {
		return nil, err
	}
	return &imap.MailboxStatus{Name: name}, nil
}

func (m *MockIMAP) Search(criteria *imap.SearchCriteria) ([]uint32, error) {
	if err := m.record("Search"); err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]uint32(nil), m.unseen...), nil
}

func (m *MockIMAP) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	if err := m.record("Fetch"); err != nil {
		return err
	}
	// a plain body fetch sets \Seen, BODY.PEEK does not
	peek := true
	for _, item := range items {
		if strings.HasPrefix(string(item), "BODY[") {
			peek = false
		}
	}

	m.mutex.Lock()
	var out []*imap.Message
	for _, seq := range m.unseen {
		if seqset.Contains(seq) {
			out = append(out, m.messages[seq])
		}
	}
	if !peek {
		m.unseen = nil
	}
	m.mutex.Unlock()

	for _, msg := range out {
		ch <- msg
	}
	return nil
}

func (m *MockIMAP) Store(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	if err := m.record("Store"); err != nil {
		return err
	}
	op, _, err := imap.ParseFlagsOp(item)
	if err != nil {
		return err
	}
	flags, _ := value.([]interface{})
	if op != imap.AddFlags || len(flags) != 1 || flags[0] != imap.SeenFlag {
		return errors.New("unexpected store")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	var unseen []uint32
	for _, seq := range m.unseen {
		if !seqset.Contains(seq) {
			unseen = append(unseen, seq)
		}
	}
	m.unseen = unseen
	return nil
}

func (m *MockIMAP) Unseen() []uint32 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]uint32(nil), m.unseen...)
}

func (m *MockIMAP) Append(mbox string, flags []string, date time.Time, msg imap.Literal) error {
	if err := m.record("Append"); err != nil {
		return err
	}
	b, err := io.ReadAll(msg)
	if err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.appended[mbox] = b
	m.flags[mbox] = flags
	return nil
}

func (m *MockIMAP) Logout() error {
	return m.record("Logout")
}

// MockReplyStore matches senders against registered records
type MockReplyStore struct {
	mutex   sync.Mutex
	targets map[string]models.Record
	tracked []models.Record
	replies map[uuid.UUID]models.Reply
	stale   bool
	calls   map[string]int
	errors  map[string]error
}

func NewMockReplyStore() *MockReplyStore {
	return &MockReplyStore{
		targets: make(map[string]models.Record),
		replies: make(map[uuid.UUID]models.Reply),
		calls:   make(map[string]int),
		errors:  make(map[string]error),
	}
}

func (m *MockReplyStore) FindReplyTarget(ctx context.Context, tenantID uuid.UUID, sender string) (*models.Record, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls["FindReplyTarget"]++
	if err := m.errors["FindReplyTarget"]; err != nil {
		return nil, err
	}
	r, ok := m.targets[sender]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MockReplyStore) ListTrackedRecipients(ctx context.Context, tenantID uuid.UUID) ([]models.Record, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls["ListTrackedRecipients"]++
	if err := m.errors["ListTrackedRecipients"]; err != nil {
		return nil, err
	}
	return m.tracked, nil
}

func (m *MockReplyStore) RecordReply(ctx context.Context, record models.Record, reply models.Reply) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls["RecordReply"]++
	if err := m.errors["RecordReply"]; err != nil {
		return false, err
	}
	if m.stale {
		return false, nil
	}
	m.replies[record.ID] = reply
	return true, nil
}

func (m *MockReplyStore) Reply(id uuid.UUID) (models.Reply, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, ok := m.replies[id]
	return r, ok
}

func (m *MockReplyStore) Calls(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.calls[name]
}

// MockClassifier returns a canned analysis per body keyword
type MockClassifier struct {
	mutex  sync.Mutex
	result *llm.ReplyAnalysis
	bodies []string
	err    error
}

func (m *MockClassifier) ClassifyReply(ctx context.Context, tenant models.Tenant, body string) (*llm.ReplyAnalysis, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.bodies = append(m.bodies, body)
	if m.err != nil {
		return nil, m.err
	}
	r := *m.result
	return &r, nil
}

// MockPublisher collects published events
type MockPublisher struct {
	mutex  sync.Mutex
	events []messaging.Event
}

func (m *MockPublisher) Publish(ctx context.Context, event messaging.Event) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.events = append(m.events, event)
}

func (m *MockPublisher) Events() []messaging.Event {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]messaging.Event(nil), m.events...)
}

func rawMail(lines ...string) string {
	return strings.Join(lines, "\r\n")
}

func plainMail(from, subject, body string) string {
	return rawMail(
		"From: "+from,
		"To: sales@seller.io",
		"Subject: "+subject,
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	)
}

type InboxTestSuite struct {
	suite.Suite
	imap       *MockIMAP
	store      *MockReplyStore
	classifier *MockClassifier
	events     *MockPublisher
	inbox      *Inbox
	tenant     models.Tenant
	now        time.Time
}

func (s *InboxTestSuite) SetupTest() {
	s.imap = NewMockIMAP()
	s.store = NewMockReplyStore()
	s.classifier = &MockClassifier{result: &llm.ReplyAnalysis{Sentiment: "NEUTRAL", Summary: "asked for details", SuggestedAction: "send pricing"}}
	s.events = &MockPublisher{}
	s.now = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	s.inbox = NewInbox(s.store, s.classifier, s.events, zap.NewNop())
	s.inbox.dial = s.imap.Dialer()
	s.inbox.now = func() time.Time { return s.now }

	s.tenant = models.Tenant{
		ID:   uuid.New(),
		Name: "seller",
		Mailbox: models.MailboxConfig{
			Username: "sales@seller.io",
			Password: "secret",
			IMAPHost: "imap.seller.io",
		},
	}
}

func (s *InboxTestSuite) addTarget(email string) models.Record {
	r := models.Record{ID: uuid.New(), TenantID: s.tenant.ID, TargetEmail: email, Status: models.StatusSent, StepNumber: 1}
	s.store.targets[email] = r
	return r
}

func (s *InboxTestSuite) TestSkipsWithoutIMAPHost() {
	s.tenant.Mailbox.IMAPHost = ""

	n, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.NoError(err)
	s.Equal(0, n)
	s.Equal(0, s.imap.Calls("Dial"))
}

func (s *InboxTestSuite) TestDefaultPortAndLogout() {
	_, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.Require().NoError(err)

	s.Equal("imap.seller.io:993", s.imap.addr)
	s.Equal(1, s.imap.Calls("Logout"))
	s.Equal(0, s.imap.Calls("Fetch"), "nothing unseen, nothing fetched")
}

func (s *InboxTestSuite) TestInterestedReplyBecomesHotLead() {
	record := s.addTarget("jane@acme.io")
	s.classifier.result = &llm.ReplyAnalysis{IsInterested: true, Sentiment: "POSITIVE", Summary: "wants a call", SuggestedAction: "book a slot"}
	s.imap.AddMessage(1, &imap.Address{MailboxName: "Jane", HostName: "ACME.io"}, "Re: hello",
		plainMail("Jane <jane@acme.io>", "Re: hello", "Sounds great, let's talk next week."))

	n, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.Require().NoError(err)
	s.Equal(1, n)

	reply, ok := s.store.Reply(record.ID)
	s.Require().True(ok)
	s.Equal(models.StatusHotLead, reply.Status)
	s.Equal("POSITIVE", reply.Sentiment)
	s.Equal("wants a call | SUGGESTION: book a slot", reply.Analysis)
	s.Equal("Sounds great, let's talk next week.", reply.Content)
	s.Equal(s.now, reply.RepliedAt)

	events := s.events.Events()
	s.Require().Len(events, 1)
	s.Equal(messaging.EventRecordReplied, events[0].Type)
}

func (s *InboxTestSuite) TestHTMLOnlyReplyIsFlattened() {
	record := s.addTarget("bob@beta.io")
	s.classifier.result = &llm.ReplyAnalysis{Sentiment: llm.SentimentNegative, Summary: "declined"}
	s.imap.AddMessage(4, &imap.Address{MailboxName: "bob", HostName: "beta.io"}, "Re: intro", rawMail(
		"From: bob@beta.io",
		"Subject: Re: intro",
		`Content-Type: multipart/alternative; boundary="XYZ"`,
		"",
		"--XYZ",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Not interested</p><p>thanks &amp; bye</p>",
		"--XYZ--",
		"",
	))

	n, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Require().Len(s.classifier.bodies, 1)
	s.Equal("Not interested\nthanks & bye", s.classifier.bodies[0])

	reply, _ := s.store.Reply(record.ID)
	s.Equal(models.StatusNotInterested, reply.Status)
}

func (s *InboxTestSuite) TestUnknownSenderIsIgnored() {
	s.imap.AddMessage(2, &imap.Address{MailboxName: "news", HostName: "letter.io"}, "Weekly digest",
		plainMail("news@letter.io", "Weekly digest", "Top stories"))

	n, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.NoError(err)
	s.Equal(0, n)
	s.Empty(s.classifier.bodies)
	s.Equal(0, s.store.Calls("RecordReply"))
}

func (s *InboxTestSuite) TestBounceMarksTrackedRecipient() {
	bounced := models.Record{ID: uuid.New(), TenantID: s.tenant.ID, TargetEmail: "Gone@Old.io", Status: models.StatusSent}
	other := models.Record{ID: uuid.New(), TenantID: s.tenant.ID, TargetEmail: "alive@new.io", Status: models.StatusSent}
	s.store.tracked = []models.Record{other, bounced}
	s.imap.AddMessage(3, &imap.Address{MailboxName: "MAILER-DAEMON", HostName: "mx.seller.io"}, "Undelivered Mail Returned to Sender",
		plainMail("MAILER-DAEMON@mx.seller.io", "Undelivered Mail Returned to Sender",
			"Delivery to the following recipient failed permanently:\n\n    gone@old.io\n"))

	n, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.Require().NoError(err)
	s.Equal(1, n)

	reply, ok := s.store.Reply(bounced.ID)
	s.Require().True(ok)
	s.Equal(models.StatusBounced, reply.Status)
	_, touched := s.store.Reply(other.ID)
	s.False(touched)
	s.Empty(s.classifier.bodies, "bounces are not classified")
}

func (s *InboxTestSuite) TestStaleRecordIsNotCounted() {
	s.addTarget("jane@acme.io")
	s.store.stale = true
	s.imap.AddMessage(1, &imap.Address{MailboxName: "jane", HostName: "acme.io"}, "Re: hello",
		plainMail("jane@acme.io", "Re: hello", "Thanks"))

	n, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.NoError(err)
	s.Equal(0, n)
	s.Empty(s.events.Events())
}

func (s *InboxTestSuite) TestPerMessageFailureDoesNotStopOthers() {
	first := s.addTarget("jane@acme.io")
	second := s.addTarget("bob@beta.io")
	s.imap.AddMessage(1, &imap.Address{MailboxName: "jane", HostName: "acme.io"}, "Re: hello",
		plainMail("jane@acme.io", "Re: hello", "Thanks"))
	s.imap.AddMessage(2, &imap.Address{MailboxName: "bob", HostName: "beta.io"}, "Re: hello",
		plainMail("bob@beta.io", "Re: hello", "Maybe"))
	s.store.errors["RecordReply"] = errors.New("db down")

	n, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.Error(err)
	s.Equal(0, n)
	s.Equal(2, s.store.Calls("RecordReply"))

	_, ok := s.store.Reply(first.ID)
	s.False(ok)
	_, ok = s.store.Reply(second.ID)
	s.False(ok)
}

func (s *InboxTestSuite) TestFailedReplyIsRetriedOnNextCheck() {
	record := s.addTarget("jane@acme.io")
	s.imap.AddMessage(1, &imap.Address{MailboxName: "jane", HostName: "acme.io"}, "Re: hello",
		plainMail("jane@acme.io", "Re: hello", "Send me the pricing"))
	s.classifier.err = errors.New("classifier unavailable")

	n, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.Error(err)
	s.Equal(0, n)
	s.Equal([]uint32{1}, s.imap.Unseen(), "failed message stays unread")

	s.classifier.err = nil
	n, err = s.inbox.CheckInbox(context.Background(), s.tenant)
	s.Require().NoError(err)
	s.Equal(1, n)

	reply, ok := s.store.Reply(record.ID)
	s.Require().True(ok)
	s.Equal(models.StatusReplied, reply.Status)
	s.Empty(s.imap.Unseen())
	s.Len(s.classifier.bodies, 2)
}

func (s *InboxTestSuite) TestOnlyHandledMessagesAreMarkedSeen() {
	s.addTarget("jane@acme.io")
	s.imap.AddMessage(1, &imap.Address{MailboxName: "news", HostName: "letter.io"}, "Digest",
		plainMail("news@letter.io", "Digest", "Top stories"))
	s.imap.AddMessage(2, &imap.Address{MailboxName: "jane", HostName: "acme.io"}, "Re: hello",
		plainMail("jane@acme.io", "Re: hello", "Thanks"))
	s.store.errors["RecordReply"] = errors.New("db down")

	n, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.Error(err)
	s.Equal(0, n)
	s.Equal(1, s.imap.Calls("Store"))
	s.Equal([]uint32{2}, s.imap.Unseen())
}

func (s *InboxTestSuite) TestLoginFailure() {
	s.imap.errors["Login"] = errors.New("bad credentials")

	_, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.ErrorContains(err, "failed to login")
	s.Equal(1, s.imap.Calls("Logout"))
}

func (s *InboxTestSuite) TestSelectFailure() {
	s.imap.errors["Select"] = errors.New("no inbox")

	_, err := s.inbox.CheckInbox(context.Background(), s.tenant)
	s.ErrorContains(err, "failed to select inbox")
}

func TestInboxTestSuite(t *testing.T) {
	suite.Run(t, new(InboxTestSuite))
}

func TestReplyStatus(t *testing.T) {
	tests := []struct {
		name     string
		analysis llm.ReplyAnalysis
		want     models.RecordStatus
	}{
		{"interested wins over sentiment", llm.ReplyAnalysis{IsInterested: true, Sentiment: llm.SentimentNegative}, models.StatusHotLead},
		{"negative", llm.ReplyAnalysis{Sentiment: llm.SentimentNegative}, models.StatusNotInterested},
		{"neutral", llm.ReplyAnalysis{Sentiment: "NEUTRAL"}, models.StatusReplied},
		{"empty", llm.ReplyAnalysis{}, models.StatusReplied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.analysis
			if got := ReplyStatus(&a); got != tt.want {
				t.Errorf("ReplyStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}
