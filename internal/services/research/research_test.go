package research

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/llm"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/scraper"
)

// MockScraper serves canned pages by URL
type MockScraper struct {
	mutex sync.Mutex
	pages map[string]*scraper.Page
	errs  map[string]error
	calls []string
}

func NewMockScraper() *MockScraper {
	return &MockScraper{pages: make(map[string]*scraper.Page), errs: make(map[string]error)}
}

func (m *MockScraper) Scrape(ctx context.Context, pageURL string) (*scraper.Page, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls = append(m.calls, pageURL)
	if err := m.errs[pageURL]; err != nil {
		return nil, err
	}
	if p, ok := m.pages[pageURL]; ok {
		return p, nil
	}
	return &scraper.Page{URL: pageURL}, nil
}

func (m *MockScraper) Calls() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string(nil), m.calls...)
}

// MockAnalyzer returns a canned research result
type MockAnalyzer struct {
	mutex   sync.Mutex
	result  *llm.CompanyResearch
	err     error
	content string
	emails  []string
	calls   int
}

func (m *MockAnalyzer) AnalyzeCompany(ctx context.Context, tenant models.Tenant, content string, htmlEmails []string) (*llm.CompanyResearch, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls++
	m.content = content
	m.emails = htmlEmails
	if m.err != nil {
		return nil, m.err
	}
	r := *m.result
	return &r, nil
}

// MockCompanyStore keeps snapshots by domain
type MockCompanyStore struct {
	mutex     sync.Mutex
	companies map[string]models.Company
	errors    map[string]error
	upserts   int
}

func NewMockCompanyStore() *MockCompanyStore {
	return &MockCompanyStore{companies: make(map[string]models.Company), errors: make(map[string]error)}
}

func (m *MockCompanyStore) GetByDomain(ctx context.Context, domain string) (*models.Company, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.errors["GetByDomain"]; err != nil {
		return nil, err
	}
	c, ok := m.companies[domain]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MockCompanyStore) Upsert(ctx context.Context, c *models.Company) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.upserts++
	if err := m.errors["Upsert"]; err != nil {
		return err
	}
	m.companies[c.Domain] = *c
	return nil
}

// MockRecordStore captures saved analyses
type MockRecordStore struct {
	mutex    sync.Mutex
	analyses map[uuid.UUID]models.Analysis
	err      error
}

func (m *MockRecordStore) SaveAnalysis(ctx context.Context, id uuid.UUID, a models.Analysis) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.err != nil {
		return m.err
	}
	m.analyses[id] = a
	return nil
}

func mxFor(domains ...string) MXLookup {
	set := make(map[string]bool)
	for _, d := range domains {
		set[d] = true
	}
	return func(ctx context.Context, domain string) ([]*net.MX, error) {
		if set[domain] {
			return []*net.MX{{Host: "mx." + domain, Pref: 10}}, nil
		}
		return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
	}
}

const longMarkdown = "Acme builds warehouse robots for mid-size logistics companies across Europe."

type ResearchTestSuite struct {
	suite.Suite
	scraper   *MockScraper
	analyzer  *MockAnalyzer
	companies *MockCompanyStore
	records   *MockRecordStore
	service   *Service
	tenant    models.Tenant
	record    models.Record
	now       time.Time
}

func (s *ResearchTestSuite) SetupTest() {
	s.scraper = NewMockScraper()
	s.analyzer = &MockAnalyzer{result: &llm.CompanyResearch{
		CompanyName:    "Acme",
		Summary:        "Warehouse robots.",
		DecisionMakers: []string{"Ann Smith (CEO)"},
		ContactEmails:  []string{"ceo@acme.io"},
		Icebreaker:     "Your new Berlin site",
	}}
	s.companies = NewMockCompanyStore()
	s.records = &MockRecordStore{analyses: make(map[uuid.UUID]models.Analysis)}
	s.now = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	s.service = NewService(s.scraper, s.analyzer, s.companies, s.records, zap.NewNop())
	s.service.lookupMX = mxFor("acme.io")
	s.service.now = func() time.Time { return s.now }

	s.tenant = models.Tenant{ID: uuid.New(), Mode: models.TenantModeSales}
	s.record = models.Record{ID: uuid.New(), TenantID: s.tenant.ID, Domain: "acme.io", CompanyName: "Acme GmbH", Status: models.StatusNew, StepNumber: 1}

	s.scraper.pages["https://acme.io"] = &scraper.Page{
		Markdown: longMarkdown,
		HTML:     `<footer><a href="mailto:office@acme.io">Write us</a> logo@2x.png</footer>`,
	}
	s.scraper.pages["https://acme.io/contact"] = &scraper.Page{
		Markdown: "Contact: " + longMarkdown,
		HTML:     `<p>sales: hello@acme.io, bugs: noreply@acme.io</p>`,
	}
}

func (s *ResearchTestSuite) saved() models.Analysis {
	a, ok := s.records.analyses[s.record.ID]
	s.Require().True(ok, "analysis not saved")
	return a
}

func (s *ResearchTestSuite) TestScrapesThreePagesAndPicksBestAddress() {
	status, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(models.StatusAnalyzed, status)

	s.ElementsMatch([]string{"https://acme.io", "https://acme.io/contact", "https://acme.io/about"}, s.scraper.Calls())
	s.Equal([]string{"hello@acme.io", "office@acme.io"}, s.analyzer.emails)
	s.Contains(s.analyzer.content, "=== HOME (https://acme.io) ===")
	s.Contains(s.analyzer.content, "=== CONTACT (https://acme.io/contact) ===")
	s.NotContains(s.analyzer.content, "ABOUT", "empty pages are left out")

	a := s.saved()
	s.Equal(models.StatusAnalyzed, a.Status)
	s.Equal("ceo@acme.io", a.TargetEmail, "ceo address outranks office and hello")
	s.Equal(confidenceFound, a.ConfidenceScore)
	s.Contains(a.Summary, "ICEBREAKER: Your new Berlin site")

	company := s.companies.companies["acme.io"]
	s.Equal("Acme", company.Name)
	s.Equal(s.now, company.LastScrapedAt)
	s.ElementsMatch([]string{"ceo@acme.io", "hello@acme.io", "office@acme.io"}, company.Emails)
}

func (s *ResearchTestSuite) TestEmptyScrapeGoesToManualCheck() {
	s.scraper.pages = map[string]*scraper.Page{}

	status, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(models.StatusManualCheck, status)
	s.Equal(0, s.analyzer.calls)
	s.Equal("EMPTY SCRAPE", s.saved().Summary)
}

func (s *ResearchTestSuite) TestFailedPagesAreSkipped() {
	s.scraper.errs["https://acme.io/contact"] = errors.New("404")

	status, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(models.StatusAnalyzed, status)
	s.Equal([]string{"office@acme.io"}, s.analyzer.emails)
}

func (s *ResearchTestSuite) TestRescueModeWhenModelFails() {
	s.analyzer.err = errors.New("gateway down")

	status, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(models.StatusAnalyzed, status)

	a := s.saved()
	s.Equal(confidenceRescue, a.ConfidenceScore)
	s.Equal("hello@acme.io", a.TargetEmail)
	s.Contains(a.Summary, "HTML RESCUE MODE")
	s.Equal(0, s.companies.upserts)
}

func (s *ResearchTestSuite) TestModelFailureWithoutEmails() {
	s.analyzer.err = errors.New("gateway down")
	s.scraper.pages = map[string]*scraper.Page{
		"https://acme.io": {Markdown: longMarkdown},
	}

	status, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(models.StatusManualCheck, status)
}

func (s *ResearchTestSuite) TestNoMXRejectsEveryCandidate() {
	s.service.lookupMX = mxFor()

	status, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(models.StatusManualCheck, status)

	a := s.saved()
	s.Empty(a.TargetEmail)
	s.Equal(confidenceMissing, a.ConfidenceScore)
}

func (s *ResearchTestSuite) TestFreshSnapshotSkipsScraping() {
	s.companies.companies["acme.io"] = models.Company{
		Domain:        "acme.io",
		Summary:       "Robots.",
		Emails:        []string{"info@acme.io"},
		LastScrapedAt: s.now.Add(-10 * 24 * time.Hour),
	}

	status, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(models.StatusAnalyzed, status)
	s.Empty(s.scraper.Calls())
	s.Equal(0, s.analyzer.calls)
	s.Equal("info@acme.io", s.saved().TargetEmail)
}

func (s *ResearchTestSuite) TestStaleSnapshotIsRefreshed() {
	s.companies.companies["acme.io"] = models.Company{
		Domain:        "acme.io",
		Summary:       "Robots.",
		QualityScore:  80,
		LastScrapedAt: s.now.Add(-31 * 24 * time.Hour),
	}

	_, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(1, s.analyzer.calls)
	s.Equal(80, s.companies.companies["acme.io"].QualityScore)
}

func (s *ResearchTestSuite) TestSnapshotStoreFailureDoesNotBlock() {
	s.companies.errors["Upsert"] = errors.New("db down")

	status, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(models.StatusAnalyzed, status)
}

func (s *ResearchTestSuite) TestSaveFailureIsReturned() {
	s.records.err = models.ErrStaleRecord

	_, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.ErrorIs(err, models.ErrStaleRecord)
}

func (s *ResearchTestSuite) TestMissingDomain() {
	s.record.Domain = "  "

	status, err := s.service.Research(context.Background(), s.tenant, s.record)
	s.Require().NoError(err)
	s.Equal(models.StatusManualCheck, status)
	s.Empty(s.scraper.Calls())
}

func (s *ResearchTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, p := range pages {
		s.scraper.errs["https://acme.io"+p.path] = context.Canceled
	}

	_, err := s.service.Research(ctx, s.tenant, s.record)
	s.ErrorIs(err, context.Canceled)
	s.Empty(s.records.analyses)
}

func TestResearchTestSuite(t *testing.T) {
	suite.Run(t, new(ResearchTestSuite))
}

func TestExtractEmails(t *testing.T) {
	raw := strings.Join([]string{
		`<a href="mailto:Office@Acme.io">mail</a>`,
		`Reach jan.kowalski@acme.io or office@acme.io`,
		`<img src="hero@2x.png"> icon@acme.svg`,
		`sentry@o123.ingest.sentry.io no-reply@acme.io user@example.com`,
		`&lt;hello@acme.io&gt;`,
	}, "\n")

	assert.Equal(t, []string{"hello@acme.io", "jan.kowalski@acme.io", "office@acme.io"}, ExtractEmails(raw))
	assert.Nil(t, ExtractEmails(""))
}

func TestScore(t *testing.T) {
	lookup := mxFor("acme.io")
	ctx := context.Background()

	tests := []struct {
		name  string
		mode  models.TenantMode
		email string
		want  int
	}{
		{"sales founder", models.TenantModeSales, "founder@acme.io", 20},
		{"sales named", models.TenantModeSales, "ann.smith@acme.io", 5},
		{"sales office", models.TenantModeSales, "office@acme.io", 15},
		{"sales careers penalised", models.TenantModeSales, "careers@acme.io", -20},
		{"job hunt careers", models.TenantModeJobHunt, "careers@acme.io", 20},
		{"job hunt cto", models.TenantModeJobHunt, "cto@acme.io", 25},
		{"job hunt ceo", models.TenantModeJobHunt, "ceo@acme.io", 15},
		{"hr is a token, not a substring", models.TenantModeJobHunt, "chris@acme.io", 0},
		{"no mx", models.TenantModeSales, "info@dead.io", -85},
		{"malformed", models.TenantModeSales, "nobody", -100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newScorer(tt.mode, lookup).score(ctx, tt.email))
		})
	}
}

func TestBestRejectsLowScores(t *testing.T) {
	sc := newScorer(models.TenantModeSales, mxFor("acme.io"))

	email, _ := sc.best(context.Background(), []string{"careers@acme.io", "info@dead.io"})
	assert.Empty(t, email, "-20 is not enough")

	email, score := sc.best(context.Background(), []string{"careers@acme.io", "hello@acme.io", "office@acme.io"})
	assert.Equal(t, "hello@acme.io", email, "ties keep the first candidate")
	assert.Equal(t, 15, score)
}

func TestHomeURL(t *testing.T) {
	tests := []struct {
		in         string
		wantHome   string
		wantDomain string
		wantErr    bool
	}{
		{"acme.io", "https://acme.io", "acme.io", false},
		{"www.Acme.io", "https://www.acme.io", "acme.io", false},
		{"http://acme.io/careers?x=1", "http://acme.io", "acme.io", false},
		{"https://shop.acme.io/", "https://shop.acme.io", "shop.acme.io", false},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			home, domain, err := homeURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantHome, home)
			assert.Equal(t, tt.wantDomain, domain)
		})
	}
}
