// Package research turns a NEW record into an analysed one: it scrapes the
// company's site, asks the model for a structured profile and picks the best
// contact address for the tenant's mode.
package research

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/llm"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/scraper"
)

const (
	snapshotTTL       = 30 * 24 * time.Hour
	maxPageMarkdown   = 15000
	minPageMarkdown   = 50
	confidenceFound   = 95
	confidenceRescue  = 50
	confidenceMissing = 15
)

type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (*scraper.Page, error)
}

type Analyzer interface {
	AnalyzeCompany(ctx context.Context, tenant models.Tenant, content string, htmlEmails []string) (*llm.CompanyResearch, error)
}

type CompanyStore interface {
	GetByDomain(ctx context.Context, domain string) (*models.Company, error)
	Upsert(ctx context.Context, c *models.Company) error
}

type RecordStore interface {
	SaveAnalysis(ctx context.Context, id uuid.UUID, a models.Analysis) error
}

type page struct {
	section string
	path    string
}

var pages = []page{
	{"HOME", ""},
	{"CONTACT", "/contact"},
	{"ABOUT", "/about"},
}

type Service struct {
	scraper   Scraper
	analyzer  Analyzer
	companies CompanyStore
	records   RecordStore
	lookupMX  MXLookup
	now       func() time.Time
	logger    *zap.Logger
}

func NewService(s Scraper, analyzer Analyzer, companies CompanyStore, records RecordStore, logger *zap.Logger) *Service {
	return &Service{
		scraper:   s,
		analyzer:  analyzer,
		companies: companies,
		records:   records,
		lookupMX:  net.DefaultResolver.LookupMX,
		now:       time.Now,
		logger:    logger,
	}
}

type scan struct {
	content string
	emails  []string
}

// Research analyses a NEW record and returns the status it was saved in:
// ANALYZED when a usable target address was found, MANUAL_CHECK otherwise.
func (s *Service) Research(ctx context.Context, tenant models.Tenant, record models.Record) (models.RecordStatus, error) {
	logger := s.logger.With(
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("record_id", record.ID.String()),
		zap.String("domain", record.Domain))

	home, domain, err := homeURL(record.Domain)
	if err != nil {
		logger.Warn("Record has no usable domain", zap.Error(err))
		return s.save(ctx, record, models.Analysis{
			Status:  models.StatusManualCheck,
			Summary: "NO USABLE DOMAIN",
		})
	}

	cached, err := s.companies.GetByDomain(ctx, domain)
	if err != nil {
		return "", fmt.Errorf("failed to load company snapshot: %w", err)
	}
	if s.fresh(cached) {
		logger.Debug("Using cached company snapshot")
		return s.fromSnapshot(ctx, tenant, record, *cached)
	}

	result, err := s.collect(ctx, home, logger)
	if err != nil {
		return "", err
	}
	if result.content == "" && len(result.emails) == 0 {
		logger.Info("Nothing scraped, record needs manual check")
		return s.save(ctx, record, models.Analysis{
			Status:  models.StatusManualCheck,
			Summary: "EMPTY SCRAPE",
		})
	}

	analysis, err := s.analyzer.AnalyzeCompany(ctx, tenant, result.content, result.emails)
	if err != nil {
		logger.Warn("Company analysis failed", zap.Error(err), zap.Int("html_emails", len(result.emails)))
		if len(result.emails) == 0 {
			return s.save(ctx, record, models.Analysis{
				Status:  models.StatusManualCheck,
				Summary: "LLM FAILED, NO EMAILS IN HTML",
			})
		}
		return s.save(ctx, record, models.Analysis{
			Status:          models.StatusAnalyzed,
			Summary:         "HTML RESCUE MODE. LLM FAILED.",
			TargetEmail:     result.emails[0],
			ConfidenceScore: confidenceRescue,
		})
	}

	candidates := mergeEmails(analysis.ContactEmails, result.emails)
	company := models.Company{
		Domain:         domain,
		Name:           firstNonEmpty(analysis.CompanyName, record.CompanyName),
		Summary:        analysis.Summary,
		TechStack:      analysis.TechStack,
		DecisionMakers: analysis.DecisionMakers,
		PainPoints:     analysis.PainPoints,
		Emails:         candidates,
		LastScrapedAt:  s.now(),
	}
	if cached != nil {
		company.QualityScore = cached.QualityScore
	}
	if err := s.companies.Upsert(ctx, &company); err != nil {
		logger.Warn("Failed to store company snapshot", zap.Error(err))
	}

	summary := strings.Join([]string{
		"MODE: " + string(tenant.Mode),
		"ICEBREAKER: " + analysis.Icebreaker,
		"SUMMARY: " + analysis.Summary,
		"EMAILS: " + strings.Join(candidates, ", "),
		"HIRING: " + strings.Join(analysis.HiringSignals, "; "),
		"PAIN: " + strings.Join(analysis.PainPoints, "; "),
	}, "\n")

	return s.decide(ctx, tenant, record, candidates, summary, logger)
}

func (s *Service) fromSnapshot(ctx context.Context, tenant models.Tenant, record models.Record, c models.Company) (models.RecordStatus, error) {
	summary := strings.Join([]string{
		"MODE: " + string(tenant.Mode),
		"SUMMARY: " + c.Summary,
		"EMAILS: " + strings.Join(c.Emails, ", "),
		"PAIN: " + strings.Join(c.PainPoints, "; "),
	}, "\n")
	return s.decide(ctx, tenant, record, c.Emails, summary, s.logger.With(zap.String("record_id", record.ID.String())))
}

func (s *Service) decide(ctx context.Context, tenant models.Tenant, record models.Record, candidates []string, summary string, logger *zap.Logger) (models.RecordStatus, error) {
	target, score := newScorer(tenant.Mode, s.lookupMX).best(ctx, candidates)
	if target == "" {
		logger.Info("No acceptable contact address", zap.Int("candidates", len(candidates)))
		return s.save(ctx, record, models.Analysis{
			Status:          models.StatusManualCheck,
			Summary:         summary,
			ConfidenceScore: confidenceMissing,
		})
	}

	logger.Info("Contact address selected", zap.String("email", target), zap.Int("score", score))
	return s.save(ctx, record, models.Analysis{
		Status:          models.StatusAnalyzed,
		Summary:         summary,
		TargetEmail:     target,
		ConfidenceScore: confidenceFound,
	})
}

func (s *Service) save(ctx context.Context, record models.Record, a models.Analysis) (models.RecordStatus, error) {
	if err := s.records.SaveAnalysis(ctx, record.ID, a); err != nil {
		return "", err
	}
	return a.Status, nil
}

func (s *Service) fresh(c *models.Company) bool {
	if c == nil || c.Summary == "" || c.LastScrapedAt.IsZero() {
		return false
	}
	return s.now().Sub(c.LastScrapedAt) < snapshotTTL
}

// collect scrapes the home, contact and about pages concurrently. A page that
// fails to load is skipped.
func (s *Service) collect(ctx context.Context, home string, logger *zap.Logger) (scan, error) {
	results := make([]*scraper.Page, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pages {
		i, target := i, home+p.path
		g.Go(func() error {
			pg, err := s.scraper.Scrape(gctx, target)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Debug("Page scrape failed", zap.String("url", target), zap.Error(err))
				return nil
			}
			results[i] = pg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return scan{}, fmt.Errorf("failed to scrape %s: %w", home, err)
	}

	var (
		content strings.Builder
		emails  [][]string
	)
	for i, pg := range results {
		if pg.Empty() {
			continue
		}
		emails = append(emails, ExtractEmails(pg.HTML))
		if md := strings.TrimSpace(pg.Markdown); len(md) > minPageMarkdown {
			fmt.Fprintf(&content, "\n\n=== %s (%s) ===\n%s", pages[i].section, home+pages[i].path, llm.Truncate(md, maxPageMarkdown))
		}
	}

	merged := mergeEmails(emails...)
	sort.Strings(merged)
	return scan{content: strings.TrimSpace(content.String()), emails: merged}, nil
}

// homeURL reduces a domain or URL to its https root and bare host.
func homeURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty domain")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid domain %q: %w", raw, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", "", fmt.Errorf("invalid domain %q", raw)
	}
	scheme := u.Scheme
	if scheme != "http" {
		scheme = "https"
	}
	return scheme + "://" + host, strings.TrimPrefix(host, "www."), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
