// Package discovery finds new companies for a tenant's active campaign: the
// model proposes map-search queries and every unseen business website becomes
// a NEW record.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/llm"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/scraper"
)

const defaultQualityScore = 50

var socialHosts = map[string]struct{}{
	"facebook.com":  {},
	"instagram.com": {},
	"linkedin.com":  {},
	"google.com":    {},
	"youtube.com":   {},
	"twitter.com":   {},
}

type Planner interface {
	PlanSearch(ctx context.Context, tenant models.Tenant, campaign models.Campaign, used []string) (*llm.SearchPlan, error)
}

type PlaceSearcher interface {
	SearchPlaces(ctx context.Context, query string, limit int) ([]scraper.Place, error)
}

type CampaignStore interface {
	ActiveCampaign(ctx context.Context, tenantID uuid.UUID) (*models.Campaign, error)
}

type SearchHistory interface {
	SearchedSince(ctx context.Context, tenantID uuid.UUID, query string, since time.Time) (bool, error)
	Record(ctx context.Context, entry models.SearchEntry) error
}

type RecordStore interface {
	DomainExists(ctx context.Context, tenantID uuid.UUID, domain string) (bool, error)
	Create(ctx context.Context, record *models.Record) error
}

type CompanyStore interface {
	GetByDomain(ctx context.Context, domain string) (*models.Company, error)
	Upsert(ctx context.Context, c *models.Company) error
}

type Dependencies struct {
	Planner   Planner
	Places    PlaceSearcher
	Campaigns CampaignStore
	History   SearchHistory
	Records   RecordStore
	Companies CompanyStore
	Memory    QueryMemory
}

type Service struct {
	deps   Dependencies
	cfg    config.DiscoveryConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewService(deps Dependencies, cfg config.DiscoveryConfig, logger *zap.Logger) *Service {
	if deps.Memory == nil {
		deps.Memory = NewLocalMemory()
	}
	return &Service{deps: deps, cfg: cfg, now: time.Now, logger: logger}
}

// Discover runs one discovery round and returns how many records it created.
// It returns models.ErrCampaignNotFound when the tenant has no active campaign.
func (s *Service) Discover(ctx context.Context, tenant models.Tenant) (int, error) {
	logger := s.logger.With(zap.String("tenant_id", tenant.ID.String()))

	campaign, err := s.deps.Campaigns.ActiveCampaign(ctx, tenant.ID)
	if err != nil {
		return 0, err
	}
	logger = logger.With(zap.String("campaign_id", campaign.ID.String()))

	queries, err := s.plan(ctx, tenant, *campaign, logger)
	if err != nil {
		return 0, err
	}
	if len(queries) == 0 {
		logger.Info("Every proposed query was searched recently, nothing to do")
		return 0, nil
	}

	var (
		created  int
		seen     = make(map[string]struct{})
		failures []error
	)
	for _, query := range queries {
		if created >= s.cfg.MaxNewRecords {
			logger.Info("New record cap reached", zap.Int("cap", s.cfg.MaxNewRecords))
			break
		}
		if err := ctx.Err(); err != nil {
			return created, err
		}

		n, err := s.runQuery(ctx, tenant, *campaign, query, seen, s.cfg.MaxNewRecords-created, logger)
		created += n
		if err != nil {
			logger.Warn("Search query failed", zap.String("query", query), zap.Error(err))
			failures = append(failures, err)
		}
	}

	logger.Info("Discovery round finished", zap.Int("created", created), zap.Int("queries", len(queries)))
	if created == 0 && len(failures) == len(queries) {
		return 0, errors.Join(failures...)
	}
	return created, nil
}

// plan asks the model for queries, remembers them, and keeps the ones not
// searched within the cooldown, capped at MaxQueries.
func (s *Service) plan(ctx context.Context, tenant models.Tenant, campaign models.Campaign, logger *zap.Logger) ([]string, error) {
	used, err := s.deps.Memory.Used(ctx, campaign.ID)
	if err != nil {
		logger.Warn("Query memory unavailable, planning without it", zap.Error(err))
	}

	plan, err := s.deps.Planner.PlanSearch(ctx, tenant, campaign, used)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Memory.Remember(ctx, campaign.ID, plan.Queries); err != nil {
		logger.Warn("Failed to remember queries", zap.Error(err))
	}

	since := s.now().Add(-s.cfg.QueryCooldown)
	dedup := make(map[string]struct{})
	var out []string
	for _, q := range plan.Queries {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" {
			continue
		}
		if _, ok := dedup[key]; ok {
			continue
		}
		dedup[key] = struct{}{}

		if s.cfg.QueryCooldown > 0 {
			searched, err := s.deps.History.SearchedSince(ctx, tenant.ID, q, since)
			if err != nil {
				return nil, err
			}
			if searched {
				logger.Debug("Skipping recently searched query", zap.String("query", q))
				continue
			}
		}

		out = append(out, q)
		if len(out) >= s.cfg.MaxQueries {
			break
		}
	}
	return out, nil
}

// runQuery searches one query and creates up to budget records. The attempt is
// recorded in the search history even when the search fails.
func (s *Service) runQuery(ctx context.Context, tenant models.Tenant, campaign models.Campaign, query string, seen map[string]struct{}, budget int, logger *zap.Logger) (int, error) {
	places, searchErr := s.deps.Places.SearchPlaces(ctx, query, s.cfg.BatchSize)

	entry := models.SearchEntry{
		TenantID:     tenant.ID,
		QueryText:    query,
		ResultsFound: len(places),
		SearchedAt:   s.now(),
	}
	if err := s.deps.History.Record(ctx, entry); err != nil {
		logger.Warn("Failed to record search history", zap.String("query", query), zap.Error(err))
	}
	if searchErr != nil {
		return 0, searchErr
	}

	created := 0
	for _, place := range places {
		if created >= budget {
			break
		}
		domain := CleanDomain(place.Website)
		if domain == "" {
			continue
		}
		if _, ok := seen[domain]; ok {
			continue
		}
		seen[domain] = struct{}{}

		exists, err := s.deps.Records.DomainExists(ctx, tenant.ID, domain)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		name := firstNonEmpty(place.Title, domain)
		s.seedCompany(ctx, domain, name, place, query, logger)

		record := &models.Record{
			TenantID:        tenant.ID,
			CampaignID:      campaign.ID,
			CompanyName:     name,
			Domain:          domain,
			Status:          models.StatusNew,
			StepNumber:      1,
			AnalysisSummary: fmt.Sprintf("FOUND VIA: %s", query),
		}
		if err := s.deps.Records.Create(ctx, record); err != nil {
			return created, err
		}
		created++
	}

	logger.Debug("Query processed",
		zap.String("query", query),
		zap.Int("places", len(places)),
		zap.Int("created", created))
	return created, nil
}

// seedCompany stores a minimal snapshot for a domain nobody has seen yet. An
// existing snapshot is never overwritten here.
func (s *Service) seedCompany(ctx context.Context, domain, name string, place scraper.Place, query string, logger *zap.Logger) {
	existing, err := s.deps.Companies.GetByDomain(ctx, domain)
	if err != nil {
		logger.Warn("Failed to look up company", zap.String("domain", domain), zap.Error(err))
		return
	}
	if existing != nil {
		return
	}

	category := place.Category
	if category == "" {
		category = "unknown"
	}
	company := &models.Company{
		Domain: domain,
		Name:   name,
		PainPoints: []string{
			"Category: " + category,
			fmt.Sprintf("Rating: %.1f/5", place.TotalScore),
			"From: " + query,
		},
		QualityScore: QualityScore(place.TotalScore),
	}
	if err := s.deps.Companies.Upsert(ctx, company); err != nil {
		logger.Warn("Failed to seed company", zap.String("domain", domain), zap.Error(err))
	}
}

// QualityScore scales a 0-5 map rating to 0-100. Unrated places get 50.
func QualityScore(rating float64) int {
	if rating <= 0 {
		return defaultQualityScore
	}
	return int(math.Round(rating * 20))
}

// CleanDomain reduces a website URL to its lowercase host without "www.".
// Social network hosts and unparsable values yield "".
func CleanDomain(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "http://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}
	if _, ok := socialHosts[host]; ok {
		return ""
	}
	return host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
