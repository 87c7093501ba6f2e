package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

// CompanyRepository is the cross-tenant research cache keyed by domain.
type CompanyRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewCompanyRepository(db *pgxpool.Pool, logger *zap.Logger) *CompanyRepository {
	return &CompanyRepository{
		db:     db,
		logger: logger,
	}
}

// GetByDomain returns the cached snapshot or nil when the domain was never researched.
func (r *CompanyRepository) GetByDomain(ctx context.Context, domain string) (*models.Company, error) {
	query := `
		SELECT domain, name, summary, tech_stack, decision_makers, pain_points, emails, quality_score, last_scraped_at
		FROM companies
		WHERE domain = $1`

	var c models.Company
	err := r.db.QueryRow(ctx, query, strings.ToLower(domain)).Scan(
		&c.Domain, &c.Name, &c.Summary, &c.TechStack, &c.DecisionMakers, &c.PainPoints,
		&c.Emails, &c.QualityScore, &c.LastScrapedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	return &c, nil
}

func (r *CompanyRepository) Upsert(ctx context.Context, c *models.Company) error {
	c.Domain = strings.ToLower(c.Domain)

	query := `
		INSERT INTO companies (domain, name, summary, tech_stack, decision_makers, pain_points, emails, quality_score, last_scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (domain) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE companies.name END,
			summary = EXCLUDED.summary,
			tech_stack = EXCLUDED.tech_stack,
			decision_makers = EXCLUDED.decision_makers,
			pain_points = EXCLUDED.pain_points,
			emails = EXCLUDED.emails,
			quality_score = GREATEST(companies.quality_score, EXCLUDED.quality_score),
			last_scraped_at = EXCLUDED.last_scraped_at`

	_, err := r.db.Exec(ctx, query,
		c.Domain, c.Name, c.Summary, nonNil(c.TechStack), nonNil(c.DecisionMakers), nonNil(c.PainPoints),
		nonNil(c.Emails), c.QualityScore, c.LastScrapedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert company: %w", err)
	}

	r.logger.Debug("Company snapshot stored", zap.String("domain", c.Domain))
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
