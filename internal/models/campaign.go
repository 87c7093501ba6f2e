package models

import (
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

type Campaign struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	TenantID       uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	Name           string         `json:"name" db:"name"`
	Status         CampaignStatus `json:"status" db:"status"`
	StrategyPrompt string         `json:"strategy_prompt" db:"strategy_prompt"`
	TargetRegion   string         `json:"target_region" db:"target_region"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// Company is the cross-tenant knowledge cache for a domain.
type Company struct {
	Domain         string    `json:"domain" db:"domain"`
	Name           string    `json:"name" db:"name"`
	Summary        string    `json:"summary" db:"summary"`
	TechStack      []string  `json:"tech_stack" db:"tech_stack"`
	DecisionMakers []string  `json:"decision_makers" db:"decision_makers"`
	PainPoints     []string  `json:"pain_points" db:"pain_points"`
	Emails         []string  `json:"emails" db:"emails"`
	QualityScore   int       `json:"quality_score" db:"quality_score"`
	LastScrapedAt  time.Time `json:"last_scraped_at" db:"last_scraped_at"`
}

// SearchEntry is one discovery query issued on behalf of a tenant.
type SearchEntry struct {
	TenantID     uuid.UUID `db:"tenant_id"`
	QueryText    string    `db:"query_text"`
	ResultsFound int       `db:"results_found"`
	SearchedAt   time.Time `db:"searched_at"`
}
