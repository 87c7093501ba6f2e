package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

type CampaignRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewCampaignRepository(db *pgxpool.Pool, logger *zap.Logger) *CampaignRepository {
	return &CampaignRepository{
		db:     db,
		logger: logger,
	}
}

func (r *CampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	if campaign.Status == "" {
		campaign.Status = models.CampaignActive
	}

	query := `
		INSERT INTO campaigns (id, tenant_id, name, status, strategy_prompt, target_region)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	row := r.db.QueryRow(ctx, query,
		campaign.ID, campaign.TenantID, campaign.Name, campaign.Status, campaign.StrategyPrompt, campaign.TargetRegion)
	if err := row.Scan(&campaign.CreatedAt); err != nil {
		r.logger.Error("Failed to create campaign", zap.Error(err), zap.String("tenant_id", campaign.TenantID.String()))
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	r.logger.Info("Campaign created successfully",
		zap.String("id", campaign.ID.String()),
		zap.String("tenant_id", campaign.TenantID.String()))
	return nil
}

// ActiveCampaign returns the tenant's most recent ACTIVE campaign.
func (r *CampaignRepository) ActiveCampaign(ctx context.Context, tenantID uuid.UUID) (*models.Campaign, error) {
	query := `
		SELECT id, tenant_id, name, status, strategy_prompt, target_region, created_at
		FROM campaigns
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var c models.Campaign
	err := r.db.QueryRow(ctx, query, tenantID, models.CampaignActive).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Status, &c.StrategyPrompt, &c.TargetRegion, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active campaign for tenant %s", models.ErrCampaignNotFound, tenantID)
		}
		return nil, fmt.Errorf("failed to get active campaign: %w", err)
	}

	return &c, nil
}
