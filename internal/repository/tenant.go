package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

const tenantColumns = `
	id, name, active, mode, sending_mode, daily_target_limit,
	warmup_enabled, warmup_start_limit, warmup_daily_increment, warmup_started_at,
	sender_name, mailbox_username, mailbox_password, smtp_host, smtp_port,
	imap_host, imap_port, drafts_folder, html_footer, attachment_path,
	industry, value_proposition, ideal_customer_profile, tone_of_voice,
	negative_constraints, case_studies, created_at, updated_at`

type TenantRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTenantRepository(db *pgxpool.Pool, logger *zap.Logger) *TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.Mode == "" {
		tenant.Mode = models.TenantModeSales
	}
	if tenant.SendingMode == "" {
		tenant.SendingMode = models.SendingModeDraft
	}

	query := `
		INSERT INTO tenants (
			id, name, active, mode, sending_mode, daily_target_limit,
			warmup_enabled, warmup_start_limit, warmup_daily_increment, warmup_started_at,
			sender_name, mailbox_username, mailbox_password, smtp_host, smtp_port,
			imap_host, imap_port, drafts_folder, html_footer, attachment_path,
			industry, value_proposition, ideal_customer_profile, tone_of_voice,
			negative_constraints, case_studies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		RETURNING created_at, updated_at`

	row := r.db.QueryRow(ctx, query,
		tenant.ID, tenant.Name, tenant.Active, tenant.Mode, tenant.SendingMode, tenant.DailyTargetLimit,
		tenant.Warmup.Enabled, tenant.Warmup.StartLimit, tenant.Warmup.DailyIncrement, tenant.Warmup.StartedAt,
		tenant.Mailbox.SenderName, tenant.Mailbox.Username, tenant.Mailbox.Password, tenant.Mailbox.SMTPHost, tenant.Mailbox.SMTPPort,
		tenant.Mailbox.IMAPHost, tenant.Mailbox.IMAPPort, tenant.Mailbox.DraftsFolder, tenant.Mailbox.HTMLFooter, tenant.Mailbox.AttachmentPath,
		tenant.Profile.Industry, tenant.Profile.ValueProposition, tenant.Profile.IdealCustomerProfile, tenant.Profile.ToneOfVoice,
		tenant.Profile.NegativeConstraints, tenant.Profile.CaseStudies,
	)

	if err := row.Scan(&tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
		r.logger.Error("Failed to create tenant", zap.Error(err), zap.String("name", tenant.Name))
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	r.logger.Info("Tenant created successfully", zap.String("id", tenant.ID.String()), zap.String("name", tenant.Name))
	return nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	tenant, err := scanTenant(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrTenantNotFound, id)
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return tenant, nil
}

func (r *TenantRepository) GetAll(ctx context.Context) ([]models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, *tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return tenants, nil
}

// ListActiveIDs returns the ids of every tenant the dispatcher should run.
func (r *TenantRepository) ListActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM tenants WHERE active = TRUE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tenants: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return ids, nil
}

func (r *TenantRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE tenants SET active = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Exec(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("failed to update tenant state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrTenantNotFound, id)
	}

	r.logger.Info("Tenant state updated", zap.String("id", id.String()), zap.Bool("active", active))
	return nil
}

func (r *TenantRepository) UpdateWarmup(ctx context.Context, id uuid.UUID, warmup models.WarmupConfig) error {
	query := `
		UPDATE tenants
		SET warmup_enabled = $1, warmup_start_limit = $2, warmup_daily_increment = $3,
			warmup_started_at = $4, updated_at = NOW()
		WHERE id = $5`

	result, err := r.db.Exec(ctx, query, warmup.Enabled, warmup.StartLimit, warmup.DailyIncrement, warmup.StartedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update tenant warmup: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrTenantNotFound, id)
	}

	r.logger.Info("Tenant warmup updated",
		zap.String("id", id.String()),
		zap.Bool("enabled", warmup.Enabled),
		zap.Int("start_limit", warmup.StartLimit),
		zap.Int("daily_increment", warmup.DailyIncrement))
	return nil
}

func (r *TenantRepository) UpdateLimits(ctx context.Context, id uuid.UUID, dailyTargetLimit int, mode models.SendingMode) error {
	query := `UPDATE tenants SET daily_target_limit = $1, sending_mode = $2, updated_at = NOW() WHERE id = $3`

	result, err := r.db.Exec(ctx, query, dailyTargetLimit, mode, id)
	if err != nil {
		return fmt.Errorf("failed to update tenant limits: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrTenantNotFound, id)
	}

	r.logger.Info("Tenant limits updated",
		zap.String("id", id.String()),
		zap.Int("daily_target_limit", dailyTargetLimit),
		zap.String("sending_mode", string(mode)))
	return nil
}

// CountDeliveriesSince counts successful sends and draft-saves for a tenant since the given instant.
func (r *TenantRepository) CountDeliveriesSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE tenant_id = $1 AND delivered_at >= $2`,
		tenantID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return count, nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(
		&t.ID, &t.Name, &t.Active, &t.Mode, &t.SendingMode, &t.DailyTargetLimit,
		&t.Warmup.Enabled, &t.Warmup.StartLimit, &t.Warmup.DailyIncrement, &t.Warmup.StartedAt,
		&t.Mailbox.SenderName, &t.Mailbox.Username, &t.Mailbox.Password, &t.Mailbox.SMTPHost, &t.Mailbox.SMTPPort,
		&t.Mailbox.IMAPHost, &t.Mailbox.IMAPPort, &t.Mailbox.DraftsFolder, &t.Mailbox.HTMLFooter, &t.Mailbox.AttachmentPath,
		&t.Profile.Industry, &t.Profile.ValueProposition, &t.Profile.IdealCustomerProfile, &t.Profile.ToneOfVoice,
		&t.Profile.NegativeConstraints, &t.Profile.CaseStudies, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
