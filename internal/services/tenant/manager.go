// Package tenant is the operator-facing admin service over tenants and their records.
package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/messaging"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/scheduler"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/warmup"
)

type TenantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetAll(ctx context.Context) ([]models.Tenant, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	UpdateWarmup(ctx context.Context, id uuid.UUID, cfg models.WarmupConfig) error
	UpdateLimits(ctx context.Context, id uuid.UUID, dailyTargetLimit int, mode models.SendingMode) error
	CountDeliveriesSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
}

type RecordRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, filter models.RecordFilter, params models.PaginationParams) (*models.RecordListResponse, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.RecordStatus) error
}

// RunnerStats is satisfied by *scheduler.Service.
type RunnerStats interface {
	Stats() scheduler.Stats
}

type Manager struct {
	tenantRepo TenantRepository
	recordRepo RecordRepository
	runners    RunnerStats
	events     messaging.Publisher
	location   *time.Location
	logger     *zap.Logger
	now        func() time.Time
}

func NewManager(
	tenantRepo TenantRepository,
	recordRepo RecordRepository,
	runners RunnerStats,
	events messaging.Publisher,
	location *time.Location,
	logger *zap.Logger,
) *Manager {
	if location == nil {
		location = time.Local
	}
	return &Manager{
		tenantRepo: tenantRepo,
		recordRepo: recordRepo,
		runners:    runners,
		events:     events,
		location:   location,
		logger:     logger,
		now:        time.Now,
	}
}

func (m *Manager) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return m.tenantRepo.GetByID(ctx, id)
}

func (m *Manager) GetAllTenants(ctx context.Context) ([]models.Tenant, error) {
	return m.tenantRepo.GetAll(ctx)
}

// PauseTenant deactivates a tenant. Its runner is retired on the next dispatcher tick.
func (m *Manager) PauseTenant(ctx context.Context, id uuid.UUID) error {
	if err := m.tenantRepo.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("failed to pause tenant: %w", err)
	}
	m.logger.Info("Tenant paused", zap.String("tenant_id", id.String()))
	return nil
}

func (m *Manager) ResumeTenant(ctx context.Context, id uuid.UUID) error {
	if err := m.tenantRepo.SetActive(ctx, id, true); err != nil {
		return fmt.Errorf("failed to resume tenant: %w", err)
	}
	m.logger.Info("Tenant resumed", zap.String("tenant_id", id.String()))
	return nil
}

func (m *Manager) UpdateWarmup(ctx context.Context, id uuid.UUID, req *models.UpdateWarmupRequest) (*models.Tenant, error) {
	tenant, err := m.tenantRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cfg := tenant.Warmup
	if req.StartLimit != nil {
		cfg.StartLimit = *req.StartLimit
	}
	if req.DailyIncrement != nil {
		cfg.DailyIncrement = *req.DailyIncrement
	}
	cfg = warmup.ApplyToggle(cfg, req.Enabled, m.now())

	if err := m.tenantRepo.UpdateWarmup(ctx, id, cfg); err != nil {
		return nil, fmt.Errorf("failed to update warmup: %w", err)
	}

	tenant.Warmup = cfg
	return tenant, nil
}

func (m *Manager) UpdateLimits(ctx context.Context, id uuid.UUID, req *models.UpdateLimitsRequest) (*models.Tenant, error) {
	tenant, err := m.tenantRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	limit, mode := tenant.DailyTargetLimit, tenant.SendingMode
	if req.DailyTargetLimit != nil {
		limit = *req.DailyTargetLimit
	}
	if req.SendingMode != "" {
		if !req.SendingMode.Valid() {
			return nil, fmt.Errorf("%w: invalid sending mode %q", models.ErrInvalidRequest, req.SendingMode)
		}
		mode = req.SendingMode
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: daily target limit must not be negative", models.ErrInvalidRequest)
	}

	if err := m.tenantRepo.UpdateLimits(ctx, id, limit, mode); err != nil {
		return nil, fmt.Errorf("failed to update limits: %w", err)
	}

	tenant.DailyTargetLimit, tenant.SendingMode = limit, mode
	return tenant, nil
}

// GetTenantStats reports today's budget for every tenant next to its runner state.
func (m *Manager) GetTenantStats(ctx context.Context) (*Overview, error) {
	tenants, err := m.tenantRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenants: %w", err)
	}

	now := m.now().In(m.location)
	dayStart := warmup.StartOfDay(now)

	sched := m.runners.Stats()
	byTenant := make(map[uuid.UUID]scheduler.RunnerStats, len(sched.Runners))
	for _, r := range sched.Runners {
		// prefer the live runner over a retiring one
		if existing, ok := byTenant[r.TenantID]; ok && !existing.Retiring {
			continue
		}
		byTenant[r.TenantID] = r
	}

	overview := &Overview{
		MaxConcurrent:   sched.MaxConcurrent,
		InFlight:        sched.InFlight,
		TrackedRunners:  sched.TrackedRunners,
		RetiringRunners: sched.RetiringRunners,
		Tenants:         make([]TenantStats, 0, len(tenants)),
	}

	for _, t := range tenants {
		progress, err := m.tenantRepo.CountDeliveriesSince(ctx, t.ID, dayStart)
		if err != nil {
			return nil, fmt.Errorf("failed to count progress for tenant %s: %w", t.ID, err)
		}

		stats := TenantStats{
			TenantID:       t.ID,
			Name:           t.Name,
			Active:         t.Active,
			SendingMode:    t.SendingMode,
			EffectiveLimit: warmup.EffectiveLimit(t, now),
			DailyProgress:  progress,
		}
		if r, ok := byTenant[t.ID]; ok {
			runner := r
			stats.Runner = &runner
		}
		overview.Tenants = append(overview.Tenants, stats)
	}

	return overview, nil
}

func (m *Manager) GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	return m.recordRepo.GetByID(ctx, id)
}

func (m *Manager) ListRecords(ctx context.Context, tenantID uuid.UUID, filter models.RecordFilter, params models.PaginationParams) (*models.RecordListResponse, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownStatus, filter.Status)
	}
	if _, err := m.tenantRepo.GetByID(ctx, tenantID); err != nil {
		return nil, err
	}
	return m.recordRepo.ListByTenant(ctx, tenantID, filter, params)
}

// MarkManualCheck parks a non-terminal record for operator triage.
func (m *Manager) MarkManualCheck(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	record, err := m.recordRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status.Terminal() {
		return nil, fmt.Errorf("%w: record is already %s", models.ErrInvalidTransition, record.Status)
	}

	if err := m.recordRepo.TransitionStatus(ctx, id, record.Status, models.StatusManualCheck); err != nil {
		return nil, fmt.Errorf("failed to mark record for manual check: %w", err)
	}

	m.events.Publish(ctx, messaging.NewEvent(messaging.EventRecordManualCheck, record.TenantID, map[string]interface{}{
		"from":   string(record.Status),
		"reason": "operator",
	}).ForRecord(record.ID))

	m.logger.Info("Record marked for manual check",
		zap.String("record_id", id.String()),
		zap.String("tenant_id", record.TenantID.String()),
		zap.String("from", string(record.Status)))

	record.Status = models.StatusManualCheck
	return record, nil
}

type Overview struct {
	MaxConcurrent   int           `json:"max_concurrent"`
	InFlight        int           `json:"in_flight"`
	TrackedRunners  int           `json:"tracked_runners"`
	RetiringRunners int           `json:"retiring_runners"`
	Tenants         []TenantStats `json:"tenants"`
}

type TenantStats struct {
	TenantID       uuid.UUID              `json:"tenant_id"`
	Name           string                 `json:"name"`
	Active         bool                   `json:"active"`
	SendingMode    models.SendingMode     `json:"sending_mode"`
	EffectiveLimit int                    `json:"effective_limit"`
	DailyProgress  int                    `json:"daily_progress"`
	Runner         *scheduler.RunnerStats `json:"runner,omitempty"`
}
