// Package agent runs one decide-and-execute step for a single tenant.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/metrics"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/funnel"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/messaging"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/warmup"
)

// errDeliveryNotRecorded means the message went out but the record had moved on,
// so no delivery was counted.
var errDeliveryNotRecorded = errors.New("record changed during delivery, send not recorded")

type Outcome string

const (
	OutcomeWorked          Outcome = "worked"
	OutcomeIdle            Outcome = "idle"
	OutcomeInactive        Outcome = "inactive"
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
	OutcomeFailed          Outcome = "failed"
	OutcomeCancelled       Outcome = "cancelled"
)

type Result struct {
	Outcome  Outcome
	Action   funnel.Action
	RecordID uuid.UUID
	// Promoted counts follow-ups re-opened by hygiene in this cycle.
	Promoted int
	Limit    int
	Progress int
	// PaceFor is the post-send delay the runner must wait before the next cycle.
	PaceFor time.Duration
	Err     error
}

// DidWork reports whether the cycle changed any record.
func (r Result) DidWork() bool {
	return r.Outcome == OutcomeWorked || r.Promoted > 0
}

type TenantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	CountDeliveriesSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
}

type RecordStore interface {
	funnel.Finder
	MarkSent(ctx context.Context, record models.Record, mode models.SendingMode, at time.Time) (bool, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.RecordStatus) error
}

type FollowupPromoter interface {
	PromoteDue(ctx context.Context, tenantID uuid.UUID, now time.Time, cooldown time.Duration) (int, error)
}

type InboxChecker interface {
	CheckInbox(ctx context.Context, tenant models.Tenant) (int, error)
}

// Researcher and Drafter persist their own result and return the status the record ended in.
type Researcher interface {
	Research(ctx context.Context, tenant models.Tenant, record models.Record) (models.RecordStatus, error)
}

type Drafter interface {
	Draft(ctx context.Context, tenant models.Tenant, record models.Record) (models.RecordStatus, error)
}

// Deliverer sends or draft-saves a DRAFTED record according to the tenant's sending mode.
type Deliverer interface {
	Deliver(ctx context.Context, tenant models.Tenant, record models.Record) error
}

type Discoverer interface {
	Discover(ctx context.Context, tenant models.Tenant) (int, error)
}

type Dependencies struct {
	Tenants   TenantStore
	Records   RecordStore
	Followups FollowupPromoter
	Inbox     InboxChecker
	Research  Researcher
	Drafting  Drafter
	Delivery  Deliverer
	Discovery Discoverer
	Events    messaging.Publisher
}

type Config struct {
	FollowupCooldown time.Duration
	ActionTimeout    time.Duration
	InboxInterval    time.Duration
	DiscoveryEvery   int
	PostSendDelayMin time.Duration
	PostSendDelayMax time.Duration
	Location         *time.Location
}

type Cycle struct {
	deps      Dependencies
	cfg       Config
	throttle  *funnel.IdleThrottle
	inbox     *intervalGate
	exhausted *dayGate
	now       func() time.Time
	jitter    func(min, max time.Duration) time.Duration
	logger    *zap.Logger
}

func NewCycle(deps Dependencies, cfg Config, logger *zap.Logger) *Cycle {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Minute
	}
	if deps.Events == nil {
		deps.Events = messaging.NopPublisher{}
	}

	return &Cycle{
		deps:      deps,
		cfg:       cfg,
		throttle:  funnel.NewIdleThrottle(cfg.DiscoveryEvery),
		inbox:     newIntervalGate(cfg.InboxInterval),
		exhausted: newDayGate(),
		now:       time.Now,
		jitter:    randomBetween,
		logger:    logger,
	}
}

// Forget drops per-tenant counters once the tenant's runner is retired.
func (c *Cycle) Forget(tenantID uuid.UUID) {
	c.throttle.Forget(tenantID)
	c.inbox.Forget(tenantID)
	c.exhausted.Forget(tenantID)
}

// Run executes one cycle. It never panics and never returns an error; failures are
// folded into the Result. Cancellation of ctx is honoured only between steps, so a
// collaborator call that already started runs to completion and persists.
func (c *Cycle) Run(ctx context.Context, tenantID uuid.UUID) (res Result) {
	start := time.Now()
	logger := c.logger.With(zap.String("tenant_id", tenantID.String()))

	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			logger.Error("Tenant cycle panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			res = Result{Outcome: OutcomeFailed, Promoted: res.Promoted, Err: fmt.Errorf("cycle panic: %v", r)}
		}
		metrics.IncrementCycles(tenantID.String(), string(res.Outcome))
		metrics.RecordCycleDuration(tenantID.String(), time.Since(start).Seconds())
	}()

	return c.run(ctx, tenantID, logger)
}

func (c *Cycle) run(ctx context.Context, tenantID uuid.UUID, logger *zap.Logger) Result {
	if ctx.Err() != nil {
		return Result{Outcome: OutcomeCancelled}
	}

	tenant, err := c.loadTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, models.ErrTenantNotFound) {
			return Result{Outcome: OutcomeInactive}
		}
		logger.Error("Failed to load tenant", zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	if !tenant.Active {
		return Result{Outcome: OutcomeInactive}
	}

	now := c.now().In(c.cfg.Location)
	limit := warmup.EffectiveLimit(*tenant, now)
	progress, err := c.dailyProgress(ctx, tenantID, now)
	if err != nil {
		logger.Error("Failed to compute daily progress", zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	metrics.UpdateBudget(tenantID.String(), float64(limit), float64(progress))

	if progress >= limit {
		if c.exhausted.First(tenantID, now) {
			logger.Info("Daily budget exhausted", zap.Int("limit", limit), zap.Int("progress", progress))
			c.deps.Events.Publish(ctx, messaging.NewEvent(messaging.EventTenantBudgetExhausted, tenantID,
				map[string]interface{}{"limit": limit, "progress": progress}))
		}
		return Result{Outcome: OutcomeBudgetExhausted, Limit: limit, Progress: progress}
	}

	if ctx.Err() != nil {
		return Result{Outcome: OutcomeCancelled, Limit: limit, Progress: progress}
	}

	promoted := c.hygiene(ctx, *tenant, now, logger)
	res := Result{Promoted: promoted, Limit: limit, Progress: progress}

	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		return res
	}

	selectCtx, cancel := c.actionContext(ctx)
	decision, err := funnel.Select(selectCtx, c.deps.Records, tenantID)
	cancel()
	if err != nil {
		logger.Error("Failed to select next action", zap.Error(err))
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		return res
	}

	if decision.Action == funnel.ActionNone {
		return c.idle(ctx, *tenant, res, logger)
	}

	res.Action = decision.Action
	res.RecordID = decision.Record.ID
	return c.execute(ctx, *tenant, *decision.Record, now, res, logger)
}

func (c *Cycle) loadTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	actx, cancel := c.actionContext(ctx)
	defer cancel()
	return c.deps.Tenants.GetByID(actx, tenantID)
}

// dailyProgress is recomputed from persisted deliveries on every cycle.
func (c *Cycle) dailyProgress(ctx context.Context, tenantID uuid.UUID, now time.Time) (int, error) {
	actx, cancel := c.actionContext(ctx)
	defer cancel()
	return c.deps.Tenants.CountDeliveriesSince(actx, tenantID, warmup.StartOfDay(now))
}

// hygiene runs the inbox check and follow-up promotion. Neither can fail the cycle.
func (c *Cycle) hygiene(ctx context.Context, tenant models.Tenant, now time.Time, logger *zap.Logger) int {
	if c.deps.Inbox != nil && c.inbox.Due(tenant.ID, now) {
		c.guard(logger, "inbox", func() error {
			actx, cancel := c.actionContext(ctx)
			defer cancel()

			// the inbox publishes one event per reply it records
			handled, err := c.deps.Inbox.CheckInbox(actx, tenant)
			if handled > 0 {
				logger.Info("Inbox replies handled", zap.Int("count", handled))
			}
			return err
		})
	}

	if ctx.Err() != nil || c.deps.Followups == nil {
		return 0
	}

	promoted := 0
	c.guard(logger, "followup", func() error {
		actx, cancel := c.actionContext(ctx)
		defer cancel()

		var err error
		promoted, err = c.deps.Followups.PromoteDue(actx, tenant.ID, now, c.cfg.FollowupCooldown)
		if promoted > 0 {
			c.deps.Events.Publish(ctx, messaging.NewEvent(messaging.EventFollowupPromoted, tenant.ID,
				map[string]interface{}{"count": promoted}))
		}
		return err
	})
	return promoted
}

func (c *Cycle) guard(logger *zap.Logger, step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Hygiene step panicked",
				zap.String("step", step),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	if err := fn(); err != nil {
		logger.Warn("Hygiene step failed", zap.String("step", step), zap.Error(err))
	}
}

func (c *Cycle) idle(ctx context.Context, tenant models.Tenant, res Result, logger *zap.Logger) Result {
	res.Outcome = OutcomeIdle
	if res.Promoted > 0 {
		res.Outcome = OutcomeWorked
	}

	if c.deps.Discovery == nil || !c.throttle.Allow(tenant.ID) {
		return res
	}

	res.Action = funnel.ActionDiscover
	actx, cancel := c.actionContext(ctx)
	defer cancel()

	created, err := c.deps.Discovery.Discover(actx, tenant)
	if err != nil {
		if errors.Is(err, models.ErrCampaignNotFound) {
			logger.Debug("No active campaign to discover for")
			return res
		}
		metrics.IncrementActions(tenant.ID.String(), string(funnel.ActionDiscover), "failed")
		logger.Error("Discovery failed", zap.Error(err))
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	metrics.IncrementActions(tenant.ID.String(), string(funnel.ActionDiscover), "success")
	c.deps.Events.Publish(ctx, messaging.NewEvent(messaging.EventDiscoveryCompleted, tenant.ID,
		map[string]interface{}{"created": created}))
	if created > 0 {
		logger.Info("Discovery created records", zap.Int("count", created))
		res.Outcome = OutcomeWorked
	}
	return res
}

func (c *Cycle) execute(ctx context.Context, tenant models.Tenant, record models.Record, now time.Time, res Result, logger *zap.Logger) Result {
	logger = logger.With(
		zap.String("record_id", record.ID.String()),
		zap.String("action", string(res.Action)),
		zap.Int("step", record.StepNumber))

	actx, cancel := c.actionContext(ctx)
	defer cancel()

	var err error
	switch res.Action {
	case funnel.ActionDeliver:
		err = c.deliver(ctx, actx, tenant, record, now, &res, logger)
	case funnel.ActionDraft:
		err = c.advance(ctx, tenant, record, logger, func() (models.RecordStatus, error) {
			return c.deps.Drafting.Draft(actx, tenant, record)
		})
	case funnel.ActionResearch:
		err = c.advance(ctx, tenant, record, logger, func() (models.RecordStatus, error) {
			return c.deps.Research.Research(actx, tenant, record)
		})
	default:
		err = fmt.Errorf("unknown action %q", res.Action)
	}

	if err != nil {
		metrics.IncrementActions(tenant.ID.String(), string(res.Action), "failed")
		logger.Warn("Action failed, record left unchanged", zap.Error(err))
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	metrics.IncrementActions(tenant.ID.String(), string(res.Action), "success")
	res.Outcome = OutcomeWorked
	return res
}

func (c *Cycle) advance(ctx context.Context, tenant models.Tenant, record models.Record, logger *zap.Logger, call func() (models.RecordStatus, error)) error {
	status, err := call()
	if err != nil {
		return err
	}

	eventType := messaging.EventRecordAnalyzed
	switch status {
	case models.StatusDrafted:
		eventType = messaging.EventRecordDrafted
	case models.StatusManualCheck:
		eventType = messaging.EventRecordManualCheck
	}

	logger.Info("Record advanced", zap.String("status", string(status)))
	c.deps.Events.Publish(ctx, messaging.NewEvent(eventType, tenant.ID,
		map[string]interface{}{"status": status, "step": record.StepNumber}).ForRecord(record.ID))
	return nil
}

func (c *Cycle) deliver(ctx, actx context.Context, tenant models.Tenant, record models.Record, now time.Time, res *Result, logger *zap.Logger) error {
	err := c.deps.Delivery.Deliver(actx, tenant, record)
	if errors.Is(err, models.ErrInvalidRecipient) {
		// a bad address never heals on retry, park the record for an operator
		if terr := c.deps.Records.TransitionStatus(actx, record.ID, models.StatusDrafted, models.StatusManualCheck); terr != nil {
			return fmt.Errorf("failed to park record with invalid recipient: %w", terr)
		}
		logger.Warn("Invalid recipient, record moved to manual check", zap.Error(err))
		c.deps.Events.Publish(ctx, messaging.NewEvent(messaging.EventRecordManualCheck, tenant.ID,
			map[string]interface{}{"reason": err.Error()}).ForRecord(record.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to deliver record: %w", err)
	}

	sentAt := c.now()
	applied, err := c.deps.Records.MarkSent(actx, record, tenant.SendingMode, sentAt)
	if err != nil {
		return fmt.Errorf("failed to persist delivery: %w", err)
	}
	if !applied {
		logger.Warn("Record changed while delivering, SENT not applied")
		return errDeliveryNotRecorded
	}

	logger.Info("Record delivered", zap.String("mode", string(tenant.SendingMode)))
	c.deps.Events.Publish(ctx, messaging.NewEvent(messaging.EventRecordSent, tenant.ID,
		map[string]interface{}{"mode": tenant.SendingMode, "step": record.StepNumber}).ForRecord(record.ID))

	if tenant.SendingMode == models.SendingModeAuto {
		res.PaceFor = c.jitter(c.cfg.PostSendDelayMin, c.cfg.PostSendDelayMax)
	}
	return nil
}

// actionContext detaches collaborator calls from runner cancellation and bounds them.
func (c *Cycle) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ActionTimeout)
}

func randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}
