// Package scheduler keeps one runner per active tenant under a global cap on
// concurrent cycles, and restarts itself when the control loop fails.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/metrics"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/agent"
)

type TenantLister interface {
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

type CycleRunner interface {
	Run(ctx context.Context, tenantID uuid.UUID) agent.Result
	Forget(tenantID uuid.UUID)
}

type Config struct {
	MaxConcurrent    int
	Interval         time.Duration
	IdleBackoff      time.Duration
	ExhaustedBackoff time.Duration
	WorkPause        time.Duration
	Location         *time.Location
}

type Stats struct {
	MaxConcurrent   int           `json:"max_concurrent"`
	InFlight        int           `json:"in_flight"`
	TrackedRunners  int           `json:"tracked_runners"`
	RetiringRunners int           `json:"retiring_runners"`
	Runners         []RunnerStats `json:"runners"`
}

type RunnerStats struct {
	TenantID    uuid.UUID     `json:"tenant_id"`
	StartedAt   time.Time     `json:"started_at"`
	Cycles      int           `json:"cycles"`
	LastOutcome agent.Outcome `json:"last_outcome,omitempty"`
	LastCycleAt *time.Time    `json:"last_cycle_at,omitempty"`
	Retiring    bool          `json:"retiring"`
}

type Dispatcher struct {
	tenants TenantLister
	cycle   CycleRunner
	cfg     Config
	sem     *semaphore.Weighted
	logger  *zap.Logger

	mutex    sync.Mutex
	runners  map[uuid.UUID]*runner
	retiring map[uuid.UUID]*runner
	wg       sync.WaitGroup
	inFlight atomic.Int64
	now      func() time.Time
}

func NewDispatcher(tenants TenantLister, cycle CycleRunner, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &Dispatcher{
		tenants:  tenants,
		cycle:    cycle,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:   logger,
		runners:  make(map[uuid.UUID]*runner),
		retiring: make(map[uuid.UUID]*runner),
		now:      time.Now,
	}
}

// Run polls until ctx is done or a tick fails. Every runner it started is
// stopped, and its in-flight cycle finished, before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer d.stopAll(cancel)

	d.logger.Info("Dispatcher started",
		zap.Int("max_concurrent_agents", d.cfg.MaxConcurrent),
		zap.Duration("interval", d.cfg.Interval))

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := d.Tick(runCtx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one reconciliation pass: list, reap, retire, spawn.
func (d *Dispatcher) Tick(ctx context.Context) error {
	ids, err := d.tenants.ListActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active tenants: %w", err)
	}

	active := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.reap()

	for id, r := range d.runners {
		if _, ok := active[id]; ok {
			continue
		}
		r.cancel()
		delete(d.runners, id)
		d.retiring[id] = r
		d.logger.Info("Retiring tenant runner", zap.String("tenant_id", id.String()))
	}

	for _, id := range ids {
		if _, tracked := d.runners[id]; tracked {
			continue
		}
		if _, finishing := d.retiring[id]; finishing {
			// the old runner still has a cycle in flight
			continue
		}
		d.spawn(ctx, id)
	}

	metrics.UpdateTrackedRunners(float64(len(d.runners)))
	return nil
}

// reap drops finished runners. Caller holds d.mutex.
func (d *Dispatcher) reap() {
	for id, r := range d.runners {
		if !r.finished() {
			continue
		}
		delete(d.runners, id)
		if err := r.failure(); err != nil {
			metrics.RunnerCrashesTotal.Inc()
			d.logger.Error("Tenant runner crashed", zap.String("tenant_id", id.String()), zap.Error(err))
		} else {
			d.logger.Warn("Tenant runner exited", zap.String("tenant_id", id.String()))
		}
	}

	for id, r := range d.retiring {
		if !r.finished() {
			continue
		}
		delete(d.retiring, id)
		d.cycle.Forget(id)
		d.logger.Info("Tenant runner retired", zap.String("tenant_id", id.String()))
	}
}

// spawn starts a runner. Caller holds d.mutex.
func (d *Dispatcher) spawn(ctx context.Context, tenantID uuid.UUID) {
	runnerCtx, cancel := context.WithCancel(ctx)
	r := newRunner(tenantID, cancel, d.now())
	d.runners[tenantID] = r

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runTenant(runnerCtx, r)
	}()

	d.logger.Info("Tenant runner started", zap.String("tenant_id", tenantID.String()))
}

func (d *Dispatcher) stopAll(cancel context.CancelFunc) {
	cancel()
	d.wg.Wait()

	d.mutex.Lock()
	for id := range d.runners {
		d.cycle.Forget(id)
	}
	for id := range d.retiring {
		d.cycle.Forget(id)
	}
	d.runners = make(map[uuid.UUID]*runner)
	d.retiring = make(map[uuid.UUID]*runner)
	d.mutex.Unlock()

	metrics.UpdateTrackedRunners(0)
	d.logger.Info("Dispatcher stopped, all runners finished")
}

// InFlight is the number of cycles currently holding a slot.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

func (d *Dispatcher) Stats() Stats {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	stats := Stats{
		MaxConcurrent:   d.cfg.MaxConcurrent,
		InFlight:        d.InFlight(),
		TrackedRunners:  len(d.runners),
		RetiringRunners: len(d.retiring),
	}
	for _, r := range d.runners {
		stats.Runners = append(stats.Runners, r.stats(false))
	}
	for _, r := range d.retiring {
		stats.Runners = append(stats.Runners, r.stats(true))
	}
	sort.Slice(stats.Runners, func(i, j int) bool {
		return stats.Runners[i].StartedAt.Before(stats.Runners[j].StartedAt)
	})
	return stats
}
