package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/metrics"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/agent"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/warmup"
)

// runner is the long-lived loop of one tenant.
type runner struct {
	tenantID  uuid.UUID
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mutex       sync.Mutex
	err         error
	cycles      int
	lastOutcome agent.Outcome
	lastCycleAt *time.Time
}

func newRunner(tenantID uuid.UUID, cancel context.CancelFunc, now time.Time) *runner {
	return &runner{
		tenantID:  tenantID,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: now,
	}
}

func (r *runner) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *runner) failure() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.err
}

func (r *runner) record(res agent.Result, at time.Time) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.cycles++
	r.lastOutcome = res.Outcome
	r.lastCycleAt = &at
}

func (r *runner) stats(retiring bool) RunnerStats {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return RunnerStats{
		TenantID:    r.tenantID,
		StartedAt:   r.startedAt,
		Cycles:      r.cycles,
		LastOutcome: r.lastOutcome,
		LastCycleAt: r.lastCycleAt,
		Retiring:    retiring,
	}
}

func (d *Dispatcher) runTenant(ctx context.Context, r *runner) {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("runner panic: %v", p)
			sentry.CaptureException(err)
			d.logger.Error("Tenant runner panicked",
				zap.String("tenant_id", r.tenantID.String()),
				zap.Any("panic", p),
				zap.Stack("stack"))
			r.mutex.Lock()
			r.err = err
			r.mutex.Unlock()
		}
	}()

	for {
		res, ok := d.runOnce(ctx, r.tenantID)
		if !ok {
			return
		}
		r.record(res, d.now())

		if res.Outcome == agent.OutcomeCancelled {
			return
		}
		if !sleepCtx(ctx, d.backoff(res)) {
			return
		}
	}
}

// runOnce holds a concurrency slot for exactly one cycle. It reports false when
// ctx ended while waiting for a slot.
func (d *Dispatcher) runOnce(ctx context.Context, tenantID uuid.UUID) (agent.Result, bool) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return agent.Result{}, false
	}
	defer d.sem.Release(1)

	d.inFlight.Add(1)
	metrics.InFlightCycles.Inc()
	defer func() {
		d.inFlight.Add(-1)
		metrics.InFlightCycles.Dec()
	}()

	return d.cycle.Run(ctx, tenantID), true
}

// backoff picks the pause after a cycle. Pacing after a live send is added on top
// and is served outside the slot.
func (d *Dispatcher) backoff(res agent.Result) time.Duration {
	switch {
	case res.DidWork():
		return d.cfg.WorkPause + res.PaceFor
	case res.Outcome == agent.OutcomeBudgetExhausted:
		now := d.now().In(d.cfg.Location)
		untilReset := warmup.NextDay(now).Sub(now)
		return min(d.cfg.ExhaustedBackoff, untilReset)
	default:
		return d.cfg.IdleBackoff
	}
}

func sleepCtx(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
