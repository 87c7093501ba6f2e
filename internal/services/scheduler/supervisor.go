package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/metrics"
)

// Supervisor restarts the dispatcher from clean state whenever it fails.
type Supervisor struct {
	factory func() *Dispatcher
	backoff time.Duration
	onStart func(*Dispatcher)
	logger  *zap.Logger
}

func NewSupervisor(factory func() *Dispatcher, backoff time.Duration, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		factory: factory,
		backoff: backoff,
		onStart: func(*Dispatcher) {},
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for generation := 1; ; generation++ {
		err := s.runGeneration(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Supervisor stopped")
			return
		}
		if err == nil {
			err = fmt.Errorf("dispatcher exited unexpectedly")
		}

		metrics.SupervisorRestartsTotal.Inc()
		s.logger.Error("Dispatcher failed, restarting after backoff",
			zap.Error(err),
			zap.Int("generation", generation),
			zap.Duration("backoff", s.backoff))

		if !sleepCtx(ctx, s.backoff) {
			s.logger.Info("Supervisor stopped")
			return
		}
	}
}

func (s *Supervisor) runGeneration(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			sentry.Flush(2 * time.Second)
			s.logger.Error("Dispatcher panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()

	d := s.factory()
	s.onStart(d)
	return d.Run(ctx)
}
