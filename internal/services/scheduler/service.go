package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Service owns the supervised scheduling core for the lifetime of the process.
type Service struct {
	supervisor *Supervisor
	current    atomic.Pointer[Dispatcher]
	cancel     context.CancelFunc
	done       chan struct{}
	mutex      sync.Mutex
	logger     *zap.Logger
}

func NewService(tenants TenantLister, cycle CycleRunner, cfg Config, supervisorBackoff time.Duration, logger *zap.Logger) *Service {
	s := &Service{logger: logger}
	s.supervisor = NewSupervisor(func() *Dispatcher {
		return NewDispatcher(tenants, cycle, cfg, logger)
	}, supervisorBackoff, logger)
	s.supervisor.onStart = func(d *Dispatcher) { s.current.Store(d) }
	return s
}

func (s *Service) Start(ctx context.Context) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.done != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.supervisor.Run(runCtx)
	}()

	s.logger.Info("Scheduler started")
}

// Stop cancels every runner and waits for in-flight cycles, or until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mutex.Lock()
	cancel, done := s.cancel, s.done
	s.mutex.Unlock()

	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler did not stop in time", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// Stats reports the current dispatcher generation, or zero values before the first one starts.
func (s *Service) Stats() Stats {
	d := s.current.Load()
	if d == nil {
		return Stats{}
	}
	return d.Stats()
}
