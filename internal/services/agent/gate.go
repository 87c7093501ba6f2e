package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/warmup"
)

// intervalGate lets a per-tenant step run at most once per interval.
type intervalGate struct {
	mutex    sync.Mutex
	interval time.Duration
	last     map[uuid.UUID]time.Time
}

func newIntervalGate(interval time.Duration) *intervalGate {
	return &intervalGate{
		interval: interval,
		last:     make(map[uuid.UUID]time.Time),
	}
}

// Due reports whether the step may run now and, if so, marks it as run.
func (g *intervalGate) Due(tenantID uuid.UUID, now time.Time) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if last, ok := g.last[tenantID]; ok && now.Sub(last) < g.interval {
		return false
	}
	g.last[tenantID] = now
	return true
}

func (g *intervalGate) Forget(tenantID uuid.UUID) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	delete(g.last, tenantID)
}

// dayGate fires once per tenant per calendar day.
type dayGate struct {
	mutex sync.Mutex
	days  map[uuid.UUID]time.Time
}

func newDayGate() *dayGate {
	return &dayGate{days: make(map[uuid.UUID]time.Time)}
}

func (g *dayGate) First(tenantID uuid.UUID, now time.Time) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	day := warmup.StartOfDay(now)
	if seen, ok := g.days[tenantID]; ok && seen.Equal(day) {
		return false
	}
	g.days[tenantID] = day
	return true
}

func (g *dayGate) Forget(tenantID uuid.UUID) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	delete(g.days, tenantID)
}
