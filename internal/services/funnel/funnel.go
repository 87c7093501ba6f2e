// Package funnel holds the record lifecycle and the rule for picking a
// tenant's next action.
package funnel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

type Action string

const (
	ActionNone     Action = "none"
	ActionDeliver  Action = "deliver"
	ActionDraft    Action = "draft"
	ActionResearch Action = "research"
	ActionDiscover Action = "discover"
)

// priority lists actionable statuses, nearest to done first.
var priority = []struct {
	status models.RecordStatus
	action Action
}{
	{models.StatusDrafted, ActionDeliver},
	{models.StatusAnalyzed, ActionDraft},
	{models.StatusNew, ActionResearch},
}

var transitions = map[models.RecordStatus][]models.RecordStatus{
	models.StatusNew: {
		models.StatusAnalyzed, models.StatusManualCheck, models.StatusNotInterested,
	},
	models.StatusAnalyzed: {
		models.StatusDrafted, models.StatusManualCheck,
		models.StatusHotLead, models.StatusNotInterested, models.StatusReplied, models.StatusBounced,
	},
	models.StatusDrafted: {
		models.StatusSent, models.StatusManualCheck,
		models.StatusHotLead, models.StatusNotInterested, models.StatusReplied, models.StatusBounced,
	},
	models.StatusSent: {
		models.StatusAnalyzed, models.StatusManualCheck,
		models.StatusHotLead, models.StatusNotInterested, models.StatusReplied, models.StatusBounced,
	},
}

// ActionFor maps an actionable status to the work it needs.
func ActionFor(status models.RecordStatus) (Action, bool) {
	for _, p := range priority {
		if p.status == status {
			return p.action, true
		}
	}
	return ActionNone, false
}

// Priority returns the actionable statuses in selection order.
func Priority() []models.RecordStatus {
	statuses := make([]models.RecordStatus, len(priority))
	for i, p := range priority {
		statuses[i] = p.status
	}
	return statuses
}

func CanTransition(from, to models.RecordStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidateTransition(from, to models.RecordStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}

// Finder loads the oldest record of a tenant in a status, or nil if none.
type Finder interface {
	NextByStatus(ctx context.Context, tenantID uuid.UUID, status models.RecordStatus) (*models.Record, error)
}

type Decision struct {
	Action Action
	Record *models.Record
}

// Select applies the priority rule. When nothing is actionable the decision is
// ActionNone and the caller decides whether discovery is due.
func Select(ctx context.Context, finder Finder, tenantID uuid.UUID) (Decision, error) {
	for _, p := range priority {
		record, err := finder.NextByStatus(ctx, tenantID, p.status)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to look up %s record: %w", p.status, err)
		}
		if record != nil {
			return Decision{Action: p.action, Record: record}, nil
		}
	}
	return Decision{Action: ActionNone}, nil
}

// IdleThrottle lets discovery run on every Nth idle cycle of a tenant.
type IdleThrottle struct {
	every  int
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

func NewIdleThrottle(every int) *IdleThrottle {
	if every < 1 {
		every = 1
	}
	return &IdleThrottle{
		every:  every,
		counts: make(map[uuid.UUID]int),
	}
}

// Allow records one idle cycle and reports whether discovery should run now.
func (t *IdleThrottle) Allow(tenantID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[tenantID]++
	if t.counts[tenantID] >= t.every {
		t.counts[tenantID] = 0
		return true
	}
	return false
}

// Forget drops the counter of a tenant that is no longer scheduled.
func (t *IdleThrottle) Forget(tenantID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, tenantID)
}
