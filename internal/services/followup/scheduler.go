// Package followup re-opens sent records that never got a reply.
package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/metrics"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

// Promotion moves one SENT record back to ANALYZED at FromStep+1. Stores must
// apply it only while the record is still SENT at FromStep with no reply.
type Promotion struct {
	RecordID uuid.UUID
	TenantID uuid.UUID
	FromStep int
	At       time.Time
	Note     string
}

type Store interface {
	ListFollowupCandidates(ctx context.Context, tenantID uuid.UUID, maxSteps int) ([]models.Record, error)
	PromoteFollowup(ctx context.Context, p Promotion) (bool, error)
}

type Scheduler struct {
	store    Store
	maxSteps int
	logger   *zap.Logger
}

func NewScheduler(store Store, maxSteps int, logger *zap.Logger) *Scheduler {
	if maxSteps <= 0 || maxSteps > models.MaxStepNumber {
		maxSteps = models.MaxStepNumber
	}
	return &Scheduler{
		store:    store,
		maxSteps: maxSteps,
		logger:   logger,
	}
}

// IsDue reports whether a record should be promoted for a reminder.
func IsDue(r models.Record, now time.Time, cooldown time.Duration, maxSteps int) bool {
	if r.Status != models.StatusSent || r.RepliedAt != nil {
		return false
	}
	if r.StepNumber >= maxSteps || r.StepNumber >= models.MaxStepNumber {
		return false
	}
	last := r.LastTouch()
	if last == nil {
		return false
	}
	return now.Sub(*last) > cooldown
}

// ReminderNote is appended to the analysis so drafting writes a reminder
// instead of another opener.
func ReminderNote(fromStep int) string {
	return fmt.Sprintf("\n[FOLLOW-UP: no reply after message %d, write reminder %d as a short bump]", fromStep, fromStep+1)
}

// PromoteDue promotes every due record of a tenant and returns how many moved.
func (s *Scheduler) PromoteDue(ctx context.Context, tenantID uuid.UUID, now time.Time, cooldown time.Duration) (int, error) {
	candidates, err := s.store.ListFollowupCandidates(ctx, tenantID, s.maxSteps)
	if err != nil {
		return 0, fmt.Errorf("failed to list follow-up candidates: %w", err)
	}

	promoted := 0
	for _, record := range candidates {
		if !IsDue(record, now, cooldown, s.maxSteps) {
			continue
		}

		ok, err := s.store.PromoteFollowup(ctx, Promotion{
			RecordID: record.ID,
			TenantID: tenantID,
			FromStep: record.StepNumber,
			At:       now,
			Note:     ReminderNote(record.StepNumber),
		})
		if err != nil {
			return promoted, fmt.Errorf("failed to promote record %s: %w", record.ID, err)
		}
		if !ok {
			// replied or promoted by someone else in the meantime
			s.logger.Debug("Follow-up promotion skipped",
				zap.String("tenant_id", tenantID.String()),
				zap.String("record_id", record.ID.String()))
			continue
		}

		promoted++
		metrics.IncrementFollowupPromotions(tenantID.String())
		s.logger.Info("Record promoted for follow-up",
			zap.String("tenant_id", tenantID.String()),
			zap.String("record_id", record.ID.String()),
			zap.Int("step", record.StepNumber+1))
	}

	return promoted, nil
}
