// Package writer drafts the email for an ANALYZED record and has it audited
// against the company snapshot before it is queued for delivery.
package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/llm"
)

const (
	defaultDecisionMaker = "Team"
	confidencePassed     = 90
	confidenceFailed     = 40
)

type Model interface {
	WriteEmail(ctx context.Context, req llm.WriteRequest) (*llm.EmailDraft, error)
	AuditEmail(ctx context.Context, draft llm.EmailDraft, company models.Company) (*llm.AuditResult, error)
}

type CompanyStore interface {
	GetByDomain(ctx context.Context, domain string) (*models.Company, error)
}

type RecordStore interface {
	SaveDraft(ctx context.Context, id uuid.UUID, d models.Draft) error
}

type Service struct {
	model     Model
	companies CompanyStore
	records   RecordStore
	logger    *zap.Logger
}

func NewService(model Model, companies CompanyStore, records RecordStore, logger *zap.Logger) *Service {
	return &Service{model: model, companies: companies, records: records, logger: logger}
}

// Draft writes and audits the email for the record's current step. A draft that
// fails the audit twice is kept but the record goes to MANUAL_CHECK.
func (s *Service) Draft(ctx context.Context, tenant models.Tenant, record models.Record) (models.RecordStatus, error) {
	logger := s.logger.With(
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("record_id", record.ID.String()),
		zap.Int("step", record.StepNumber))

	company, err := s.company(ctx, record)
	if err != nil {
		return "", err
	}

	req := llm.WriteRequest{
		Tenant:        tenant,
		Company:       company,
		DecisionMaker: DecisionMaker(company.DecisionMakers),
		Analysis:      record.AnalysisSummary,
		Step:          record.StepNumber,
	}

	draft, err := s.model.WriteEmail(ctx, req)
	if err != nil {
		return "", err
	}
	audit, err := s.model.AuditEmail(ctx, *draft, company)
	if err != nil {
		return "", err
	}

	if !audit.Passed {
		logger.Info("Draft rejected by audit, rewriting", zap.String("feedback", audit.Feedback))

		req.Feedback = audit.Feedback
		draft, err = s.model.WriteEmail(ctx, req)
		if err != nil {
			return "", err
		}
		audit, err = s.model.AuditEmail(ctx, *draft, company)
		if err != nil {
			return "", err
		}
	}

	result := models.Draft{
		Status:          models.StatusDrafted,
		Subject:         draft.Subject,
		Body:            draft.Body,
		ConfidenceScore: confidencePassed,
	}
	if !audit.Passed {
		logger.Warn("Draft failed audit twice, needs manual check",
			zap.String("feedback", audit.Feedback),
			zap.Strings("hallucinations", audit.Hallucinations))
		result.Status = models.StatusManualCheck
		result.ConfidenceScore = confidenceFailed
	}

	if err := s.records.SaveDraft(ctx, record.ID, result); err != nil {
		return "", err
	}
	return result.Status, nil
}

func (s *Service) company(ctx context.Context, record models.Record) (models.Company, error) {
	c, err := s.companies.GetByDomain(ctx, record.Domain)
	if err != nil {
		return models.Company{}, fmt.Errorf("failed to load company: %w", err)
	}
	if c == nil {
		return models.Company{Domain: record.Domain, Name: record.CompanyName}, nil
	}
	if c.Name == "" {
		c.Name = record.CompanyName
	}
	return *c, nil
}

// DecisionMaker returns the name of the first listed decision maker, without
// the "(Role)" suffix.
func DecisionMaker(makers []string) string {
	for _, m := range makers {
		name, _, _ := strings.Cut(m, "(")
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return defaultDecisionMaker
}
