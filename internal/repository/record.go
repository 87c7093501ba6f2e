package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/followup"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/funnel"
)

const recordColumns = `
	id, tenant_id, campaign_id, company_name, domain, status, step_number,
	last_action_at, sent_at, replied_at, analysis_summary, draft_subject, draft_body,
	target_email, confidence_score, reply_content, reply_sentiment, reply_analysis,
	created_at, updated_at`

// Records that may still receive a reply or bounce.
var replyableStatuses = []string{
	string(models.StatusAnalyzed), string(models.StatusDrafted), string(models.StatusSent),
}

type RecordRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewRecordRepository(db *pgxpool.Pool, logger *zap.Logger) *RecordRepository {
	return &RecordRepository{
		db:     db,
		logger: logger,
	}
}

func (r *RecordRepository) Create(ctx context.Context, record *models.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = models.StatusNew
	}
	if record.StepNumber == 0 {
		record.StepNumber = 1
	}

	query := `
		INSERT INTO records (id, tenant_id, campaign_id, company_name, domain, status, step_number, analysis_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	row := r.db.QueryRow(ctx, query,
		record.ID, record.TenantID, record.CampaignID, record.CompanyName, record.Domain,
		record.Status, record.StepNumber, record.AnalysisSummary)

	if err := row.Scan(&record.CreatedAt, &record.UpdatedAt); err != nil {
		r.logger.Error("Failed to create record", zap.Error(err),
			zap.String("tenant_id", record.TenantID.String()),
			zap.String("domain", record.Domain))
		return fmt.Errorf("failed to create record: %w", err)
	}

	r.logger.Debug("Record created successfully", zap.String("id", record.ID.String()))
	return nil
}

func (r *RecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1`

	record, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

// NextByStatus returns the tenant's longest-waiting record in the given status, or nil.
func (r *RecordRepository) NextByStatus(ctx context.Context, tenantID uuid.UUID, status models.RecordStatus) (*models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE tenant_id = $1 AND status = $2
		ORDER BY updated_at ASC, created_at ASC
		LIMIT 1`

	record, err := scanRecord(r.db.QueryRow(ctx, query, tenantID, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find next %s record: %w", status, err)
	}

	return record, nil
}

// MarkSent moves a DRAFTED record to SENT and logs the delivery in one transaction.
// It reports false when the record was no longer DRAFTED at the expected step.
func (r *RecordRepository) MarkSent(ctx context.Context, record models.Record, mode models.SendingMode, at time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE records
		SET status = $1, sent_at = $2, last_action_at = $2, updated_at = NOW()
		WHERE id = $3 AND tenant_id = $4 AND status = $5 AND step_number = $6`,
		models.StatusSent, at, record.ID, record.TenantID, models.StatusDrafted, record.StepNumber)
	if err != nil {
		return false, fmt.Errorf("failed to mark record sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deliveries (tenant_id, record_id, step_number, mode, delivered_at)
		VALUES ($1, $2, $3, $4, $5)`,
		record.TenantID, record.ID, record.StepNumber, mode, at)
	if err != nil {
		return false, fmt.Errorf("failed to insert delivery: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit delivery: %w", err)
	}

	return true, nil
}

func (r *RecordRepository) ListFollowupCandidates(ctx context.Context, tenantID uuid.UUID, maxSteps int) ([]models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE tenant_id = $1 AND status = $2 AND step_number < $3 AND replied_at IS NULL
		ORDER BY COALESCE(sent_at, last_action_at) ASC`

	rows, err := r.db.Query(ctx, query, tenantID, models.StatusSent, maxSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to query follow-up candidates: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *RecordRepository) PromoteFollowup(ctx context.Context, p followup.Promotion) (bool, error) {
	if err := funnel.ValidateTransition(models.StatusSent, models.StatusAnalyzed); err != nil {
		return false, err
	}

	result, err := r.db.Exec(ctx, `
		UPDATE records
		SET status = $1, step_number = step_number + 1, last_action_at = $2,
			analysis_summary = analysis_summary || $3, updated_at = NOW()
		WHERE id = $4 AND tenant_id = $5 AND status = $6 AND step_number = $7
			AND step_number < $8 AND replied_at IS NULL`,
		models.StatusAnalyzed, p.At, p.Note, p.RecordID, p.TenantID, models.StatusSent, p.FromStep, models.MaxStepNumber)
	if err != nil {
		return false, fmt.Errorf("failed to promote record: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// SaveAnalysis writes the research result on a record that is still NEW.
func (r *RecordRepository) SaveAnalysis(ctx context.Context, id uuid.UUID, a models.Analysis) error {
	if err := funnel.ValidateTransition(models.StatusNew, a.Status); err != nil {
		return err
	}

	result, err := r.db.Exec(ctx, `
		UPDATE records
		SET status = $1, analysis_summary = $2, target_email = $3, confidence_score = $4,
			last_action_at = NOW(), updated_at = NOW()
		WHERE id = $5 AND status = $6`,
		a.Status, a.Summary, a.TargetEmail, a.ConfidenceScore, id, models.StatusNew)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer NEW", models.ErrStaleRecord, id)
	}

	return nil
}

// SaveDraft writes the drafting result on a record that is still ANALYZED.
func (r *RecordRepository) SaveDraft(ctx context.Context, id uuid.UUID, d models.Draft) error {
	if err := funnel.ValidateTransition(models.StatusAnalyzed, d.Status); err != nil {
		return err
	}

	result, err := r.db.Exec(ctx, `
		UPDATE records
		SET status = $1, draft_subject = $2, draft_body = $3, confidence_score = $4,
			last_action_at = NOW(), updated_at = NOW()
		WHERE id = $5 AND status = $6`,
		d.Status, d.Subject, d.Body, d.ConfidenceScore, id, models.StatusAnalyzed)
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer ANALYZED", models.ErrStaleRecord, id)
	}

	return nil
}

// TransitionStatus moves a record from one status to another if it is still in from.
func (r *RecordRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.RecordStatus) error {
	if err := funnel.ValidateTransition(from, to); err != nil {
		return err
	}

	result, err := r.db.Exec(ctx, `
		UPDATE records SET status = $1, last_action_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer %s", models.ErrStaleRecord, id, from)
	}

	r.logger.Info("Record status changed",
		zap.String("record_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

// FindReplyTarget matches an inbound sender to a record of the tenant that can still take a reply,
// by exact target email first and sender domain second.
func (r *RecordRepository) FindReplyTarget(ctx context.Context, tenantID uuid.UUID, sender string) (*models.Record, error) {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return nil, nil
	}

	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE tenant_id = $1 AND LOWER(target_email) = $2 AND replied_at IS NULL AND status = ANY($3)
		ORDER BY updated_at DESC
		LIMIT 1`

	record, err := scanRecord(r.db.QueryRow(ctx, query, tenantID, sender, replyableStatuses))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to match reply by email: %w", err)
	}

	domain := EmailDomain(sender)
	if domain == "" {
		return nil, nil
	}

	query = `
		SELECT ` + recordColumns + `
		FROM records
		WHERE tenant_id = $1 AND LOWER(domain) = $2 AND replied_at IS NULL AND status = ANY($3)
		ORDER BY updated_at DESC
		LIMIT 1`

	record, err = scanRecord(r.db.QueryRow(ctx, query, tenantID, domain, replyableStatuses))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to match reply by domain: %w", err)
	}

	return record, nil
}

// ListTrackedRecipients returns records that were contacted and have not replied, for bounce matching.
func (r *RecordRepository) ListTrackedRecipients(ctx context.Context, tenantID uuid.UUID) ([]models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE tenant_id = $1 AND status = $2 AND target_email <> '' AND replied_at IS NULL`

	rows, err := r.db.Query(ctx, query, tenantID, models.StatusSent)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked recipients: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// RecordReply stores an inbound reply once. It reports false if the record already has one
// or has left the reply-able statuses.
func (r *RecordRepository) RecordReply(ctx context.Context, record models.Record, reply models.Reply) (bool, error) {
	if err := funnel.ValidateTransition(record.Status, reply.Status); err != nil {
		return false, err
	}

	result, err := r.db.Exec(ctx, `
		UPDATE records
		SET status = $1, replied_at = $2, reply_content = $3, reply_sentiment = $4,
			reply_analysis = $5, last_action_at = $2, updated_at = NOW()
		WHERE id = $6 AND status = $7 AND replied_at IS NULL`,
		reply.Status, reply.RepliedAt, reply.Content, reply.Sentiment, reply.Analysis, record.ID, record.Status)
	if err != nil {
		return false, fmt.Errorf("failed to record reply: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *RecordRepository) DomainExists(ctx context.Context, tenantID uuid.UUID, domain string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE tenant_id = $1 AND LOWER(domain) = LOWER($2))`,
		tenantID, domain,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check domain: %w", err)
	}
	return exists, nil
}

func (r *RecordRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, filter models.RecordFilter, params models.PaginationParams) (*models.RecordListResponse, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 20 // Default limit
	}

	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	if params.Cursor != "" {
		cursor, err := parseCursor(params.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid cursor: %v", models.ErrInvalidRequest, err)
		}
		args = append(args, cursor)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	args = append(args, limit+1) // +1 to check if there's a next page
	query := fmt.Sprintf(`
		SELECT %s
		FROM records
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, recordColumns, strings.Join(conditions, " AND "), len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant records: %w", err)
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	return paginate(records, limit), nil
}

func paginate(records []models.Record, limit int) *models.RecordListResponse {
	response := &models.RecordListResponse{
		Data: records,
	}

	// Check if there's a next page and set cursor
	if len(records) > limit {
		response.Data = records[:limit]
		nextCursor := createCursor(records[limit-1].CreatedAt)
		response.NextCursor = &nextCursor
	}

	return response
}

func createCursor(timestamp time.Time) string {
	// Use Unix timestamp with nanoseconds for precision
	cursor := strconv.FormatInt(timestamp.UnixNano(), 10)
	return base64.URLEncoding.EncodeToString([]byte(cursor))
}

func parseCursor(cursor string) (time.Time, error) {
	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode cursor: %w", err)
	}

	timestamp, err := strconv.ParseInt(string(decoded), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	return time.Unix(0, timestamp), nil
}

// EmailDomain returns the lowercased part after the last @, or "".
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func collectRecords(rows pgx.Rows) ([]models.Record, error) {
	var records []models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

func scanRecord(row pgx.Row) (*models.Record, error) {
	var rec models.Record
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.CampaignID, &rec.CompanyName, &rec.Domain, &rec.Status, &rec.StepNumber,
		&rec.LastActionAt, &rec.SentAt, &rec.RepliedAt, &rec.AnalysisSummary, &rec.DraftSubject, &rec.DraftBody,
		&rec.TargetEmail, &rec.ConfidenceScore, &rec.ReplyContent, &rec.ReplySentiment, &rec.ReplyAnalysis,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
