package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

type SearchHistoryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSearchHistoryRepository(db *pgxpool.Pool, logger *zap.Logger) *SearchHistoryRepository {
	return &SearchHistoryRepository{
		db:     db,
		logger: logger,
	}
}

// SearchedSince reports whether the tenant already ran the query at or after since.
func (r *SearchHistoryRepository) SearchedSince(ctx context.Context, tenantID uuid.UUID, query string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM search_history
			WHERE tenant_id = $1 AND LOWER(query_text) = $2 AND searched_at >= $3
		)`,
		tenantID, strings.ToLower(strings.TrimSpace(query)), since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check search history: %w", err)
	}
	return exists, nil
}

func (r *SearchHistoryRepository) Record(ctx context.Context, entry models.SearchEntry) error {
	if entry.SearchedAt.IsZero() {
		entry.SearchedAt = time.Now()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO search_history (tenant_id, query_text, results_found, searched_at)
		VALUES ($1, $2, $3, $4)`,
		entry.TenantID, strings.TrimSpace(entry.QueryText), entry.ResultsFound, entry.SearchedAt)
	if err != nil {
		return fmt.Errorf("failed to record search: %w", err)
	}
	return nil
}
