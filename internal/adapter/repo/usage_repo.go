package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/sqlinline"
)

// UsageRepositoryPG implements domain.UsageRepository over enterprise_api_usage.
type UsageRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewUsageRepository(sql infra.SQLExecutor) *UsageRepositoryPG {
	return &UsageRepositoryPG{sql: sql}
}

func (r *UsageRepositoryPG) CountInBucket(ctx context.Context, apiKeyID string, bucket time.Time) (int, error) {
	var n int
	if err := r.sql.QueryRow(ctx, sqlinline.QCountUsageInBucket, apiKeyID, bucket.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// Insert relies on the unique (api_key_id, request_id) constraint; a conflict yields false.
func (r *UsageRepositoryPG) Insert(ctx context.Context, rec *domain.UsageRecord) (bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertUsage,
		rec.APIKeyID,
		rec.Endpoint,
		rec.IP,
		rec.UserAgent,
		rec.Country,
		rec.RequestID,
		rec.MinuteBucket.UTC(),
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		if infra.IsNoRows(err) || infra.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert usage: %w", err)
	}
	return true, nil
}

func (r *UsageRepositoryPG) FindByRequest(ctx context.Context, apiKeyID, requestID string) (*domain.UsageRecord, error) {
	var rec domain.UsageRecord
	err := r.sql.QueryRow(ctx, sqlinline.QSelectUsageByRequest, apiKeyID, requestID).Scan(
		&rec.ID,
		&rec.APIKeyID,
		&rec.Endpoint,
		&rec.IP,
		&rec.UserAgent,
		&rec.Country,
		&rec.RequestID,
		&rec.MinuteBucket,
		&rec.BatchJobID,
		&rec.CreatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select usage: %w", err)
	}
	return &rec, nil
}

func (r *UsageRepositoryPG) LinkBatch(ctx context.Context, apiKeyID, requestID, batchID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QLinkUsageBatch, apiKeyID, requestID, batchID)
	if err != nil {
		return fmt.Errorf("link usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("link usage: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes an unlinked usage row so a failed request can be retried with the same id.
func (r *UsageRepositoryPG) Delete(ctx context.Context, apiKeyID, requestID string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QDeleteUsage, apiKeyID, requestID); err != nil {
		return fmt.Errorf("delete usage: %w", err)
	}
	return nil
}

// IncrementDaily bumps the per-day counters through increment_usage_daily.
func (r *UsageRepositoryPG) IncrementDaily(ctx context.Context, apiKeyID string, day time.Time, items int) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QIncrementUsageDaily, apiKeyID, day.UTC().Format(time.DateOnly), items); err != nil {
		return fmt.Errorf("increment usage daily: %w", err)
	}
	return nil
}

var _ domain.UsageRepository = (*UsageRepositoryPG)(nil)
