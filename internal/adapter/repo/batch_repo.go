package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/sqlinline"
)

// BatchRepositoryPG implements domain.BatchRepository and the worker store on top of the SQL runner.
type BatchRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewBatchRepository creates a batch repository backed by PostgreSQL.
func NewBatchRepository(sql infra.SQLExecutor) *BatchRepositoryPG {
	return &BatchRepositoryPG{sql: sql}
}

// CreateBatch inserts a queued batch with zeroed counters and no frozen credits.
func (r *BatchRepositoryPG) CreateBatch(ctx context.Context, b *domain.BatchJob) error {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertBatch,
		b.ID,
		b.UserID,
		b.RequestID,
		string(b.Source),
		b.TotalCount,
		b.CostPerVideo,
		b.WebhookURL,
	)
	var createdAt time.Time
	if err := row.Scan(&createdAt); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	b.Status = domain.BatchStatusQueued
	b.SuccessCount, b.FailedCount = 0, 0
	b.FrozenCredits, b.CreditsSpent = 0, 0
	b.SettlementStatus = domain.SettlementPending
	b.CreatedAt = createdAt
	return nil
}

// CreateTasks bulk inserts tasks; all of them must belong to the same batch.
func (r *BatchRepositoryPG) CreateTasks(ctx context.Context, tasks []domain.VideoTask) error {
	if len(tasks) == 0 {
		return nil
	}
	n := len(tasks)
	var (
		ids       = make([]string, n)
		indexes   = make([]int32, n)
		prompts   = make([]string, n)
		models    = make([]string, n)
		aspects   = make([]string, n)
		durations = make([]string, n)
		refs      = make([]string, n)
		metas     = make([]string, n)
	)
	userID, batchID := tasks[0].UserID, tasks[0].BatchJobID
	for i, t := range tasks {
		if t.BatchJobID != batchID {
			return fmt.Errorf("insert tasks: task %d belongs to batch %s, want %s", i, t.BatchJobID, batchID)
		}
		ids[i] = t.ID
		indexes[i] = int32(t.BatchIndex)
		prompts[i] = t.Prompt
		models[i] = t.Model
		aspects[i] = t.AspectRatio
		durations[i] = t.Duration
		refs[i] = t.ReferenceURL
		metas[i] = string(t.Meta)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QInsertTasks,
		userID, batchID, ids, indexes, prompts, models, aspects, durations, refs, metas,
	)
	if err != nil {
		return fmt.Errorf("insert tasks: %w", err)
	}
	if int(tag.RowsAffected()) != n {
		return fmt.Errorf("insert tasks: inserted %d of %d rows", tag.RowsAffected(), n)
	}
	return nil
}

func (r *BatchRepositoryPG) DeleteTasks(ctx context.Context, batchID string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QDeleteTasksForBatch, batchID); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

func (r *BatchRepositoryPG) DeleteBatch(ctx context.Context, batchID string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QDeleteBatch, batchID); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

// GetBatch fetches a batch by id regardless of owner.
func (r *BatchRepositoryPG) GetBatch(ctx context.Context, batchID string) (*domain.BatchJob, error) {
	return scanBatch(r.sql.QueryRow(ctx, sqlinline.QSelectBatch, batchID))
}

// GetBatchForUser fetches a batch only if userID owns it.
func (r *BatchRepositoryPG) GetBatchForUser(ctx context.Context, batchID, userID string) (*domain.BatchJob, error) {
	return scanBatch(r.sql.QueryRow(ctx, sqlinline.QSelectBatchForUser, batchID, userID))
}

// FindBatchByRequest returns the completed batch userID submitted under requestID.
func (r *BatchRepositoryPG) FindBatchByRequest(ctx context.Context, userID, requestID string) (*domain.BatchJob, error) {
	return scanBatch(r.sql.QueryRow(ctx, sqlinline.QSelectSettledBatchByRequest, userID, requestID))
}

// ListTasks returns the tasks of a batch ordered by batch_index.
func (r *BatchRepositoryPG) ListTasks(ctx context.Context, batchID string) ([]domain.VideoTask, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListTasksForBatch, batchID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.VideoTask
	for rows.Next() {
		var (
			t      domain.VideoTask
			status string
			meta   []byte
		)
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.BatchJobID,
			&t.BatchIndex,
			&t.Prompt,
			&t.Model,
			&t.AspectRatio,
			&t.Duration,
			&t.ReferenceURL,
			&meta,
			&status,
			&t.VideoURL,
			&t.ErrorMessage,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = domain.TaskStatus(status)
		if len(meta) > 0 {
			t.Meta = append([]byte(nil), meta...)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListRecentBatches returns the newest batches of a user.
func (r *BatchRepositoryPG) ListRecentBatches(ctx context.Context, userID string, limit int) ([]domain.BatchJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListRecentBatches, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

// EnqueuedAt returns when the batch was pushed to the queue, or nil.
func (r *BatchRepositoryPG) EnqueuedAt(ctx context.Context, batchID string) (*time.Time, error) {
	var at *time.Time
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectBatchEnqueuedAt, batchID).Scan(&at); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select enqueued_at: %w", err)
	}
	return at, nil
}

// MarkEnqueued stamps enqueued_at once; later calls are no-ops.
func (r *BatchRepositoryPG) MarkEnqueued(ctx context.Context, batchID string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QMarkBatchEnqueued, batchID); err != nil {
		return fmt.Errorf("mark enqueued: %w", err)
	}
	return nil
}

func scanBatch(row pgx.Row) (*domain.BatchJob, error) {
	b, err := scanBatchInto(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return b, nil
}

func collectBatches(rows pgx.Rows) ([]domain.BatchJob, error) {
	var out []domain.BatchJob
	for rows.Next() {
		b, err := scanBatchInto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanBatchInto(row pgx.Row) (*domain.BatchJob, error) {
	var (
		b                          domain.BatchJob
		source, status, settlement string
	)
	if err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.RequestID,
		&source,
		&status,
		&b.TotalCount,
		&b.SuccessCount,
		&b.FailedCount,
		&b.CostPerVideo,
		&b.FrozenCredits,
		&b.CreditsSpent,
		&settlement,
		&b.WebhookURL,
		&b.EnqueuedAt,
		&b.CompletedAt,
		&b.CreatedAt,
	); err != nil {
		return nil, err
	}
	b.Source = domain.Source(source)
	b.Status = domain.BatchStatus(status)
	b.SettlementStatus = domain.SettlementStatus(settlement)
	return &b, nil
}

var _ domain.BatchRepository = (*BatchRepositoryPG)(nil)
