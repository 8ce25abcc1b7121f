package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/sqlinline"
)

// ClaimNextQueued moves the oldest funded queued batch to processing.
// queueGrace keeps freshly enqueued batches for queue consumers.
func (r *BatchRepositoryPG) ClaimNextQueued(ctx context.Context, queueGrace time.Duration) (*domain.BatchJob, error) {
	return scanBatch(r.sql.QueryRow(ctx, sqlinline.QWorkerClaimBatch, queueGrace.Seconds()))
}

// ClaimBatch moves a specific queued batch to processing. ErrNotFound means another
// worker owns it or it is not ready.
func (r *BatchRepositoryPG) ClaimBatch(ctx context.Context, batchID string) (*domain.BatchJob, error) {
	return scanBatch(r.sql.QueryRow(ctx, sqlinline.QWorkerClaimBatchByID, batchID))
}

func (r *BatchRepositoryPG) MarkTaskProcessing(ctx context.Context, taskID string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QWorkerMarkTaskProcessing, taskID); err != nil {
		return fmt.Errorf("mark task processing: %w", err)
	}
	return nil
}

// CompleteTask records a success. It returns false when the task was already terminal.
func (r *BatchRepositoryPG) CompleteTask(ctx context.Context, taskID, videoURL string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QWorkerCompleteTask, taskID, videoURL)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailTask records a failure. It returns false when the task was already terminal.
func (r *BatchRepositoryPG) FailTask(ctx context.Context, taskID, message string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QWorkerFailTask, taskID, message)
	if err != nil {
		return false, fmt.Errorf("fail task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SettleBatch closes a processing batch with its final status and spent credits.
func (r *BatchRepositoryPG) SettleBatch(ctx context.Context, batchID string, status domain.BatchStatus, spent int64, settlement domain.SettlementStatus) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QWorkerSettleBatch, batchID, string(status), spent, string(settlement)); err != nil {
		return fmt.Errorf("settle batch: %w", err)
	}
	return nil
}

// DeleteOrphans removes queued batches created before cutoff that never had credits frozen.
func (r *BatchRepositoryPG) DeleteOrphans(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.collectIDs(ctx, "delete orphans", sqlinline.QWorkerDeleteOrphanBatches, cutoff)
}

// RequeueStalled puts processing batches with no task activity since cutoff back in the queue.
func (r *BatchRepositoryPG) RequeueStalled(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.collectIDs(ctx, "requeue stalled", sqlinline.QWorkerRequeueStalledBatches, cutoff)
}

func (r *BatchRepositoryPG) collectIDs(ctx context.Context, op, query string, cutoff time.Time) ([]string, error) {
	rows, err := r.sql.Query(ctx, query, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan id: %w", op, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
