package domain

import (
	"context"
	"time"
)

// BatchRepository persists batches and their tasks for the intake path.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *BatchJob) error
	CreateTasks(ctx context.Context, tasks []VideoTask) error
	DeleteTasks(ctx context.Context, batchID string) error
	DeleteBatch(ctx context.Context, batchID string) error
	GetBatch(ctx context.Context, batchID string) (*BatchJob, error)
	GetBatchForUser(ctx context.Context, batchID, userID string) (*BatchJob, error)
	// FindBatchByRequest matches only batches whose credits were frozen.
	FindBatchByRequest(ctx context.Context, userID, requestID string) (*BatchJob, error)
	ListTasks(ctx context.Context, batchID string) ([]VideoTask, error)
	ListRecentBatches(ctx context.Context, userID string, limit int) ([]BatchJob, error)
}

// UsageRepository stores enterprise usage rows, which back both the per-key
// rate limit and request idempotency.
type UsageRepository interface {
	CountInBucket(ctx context.Context, apiKeyID string, bucket time.Time) (int, error)
	// Insert returns false when (api_key_id, request_id) already exists.
	Insert(ctx context.Context, rec *UsageRecord) (bool, error)
	FindByRequest(ctx context.Context, apiKeyID, requestID string) (*UsageRecord, error)
	LinkBatch(ctx context.Context, apiKeyID, requestID, batchID string) error
	Delete(ctx context.Context, apiKeyID, requestID string) error
	IncrementDaily(ctx context.Context, apiKeyID string, day time.Time, items int) error
}

// APIKeyRepository looks up and manages enterprise keys.
type APIKeyRepository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
	Create(ctx context.Context, key *APIKey, hash string) error
	SetStatus(ctx context.Context, id, status string) error
	TouchLastUsed(ctx context.Context, id string) error
}
