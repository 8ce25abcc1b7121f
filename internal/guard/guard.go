// Package guard enforces per-key rate limits and request idempotency for the
// enterprise batch endpoint. Both are backed by enterprise_api_usage rows, so the
// database's unique (api_key_id, request_id) constraint decides which of two racing
// requests wins.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
)

// Decision tells the caller how to continue after an idempotency check.
type Decision int

const (
	// Proceed means no earlier request with this id exists.
	Proceed Decision = iota
	// Replay means the request was already accepted; BatchID identifies its batch.
	Replay
	// Conflict means an earlier request holds the id but has not produced a batch yet.
	Conflict
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Replay:
		return "replay"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Outcome is the result of Check or Reserve.
type Outcome struct {
	Decision Decision
	BatchID  string
}

// RateLimitError carries how long the caller should wait.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded", e.Limit)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

// Guard bundles the usage-backed checks.
type Guard struct {
	usage        domain.UsageRepository
	defaultLimit int
	now          func() time.Time
}

// New creates a guard. defaultLimit applies to keys without their own limit.
func New(usage domain.UsageRepository, defaultLimit int) *Guard {
	return &Guard{usage: usage, defaultLimit: defaultLimit, now: time.Now}
}

// WithClock replaces the time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Now returns the guard's current time.
func (g *Guard) Now() time.Time { return g.now() }

// LimitFor returns the per-minute limit that applies to key.
func (g *Guard) LimitFor(key *domain.APIKey) int {
	if key != nil && key.RateLimitPerMinute > 0 {
		return key.RateLimitPerMinute
	}
	return g.defaultLimit
}

// CheckRateLimit rejects the request with a *RateLimitError when the key already
// has limit usage rows in the current UTC minute.
func (g *Guard) CheckRateLimit(ctx context.Context, key *domain.APIKey) error {
	limit := g.LimitFor(key)
	if limit <= 0 {
		return nil
	}
	now := g.now()
	bucket := domain.MinuteBucket(now)
	count, err := g.usage.CountInBucket(ctx, key.ID, bucket)
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if count >= limit {
		return &RateLimitError{Limit: limit, RetryAfter: bucket.Add(time.Minute).Sub(now.UTC())}
	}
	return nil
}

// Check looks for an earlier request with the same id without writing anything.
func (g *Guard) Check(ctx context.Context, apiKeyID, requestID string) (Outcome, error) {
	rec, err := g.usage.FindByRequest(ctx, apiKeyID, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Outcome{Decision: Proceed}, nil
		}
		return Outcome{}, fmt.Errorf("idempotency check: %w", err)
	}
	return outcomeFor(rec), nil
}

// Reserve inserts the usage row that claims the request id. If another request
// got there first, the returned outcome says whether to replay or report a conflict.
func (g *Guard) Reserve(ctx context.Context, rec *domain.UsageRecord) (Outcome, error) {
	if rec.MinuteBucket.IsZero() {
		rec.MinuteBucket = domain.MinuteBucket(g.now())
	}
	inserted, err := g.usage.Insert(ctx, rec)
	if err != nil {
		return Outcome{}, fmt.Errorf("idempotency reserve: %w", err)
	}
	if inserted {
		return Outcome{Decision: Proceed}, nil
	}
	existing, err := g.usage.FindByRequest(ctx, rec.APIKeyID, rec.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The winner rolled back between our insert and this read.
			return Outcome{Decision: Conflict}, nil
		}
		return Outcome{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	return outcomeFor(existing), nil
}

// Link records which batch a reserved request produced.
func (g *Guard) Link(ctx context.Context, apiKeyID, requestID, batchID string) error {
	return g.usage.LinkBatch(ctx, apiKeyID, requestID, batchID)
}

// Release drops an unlinked reservation so the caller may retry with the same id.
func (g *Guard) Release(ctx context.Context, apiKeyID, requestID string) error {
	return g.usage.Delete(ctx, apiKeyID, requestID)
}

// RecordDaily bumps the per-day usage counters for an accepted batch.
func (g *Guard) RecordDaily(ctx context.Context, apiKeyID string, items int) error {
	return g.usage.IncrementDaily(ctx, apiKeyID, g.now(), items)
}

func outcomeFor(rec *domain.UsageRecord) Outcome {
	if rec.BatchJobID == "" {
		return Outcome{Decision: Conflict}
	}
	return Outcome{Decision: Replay, BatchID: rec.BatchJobID}
}
