package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
)

type memUsage struct {
	mu      sync.Mutex
	rows    map[string]*domain.UsageRecord
	daily   map[string]int
	findErr error
	// vanish simulates the winning request rolling back right after our insert lost.
	vanish bool
}

func newMemUsage() *memUsage {
	return &memUsage{rows: map[string]*domain.UsageRecord{}, daily: map[string]int{}}
}

func key(apiKeyID, requestID string) string { return apiKeyID + "/" + requestID }

func (m *memUsage) CountInBucket(ctx context.Context, apiKeyID string, bucket time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.APIKeyID == apiKeyID && r.MinuteBucket.Equal(bucket) {
			n++
		}
	}
	return n, nil
}

func (m *memUsage) Insert(ctx context.Context, rec *domain.UsageRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(rec.APIKeyID, rec.RequestID)
	if _, ok := m.rows[k]; ok {
		if m.vanish {
			delete(m.rows, k)
		}
		return false, nil
	}
	cp := *rec
	m.rows[k] = &cp
	return true, nil
}

func (m *memUsage) FindByRequest(ctx context.Context, apiKeyID, requestID string) (*domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	r, ok := m.rows[key(apiKeyID, requestID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memUsage) LinkBatch(ctx context.Context, apiKeyID, requestID, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[key(apiKeyID, requestID)]
	if !ok {
		return domain.ErrNotFound
	}
	r.BatchJobID = batchID
	return nil
}

func (m *memUsage) Delete(ctx context.Context, apiKeyID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(apiKeyID, requestID)
	if r, ok := m.rows[k]; ok && r.BatchJobID == "" {
		delete(m.rows, k)
	}
	return nil
}

func (m *memUsage) IncrementDaily(ctx context.Context, apiKeyID string, day time.Time, items int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily[apiKeyID+"@"+day.UTC().Format(time.DateOnly)] += items
	return nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestCheckRateLimit(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 30, 45, 0, time.UTC)
	usage := newMemUsage()
	g := New(usage, 2).WithClock(fixedClock(now))
	k := &domain.APIKey{ID: "key-1"}

	for i, rid := range []string{"a", "b"} {
		require.NoError(t, g.CheckRateLimit(context.Background(), k), "request %d", i)
		out, err := g.Reserve(context.Background(), &domain.UsageRecord{APIKeyID: k.ID, RequestID: rid})
		require.NoError(t, err)
		require.Equal(t, Proceed, out.Decision)
	}

	err := g.CheckRateLimit(context.Background(), k)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 2, rl.Limit)
	assert.Equal(t, 15*time.Second, rl.RetryAfter)

	// A new minute starts a fresh bucket.
	g.WithClock(fixedClock(now.Add(20 * time.Second)))
	assert.NoError(t, g.CheckRateLimit(context.Background(), k))
}

func TestCheckRateLimitUsesKeyLimit(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	usage := newMemUsage()
	g := New(usage, 100).WithClock(fixedClock(now))
	k := &domain.APIKey{ID: "key-1", RateLimitPerMinute: 1}

	_, err := g.Reserve(context.Background(), &domain.UsageRecord{APIKeyID: k.ID, RequestID: "a"})
	require.NoError(t, err)
	assert.ErrorIs(t, g.CheckRateLimit(context.Background(), k), domain.ErrRateLimited)

	other := &domain.APIKey{ID: "key-2", RateLimitPerMinute: 1}
	assert.NoError(t, g.CheckRateLimit(context.Background(), other))
}

func TestCheckAndReserveIdempotency(t *testing.T) {
	usage := newMemUsage()
	g := New(usage, 10)
	ctx := context.Background()

	out, err := g.Check(ctx, "key-1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, Proceed, out.Decision)

	out, err = g.Reserve(ctx, &domain.UsageRecord{APIKeyID: "key-1", RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, Proceed, out.Decision)

	// Same id before a batch is linked: in-flight conflict.
	out, err = g.Reserve(ctx, &domain.UsageRecord{APIKeyID: "key-1", RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, Conflict, out.Decision)

	require.NoError(t, g.Link(ctx, "key-1", "req-1", "batch-1"))

	out, err = g.Check(ctx, "key-1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Decision: Replay, BatchID: "batch-1"}, out)

	out, err = g.Reserve(ctx, &domain.UsageRecord{APIKeyID: "key-1", RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, Outcome{Decision: Replay, BatchID: "batch-1"}, out)

	// Request ids are scoped per key.
	out, err = g.Reserve(ctx, &domain.UsageRecord{APIKeyID: "key-2", RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, Proceed, out.Decision)
}

func TestReserveWinnerVanished(t *testing.T) {
	usage := newMemUsage()
	g := New(usage, 10)
	ctx := context.Background()
	_, err := g.Reserve(ctx, &domain.UsageRecord{APIKeyID: "k", RequestID: "r"})
	require.NoError(t, err)

	usage.vanish = true
	out, err := g.Reserve(ctx, &domain.UsageRecord{APIKeyID: "k", RequestID: "r"})
	require.NoError(t, err)
	assert.Equal(t, Conflict, out.Decision)
}

func TestReleaseAllowsRetry(t *testing.T) {
	usage := newMemUsage()
	g := New(usage, 10)
	ctx := context.Background()
	_, err := g.Reserve(ctx, &domain.UsageRecord{APIKeyID: "k", RequestID: "r"})
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx, "k", "r"))

	out, err := g.Check(ctx, "k", "r")
	require.NoError(t, err)
	assert.Equal(t, Proceed, out.Decision)
}

func TestCheckPropagatesErrors(t *testing.T) {
	usage := newMemUsage()
	usage.findErr = errors.New("db down")
	_, err := New(usage, 10).Check(context.Background(), "k", "r")
	assert.Error(t, err)
}

func TestReserveStampsBucketAndRecordsDaily(t *testing.T) {
	now := time.Date(2026, 4, 1, 23, 59, 30, 0, time.UTC)
	usage := newMemUsage()
	g := New(usage, 10).WithClock(fixedClock(now))
	ctx := context.Background()

	rec := &domain.UsageRecord{APIKeyID: "k", RequestID: "r"}
	_, err := g.Reserve(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 23, 59, 0, 0, time.UTC), rec.MinuteBucket)

	require.NoError(t, g.RecordDaily(ctx, "k", 7))
	assert.Equal(t, 7, usage.daily["k@2026-04-01"])
}
