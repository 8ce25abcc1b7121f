package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/dispatch"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/providers/video"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/webhook"
)

type settleCall struct {
	status     domain.BatchStatus
	spent      int64
	settlement domain.SettlementStatus
}

type memStore struct {
	mu      sync.Mutex
	batches map[string]*domain.BatchJob
	tasks   map[string][]domain.VideoTask
	settled map[string]settleCall
	queued  []string

	orphanCutoff  time.Time
	stalledCutoff time.Time
	orphans       []string
	listErr       error
}

func newMemStore() *memStore {
	return &memStore{
		batches: map[string]*domain.BatchJob{},
		tasks:   map[string][]domain.VideoTask{},
		settled: map[string]settleCall{},
	}
}

func (s *memStore) add(b domain.BatchJob, prompts ...string) {
	b.Status = domain.BatchStatusQueued
	b.TotalCount = len(prompts)
	b.FrozenCredits = int64(len(prompts)) * b.CostPerVideo
	s.batches[b.ID] = &b
	for i, p := range prompts {
		s.tasks[b.ID] = append(s.tasks[b.ID], domain.VideoTask{
			ID: b.ID + "-t" + string(rune('0'+i)), BatchJobID: b.ID, BatchIndex: i, Prompt: p, Model: "sora-2",
			Status: domain.TaskStatusPending,
		})
	}
	s.queued = append(s.queued, b.ID)
}

func (s *memStore) ClaimNextQueued(ctx context.Context, grace time.Duration) (*domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queued) > 0 {
		id := s.queued[0]
		s.queued = s.queued[1:]
		if b := s.batches[id]; b != nil && b.Status == domain.BatchStatusQueued {
			b.Status = domain.BatchStatusProcessing
			cp := *b
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) ClaimBatch(ctx context.Context, id string) (*domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[id]
	if b == nil || b.Status != domain.BatchStatusQueued {
		return nil, domain.ErrNotFound
	}
	b.Status = domain.BatchStatusProcessing
	cp := *b
	return &cp, nil
}

func (s *memStore) GetBatch(ctx context.Context, id string) (*domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[id]
	if b == nil {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) ListTasks(ctx context.Context, id string) ([]domain.VideoTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.VideoTask(nil), s.tasks[id]...), nil
}

func (s *memStore) task(id string) (*domain.VideoTask, *domain.BatchJob) {
	for bid, tasks := range s.tasks {
		for i := range tasks {
			if tasks[i].ID == id {
				return &s.tasks[bid][i], s.batches[bid]
			}
		}
	}
	return nil, nil
}

func (s *memStore) MarkTaskProcessing(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, _ := s.task(id); t != nil && t.Status == domain.TaskStatusPending {
		t.Status = domain.TaskStatusProcessing
	}
	return nil
}

func (s *memStore) CompleteTask(ctx context.Context, id, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, b := s.task(id)
	if t == nil || t.Status.Terminal() {
		return false, nil
	}
	t.Status, t.VideoURL = domain.TaskStatusSucceeded, url
	b.SuccessCount++
	return true, nil
}

func (s *memStore) FailTask(ctx context.Context, id, msg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !utf8.ValidString(msg) {
		return false, errors.New("invalid byte sequence for encoding \"UTF8\"")
	}
	t, b := s.task(id)
	if t == nil || t.Status.Terminal() {
		return false, nil
	}
	t.Status, t.ErrorMessage = domain.TaskStatusFailed, msg
	b.FailedCount++
	return true, nil
}

func (s *memStore) SettleBatch(ctx context.Context, id string, status domain.BatchStatus, spent int64, settlement domain.SettlementStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[id]
	b.Status, b.CreditsSpent, b.SettlementStatus = status, spent, settlement
	s.settled[id] = settleCall{status, spent, settlement}
	return nil
}

func (s *memStore) DeleteOrphans(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.orphanCutoff = cutoff
	return s.orphans, nil
}

func (s *memStore) RequeueStalled(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.stalledCutoff = cutoff
	return nil, nil
}

// promptGenerator fails prompts containing "fail" and blocks on "block" until cancelled.
type promptGenerator struct {
	mu       sync.Mutex
	calls    []string
	failWith string
}

func (g *promptGenerator) Generate(ctx context.Context, req video.Request) (*video.Asset, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req.Prompt)
	g.mu.Unlock()
	switch {
	case strings.Contains(req.Prompt, "block"):
		<-ctx.Done()
		return nil, ctx.Err()
	case strings.Contains(req.Prompt, "fail") && g.failWith != "":
		return nil, errors.New(g.failWith)
	case strings.Contains(req.Prompt, "fail"):
		return nil, errors.New("provider failure: content policy")
	}
	return &video.Asset{URL: "https://cdn/" + req.RequestID + ".mp4"}, nil
}

type finalizeCall struct {
	userID, batchID string
	spent           int64
}

type fakeFinalizer struct {
	calls []finalizeCall
	err   error
}

func (f *fakeFinalizer) Finalize(ctx context.Context, userID, batchID string, spent int64) error {
	f.calls = append(f.calls, finalizeCall{userID, batchID, spent})
	return f.err
}

type fakeNotifier struct {
	urls     []string
	payloads []webhook.Payload
}

func (f *fakeNotifier) Notify(ctx context.Context, url string, p webhook.Payload) error {
	f.urls = append(f.urls, url)
	f.payloads = append(f.payloads, p)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	tasks    map[string]int
	settled  map[string]int
	orphaned int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{tasks: map[string]int{}, settled: map[string]int{}}
}

func (o *countingObserver) TaskFinished(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks[status]++
}

func (o *countingObserver) BatchSettled(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settled[status]++
}

func (o *countingObserver) OrphansDeleted(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orphaned += n
}

type fakeQueue struct {
	deliveries []dispatch.Delivery
	acked      []string
	requeued   int
}

func (q *fakeQueue) Claim(ctx context.Context, timeout time.Duration) (dispatch.Delivery, error) {
	if len(q.deliveries) == 0 {
		return dispatch.Delivery{}, dispatch.ErrEmpty
	}
	d := q.deliveries[0]
	q.deliveries = q.deliveries[1:]
	return d, nil
}

func (q *fakeQueue) Ack(ctx context.Context, d dispatch.Delivery) error {
	q.acked = append(q.acked, d.BatchID)
	return nil
}

func (q *fakeQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	q.requeued++
	return 0, nil
}
