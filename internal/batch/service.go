// Package batch accepts video batches from consumers and enterprise API keys.
// A submission writes the batch, its tasks and a credit freeze in that order;
// any failure after the first write is undone before the error is returned.
package batch

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/dispatch"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/guard"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
)

// RecentLimit caps the batch listing.
const RecentLimit = 20

// Ledger is the part of the credit ledger intake needs.
type Ledger interface {
	Available(ctx context.Context, userID string) (int64, error)
	Freeze(ctx context.Context, userID, batchID string, amount int64) error
}

// Recorder receives one observation per submission.
type Recorder interface {
	BatchSubmitted(mode, outcome string, items int, elapsed time.Duration)
}

// Options wires the service's collaborators.
type Options struct {
	Batches        domain.BatchRepository
	Ledger         Ledger
	Guard          *guard.Guard
	Dispatcher     dispatch.Dispatcher
	Recorder       Recorder
	Logger         infra.Logger
	EnterpriseCost int64
}

// Service runs the intake pipeline.
type Service struct {
	batches        domain.BatchRepository
	ledger         Ledger
	guard          *guard.Guard
	dispatcher     dispatch.Dispatcher
	recorder       Recorder
	log            infra.Logger
	enterpriseCost int64
	newID          func() string
	linkBackOff    func() backoff.BackOff
}

const linkAttempts = 3

func NewService(opts Options) *Service {
	d := opts.Dispatcher
	if d == nil {
		d = dispatch.NewPullWorkerDispatcher(nil)
	}
	return &Service{
		batches:        opts.Batches,
		ledger:         opts.Ledger,
		guard:          opts.Guard,
		dispatcher:     d,
		recorder:       opts.Recorder,
		log:            opts.Logger,
		enterpriseCost: opts.EnterpriseCost,
		newID:          uuid.NewString,
		linkBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
}

// ConsumerResult is the success body for a session submission.
type ConsumerResult struct {
	OK               bool   `json:"ok"`
	BatchID          string `json:"batch_id"`
	TotalCount       int    `json:"total_count"`
	CostPerVideo     int64  `json:"cost_per_video"`
	CreditsFrozen    int64  `json:"credits_frozen"`
	CreditsRemaining int64  `json:"credits_remaining"`
	Message          string `json:"message"`
}

// EnterpriseResult is the success body for an API-key submission, fresh or replayed.
type EnterpriseResult struct {
	OK               bool               `json:"ok"`
	BatchID          string             `json:"batch_id"`
	TotalCount       int                `json:"total_count"`
	CostPerVideo     int64              `json:"cost_per_video"`
	RequiredCredits  int64              `json:"required_credits"`
	AvailableCredits int64              `json:"available_credits"`
	Status           domain.BatchStatus `json:"status"`
	Enqueue          dispatch.Result    `json:"enqueue"`
	EnqueueMode      string             `json:"enqueue_mode"`
	IdempotentReplay bool               `json:"idempotent_replay,omitempty"`
}

// EnterpriseSubmission carries the authenticated key and request metadata.
type EnterpriseSubmission struct {
	Key       *domain.APIKey
	RequestID string
	Endpoint  string
	IP        string
	UserAgent string
	Country   string
	// Body is decoded only after the rate limit and replay checks pass.
	Body io.Reader
}

// Detail is a batch with its ordered tasks.
type Detail struct {
	Batch *domain.BatchJob   `json:"batch"`
	Tasks []domain.VideoTask `json:"tasks"`
}

// SubmitConsumer accepts a validated consumer request for userID.
func (s *Service) SubmitConsumer(ctx context.Context, userID, requestID string, req *ConsumerRequest) (res *ConsumerResult, err error) {
	start := time.Now()
	defer func() { s.observe(string(domain.SourceConsumer), len(req.Prompts), start, res != nil, err) }()

	cost, ok := domain.CostForModel(req.Model)
	if !ok {
		return nil, invalidPayload("unknown model "+req.Model, nil)
	}
	b := &domain.BatchJob{
		ID:           s.newID(),
		UserID:       userID,
		RequestID:    requestID,
		Source:       domain.SourceConsumer,
		TotalCount:   len(req.Prompts),
		CostPerVideo: cost,
	}
	tasks := make([]domain.VideoTask, len(req.Prompts))
	for i, p := range req.Prompts {
		tasks[i] = domain.VideoTask{
			Prompt:      p,
			Model:       req.Model,
			AspectRatio: req.AspectRatio,
			Duration:    string(req.Duration),
		}
	}

	available, err := s.persist(ctx, b, tasks, nil)
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, b.ID)

	return &ConsumerResult{
		OK:               true,
		BatchID:          b.ID,
		TotalCount:       b.TotalCount,
		CostPerVideo:     b.CostPerVideo,
		CreditsFrozen:    b.RequiredCredits(),
		CreditsRemaining: available - b.RequiredCredits(),
		Message:          "batch queued",
	}, nil
}

// SubmitEnterprise runs the rate limit and idempotency gate before the shared pipeline.
func (s *Service) SubmitEnterprise(ctx context.Context, sub EnterpriseSubmission) (res *EnterpriseResult, err error) {
	start := time.Now()
	items := 0
	defer func() { s.observe(string(domain.SourceEnterprise), items, start, res != nil && !res.IdempotentReplay, err) }()

	key := sub.Key
	if err := s.guard.CheckRateLimit(ctx, key); err != nil {
		var rl *guard.RateLimitError
		if errors.As(err, &rl) {
			return nil, rateLimited(rl.RetryAfter, err)
		}
		return nil, internal(CodeInternal, "rate limit check failed", err)
	}

	out, err := s.guard.Check(ctx, key.ID, sub.RequestID)
	if err != nil {
		return nil, internal(CodeInternal, "idempotency check failed", err)
	}
	switch out.Decision {
	case guard.Replay:
		return s.replay(ctx, key.UserID, out.BatchID)
	case guard.Conflict:
		return s.adopt(ctx, key, sub.RequestID)
	}

	if sub.Body == nil {
		return nil, invalidPayload("request body is required", nil)
	}
	body, err := DecodeEnterprise(sub.Body)
	if err != nil {
		return nil, err
	}
	items = len(body.Items)

	cost := s.enterpriseCost
	if key.CostPerVideo > 0 {
		cost = key.CostPerVideo
	}
	b := &domain.BatchJob{
		ID:           s.newID(),
		UserID:       key.UserID,
		RequestID:    sub.RequestID,
		Source:       domain.SourceEnterprise,
		TotalCount:   len(body.Items),
		CostPerVideo: cost,
		WebhookURL:   body.WebhookURL,
	}
	tasks := make([]domain.VideoTask, len(body.Items))
	for i, it := range body.Items {
		tasks[i] = domain.VideoTask{
			Prompt:       it.Prompt,
			Model:        it.Model,
			AspectRatio:  it.AspectRatio,
			Duration:     string(it.Duration),
			ReferenceURL: it.ReferenceURL,
			Meta:         it.Meta,
		}
	}

	usage := &domain.UsageRecord{
		APIKeyID:  key.ID,
		Endpoint:  sub.Endpoint,
		IP:        sub.IP,
		UserAgent: sub.UserAgent,
		Country:   sub.Country,
		RequestID: sub.RequestID,
	}
	available, err := s.persist(ctx, b, tasks, usage)
	if err != nil {
		var replayed *replayError
		if errors.As(err, &replayed) {
			return s.replay(ctx, key.UserID, replayed.batchID)
		}
		var be *Error
		if errors.As(err, &be) && be.Code == CodeIdempotencyConflict {
			return s.adopt(ctx, key, sub.RequestID)
		}
		return nil, err
	}

	s.link(ctx, key.ID, sub.RequestID, b.ID)
	if err := s.guard.RecordDaily(ctx, key.ID, b.TotalCount); err != nil {
		s.log.Warn().Err(err).Str("api_key_id", key.ID).Msg("batch: record daily usage")
	}

	dres := s.dispatcher.Dispatch(ctx, b.ID)
	return &EnterpriseResult{
		OK:               true,
		BatchID:          b.ID,
		TotalCount:       b.TotalCount,
		CostPerVideo:     b.CostPerVideo,
		RequiredCredits:  b.RequiredCredits(),
		AvailableCredits: available,
		Status:           domain.BatchStatusQueued,
		Enqueue:          dres,
		EnqueueMode:      dres.Mode,
	}, nil
}

// replayError short-circuits persist when the usage insert lost to an earlier request.
type replayError struct{ batchID string }

func (e *replayError) Error() string { return "request already accepted as batch " + e.batchID }

// persist runs the shared write path: balance pre-check, optional usage
// reservation, batch insert, task insert, freeze. It returns the pre-check balance.
func (s *Service) persist(ctx context.Context, b *domain.BatchJob, tasks []domain.VideoTask, usage *domain.UsageRecord) (int64, error) {
	required := b.RequiredCredits()
	available, err := s.ledger.Available(ctx, b.UserID)
	if err != nil {
		return 0, internal(CodeInternal, "could not read credit balance", err)
	}
	if available < required {
		return 0, insufficientCredits(required, available)
	}

	if usage != nil {
		out, err := s.guard.Reserve(ctx, usage)
		if err != nil {
			return 0, internal(CodeInternal, "could not record request", err)
		}
		switch out.Decision {
		case guard.Replay:
			return 0, &replayError{batchID: out.BatchID}
		case guard.Conflict:
			return 0, idempotencyConflict()
		}
	}

	if err := s.batches.CreateBatch(ctx, b); err != nil {
		s.rollback(ctx, "", usage)
		return 0, internal(CodeBatchInsertFailed, "could not create batch", err)
	}

	for i := range tasks {
		tasks[i].ID = s.newID()
		tasks[i].UserID = b.UserID
		tasks[i].BatchJobID = b.ID
		tasks[i].BatchIndex = i
		tasks[i].Status = domain.TaskStatusPending
	}
	if err := s.batches.CreateTasks(ctx, tasks); err != nil {
		s.rollback(ctx, b.ID, usage)
		return 0, internal(CodeTasksInsertFailed, "could not create batch tasks", err)
	}

	if err := s.ledger.Freeze(ctx, b.UserID, b.ID, required); err != nil {
		s.rollback(ctx, b.ID, usage)
		if errors.Is(err, domain.ErrInsufficientCredits) {
			// The balance moved between the pre-check and the freeze.
			now, aerr := s.ledger.Available(context.WithoutCancel(ctx), b.UserID)
			if aerr != nil {
				now = available
			}
			return 0, insufficientCredits(required, now)
		}
		return 0, internal(CodeCreditFreezeFailed, "could not reserve credits", err)
	}
	b.FrozenCredits = required
	return available, nil
}

// rollback undoes the writes of a failed submission. It runs detached from the
// request context so a client disconnect cannot leave rows behind.
func (s *Service) rollback(ctx context.Context, batchID string, usage *domain.UsageRecord) {
	ctx = context.WithoutCancel(ctx)
	var result *multierror.Error
	if batchID != "" {
		if err := s.batches.DeleteTasks(ctx, batchID); err != nil {
			result = multierror.Append(result, err)
		}
		if err := s.batches.DeleteBatch(ctx, batchID); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if usage != nil {
		if err := s.guard.Release(ctx, usage.APIKeyID, usage.RequestID); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		s.log.Error().Err(err).Str("batch_id", batchID).Msg("batch: rollback incomplete, orphan sweep will retry")
	}
}

// link points the usage row at its batch. It outlives the request context; a
// row left unlinked is recovered by adopt on the next retry of the same id.
func (s *Service) link(ctx context.Context, apiKeyID, requestID, batchID string) {
	ctx = context.WithoutCancel(ctx)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.guard.Link(ctx, apiKeyID, requestID, batchID)
		if errors.Is(err, domain.ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(s.linkBackOff()), backoff.WithMaxTries(linkAttempts))
	if err != nil {
		s.log.Error().Err(err).Str("batch_id", batchID).Str("request_id", requestID).Msg("batch: link usage row")
	}
}

// adopt resolves a reserved request id with no linked batch. If the earlier
// submission completed, its batch is linked and replayed; otherwise the id is
// still in flight.
func (s *Service) adopt(ctx context.Context, key *domain.APIKey, requestID string) (*EnterpriseResult, error) {
	b, err := s.batches.FindBatchByRequest(ctx, key.UserID, requestID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Err(err).Str("request_id", requestID).Msg("batch: lookup unlinked request")
		}
		return nil, idempotencyConflict()
	}
	s.link(ctx, key.ID, requestID, b.ID)
	return s.replay(ctx, key.UserID, b.ID)
}

func (s *Service) replay(ctx context.Context, userID, batchID string) (*EnterpriseResult, error) {
	b, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The linked batch was swept; the caller may retry with the same id.
			return nil, idempotencyConflict()
		}
		return nil, internal(CodeInternal, "could not load batch", err)
	}
	if b.UserID != userID {
		return nil, notFound()
	}
	available, err := s.ledger.Available(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("batch_id", batchID).Msg("batch: balance for replay")
	}
	mode := dispatch.ModePull
	if b.EnqueuedAt != nil {
		mode = dispatch.ModeQueue
	}
	return &EnterpriseResult{
		OK:               true,
		BatchID:          b.ID,
		TotalCount:       b.TotalCount,
		CostPerVideo:     b.CostPerVideo,
		RequiredCredits:  b.RequiredCredits(),
		AvailableCredits: available,
		Status:           b.Status,
		Enqueue:          dispatch.Result{OK: b.EnqueuedAt != nil, Mode: mode},
		EnqueueMode:      mode,
		IdempotentReplay: true,
	}, nil
}

// Get returns a batch owned by userID with its tasks in submission order.
func (s *Service) Get(ctx context.Context, userID, batchID string) (*Detail, error) {
	if _, err := uuid.Parse(batchID); err != nil {
		return nil, notFound()
	}
	b, err := s.batches.GetBatchForUser(ctx, batchID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notFound()
		}
		return nil, internal(CodeInternal, "could not load batch", err)
	}
	tasks, err := s.batches.ListTasks(ctx, batchID)
	if err != nil {
		return nil, internal(CodeInternal, "could not load tasks", err)
	}
	return &Detail{Batch: b, Tasks: tasks}, nil
}

// ListRecent returns the user's newest batches.
func (s *Service) ListRecent(ctx context.Context, userID string) ([]domain.BatchJob, error) {
	list, err := s.batches.ListRecentBatches(ctx, userID, RecentLimit)
	if err != nil {
		return nil, internal(CodeInternal, "could not list batches", err)
	}
	if list == nil {
		list = []domain.BatchJob{}
	}
	return list, nil
}

func (s *Service) observe(mode string, items int, start time.Time, accepted bool, err error) {
	if s.recorder == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = CodeInternal
		var be *Error
		if errors.As(err, &be) {
			outcome = be.Code
		}
	}
	if !accepted {
		items = 0
	}
	s.recorder.BatchSubmitted(mode, outcome, items, time.Since(start))
}
