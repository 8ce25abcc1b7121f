package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/dispatch"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
)

// Queue is the reliable Redis consumer; nil in pull-only deployments.
type Queue interface {
	Claim(ctx context.Context, timeout time.Duration) (dispatch.Delivery, error)
	Ack(ctx context.Context, d dispatch.Delivery) error
	RequeueStale(ctx context.Context, max int64) (int64, error)
}

// Options tunes the runner loops.
type Options struct {
	Concurrency   int
	PollInterval  time.Duration
	QueueGrace    time.Duration
	SweepInterval time.Duration
	OrphanTTL     time.Duration
	StalledAfter  time.Duration
}

// Runner claims batches from the queue or the database and feeds the processor.
type Runner struct {
	store    Store
	proc     *Processor
	queue    Queue
	observer Observer
	log      infra.Logger
	opts     Options
	now      func() time.Time
}

func NewRunner(store Store, proc *Processor, queue Queue, observer Observer, log infra.Logger, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Runner{store: store, proc: proc, queue: queue, observer: observer, log: log, opts: opts, now: time.Now}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Int("concurrency", r.opts.Concurrency).Bool("queue", r.queue != nil).Msg("worker: started")

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.loop(ctx, n)
		}(i + 1)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.sweepLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) loop(ctx context.Context, n int) {
	for ctx.Err() == nil {
		worked, err := r.Step(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Int("worker", n).Msg("worker: step failed")
		}
		if !worked || err != nil {
			sleep(ctx, r.opts.PollInterval)
		}
	}
}

// Step handles at most one batch: a queued message first, then the database.
// It reports whether a batch was processed.
func (r *Runner) Step(ctx context.Context) (bool, error) {
	if r.queue != nil {
		worked, err := r.fromQueue(ctx)
		if worked || err != nil {
			return worked, err
		}
	}
	b, err := r.store.ClaimNextQueued(ctx, r.opts.QueueGrace)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, r.proc.Process(ctx, b)
}

func (r *Runner) fromQueue(ctx context.Context) (bool, error) {
	d, err := r.queue.Claim(ctx, r.opts.PollInterval)
	if errors.Is(err, dispatch.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b, err := r.store.ClaimBatch(ctx, d.BatchID)
	if errors.Is(err, domain.ErrNotFound) {
		// Already claimed by a pull worker or deleted; the message is spent.
		r.ack(ctx, d)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := r.proc.Process(ctx, b); err != nil {
		// Left on the processing list; the sweep puts it back.
		return true, err
	}
	r.ack(ctx, d)
	return true, nil
}

func (r *Runner) ack(ctx context.Context, d dispatch.Delivery) {
	if err := r.queue.Ack(ctx, d); err != nil {
		r.log.Warn().Err(err).Str("batch_id", d.BatchID).Msg("worker: ack queue message")
	}
}

func (r *Runner) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()
	for {
		r.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes orphaned batches, requeues stalled ones and returns unacked queue messages.
func (r *Runner) Sweep(ctx context.Context) {
	now := r.now()
	if r.opts.OrphanTTL > 0 {
		ids, err := r.store.DeleteOrphans(ctx, now.Add(-r.opts.OrphanTTL))
		if err != nil {
			r.log.Error().Err(err).Msg("worker: delete orphan batches")
		} else if len(ids) > 0 {
			r.log.Warn().Strs("batch_ids", ids).Msg("worker: deleted orphan batches")
			if r.observer != nil {
				r.observer.OrphansDeleted(len(ids))
			}
		}
	}
	if r.opts.StalledAfter > 0 {
		ids, err := r.store.RequeueStalled(ctx, now.Add(-r.opts.StalledAfter))
		if err != nil {
			r.log.Error().Err(err).Msg("worker: requeue stalled batches")
		} else if len(ids) > 0 {
			r.log.Warn().Strs("batch_ids", ids).Msg("worker: requeued stalled batches")
		}
	}
	if r.queue != nil {
		moved, err := r.queue.RequeueStale(ctx, 100)
		if err != nil {
			r.log.Error().Err(err).Msg("worker: requeue stale messages")
		} else if moved > 0 {
			r.log.Info().Int64("moved", moved).Msg("worker: requeued stale messages")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
