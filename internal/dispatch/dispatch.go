// Package dispatch hands accepted batches to the worker tier. Two implementations
// exist: a Redis list push and a no-op for deployments where the worker polls the
// database. The batch row is the durable record either way, so dispatch never fails
// a request.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
)

// Modes reported back to clients as enqueue_mode.
const (
	ModeQueue = "queue"
	ModePull  = "pull"
)

const maxEnqueueAttempts = 3

// Result describes what happened to one dispatch.
type Result struct {
	Attempted bool   `json:"attempted"`
	OK        bool   `json:"ok"`
	Attempts  int    `json:"attempts"`
	Mode      string `json:"-"`
}

// Dispatcher notifies workers about a new batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID string) Result
	Mode() string
}

// Marker records that a batch reached the queue.
type Marker interface {
	EnqueuedAt(ctx context.Context, batchID string) (*time.Time, error)
	MarkEnqueued(ctx context.Context, batchID string) error
}

// Pusher is the subset of a Redis client the queue dispatcher needs.
type Pusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Observer receives dispatch outcomes.
type Observer interface {
	DispatchResult(mode string, ok bool)
}

// Message is the queue payload.
type Message struct {
	BatchID string `json:"batch_id"`
}

// QueueDispatcher pushes batch ids onto a Redis list. A failed push falls back to
// pull mode: the worker's database poll picks the batch up after a grace period.
type QueueDispatcher struct {
	rdb      Pusher
	marker   Marker
	key      string
	log      infra.Logger
	observer Observer
	backoff  func() backoff.BackOff
}

// NewQueueDispatcher builds a dispatcher that pushes to key.
func NewQueueDispatcher(rdb Pusher, marker Marker, key string, log infra.Logger, observer Observer) *QueueDispatcher {
	return &QueueDispatcher{
		rdb:      rdb,
		marker:   marker,
		key:      key,
		log:      log,
		observer: observer,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
}

// WithBackOff replaces the retry schedule.
func (d *QueueDispatcher) WithBackOff(fn func() backoff.BackOff) *QueueDispatcher {
	d.backoff = fn
	return d
}

func (d *QueueDispatcher) Mode() string { return ModeQueue }

// Dispatch pushes the batch at most once. If the batch already carries an
// enqueued_at stamp nothing is pushed.
func (d *QueueDispatcher) Dispatch(ctx context.Context, batchID string) Result {
	if at, err := d.marker.EnqueuedAt(ctx, batchID); err != nil {
		d.log.Warn().Err(err).Str("batch_id", batchID).Msg("dispatch: read enqueued_at")
	} else if at != nil {
		return Result{Attempted: false, OK: true, Mode: ModeQueue}
	}

	payload, err := json.Marshal(Message{BatchID: batchID})
	if err != nil {
		return d.degrade(batchID, 0, err)
	}

	attempts := 0
	_, err = backoff.Retry(ctx, func() (int64, error) {
		attempts++
		return d.rdb.LPush(ctx, d.key, string(payload)).Result()
	}, backoff.WithBackOff(d.backoff()), backoff.WithMaxTries(maxEnqueueAttempts))
	if err != nil {
		return d.degrade(batchID, attempts, err)
	}

	if err := d.marker.MarkEnqueued(ctx, batchID); err != nil {
		// The message is on the queue; a missing stamp only means a later
		// dispatch of the same batch may push it again.
		d.log.Warn().Err(err).Str("batch_id", batchID).Msg("dispatch: mark enqueued")
	}
	d.observe(ModeQueue, true)
	return Result{Attempted: true, OK: true, Attempts: attempts, Mode: ModeQueue}
}

func (d *QueueDispatcher) degrade(batchID string, attempts int, err error) Result {
	d.log.Warn().Err(err).
		Str("batch_id", batchID).
		Int("attempts", attempts).
		Msg("dispatch: enqueue failed, batch left for pull worker")
	d.observe(ModeQueue, false)
	return Result{Attempted: true, OK: false, Attempts: attempts, Mode: ModePull}
}

func (d *QueueDispatcher) observe(mode string, ok bool) {
	if d.observer != nil {
		d.observer.DispatchResult(mode, ok)
	}
}

// PullWorkerDispatcher does nothing; workers find queued batches by polling.
type PullWorkerDispatcher struct {
	observer Observer
}

func NewPullWorkerDispatcher(observer Observer) *PullWorkerDispatcher {
	return &PullWorkerDispatcher{observer: observer}
}

func (d *PullWorkerDispatcher) Mode() string { return ModePull }

func (d *PullWorkerDispatcher) Dispatch(ctx context.Context, batchID string) Result {
	if d.observer != nil {
		d.observer.DispatchResult(ModePull, true)
	}
	return Result{Mode: ModePull}
}

// New picks the dispatcher for the configured deployment. A nil client means no queue.
func New(rdb *redis.Client, marker Marker, key string, log infra.Logger, observer Observer) Dispatcher {
	if rdb == nil {
		return NewPullWorkerDispatcher(observer)
	}
	return NewQueueDispatcher(rdb, marker, key, log, observer)
}

// DecodeMessage parses a queue payload.
func DecodeMessage(raw string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, fmt.Errorf("decode queue message: %w", err)
	}
	if msg.BatchID == "" {
		return Message{}, errors.New("decode queue message: missing batch_id")
	}
	return msg, nil
}
