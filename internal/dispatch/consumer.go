package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lists is the subset of a Redis client the consumer needs.
type Lists interface {
	BRPopLPush(ctx context.Context, source, destination string, timeout time.Duration) *redis.StringCmd
	RPopLPush(ctx context.Context, source, destination string) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
}

// ErrEmpty is returned by Claim when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Delivery is one claimed message. Raw must be passed back to Ack unchanged.
type Delivery struct {
	Raw     string
	BatchID string
}

// Consumer reads the batch queue reliably: a claimed message moves to a
// processing list and stays there until acked, so a crashed worker's
// messages can be requeued.
type Consumer struct {
	rdb           Lists
	queueKey      string
	processingKey string
}

// NewConsumer reads from key, parking in-flight messages on key+":processing".
func NewConsumer(rdb Lists, key string) *Consumer {
	return &Consumer{rdb: rdb, queueKey: key, processingKey: key + ":processing"}
}

// Claim blocks up to timeout for the next message.
func (c *Consumer) Claim(ctx context.Context, timeout time.Duration) (Delivery, error) {
	raw, err := c.rdb.BRPopLPush(ctx, c.queueKey, c.processingKey, timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Delivery{}, ErrEmpty
		}
		return Delivery{}, err
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		// Unreadable messages would loop forever through RequeueStale.
		_ = c.rdb.LRem(ctx, c.processingKey, 1, raw).Err()
		return Delivery{}, err
	}
	return Delivery{Raw: raw, BatchID: msg.BatchID}, nil
}

// Ack removes a processed message from the processing list.
func (c *Consumer) Ack(ctx context.Context, d Delivery) error {
	return c.rdb.LRem(ctx, c.processingKey, 1, d.Raw).Err()
}

// RequeueStale moves up to max messages from the processing list back onto the queue.
func (c *Consumer) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		_, err := c.rdb.RPopLPush(ctx, c.processingKey, c.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}
