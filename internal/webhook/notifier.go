// Package webhook delivers signed batch notifications to enterprise callers.
// Signatures follow the Standard Webhooks scheme so receivers can verify them
// with any svix library.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
)

// EventBatchCompleted is sent once a batch is settled.
const EventBatchCompleted = "batch.completed"

const defaultMaxTries = 5

// Task is one item in a notification.
type Task struct {
	BatchIndex   int               `json:"batch_index"`
	Status       domain.TaskStatus `json:"status"`
	VideoURL     string            `json:"video_url,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Meta         json.RawMessage   `json:"meta,omitempty"`
}

// Payload is the notification body.
type Payload struct {
	Event        string             `json:"event"`
	BatchID      string             `json:"batch_id"`
	Status       domain.BatchStatus `json:"status"`
	TotalCount   int                `json:"total_count"`
	SuccessCount int                `json:"success_count"`
	FailedCount  int                `json:"failed_count"`
	CreditsSpent int64              `json:"credits_spent"`
	CompletedAt  time.Time          `json:"completed_at"`
	Tasks        []Task             `json:"tasks"`
}

// NewBatchPayload builds the completion payload from a settled batch.
func NewBatchPayload(b *domain.BatchJob, tasks []domain.VideoTask) Payload {
	p := Payload{
		Event:        EventBatchCompleted,
		BatchID:      b.ID,
		Status:       b.Status,
		TotalCount:   b.TotalCount,
		SuccessCount: b.SuccessCount,
		FailedCount:  b.FailedCount,
		CreditsSpent: b.CreditsSpent,
		CompletedAt:  time.Now().UTC(),
		Tasks:        make([]Task, 0, len(tasks)),
	}
	if b.CompletedAt != nil {
		p.CompletedAt = b.CompletedAt.UTC()
	}
	for _, t := range tasks {
		p.Tasks = append(p.Tasks, Task{
			BatchIndex:   t.BatchIndex,
			Status:       t.Status,
			VideoURL:     t.VideoURL,
			ErrorMessage: t.ErrorMessage,
			Meta:         t.Meta,
		})
	}
	return p
}

// Observer counts delivery outcomes.
type Observer interface {
	WebhookDelivered(ok bool)
}

// Notifier posts payloads with retries. Without a signing secret payloads are sent unsigned.
type Notifier struct {
	client   *http.Client
	signer   *svix.Webhook
	log      infra.Logger
	observer Observer
	maxTries uint
	backoff  func() backoff.BackOff
}

// NewNotifier returns a notifier signing with secret, a "whsec_" base64 key.
func NewNotifier(secret string, client *http.Client, log infra.Logger, observer Observer) (*Notifier, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	n := &Notifier{
		client:   client,
		log:      log,
		observer: observer,
		maxTries: defaultMaxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
	if secret != "" {
		wh, err := svix.NewWebhook(secret)
		if err != nil {
			return nil, fmt.Errorf("webhook: signing secret: %w", err)
		}
		n.signer = wh
	}
	return n, nil
}

// WithBackOff replaces the retry schedule.
func (n *Notifier) WithBackOff(fn func() backoff.BackOff) *Notifier {
	n.backoff = fn
	return n
}

// Notify delivers p to url. 4xx responses other than 408 and 429 are not retried.
func (n *Notifier) Notify(ctx context.Context, url string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}
	msgID := "msg_" + ulid.Make().String()

	attempts := 0
	_, err = backoff.Retry(ctx, func() (int, error) {
		attempts++
		return n.send(ctx, url, msgID, body)
	}, backoff.WithBackOff(n.backoff()), backoff.WithMaxTries(n.maxTries))

	n.observe(err == nil)
	if err != nil {
		n.log.Warn().Err(err).Str("batch_id", p.BatchID).Str("msg_id", msgID).Int("attempts", attempts).Msg("webhook: delivery failed")
		return fmt.Errorf("webhook: deliver %s: %w", p.BatchID, err)
	}
	n.log.Info().Str("batch_id", p.BatchID).Str("msg_id", msgID).Int("attempts", attempts).Msg("webhook: delivered")
	return nil
}

func (n *Notifier) send(ctx context.Context, url, msgID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "videobatch-webhooks/1")

	now := time.Now()
	req.Header.Set("svix-id", msgID)
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	if n.signer != nil {
		sig, err := n.signer.Sign(msgID, now, body)
		if err != nil {
			return 0, backoff.Permanent(fmt.Errorf("sign payload: %w", err))
		}
		req.Header.Set("svix-signature", sig)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("receiver returned %d", resp.StatusCode)
	default:
		return resp.StatusCode, backoff.Permanent(fmt.Errorf("receiver returned %d", resp.StatusCode))
	}
}

func (n *Notifier) observe(ok bool) {
	if n.observer != nil {
		n.observer.WebhookDelivered(ok)
	}
}
