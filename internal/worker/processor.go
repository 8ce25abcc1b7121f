// Package worker renders the videos of claimed batches and settles their credits.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/providers/video"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/webhook"
)

// Store is the batch persistence the worker needs.
type Store interface {
	ClaimNextQueued(ctx context.Context, queueGrace time.Duration) (*domain.BatchJob, error)
	ClaimBatch(ctx context.Context, batchID string) (*domain.BatchJob, error)
	GetBatch(ctx context.Context, batchID string) (*domain.BatchJob, error)
	ListTasks(ctx context.Context, batchID string) ([]domain.VideoTask, error)
	MarkTaskProcessing(ctx context.Context, taskID string) error
	CompleteTask(ctx context.Context, taskID, videoURL string) (bool, error)
	FailTask(ctx context.Context, taskID, message string) (bool, error)
	SettleBatch(ctx context.Context, batchID string, status domain.BatchStatus, spent int64, settlement domain.SettlementStatus) error
	DeleteOrphans(ctx context.Context, cutoff time.Time) ([]string, error)
	RequeueStalled(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Finalizer settles frozen credits.
type Finalizer interface {
	Finalize(ctx context.Context, userID, batchID string, spent int64) error
}

// Notifier delivers batch completion webhooks.
type Notifier interface {
	Notify(ctx context.Context, url string, p webhook.Payload) error
}

// Observer receives worker outcomes.
type Observer interface {
	TaskFinished(status string)
	BatchSettled(status string)
	OrphansDeleted(n int)
}

// maxErrorMessage bounds the provider error stored on a task.
const maxErrorMessage = 500

// Processor runs one batch to completion.
type Processor struct {
	store     Store
	generator video.Generator
	ledger    Finalizer
	notifier  Notifier
	observer  Observer
	log       infra.Logger
	// parallel caps concurrent generations inside one batch.
	parallel int
}

func NewProcessor(store Store, generator video.Generator, ledger Finalizer, notifier Notifier, observer Observer, log infra.Logger, parallel int) *Processor {
	if parallel <= 0 {
		parallel = 1
	}
	return &Processor{
		store:     store,
		generator: generator,
		ledger:    ledger,
		notifier:  notifier,
		observer:  observer,
		log:       log,
		parallel:  parallel,
	}
}

// Process generates every non-terminal task of b, then settles the batch. On
// cancellation it returns without settling; the stalled-batch sweep requeues it.
func (p *Processor) Process(ctx context.Context, b *domain.BatchJob) error {
	start := time.Now()
	tasks, err := p.store.ListTasks(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	p.log.Info().Str("batch_id", b.ID).Int("tasks", len(tasks)).Msg("worker: processing batch")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for i := range tasks {
		task := tasks[i]
		if task.Status.Terminal() {
			continue
		}
		g.Go(func() error {
			return p.runTask(gctx, task)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	settled, err := p.settle(ctx, b.ID)
	if err != nil {
		return err
	}
	p.log.Info().
		Str("batch_id", b.ID).
		Str("status", string(settled.Status)).
		Int("succeeded", settled.SuccessCount).
		Int("failed", settled.FailedCount).
		Int64("credits_spent", settled.CreditsSpent).
		Dur("duration", time.Since(start)).
		Msg("worker: batch settled")

	if settled.WebhookURL != "" && p.notifier != nil {
		p.notify(ctx, settled)
	}
	return nil
}

// runTask renders one task. Provider failures fail the task; only cancellation and
// store errors abort the batch.
func (p *Processor) runTask(ctx context.Context, task domain.VideoTask) error {
	if err := p.store.MarkTaskProcessing(ctx, task.ID); err != nil {
		return err
	}
	asset, genErr := p.generator.Generate(ctx, video.Request{
		Prompt:       task.Prompt,
		Model:        task.Model,
		AspectRatio:  task.AspectRatio,
		Duration:     task.Duration,
		ReferenceURL: task.ReferenceURL,
		RequestID:    task.ID,
	})
	if genErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	if genErr != nil {
		p.log.Warn().Err(genErr).Str("task_id", task.ID).Int("batch_index", task.BatchIndex).Msg("worker: generation failed")
		if _, err := p.store.FailTask(ctx, task.ID, truncate(genErr.Error(), maxErrorMessage)); err != nil {
			return err
		}
		p.taskFinished(domain.TaskStatusFailed)
		return nil
	}
	changed, err := p.store.CompleteTask(ctx, task.ID, asset.URL)
	if err != nil {
		return err
	}
	if !changed {
		p.log.Debug().Str("task_id", task.ID).Msg("worker: task already terminal")
		return nil
	}
	p.taskFinished(domain.TaskStatusSucceeded)
	return nil
}

// settle finalizes credits for the succeeded items and closes the batch.
func (p *Processor) settle(ctx context.Context, batchID string) (*domain.BatchJob, error) {
	b, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("reload batch: %w", err)
	}
	if !b.Resolved() {
		return nil, fmt.Errorf("batch %s unresolved: %d+%d of %d", b.ID, b.SuccessCount, b.FailedCount, b.TotalCount)
	}

	status := domain.BatchStatusFailed
	if b.SuccessCount > 0 {
		status = domain.BatchStatusCompleted
	}
	spent := int64(b.SuccessCount) * b.CostPerVideo
	if spent > b.FrozenCredits {
		spent = b.FrozenCredits
	}

	settlement := domain.SettlementSettled
	if err := p.ledger.Finalize(ctx, b.UserID, b.ID, spent); err != nil {
		// The batch still closes; frozen credits stay frozen until reconciled by hand.
		p.log.Error().Err(err).Str("batch_id", b.ID).Int64("spent", spent).Msg("worker: finalize credits")
		settlement = domain.SettlementFailed
	}
	if err := p.store.SettleBatch(ctx, b.ID, status, spent, settlement); err != nil {
		return nil, fmt.Errorf("settle batch: %w", err)
	}
	if p.observer != nil {
		p.observer.BatchSettled(string(settlement))
	}

	now := time.Now().UTC()
	b.Status = status
	b.CreditsSpent = spent
	b.SettlementStatus = settlement
	b.CompletedAt = &now
	return b, nil
}

func (p *Processor) notify(ctx context.Context, b *domain.BatchJob) {
	tasks, err := p.store.ListTasks(ctx, b.ID)
	if err != nil {
		p.log.Warn().Err(err).Str("batch_id", b.ID).Msg("worker: load tasks for webhook")
		return
	}
	if err := p.notifier.Notify(ctx, b.WebhookURL, webhook.NewBatchPayload(b, tasks)); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn().Err(err).Str("batch_id", b.ID).Msg("worker: webhook not delivered")
	}
}

func (p *Processor) taskFinished(status domain.TaskStatus) {
	if p.observer != nil {
		p.observer.TaskFinished(string(status))
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
