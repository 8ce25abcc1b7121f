package domain

import (
	"encoding/json"
	"time"
)

// BatchStatus enumerates batch lifecycle states.
type BatchStatus string

const (
	BatchStatusQueued     BatchStatus = "queued"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// TaskStatus enumerates per-item states. Succeeded and failed are terminal.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusSucceeded  TaskStatus = "succeeded"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the task can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// Source records which entry path created a batch.
type Source string

const (
	SourceConsumer   Source = "consumer"
	SourceEnterprise Source = "enterprise"
)

// SettlementStatus tracks whether frozen credits were reconciled by the worker.
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementSettled SettlementStatus = "settled"
	SettlementFailed  SettlementStatus = "failed"
)

// BatchJob is a group of video generations billed together.
type BatchJob struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	RequestID        string           `json:"request_id,omitempty"`
	Source           Source           `json:"source"`
	Status           BatchStatus      `json:"status"`
	TotalCount       int              `json:"total_count"`
	SuccessCount     int              `json:"success_count"`
	FailedCount      int              `json:"failed_count"`
	CostPerVideo     int64            `json:"cost_per_video"`
	FrozenCredits    int64            `json:"frozen_credits"`
	CreditsSpent     int64            `json:"credits_spent"`
	SettlementStatus SettlementStatus `json:"settlement_status"`
	WebhookURL       string           `json:"webhook_url,omitempty"`
	EnqueuedAt       *time.Time       `json:"enqueued_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// RequiredCredits is the amount frozen for the whole batch.
func (b *BatchJob) RequiredCredits() int64 {
	return int64(b.TotalCount) * b.CostPerVideo
}

// Resolved reports whether every item reached a terminal state.
func (b *BatchJob) Resolved() bool {
	return b.SuccessCount+b.FailedCount >= b.TotalCount
}

// VideoTask is one item of a batch, addressed by its zero-based BatchIndex.
type VideoTask struct {
	ID           string          `json:"id"`
	UserID       string          `json:"-"`
	BatchJobID   string          `json:"-"`
	BatchIndex   int             `json:"batch_index"`
	Prompt       string          `json:"prompt"`
	Model        string          `json:"model,omitempty"`
	AspectRatio  string          `json:"aspect_ratio,omitempty"`
	Duration     string          `json:"duration,omitempty"`
	ReferenceURL string          `json:"reference_url,omitempty"`
	Meta         json.RawMessage `json:"meta,omitempty"`
	Status       TaskStatus      `json:"status"`
	VideoURL     string          `json:"video_url,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
