package batch

import (
	"fmt"
	"net/http"
	"time"
)

// Stable error codes returned to clients.
const (
	CodeInvalidPayload      = "INVALID_PAYLOAD"
	CodeTooManyItems        = "TOO_MANY_ITEMS"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeBatchInsertFailed   = "BATCH_INSERT_FAILED"
	CodeTasksInsertFailed   = "TASKS_INSERT_FAILED"
	CodeCreditFreezeFailed  = "CREDIT_FREEZE_FAILED"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT_NO_BATCH"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeForbiddenOrigin     = "FORBIDDEN_ORIGIN"
	CodeNotFound            = "NOT_FOUND"
	CodeInternal            = "INTERNAL_ERROR"
)

// Error is a request failure that maps onto one API error code. Cause is logged
// but never shown to the client.
type Error struct {
	Code       string
	Status     int
	Message    string
	Required   *int64
	Available  *int64
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func invalidPayload(msg string, cause error) *Error {
	return &Error{Code: CodeInvalidPayload, Status: http.StatusBadRequest, Message: msg, Cause: cause}
}

func tooManyItems(max int) *Error {
	return &Error{
		Code:    CodeTooManyItems,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("a batch may contain at most %d items", max),
	}
}

func insufficientCredits(required, available int64) *Error {
	return &Error{
		Code:      CodeInsufficientCredits,
		Status:    http.StatusPaymentRequired,
		Message:   "not enough credits for this batch",
		Required:  &required,
		Available: &available,
	}
}

func internal(code, msg string, cause error) *Error {
	return &Error{Code: code, Status: http.StatusInternalServerError, Message: msg, Cause: cause}
}

func rateLimited(retryAfter time.Duration, cause error) *Error {
	return &Error{
		Code:       CodeRateLimitExceeded,
		Status:     http.StatusTooManyRequests,
		Message:    "too many requests for this API key, retry later",
		RetryAfter: retryAfter,
		Cause:      cause,
	}
}

func idempotencyConflict() *Error {
	return &Error{
		Code:    CodeIdempotencyConflict,
		Status:  http.StatusConflict,
		Message: "a request with this id is still being processed, retry shortly",
	}
}

func notFound() *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: "batch not found"}
}
