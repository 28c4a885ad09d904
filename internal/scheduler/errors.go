package scheduler

import (
	"errors"
	"fmt"

	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/quota"
)

// Error codes exposed on RequestView.ErrorCode
const (
	CodeQuotaExceeded   = "quota_exceeded"
	CodeQueueFull       = "queue_full"
	CodeModelsExhausted = "models_exhausted"
	CodeTimeout         = "timeout"
	CodeCancelled       = "cancelled"
	CodeShutdown        = "shutdown"
	CodeInternal        = "internal_error"
)

var (
	// ErrQuotaExceeded is the cause of every QuotaExceededError
	ErrQuotaExceeded = errors.New("tenant quota exceeded")

	// ErrTimeout is recorded on requests that ran past their deadline
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled is recorded on cancelled requests
	ErrCancelled = queue.ErrRequestCancelled

	// ErrShutdown is recorded on requests still queued when the scheduler stops
	ErrShutdown = errors.New("scheduler shut down")

	// ErrUnknownModelSet is returned by Submit when no model set matches
	ErrUnknownModelSet = errors.New("unknown model set")

	// ErrInvalidRequest is returned by Submit for malformed input
	ErrInvalidRequest = errors.New("invalid request")
)

// QuotaExceededError rejects a submission at admission, before any backend call
type QuotaExceededError struct {
	TenantID string
	Level    quota.Level
	Needed   int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenant %s: %v (needed %d tokens)", e.TenantID, ErrQuotaExceeded, e.Needed)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }
