package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a backend failure
type ErrorKind int

const (
	// KindTransient failures may succeed when retried on the same model:
	// network errors, empty responses and retryable status codes.
	KindTransient ErrorKind = iota
	// KindAbort failures stop retries on the model but still fail over.
	KindAbort
	// KindHard failures are not recognized backend errors. They fail the
	// model attempt at once.
	KindHard
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAbort:
		return "abort"
	default:
		return "hard"
	}
}

var (
	// ErrEmptyResponse is returned by backends when a 2xx reply carries no content
	ErrEmptyResponse = errors.New("empty response")
	// ErrModelUnavailable is returned when a model is known to be down, such as
	// an open circuit breaker. It is abort-class.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrNoAttempts is the cause of a model attempt that was configured with zero attempts
	ErrNoAttempts = errors.New("model not attempted: max_retry is zero")
)

// BackendError is returned by a Backend for a failed call. StatusCode is zero
// for network-level failures.
type BackendError struct {
	Model      string
	StatusCode int
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "model %s", e.Model)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		body := e.Body
		if len(body) > 256 {
			body = body[:256] + "..."
		}
		fmt.Fprintf(&b, ": %s", body)
	}
	return b.String()
}

func (e *BackendError) Unwrap() error { return e.Err }

// ModelAttemptFailed is the result of a model whose retries were used up or
// that hit a non-retryable error.
type ModelAttemptFailed struct {
	Model    string
	Attempts int
	Kind     ErrorKind
	Err      error
}

func (e *ModelAttemptFailed) Error() string {
	return fmt.Sprintf("model %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *ModelAttemptFailed) Unwrap() error { return e.Err }

// AllModelsExhausted is returned when every candidate of a model set failed.
// Err is the last model's underlying error.
type AllModelsExhausted struct {
	Tried []string
	Err   error
}

func (e *AllModelsExhausted) Error() string {
	return fmt.Sprintf("all %d models failed: %v", len(e.Tried), e.Err)
}

func (e *AllModelsExhausted) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status of a backend error chain, or 0
func StatusCode(err error) int {
	var be *BackendError
	if errors.As(err, &be) {
		return be.StatusCode
	}
	return 0
}
