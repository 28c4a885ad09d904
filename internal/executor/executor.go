// Package executor runs a request against the models of a model set.
//
// Attempt drives one model: it calls the Backend up to the model's
// MaxAttempts times, backing off exponentially between transient failures.
// Run drives the whole set: it asks the scoreboard for the cheapest model not
// yet tried, runs Attempt on it, and on failure penalizes that model and moves
// on to the next one until a model succeeds or none is left.
//
//	                  +-----------+
//	     +----------->| Pick next |----- none left ----> AllModelsExhausted
//	     |            +-----------+
//	     |                  |
//	 penalize +            v
//	 exclude        +--------------+   transient   +---------+
//	     |          |   Backend    |-------------->| backoff |--+
//	     |          +--------------+               +---------+  |
//	     |            |    |    ^                               |
//	     +--- abort / hard |    +-------------------------------+
//	     +--- retries used up
//	                       |
//	                    success ----> AddTokens, return
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/routing"
	"tenant_gateway/internal/utils"
)

// Result is what a backend returns for a successful call
type Result struct {
	Content    string
	Usage      models.Usage
	Raw        []byte
	StatusCode int
	Latency    time.Duration
}

// Backend executes one call against one model. Failures should be reported
// as *BackendError so they can be classified; any other error is hard.
type Backend interface {
	Attempt(ctx context.Context, model config.ModelCandidateConfig, payload map[string]any) (*Result, error)
}

// Observer receives attempt-level events. Implementations must be fast.
type Observer interface {
	ObserveAttempt(model string, outcome string, d time.Duration)
	ObserveFailover(model string, kind ErrorKind)
}

type noopObserver struct{}

func (noopObserver) ObserveAttempt(string, string, time.Duration) {}
func (noopObserver) ObserveFailover(string, ErrorKind)            {}

// Executor is safe for concurrent use
type Executor struct {
	backend  Backend
	observer Observer
	logger   *utils.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes an Executor
type Option func(*Executor)

// WithObserver sets the attempt observer
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithSleep replaces the backoff sleep, used by tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// New creates an executor around a backend
func New(backend Backend, opts ...Option) *Executor {
	e := &Executor{
		backend:  backend,
		observer: noopObserver{},
		logger:   utils.NewLogger("executor"),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Classify maps a backend error to a kind using the model's retry policy.
// Non-2xx codes outside the retryable set are treated like abort codes.
func Classify(err error, policy config.RetryPolicy) ErrorKind {
	if errors.Is(err, ErrModelUnavailable) {
		return KindAbort
	}
	if errors.Is(err, ErrEmptyResponse) {
		if policy.RetryEmptyResult {
			return KindTransient
		}
		return KindAbort
	}

	var be *BackendError
	if !errors.As(err, &be) {
		return KindHard
	}
	switch {
	case be.StatusCode == 0:
		return KindTransient
	case policy.IsAbort(be.StatusCode):
		return KindAbort
	case policy.IsRetryable(be.StatusCode):
		return KindTransient
	default:
		return KindAbort
	}
}

// Attempt runs one model with its retry policy. Failures are returned as
// *ModelAttemptFailed.
func (e *Executor) Attempt(ctx context.Context, model config.ModelCandidateConfig, payload map[string]any) (*Result, error) {
	policy := model.Retry
	if policy.MaxAttempts <= 0 {
		return nil, &ModelAttemptFailed{Model: model.Name, Kind: KindHard, Err: ErrNoAttempts}
	}

	var lastErr error
	var lastKind ErrorKind
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := policy.Backoff(attempt - 1)
			e.logger.Warn("Retrying model", "model", model.Name, "attempt", attempt,
				"remaining", policy.MaxAttempts-attempt+1, "backoff", backoff, "error", lastErr)
			if err := e.sleep(ctx, backoff); err != nil {
				return nil, &ModelAttemptFailed{Model: model.Name, Attempts: attempt - 1, Kind: lastKind, Err: err}
			}
		}

		start := time.Now()
		res, err := e.backend.Attempt(ctx, model, payload)
		if err == nil && res == nil {
			err = &BackendError{Model: model.Name, Err: ErrEmptyResponse}
		}
		if err == nil {
			e.observer.ObserveAttempt(model.Name, "success", time.Since(start))
			return res, nil
		}

		lastErr = err
		lastKind = Classify(err, policy)
		e.observer.ObserveAttempt(model.Name, lastKind.String(), time.Since(start))

		if ctx.Err() != nil {
			return nil, &ModelAttemptFailed{Model: model.Name, Attempts: attempt, Kind: lastKind, Err: err}
		}
		if lastKind != KindTransient {
			return nil, &ModelAttemptFailed{Model: model.Name, Attempts: attempt, Kind: lastKind, Err: err}
		}
	}

	return nil, &ModelAttemptFailed{Model: model.Name, Attempts: policy.MaxAttempts, Kind: lastKind, Err: lastErr}
}

// RunOptions carries per-request hooks for Run
type RunOptions struct {
	// Cancelled is polled before every model after the first. When it
	// reports true the loop stops with an error wrapping ErrCancelled.
	Cancelled func() bool
	// OnSelect is called with each model chosen, before its attempt starts.
	OnSelect func(model string)
}

// ErrCancelled is returned by Run when a cancellation was observed between models
var ErrCancelled = errors.New("cancelled")

// Outcome describes a successful Run
type Outcome struct {
	Model  config.ModelCandidateConfig
	Result *Result
	Tried  []string
}

// Run serves payload from the model set, failing over between models in
// scoreboard order. Every model is tried at most once.
func (e *Executor) Run(ctx context.Context, board *routing.Scoreboard, set config.ModelSetConfig, payload map[string]any, opts RunOptions) (*Outcome, error) {
	byName := make(map[string]config.ModelCandidateConfig, len(set.Models))
	for _, m := range set.Models {
		byName[m.Name] = m
	}

	exclude := make(map[string]bool, len(set.Models))
	var tried []string
	var lastErr error

	for {
		if len(tried) > 0 {
			if opts.Cancelled != nil && opts.Cancelled() {
				return nil, fmt.Errorf("%w after %d model(s): %v", ErrCancelled, len(tried), lastErr)
			}
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("failover interrupted: %w", err)
			}
		}

		name, release, err := board.Pick(exclude)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			e.logger.Error("All models failed", "model_set", set.Name, "tried", tried, "error", lastErr)
			return nil, &AllModelsExhausted{Tried: tried, Err: lastErr}
		}

		model, ok := byName[name]
		if !ok {
			// the scoreboard knows a model the set no longer declares
			release()
			exclude[name] = true
			continue
		}

		tried = append(tried, name)
		if opts.OnSelect != nil {
			opts.OnSelect(name)
		}

		res, err := e.attemptAndRelease(ctx, model, payload, release)
		if err == nil {
			board.AddTokens(name, res.Usage.TotalTokens)
			return &Outcome{Model: model, Result: res, Tried: tried}, nil
		}

		board.Penalize(name)
		exclude[name] = true

		var maf *ModelAttemptFailed
		kind := KindHard
		lastErr = err
		if errors.As(err, &maf) {
			kind = maf.Kind
			if maf.Err != nil {
				lastErr = maf.Err
			}
		}
		e.observer.ObserveFailover(name, kind)
		e.logger.Warn("Model attempt failed, switching model", "model", name, "kind", kind.String(), "error", err)
	}
}

func (e *Executor) attemptAndRelease(ctx context.Context, model config.ModelCandidateConfig, payload map[string]any, release func()) (*Result, error) {
	defer release()
	return e.Attempt(ctx, model, payload)
}
