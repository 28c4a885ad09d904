package scheduler

import (
	"context"
	"time"

	"tenant_gateway/internal/models"
)

// UsageRecorder durably stores usage records. Persist is called once per
// finished request, including requests that completed after their timeout.
// Errors are logged by the scheduler and never reach the submitter.
type UsageRecorder interface {
	Persist(ctx context.Context, rec *models.UsageRecord) error
}

// Observer receives scheduler events, typically for metrics
type Observer interface {
	ObserveSubmission(tenantID, outcome string)
	ObserveFinished(tenantID string, status models.RequestStatus, d time.Duration)
	ObserveUsage(tenantID, model string, tokens int, cost float64)
	ObserveLoad(active, queued int)
}

type noopObserver struct{}

func (noopObserver) ObserveSubmission(string, string)                          {}
func (noopObserver) ObserveFinished(string, models.RequestStatus, time.Duration) {}
func (noopObserver) ObserveUsage(string, string, int, float64)                 {}
func (noopObserver) ObserveLoad(int, int)                                      {}

// Submission outcomes reported to the Observer
const (
	OutcomeAccepted      = "accepted"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeQueueFull     = "queue_full"
)
