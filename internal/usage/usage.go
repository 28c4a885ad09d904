// Package usage persists the usage record of every finished request.
//
// The scheduler hands each record to a single Recorder. Fanout composes
// several sinks:
//
//   - QueueRecorder buffers records on a queue.Queue and drains it in batches
//     into a BatchWriter (Postgres, S3 archive), retrying failed records one
//     by one and parking them on a dead-letter queue when retries run out.
//   - RedisCostMirror keeps a per-tenant monthly cost counter in Redis.
//   - LogRecorder only logs.
package usage

import (
	"context"
	"errors"
	"fmt"

	"tenant_gateway/internal/models"
	"tenant_gateway/internal/utils"
)

// Recorder durably stores usage records
type Recorder interface {
	Persist(ctx context.Context, rec *models.UsageRecord) error
}

// BatchWriter writes records to a sink in one operation
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*models.UsageRecord) error
}

// Fanout sends every record to all recorders. A failing recorder does not
// stop the others; their errors are joined.
type Fanout []Recorder

// Persist implements Recorder
func (f Fanout) Persist(ctx context.Context, rec *models.UsageRecord) error {
	var errs []error
	for _, r := range f {
		if err := r.Persist(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", r, err))
		}
	}
	return errors.Join(errs...)
}

// LogRecorder logs each record and stores nothing. It is the recorder used
// when no database is configured.
type LogRecorder struct {
	logger *utils.Logger
}

// NewLogRecorder creates a log-only recorder
func NewLogRecorder() *LogRecorder {
	return &LogRecorder{logger: utils.NewLogger("usage")}
}

// Persist implements Recorder
func (r *LogRecorder) Persist(ctx context.Context, rec *models.UsageRecord) error {
	r.logger.Info("Usage",
		"request_id", rec.RequestID,
		"tenant_id", rec.TenantID,
		"agent_id", rec.AgentID,
		"model", rec.ModelName,
		"total_tokens", rec.TotalTokens,
		"cost_usd", rec.CostUSD,
		"duration_ms", rec.DurationMS,
	)
	return nil
}
