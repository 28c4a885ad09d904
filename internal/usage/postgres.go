package usage

import (
	"context"

	"tenant_gateway/internal/models"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/storage"
)

// UsageStore is the part of storage.UsageRepository the recorder needs
type UsageStore interface {
	CreateBatch(ctx context.Context, records []*models.UsageRecord) error
}

// PostgresWriter writes batches in one transaction
type PostgresWriter struct {
	store UsageStore
}

// NewPostgresWriter creates a writer over a usage store
func NewPostgresWriter(store UsageStore) *PostgresWriter {
	return &PostgresWriter{store: store}
}

// WriteBatch implements BatchWriter
func (w *PostgresWriter) WriteBatch(ctx context.Context, records []*models.UsageRecord) error {
	return w.store.CreateBatch(ctx, records)
}

// NewPostgresRecorder buffers records on q and inserts them with repo
func NewPostgresRecorder(repo *storage.UsageRepository, q queue.Queue, dlq queue.DeadLetterQueue, config *queue.Config) *QueueRecorder {
	return NewQueueRecorder("postgres", q, dlq, NewPostgresWriter(repo), config)
}
