package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tenant_gateway/internal/models"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/utils"
)

// ErrNoDeadLetterQueue is returned by the dead-letter helpers of a recorder
// built without one
var ErrNoDeadLetterQueue = errors.New("dead letter queue not configured")

// QueueRecorder buffers usage records and writes them asynchronously
type QueueRecorder struct {
	name   string
	queue  queue.Queue
	dlq    queue.DeadLetterQueue
	writer BatchWriter
	config *queue.Config
	logger *utils.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	startOnce   sync.Once
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewQueueRecorder creates a recorder draining q into writer. dlq may be nil.
func NewQueueRecorder(name string, q queue.Queue, dlq queue.DeadLetterQueue, writer BatchWriter, config *queue.Config) *QueueRecorder {
	if config == nil {
		config = queue.DefaultConfig(name)
	}

	return &QueueRecorder{
		name:        name,
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      utils.NewLogger("usage-worker").With("sink", name),
		sleep:       sleepContext,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Name identifies the sink the recorder writes to
func (w *QueueRecorder) Name() string { return w.name }

// Persist enqueues the record; it is written by the worker goroutine
func (w *QueueRecorder) Persist(ctx context.Context, rec *models.UsageRecord) error {
	if err := w.queue.Enqueue(ctx, rec); err != nil {
		return fmt.Errorf("failed to enqueue usage record: %w", err)
	}
	return nil
}

// Start starts the worker goroutine
func (w *QueueRecorder) Start(ctx context.Context) {
	w.startOnce.Do(func() { go w.run(ctx) })
}

// Stop stops the worker after writing what is still queued
func (w *QueueRecorder) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.startOnce.Do(func() { close(w.stoppedChan) })
	<-w.stoppedChan
	return nil
}

func (w *QueueRecorder) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.flush(ctx)
			w.logger.Info("Usage worker stopped")
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			if _, err := w.processBatch(ctx, w.config.BatchTimeout); errors.Is(err, queue.ErrQueueClosed) {
				w.logger.Info("Usage queue closed")
				return
			}
		}
	}
}

// flush drains the queue without waiting for more items
func (w *QueueRecorder) flush(ctx context.Context) {
	for {
		n, err := w.processBatch(ctx, 10*time.Millisecond)
		if n == 0 || err != nil {
			return
		}
	}
}

// processBatch returns how many records it dequeued
func (w *QueueRecorder) processBatch(ctx context.Context, timeout time.Duration) (int, error) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, timeout)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
			return 0, err
		}
		w.logger.Error("Failed to dequeue usage records", "error", err)
		_ = w.sleep(ctx, time.Second)
		return 0, err
	}

	if len(items) == 0 {
		return 0, nil
	}

	records := make([]*models.UsageRecord, 0, len(items))
	for _, item := range items {
		var record models.UsageRecord
		if err := unmarshalItem(item, &record); err != nil {
			w.logger.Error("Failed to unmarshal usage record", "error", err)
			continue
		}
		records = append(records, &record)
	}

	if len(records) == 0 {
		return len(items), nil
	}

	if err := w.writer.WriteBatch(ctx, records); err != nil {
		w.logger.Warn("Failed to write batch, falling back to single records", "count", len(records), "error", err)
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Failed to write usage record", "request_id", record.RequestID, "error", err)
			}
		}
		return len(items), nil
	}

	w.logger.Debug("Wrote usage batch", "count", len(records))
	return len(items), nil
}

// processItem writes one record with retries; MaxRetries counts retries
// after the first attempt
func (w *QueueRecorder) processItem(ctx context.Context, record *models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			if err := w.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		if err := w.writer.WriteBatch(ctx, []*models.UsageRecord{record}); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, record, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage record moved to DLQ", "request_id", record.RequestID, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

func unmarshalItem(item interface{}, record *models.UsageRecord) error {
	switch v := item.(type) {
	case *models.UsageRecord:
		*record = *v
		return nil
	case json.RawMessage:
		return json.Unmarshal(v, record)
	case []byte:
		return json.Unmarshal(v, record)
	case string:
		return json.Unmarshal([]byte(v), record)
	default:
		return fmt.Errorf("unexpected queue item %T", item)
	}
}

// QueueLength returns the number of records waiting to be written
func (w *QueueRecorder) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetters lists records that could not be written, oldest first
func (w *QueueRecorder) DeadLetters(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, ErrNoDeadLetterQueue
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetter puts a dead-lettered record back on the queue
func (w *QueueRecorder) RetryDeadLetter(ctx context.Context, id string) error {
	if w.dlq == nil {
		return ErrNoDeadLetterQueue
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dl := range items {
		if dl.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dl.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
