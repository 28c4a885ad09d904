package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements Queue using a buffered channel. Items are stored
// JSON-encoded and dequeued as json.RawMessage, the same shape RedisQueue
// returns, so consumers decode them the same way for both backends.
type MemoryQueue struct {
	items     chan json.RawMessage
	done      chan struct{}
	closeOnce sync.Once
	config    *Config
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}

	return &MemoryQueue{
		items:  make(chan json.RawMessage, config.BatchSize*10), // Buffer for 10 batches
		done:   make(chan struct{}),
		config: config,
	}
}

// Enqueue adds an item to the queue, blocking while the buffer is full
func (q *MemoryQueue) Enqueue(ctx context.Context, item interface{}) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	data, err := serializeItem(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	select {
	case q.items <- data:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue retrieves items from the queue
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]interface{}, error) {
	var first json.RawMessage
	select {
	case first = <-q.items:
	case <-q.done:
		return q.drain(maxItems)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return q.fill([]interface{}{first}, maxItems), nil
}

// DequeueWithTimeout retrieves items with a timeout
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var first json.RawMessage
	select {
	case first = <-q.items:
	case <-timer.C:
		return []interface{}{}, nil
	case <-q.done:
		return q.drain(maxItems)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return q.fill([]interface{}{first}, maxItems), nil
}

// fill takes more items without blocking
func (q *MemoryQueue) fill(items []interface{}, maxItems int) []interface{} {
	for len(items) < maxItems {
		select {
		case item := <-q.items:
			items = append(items, item)
		default:
			return items
		}
	}
	return items
}

// drain hands out what is left after Close, then reports the queue closed
func (q *MemoryQueue) drain(maxItems int) ([]interface{}, error) {
	items := q.fill(nil, maxItems)
	if len(items) == 0 {
		return nil, ErrQueueClosed
	}
	return items, nil
}

// Length returns the current queue length
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	return len(q.items), nil
}

// Close stops accepting items. Items already queued can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue using in-memory storage
type MemoryDeadLetterQueue struct {
	items  map[string]DeadLetterItem
	mu     sync.RWMutex
	closed bool
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{
		items: make(map[string]DeadLetterItem),
	}
}

// Add adds a failed item to the dead letter queue
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, item interface{}, err error) error {
	dlItem, buildErr := newDeadLetterItem(item, err)
	if buildErr != nil {
		return buildErr
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items[dlItem.ID] = dlItem
	return nil
}

// List retrieves items from the dead letter queue, oldest first
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	result := make([]DeadLetterItem, 0, len(q.items))
	for _, item := range q.items {
		result = append(result, item)
	}
	return limitOldestFirst(result, maxItems), nil
}

// Remove removes an item from the dead letter queue
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(q.items, id)
	return nil
}

// Close shuts down the dead letter queue
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}

func newDeadLetterItem(item interface{}, err error) (DeadLetterItem, error) {
	data, marshalErr := serializeItem(item)
	if marshalErr != nil {
		return DeadLetterItem{}, fmt.Errorf("failed to marshal dead letter item: %w", marshalErr)
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return DeadLetterItem{
		ID:        uuid.NewString(),
		Item:      data,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}, nil
}

func limitOldestFirst(items []DeadLetterItem, maxItems int) []DeadLetterItem {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

// serializeItem keeps already encoded items as they are
func serializeItem(item interface{}) (json.RawMessage, error) {
	if raw, ok := item.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(item)
}
