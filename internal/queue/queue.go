// Package queue holds the two queues of the gateway.
//
// RequestQueue is the admission queue in front of the scheduler: bounded,
// partitioned by priority, served highest priority first and FIFO within a
// priority.
//
// Queue and DeadLetterQueue buffer finished work (usage records) between the
// scheduler and slow sinks, with two backends:
//
//  1. Memory queue: no persistence, data lost on restart, no dependencies.
//  2. Redis queue (Redis lists): survives restarts of the gateway and can be
//     drained by several workers.
//
// Architecture:
//
//	┌──────────────┐  Put   ┌──────────────┐  Get   ┌──────────────┐
//	│    Submit    │───────▶│ RequestQueue │───────▶│   Workers    │
//	└──────────────┘        └──────────────┘        └──────┬───────┘
//	                                                       │ usage record
//	                                                       ▼
//	                                                ┌──────────────┐
//	                                                │ Usage Queue  │
//	                                                └──────┬───────┘
//	                                                       │ batches
//	                                                       ▼
//	                                                ┌──────────────┐ retries ┌─────┐
//	                                                │ Usage Worker │────────▶│ DLQ │
//	                                                └──────┬───────┘         └─────┘
//	                                                       ▼
//	                                                ┌──────────────┐
//	                                                │   Postgres   │
//	                                                └──────────────┘
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue retrieves items from the queue (up to maxItems)
	// Blocks until at least one item is available or context is cancelled
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout retrieves items with a timeout
	// Returns items if available before timeout, empty slice otherwise
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// DeadLetterQueue defines the interface for handling failed items
type DeadLetterQueue interface {
	// Add adds a failed item to the dead letter queue with error info
	Add(ctx context.Context, item interface{}, err error) error

	// List retrieves items from the dead letter queue, oldest first
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove removes an item from the dead letter queue
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem represents an item in the dead letter queue
type DeadLetterItem struct {
	ID        string          `json:"id"`
	Item      json.RawMessage `json:"item"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`

	// Source names the worker that parked the item. It is set when listing
	// across several workers and is not stored.
	Source string `json:"source,omitempty"`
}

// Decode unmarshals the stored item into target
func (d DeadLetterItem) Decode(target interface{}) error {
	return json.Unmarshal(d.Item, target)
}

// Config holds usage queue configuration
type Config struct {
	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}
