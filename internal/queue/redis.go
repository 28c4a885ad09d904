package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using a Redis list. The client is shared and
// owned by the caller; Close does not close it.
type RedisQueue struct {
	client *redis.Client
	config *Config
	qKey   string
}

func checkRedisArgs(client *redis.Client, config *Config) error {
	switch {
	case client == nil:
		return errors.New("redis client is required")
	case config == nil || config.QueueName == "":
		return errors.New("queue name is required")
	}
	return nil
}

// NewRedisQueue buffers items in the list "queue:<name>"
func NewRedisQueue(client *redis.Client, config *Config) (*RedisQueue, error) {
	if err := checkRedisArgs(client, config); err != nil {
		return nil, err
	}
	return &RedisQueue{client: client, config: config, qKey: "queue:" + config.QueueName}, nil
}

// Enqueue adds an item to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, item interface{}) error {
	data, err := serializeItem(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if err := q.client.RPush(ctx, q.qKey, []byte(data)).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}

	return nil
}

// Dequeue retrieves items from the queue
func (q *RedisQueue) Dequeue(ctx context.Context, maxItems int) ([]interface{}, error) {
	// Block until at least one item is available
	result, err := q.client.BLPop(ctx, 0, q.qKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	// result[0] is the key, result[1] is the value
	return q.popMore(ctx, []interface{}{json.RawMessage(result[1])}, maxItems), nil
}

// DequeueWithTimeout retrieves items with a timeout
func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error) {
	result, err := q.client.BLPop(ctx, timeout, q.qKey).Result()
	if errors.Is(err, redis.Nil) {
		return []interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	return q.popMore(ctx, []interface{}{json.RawMessage(result[1])}, maxItems), nil
}

// popMore takes up to maxItems in total without blocking
func (q *RedisQueue) popMore(ctx context.Context, items []interface{}, maxItems int) []interface{} {
	if len(items) >= maxItems {
		return items
	}
	more, err := q.client.LPopCount(ctx, q.qKey, maxItems-len(items)).Result()
	if err != nil {
		// redis.Nil when empty; anything else is retried on the next call
		return items
	}
	for _, m := range more {
		items = append(items, json.RawMessage(m))
	}
	return items
}

// Length returns the current queue length
func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.qKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

// Close is a no-op; the shared client is closed by its owner
func (q *RedisQueue) Close() error {
	return nil
}

// RedisDeadLetterQueue implements DeadLetterQueue using a Redis hash
type RedisDeadLetterQueue struct {
	client *redis.Client
	dlKey  string
}

// NewRedisDeadLetterQueue keeps failed items in the hash "dlq:<name>",
// keyed by item id
func NewRedisDeadLetterQueue(client *redis.Client, config *Config) (*RedisDeadLetterQueue, error) {
	if err := checkRedisArgs(client, config); err != nil {
		return nil, err
	}
	return &RedisDeadLetterQueue{client: client, dlKey: "dlq:" + config.QueueName}, nil
}

// Add adds a failed item to the dead letter queue
func (q *RedisDeadLetterQueue) Add(ctx context.Context, item interface{}, err error) error {
	dlItem, buildErr := newDeadLetterItem(item, err)
	if buildErr != nil {
		return buildErr
	}

	data, marshalErr := json.Marshal(dlItem)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", marshalErr)
	}

	if err := q.client.HSet(ctx, q.dlKey, dlItem.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}

	return nil
}

// List retrieves items from the dead letter queue, oldest first
func (q *RedisDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	results, err := q.client.HGetAll(ctx, q.dlKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(results))
	for _, data := range results {
		var dlItem DeadLetterItem
		if err := json.Unmarshal([]byte(data), &dlItem); err != nil {
			continue // Skip malformed items
		}
		items = append(items, dlItem)
	}

	return limitOldestFirst(items, maxItems), nil
}

// Remove removes an item from the dead letter queue
func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	removed, err := q.client.HDel(ctx, q.dlKey, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	if removed == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner
func (q *RedisDeadLetterQueue) Close() error {
	return nil
}
