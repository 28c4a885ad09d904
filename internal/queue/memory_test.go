package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	RequestID string `json:"request_id"`
	Tokens    int    `json:"tokens"`
}

func decodeRecord(t *testing.T, item interface{}) testRecord {
	t.Helper()
	raw, ok := item.(json.RawMessage)
	require.True(t, ok, "items are dequeued as json.RawMessage, got %T", item)
	var rec testRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	return rec
}

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testRecord{RequestID: "r1", Tokens: 10}))

	items, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, testRecord{RequestID: "r1", Tokens: 10}, decodeRecord(t, items[0]))
}

func TestMemoryQueue_Batches(t *testing.T) {
	config := DefaultConfig("batch-test")
	config.BatchSize = 10
	q := NewMemoryQueue(config)
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, q.Enqueue(ctx, testRecord{Tokens: i}))
	}

	items, err := q.Dequeue(ctx, config.BatchSize)
	require.NoError(t, err)
	assert.Len(t, items, 10)
	assert.Equal(t, 0, decodeRecord(t, items[0]).Tokens)

	// partial batch returns at once
	start := time.Now()
	items, err = q.DequeueWithTimeout(ctx, config.BatchSize, time.Second)
	require.NoError(t, err)
	assert.Len(t, items, 5)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMemoryQueue_DequeueWithTimeout(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	start := time.Now()
	items, err := q.DequeueWithTimeout(context.Background(), 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueue_ContextCancelled(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, q.Enqueue(ctx, testRecord{Tokens: id*50 + j}))
			}
		}(i)
	}
	wg.Wait()

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, length)
}

func TestMemoryQueue_CloseDrains(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testRecord{RequestID: "left"}))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, testRecord{}), ErrQueueClosed)

	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "left", decodeRecord(t, items[0]).RequestID)

	_, err = q.Dequeue(ctx, 10)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, testRecord{RequestID: "r1"}, errors.New("insert failed")))
	time.Sleep(time.Millisecond)
	require.NoError(t, dlq.Add(ctx, testRecord{RequestID: "r2"}, ErrMaxRetriesExceeded))

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "insert failed", items[0].Error)

	var rec testRecord
	require.NoError(t, items[0].Decode(&rec))
	assert.Equal(t, "r1", rec.RequestID)

	limited, err := dlq.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, items[0].ID), ErrItemNotFound)

	items, err = dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, dlq.Close())
	assert.ErrorIs(t, dlq.Add(ctx, testRecord{}, errors.New("x")), ErrQueueClosed)
	_, err = dlq.List(ctx, 0)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
