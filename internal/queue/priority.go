package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"tenant_gateway/internal/models"
)

// RequestQueue is a bounded queue of pending requests partitioned by
// priority. Get serves the highest non-empty priority first and is FIFO
// within a priority. Put never blocks; it rejects when the queue is full.
type RequestQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buckets map[models.Priority]*list.List
	index   map[string]*list.Element
	maxSize int
	closed  bool
	now     func() time.Time

	enqueued  int64
	dequeued  int64
	cancelled int64
	rejected  int64
}

// NewRequestQueue creates a queue holding at most maxSize requests
func NewRequestQueue(maxSize int) *RequestQueue {
	if maxSize < 1 {
		maxSize = 1
	}
	q := &RequestQueue{
		buckets: make(map[models.Priority]*list.List, len(models.Priorities)),
		index:   make(map[string]*list.Element),
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, p := range models.Priorities {
		q.buckets[p] = list.New()
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put enqueues req and marks it QUEUED. It returns false when the queue is
// full or closed, or when a request with the same id is already queued.
func (q *RequestQueue) Put(req *models.Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.index) >= q.maxSize {
		q.rejected++
		return false
	}
	if _, dup := q.index[req.ID]; dup {
		q.rejected++
		return false
	}

	bucket := q.bucketFor(req.Priority)

	req.Update(func(r *models.Request) {
		r.Status = models.StatusQueued
		r.QueuedAt = q.now()
	})
	q.index[req.ID] = bucket.PushBack(req)
	q.enqueued++
	q.cond.Signal()
	return true
}

// bucketFor maps unknown priorities to the normal bucket
func (q *RequestQueue) bucketFor(p models.Priority) *list.List {
	if bucket, ok := q.buckets[p]; ok {
		return bucket
	}
	return q.buckets[models.PriorityNormal]
}

// Get blocks until a request is available, ctx is done or the queue is
// closed. The returned request is marked PROCESSING with its start time set.
func (q *RequestQueue) Get(ctx context.Context) (*models.Request, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req := q.popLocked(); req != nil {
			return req, nil
		}
		q.cond.Wait()
	}
}

// TryGet returns the next request without blocking, or nil when empty
func (q *RequestQueue) TryGet() *models.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	return q.popLocked()
}

func (q *RequestQueue) popLocked() *models.Request {
	for _, p := range models.Priorities {
		bucket := q.buckets[p]
		front := bucket.Front()
		if front == nil {
			continue
		}
		bucket.Remove(front)
		req := front.Value.(*models.Request)
		delete(q.index, req.ID)
		q.dequeued++

		req.Update(func(r *models.Request) {
			r.Status = models.StatusProcessing
			r.StartedAt = q.now()
		})
		return req
	}
	return nil
}

// Cancel removes a PENDING or QUEUED request and marks it CANCELLED
func (q *RequestQueue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	elem, ok := q.index[id]
	if !ok {
		return false
	}
	req := elem.Value.(*models.Request)

	cancelled := false
	req.Update(func(r *models.Request) {
		if r.Status != models.StatusPending && r.Status != models.StatusQueued {
			return
		}
		r.Status = models.StatusCancelled
		r.CompletedAt = q.now()
		r.Err = ErrRequestCancelled
		r.ErrorCode = "cancelled"
		cancelled = true
	})
	if !cancelled {
		return false
	}

	q.bucketFor(req.Priority).Remove(elem)
	delete(q.index, id)
	q.cancelled++
	return true
}

// Len returns the number of queued requests
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// Contains reports whether id is queued
func (q *RequestQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[id]
	return ok
}

// Stats is a point-in-time view of the queue
type Stats struct {
	Size     int                          `json:"size"`
	MaxSize  int                          `json:"max_size"`
	Depth    map[string]int               `json:"depth"`
	Statuses map[models.RequestStatus]int `json:"statuses"`
	Enqueued int64                        `json:"enqueued"`
	Dequeued int64                        `json:"dequeued"`
	Rejected int64                        `json:"rejected"`
}

// Stats reports per-priority depth and a histogram of the transitions the
// queue has applied: queued now, handed out for processing, cancelled.
func (q *RequestQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := make(map[string]int, len(q.buckets))
	for p, bucket := range q.buckets {
		depth[p.String()] = bucket.Len()
	}
	return Stats{
		Size:    len(q.index),
		MaxSize: q.maxSize,
		Depth:   depth,
		Statuses: map[models.RequestStatus]int{
			models.StatusQueued:     len(q.index),
			models.StatusProcessing: int(q.dequeued),
			models.StatusCancelled:  int(q.cancelled),
		},
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Rejected: q.rejected,
	}
}

// Close wakes every blocked Get and returns the requests still queued,
// highest priority first. Later Puts are rejected.
func (q *RequestQueue) Close() []*models.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	var remaining []*models.Request
	for _, p := range models.Priorities {
		bucket := q.buckets[p]
		for e := bucket.Front(); e != nil; e = e.Next() {
			remaining = append(remaining, e.Value.(*models.Request))
		}
		bucket.Init()
	}
	q.index = make(map[string]*list.Element)
	q.cond.Broadcast()
	return remaining
}
