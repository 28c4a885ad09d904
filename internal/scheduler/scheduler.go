// Package scheduler admits, queues and executes tenant requests.
//
// Submit checks the tenant quota, then puts the request on the priority
// queue. A single dispatcher goroutine takes requests off the queue while
// fewer than MaxConcurrent are active and starts one worker per request.
// Workers run the failover loop of the executor, then record usage with the
// quota manager and the UsageRecorder.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/executor"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/quota"
	"tenant_gateway/internal/routing"
	"tenant_gateway/internal/utils"
)

const persistTimeout = 10 * time.Second

// ModelSets resolves the model set serving a request
type ModelSets interface {
	ModelSet(name string) (config.ModelSetConfig, bool)
	DefaultModelSet(requestType string) (config.ModelSetConfig, bool)
}

// Runner executes a request against a model set
type Runner interface {
	Run(ctx context.Context, board *routing.Scoreboard, set config.ModelSetConfig, payload map[string]any, opts executor.RunOptions) (*executor.Outcome, error)
}

// SubmitRequest is the input of Submit
type SubmitRequest struct {
	TenantID string
	AgentID  string
	// ModelSet names the model set; empty selects the default set of RequestType
	ModelSet    string
	RequestType models.RequestType
	Priority    models.Priority
	Payload     map[string]any
	// TokenEstimate is the admission estimate; 0 uses the configured default
	TokenEstimate int
	// Timeout bounds processing time from dequeue; 0 uses the configured default
	Timeout    time.Duration
	Platform   string
	ChatStream string
	// OnComplete is called once when the request reaches a terminal status
	OnComplete func(models.RequestView)
}

// Stats are aggregate scheduler counters
type Stats struct {
	Submitted     int64                        `json:"submitted"`
	Completed     int64                        `json:"completed"`
	Failed        int64                        `json:"failed"`
	Cancelled     int64                        `json:"cancelled"`
	QuotaRejected int64                        `json:"quota_rejected"`
	QueueRejected int64                        `json:"queue_rejected"`
	TimedOut      int64                        `json:"timed_out"`
	Active        int                          `json:"active"`
	QueueDepth    int                          `json:"queue_depth"`
	MaxConcurrent int                          `json:"max_concurrent"`
	Running       bool                         `json:"running"`
	Tracked       int                          `json:"tracked"`
	Statuses      map[models.RequestStatus]int `json:"statuses"`
	Queue         queue.Stats                  `json:"queue"`
}

type entry struct {
	req        *models.Request
	set        config.ModelSetConfig
	onComplete func(models.RequestView)
	notifyOnce sync.Once
}

type runResult struct {
	outcome *executor.Outcome
	err     error
}

// Scheduler is safe for concurrent use
type Scheduler struct {
	cfg      config.SchedulerConfig
	sets     ModelSets
	quotas   *quota.Manager
	runner   Runner
	boards   *routing.Registry
	recorder UsageRecorder
	queue    *queue.RequestQueue
	observer Observer
	logger   *utils.Logger
	now      func() time.Time

	mu       sync.RWMutex
	requests map[string]*entry
	active   int
	stats    Stats
	closed   bool

	slotFreed chan struct{}

	startOnce      sync.Once
	dispatchCtx    context.Context
	stopDispatch   context.CancelFunc
	workCtx        context.Context
	stopWork       context.CancelFunc
	dispatcherDone chan struct{}
	workers        sync.WaitGroup
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// New creates a scheduler. recorder may be nil. The dispatcher starts on the
// first Submit or on Start.
func New(cfg config.SchedulerConfig, sets ModelSets, quotas *quota.Manager, runner Runner, boards *routing.Registry, recorder UsageRecorder, opts ...Option) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	if cfg.TokenEstimate <= 0 {
		cfg.TokenEstimate = 1000
	}
	if boards == nil {
		boards = routing.NewRegistry()
	}

	s := &Scheduler{
		cfg:            cfg,
		sets:           sets,
		quotas:         quotas,
		runner:         runner,
		boards:         boards,
		recorder:       recorder,
		queue:          queue.NewRequestQueue(cfg.QueueSize),
		observer:       noopObserver{},
		logger:         utils.NewLogger("scheduler"),
		now:            time.Now,
		requests:       make(map[string]*entry),
		slotFreed:      make(chan struct{}, 1),
		dispatcherDone: make(chan struct{}),
	}
	s.dispatchCtx, s.stopDispatch = context.WithCancel(context.Background())
	s.workCtx, s.stopWork = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit admits a request and returns its id. Requests rejected by the quota
// or by a full queue are still tracked: they are FAILED and visible through
// GetStatus. An error is returned only for invalid input or after Shutdown.
func (s *Scheduler) Submit(in SubmitRequest) (string, error) {
	if in.TenantID == "" {
		return "", fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	if !in.Priority.Valid() {
		return "", fmt.Errorf("%w: priority %d", ErrInvalidRequest, in.Priority)
	}
	set, err := s.resolveModelSet(in)
	if err != nil {
		return "", err
	}

	need := in.TokenEstimate
	if need <= 0 {
		need = s.cfg.TokenEstimate
	}
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}
	requestType := in.RequestType
	if requestType == "" {
		requestType = models.RequestType(set.RequestType)
	}

	req := &models.Request{
		ID:          uuid.NewString(),
		TenantID:    in.TenantID,
		AgentID:     in.AgentID,
		Platform:    in.Platform,
		ChatStream:  in.ChatStream,
		Type:        requestType,
		ModelSet:    set.Name,
		Priority:    in.Priority,
		Status:      models.StatusPending,
		Payload:     in.Payload,
		TokenBudget: need,
		Timeout:     timeout,
		CreatedAt:   s.now(),
	}
	e := &entry{req: req, set: set, onComplete: in.OnComplete}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrShutdown
	}
	s.requests[req.ID] = e
	s.stats.Submitted++
	s.mu.Unlock()

	if level := s.quotas.Check(in.TenantID, int64(need)); level == quota.LevelExceeded {
		s.reject(e, &QuotaExceededError{TenantID: in.TenantID, Level: level, Needed: int64(need)}, CodeQuotaExceeded)
		s.count(func(st *Stats) {
			st.QuotaRejected++
			st.Failed++
		})
		s.observer.ObserveSubmission(in.TenantID, OutcomeQuotaExceeded)
		s.logger.Warn("Request rejected: quota exceeded", "request_id", req.ID, "tenant_id", in.TenantID, "needed", need)
		return req.ID, nil
	}

	s.Start()
	if !s.queue.Put(req) {
		s.reject(e, queue.ErrQueueFull, CodeQueueFull)
		s.count(func(st *Stats) {
			st.QueueRejected++
			st.Failed++
		})
		s.observer.ObserveSubmission(in.TenantID, OutcomeQueueFull)
		s.logger.Error("Request rejected: queue full", "request_id", req.ID, "tenant_id", in.TenantID)
		return req.ID, nil
	}

	s.observer.ObserveSubmission(in.TenantID, OutcomeAccepted)
	s.logger.Debug("Request queued", "request_id", req.ID, "tenant_id", in.TenantID,
		"agent_id", in.AgentID, "priority", in.Priority.String(), "model_set", set.Name)
	return req.ID, nil
}

func (s *Scheduler) resolveModelSet(in SubmitRequest) (config.ModelSetConfig, error) {
	if in.ModelSet != "" {
		set, ok := s.sets.ModelSet(in.ModelSet)
		if !ok {
			return config.ModelSetConfig{}, fmt.Errorf("%w: %q", ErrUnknownModelSet, in.ModelSet)
		}
		return set, nil
	}
	requestType := string(in.RequestType)
	if requestType == "" {
		requestType = string(models.RequestTypeResponse)
	}
	set, ok := s.sets.DefaultModelSet(requestType)
	if !ok {
		return config.ModelSetConfig{}, fmt.Errorf("%w: no model set for request type %q", ErrUnknownModelSet, requestType)
	}
	return set, nil
}

// reject fails a request that never reached the queue
func (s *Scheduler) reject(e *entry, err error, code string) {
	now := s.now()
	e.req.Update(func(r *models.Request) {
		r.Status = models.StatusFailed
		r.Err = err
		r.ErrorCode = code
		r.CompletedAt = now
	})
	s.notify(e)
}

func (s *Scheduler) count(fn func(st *Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}

func (s *Scheduler) notify(e *entry) {
	if e.onComplete == nil {
		return
	}
	e.notifyOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Completion callback panicked", "request_id", e.req.ID, "panic", r)
			}
		}()
		e.onComplete(e.req.View())
	})
}

// Start launches the dispatcher. It is called by Submit and is idempotent.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.stats.Running = true
		s.mu.Unlock()

		go s.dispatch()
		if s.cfg.CleanupInterval > 0 && s.cfg.Retention > 0 {
			s.workers.Add(1)
			go s.janitor()
		}
		s.logger.Info("Dispatcher started", "max_concurrent", s.cfg.MaxConcurrent, "queue_size", s.cfg.QueueSize)
	})
}

func (s *Scheduler) dispatch() {
	defer close(s.dispatcherDone)
	defer func() {
		s.mu.Lock()
		s.stats.Running = false
		s.mu.Unlock()
	}()

	for {
		if !s.waitForSlot() {
			return
		}

		req, err := s.queue.Get(s.dispatchCtx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				s.logger.Error("Dispatcher stopped", "error", err)
			}
			return
		}

		// only the dispatcher takes slots, so the check in waitForSlot still holds
		s.mu.Lock()
		e, ok := s.requests[req.ID]
		if ok {
			s.active++
		}
		s.mu.Unlock()
		if !ok {
			// evicted while queued
			continue
		}

		s.workers.Add(1)
		go s.work(e)
	}
}

// waitForSlot waits until fewer than MaxConcurrent requests are active. It
// wakes when a worker finishes or every PollInterval.
func (s *Scheduler) waitForSlot() bool {
	for {
		s.mu.RLock()
		free := s.active < s.cfg.MaxConcurrent
		s.mu.RUnlock()
		if free {
			return true
		}

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-s.dispatchCtx.Done():
			timer.Stop()
			return false
		case <-s.slotFreed:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (s *Scheduler) releaseSlot() {
	s.mu.Lock()
	s.active--
	active := s.active
	s.mu.Unlock()

	select {
	case s.slotFreed <- struct{}{}:
	default:
	}
	s.observer.ObserveLoad(active, s.queue.Len())
}

func (s *Scheduler) work(e *entry) {
	defer s.workers.Done()
	defer s.releaseSlot()

	req := e.req
	s.observer.ObserveLoad(s.Active(), s.queue.Len())

	board := s.boards.Get(routing.Key{TenantID: req.TenantID, AgentID: req.AgentID, ModelSet: e.set.Name}, modelNames(e.set))
	opts := executor.RunOptions{
		Cancelled: func() bool {
			stop := false
			req.Update(func(r *models.Request) {
				stop = r.CancelRequested || r.Status == models.StatusTimeout
			})
			return stop
		},
		OnSelect: func(model string) {
			req.Update(func(r *models.Request) {
				r.ExcludedModels = append(r.ExcludedModels, model)
				r.RetryCount++
			})
		},
	}

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		out, err := s.runner.Run(s.workCtx, board, e.set, req.Payload, opts)
		done <- runResult{outcome: out, err: err}
	}()

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		s.finish(e, res)
	case <-timer.C:
		s.markTimeout(e)
		// the backend call is not interrupted; its usage is still recorded
		s.finish(e, <-done)
	}
}

func (s *Scheduler) markTimeout(e *entry) {
	now := s.now()
	timedOut := false
	e.req.Update(func(r *models.Request) {
		if r.Status != models.StatusProcessing {
			return
		}
		r.Status = models.StatusTimeout
		r.Err = fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
		r.ErrorCode = CodeTimeout
		r.CompletedAt = now
		r.ExecutionTime = now.Sub(r.StartedAt)
		timedOut = true
	})
	if !timedOut {
		return
	}

	s.count(func(st *Stats) { st.TimedOut++ })
	s.observer.ObserveFinished(e.req.TenantID, models.StatusTimeout, e.req.Timeout)
	s.logger.Warn("Request timed out", "request_id", e.req.ID, "tenant_id", e.req.TenantID, "timeout", e.req.Timeout)
	s.notify(e)
}

func (s *Scheduler) finish(e *entry, res runResult) {
	if res.err == nil && (res.outcome == nil || res.outcome.Result == nil) {
		res.err = errors.New("executor returned no result")
	}
	if res.err != nil {
		s.fail(e, res.err)
		return
	}

	now := s.now()
	out := res.outcome
	usage := out.Result.Usage
	cost := models.CalculateCost(usage, out.Model.PriceIn, out.Model.PriceOut)

	var status models.RequestStatus
	var rec *models.UsageRecord
	var elapsed time.Duration
	e.req.Update(func(r *models.Request) {
		r.Model = out.Model.Name
		r.Usage = usage
		r.Cost = cost
		if r.Status == models.StatusProcessing {
			r.Status = models.StatusCompleted
			r.Content = out.Result.Content
			r.CompletedAt = now
			r.ExecutionTime = now.Sub(r.StartedAt)
		}
		status = r.Status
		elapsed = now.Sub(r.StartedAt)
		rec = models.NewUsageRecord(r)
		rec.DurationMS = elapsed.Milliseconds()
	})

	s.quotas.RecordUsage(e.req.TenantID, e.req.AgentID, int64(usage.TotalTokens), cost)
	s.observer.ObserveUsage(e.req.TenantID, out.Model.Name, usage.TotalTokens, cost)
	s.persist(rec)

	if status != models.StatusCompleted {
		s.logger.Info("Late completion recorded", "request_id", e.req.ID, "status", string(status), "model", out.Model.Name)
		return
	}
	s.count(func(st *Stats) { st.Completed++ })
	s.observer.ObserveFinished(e.req.TenantID, models.StatusCompleted, elapsed)
	s.logger.Debug("Request completed", "request_id", e.req.ID, "model", out.Model.Name,
		"tokens", usage.TotalTokens, "cost", cost, "models_tried", len(out.Tried))
	s.notify(e)
}

func (s *Scheduler) fail(e *entry, runErr error) {
	code := CodeInternal
	err := runErr
	var exhausted *executor.AllModelsExhausted
	switch {
	case errors.Is(runErr, executor.ErrCancelled):
		code = CodeCancelled
		err = fmt.Errorf("%w: %v", ErrCancelled, runErr)
	case errors.As(runErr, &exhausted):
		code = CodeModelsExhausted
	case errors.Is(runErr, context.Canceled):
		code = CodeShutdown
	}

	now := s.now()
	failed := false
	var elapsed time.Duration
	e.req.Update(func(r *models.Request) {
		if r.Status != models.StatusProcessing {
			return
		}
		r.Status = models.StatusFailed
		r.Err = err
		r.ErrorCode = code
		r.CompletedAt = now
		r.ExecutionTime = now.Sub(r.StartedAt)
		elapsed = r.ExecutionTime
		failed = true
	})
	if !failed {
		return
	}

	s.count(func(st *Stats) { st.Failed++ })
	s.observer.ObserveFinished(e.req.TenantID, models.StatusFailed, elapsed)
	s.logger.Error("Request failed", "request_id", e.req.ID, "tenant_id", e.req.TenantID, "code", code, "error", err)
	s.notify(e)
}

func (s *Scheduler) persist(rec *models.UsageRecord) {
	if s.recorder == nil || rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.recorder.Persist(ctx, rec); err != nil {
		s.logger.Error("Failed to persist usage record", "request_id", rec.RequestID, "tenant_id", rec.TenantID, "error", err)
	}
}

func modelNames(set config.ModelSetConfig) []string {
	names := make([]string, 0, len(set.Models))
	for _, m := range set.Models {
		names = append(names, m.Name)
	}
	return names
}

// GetStatus returns a snapshot of a tracked request
func (s *Scheduler) GetStatus(id string) (models.RequestView, bool) {
	s.mu.RLock()
	e, ok := s.requests[id]
	s.mu.RUnlock()
	if !ok {
		return models.RequestView{}, false
	}
	return e.req.View(), true
}

// Cancel cancels a queued request. For a request being processed it only
// sets the cancel flag, which the failover loop checks between models.
func (s *Scheduler) Cancel(id string) bool {
	if s.queue.Cancel(id) {
		s.count(func(st *Stats) { st.Cancelled++ })
		s.mu.RLock()
		e, ok := s.requests[id]
		s.mu.RUnlock()
		if ok {
			s.observer.ObserveFinished(e.req.TenantID, models.StatusCancelled, 0)
			s.notify(e)
		}
		s.logger.Info("Queued request cancelled", "request_id", id)
		return true
	}

	s.mu.RLock()
	e, ok := s.requests[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	flagged := false
	e.req.Update(func(r *models.Request) {
		if r.Status == models.StatusProcessing {
			r.CancelRequested = true
			flagged = true
		}
	})
	if flagged {
		s.logger.Info("Cancel requested for active request", "request_id", id)
	}
	return flagged
}

// Active returns the number of requests being processed
func (s *Scheduler) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Stats returns aggregate counters and a status histogram of tracked requests
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	st := s.stats
	st.Active = s.active
	entries := make([]*entry, 0, len(s.requests))
	for _, e := range s.requests {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	st.MaxConcurrent = s.cfg.MaxConcurrent
	st.Tracked = len(entries)
	st.Statuses = make(map[models.RequestStatus]int, len(models.AllStatuses))
	for _, e := range entries {
		st.Statuses[e.req.CurrentStatus()]++
	}
	st.Queue = s.queue.Stats()
	st.QueueDepth = st.Queue.Size
	return st
}

// TenantRequests lists a tenant's tracked requests, newest first. An empty
// status matches all; limit <= 0 means no limit.
func (s *Scheduler) TenantRequests(tenantID string, status models.RequestStatus, limit int) []models.RequestView {
	s.mu.RLock()
	var views []models.RequestView
	for _, e := range s.requests {
		if e.req.TenantID != tenantID {
			continue
		}
		v := e.req.View()
		if status != "" && v.Status != status {
			continue
		}
		views = append(views, v)
	}
	s.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views
}

// CleanupOldRequests forgets terminal requests that finished more than
// maxAge ago and returns how many were removed
func (s *Scheduler) CleanupOldRequests(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.requests {
		v := e.req.View()
		if !v.Status.Terminal() || v.CompletedAt == nil {
			continue
		}
		if v.CompletedAt.Before(cutoff) {
			delete(s.requests, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Cleaned up old requests", "removed", removed, "max_age", maxAge)
	}
	return removed
}

func (s *Scheduler) janitor() {
	defer s.workers.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.dispatchCtx.Done():
			return
		case <-ticker.C:
			s.CleanupOldRequests(s.cfg.Retention)
		}
	}
}

// Shutdown stops the dispatcher, cancels requests still queued and waits for
// active workers. When ctx expires first the in-flight backend calls are
// cancelled and ctx.Err() is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stopDispatch()
	remaining := s.queue.Close()

	now := s.now()
	for _, req := range remaining {
		req.Update(func(r *models.Request) {
			r.Status = models.StatusCancelled
			r.Err = ErrShutdown
			r.ErrorCode = CodeShutdown
			r.CompletedAt = now
		})
		s.mu.RLock()
		e, ok := s.requests[req.ID]
		s.mu.RUnlock()
		if ok {
			s.notify(e)
		}
	}
	if len(remaining) > 0 {
		s.count(func(st *Stats) { st.Cancelled += int64(len(remaining)) })
		s.logger.Warn("Cancelled queued requests on shutdown", "count", len(remaining))
	}

	done := make(chan struct{})
	go func() {
		s.startOnce.Do(func() { close(s.dispatcherDone) })
		<-s.dispatcherDone
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stopWork()
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.stopWork()
		return ctx.Err()
	}
}
