package models

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Priority orders requests inside the scheduler queue. Higher values are served first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Priorities lists every level from highest to lowest
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined levels
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority accepts the lower-case level name; empty means normal
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// RequestStatus is the lifecycle state of a scheduled request
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusQueued     RequestStatus = "queued"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
	StatusTimeout    RequestStatus = "timeout"
)

// AllStatuses lists statuses in lifecycle order
var AllStatuses = []RequestStatus{
	StatusPending, StatusQueued, StatusProcessing,
	StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout,
}

// Terminal reports whether no further transition is possible
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// RequestType selects which model set serves a request
type RequestType string

const (
	RequestTypeResponse  RequestType = "response"
	RequestTypeEmbedding RequestType = "embedding"
)

// Usage is the token accounting returned by a backend
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a unit of work owned by the scheduler once queued.
// Mutations go through Update; readers use View or CurrentStatus.
type Request struct {
	mu sync.Mutex

	ID          string
	TenantID    string
	AgentID     string
	Platform    string
	ChatStream  string
	Type        RequestType
	ModelSet    string
	Priority    Priority
	Status      RequestStatus
	Payload     map[string]any
	TokenBudget int
	Timeout     time.Duration

	CreatedAt   time.Time
	QueuedAt    time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	RetryCount      int
	CancelRequested bool
	ExcludedModels  []string

	Model         string
	Content       string
	Usage         Usage
	Cost          float64
	ExecutionTime time.Duration
	Err           error
	ErrorCode     string
}

// Update applies fn while holding the request lock
func (r *Request) Update(fn func(r *Request)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// CurrentStatus returns the status under the request lock
func (r *Request) CurrentStatus() RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status
}

// View returns an immutable snapshot of the request
func (r *Request) View() RequestView {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := RequestView{
		ID:              r.ID,
		TenantID:        r.TenantID,
		AgentID:         r.AgentID,
		Platform:        r.Platform,
		ChatStream:      r.ChatStream,
		Type:            r.Type,
		ModelSet:        r.ModelSet,
		Priority:        r.Priority.String(),
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		QueuedAt:        timePtr(r.QueuedAt),
		StartedAt:       timePtr(r.StartedAt),
		CompletedAt:     timePtr(r.CompletedAt),
		RetryCount:      r.RetryCount,
		CancelRequested: r.CancelRequested,
		ExcludedModels:  append([]string(nil), r.ExcludedModels...),
		Model:           r.Model,
		Content:         r.Content,
		Usage:           r.Usage,
		Cost:            r.Cost,
		ExecutionMS:     r.ExecutionTime.Milliseconds(),
		ErrorCode:       r.ErrorCode,
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

// RequestView is the externally visible state of a request
type RequestView struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	AgentID         string        `json:"agent_id"`
	Platform        string        `json:"platform,omitempty"`
	ChatStream      string        `json:"chat_stream_id,omitempty"`
	Type            RequestType   `json:"request_type"`
	ModelSet        string        `json:"model_set"`
	Priority        string        `json:"priority"`
	Status          RequestStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	QueuedAt        *time.Time    `json:"queued_at,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	RetryCount      int           `json:"retry_count"`
	CancelRequested bool          `json:"cancel_requested"`
	ExcludedModels  []string      `json:"excluded_models,omitempty"`
	Model           string        `json:"model,omitempty"`
	Content         string        `json:"content,omitempty"`
	Usage           Usage         `json:"usage"`
	Cost            float64       `json:"cost"`
	ExecutionMS     int64         `json:"execution_ms"`
	Error           string        `json:"error,omitempty"`
	ErrorCode       string        `json:"error_code,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
