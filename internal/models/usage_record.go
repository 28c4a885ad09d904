package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// UsageRecord is the billing line written once per completed request
type UsageRecord struct {
	ID               uuid.UUID `db:"id" json:"id"`
	RequestID        string    `db:"request_id" json:"request_id"`
	TenantID         string    `db:"tenant_id" json:"tenant_id"`
	AgentID          string    `db:"agent_id" json:"agent_id"`
	ModelName        string    `db:"model_name" json:"model_name"`
	RequestType      string    `db:"request_type" json:"request_type"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int       `db:"total_tokens" json:"total_tokens"`
	CostUSD          float64   `db:"cost_usd" json:"cost_usd"`
	DurationMS       int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// NewUsageRecord builds a record for a finished request
func NewUsageRecord(req *Request) *UsageRecord {
	return &UsageRecord{
		ID:               uuid.New(),
		RequestID:        req.ID,
		TenantID:         req.TenantID,
		AgentID:          req.AgentID,
		ModelName:        req.Model,
		RequestType:      string(req.Type),
		PromptTokens:     req.Usage.PromptTokens,
		CompletionTokens: req.Usage.CompletionTokens,
		TotalTokens:      req.Usage.TotalTokens,
		CostUSD:          req.Cost,
		DurationMS:       req.ExecutionTime.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
}

// CalculateCost prices token usage with per-million rates, rounded to six decimals
func CalculateCost(usage Usage, pricePerMillionIn, pricePerMillionOut float64) float64 {
	cost := float64(usage.PromptTokens)/1_000_000*pricePerMillionIn +
		float64(usage.CompletionTokens)/1_000_000*pricePerMillionOut
	return math.Round(cost*1e6) / 1e6
}

// AgentUsageSummary aggregates usage for one agent of a tenant
type AgentUsageSummary struct {
	TenantID    string  `db:"tenant_id" json:"tenant_id"`
	AgentID     string  `db:"agent_id" json:"agent_id"`
	Requests    int64   `db:"requests" json:"requests"`
	TotalTokens int64   `db:"total_tokens" json:"total_tokens"`
	CostUSD     float64 `db:"cost_usd" json:"cost_usd"`
}
