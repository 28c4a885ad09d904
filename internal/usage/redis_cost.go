package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tenant_gateway/internal/models"
)

// monthlyKeyTTL keeps two months of counters
const monthlyKeyTTL = 60 * 24 * time.Hour

// Adds cost and tokens to the tenant and agent hashes of the month and
// refreshes their TTL. Returns the tenant's new cost total.
var addUsageScript = redis.NewScript(`
	local cost = ARGV[1]
	local tokens = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])
	local agent = ARGV[4]

	local total = redis.call('HINCRBYFLOAT', KEYS[1], 'cost', cost)
	redis.call('HINCRBY', KEYS[1], 'tokens', tokens)
	redis.call('HINCRBY', KEYS[1], 'requests', 1)
	redis.call('EXPIRE', KEYS[1], ttl)

	redis.call('HINCRBYFLOAT', KEYS[2], agent, cost)
	redis.call('EXPIRE', KEYS[2], ttl)
	return total
`)

// MonthlyUsage is the mirrored counter of one tenant for one month
type MonthlyUsage struct {
	TenantID   string             `json:"tenant_id"`
	Year       int                `json:"year"`
	Month      int                `json:"month"`
	CostUSD    float64            `json:"cost_usd"`
	Tokens     int64              `json:"tokens"`
	Requests   int64              `json:"requests"`
	AgentCosts map[string]float64 `json:"agent_costs,omitempty"`
}

// RedisCostMirror keeps monthly cost counters in Redis so they survive a
// restart of the gateway and are shared between replicas
type RedisCostMirror struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCostMirror creates a mirror on a shared client
func NewRedisCostMirror(client *redis.Client) *RedisCostMirror {
	return &RedisCostMirror{client: client, now: time.Now}
}

func monthlyKey(tenantID string, year, month int) string {
	return fmt.Sprintf("cost:%s:%d:%02d", tenantID, year, month)
}

func agentKey(tenantID string, year, month int) string {
	return fmt.Sprintf("cost:%s:%d:%02d:agents", tenantID, year, month)
}

// Persist implements Recorder
func (m *RedisCostMirror) Persist(ctx context.Context, rec *models.UsageRecord) error {
	at := rec.CreatedAt
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC()
	year, month := at.Year(), int(at.Month())

	keys := []string{monthlyKey(rec.TenantID, year, month), agentKey(rec.TenantID, year, month)}
	agent := rec.AgentID
	if agent == "" {
		agent = "default"
	}

	err := addUsageScript.Run(ctx, m.client, keys,
		fmt.Sprintf("%.6f", rec.CostUSD),
		rec.TotalTokens,
		int(monthlyKeyTTL.Seconds()),
		agent,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	return nil
}

// MonthlySpending returns the current month's cost of a tenant
func (m *RedisCostMirror) MonthlySpending(ctx context.Context, tenantID string) (float64, error) {
	now := m.now().UTC()
	return m.Spending(ctx, tenantID, now.Year(), int(now.Month()))
}

// Spending returns a tenant's cost for a specific month
func (m *RedisCostMirror) Spending(ctx context.Context, tenantID string, year, month int) (float64, error) {
	val, err := m.client.HGet(ctx, monthlyKey(tenantID, year, month), "cost").Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get spending: %w", err)
	}
	return val, nil
}

// Usage returns the full counter of a tenant for a month
func (m *RedisCostMirror) Usage(ctx context.Context, tenantID string, year, month int) (*MonthlyUsage, error) {
	u := &MonthlyUsage{TenantID: tenantID, Year: year, Month: month}

	var totals struct {
		Cost     float64 `redis:"cost"`
		Tokens   int64   `redis:"tokens"`
		Requests int64   `redis:"requests"`
	}
	if err := m.client.HGetAll(ctx, monthlyKey(tenantID, year, month)).Scan(&totals); err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	u.CostUSD, u.Tokens, u.Requests = totals.Cost, totals.Tokens, totals.Requests

	agents, err := m.client.HGetAll(ctx, agentKey(tenantID, year, month)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get agent usage: %w", err)
	}
	if len(agents) > 0 {
		u.AgentCosts = make(map[string]float64, len(agents))
		for agent, raw := range agents {
			var cost float64
			if _, err := fmt.Sscan(raw, &cost); err != nil {
				return nil, fmt.Errorf("invalid cost for agent %s: %w", agent, err)
			}
			u.AgentCosts[agent] = cost
		}
	}
	return u, nil
}

// ResetMonthlySpending clears the current month of a tenant
func (m *RedisCostMirror) ResetMonthlySpending(ctx context.Context, tenantID string) error {
	now := m.now().UTC()
	year, month := now.Year(), int(now.Month())
	return m.client.Del(ctx, monthlyKey(tenantID, year, month), agentKey(tenantID, year, month)).Err()
}
