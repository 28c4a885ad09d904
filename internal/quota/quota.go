// Package quota tracks per-tenant consumption and decides admission.
//
// Each configured tenant has three independent dimensions:
//
//	daily tokens    EXCEEDED when used + needed > limit
//	monthly cost    EXCEEDED when used > limit
//	daily requests  EXCEEDED when used + 1 > limit
//
// A dimension with a negative limit is not enforced. Tenants that were never
// configured are always ACTIVE. Daily counters reset on the first access after
// a calendar-day boundary, monthly cost on the first access after a month boundary.
package quota

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"tenant_gateway/internal/utils"
)

// Level is the outcome of an admission check
type Level int

const (
	LevelActive Level = iota
	LevelWarning
	LevelExceeded
)

func (l Level) String() string {
	switch l {
	case LevelActive:
		return "active"
	case LevelWarning:
		return "warning"
	case LevelExceeded:
		return "exceeded"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalText renders the level by name in JSON payloads
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts the names written by MarshalText
func (l *Level) UnmarshalText(text []byte) error {
	for _, lv := range []Level{LevelActive, LevelWarning, LevelExceeded} {
		if lv.String() == string(text) {
			*l = lv
			return nil
		}
	}
	return fmt.Errorf("unknown quota level %q", text)
}

// Metric names a quota dimension
type Metric string

const (
	MetricDailyTokens   Metric = "daily_tokens"
	MetricMonthlyCost   Metric = "monthly_cost"
	MetricDailyRequests Metric = "daily_requests"
)

// Limits configures one tenant
type Limits struct {
	DailyTokenLimit   int64
	MonthlyCostLimit  float64
	DailyRequestLimit int64
	WarningThreshold  float64
}

// DefaultWarningThreshold is the usage ratio that turns ACTIVE into WARNING
const DefaultWarningThreshold = 0.8

// tenantQuota is guarded by its own mutex
type tenantQuota struct {
	mu     sync.Mutex
	limits Limits

	dailyTokensUsed   int64
	dailyRequestsUsed int64
	monthlyCostUsed   float64
	lastReset         time.Time
}

// Manager is safe for concurrent use
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*tenantQuota

	listenersMu sync.RWMutex
	listeners   []*listenerEntry

	alertsMu sync.Mutex
	alerts   []Alert

	statsMu sync.Mutex
	stats   map[string]*dailyStats // tenant:yyyy-mm-dd

	now    func() time.Time
	logger *utils.Logger
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock replaces time.Now, used by tests to cross day boundaries
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tenants: make(map[string]*tenantQuota),
		stats:   make(map[string]*dailyStats),
		now:     time.Now,
		logger:  utils.NewLogger("quota"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configure creates or updates a tenant's limits. Existing counters are kept.
// A threshold outside (0,1] falls back to DefaultWarningThreshold.
func (m *Manager) Configure(tenantID string, limits Limits) {
	if limits.WarningThreshold <= 0 || limits.WarningThreshold > 1 {
		limits.WarningThreshold = DefaultWarningThreshold
	}

	m.mu.Lock()
	q, ok := m.tenants[tenantID]
	if !ok {
		m.tenants[tenantID] = &tenantQuota{limits: limits, lastReset: m.now()}
		m.mu.Unlock()
		m.logger.Info("Tenant quota configured", "tenant_id", tenantID)
		return
	}
	m.mu.Unlock()

	q.mu.Lock()
	q.limits = limits
	q.mu.Unlock()
	m.logger.Info("Tenant quota updated", "tenant_id", tenantID)
}

// Remove drops a tenant and its counters
func (m *Manager) Remove(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[tenantID]; !ok {
		return false
	}
	delete(m.tenants, tenantID)
	return true
}

// Limits returns a tenant's configured limits
func (m *Manager) Limits(tenantID string) (Limits, bool) {
	q := m.tenant(tenantID)
	if q == nil {
		return Limits{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limits, true
}

func (m *Manager) tenant(tenantID string) *tenantQuota {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenants[tenantID]
}

// Check evaluates admission for tokensNeeded more tokens. It never fails;
// alerts for WARNING and EXCEEDED are delivered to listeners.
func (m *Manager) Check(tenantID string, tokensNeeded int64) Level {
	q := m.tenant(tenantID)
	if q == nil {
		return LevelActive
	}

	q.mu.Lock()
	m.resetIfNeeded(q)
	eval := evaluate(q, tokensNeeded)
	q.mu.Unlock()

	if eval.level != LevelActive {
		m.emit(tenantID, eval)
	}
	return eval.level
}

// RecordUsage adds a completed request to the tenant's counters and the
// per-agent statistics, then re-evaluates the tenant.
func (m *Manager) RecordUsage(tenantID, agentID string, tokensUsed int64, cost float64) {
	if tokensUsed < 0 {
		tokensUsed = 0
	}
	if cost < 0 {
		cost = 0
	}

	m.recordStats(tenantID, agentID, tokensUsed, cost)

	q := m.tenant(tenantID)
	if q == nil {
		return
	}

	q.mu.Lock()
	m.resetIfNeeded(q)
	q.dailyTokensUsed += tokensUsed
	q.dailyRequestsUsed++
	q.monthlyCostUsed += cost
	eval := evaluate(q, 0)
	q.mu.Unlock()

	m.logger.Debug("Usage recorded",
		"tenant_id", tenantID, "agent_id", agentID, "tokens", tokensUsed, "cost", cost)

	if eval.level != LevelActive {
		m.emit(tenantID, eval)
	}
}

// ResetDaily zeroes the tenant's daily tokens and requests. The monthly cost
// is kept. It reports false for an unconfigured tenant.
func (m *Manager) ResetDaily(tenantID string) bool {
	q := m.tenant(tenantID)
	if q == nil {
		return false
	}
	q.mu.Lock()
	q.dailyTokensUsed = 0
	q.dailyRequestsUsed = 0
	q.lastReset = m.now()
	q.mu.Unlock()

	m.logger.Info("Daily quota reset", "tenant_id", tenantID)
	return true
}

// resetIfNeeded must be called with q.mu held. It is idempotent within a day.
func (m *Manager) resetIfNeeded(q *tenantQuota) {
	now := m.now()
	last := q.lastReset
	if !sameDay(last, now) && now.After(last) {
		q.dailyTokensUsed = 0
		q.dailyRequestsUsed = 0
		if last.Year() != now.Year() || last.Month() != now.Month() {
			q.monthlyCostUsed = 0
		}
		q.lastReset = now
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

type evaluation struct {
	level  Level
	metric Metric
	ratio  float64
	usage  float64
	limit  float64
}

// evaluate must be called with q.mu held
func evaluate(q *tenantQuota, tokensNeeded int64) evaluation {
	l := q.limits
	dims := []struct {
		metric   Metric
		used     float64
		limit    float64
		exceeded bool
	}{
		{MetricDailyTokens, float64(q.dailyTokensUsed), float64(l.DailyTokenLimit),
			l.DailyTokenLimit >= 0 && q.dailyTokensUsed+tokensNeeded > l.DailyTokenLimit},
		{MetricMonthlyCost, q.monthlyCostUsed, l.MonthlyCostLimit,
			l.MonthlyCostLimit >= 0 && q.monthlyCostUsed > l.MonthlyCostLimit},
		{MetricDailyRequests, float64(q.dailyRequestsUsed), float64(l.DailyRequestLimit),
			l.DailyRequestLimit >= 0 && q.dailyRequestsUsed+1 > l.DailyRequestLimit},
	}

	best := evaluation{level: LevelActive}
	for _, d := range dims {
		r := ratio(d.used, d.limit)
		level := LevelActive
		switch {
		case d.exceeded:
			level = LevelExceeded
		case d.limit > 0 && r >= l.WarningThreshold:
			level = LevelWarning
		}
		if level > best.level || (level == best.level && level != LevelActive && r > best.ratio) {
			best = evaluation{level: level, metric: d.metric, ratio: r, usage: d.used, limit: d.limit}
		}
	}
	return best
}

func ratio(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return used / limit
}

// DimensionStatus describes one quota dimension
type DimensionStatus struct {
	Used       float64 `json:"used"`
	Limit      float64 `json:"limit"`
	Percentage float64 `json:"percentage"`
}

// Status is a snapshot of a tenant's quota
type Status struct {
	TenantID      string          `json:"tenant_id"`
	Configured    bool            `json:"configured"`
	Level         Level           `json:"status"`
	DailyTokens   DimensionStatus `json:"daily_tokens"`
	MonthlyCost   DimensionStatus `json:"monthly_cost"`
	DailyRequests DimensionStatus `json:"daily_requests"`
	LastReset     time.Time       `json:"last_reset"`
}

// Status returns the tenant's counters without emitting alerts
func (m *Manager) Status(tenantID string) Status {
	q := m.tenant(tenantID)
	if q == nil {
		return Status{TenantID: tenantID, Level: LevelActive}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	m.resetIfNeeded(q)

	dim := func(used, limit float64) DimensionStatus {
		return DimensionStatus{Used: used, Limit: limit, Percentage: ratio(used, limit)}
	}
	return Status{
		TenantID:      tenantID,
		Configured:    true,
		Level:         evaluate(q, 0).level,
		DailyTokens:   dim(float64(q.dailyTokensUsed), float64(q.limits.DailyTokenLimit)),
		MonthlyCost:   dim(q.monthlyCostUsed, q.limits.MonthlyCostLimit),
		DailyRequests: dim(float64(q.dailyRequestsUsed), float64(q.limits.DailyRequestLimit)),
		LastReset:     q.lastReset,
	}
}

// Tenants lists configured tenant ids in order
func (m *Manager) Tenants() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
