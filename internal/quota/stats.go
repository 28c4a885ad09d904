package quota

import (
	"sort"
	"time"
)

// AgentUsage is one agent's share of a tenant's daily usage
type AgentUsage struct {
	Tokens   int64   `json:"tokens"`
	Requests int64   `json:"requests"`
	Cost     float64 `json:"cost"`
}

// UsageStats is a tenant's usage for one calendar day
type UsageStats struct {
	TenantID string                `json:"tenant_id"`
	Date     string                `json:"date"`
	Tokens   int64                 `json:"tokens"`
	Requests int64                 `json:"requests"`
	Cost     float64               `json:"cost"`
	Agents   map[string]AgentUsage `json:"agents"`
}

type dailyStats struct {
	day   time.Time
	stats UsageStats
}

const dayLayout = "2006-01-02"

// recordStats tracks usage for every tenant, configured or not
func (m *Manager) recordStats(tenantID, agentID string, tokens int64, cost float64) {
	if agentID == "" {
		agentID = "default"
	}
	now := m.now()
	day := now.Format(dayLayout)
	key := tenantID + ":" + day

	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	ds, ok := m.stats[key]
	if !ok {
		y, mo, d := now.Date()
		ds = &dailyStats{
			day: time.Date(y, mo, d, 0, 0, 0, 0, now.Location()),
			stats: UsageStats{
				TenantID: tenantID,
				Date:     day,
				Agents:   make(map[string]AgentUsage),
			},
		}
		m.stats[key] = ds
	}

	ds.stats.Tokens += tokens
	ds.stats.Requests++
	ds.stats.Cost += cost

	a := ds.stats.Agents[agentID]
	a.Tokens += tokens
	a.Requests++
	a.Cost += cost
	ds.stats.Agents[agentID] = a
}

// UsageStats returns the tenant's per-day statistics for the last days days,
// newest first.
func (m *Manager) UsageStats(tenantID string, days int) []UsageStats {
	if days <= 0 {
		days = 1
	}
	now := m.now()
	y, mo, d := now.Date()
	cutoff := time.Date(y, mo, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(days - 1))

	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	var out []UsageStats
	for _, ds := range m.stats {
		if ds.stats.TenantID != tenantID || ds.day.Before(cutoff) {
			continue
		}
		s := ds.stats
		s.Agents = make(map[string]AgentUsage, len(ds.stats.Agents))
		for k, v := range ds.stats.Agents {
			s.Agents[k] = v
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

// Cleanup drops alerts and statistics older than maxAge
func (m *Manager) Cleanup(maxAge time.Duration) (alertsRemoved, statsRemoved int) {
	cutoff := m.now().Add(-maxAge)

	m.alertsMu.Lock()
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Timestamp.Before(cutoff) {
			alertsRemoved++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	m.alertsMu.Unlock()

	m.statsMu.Lock()
	for key, ds := range m.stats {
		if ds.day.Before(cutoff) {
			delete(m.stats, key)
			statsRemoved++
		}
	}
	m.statsMu.Unlock()

	m.logger.Info("Quota data cleaned up", "alerts_removed", alertsRemoved, "stats_removed", statsRemoved)
	return alertsRemoved, statsRemoved
}
