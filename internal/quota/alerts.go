package quota

import (
	"fmt"
	"time"
)

// alert log bounds: past maxAlerts entries only the newest keepAlerts survive
const (
	maxAlerts  = 1000
	keepAlerts = 500
)

// Alert is emitted when a tenant reaches WARNING or EXCEEDED
type Alert struct {
	TenantID  string    `json:"tenant_id"`
	Level     Level     `json:"level"`
	Metric    Metric    `json:"metric"`
	Ratio     float64   `json:"ratio"`
	Usage     float64   `json:"current_usage"`
	Limit     float64   `json:"limit"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertListener receives alerts synchronously. Panics are recovered and logged.
type AlertListener func(Alert)

type listenerEntry struct {
	fn AlertListener
}

// OnAlert registers a listener and returns a function that removes it
func (m *Manager) OnAlert(fn AlertListener) (remove func()) {
	entry := &listenerEntry{fn: fn}

	m.listenersMu.Lock()
	m.listeners = append(m.listeners, entry)
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for i, e := range m.listeners {
			if e == entry {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) emit(tenantID string, eval evaluation) {
	alert := Alert{
		TenantID:  tenantID,
		Level:     eval.level,
		Metric:    eval.metric,
		Ratio:     eval.ratio,
		Usage:     eval.usage,
		Limit:     eval.limit,
		Message:   fmt.Sprintf("tenant %s %s: %s at %.1f%%", tenantID, eval.level, eval.metric, eval.ratio*100),
		Timestamp: m.now(),
	}

	m.alertsMu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxAlerts {
		m.alerts = append([]Alert(nil), m.alerts[len(m.alerts)-keepAlerts:]...)
	}
	m.alertsMu.Unlock()

	m.logger.Warn("Quota alert", "tenant_id", tenantID, "level", alert.Level.String(),
		"metric", string(alert.Metric), "ratio", alert.Ratio)

	m.listenersMu.RLock()
	listeners := make([]*listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		m.notify(l.fn, alert)
	}
}

func (m *Manager) notify(fn AlertListener, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Quota listener failed", "tenant_id", alert.TenantID, "panic", r)
		}
	}()
	fn(alert)
}

// RecentAlerts returns alerts raised at or after since, oldest first.
// An empty tenantID matches every tenant.
func (m *Manager) RecentAlerts(tenantID string, since time.Time) []Alert {
	m.alertsMu.Lock()
	defer m.alertsMu.Unlock()

	var out []Alert
	for _, a := range m.alerts {
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		if a.Timestamp.Before(since) {
			continue
		}
		out = append(out, a)
	}
	return out
}
