// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tenant_gateway/internal/executor"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/quota"
	"tenant_gateway/internal/scheduler"
)

const namespace = "gateway"

var (
	_ executor.Observer  = (*Metrics)(nil)
	_ scheduler.Observer = (*Metrics)(nil)
)

// Metrics holds every collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	submissions     *prometheus.CounterVec
	finished        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	cost            *prometheus.CounterVec
	active          prometheus.Gauge
	queued          prometheus.Gauge

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	failovers       *prometheus.CounterVec

	quotaAlerts *prometheus.CounterVec
	rateLimited *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors, including the Go runtime and process ones
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submitted requests by admission outcome",
		}, []string{"tenant_id", "outcome"}),

		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_finished_total",
			Help:      "Requests that reached a terminal status",
		}, []string{"tenant_id", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Processing time from dequeue to terminal status",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),

		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed",
		}, []string{"tenant_id", "model"}),

		cost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_dollars_total",
			Help:      "Cost in dollars",
		}, []string{"tenant_id", "model"}),

		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Requests being processed",
		}),

		queued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_requests",
			Help:      "Requests waiting in the queue",
		}),

		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_attempts_total",
			Help:      "Backend calls by model and outcome",
		}, []string{"model", "outcome"}),

		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_attempt_duration_seconds",
			Help:      "Backend call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"model"}),

		failovers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_failovers_total",
			Help:      "Models given up on during failover, by error class",
		}, []string{"model", "kind"}),

		quotaAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_alerts_total",
			Help:      "Quota alerts by level and dimension",
		}, []string{"tenant_id", "level", "metric"}),

		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Submissions refused by the rate limiter",
		}, []string{"tenant_id"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "method", "code"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument wraps an HTTP handler with request count and latency metrics
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerCounter(
		m.httpRequests.MustCurryWith(labels),
		promhttp.InstrumentHandlerDuration(m.httpDuration.MustCurryWith(labels), next),
	)
}

// ObserveSubmission implements scheduler.Observer
func (m *Metrics) ObserveSubmission(tenantID, outcome string) {
	m.submissions.WithLabelValues(tenantID, outcome).Inc()
}

// ObserveFinished implements scheduler.Observer
func (m *Metrics) ObserveFinished(tenantID string, status models.RequestStatus, d time.Duration) {
	m.finished.WithLabelValues(tenantID, string(status)).Inc()
	if d > 0 {
		m.requestDuration.WithLabelValues(string(status)).Observe(d.Seconds())
	}
}

// ObserveUsage implements scheduler.Observer
func (m *Metrics) ObserveUsage(tenantID, model string, tokens int, cost float64) {
	m.tokens.WithLabelValues(tenantID, model).Add(float64(tokens))
	m.cost.WithLabelValues(tenantID, model).Add(cost)
}

// ObserveLoad implements scheduler.Observer
func (m *Metrics) ObserveLoad(active, queued int) {
	m.active.Set(float64(active))
	m.queued.Set(float64(queued))
}

// ObserveAttempt implements executor.Observer
func (m *Metrics) ObserveAttempt(model, outcome string, d time.Duration) {
	m.attempts.WithLabelValues(model, outcome).Inc()
	m.attemptDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveFailover implements executor.Observer
func (m *Metrics) ObserveFailover(model string, kind executor.ErrorKind) {
	m.failovers.WithLabelValues(model, kind.String()).Inc()
}

// ObserveAlert is a quota.AlertListener
func (m *Metrics) ObserveAlert(alert quota.Alert) {
	m.quotaAlerts.WithLabelValues(alert.TenantID, alert.Level.String(), string(alert.Metric)).Inc()
}

// ObserveRateLimited counts a submission refused by the rate limiter
func (m *Metrics) ObserveRateLimited(tenantID string) {
	m.rateLimited.WithLabelValues(tenantID).Inc()
}
