package httpapi

import (
	"context"
	"net/http"
	"time"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/metrics"
	"tenant_gateway/internal/middleware"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/quota"
	"tenant_gateway/internal/ratelimit"
	"tenant_gateway/internal/routing"
	"tenant_gateway/internal/scheduler"
	"tenant_gateway/internal/storage"
	"tenant_gateway/internal/usage"
	"tenant_gateway/internal/utils"
)

// UsageHistory answers usage questions from the persisted usage records
type UsageHistory interface {
	AgentSummaries(ctx context.Context, tenantID string, start, end time.Time) ([]models.AgentUsageSummary, error)
	TotalCostByTenant(ctx context.Context, tenantID string, start, end time.Time) (float64, error)
}

// CostMirror reads the shared monthly cost counters
type CostMirror interface {
	Usage(ctx context.Context, tenantID string, year, month int) (*usage.MonthlyUsage, error)
}

// DeadLetters exposes the failed usage records of a persistence worker
type DeadLetters interface {
	DeadLetters(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error)
	RetryDeadLetter(ctx context.Context, id string) error
}

// UsageBacklog reports records still waiting in the usage queues, per sink
type UsageBacklog interface {
	Backlog(ctx context.Context) (map[string]int, error)
}

// BreakerReporter lists the circuit breaker state of each model
type BreakerReporter interface {
	BreakerStates() map[string]string
}

// PoolReporter is a connection pool shown by /admin/stats
type PoolReporter interface {
	PoolStats() storage.PoolStats
}

// HealthChecker is a dependency reported by /health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies aggregates all services the HTTP layer needs.
// History, Costs, DeadLetters, Backlog, Breakers, Pools, Limiter and Checks
// are optional.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Quotas    *quota.Manager
	Boards    *routing.Registry
	Metrics   *metrics.Metrics
	JWTSecret []byte

	Limiter            ratelimit.Limiter
	RateLimitPerMinute int

	History     UsageHistory
	Costs       CostMirror
	DeadLetters DeadLetters
	Backlog     UsageBacklog
	Breakers    BreakerReporter
	Pools       map[string]PoolReporter
	Checks      map[string]HealthChecker

	now    func() time.Time
	logger *utils.Logger
}

// NewRouter registers every route on a new mux
func NewRouter(deps *Dependencies) *http.ServeMux {
	if deps.now == nil {
		deps.now = time.Now
	}
	if deps.logger == nil {
		deps.logger = utils.NewLogger("httpapi")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)
	return mux
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	agent := middleware.Authenticate(deps.JWTSecret, auth.RoleAgent)
	admin := middleware.Authenticate(deps.JWTSecret, auth.RoleAdmin)
	limited := middleware.RateLimit(deps.Limiter, deps.RateLimitPerMinute, deps.Metrics.ObserveRateLimited)

	handle := func(pattern, route string, h http.Handler) {
		mux.Handle(pattern, deps.Metrics.Instrument(route, h))
	}

	// Request lifecycle
	handle("POST /v1/requests", "submit", agent(limited(http.HandlerFunc(deps.handleSubmit))))
	handle("GET /v1/requests", "list_requests", agent(http.HandlerFunc(deps.handleListRequests)))
	handle("GET /v1/requests/{id}", "request_status", agent(http.HandlerFunc(deps.handleGetRequest)))
	handle("DELETE /v1/requests/{id}", "cancel_request", agent(http.HandlerFunc(deps.handleCancelRequest)))

	// Tenant views
	handle("GET /v1/quota", "quota", agent(http.HandlerFunc(deps.handleQuota)))
	handle("GET /v1/alerts", "alerts", agent(http.HandlerFunc(deps.handleAlerts)))
	handle("GET /v1/usage", "usage", agent(http.HandlerFunc(deps.handleUsage)))

	// Operator endpoints
	handle("GET /admin/stats", "admin_stats", admin(http.HandlerFunc(deps.handleStats)))
	handle("GET /admin/quotas", "admin_quotas", admin(http.HandlerFunc(deps.handleListQuotas)))
	handle("POST /admin/quotas/{tenant}/reset", "admin_reset_quota", admin(http.HandlerFunc(deps.handleResetQuota)))
	handle("GET /admin/scoreboards", "admin_scoreboards", admin(http.HandlerFunc(deps.handleScoreboards)))
	handle("GET /admin/dead-letters", "admin_dead_letters", admin(http.HandlerFunc(deps.handleDeadLetters)))
	handle("POST /admin/dead-letters/{id}/retry", "admin_retry_dead_letter", admin(http.HandlerFunc(deps.handleRetryDeadLetter)))
	handle("POST /admin/tokens", "admin_tokens", admin(http.HandlerFunc(deps.handleIssueToken)))

	// Health check endpoint - public
	mux.HandleFunc("GET /health", deps.handleHealth)

	// Metrics endpoint - public
	mux.Handle("GET /metrics", deps.Metrics.Handler())
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Stats  scheduler.Stats   `json:"scheduler"`
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Stats: d.Scheduler.Stats()}
	code := http.StatusOK
	if len(d.Checks) > 0 {
		resp.Checks = make(map[string]string, len(d.Checks))
	}
	for name, check := range d.Checks {
		if err := check.Health(ctx); err != nil {
			d.logger.Warn("Health check failed", "dependency", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	utils.RespondWithJSON(w, code, resp)
}

// tenantScope resolves the tenant a request reads. Admins may name any
// tenant with ?tenant_id; everyone else reads the tenant of their token.
func tenantScope(r *http.Request) (string, bool) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		return "", false
	}
	if t := r.URL.Query().Get("tenant_id"); t != "" && claims.HasRole(auth.RoleAdmin) {
		return t, true
	}
	return claims.TenantID, true
}
