package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/quota"
	"tenant_gateway/internal/routing"
	"tenant_gateway/internal/scheduler"
	"tenant_gateway/internal/storage"
	"tenant_gateway/internal/utils"
)

const (
	defaultTokenTTL = 24 * time.Hour
	maxTokenTTL     = 90 * 24 * time.Hour
)

// AdminStats is the body of GET /admin/stats
type AdminStats struct {
	Scheduler    scheduler.Stats              `json:"scheduler"`
	UsageBacklog map[string]int               `json:"usage_backlog,omitempty"`
	Breakers     map[string]string            `json:"breakers,omitempty"`
	Pools        map[string]storage.PoolStats `json:"pools,omitempty"`
}

// handleStats returns the scheduler counters, the usage queue backlog,
// model breakers and connection pools
func (d *Dependencies) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := AdminStats{Scheduler: d.Scheduler.Stats()}

	if d.Backlog != nil {
		backlog, err := d.Backlog.Backlog(r.Context())
		if err != nil {
			d.logger.Warn("Failed to read usage backlog", "error", err)
		}
		resp.UsageBacklog = backlog
	}
	if d.Breakers != nil {
		resp.Breakers = d.Breakers.BreakerStates()
	}
	if len(d.Pools) > 0 {
		resp.Pools = make(map[string]storage.PoolStats, len(d.Pools))
		for name, pool := range d.Pools {
			resp.Pools[name] = pool.PoolStats()
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// handleListQuotas returns the quota status of every configured tenant
func (d *Dependencies) handleListQuotas(w http.ResponseWriter, r *http.Request) {
	tenants := d.Quotas.Tenants()
	statuses := make([]quota.Status, 0, len(tenants))
	for _, id := range tenants {
		statuses = append(statuses, d.Quotas.Status(id))
	}
	utils.RespondWithJSON(w, http.StatusOK, statuses)
}

// handleResetQuota zeroes a tenant's daily counters
func (d *Dependencies) handleResetQuota(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	if !d.Quotas.ResetDaily(tenantID) {
		utils.RespondWithError(w, http.StatusNotFound, "tenant quota not configured")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, d.Quotas.Status(tenantID))
}

// ScoreboardView is one routing scoreboard
type ScoreboardView struct {
	TenantID string               `json:"tenant_id"`
	AgentID  string               `json:"agent_id"`
	ModelSet string               `json:"model_set"`
	Models   []routing.ModelStats `json:"models"`
}

// handleScoreboards lists model scores, optionally filtered by ?tenant_id
func (d *Dependencies) handleScoreboards(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")

	views := []ScoreboardView{}
	for _, key := range d.Boards.Keys() {
		if tenantID != "" && key.TenantID != tenantID {
			continue
		}
		board, ok := d.Boards.Lookup(key)
		if !ok {
			continue
		}
		views = append(views, ScoreboardView{
			TenantID: key.TenantID,
			AgentID:  key.AgentID,
			ModelSet: key.ModelSet,
			Models:   board.Snapshot(),
		})
	}
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.AgentID != b.AgentID {
			return a.AgentID < b.AgentID
		}
		return a.ModelSet < b.ModelSet
	})
	utils.RespondWithJSON(w, http.StatusOK, views)
}

func (d *Dependencies) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if d.DeadLetters == nil {
		utils.RespondWithError(w, http.StatusNotFound, "usage persistence is not configured")
		return
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	items, err := d.DeadLetters.DeadLetters(r.Context(), limit)
	if err != nil {
		d.logger.Error("Failed to list dead letters", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if items == nil {
		items = []queue.DeadLetterItem{}
	}
	utils.RespondWithJSON(w, http.StatusOK, items)
}

func (d *Dependencies) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if d.DeadLetters == nil {
		utils.RespondWithError(w, http.StatusNotFound, "usage persistence is not configured")
		return
	}

	id := r.PathValue("id")
	err := d.DeadLetters.RetryDeadLetter(r.Context(), id)
	if errors.Is(err, queue.ErrItemNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if err != nil {
		d.logger.Error("Failed to retry dead letter", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to retry dead letter")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"id": id, "status": "requeued"})
}

// IssueTokenRequest is the body of POST /admin/tokens
type IssueTokenRequest struct {
	TenantID   string   `json:"tenant_id"`
	AgentID    string   `json:"agent_id,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

// IssueTokenResponse carries a signed tenant token
type IssueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueToken signs a token for a tenant agent. Roles default to agent.
func (d *Dependencies) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TenantID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	roles, err := auth.ParseRoles(req.Roles)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ttl := defaultTokenTTL
	if req.TTLSeconds > 0 {
		ttl = min(time.Duration(req.TTLSeconds)*time.Second, maxTokenTTL)
	}

	token, expiresAt, err := auth.GenerateToken(d.JWTSecret, req.TenantID, req.AgentID, roles, ttl)
	if err != nil {
		d.logger.Error("Failed to sign token", "tenant_id", req.TenantID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	d.logger.Info("Issued tenant token", "tenant_id", req.TenantID, "agent_id", req.AgentID, "expires_at", expiresAt)
	utils.RespondWithJSON(w, http.StatusCreated, IssueTokenResponse{Token: token, ExpiresAt: expiresAt})
}
