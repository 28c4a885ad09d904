package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"tenant_gateway/internal/models"
	"tenant_gateway/internal/quota"
	"tenant_gateway/internal/usage"
	"tenant_gateway/internal/utils"
)

const maxUsageDays = 90

func (d *Dependencies) handleQuota(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenantScope(r)
	utils.RespondWithJSON(w, http.StatusOK, d.Quotas.Status(tenantID))
}

// handleAlerts lists quota alerts since ?since (RFC 3339), 24 hours by default
func (d *Dependencies) handleAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenantScope(r)

	since := d.now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	alerts := d.Quotas.RecentAlerts(tenantID, since)
	if alerts == nil {
		alerts = []quota.Alert{}
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"alerts":    alerts,
	})
}

// UsageResponse combines the in-memory daily statistics with the
// persisted monthly figures when those stores are configured
type UsageResponse struct {
	TenantID string              `json:"tenant_id"`
	Daily    []quota.UsageStats  `json:"daily"`
	Monthly  *usage.MonthlyUsage `json:"monthly,omitempty"`
	History  *UsageHistoryView   `json:"history,omitempty"`
}

// UsageHistoryView is the current month as recorded in Postgres
type UsageHistoryView struct {
	From      time.Time                  `json:"from"`
	To        time.Time                  `json:"to"`
	TotalCost float64                    `json:"total_cost_usd"`
	Agents    []models.AgentUsageSummary `json:"agents"`
}

func (d *Dependencies) handleUsage(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenantScope(r)
	ctx := r.Context()

	days := 7
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxUsageDays {
			utils.RespondWithError(w, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}

	resp := UsageResponse{TenantID: tenantID, Daily: d.Quotas.UsageStats(tenantID, days)}
	if resp.Daily == nil {
		resp.Daily = []quota.UsageStats{}
	}

	now := d.now().UTC()
	if d.Costs != nil {
		monthly, err := d.Costs.Usage(ctx, tenantID, now.Year(), int(now.Month()))
		if err != nil {
			d.logger.Warn("Failed to read monthly cost mirror", "tenant_id", tenantID, "error", err)
		} else {
			resp.Monthly = monthly
		}
	}

	if d.History != nil {
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		agents, err := d.History.AgentSummaries(ctx, tenantID, from, now)
		if err != nil {
			d.logger.Error("Failed to load usage history", "tenant_id", tenantID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "failed to load usage history")
			return
		}
		total, err := d.History.TotalCostByTenant(ctx, tenantID, from, now)
		if err != nil {
			d.logger.Error("Failed to load usage history", "tenant_id", tenantID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "failed to load usage history")
			return
		}
		if agents == nil {
			agents = []models.AgentUsageSummary{}
		}
		resp.History = &UsageHistoryView{From: from, To: now, TotalCost: total, Agents: agents}
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}
