package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/middleware"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/scheduler"
	"tenant_gateway/internal/utils"
)

const (
	// maxListLimit caps GET /v1/requests
	maxListLimit = 500

	// maxTimeoutSeconds bounds timeout_seconds on submit
	maxTimeoutSeconds = 24 * 60 * 60
)

// SubmitRequest is the body of POST /v1/requests
type SubmitRequest struct {
	// TenantID and AgentID are only honoured for admin callers
	TenantID       string         `json:"tenant_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	ModelSet       string         `json:"model_set,omitempty"`
	RequestType    string         `json:"request_type,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	Payload        map[string]any `json:"payload"`
	TokenEstimate  int            `json:"token_estimate,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Platform       string         `json:"platform,omitempty"`
	ChatStreamID   string         `json:"chat_stream_id,omitempty"`
}

// SubmitResponse is returned by POST /v1/requests
type SubmitResponse struct {
	RequestID string             `json:"request_id"`
	Request   models.RequestView `json:"request"`
}

// handleSubmit admits a request. Admission failures that the scheduler
// tracks still carry the request id: 402 when the tenant quota is exceeded,
// 503 when the queue is full.
func (d *Dependencies) handleSubmit(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.GetClaims(r.Context())

	var body SubmitRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	priority, err := models.ParsePriority(body.Priority)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.TokenEstimate < 0 || body.TimeoutSeconds < 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "token_estimate and timeout_seconds must not be negative")
		return
	}
	if body.TimeoutSeconds > maxTimeoutSeconds {
		utils.RespondWithError(w, http.StatusBadRequest, "timeout_seconds must be at most "+strconv.Itoa(maxTimeoutSeconds))
		return
	}

	tenantID, agentID := claims.TenantID, claims.AgentID
	if claims.HasRole(auth.RoleAdmin) && body.TenantID != "" {
		tenantID, agentID = body.TenantID, body.AgentID
	}

	id, err := d.Scheduler.Submit(scheduler.SubmitRequest{
		TenantID:      tenantID,
		AgentID:       agentID,
		ModelSet:      body.ModelSet,
		RequestType:   models.RequestType(body.RequestType),
		Priority:      priority,
		Payload:       body.Payload,
		TokenEstimate: body.TokenEstimate,
		Timeout:       time.Duration(body.TimeoutSeconds) * time.Second,
		Platform:      body.Platform,
		ChatStream:    body.ChatStreamID,
	})
	switch {
	case errors.Is(err, scheduler.ErrInvalidRequest), errors.Is(err, scheduler.ErrUnknownModelSet):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scheduler.ErrShutdown):
		utils.RespondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		d.logger.Error("Submit failed", "tenant_id", tenantID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	view, _ := d.Scheduler.GetStatus(id)
	code := http.StatusAccepted
	switch view.ErrorCode {
	case scheduler.CodeQuotaExceeded:
		code = http.StatusPaymentRequired
	case scheduler.CodeQueueFull:
		code = http.StatusServiceUnavailable
	}
	utils.RespondWithJSON(w, code, SubmitResponse{RequestID: id, Request: view})
}

// lookupOwned returns the request when the caller may see it. Requests of
// other tenants are reported as missing.
func (d *Dependencies) lookupOwned(r *http.Request) (models.RequestView, bool) {
	view, ok := d.Scheduler.GetStatus(r.PathValue("id"))
	if !ok || !middleware.CanAccessTenant(r.Context(), view.TenantID) {
		return models.RequestView{}, false
	}
	return view, true
}

func (d *Dependencies) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	view, ok := d.lookupOwned(r)
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "request not found")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, view)
}

func (d *Dependencies) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	view, ok := d.lookupOwned(r)
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "request not found")
		return
	}
	if !d.Scheduler.Cancel(view.ID) {
		utils.RespondWithError(w, http.StatusConflict, "request can no longer be cancelled")
		return
	}
	view, _ = d.Scheduler.GetStatus(view.ID)
	utils.RespondWithJSON(w, http.StatusOK, view)
}

func (d *Dependencies) handleListRequests(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenantScope(r)
	q := r.URL.Query()

	status := models.RequestStatus(q.Get("status"))
	if status != "" && !validStatus(status) {
		utils.RespondWithError(w, http.StatusBadRequest, "unknown status")
		return
	}

	limit := 100
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	requests := d.Scheduler.TenantRequests(tenantID, status, limit)
	if requests == nil {
		requests = []models.RequestView{}
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"requests":  requests,
	})
}

func validStatus(s models.RequestStatus) bool {
	for _, v := range models.AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}
