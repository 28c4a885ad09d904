package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/config"
	"tenant_gateway/internal/executor"
	"tenant_gateway/internal/metrics"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/quota"
	"tenant_gateway/internal/routing"
	"tenant_gateway/internal/scheduler"
	"tenant_gateway/internal/storage"
	"tenant_gateway/internal/usage"
)

var testSecret = []byte("test-secret-key-for-testing")

// gateBackend blocks attempts whose payload tag is "block" until release is closed
type gateBackend struct {
	release chan struct{}
	once    sync.Once
}

func (b *gateBackend) Attempt(ctx context.Context, model config.ModelCandidateConfig, payload map[string]any) (*executor.Result, error) {
	if payload["tag"] == "block" {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &executor.Result{
		Content: "hello",
		Usage:   models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (b *gateBackend) open() { b.once.Do(func() { close(b.release) }) }

type testServer struct {
	deps    *Dependencies
	handler http.Handler
	backend *gateBackend
}

func newTestServer(t *testing.T, customize func(d *Dependencies)) *testServer {
	t.Helper()

	retry := config.DefaultRetryPolicy()
	retry.MaxAttempts = 1
	catalog := &config.Catalog{ModelSets: []config.ModelSetConfig{{
		Name:        "chat",
		RequestType: "response",
		Models: []config.ModelCandidateConfig{{
			Name: "model-a", Provider: "fake", RequestType: "response",
			PriceIn: 1, PriceOut: 2, Retry: retry,
		}},
	}}}

	backend := &gateBackend{release: make(chan struct{})}
	quotas := quota.NewManager()
	boards := routing.NewRegistry()
	sched := scheduler.New(config.SchedulerConfig{
		MaxConcurrent: 1,
		QueueSize:     10,
		PollInterval:  5 * time.Millisecond,
	}, catalog, quotas, executor.New(backend), boards, usage.NewLogRecorder())

	t.Cleanup(func() {
		backend.open()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})

	deps := &Dependencies{
		Scheduler: sched,
		Quotas:    quotas,
		Boards:    boards,
		Metrics:   metrics.New(),
		JWTSecret: testSecret,
	}
	if customize != nil {
		customize(deps)
	}
	return &testServer{deps: deps, handler: NewRouter(deps), backend: backend}
}

func token(t *testing.T, tenant, agent string, roles ...auth.Role) string {
	t.Helper()
	if len(roles) == 0 {
		roles = []auth.Role{auth.RoleAgent}
	}
	tok, _, err := auth.GenerateToken(testSecret, tenant, agent, roles, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) submit(t *testing.T, tok string, body SubmitRequest) SubmitResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/requests", tok, body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	return decode[SubmitResponse](t, w)
}

func (s *testServer) waitFor(t *testing.T, tok, id string, status models.RequestStatus) models.RequestView {
	t.Helper()
	var view models.RequestView
	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/v1/requests/"+id, tok, nil)
		if w.Code != http.StatusOK {
			return false
		}
		view = decode[models.RequestView](t, w)
		return view.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return view
}

func TestSubmitAndPoll(t *testing.T) {
	s := newTestServer(t, nil)
	tok := token(t, "t1", "a1")

	resp := s.submit(t, tok, SubmitRequest{Priority: "high", Payload: map[string]any{"tag": "x"}, Platform: "slack"})
	require.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "t1", resp.Request.TenantID)
	assert.Equal(t, "a1", resp.Request.AgentID)
	assert.Equal(t, "high", resp.Request.Priority)
	assert.Equal(t, "chat", resp.Request.ModelSet)

	view := s.waitFor(t, tok, resp.RequestID, models.StatusCompleted)
	assert.Equal(t, "hello", view.Content)
	assert.Equal(t, "model-a", view.Model)
	assert.Equal(t, 15, view.Usage.TotalTokens)
	assert.Equal(t, "slack", view.Platform)
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t, nil)
	tok := token(t, "t1", "a1")

	tests := []struct {
		name string
		body any
	}{
		{"bad json", "{"},
		{"unknown priority", SubmitRequest{Priority: "urgent"}},
		{"unknown model set", SubmitRequest{ModelSet: "nope"}},
		{"negative estimate", SubmitRequest{TokenEstimate: -1}},
		{"timeout above one day", SubmitRequest{TimeoutSeconds: maxTimeoutSeconds + 1}},
		{"timeout overflowing a duration", `{"payload":{},"timeout_seconds":9300000000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/requests", tok, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestSubmitAcceptsMaxTimeout(t *testing.T) {
	s := newTestServer(t, nil)
	tok := token(t, "t1", "a1")

	resp := s.submit(t, tok, SubmitRequest{TimeoutSeconds: maxTimeoutSeconds})
	s.waitFor(t, tok, resp.RequestID, models.StatusCompleted)
}

func TestSubmitRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/v1/requests", "", SubmitRequest{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitQuotaExceeded(t *testing.T) {
	s := newTestServer(t, nil)
	s.deps.Quotas.Configure("t1", quota.Limits{DailyTokenLimit: 100, MonthlyCostLimit: -1, DailyRequestLimit: -1})
	tok := token(t, "t1", "a1")

	w := s.do(t, http.MethodPost, "/v1/requests", tok, SubmitRequest{TokenEstimate: 500})
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	resp := decode[SubmitResponse](t, w)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, models.StatusFailed, resp.Request.Status)
	assert.Equal(t, scheduler.CodeQuotaExceeded, resp.Request.ErrorCode)

	// the rejected request is still tracked
	w = s.do(t, http.MethodGet, "/v1/requests/"+resp.RequestID, tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestsAreTenantScoped(t *testing.T) {
	s := newTestServer(t, nil)
	owner := token(t, "t1", "a1")
	other := token(t, "t2", "a1")
	admin := token(t, "ops", "", auth.RoleAdmin)

	resp := s.submit(t, owner, SubmitRequest{})
	s.waitFor(t, owner, resp.RequestID, models.StatusCompleted)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/requests/"+resp.RequestID, other, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/v1/requests/"+resp.RequestID, other, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/requests/"+resp.RequestID, admin, nil).Code)

	list := decode[struct {
		TenantID string               `json:"tenant_id"`
		Requests []models.RequestView `json:"requests"`
	}](t, s.do(t, http.MethodGet, "/v1/requests", other, nil))
	assert.Equal(t, "t2", list.TenantID)
	assert.Empty(t, list.Requests)

	// a tenant cannot widen its scope with tenant_id
	list = decode[struct {
		TenantID string               `json:"tenant_id"`
		Requests []models.RequestView `json:"requests"`
	}](t, s.do(t, http.MethodGet, "/v1/requests?tenant_id=t1", other, nil))
	assert.Equal(t, "t2", list.TenantID)

	list = decode[struct {
		TenantID string               `json:"tenant_id"`
		Requests []models.RequestView `json:"requests"`
	}](t, s.do(t, http.MethodGet, "/v1/requests?tenant_id=t1&status=completed", admin, nil))
	require.Len(t, list.Requests, 1)
	assert.Equal(t, resp.RequestID, list.Requests[0].ID)
}

func TestListRequestsValidation(t *testing.T) {
	s := newTestServer(t, nil)
	tok := token(t, "t1", "a1")

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/requests?status=bogus", tok, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/requests?limit=0", tok, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/requests?limit=5000", tok, nil).Code)
}

func TestCancelQueuedRequest(t *testing.T) {
	s := newTestServer(t, nil)
	tok := token(t, "t1", "a1")

	blocker := s.submit(t, tok, SubmitRequest{Payload: map[string]any{"tag": "block"}})
	s.waitFor(t, tok, blocker.RequestID, models.StatusProcessing)
	queued := s.submit(t, tok, SubmitRequest{})

	w := s.do(t, http.MethodDelete, "/v1/requests/"+queued.RequestID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusCancelled, decode[models.RequestView](t, w).Status)

	// terminal requests cannot be cancelled again
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodDelete, "/v1/requests/"+queued.RequestID, tok, nil).Code)

	// an active request only gets the cancel flag
	w = s.do(t, http.MethodDelete, "/v1/requests/"+blocker.RequestID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.RequestView](t, w).CancelRequested)

	s.backend.open()
	s.waitFor(t, tok, blocker.RequestID, models.StatusCompleted)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/v1/requests/missing", tok, nil).Code)
}

func TestQuotaAndAlerts(t *testing.T) {
	s := newTestServer(t, nil)
	s.deps.Quotas.Configure("t1", quota.Limits{DailyTokenLimit: 1000, MonthlyCostLimit: -1, DailyRequestLimit: -1})
	s.deps.Quotas.RecordUsage("t1", "a1", 850, 0.5)
	tok := token(t, "t1", "a1")

	st := decode[quota.Status](t, s.do(t, http.MethodGet, "/v1/quota", tok, nil))
	assert.True(t, st.Configured)
	assert.Equal(t, quota.LevelWarning, st.Level)
	assert.Equal(t, float64(850), st.DailyTokens.Used)
	assert.InDelta(t, 0.85, st.DailyTokens.Percentage, 1e-9)

	alerts := decode[struct {
		Alerts []quota.Alert `json:"alerts"`
	}](t, s.do(t, http.MethodGet, "/v1/alerts", tok, nil))
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, quota.MetricDailyTokens, alerts.Alerts[0].Metric)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	alerts = decode[struct {
		Alerts []quota.Alert `json:"alerts"`
	}](t, s.do(t, http.MethodGet, "/v1/alerts?since="+future, tok, nil))
	assert.Empty(t, alerts.Alerts)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/alerts?since=yesterday", tok, nil).Code)

	st = decode[quota.Status](t, s.do(t, http.MethodGet, "/v1/quota", token(t, "t9", ""), nil))
	assert.False(t, st.Configured)
}

type fakeHistory struct {
	err error
}

func (f *fakeHistory) AgentSummaries(ctx context.Context, tenantID string, start, end time.Time) ([]models.AgentUsageSummary, error) {
	return []models.AgentUsageSummary{{TenantID: tenantID, AgentID: "a1", Requests: 3, TotalTokens: 300, CostUSD: 0.03}}, f.err
}

func (f *fakeHistory) TotalCostByTenant(ctx context.Context, tenantID string, start, end time.Time) (float64, error) {
	return 0.03, f.err
}

type fakeCosts struct{}

func (fakeCosts) Usage(ctx context.Context, tenantID string, year, month int) (*usage.MonthlyUsage, error) {
	return &usage.MonthlyUsage{TenantID: tenantID, Year: year, Month: month, CostUSD: 1.5, Tokens: 42, Requests: 2}, nil
}

func TestUsage(t *testing.T) {
	t.Run("in-memory only", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.deps.Quotas.RecordUsage("t1", "a1", 100, 0.01)

		resp := decode[UsageResponse](t, s.do(t, http.MethodGet, "/v1/usage?days=3", token(t, "t1", "a1"), nil))
		require.Len(t, resp.Daily, 1)
		assert.Equal(t, int64(100), resp.Daily[0].Tokens)
		assert.Nil(t, resp.Monthly)
		assert.Nil(t, resp.History)
	})

	t.Run("with persisted stores", func(t *testing.T) {
		s := newTestServer(t, func(d *Dependencies) {
			d.History = &fakeHistory{}
			d.Costs = fakeCosts{}
		})
		resp := decode[UsageResponse](t, s.do(t, http.MethodGet, "/v1/usage", token(t, "t1", "a1"), nil))
		require.NotNil(t, resp.Monthly)
		assert.Equal(t, 1.5, resp.Monthly.CostUSD)
		require.NotNil(t, resp.History)
		assert.Equal(t, 0.03, resp.History.TotalCost)
		assert.Len(t, resp.History.Agents, 1)
		assert.Empty(t, resp.Daily)
	})

	t.Run("history failure", func(t *testing.T) {
		s := newTestServer(t, func(d *Dependencies) { d.History = &fakeHistory{err: errors.New("db down")} })
		w := s.do(t, http.MethodGet, "/v1/usage", token(t, "t1", "a1"), nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("bad days", func(t *testing.T) {
		s := newTestServer(t, nil)
		w := s.do(t, http.MethodGet, "/v1/usage?days=365", token(t, "t1", "a1"), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	s := newTestServer(t, nil)
	agent := token(t, "t1", "a1")

	for _, path := range []string{"/admin/stats", "/admin/quotas", "/admin/scoreboards", "/admin/dead-letters"} {
		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, path, agent, nil).Code, path)
	}
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/admin/tokens", agent, IssueTokenRequest{TenantID: "t1"}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/admin/quotas/t1/reset", agent, nil).Code)
}

type fakePool struct{ stats storage.PoolStats }

func (f fakePool) PoolStats() storage.PoolStats { return f.stats }

type fakeBreakers map[string]string

func (f fakeBreakers) BreakerStates() map[string]string { return f }

type fakeBacklog map[string]int

func (f fakeBacklog) Backlog(ctx context.Context) (map[string]int, error) { return f, nil }

func TestAdminStatsWithStores(t *testing.T) {
	s := newTestServer(t, func(d *Dependencies) {
		d.Backlog = fakeBacklog{"postgres": 3, "s3": 0}
		d.Breakers = fakeBreakers{"gpt-4o-mini": "open"}
		d.Pools = map[string]PoolReporter{
			"database": fakePool{storage.PoolStats{Open: 4, InUse: 1, Idle: 3}},
		}
	})
	admin := token(t, "ops", "", auth.RoleAdmin)

	stats := decode[AdminStats](t, s.do(t, http.MethodGet, "/admin/stats", admin, nil))
	assert.Equal(t, map[string]int{"postgres": 3, "s3": 0}, stats.UsageBacklog)
	assert.Equal(t, storage.PoolStats{Open: 4, InUse: 1, Idle: 3}, stats.Pools["database"])
	assert.Equal(t, "open", stats.Breakers["gpt-4o-mini"])
}

func TestAdminQuotas(t *testing.T) {
	s := newTestServer(t, nil)
	admin := token(t, "ops", "", auth.RoleAdmin)
	s.deps.Quotas.Configure("t2", quota.Limits{DailyTokenLimit: 100, MonthlyCostLimit: 10, DailyRequestLimit: 5})
	s.deps.Quotas.Configure("t1", quota.Limits{DailyTokenLimit: 100, MonthlyCostLimit: 10, DailyRequestLimit: 5})
	s.deps.Quotas.RecordUsage("t1", "a1", 100, 1.5)

	list := decode[[]quota.Status](t, s.do(t, http.MethodGet, "/admin/quotas", admin, nil))
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].TenantID)
	assert.Equal(t, 100.0, list[0].DailyTokens.Used)
	assert.Equal(t, "t2", list[1].TenantID)

	w := s.do(t, http.MethodPost, "/admin/quotas/t1/reset", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[quota.Status](t, w)
	assert.Equal(t, 0.0, st.DailyTokens.Used)
	assert.Equal(t, 0.0, st.DailyRequests.Used)
	assert.Equal(t, 1.5, st.MonthlyCost.Used)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/admin/quotas/nope/reset", admin, nil).Code)
}

func TestAdminStatsAndScoreboards(t *testing.T) {
	s := newTestServer(t, nil)
	tok := token(t, "t1", "a1")
	admin := token(t, "ops", "", auth.RoleAdmin)

	resp := s.submit(t, tok, SubmitRequest{})
	s.waitFor(t, tok, resp.RequestID, models.StatusCompleted)

	stats := decode[AdminStats](t, s.do(t, http.MethodGet, "/admin/stats", admin, nil))
	assert.Equal(t, int64(1), stats.Scheduler.Submitted)
	assert.Equal(t, int64(1), stats.Scheduler.Completed)
	assert.Equal(t, 1, stats.Scheduler.MaxConcurrent)
	assert.Equal(t, 0, stats.Scheduler.Active)
	assert.Nil(t, stats.UsageBacklog)
	assert.Nil(t, stats.Pools)

	boards := decode[[]ScoreboardView](t, s.do(t, http.MethodGet, "/admin/scoreboards", admin, nil))
	require.Len(t, boards, 1)
	assert.Equal(t, "t1", boards[0].TenantID)
	assert.Equal(t, "chat", boards[0].ModelSet)
	require.Len(t, boards[0].Models, 1)
	assert.Equal(t, int64(15), boards[0].Models[0].Tokens)

	boards = decode[[]ScoreboardView](t, s.do(t, http.MethodGet, "/admin/scoreboards?tenant_id=t2", admin, nil))
	assert.Empty(t, boards)
}

type fakeDeadLetters struct {
	items   []queue.DeadLetterItem
	retried []string
}

func (f *fakeDeadLetters) DeadLetters(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	return f.items, nil
}

func (f *fakeDeadLetters) RetryDeadLetter(ctx context.Context, id string) error {
	for _, item := range f.items {
		if item.ID == id {
			f.retried = append(f.retried, id)
			return nil
		}
	}
	return queue.ErrItemNotFound
}

func TestDeadLetters(t *testing.T) {
	admin := token(t, "ops", "", auth.RoleAdmin)

	t.Run("not configured", func(t *testing.T) {
		s := newTestServer(t, nil)
		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/admin/dead-letters", admin, nil).Code)
	})

	t.Run("list and retry", func(t *testing.T) {
		dl := &fakeDeadLetters{items: []queue.DeadLetterItem{{ID: "d1", Item: json.RawMessage(`{}`), Error: "boom"}}}
		s := newTestServer(t, func(d *Dependencies) { d.DeadLetters = dl })

		items := decode[[]queue.DeadLetterItem](t, s.do(t, http.MethodGet, "/admin/dead-letters?limit=10", admin, nil))
		require.Len(t, items, 1)
		assert.Equal(t, "boom", items[0].Error)

		assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/admin/dead-letters/d1/retry", admin, nil).Code)
		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/admin/dead-letters/d2/retry", admin, nil).Code)
		assert.Equal(t, []string{"d1"}, dl.retried)
	})
}

func TestIssueToken(t *testing.T) {
	s := newTestServer(t, nil)
	admin := token(t, "ops", "", auth.RoleAdmin)

	w := s.do(t, http.MethodPost, "/admin/tokens", admin, IssueTokenRequest{TenantID: "t7", AgentID: "bot", TTLSeconds: 60})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	issued := decode[IssueTokenResponse](t, w)
	assert.WithinDuration(t, time.Now().Add(time.Minute), issued.ExpiresAt, 5*time.Second)

	resp := s.submit(t, issued.Token, SubmitRequest{})
	assert.Equal(t, "t7", resp.Request.TenantID)
	assert.Equal(t, "bot", resp.Request.AgentID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/admin/tokens", admin, IssueTokenRequest{}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/admin/tokens", admin,
		IssueTokenRequest{TenantID: "t7", Roles: []string{"root"}}).Code)
}

func TestAdminSubmitsForTenant(t *testing.T) {
	s := newTestServer(t, nil)
	admin := token(t, "ops", "", auth.RoleAdmin)

	resp := s.submit(t, admin, SubmitRequest{TenantID: "t3", AgentID: "a9"})
	assert.Equal(t, "t3", resp.Request.TenantID)
	assert.Equal(t, "a9", resp.Request.AgentID)
}

type fakeCheck struct{ err error }

func (f fakeCheck) Health(ctx context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	s := newTestServer(t, func(d *Dependencies) {
		d.Checks = map[string]HealthChecker{"redis": fakeCheck{}}
	})
	w := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[healthResponse](t, w)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])

	s = newTestServer(t, func(d *Dependencies) {
		d.Checks = map[string]HealthChecker{"database": fakeCheck{err: errors.New("connection refused")}}
	})
	w = s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decode[healthResponse](t, w)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "connection refused", body.Checks["database"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/v1/quota", token(t, "t1", "a1"), nil)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gateway_http_requests_total{code="200",method="get",route="quota"} 1`)
}
