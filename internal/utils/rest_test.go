package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
	}{
		{"bad request", http.StatusBadRequest, "invalid JSON body"},
		{"unauthorized", http.StatusUnauthorized, "Missing authentication token"},
		{"quota", http.StatusPaymentRequired, "tenant quota exceeded"},
		{"rate limited", http.StatusTooManyRequests, "rate limit exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondWithError(w, tt.code, tt.message)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	w := httptest.NewRecorder()
	err := RespondWithJSON(w, http.StatusAccepted, map[string]any{"request_id": "r1", "priority": "high"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"request_id":"r1","priority":"high"}`, w.Body.String())
}

func TestRespondWithJSON_Unencodable(t *testing.T) {
	w := httptest.NewRecorder()
	err := RespondWithJSON(w, http.StatusOK, map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		TenantID string `json:"tenant_id"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tenant_id":"t1"}`))
	require.NoError(t, DecodeJSON(r, &v))
	assert.Equal(t, "t1", v.TenantID)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tenant_id":`))
	assert.Error(t, DecodeJSON(r, &v))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tenant_id":"a"} {"tenant_id":"b"}`))
	assert.Error(t, DecodeJSON(r, &v))
}
