package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"tally/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(perUser, perIP int) *Engine {
	return NewEngine(nil, NewLocalCounter(), models.RateLimitConfig{
		Enabled: true,
		Policies: map[string]models.RateLimitPolicy{
			"comment-create": {Enabled: true, Window: time.Minute, PerUser: perUser, PerIP: perIP},
		},
	})
}

func TestMiddlewareAllowsAndSetsHeaders(t *testing.T) {
	engine := newTestEngine(5, 0)
	handler := Middleware(engine, "comment", "create")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/comments", nil)
	req.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))

	reset, err := strconv.ParseInt(rr.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reset, time.Now().Unix(), "reset must point at the window end, not the past")
	assert.LessOrEqual(t, reset, time.Now().Add(time.Minute).Unix())
}

func TestMiddlewareDeniesWithRetryAfter(t *testing.T) {
	engine := newTestEngine(2, 10)
	handler := Middleware(engine, "comment", "create")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/comments", nil)
		req.Header.Set("X-User-ID", "user-1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/comments", nil)
	req.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, models.ErrorCodeRateLimited, errResp.Code)
	assert.Equal(t, "Rate limit exceeded", errResp.Message)
	assert.NotEmpty(t, errResp.Details["retry_after_seconds"])
}

func TestMiddlewareSeparateUsersHaveSeparateQuotas(t *testing.T) {
	engine := newTestEngine(1, 0)
	handler := Middleware(engine, "comment", "create")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, user := range []string{"user-1", "user-2", "user-3"} {
		req := httptest.NewRequest(http.MethodPost, "/comments", nil)
		req.Header.Set("X-User-ID", user)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, "first request for %s should pass", user)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{"x-forwarded-for single", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "10.0.0.1:1234", "203.0.113.9"},
		{"x-forwarded-for chain uses first", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2"}, "10.0.0.1:1234", "203.0.113.9"},
		{"x-real-ip", map[string]string{"X-Real-IP": "203.0.113.7"}, "10.0.0.1:1234", "203.0.113.7"},
		{"falls back to remote addr", nil, "10.0.0.1:1234", "10.0.0.1:1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}
