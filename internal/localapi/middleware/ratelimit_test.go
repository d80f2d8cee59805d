package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryRateLimiter_AllowsWithinBudgetRejectsBeyond(t *testing.T) {
	limiter := NewInMemoryRateLimiter(1)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow()) // burst = 2x rps = 2

	for i := 0; i < 10 && limiter.Allow(); i++ {
	}

	assert.False(t, limiter.Allow())
}

func TestRateLimit_RejectsWithTooManyRequests(t *testing.T) {
	limiter := NewInMemoryRateLimiter(1)
	limiter.limiter.SetBurst(0)

	handler := RateLimit(limiter, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sync-counts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoopbackOnly_RejectsNonLoopbackRemoteAddr(t *testing.T) {
	handler := LoopbackOnly(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sync-counts", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoopbackOnly_AllowsLoopbackRemoteAddr(t *testing.T) {
	handler := LoopbackOnly(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sync-counts", nil)
	req.RemoteAddr = "127.0.0.1:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
