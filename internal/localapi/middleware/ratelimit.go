// Package middleware provides HTTP middleware components for the station agent's local API.
package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

const (
	defaultRPS   = 50
	burstFactor  = 2
)

// RateLimiter guards the local API from a runaway collaborator (a buggy display surface
// polling too aggressively). Unlike the teacher's multi-tenant per-plugin limiter, the
// station agent has exactly one trusted local caller, so a single global token bucket is
// sufficient — grounded on internal/api/middleware/ratelimit.go's RateLimiter interface,
// simplified to one tier.
type RateLimiter interface {
	Allow() bool
}

// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate's token bucket.
type InMemoryRateLimiter struct {
	limiter *rate.Limiter
}

// NewInMemoryRateLimiter builds a limiter allowing rps requests/second with a burst of
// 2×rps. rps<=0 falls back to defaultRPS.
func NewInMemoryRateLimiter(rps int) *InMemoryRateLimiter {
	if rps <= 0 {
		rps = defaultRPS
	}

	return &InMemoryRateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), rps*burstFactor)}
}

// Allow reports whether the request is within the current rate budget.
func (l *InMemoryRateLimiter) Allow() bool {
	return l.limiter.Allow()
}

// RateLimit creates a middleware that rejects requests exceeding the configured rate with
// 429 Too Many Requests.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("local api rate limit exceeded",
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", GetCorrelationID(r.Context())),
				)
				w.WriteHeader(http.StatusTooManyRequests)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
