// Package ratelimit provides per-user request rate limiting using token
// buckets. Limiters are created lazily, one per authenticated user, with
// the request IP as fallback for unauthenticated routes.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/stockdraft/portfolio-engine/internal/auth"
	"github.com/stockdraft/portfolio-engine/internal/metrics"
)

// Limiter hands out one token bucket per user.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	limit rate.Limit
	burst int
}

// New creates a limiter allowing rps requests per second with the given
// burst size per user.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// get returns the bucket for key, creating it on first use.
func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check in case another goroutine created it.
	if lim, ok := l.limiters[key]; ok {
		return lim
	}

	lim = rate.NewLimiter(l.limit, l.burst)
	l.limiters[key] = lim
	return lim
}

// Allow reports whether a request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Middleware enforces the per-user limit. Must be mounted after the auth
// middleware so the user id is in the context.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := auth.UserID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}

		if !l.Allow(key) {
			metrics.RateLimitRejections.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   "rate limit exceeded, try again later",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
