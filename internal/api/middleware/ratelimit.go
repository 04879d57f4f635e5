package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/textpulse/internal/api/response"
	"github.com/kiranshivaraju/textpulse/internal/cache"
)

const (
	// ClassAnalysis covers submitting and cancelling jobs.
	ClassAnalysis = "analysis"
	// ClassStatus covers polling.
	ClassStatus = "status"

	defaultRequestsPerMinute = 60
	window                   = 60 * time.Second
)

// RejectObserver is told about every request a limiter turns away.
type RejectObserver interface {
	RateLimited(class string)
}

// RateLimit provides fixed-window rate limiting per client, backed by
// cache.IncrWithExpiry. Each class counts separately.
type RateLimit struct {
	cache          cache.Cache
	class          string
	requestsPerMin int
	observer       RejectObserver
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, class string, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, class: class, requestsPerMin: requestsPerMin}
}

// WithObserver sets obs to be notified of rejected requests.
func (rl *RateLimit) WithObserver(obs RejectObserver) *RateLimit {
	rl.observer = obs
	return rl
}

// Limit applies rate limiting based on the client identity in the context.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := GetClientID(r)
		if !ok {
			// No identity means ClientIdentity didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		key := cache.RateLimitKey(rl.class, client)
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, window)
		if err != nil {
			// On counter error, allow the request (fail open)
			slog.Warn("rate limit counter unavailable", "class", rl.class, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		resetTime := time.Now().Add(window).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))

		if count > int64(rl.requestsPerMin) {
			if rl.observer != nil {
				rl.observer.RateLimited(rl.class)
			}
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
