package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sahanasridhar/medtimeline/internal/api/response"
	"github.com/sahanasridhar/medtimeline/internal/state"
)

const defaultRequestsPerMinute = 60

// RateLimit provides per-key rate limiting backed by Redis counters.
type RateLimit struct {
	states         state.Store
	requestsPerMin int
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(s state.Store, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{states: s, requestsPerMin: requestsPerMin}
}

// Limit applies rate limiting based on the key_prefix set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			// Auth middleware did not run; nothing to key the counter on.
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.states.IncrWithExpiry(r.Context(), state.RateLimitKey(prefix), 60*time.Second)
		if err != nil {
			// Fail open on Redis trouble.
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(60*time.Second).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
