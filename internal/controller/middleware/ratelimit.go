package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"moltstudio/pkg/api"

	"golang.org/x/time/rate"
)

// maxPeekBytes bounds how much of a request body is read to find the session.
const maxPeekBytes = 64 << 10

// RateLimiter throttles tip attempts per viewer session. Requests without a
// session_id in their JSON body are keyed by client address.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
	limiters sync.Map // key -> *cachedLimiter
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithLimit sets the sustained rate per second and the burst. A zero rate disables limiting.
func WithLimit(perSecond float64, burst int) Option {
	return func(rl *RateLimiter) {
		rl.limit = rate.Limit(perSecond)
		rl.burst = burst
	}
}

// WithTTL sets how long a session's limiter is kept before it is rebuilt.
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// NewRateLimiter creates a limiter allowing 2 requests per second with a burst of 4 by default.
func NewRateLimiter(opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		limit: 2,
		burst: 4,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.burst <= 0 {
		rl.burst = 1
	}
	return rl
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// Middleware rejects requests over the session's rate with 429.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// A zero limit means unlimited
			if rl.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := sessionKey(r)
			if !rl.get(key).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too Many Requests", "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Store(key, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(rl.ttl),
	})
	return limiter
}

// Sweep drops limiters past their TTL.
func (rl *RateLimiter) Sweep() {
	now := rl.now()
	rl.limiters.Range(func(k, v any) bool {
		if !now.Before(v.(*cachedLimiter).expiresAt) {
			rl.limiters.Delete(k)
		}
		return true
	})
}

// sessionKey reads session_id from the JSON body and restores the body for
// the next handler.
func sessionKey(r *http.Request) string {
	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))
		if err == nil {
			var body struct {
				SessionID string `json:"session_id"`
			}
			if json.Unmarshal(raw, &body) == nil && body.SessionID != "" {
				return "session:" + body.SessionID
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Code: code})
}
