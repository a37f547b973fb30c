package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint classes, each with its own per-key budget.
const (
	classRead      = "read"
	classWrite     = "write"
	classSubscribe = "subscribe"
)

// RateLimiter keeps one token bucket per API key and endpoint class.
// A limit of n allows bursts of n and refills at n per minute.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket)}
}

// Allow reports whether key may make one more request under limit per minute.
func (rl *RateLimiter) Allow(key string, limit int) bool {
	if limit <= 0 {
		return true
	}
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), limit)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()
	return b.limiter.Allow()
}

// cleanup drops buckets idle for longer than idle. An idle bucket has refilled
// completely, so dropping it changes nothing.
func (rl *RateLimiter) cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	n := 0
	for k, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, k)
			n++
		}
	}
	return n
}

// withRateLimit wraps an authenticated handler with per-key rate limiting for
// one endpoint class. When a rate limit is exceeded, the event is logged to the store.
func (s *Server) withRateLimit(handler http.HandlerFunc, class string) http.HandlerFunc {
	limit := s.limitFor(class)
	return func(w http.ResponseWriter, r *http.Request) {
		user := getUserFromContext(r.Context())
		if user == nil {
			handler(w, r)
			return
		}
		key := fmt.Sprintf("key:%s:%s", user.KeyID, class)
		if !s.rateLimiter.Allow(key, limit) {
			if err := s.store.InsertRateLimitEvent(user.KeyID, clientIP(r), class); err != nil {
				slog.Error("log rate limit event", "err", err)
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		handler(w, r)
	}
}

func (s *Server) limitFor(class string) int {
	switch class {
	case classRead:
		return s.config.RateLimitRead
	case classSubscribe:
		return s.config.RateLimitSubscribe
	default:
		return s.config.RateLimitWrite
	}
}

// clientIP extracts the client IP from the request, checking X-Forwarded-For first.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the chain is the original client
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
