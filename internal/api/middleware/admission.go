package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seatdesk/seatdesk/internal/ratelimiter"
)

// Admission bounds the number of requests in flight. A request that cannot
// get a slot within acquireTimeout is rejected with 503. max <= 0 disables it.
func Admission(max int, acquireTimeout time.Duration) func(http.Handler) http.Handler {
	if max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	slots := make(chan struct{}, max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !acquire(r.Context(), slots, acquireTimeout) {
				writeError(w, http.StatusServiceUnavailable, "overloaded", "too many requests in flight, try again later")
				return
			}
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		})
	}
}

func acquire(ctx context.Context, slots chan struct{}, timeout time.Duration) bool {
	select {
	case slots <- struct{}{}:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case slots <- struct{}{}:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// RateLimit applies a per-client token bucket keyed by client IP. It expects
// chi's RealIP to have run first.
func RateLimit(limiter *ratelimiter.ClientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.RetryAfter().Seconds())))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many redemption attempts, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}
