package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ResourceLimiters holds one token bucket per external resource (account).
// The dispatcher waits on it before every per-item retry call so a burst of
// fallbacks does not hammer a single account's invite endpoint.
type ResourceLimiters struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
}

// NewResourceLimiters creates limiters that allow one call per spacing.
// A zero or negative spacing disables limiting.
func NewResourceLimiters(spacing time.Duration) *ResourceLimiters {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &ResourceLimiters{
		limiters: make(map[int64]*rate.Limiter),
		limit:    limit,
	}
}

// Wait blocks until the resource's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (rl *ResourceLimiters) Wait(ctx context.Context, resourceID int64) error {
	return rl.get(resourceID).Wait(ctx)
}

func (rl *ResourceLimiters) get(resourceID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.limiters[resourceID]
	if !ok {
		// burst of 1: the first call goes through, later ones are spaced.
		lim = rate.NewLimiter(rl.limit, 1)
		rl.limiters[resourceID] = lim
	}
	return lim
}

// ClientLimiter is a per-key token bucket store (keyed by client IP) with
// periodic eviction of idle keys.
type ClientLimiter struct {
	mu           sync.Mutex
	entries      map[string]*clientEntry
	limit        rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type clientEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type ClientOption func(*ClientLimiter)

func WithIdleTTL(d time.Duration) ClientOption {
	return func(c *ClientLimiter) { c.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) ClientOption {
	return func(c *ClientLimiter) { c.cleanupEvery = d }
}

// NewClientLimiter allows perMinute requests per key per minute, with a burst
// equal to perMinute.
func NewClientLimiter(perMinute int, opts ...ClientOption) *ClientLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	c := &ClientLimiter{
		entries:      make(map[string]*clientEntry),
		limit:        rate.Limit(float64(perMinute) / 60),
		burst:        perMinute,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allow reports whether key may make a request now, consuming a token if so.
func (c *ClientLimiter) Allow(key string) bool {
	now := time.Now()

	c.mu.Lock()
	ent, ok := c.entries[key]
	if !ok {
		ent = &clientEntry{lim: rate.NewLimiter(c.limit, c.burst)}
		c.entries[key] = ent
	}
	ent.lastSeen = now
	c.mu.Unlock()

	return ent.lim.AllowN(now, 1)
}

// RetryAfter is the time for one token to refill, rounded up to a second.
func (c *ClientLimiter) RetryAfter() time.Duration {
	if c.limit <= 0 {
		return time.Minute
	}
	d := time.Duration(float64(time.Second) / float64(c.limit)).Round(time.Millisecond)
	if d%time.Second != 0 {
		d = d.Truncate(time.Second) + time.Second
	}
	return d
}

// Len returns the number of tracked keys.
func (c *ClientLimiter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cleanup evicts keys not seen within the idle TTL.
func (c *ClientLimiter) Cleanup() {
	cutoff := time.Now().Add(-c.idleTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, ent := range c.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// Run evicts idle keys every cleanupEvery until ctx is cancelled.
func (c *ClientLimiter) Run(ctx context.Context) {
	if c.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(c.cleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Cleanup()
		}
	}
}
