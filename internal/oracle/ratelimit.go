package oracle

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a fixed delay between consecutive calls through the
// same limiter. It is constructed once at process start and injected into
// each client; there is no process-wide singleton. A zero delay disables
// pacing entirely.
type RateLimiter struct {
	mu       sync.Mutex
	delay    time.Duration
	lastCall time.Time
}

// NewRateLimiter creates a limiter with the given inter-call delay.
func NewRateLimiter(delay time.Duration) *RateLimiter {
	return &RateLimiter{delay: delay}
}

// Wait blocks the caller until the configured delay has elapsed since the
// previous call, or the context is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.delay <= 0 {
		return nil
	}

	r.mu.Lock()
	now := time.Now()
	next := r.lastCall.Add(r.delay)
	if next.Before(now) {
		next = now
	}
	r.lastCall = next
	r.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
