package feed

import (
	"context"
	"sync"
	"time"
)

// RateLimiter serializes outbound calls so that at least a minimum interval
// passes between them, delaying rather than dropping. Owned by the HTTP
// client that needs it and injected, so the gate is visible instead of
// hiding in package state.
type RateLimiter struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

// NewRateLimiter gates calls to one per interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Wait blocks until the next call is allowed or the context is cancelled.
// Callers queue behind each other on the internal lock, which serializes
// bursts in arrival order.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if wait := r.interval - now.Sub(r.last); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	r.last = time.Now()
	return nil
}
