package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow reports whether a request may proceed now, consuming the slot if so
	Allow() bool
	// Wait blocks until a request is allowed or ctx is done
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// Interval enforces a minimum gap between consecutive requests. The first
// request after construction or Reset is never delayed.
type Interval struct {
	gap  time.Duration
	last time.Time
	now  func() time.Time
	mu   sync.Mutex
}

// NewInterval creates a limiter that spaces requests at least gap apart
func NewInterval(gap time.Duration) *Interval {
	return &Interval{gap: gap, now: time.Now}
}

// Allow checks if a request can proceed
func (iv *Interval) Allow() bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	now := iv.now()
	if iv.last.IsZero() || now.Sub(iv.last) >= iv.gap {
		iv.last = now
		return true
	}
	return false
}

// Wait blocks until the gap since the previous request has elapsed
func (iv *Interval) Wait(ctx context.Context) error {
	for {
		iv.mu.Lock()
		now := iv.now()
		var remaining time.Duration
		if !iv.last.IsZero() {
			remaining = iv.gap - now.Sub(iv.last)
		}
		if remaining <= 0 {
			iv.last = now
			iv.mu.Unlock()
			return nil
		}
		iv.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Reset forgets the previous request
func (iv *Interval) Reset() {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	iv.last = time.Time{}
}
