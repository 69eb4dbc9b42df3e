package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
// Thread-safe and suitable for concurrent venue calls.
type RateLimiter struct {
	mu         sync.Mutex
	now        func() time.Time
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a limiter with a burst of maxRequests refilled at perSecond.
// now may be nil for time.Now.
func NewRateLimiter(maxRequests int, perSecond float64, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &RateLimiter{
		now:        now,
		tokens:     float64(maxRequests),
		maxTokens:  float64(maxRequests),
		refillRate: perSecond,
		lastRefill: now(),
	}
}

// TryAcquire takes a token without blocking and reports whether one was available.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.TryAcquire() {
			return nil
		}
		if r.refillRate <= 0 {
			<-ctx.Done()
			return ctx.Err()
		}
		timer := time.NewTimer(time.Duration(float64(time.Second) / r.refillRate))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refill adds tokens for the elapsed time. Must be called with mu held.
func (r *RateLimiter) refill() {
	now := r.now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}
