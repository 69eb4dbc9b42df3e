package infra

import (
	"context"
	"time"
)

// Backoff is an exponential delay schedule: Base * 2^attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (0-based).
// A negative attempt returns Base.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		return b.Base
	}
	// 2^30 * any positive base already exceeds every sane cap.
	if attempt > 30 {
		return b.Max
	}
	d := b.Base * time.Duration(1<<attempt)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Retry calls fn up to attempts times, sleeping the backoff delay between failures.
// It returns nil on the first success, otherwise the last error or ctx's error.
func Retry(ctx context.Context, attempts int, b Backoff, fn func() error) error {
	var err error
	n := max(attempts, 1)
	for i := 0; i < n; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == n-1 {
			break
		}
		timer := time.NewTimer(b.Delay(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
