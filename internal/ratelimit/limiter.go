// Package ratelimit paces engine loops: a throttle interval between sends and
// a cancellation-aware backoff after failures.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle enforces a minimum interval between consecutive sends.
type Throttle struct {
	limiter  *rate.Limiter
	interval time.Duration
	mu       sync.RWMutex
}

// NewThrottle creates a Throttle. An interval <= 0 disables waiting.
func NewThrottle(interval time.Duration) *Throttle {
	t := &Throttle{}
	t.SetInterval(interval)
	return t
}

// Interval returns the configured interval.
func (t *Throttle) Interval() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.interval
}

// Wait blocks until the next send is allowed or ctx is done.
// With no interval it only reports cancellation.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.RLock()
	limiter := t.limiter
	t.mu.RUnlock()

	if limiter == nil {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// SetInterval changes the pacing of subsequent waits.
func (t *Throttle) SetInterval(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = interval
	if interval <= 0 {
		t.limiter = nil
		return
	}
	if t.limiter == nil {
		t.limiter = rate.NewLimiter(rate.Every(interval), 1)
		return
	}
	t.limiter.SetLimit(rate.Every(interval))
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
