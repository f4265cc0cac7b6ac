package resilient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum interval between outbound calls.
//
// It wraps a token bucket with burst 1. Reservations are taken under the
// bucket's mutex in arrival order, so concurrent callers are released one per
// interval in FIFO order. Share one instance across every call that draws on
// the same quota.
type RateLimiter struct {
	limiter *rate.Limiter

	mu            sync.Mutex
	baseRate      rate.Limit
	adaptiveTimer *time.Timer
	closed        bool
}

// NewRateLimiter returns a limiter allowing callsPerSecond calls per second.
// A non-positive rate disables limiting.
func NewRateLimiter(callsPerSecond float64) *RateLimiter {
	limit := toLimit(callsPerSecond)
	return &RateLimiter{
		limiter:  rate.NewLimiter(limit, 1),
		baseRate: limit,
	}
}

// Acquire blocks until the caller may proceed or ctx is done.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("resilient: rate limit wait: %w", err)
	}
	return nil
}

// Rate returns the current calls-per-second limit. Zero means unlimited.
func (l *RateLimiter) Rate() float64 {
	if l == nil {
		return 0
	}
	limit := l.limiter.Limit()
	if limit == rate.Inf {
		return 0
	}
	return float64(limit)
}

// SetRate changes the base rate. Any adaptive reduction in progress is cancelled.
func (l *RateLimiter) SetRate(callsPerSecond float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.adaptiveTimer != nil {
		l.adaptiveTimer.Stop()
		l.adaptiveTimer = nil
	}
	l.baseRate = toLimit(callsPerSecond)
	l.limiter.SetLimit(l.baseRate)
}

// Throttle halves the base rate and restores it after cooldown. Repeated calls
// extend the cooldown rather than compounding the reduction. Unlimited
// limiters are left untouched.
func (l *RateLimiter) Throttle(cooldown time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.baseRate == rate.Inf {
		return
	}

	reduced := l.baseRate / 2
	if reduced < 0.01 {
		reduced = 0.01
	}
	l.limiter.SetLimit(reduced)

	if l.adaptiveTimer != nil {
		l.adaptiveTimer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(cooldown, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		// A newer Throttle or SetRate owns the limit now.
		if l.closed || l.adaptiveTimer != timer {
			return
		}
		l.limiter.SetLimit(l.baseRate)
		l.adaptiveTimer = nil
	})
	l.adaptiveTimer = timer
}

// Close stops the adaptive restore timer.
func (l *RateLimiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.adaptiveTimer != nil {
		l.adaptiveTimer.Stop()
		l.adaptiveTimer = nil
	}
}

func toLimit(callsPerSecond float64) rate.Limit {
	if callsPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(callsPerSecond)
}
