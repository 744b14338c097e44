package collector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter serializes all outbound provider calls. The provider
// enforces a global per-key limit, so one limiter instance is shared by
// every endpoint call a collector makes. The effective interval is the
// base interval times a backoff multiplier that doubles on rate-limit
// responses and resets after a success.
type RateLimiter struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	baseInterval time.Duration
	maxInterval  time.Duration
	multiplier   float64
}

func NewRateLimiter(baseInterval time.Duration, maxInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limiter:      rate.NewLimiter(rate.Every(baseInterval), 1),
		baseInterval: baseInterval,
		maxInterval:  maxInterval,
		multiplier:   1.0,
	}
}

// Wait blocks until the next call is allowed or the context is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Backoff doubles the effective interval, capped at the configured
// maximum wait. Returns the new multiplier.
func (r *RateLimiter) Backoff() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	newMultiplier := r.multiplier * 2.0
	if interval := r.scaled(newMultiplier); interval > r.maxInterval {
		newMultiplier = float64(r.maxInterval) / float64(r.baseInterval)
	}
	r.multiplier = newMultiplier
	r.limiter.SetLimit(rate.Every(r.scaled(r.multiplier)))
	return r.multiplier
}

// Reset restores the baseline interval after a successful call.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.multiplier == 1.0 {
		return
	}
	r.multiplier = 1.0
	r.limiter.SetLimit(rate.Every(r.baseInterval))
}

func (r *RateLimiter) Multiplier() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.multiplier
}

// Interval reports the current effective interval between calls.
func (r *RateLimiter) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scaled(r.multiplier)
}

func (r *RateLimiter) scaled(multiplier float64) time.Duration {
	return time.Duration(float64(r.baseInterval) * multiplier)
}
