package cosmicds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patudom/cds-app/internal/domain/shared"
)

// RateLimiter is a token bucket shared by every request of one client.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens   float64
	refillRate  float64
	baseRate    float64
	tokens      float64
	lastRefill  time.Time
	waitTimeout time.Duration
	blockedTill time.Time

	now func() time.Time
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables the limiter.
	RequestsPerSecond float64

	// BurstSize is the bucket capacity.
	BurstSize int

	// WaitTimeout bounds how long Allow blocks for a token.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig allows a burst of sync writes from a classroom
// of sessions sharing one process.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		WaitTimeout:       5 * time.Second,
	}
}

// NewRateLimiter creates a limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	burst := float64(config.BurstSize)
	if burst < 1 {
		burst = 1
	}
	now := time.Now()
	return &RateLimiter{
		maxTokens:   burst,
		refillRate:  config.RequestsPerSecond,
		baseRate:    config.RequestsPerSecond,
		tokens:      burst,
		lastRefill:  now,
		waitTimeout: config.WaitTimeout,
		now:         time.Now,
	}
}

// Allow blocks until a token is available, the wait would exceed the
// timeout, or ctx is done.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := rl.now().Add(rl.waitTimeout)
	for {
		wait, ok := rl.tryAcquire()
		if ok {
			return nil
		}
		if rl.now().Add(wait).After(deadline) {
			return fmt.Errorf("%w: retry after %s", shared.ErrRemoteRateLimited, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.blockedTill) {
		return rl.blockedTill.Sub(now), false
	}
	rl.refill(now)
	if rl.tokens < 1 {
		return time.Duration((1 - rl.tokens) / rl.refillRate * float64(time.Second)), false
	}
	rl.tokens--
	return 0, true
}

// refill must be called with the lock held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens = min(rl.maxTokens, rl.tokens+elapsed*rl.refillRate)
	if rl.refillRate < rl.baseRate {
		// recover the sustained rate gradually after a 429
		rl.refillRate = min(rl.baseRate, rl.refillRate*(1+elapsed/10))
	}
	rl.lastRefill = now
}

// RecordRateLimitHit empties the bucket, blocks for retryAfter and slows
// the refill rate after the server answered 429.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = 0
	rl.blockedTill = rl.now().Add(retryAfter)
	rl.refillRate *= 0.8
}

// Reset refills the bucket and restores the configured rate.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.maxTokens
	rl.refillRate = rl.baseRate
	rl.lastRefill = rl.now()
	rl.blockedTill = time.Time{}
}

// RateLimiterStatus is a point-in-time view of the limiter.
type RateLimiterStatus struct {
	AvailableTokens float64
	MaxTokens       float64
	RefillRate      float64
	BlockedUntil    time.Time
}

// Status returns the current status of the rate limiter.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(rl.now())

	return RateLimiterStatus{
		AvailableTokens: rl.tokens,
		MaxTokens:       rl.maxTokens,
		RefillRate:      rl.refillRate,
		BlockedUntil:    rl.blockedTill,
	}
}
