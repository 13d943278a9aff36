package ctrl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter is a token bucket. Each Wait consumes one token; tokens refill evenly over
// the configured period.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter allows rate calls per period, with bursts up to rate.
//
// Example:
//
//	limiter, _ := ctrl.NewRateLimiter(2, time.Minute) // two category searches a minute
func NewRateLimiter(rate int, per time.Duration) (*RateLimiter, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid rate limit: rate must be greater than 0, got %d", rate)
	}
	if per <= 0 {
		return nil, fmt.Errorf("invalid rate limit: period must be positive, got %s", per)
	}
	return &RateLimiter{
		tokens:     rate,
		maxTokens:  rate,
		refillRate: time.Duration(per.Nanoseconds() / int64(rate)),
		lastRefill: time.Now(),
	}, nil
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens > 0 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		wait := time.Until(rl.lastRefill.Add(rl.refillRate))
		rl.mu.Unlock()

		if wait <= 0 {
			wait = time.Nanosecond
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

// refill adds tokens based on elapsed time (must be called with mutex held)
func (rl *RateLimiter) refill() {
	elapsed := time.Since(rl.lastRefill)

	tokensToAdd := int(elapsed / rl.refillRate)
	if tokensToAdd > 0 {
		rl.tokens = min(rl.tokens+tokensToAdd, rl.maxTokens)
		// advance by whole intervals to avoid drift
		rl.lastRefill = rl.lastRefill.Add(time.Duration(tokensToAdd) * rl.refillRate)
	}
}
