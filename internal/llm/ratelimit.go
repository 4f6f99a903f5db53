package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum spacing between outbound provider
// calls. A single instance is shared by every caller in the process,
// so aggregate throughput across concurrent sessions is capped.
type RateLimiter struct {
	mu        sync.Mutex
	interval  time.Duration
	nextGrant time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute calls.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 3
	}
	return &RateLimiter{
		interval: time.Minute / time.Duration(requestsPerMinute),
	}
}

// Interval returns the minimum spacing between grants.
func (r *RateLimiter) Interval() time.Duration {
	return r.interval
}

// Acquire blocks until the caller's reserved slot arrives or the
// context is cancelled. Each caller reserves the slot one interval
// past the most recent reservation, so N simultaneous callers
// serialize to roughly N*interval. Ordering under contention is
// whatever the scheduler gives; fairness is not guaranteed.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	slot := r.nextGrant
	if slot.Before(now) {
		slot = now
	}
	r.nextGrant = slot.Add(r.interval)
	r.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// Give the unused slot back so later callers do not wait out a
		// reservation nobody holds. Only safe while ours is still the
		// newest reservation; once someone reserved after us the chain
		// past our slot is already promised.
		r.mu.Lock()
		if r.nextGrant.Equal(slot.Add(r.interval)) {
			r.nextGrant = slot
		}
		r.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
