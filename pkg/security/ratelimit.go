package security

import (
	"sync"
	"time"
)

// RateLimiter enforces a simple requests-per-minute ceiling on dispatched
// actions, independent of which action or tier is being requested. The
// kernel pipeline checks it right after the emergency-stop latch, ahead of
// anything action-specific, so a runaway Gateway can't hammer the
// workstation regardless of what it asks for.
//
// It counts in fixed one-minute windows with a single counter: the count
// resets on the first call a minute or more after the current window
// began. It is not a sliding window, so up to twice the limit can pass
// within less than a minute when that span straddles a reset.
type RateLimiter struct {
	mu          sync.Mutex
	limit       int
	windowStart time.Time
	count       int
}

// NewRateLimiter builds a limiter allowing limit actions per one-minute window.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{limit: limit, windowStart: time.Now()}
}

// Allow reports whether another action may run right now, incrementing the
// counter if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.windowStart) >= time.Minute {
		r.windowStart = now
		r.count = 0
	}
	if r.count >= r.limit {
		return false
	}
	r.count++
	return true
}
