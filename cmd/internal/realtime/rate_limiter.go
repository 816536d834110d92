package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds how many events a single connection may emit within
// a sliding window. It keeps one timestamp per admitted event in a fixed
// ring, so Allow runs in constant time and memory stays proportional to
// the limit rather than to traffic.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	stamps []time.Time
	head   int // index of the oldest stamp once the ring is full
	count  int
}

// NewRateLimiter returns a limiter admitting at most limit events per
// window. Non-positive arguments fall back to the connection defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		window: window,
		stamps: make([]time.Time, limit),
	}
}

// Allow reports whether an event at now fits the window, recording it
// when admitted. Denied events are not recorded, so a flooding client
// cannot push its own quota further into the future.
func (rl *RateLimiter) Allow(now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.count < len(rl.stamps) {
		rl.stamps[(rl.head+rl.count)%len(rl.stamps)] = now
		rl.count++
		return true
	}

	oldest := rl.stamps[rl.head]
	if now.Sub(oldest) < rl.window {
		return false
	}

	// The oldest admitted event has aged out. Reuse its slot.
	rl.stamps[rl.head] = now
	rl.head = (rl.head + 1) % len(rl.stamps)
	return true
}
