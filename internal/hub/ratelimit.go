package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RateLimiter bounds per-user request rate with a sliding window of recent
// submission timestamps. In-memory only: state resets on restart and is not
// shared across processes.
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	events map[uuid.UUID][]time.Time
}

// NewRateLimiter creates a limiter allowing max submissions per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:    max,
		window: window,
		now:    time.Now,
		events: make(map[uuid.UUID][]time.Time),
	}
}

// Check records a submission attempt. When the user is within the limit it
// appends the current timestamp and returns true. When over the limit it
// returns false and how long until the oldest timestamp leaves the window.
func (l *RateLimiter) Check(userID uuid.UUID) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	events := l.events[userID]
	for len(events) > 0 && events[0].Before(cutoff) {
		events = events[1:]
	}

	if len(events) >= l.max {
		retryAfter := events[0].Add(l.window).Sub(now)
		l.events[userID] = events
		return false, retryAfter
	}

	l.events[userID] = append(events, now)
	return true, 0
}

// Forget drops the user's window, freeing its memory after disconnect.
func (l *RateLimiter) Forget(userID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, userID)
}
