// Package throttle counts attempts per key inside a fixed window, used to
// slow down credential guessing on the login endpoint.
package throttle

import (
	"context"
	"sync"
	"time"
)

type Limiter interface {
	// Allow records one attempt for key and reports whether it is still
	// within the budget.
	Allow(ctx context.Context, key string) (bool, error)
}

// WindowLimiter is the in-process Limiter used when no Redis is configured.
type WindowLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	now     func() time.Time
	entries map[string][]time.Time
}

func NewWindowLimiter(max int, window time.Duration) *WindowLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{max: max, window: window, now: time.Now, entries: make(map[string][]time.Time)}
}

func (l *WindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false, nil
	}
	l.entries[key] = append(kept, now)
	return true, nil
}

type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) {
	return true, nil
}
