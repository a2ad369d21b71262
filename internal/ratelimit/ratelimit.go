package ratelimit

import (
	"sync"
	"time"
)

// sweepEvery is how many Allow calls pass between sweeps of idle keys.
const sweepEvery = 256

// Limiter tracks attempts per key (usually a client IP) within a sliding
// window.
type Limiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
	calls   int
	now     func() time.Time
}

// New creates a Limiter allowing max attempts per key per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether key is under its limit and, if so, records the
// attempt.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(cutoff)
	}

	valid := prune(l.entries[key], cutoff)
	if len(valid) >= l.max {
		l.entries[key] = valid
		return false
	}

	l.entries[key] = append(valid, now)
	return true
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sweep forgets keys with no attempts inside the window. Must hold mu.
func (l *Limiter) sweep(cutoff time.Time) {
	for key, timestamps := range l.entries {
		if valid := prune(timestamps, cutoff); len(valid) == 0 {
			delete(l.entries, key)
		} else {
			l.entries[key] = valid
		}
	}
}

// prune drops timestamps at or before cutoff, reusing the backing array.
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
