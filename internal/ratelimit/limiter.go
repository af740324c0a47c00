// Package ratelimit tracks per-user, per-action request quotas in fixed windows.
package ratelimit

import (
	"sync"
	"time"
)

type key struct {
	userID int64
	action string
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter is a process-local fixed-window rate limiter. A burst of up to
// twice the limit can straddle a window boundary.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	now     func() time.Time
	buckets map[key]*bucket
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a limiter allowing max calls per window for each (user, action).
func New(window time.Duration, max int, opts ...Option) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 10
	}
	l := &Limiter{
		window:  window,
		max:     max,
		now:     time.Now,
		buckets: make(map[key]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records an attempt and reports whether it fits in the current window.
// Expired buckets are replaced in place.
func (l *Limiter) Allow(userID int64, action string) bool {
	now := l.now()
	k := key{userID: userID, action: action}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[k]
	if !ok || !now.Before(b.resetAt) {
		l.buckets[k] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if b.count >= l.max {
		return false
	}
	b.count++
	return true
}

// Reset forgets every bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.buckets = make(map[key]*bucket)
	l.mu.Unlock()
}
