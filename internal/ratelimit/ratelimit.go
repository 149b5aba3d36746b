// Package ratelimit provides a keyed fixed-window request limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter allows at most rate requests per window for each key.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	rate    int
	period  time.Duration
	now     func() time.Time
}

type window struct {
	count int
	start time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter that allows rate requests per period for each key.
func New(rate int, period time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		rate:    rate,
		period:  period,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow counts one request for key and reports whether it is within the
// limit. A non-positive rate disables limiting.
func (l *Limiter) Allow(key string) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		l.windows[key] = &window{count: 1, start: now}
		return true
	}
	w.count++
	return w.count <= l.rate
}

// Remaining reports how many requests key may still make in its current
// window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || l.now().Sub(w.start) >= l.period {
		return l.rate
	}
	if w.count >= l.rate {
		return 0
	}
	return l.rate - w.count
}

// Sweep drops windows that have expired and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run sweeps expired windows every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			l.Sweep()
		}
	}
}
