package muxhandlers

import (
	"sync"
	"time"
)

type failureWindow struct {
	start time.Time
	count int
}

// FailureLimiter counts failed attempts per key in fixed windows. A key is
// blocked once it reaches the limit and stays blocked until its window
// ends. It is safe for concurrent use.
type FailureLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*failureWindow
	lastSweep time.Time
}

// NewFailureLimiter returns a limiter allowing limit failures per window.
func NewFailureLimiter(limit int, window time.Duration, now func() time.Time) *FailureLimiter {
	if limit <= 0 {
		limit = 10
	}

	if window <= 0 {
		window = time.Minute
	}

	if now == nil {
		now = time.Now
	}

	return &FailureLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		entries: make(map[string]*failureWindow),
	}
}

// Blocked reports whether key has exhausted its failures for the current
// window.
func (l *FailureLimiter) Blocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.current(key, l.now())

	return e != nil && e.count >= l.limit
}

// Fail records a failure for key and reports whether key is now blocked.
func (l *FailureLimiter) Fail(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	e := l.current(key, now)
	if e == nil {
		e = &failureWindow{start: now}
		l.entries[key] = e
	}

	e.count++

	return e.count >= l.limit
}

// RetryAfter returns how long key remains blocked.
func (l *FailureLimiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	e := l.current(key, now)
	if e == nil || e.count < l.limit {
		return 0
	}

	return e.start.Add(l.window).Sub(now)
}

func (l *FailureLimiter) current(key string, now time.Time) *failureWindow {
	e, ok := l.entries[key]
	if !ok {
		return nil
	}

	if now.Sub(e.start) >= l.window {
		delete(l.entries, key)
		return nil
	}

	return e
}

func (l *FailureLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}

	l.lastSweep = now

	for key, e := range l.entries {
		if now.Sub(e.start) >= l.window {
			delete(l.entries, key)
		}
	}
}
