// Package ratelimit implements the fixed-window per-(user,tool) rate
// limiter (C7).
package ratelimit

import (
	"sync"
	"time"
)

// Key identifies one rate-limit counter: a user, a tool, and the source
// rule that produced the limit in effect (role rule, tool rule, etc.),
// since the same (user,tool) pair may be governed by different limits
// depending on which configuration location supplied the value.
type Key struct {
	UserID string
	Tool   string
	Source string
}

type window struct {
	count   uint
	resetAt time.Time
	limit   uint
	windowD time.Duration
}

// Result is the outcome of a Check call.
type Result struct {
	Allowed      bool
	CurrentCount uint
	Limit        uint
	ResetAt      time.Time
	TimeLeft     time.Duration
}

// Limiter is a single-process fixed-window counter keyed by Key.
// Distributed deployments require an external backend and are out of
// scope.
type Limiter struct {
	mu      sync.Mutex
	windows map[Key]*window
	stopCh  chan struct{}
	stopped bool
}

// New constructs a Limiter. If sweepInterval is positive, a background
// goroutine opportunistically removes windows whose resetAt+3*window has
// passed, to bound memory in long-lived processes; stop it via Close.
func New(sweepInterval time.Duration) *Limiter {
	l := &Limiter{windows: make(map[Key]*window), stopCh: make(chan struct{})}
	if sweepInterval > 0 {
		go l.sweepLoop(sweepInterval)
	}
	return l
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for k, w := range l.windows {
		if now.After(w.resetAt.Add(3 * w.windowD)) {
			delete(l.windows, k)
		}
	}
}

// Check increments the counter for key under the given limit/window,
// starting a fresh window if none exists or the current one has expired.
// A window begins at the first request in it and expires at
// start+window; counts are never decremented mid-window.
func (l *Limiter) Check(key Key, limit uint, windowDuration time.Duration) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(windowDuration), limit: limit, windowD: windowDuration}
		l.windows[key] = w
		return Result{Allowed: true, CurrentCount: 1, Limit: limit, ResetAt: w.resetAt}
	}

	w.count++
	allowed := w.count <= limit
	result := Result{Allowed: allowed, CurrentCount: w.count, Limit: limit, ResetAt: w.resetAt}
	if !allowed {
		result.TimeLeft = w.resetAt.Sub(now)
	}
	return result
}

// Clear resets every window for userID, or every window if userID is "".
func (l *Limiter) Clear(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if userID == "" {
		l.windows = make(map[Key]*window)
		return
	}
	for k := range l.windows {
		if k.UserID == userID {
			delete(l.windows, k)
		}
	}
}

// Close stops the background sweep goroutine, if any.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stopCh)
}
