// Package ratelimit implements a keyed sliding window limiter.
//
// The same limiter guards two directions: inbound API requests per client and
// outbound requests per upstream endpoint class, where callers block in Wait
// until the window has room.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a sliding window limiter. Each key has a current and a previous
// fixed window; the previous window's count is weighted by how much of it
// still overlaps the sliding window.
type Window struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// NewWindow returns a limiter allowing max events per window for every key.
func NewWindow(max int, window time.Duration) *Window {
	return &Window{
		max:     max,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Max returns the configured number of events per window.
func (w *Window) Max() int { return w.max }

// Allow records an event for key if the window has room.
func (w *Window) Allow(key string) Decision {
	return w.allowAt(key, w.now())
}

func (w *Window) allowAt(key string, now time.Time) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[key]
	if !ok {
		e = &entry{currStart: now}
		w.entries[key] = e
	}

	if now.Sub(e.currStart) >= w.window {
		e.prevCount = e.currCount
		e.prevStart = e.currStart
		e.currCount = 0
		e.currStart = now.Truncate(w.window)
		if now.Sub(e.prevStart) >= 2*w.window {
			e.prevCount = 0
		}
	}

	overlap := 1.0 - now.Sub(e.currStart).Seconds()/w.window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	effective := e.prevCount*overlap + e.currCount
	resetAt := e.currStart.Add(w.window)

	if effective >= float64(w.max) {
		return Decision{ResetAt: resetAt}
	}

	e.currCount++
	remaining := int(float64(w.max) - effective - 1)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}
}

// Wait blocks until an event for key is allowed or ctx is done. It polls at
// most until the current window resets, so the weighted previous window can
// free room earlier than ResetAt.
func (w *Window) Wait(ctx context.Context, key string) error {
	for {
		d := w.Allow(key)
		if d.Allowed {
			return nil
		}

		delay := time.Until(d.ResetAt)
		if step := w.window / 10; delay > step {
			delay = step
		}
		if delay <= 0 {
			delay = time.Millisecond
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Cleanup drops keys whose windows have fully expired.
func (w *Window) Cleanup() {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	for key, e := range w.entries {
		if now.Sub(e.currStart) >= 2*w.window {
			delete(w.entries, key)
		}
	}
}

// StartCleanup runs Cleanup every two windows until ctx is cancelled.
func (w *Window) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * w.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Cleanup()
			}
		}
	}()
}
