/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ratelimit implements sliding-window admission control.
// Entries older than the window are pruned before each check.
package ratelimit

import (
	"sync"
	"time"
)

// Window is a thread-safe per-key sliding-window limiter.
type Window struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

// NewWindow creates a limiter allowing max events per key per window.
func NewWindow(max int, window time.Duration) *Window {
	return &Window{
		max:     max,
		window:  window,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records and admits one event for key, or rejects it when the
// window is at capacity. Rejected events are not recorded.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	kept := w.prune(key, now)
	if len(kept) >= w.max {
		return false
	}
	w.entries[key] = append(kept, now)
	return true
}

// Remaining returns how many events key may still emit in the current window.
func (w *Window) Remaining(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.prune(key, w.now())
	w.entries[key] = kept
	if rem := w.max - len(kept); rem > 0 {
		return rem
	}
	return 0
}

// RetryAfter returns how long until the oldest in-window event expires.
// Zero means a request would be admitted now.
func (w *Window) RetryAfter(key string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	kept := w.prune(key, now)
	w.entries[key] = kept
	if len(kept) < w.max {
		return 0
	}
	return kept[0].Add(w.window).Sub(now)
}

// Reset forgets all recorded events for key.
func (w *Window) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, key)
}

// prune drops expired timestamps for key. Caller holds the lock.
func (w *Window) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	existing := w.entries[key]
	kept := existing[:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(w.entries, key)
		return nil
	}
	w.entries[key] = kept
	return kept
}
