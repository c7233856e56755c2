package ratelimit

import (
	"sync"
	"time"
)

// Window is a sliding log of completed requests and their token costs.
//
// Entries are kept oldest first and removed lazily by EvictExpired. Unlike a
// bucketed counter, each entry keeps its own timestamp, so the wait until
// capacity frees up is exact: the oldest entry leaves the window at
// oldest+horizon.
//
// Window is safe for concurrent use. Admission decisions that read and then
// act on occupancy still need an outer lock; the internal one only keeps
// readers such as Snapshot consistent while the owner mutates.
type Window struct {
	horizon time.Duration
	entries []windowEntry
	tokens  int
	mu      sync.RWMutex
}

type windowEntry struct {
	at     time.Time
	tokens int
}

// WindowSnapshot is a point-in-time view of a Window.
type WindowSnapshot struct {
	Requests int
	Tokens   int
	Oldest   time.Time // zero when empty
}

// NewWindow creates an empty window covering the trailing horizon.
func NewWindow(horizon time.Duration) *Window {
	return &Window{horizon: horizon}
}

// Horizon returns the window length.
func (w *Window) Horizon() time.Duration {
	return w.horizon
}

// EvictExpired removes every entry with a timestamp strictly before
// now-horizon and returns how many were removed. Calling it again with the
// same now removes nothing.
func (w *Window) EvictExpired(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.horizon)
	n := 0
	for n < len(w.entries) && w.entries[n].at.Before(cutoff) {
		w.tokens -= w.entries[n].tokens
		n++
	}
	if n == 0 {
		return 0
	}

	remaining := copy(w.entries, w.entries[n:])
	clear(w.entries[remaining:])
	w.entries = w.entries[:remaining]
	return n
}

// Occupancy returns the number of entries and the sum of their costs.
// Call EvictExpired first for a current figure.
func (w *Window) Occupancy() (requests int, tokens int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries), w.tokens
}

// Record appends a completed request. Costs are not validated.
func (w *Window) Record(at time.Time, tokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{at: at, tokens: tokens})
	w.tokens += tokens
}

// OldestTimestamp returns the earliest entry's timestamp, or false when
// the window is empty.
func (w *Window) OldestTimestamp() (time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.entries) == 0 {
		return time.Time{}, false
	}
	return w.entries[0].at, true
}

// Len returns the number of entries, expired or not.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// Reset removes all entries.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
	w.tokens = 0
}

// Snapshot reports the entries still inside the window at now without
// evicting anything.
func (w *Window) Snapshot(now time.Time) WindowSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	cutoff := now.Add(-w.horizon)
	var snap WindowSnapshot
	for _, e := range w.entries {
		if e.at.Before(cutoff) {
			continue
		}
		if snap.Requests == 0 {
			snap.Oldest = e.at
		}
		snap.Requests++
		snap.Tokens += e.tokens
	}
	return snap
}
