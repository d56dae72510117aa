// Package crashtrack classifies supervised process exits. A run that dies
// inside the configured window counts as an instant crash; enough of them in
// a row tells the supervisor to stop auto-restarting.
package crashtrack

import (
	"sync"
	"time"
)

// Result describes how one exit was classified.
type Result struct {
	// InstantCrash is true when the run died inside the crash window.
	InstantCrash bool

	// Exceeded is true once the instant-crash streak has reached the
	// configured maximum. The supervisor should stop auto-restarting.
	Exceeded bool

	// Streak is the count of consecutive instant crashes after this exit.
	Streak int
}

// Tracker counts consecutive instant crashes of one supervised process.
// Safe for concurrent use; exit notifications typically arrive on a waiter
// goroutine while the supervisor loop reads state.
type Tracker struct {
	mu sync.Mutex

	window            time.Duration
	maxInstantCrashes int

	lastStart time.Time
	started   bool
	streak    int
}

// New creates a Tracker. A run shorter than window counts as an instant
// crash; maxInstantCrashes consecutive ones flip Exceeded.
func New(window time.Duration, maxInstantCrashes int) *Tracker {
	return &Tracker{
		window:            window,
		maxInstantCrashes: maxInstantCrashes,
	}
}

// MarkStart records that the supervised process (re)started at now.
func (t *Tracker) MarkStart(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastStart = now
	t.started = true
}

// RecordExit classifies an exit at now against the most recent start. A run
// that lasted no longer than the window extends the instant-crash streak; a
// longer run proves the process healthy and resets it. An exit without a
// matching MarkStart leaves the streak untouched.
func (t *Tracker) RecordExit(now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return Result{Streak: t.streak, Exceeded: t.exceededLocked()}
	}
	t.started = false

	if now.Sub(t.lastStart) <= t.window {
		t.streak++
		return Result{
			InstantCrash: true,
			Exceeded:     t.exceededLocked(),
			Streak:       t.streak,
		}
	}

	t.streak = 0
	return Result{}
}

// Reset zeroes the streak and forgets the last start, for use after an
// operator intervenes or the supervisor gives the process a clean slate.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streak = 0
	t.started = false
	t.lastStart = time.Time{}
}

// Streak returns the current count of consecutive instant crashes.
func (t *Tracker) Streak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streak
}

// Exceeded reports whether the streak has reached the configured maximum.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exceededLocked()
}

func (t *Tracker) exceededLocked() bool {
	return t.maxInstantCrashes > 0 && t.streak >= t.maxInstantCrashes
}
