package crashtrack

import (
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTracker_InstantCrashStreak(t *testing.T) {
	tr := New(15*time.Second, 2)

	tr.MarkStart(base)
	res := tr.RecordExit(base)
	if !res.InstantCrash || res.Streak != 1 {
		t.Fatalf("first exit = %+v, want instant crash with streak 1", res)
	}
	if res.Exceeded {
		t.Fatal("first instant crash should not exceed the maximum")
	}

	tr.MarkStart(base)
	res = tr.RecordExit(base.Add(time.Second))
	if !res.InstantCrash || res.Streak != 2 {
		t.Fatalf("second exit = %+v, want instant crash with streak 2", res)
	}
	if !res.Exceeded {
		t.Fatal("second instant crash should exceed the maximum")
	}
}

func TestTracker_HealthyRunResetsStreak(t *testing.T) {
	tr := New(15*time.Second, 2)

	tr.MarkStart(base)
	tr.RecordExit(base.Add(time.Second))
	if tr.Streak() != 1 {
		t.Fatalf("streak = %d, want 1", tr.Streak())
	}

	tr.MarkStart(base)
	res := tr.RecordExit(base.Add(16 * time.Second))
	if res.InstantCrash || res.Exceeded || res.Streak != 0 {
		t.Fatalf("healthy run = %+v, want zero result", res)
	}

	// The streak starts over after a healthy run.
	tr.MarkStart(base)
	res = tr.RecordExit(base.Add(time.Second))
	if !res.InstantCrash || res.Streak != 1 {
		t.Fatalf("post-recovery exit = %+v, want streak 1", res)
	}
}

func TestTracker_ExactWindowBoundary(t *testing.T) {
	tr := New(15*time.Second, 2)

	tr.MarkStart(base)
	res := tr.RecordExit(base.Add(15 * time.Second))
	if !res.InstantCrash {
		t.Error("a run lasting exactly the window counts as an instant crash")
	}
}

func TestTracker_ExceededStaysOnceReached(t *testing.T) {
	tr := New(15*time.Second, 2)

	for i := 0; i < 3; i++ {
		tr.MarkStart(base)
		tr.RecordExit(base)
	}

	if tr.Streak() != 3 {
		t.Errorf("streak = %d, want 3", tr.Streak())
	}
	if !tr.Exceeded() {
		t.Error("tracker should remain exceeded while the streak grows")
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := New(15*time.Second, 2)

	tr.MarkStart(base)
	tr.RecordExit(base)
	tr.MarkStart(base)
	tr.RecordExit(base)
	if !tr.Exceeded() {
		t.Fatal("setup should have exceeded the maximum")
	}

	tr.Reset()
	if tr.Streak() != 0 || tr.Exceeded() {
		t.Errorf("after reset: streak %d exceeded %v", tr.Streak(), tr.Exceeded())
	}

	// Reset also forgets the last start.
	res := tr.RecordExit(base.Add(time.Second))
	if res.InstantCrash || res.Streak != 0 {
		t.Errorf("exit after reset without start = %+v", res)
	}
}

func TestTracker_ExitWithoutStartIgnored(t *testing.T) {
	tr := New(15*time.Second, 2)

	res := tr.RecordExit(base)
	if res.InstantCrash || res.Exceeded || res.Streak != 0 {
		t.Fatalf("exit without start = %+v, want zero result", res)
	}

	tr.MarkStart(base)
	tr.RecordExit(base)

	// A duplicate exit notification has no matching start.
	res = tr.RecordExit(base.Add(time.Millisecond))
	if res.InstantCrash || res.Streak != 1 {
		t.Errorf("duplicate exit = %+v, want streak preserved at 1", res)
	}
}
