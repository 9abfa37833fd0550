package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(window time.Duration, exempt []string) (*Limiter, *time.Time) {
	l := New(window, exempt, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cur := &now
	l.now = func() time.Time { return *cur }
	return l, cur
}

func TestWindowSemantics(t *testing.T) {
	t.Parallel()
	l, now := newTestLimiter(5*time.Second, nil)

	if !l.TryAcquire(10, "deals") {
		t.Fatal("first acquire must pass")
	}
	if l.TryAcquire(10, "deals") {
		t.Fatal("immediate repeat must be limited")
	}

	*now = now.Add(4 * time.Second)
	if l.TryAcquire(10, "deals") {
		t.Fatal("4s into a 5s window must still be limited")
	}

	// Exactly one window after the grant is still inside it.
	*now = now.Add(time.Second)
	if l.TryAcquire(10, "deals") {
		t.Fatal("acquire at exactly the window edge must be limited")
	}

	*now = now.Add(time.Millisecond)
	if !l.TryAcquire(10, "deals") {
		t.Fatal("acquire past the window edge must pass")
	}
}

func TestDeniedAcquireDoesNotExtendWindow(t *testing.T) {
	t.Parallel()
	l, now := newTestLimiter(5*time.Second, nil)

	l.TryAcquire(10, "deals")
	*now = now.Add(3 * time.Second)
	if l.TryAcquire(10, "deals") {
		t.Fatal("repeat inside window must be limited")
	}
	// Denial at t=3s must not move the stamp: just past t=5s still clears.
	*now = now.Add(2*time.Second + time.Millisecond)
	if !l.TryAcquire(10, "deals") {
		t.Fatal("window must expire relative to the granted acquire")
	}
}

func TestIsolationAcrossUsersAndActions(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(5*time.Second, nil)

	if !l.TryAcquire(10, "deals") {
		t.Fatal("user 10 deals")
	}
	if !l.TryAcquire(11, "deals") {
		t.Fatal("a different user must not share the window")
	}
	if !l.TryAcquire(10, "subscribe") {
		t.Fatal("a different action must not share the window")
	}
}

func TestExemptActions(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(5*time.Second, []string{"help"})

	for i := 0; i < 5; i++ {
		if !l.TryAcquire(10, "help") {
			t.Fatalf("exempt action limited on attempt %d", i)
		}
	}
}
