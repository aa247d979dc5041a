package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	if now := clock.Now(); now.Before(before) {
		t.Errorf("RealClock.Now() = %v, before %v", now, before)
	}

	timer := clock.NewTimer(10 * time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("RealClock timer did not fire within 1s")
	}
	if timer.Stop() {
		t.Error("Stop() after firing should report false")
	}
	if clock.Since(before) < 10*time.Millisecond {
		t.Error("RealClock.Since() shorter than the timer")
	}
}

func fired(tm Timer) bool {
	select {
	case <-tm.C():
		return true
	default:
		return false
	}
}

func TestMockClock_TimersFireOnAdvance(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock := NewMockClock(start)

	short := clock.NewTimer(100 * time.Millisecond)
	long := clock.NewTimer(500 * time.Millisecond)
	if n := clock.PendingTimers(); n != 2 {
		t.Fatalf("PendingTimers() = %d, want 2", n)
	}

	clock.Advance(99 * time.Millisecond)
	if fired(short) || fired(long) {
		t.Fatal("no timer should fire before its deadline")
	}

	clock.Advance(time.Millisecond)
	if !fired(short) {
		t.Error("short timer should fire at its deadline")
	}
	if fired(long) {
		t.Error("long timer fired early")
	}
	if n := clock.PendingTimers(); n != 1 {
		t.Errorf("PendingTimers() = %d, want 1", n)
	}

	clock.Advance(time.Second)
	if !fired(long) {
		t.Error("long timer should fire")
	}
	if got := clock.Since(start); got != 1100*time.Millisecond {
		t.Errorf("Since(start) = %v, want 1.1s", got)
	}
}

func TestMockClock_Stop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on a pending timer should report true")
	}
	if timer.Stop() {
		t.Error("second Stop() should report false")
	}
	if n := clock.PendingTimers(); n != 0 {
		t.Errorf("PendingTimers() = %d, want 0", n)
	}

	clock.Advance(2 * time.Second)
	if fired(timer) {
		t.Error("stopped timer fired")
	}
}
