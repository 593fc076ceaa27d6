package loom_internal

import (
	"testing"
	"time"
)

func TestTimerOneShotFires(t *testing.T) {
	tm := NewTimerManager()
	fired := make(chan struct{}, 1)
	tm.AddTimer(20*time.Millisecond, false, func() { fired <- struct{}{} })

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, cb := range tm.ListExpiredFunc() {
			cb()
		}
		select {
		case <-fired:
			if tm.Len() != 0 {
				t.Fatalf("Len() after one-shot fired: want 0, got %d", tm.Len())
			}
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("one-shot timer never fired")
}

func TestTimerCancelPreventsFiring(t *testing.T) {
	tm := NewTimerManager()
	fired := false
	timer := tm.AddTimer(10*time.Millisecond, false, func() { fired = true })
	if !timer.Cancel() {
		t.Fatal("Cancel() on a pending timer should return true")
	}
	if timer.Cancel() {
		t.Fatal("Cancel() on an already-cancelled timer should return false")
	}

	time.Sleep(30 * time.Millisecond)
	for _, cb := range tm.ListExpiredFunc() {
		cb()
	}
	if fired {
		t.Fatal("cancelled timer's callback ran")
	}
	if tm.Len() != 0 {
		t.Fatalf("Len(): want 0, got %d", tm.Len())
	}
}

func TestTimerRecurringReschedules(t *testing.T) {
	tm := NewTimerManager()
	var count int
	timer := tm.AddTimer(10*time.Millisecond, true, func() { count++ })

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) && count < 3 {
		for _, cb := range tm.ListExpiredFunc() {
			cb()
		}
		time.Sleep(time.Millisecond)
	}
	if count < 3 {
		t.Fatalf("recurring timer fire count: want >= 3, got %d", count)
	}
	if tm.Len() != 1 {
		t.Fatalf("recurring timer should re-insert itself, Len(): want 1, got %d", tm.Len())
	}
	timer.Cancel()
	if tm.Len() != 0 {
		t.Fatalf("Len() after cancel: want 0, got %d", tm.Len())
	}
}

func TestTimerGetNextTimerEmptyAndExpired(t *testing.T) {
	tm := NewTimerManager()
	if got := tm.GetNextTimer(); got != NoNextTimer {
		t.Fatalf("GetNextTimer() on empty set: want %v, got %v", NoNextTimer, got)
	}

	tm.addTimer(-time.Millisecond, false, nil, func() {})
	if got := tm.GetNextTimer(); got != 0 {
		t.Fatalf("GetNextTimer() with an already-expired head: want 0, got %v", got)
	}
}

func TestTimerOrderingIsDeadlineOrder(t *testing.T) {
	tm := NewTimerManager()
	var fireOrder []int
	tm.AddTimer(30*time.Millisecond, false, func() { fireOrder = append(fireOrder, 3) })
	tm.AddTimer(10*time.Millisecond, false, func() { fireOrder = append(fireOrder, 1) })
	tm.AddTimer(20*time.Millisecond, false, func() { fireOrder = append(fireOrder, 2) })

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && tm.Len() > 0 {
		for _, cb := range tm.ListExpiredFunc() {
			cb()
		}
		time.Sleep(time.Millisecond)
	}

	want := []int{1, 2, 3}
	if len(fireOrder) != len(want) {
		t.Fatalf("fireOrder: want %v, got %v", want, fireOrder)
	}
	for i := range want {
		if fireOrder[i] != want[i] {
			t.Fatalf("fireOrder: want %v, got %v", want, fireOrder)
		}
	}
}

func TestTimerConditionTimerSkipsWhenConditionFalse(t *testing.T) {
	tm := NewTimerManager()
	var ran bool
	tm.AddConditionTimer(5*time.Millisecond, false, func() bool { return false }, func() { ran = true })

	time.Sleep(20 * time.Millisecond)
	for _, cb := range tm.ListExpiredFunc() {
		cb()
	}
	if ran {
		t.Fatal("condition timer fired despite cond() returning false")
	}
}

func TestTimerClockRolloverFlushesEverything(t *testing.T) {
	tm := NewTimerManager()
	base := time.Now()
	tm.nowFunc = func() time.Time { return base }

	tm.AddTimer(time.Hour, false, func() {})
	tm.AddTimer(2*time.Hour, false, func() {})

	// Simulate the wall clock jumping backward by more than RolloverThreshold.
	tm.nowFunc = func() time.Time { return base.Add(-2 * RolloverThreshold) }

	cbs := tm.ListExpiredFunc()
	if len(cbs) != 2 {
		t.Fatalf("rollover should drain the whole set: want 2 callbacks, got %d", len(cbs))
	}
	if tm.Len() != 0 {
		t.Fatalf("Len() after rollover flush: want 0, got %d", tm.Len())
	}
}

func TestTimerUnservicedHeadIsNotARollover(t *testing.T) {
	tm := NewTimerManager()
	base := time.Now()
	tm.nowFunc = func() time.Time { return base }

	var longFired, shortFired bool
	tm.AddTimer(3*time.Hour, false, func() { longFired = true })
	tm.AddTimer(time.Millisecond, false, func() { shortFired = true })

	// Advance the clock forward (not backward) past the short timer's
	// deadline and past RolloverThreshold, simulating a one-shot that went
	// unserviced for a long time rather than a clock step.
	tm.nowFunc = func() time.Time { return base.Add(2 * RolloverThreshold) }

	for _, cb := range tm.ListExpiredFunc() {
		cb()
	}
	if !shortFired {
		t.Fatal("the unserviced short timer should have fired")
	}
	if longFired {
		t.Fatal("an unserviced-but-not-expired timer fired early: a stale head was mistaken for a clock rollover")
	}
	if tm.Len() != 1 {
		t.Fatalf("Len() after draining only the expired timer: want 1, got %d", tm.Len())
	}
}

func TestTimerHasTimer(t *testing.T) {
	tm := NewTimerManager()
	if tm.HasTimer() {
		t.Fatal("HasTimer() on an empty set should be false")
	}
	timer := tm.AddTimer(time.Hour, false, func() {})
	if !tm.HasTimer() {
		t.Fatal("HasTimer() with a pending timer should be true")
	}
	timer.Cancel()
	if tm.HasTimer() {
		t.Fatal("HasTimer() after cancelling the only timer should be false")
	}
}

func TestTimerResetFromNowVsPhasePreserving(t *testing.T) {
	tm := NewTimerManager()
	base := time.Now()
	tm.nowFunc = func() time.Time { return base }

	timer := tm.AddTimer(10*time.Second, false, func() {})

	tm.nowFunc = func() time.Time { return base.Add(4 * time.Second) }
	if !timer.Reset(20*time.Second, true) {
		t.Fatal("Reset(fromNow=true) should succeed on a pending timer")
	}
	wantFromNow := base.Add(4 * time.Second).Add(20 * time.Second)
	if !timer.deadline.Equal(wantFromNow) {
		t.Fatalf("Reset(fromNow=true) deadline: want %v, got %v", wantFromNow, timer.deadline)
	}

	timer2 := tm.AddTimer(10*time.Second, false, func() {}) // deadline = base+4s+10s = base+14s
	if !timer2.Reset(20*time.Second, false) {
		t.Fatal("Reset(fromNow=false) should succeed on a pending timer")
	}
	// base2 = deadline - oldInterval = (base+14s) - 10s = base+4s; new deadline = base2 + 20s.
	wantPhasePreserving := base.Add(4 * time.Second).Add(20 * time.Second)
	if !timer2.deadline.Equal(wantPhasePreserving) {
		t.Fatalf("Reset(fromNow=false) deadline: want %v, got %v", wantPhasePreserving, timer2.deadline)
	}
}

func TestTimerOnEarliestChangedFiresOnNewHead(t *testing.T) {
	tm := NewTimerManager()
	var calls int
	tm.OnEarliestChanged = func() { calls++ }

	tm.AddTimer(100*time.Millisecond, false, func() {})
	if calls != 1 {
		t.Fatalf("OnEarliestChanged on the first (only) timer insert: want 1 call, got %d", calls)
	}

	tm.AddTimer(10*time.Millisecond, false, func() {})
	if calls != 2 {
		t.Fatalf("OnEarliestChanged after inserting an earlier deadline: want 2 calls, got %d", calls)
	}

	tm.AddTimer(50*time.Millisecond, false, func() {})
	if calls != 2 {
		t.Fatalf("OnEarliestChanged after inserting a later deadline: want still 2 calls, got %d", calls)
	}
}
