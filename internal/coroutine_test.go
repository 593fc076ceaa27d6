package loom_internal

import (
	"testing"
	"time"
)

func TestCoroutinePingPong(t *testing.T) {
	var log []string

	var b *Coroutine
	a := Spawn("A", func(yield func()) {
		log = append(log, "A1")
		yield()
		log = append(log, "A2")
	})
	b = Spawn("B", func(yield func()) {
		log = append(log, "B1")
		yield()
		log = append(log, "B2")
	})

	if a.State() != CoroutineReady || b.State() != CoroutineReady {
		t.Fatalf("fresh coroutines should start Ready, got a=%s b=%s", a.State(), b.State())
	}

	a.Resume()
	if a.State() != CoroutineSuspended {
		t.Fatalf("after first yield, want Suspended, got %s", a.State())
	}
	b.Resume()
	if b.State() != CoroutineSuspended {
		t.Fatalf("after first yield, want Suspended, got %s", b.State())
	}
	a.Resume()
	if a.State() != CoroutineTerm {
		t.Fatalf("after return, want Term, got %s", a.State())
	}
	b.Resume()
	if b.State() != CoroutineTerm {
		t.Fatalf("after return, want Term, got %s", b.State())
	}

	want := []string{"A1", "B1", "A2", "B2"}
	if len(log) != len(want) {
		t.Fatalf("log: want %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log: want %v, got %v", want, log)
		}
	}

	if a.Resume() {
		t.Fatal("Resume() on a terminated coroutine should return false")
	}
}

func TestCoroutineCurrent(t *testing.T) {
	seen := make(chan *Coroutine, 1)
	co := Spawn("self-aware", func(yield func()) {
		seen <- Current()
	})
	co.Resume()
	got := <-seen
	if got != co {
		t.Fatalf("Current() inside the coroutine body: want %p, got %p", co, got)
	}
}

func TestCoroutinePanicIsCapturedAsErr(t *testing.T) {
	co := Spawn("panicky", func(yield func()) {
		panic("boom")
	})
	co.Resume()
	if co.State() != CoroutineTerm {
		t.Fatalf("state after panic: want Term, got %s", co.State())
	}
	if co.Err() == nil {
		t.Fatal("Err() should be non-nil after a panicking entry function")
	}
}

func TestCoroutineResetRequiresTerm(t *testing.T) {
	co := Spawn("short", func(yield func()) { yield() })
	co.Resume() // now Suspended, not Term

	if err := co.Reset(func(yield func()) {}); err == nil {
		t.Fatal("Reset() on a Suspended coroutine should error")
	}

	co.Resume() // drive it to Term
	if co.State() != CoroutineTerm {
		t.Fatalf("state: want Term, got %s", co.State())
	}

	var ran bool
	if err := co.Reset(func(yield func()) { ran = true }); err != nil {
		t.Fatalf("Reset() on a Term coroutine: %v", err)
	}
	co.Resume()
	if !ran {
		t.Fatal("reset coroutine's new entry function never ran")
	}
}

func TestCoroutineResetPreservesOriginalHandleIdentity(t *testing.T) {
	co := Spawn("reusable", func(yield func()) { yield() })
	co.Resume() // Suspended
	co.Resume() // Term
	if co.State() != CoroutineTerm {
		t.Fatalf("state: want Term, got %s", co.State())
	}

	originalId := co.Id()
	if err := co.Reset(func(yield func()) {
		yield()
		yield()
	}); err != nil {
		t.Fatalf("Reset(): %v", err)
	}
	if co.Id() != originalId {
		t.Fatalf("Reset() changed the coroutine's id: want %d, got %d", originalId, co.Id())
	}

	// The same *Coroutine handle obtained before Reset must keep tracking the
	// relaunched body's real state, not freeze at whatever it was when Reset
	// returned.
	if co.State() != CoroutineReady {
		t.Fatalf("state immediately after Reset: want Ready, got %s", co.State())
	}
	co.Resume()
	if co.State() != CoroutineSuspended {
		t.Fatalf("state after first resume post-reset: want Suspended, got %s", co.State())
	}
	co.Resume()
	if co.State() != CoroutineSuspended {
		t.Fatalf("state after second resume post-reset: want Suspended, got %s", co.State())
	}
	if co.Resume() {
		t.Fatal("Resume() that drives the reset body to completion should return false")
	}
	if co.State() != CoroutineTerm {
		t.Fatalf("state after reset body terminates: want Term, got %s", co.State())
	}
}

func TestCoroutineIdsAreUnique(t *testing.T) {
	a := Spawn("a", func(yield func()) {})
	b := Spawn("b", func(yield func()) {})
	if a.Id() == b.Id() {
		t.Fatalf("two coroutines got the same id: %d", a.Id())
	}
}

func TestCoroutineTotalCount(t *testing.T) {
	before := TotalCount()
	Spawn("counted-a", func(yield func()) {})
	Spawn("counted-b", func(yield func()) {})
	after := TotalCount()
	if after != before+2 {
		t.Fatalf("TotalCount(): want %d, got %d", before+2, after)
	}
}

func TestRegisterHostUnregisterHost(t *testing.T) {
	done := make(chan *Coroutine, 1)
	go func() {
		host := registerHost("test-host")
		done <- Current()
		unregisterHost(host)
	}()
	select {
	case got := <-done:
		if got == nil || got.Name() != "test-host" {
			t.Fatalf("Current() inside registered goroutine: got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for host goroutine")
	}
}
