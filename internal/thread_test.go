package loom_internal

import (
	"strings"
	"testing"
	"time"
)

func TestThreadRunsFnAndJoins(t *testing.T) {
	done := make(chan struct{})
	th := New("worker", func() {
		close(done)
	})
	th.Join()
	select {
	case <-done:
	default:
		t.Fatal("Join() returned before fn finished")
	}
	if th.Tid() <= 0 {
		t.Fatalf("Tid(): want > 0, got %d", th.Tid())
	}
}

func TestThreadNameTruncation(t *testing.T) {
	long := "this-name-is-way-too-long-for-a-thread"
	th := New(long, func() {})
	th.Join()
	if len(th.Name()) > THREAD_NAME_MAX_LEN {
		t.Fatalf("Name() len: want <= %d, got %d (%q)", THREAD_NAME_MAX_LEN, len(th.Name()), th.Name())
	}
	if !strings.HasPrefix(long, th.Name()) {
		t.Fatalf("truncated name %q is not a prefix of %q", th.Name(), long)
	}
}

func TestThreadDetachDoesNotBlockJoin(t *testing.T) {
	started := make(chan struct{})
	finish := make(chan struct{})
	th := New("detachable", func() {
		close(started)
		<-finish
	})
	<-started
	th.Detach()
	close(finish)
	th.Join()
}

func TestThreadCurrentTidAndName(t *testing.T) {
	if got := CurrentTid(); got != 0 {
		t.Fatalf("CurrentTid() outside any Thread: want 0, got %d", got)
	}
	if got := CurrentThreadName(); got != "" {
		t.Fatalf("CurrentThreadName() outside any Thread: want \"\", got %q", got)
	}

	var gotTid int
	var gotName string
	th := New("selfaware", func() {
		gotTid = CurrentTid()
		gotName = CurrentThreadName()
	})
	th.Join()

	if gotTid != th.Tid() {
		t.Fatalf("CurrentTid() inside fn: want %d, got %d", th.Tid(), gotTid)
	}
	if gotName != th.Name() {
		t.Fatalf("CurrentThreadName() inside fn: want %q, got %q", th.Name(), gotName)
	}
	if got := CurrentTid(); got != 0 {
		t.Fatalf("CurrentTid() after the thread exited: want 0, got %d", got)
	}
}

func TestThreadMultipleThreadsGetDistinctTids(t *testing.T) {
	a := New("a", func() { time.Sleep(5 * time.Millisecond) })
	b := New("b", func() { time.Sleep(5 * time.Millisecond) })
	a.Join()
	b.Join()
	if a.Tid() == b.Tid() {
		t.Fatalf("two threads reported the same tid: %d", a.Tid())
	}
}
