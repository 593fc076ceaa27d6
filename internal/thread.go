// OS-thread-pinned goroutine wrapper.

package loom_internal

import (
	"runtime"
	"sync"
)

const (
	// pthread_setname_np (and unix.Prctl(PR_SET_NAME, ...)) truncate at 16
	// bytes including the terminating NUL.
	THREAD_NAME_MAX_LEN = 15
)

// A Thread pins a single goroutine to an OS thread for its entire lifetime
// via runtime.LockOSThread, the closest Go equivalent to a pthread. The
// constructor blocks until the underlying goroutine has captured its OS tid
// and applied its name, mirroring the Threadsem handshake in
// Hourglass::Thread so that Tid()/Name() are always valid once New
// returns.
type Thread struct {
	name string
	tid  int
	wg   sync.WaitGroup

	startSem chan struct{}
	detached bool
}

func truncateThreadName(name string) string {
	if len(name) > THREAD_NAME_MAX_LEN {
		return name[:THREAD_NAME_MAX_LEN]
	}
	return name
}

// threadRegistry maps a goroutine id (see goroutineID in coroutine.go) to the
// *Thread running on it, the same TLS-by-goroutine-id trick currentRegistry
// uses for coroutines, so CurrentTid/CurrentThreadName can answer "which
// Thread is this" from deep inside fn without fn having to thread a *Thread
// through every call.
var threadRegistry sync.Map // map[uint64]*Thread

// New starts fn running on a dedicated, named OS thread and blocks until the
// thread has finished its startup bookkeeping.
func New(name string, fn func()) *Thread {
	t := &Thread{
		name:     truncateThreadName(name),
		startSem: make(chan struct{}),
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		t.tid = GetTid()
		SetThreadName(t.name)
		gid := goroutineID()
		threadRegistry.Store(gid, t)
		defer threadRegistry.Delete(gid)
		close(t.startSem)

		fn()
	}()
	<-t.startSem
	return t
}

// currentThread returns the Thread running on the calling goroutine, or nil
// if the caller isn't running inside a Thread-managed goroutine.
func currentThread() *Thread {
	if v, ok := threadRegistry.Load(goroutineID()); ok {
		return v.(*Thread)
	}
	return nil
}

// CurrentTid returns the OS thread id of the calling Thread, or 0 if the
// caller isn't running inside one.
func CurrentTid() int {
	if t := currentThread(); t != nil {
		return t.Tid()
	}
	return 0
}

// CurrentThreadName returns the name of the calling Thread, or "" if the
// caller isn't running inside one.
func CurrentThreadName() string {
	if t := currentThread(); t != nil {
		return t.Name()
	}
	return ""
}

// Tid returns the OS thread id captured at startup.
func (t *Thread) Tid() int { return t.tid }

// Name returns the (possibly truncated) thread name.
func (t *Thread) Name() string { return t.name }

// Join blocks until fn has returned.
func (t *Thread) Join() { t.wg.Wait() }

// Detach marks the thread as not needing Join. Go has no detach syscall; a
// goroutine that nobody joins is simply left to finish on its own, so this
// exists only for API symmetry with Hourglass::Thread::detach().
func (t *Thread) Detach() { t.detached = true }
