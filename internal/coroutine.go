// Stackful-style cooperative coroutines on top of goroutines.

package loom_internal

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

type CoroutineState int

const (
	CoroutineReady CoroutineState = iota
	CoroutineRunning
	CoroutineSuspended
	CoroutineTerm
)

var coroutineStateName = map[CoroutineState]string{
	CoroutineReady:     "Ready",
	CoroutineRunning:   "Running",
	CoroutineSuspended: "Suspended",
	CoroutineTerm:      "Term",
}

func (s CoroutineState) String() string { return coroutineStateName[s] }

var coroutineLog = NewCompLogger("coroutine")

var nextCoroutineId uint64

// DEFAULT_COROUTINE_STACK_SIZE is the stack reservation hint recorded per
// coroutine. It has no effect on goroutine stacks, which grow on demand; it
// is kept purely as metadata mirroring Hourglass::Coroutine's fixed-size
// ucontext stack allocation.
const DEFAULT_COROUTINE_STACK_SIZE = 128000

// A Coroutine is a single-shot, resumable unit of execution. Only one of
// Resume/current-goroutine may be "running" at a time; everything else is
// blocked on a channel handoff, which is how the one-running-coroutine-per
// -thread invariant is preserved without real context switching.
type Coroutine struct {
	id        uint64
	name      string
	stackSize int

	mu    sync.Mutex
	state CoroutineState

	resumeCh chan struct{}
	yieldCh  chan struct{}

	// Set by the entry function if it panics; surfaced to the resumer after
	// the final yield-to-term.
	err error

	// goroutine id this coroutine's body executes on, used by Current() to
	// answer "what coroutine is running on this line of execution". Valid
	// only once the underlying goroutine has actually started running.
	gid uint64

	// scheduler is set by Scheduler.runTask/workerLoop to whichever
	// Scheduler is driving this coroutine, so GetThis() can answer "what
	// scheduler is running me" from inside a submitted task. nil for a
	// coroutine spawned directly via Spawn outside any Scheduler.
	scheduler *Scheduler
}

// currentRegistry maps a goroutine id to the Coroutine (real or host pseudo
// -coroutine, see registerHost) currently considered "running" on it. Since
// Go lacks real thread-local storage, and our coroutines run on dedicated
// goroutines rather than migrating ucontexts within one OS thread, the
// goroutine id is used as the TLS key: it is stable for as long as the
// goroutine itself runs, and only ever written to by that goroutine.
var currentRegistry sync.Map // map[uint64]*Coroutine

// goroutineID extracts the numeric id Go prints in a goroutine's stack trace
// header. There is no supported API for this; it is used here purely as a
// TLS key and never for control flow decisions.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:"
	b := buf[:n]
	i := 10 // len("goroutine ")
	j := i
	for j < len(b) && b[j] != ' ' {
		j++
	}
	id, _ := strconv.ParseUint(string(b[i:j]), 10, 64)
	return id
}

// Current returns the coroutine running on the calling goroutine, or nil if
// none is registered (e.g. called from a goroutine not managed by this
// package).
func Current() *Coroutine {
	if v, ok := currentRegistry.Load(goroutineID()); ok {
		return v.(*Coroutine)
	}
	return nil
}

// registerHost lets a Scheduler worker loop (which is not itself a spawned
// Coroutine) register a placeholder so that Current() resolves sensibly to
// "the thread's own coroutine" the way Hourglass::Coroutine::getCoroutine()
// lazily creates a thread-main coroutine for the calling OS thread.
func registerHost(name string) *Coroutine {
	host := &Coroutine{
		id:    atomic.AddUint64(&nextCoroutineId, 1),
		name:  name,
		state: CoroutineRunning,
		gid:   goroutineID(),
	}
	currentRegistry.Store(host.gid, host)
	return host
}

func unregisterHost(host *Coroutine) {
	currentRegistry.Delete(host.gid)
}

// Spawn creates a new, not-yet-started coroutine. entry receives a yield
// function it must call to suspend itself and hand control back to the
// resumer; entry returning ends the coroutine (state -> Term).
func Spawn(name string, entry func(yield func())) *Coroutine {
	return SpawnWithStackSize(name, DEFAULT_COROUTINE_STACK_SIZE, entry)
}

// SpawnWithStackSize is Spawn with an explicit stack-size hint, used by
// Scheduler to apply its configured SchedulerConfig.StackSizeHint to every
// coroutine it spawns.
func SpawnWithStackSize(name string, stackSize int, entry func(yield func())) *Coroutine {
	co := &Coroutine{
		id:        atomic.AddUint64(&nextCoroutineId, 1),
		name:      name,
		stackSize: stackSize,
		state:     CoroutineReady,
		resumeCh:  make(chan struct{}),
		yieldCh:   make(chan struct{}),
	}
	startBody(co, entry)
	return co
}

// startBody launches the goroutine backing co. It always closes over co
// itself (never a separate object), so Reset can reinitialize co's fields in
// place and call this again without invalidating handles callers already
// hold.
func startBody(co *Coroutine, entry func(yield func())) {
	go func() {
		<-co.resumeCh // wait for the first Resume
		co.gid = goroutineID()
		currentRegistry.Store(co.gid, co)
		defer currentRegistry.Delete(co.gid)

		defer func() {
			if r := recover(); r != nil {
				co.err = fmt.Errorf("coroutine %s panicked: %v", co.name, r)
			}
			co.mu.Lock()
			co.state = CoroutineTerm
			co.mu.Unlock()
			co.yieldCh <- struct{}{}
		}()

		yield := func() {
			co.mu.Lock()
			co.state = CoroutineSuspended
			co.mu.Unlock()
			co.yieldCh <- struct{}{}
			<-co.resumeCh
			co.mu.Lock()
			co.state = CoroutineRunning
			co.mu.Unlock()
		}

		co.mu.Lock()
		co.state = CoroutineRunning
		co.mu.Unlock()
		entry(yield)
	}()
}

// Resume runs (or re-runs, after a Yield) the coroutine until it yields or
// returns. It must be called from the goroutine that owns scheduling of this
// coroutine, never concurrently. Returns false once the coroutine has
// terminated; Err() then reports a panic, if any.
func (co *Coroutine) Resume() bool {
	co.mu.Lock()
	state := co.state
	co.mu.Unlock()
	if state == CoroutineTerm {
		return false
	}
	co.resumeCh <- struct{}{}
	<-co.yieldCh
	co.mu.Lock()
	alive := co.state != CoroutineTerm
	co.mu.Unlock()
	return alive
}

func (co *Coroutine) State() CoroutineState {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.state
}

func (co *Coroutine) Err() error {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.err
}

func (co *Coroutine) Id() uint64   { return co.id }
func (co *Coroutine) Name() string { return co.name }

// Reset rearms a terminated coroutine with a new entry function in place,
// reusing its id and stack-size hint. It mirrors Hourglass::Coroutine::
// reset(), which only permits resetting a coroutine in TERM state. Unlike
// spawning a replacement object, this keeps every existing *Coroutine handle
// (e.g. one held by a Scheduler task) valid: the relaunched goroutine body
// closes over the very same co, so State()/Resume() on an old handle keep
// observing the coroutine's real, current state.
func (co *Coroutine) Reset(entry func(yield func())) error {
	co.mu.Lock()
	state := co.state
	co.mu.Unlock()
	if state != CoroutineTerm {
		return fmt.Errorf("coroutine %s: cannot reset from state %s", co.name, state)
	}

	co.mu.Lock()
	co.state = CoroutineReady
	co.resumeCh = make(chan struct{})
	co.yieldCh = make(chan struct{})
	co.err = nil
	co.gid = 0
	co.mu.Unlock()

	startBody(co, entry)
	return nil
}

// TotalCount returns the number of coroutines ever spawned (including hosts
// registered via registerHost), monotonically increasing for the life of the
// process; Reset does not create a new id, so it is not counted again.
func TotalCount() uint64 {
	return atomic.LoadUint64(&nextCoroutineId)
}
