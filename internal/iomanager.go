// Epoll-based I/O + timer reactor built on top of Scheduler and TimerManager.

package loom_internal

import (
	"fmt"
	"sync"
	"time"

	"github.com/mackerelio/go-osstat/loadavg"
)

// Event is a single readiness bit; Read and Write are armed independently
// per fd, so both may be set on the same FdContext at once.
const (
	EventRead  uint32 = 1 << 0
	EventWrite uint32 = 1 << 1
)

const (
	ioManagerFdTableInitialCapacity = 32
	ioManagerFdTableGrowFactor      = 1.5
	ioManagerMaxPollEvents          = 256
	ioManagerIdlePollCapMs          = 5000
)

var ioManagerLog = NewCompLogger("iomanager")

var (
	ErrEventAlreadyArmed = fmt.Errorf("iomanager: event already armed")
	ErrUnknownFd         = fmt.Errorf("iomanager: unknown fd")
)

// EventContext is what an armed (fd, event) bit resolves to once it fires:
// either a plain closure, or (fn == nil) the coroutine that was Running when
// it called AddEvent, captured so it can be resumed from the idle loop.
type EventContext struct {
	scheduler *Scheduler
	fn        func()
	co        *Coroutine
}

// FdContext is the per-fd registration record; a slot is populated iff the
// corresponding bit is set in armed (see the fd-table invariant).
type FdContext struct {
	fd    int
	mu    sync.Mutex
	armed uint32
	read  *EventContext
	write *EventContext
}

type IOManagerConfig struct {
	// Number of worker threads for the underlying scheduler. <= 0 matches
	// the available CPU count, same convention as SchedulerConfig.
	NumWorkers int `yaml:"num_workers"`
	// UseCaller donates the constructing goroutine as one of the workers,
	// passed straight through to the embedded Scheduler's SchedulerConfig.
	// When set, the caller must invoke (*IOManager).RunCaller() once after
	// NewIOManager returns, since NewIOManager itself only starts the
	// background workers and cannot block inside the constructor.
	UseCaller bool `yaml:"use_caller"`
}

func DefaultIOManagerConfig() *IOManagerConfig {
	return &IOManagerConfig{NumWorkers: SCHEDULER_MAX_NUM_WORKERS_DEFAULT}
}

// IOManager composes a Scheduler and a TimerManager and drives both from a
// single poller-backed idle loop, overriding the scheduler's tickle/idle/
// stopping hooks the way Hourglass::IOManager overrides its base class.
type IOManager struct {
	*Scheduler
	Timers *TimerManager

	poller       poller
	wakeR, wakeW int

	fdMu    sync.RWMutex
	fdTable []*FdContext

	pendingMu sync.Mutex
	pending   int

	events []pollEvent
}

func NewIOManager(cfg *IOManagerConfig, name string) (*IOManager, error) {
	if cfg == nil {
		cfg = DefaultIOManagerConfig()
	}

	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("iomanager %s: %w", name, err)
	}
	wakeR, wakeW, err := newWakePipe()
	if err != nil {
		p.close()
		return nil, fmt.Errorf("iomanager %s: %w", name, err)
	}

	iom := &IOManager{
		Scheduler: NewScheduler(&SchedulerConfig{NumWorkers: cfg.NumWorkers, UseCaller: cfg.UseCaller}, name),
		Timers:    NewTimerManager(),
		poller:    p,
		wakeR:     wakeR,
		wakeW:     wakeW,
		fdTable:   make([]*FdContext, ioManagerFdTableInitialCapacity),
		events:    make([]pollEvent, ioManagerMaxPollEvents),
	}
	// Swap in our own tickle/idle/stopping in place of the scheduler's
	// defaults, the Go equivalent of overriding Hourglass::Scheduler's
	// virtual methods.
	iom.Scheduler.hooks = iom
	iom.Timers.OnEarliestChanged = iom.tickle

	if err := iom.poller.ctl(pollerAdd, iom.wakeR, toEpollMask(EventRead)); err != nil {
		p.close()
		closeFd(iom.wakeR)
		closeFd(iom.wakeW)
		return nil, fmt.Errorf("iomanager %s: register wake pipe: %w", name, err)
	}

	iom.Scheduler.Start()
	return iom, nil
}

// Close stops the scheduler, then releases the poller and the wake pipe.
func (iom *IOManager) Close() error {
	iom.Scheduler.Stop()
	iom.poller.ctl(pollerDelete, iom.wakeR, 0)
	closeFd(iom.wakeR)
	closeFd(iom.wakeW)
	err := iom.poller.close()
	iom.fdMu.Lock()
	iom.fdTable = nil
	iom.fdMu.Unlock()
	return err
}

func (iom *IOManager) ensureFdCapacity(fd int) {
	iom.fdMu.RLock()
	big := fd < len(iom.fdTable)
	iom.fdMu.RUnlock()
	if big {
		return
	}
	iom.fdMu.Lock()
	defer iom.fdMu.Unlock()
	if fd < len(iom.fdTable) {
		return
	}
	newCap := int(float64(fd) * ioManagerFdTableGrowFactor)
	if newCap <= fd {
		newCap = fd + 1
	}
	grown := make([]*FdContext, newCap)
	copy(grown, iom.fdTable)
	iom.fdTable = grown
}

func (iom *IOManager) fdContext(fd int) *FdContext {
	iom.ensureFdCapacity(fd)
	iom.fdMu.Lock()
	defer iom.fdMu.Unlock()
	fc := iom.fdTable[fd]
	if fc == nil {
		fc = &FdContext{fd: fd}
		iom.fdTable[fd] = fc
	}
	return fc
}

func (iom *IOManager) existingFdContext(fd int) *FdContext {
	iom.fdMu.RLock()
	defer iom.fdMu.RUnlock()
	if fd < 0 || fd >= len(iom.fdTable) {
		return nil
	}
	return iom.fdTable[fd]
}

// AddEvent arms event (EventRead or EventWrite, a single bit) on fd. If fn is
// nil, the currently running coroutine is captured instead and resumed when
// the event fires; the caller is then expected to yield immediately after
// this call returns (the Suspension points rule). Rejects an already-armed
// bit rather than silently overwriting it.
func (iom *IOManager) AddEvent(fd int, event uint32, fn func()) error {
	fc := iom.fdContext(fd)
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.armed&event != 0 {
		return ErrEventAlreadyArmed
	}

	var co *Coroutine
	if fn == nil {
		co = Current()
		if co == nil || co.State() != CoroutineRunning {
			panic("iomanager: AddEvent without a callback requires a running coroutine")
		}
	}

	op := pollerModify
	if fc.armed == 0 {
		op = pollerAdd
	}
	composite := fc.armed | event
	// The corrected composite mask: armed-before OR'd with the newly
	// requested bit, no implicit EventRead. The original ioscheduler.cpp
	// unconditionally folded in EPOLLIN here, silently turning every
	// Write-only registration into Read|Write.
	if err := iom.poller.ctl(op, fd, toEpollMask(composite)); err != nil {
		return fmt.Errorf("iomanager: addEvent(fd=%d): %w", fd, err)
	}

	ctx := &EventContext{scheduler: iom.Scheduler, fn: fn, co: co}
	if event == EventRead {
		fc.read = ctx
	} else {
		fc.write = ctx
	}
	fc.armed = composite

	iom.pendingMu.Lock()
	iom.pending++
	iom.pendingMu.Unlock()

	return nil
}

// clearSlotLocked clears event from fc (reprogramming the poller) and
// returns the EventContext that was armed there, or nil. Callers hold
// fc.mu.
func (iom *IOManager) clearSlotLocked(fc *FdContext, event uint32) *EventContext {
	var ctx *EventContext
	if event == EventRead {
		ctx = fc.read
		fc.read = nil
	} else {
		ctx = fc.write
		fc.write = nil
	}
	if ctx == nil {
		return nil
	}
	fc.armed &^= event
	if fc.armed == 0 {
		iom.poller.ctl(pollerDelete, fc.fd, 0)
	} else {
		iom.poller.ctl(pollerModify, fc.fd, toEpollMask(fc.armed))
	}
	iom.pendingMu.Lock()
	iom.pending--
	iom.pendingMu.Unlock()
	return ctx
}

// DelEvent clears event without invoking its callback.
func (iom *IOManager) DelEvent(fd int, event uint32) error {
	fc := iom.existingFdContext(fd)
	if fc == nil {
		return ErrUnknownFd
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	iom.clearSlotLocked(fc, event)
	return nil
}

// CancelEvent clears event and schedules its callback to run exactly once.
func (iom *IOManager) CancelEvent(fd int, event uint32) error {
	fc := iom.existingFdContext(fd)
	if fc == nil {
		return ErrUnknownFd
	}
	fc.mu.Lock()
	ctx := iom.clearSlotLocked(fc, event)
	fc.mu.Unlock()
	iom.dispatch(ctx)
	return nil
}

// CancelAll clears every armed bit on fd, firing each one's callback.
func (iom *IOManager) CancelAll(fd int) error {
	fc := iom.existingFdContext(fd)
	if fc == nil {
		return ErrUnknownFd
	}
	fc.mu.Lock()
	readCtx := iom.clearSlotLocked(fc, EventRead)
	writeCtx := iom.clearSlotLocked(fc, EventWrite)
	fc.mu.Unlock()
	iom.dispatch(readCtx)
	iom.dispatch(writeCtx)
	return nil
}

func (iom *IOManager) dispatch(ctx *EventContext) {
	if ctx == nil {
		return
	}
	if ctx.fn != nil {
		ctx.scheduler.SubmitFunc(ctx.fn, ANY_THREAD)
		return
	}
	if ctx.co != nil {
		ctx.scheduler.Submit(&SchedulerTask{Coroutine: ctx.co, Thread: ANY_THREAD})
	}
}

// triggerEvent fires a ready (fd, event) bit observed by the idle loop.
func (iom *IOManager) triggerEvent(fc *FdContext, event uint32) {
	fc.mu.Lock()
	ctx := iom.clearSlotLocked(fc, event)
	fc.mu.Unlock()
	iom.dispatch(ctx)
}

// tickle wakes a blocked poller by writing to the self-pipe, but only if a
// worker is actually idle; otherwise every worker will observe the new work
// on its next pass through the queue anyway.
func (iom *IOManager) tickle() {
	if iom.Scheduler.Stats().IdleThreadCount > 0 {
		writeWake(iom.wakeW)
	}
}

// stopping is true only once there is no next timer, no event is still
// pending, and the base scheduler itself has nothing left to run.
func (iom *IOManager) stopping() bool {
	if iom.Timers.GetNextTimer() != NoNextTimer {
		return false
	}
	iom.pendingMu.Lock()
	pending := iom.pending
	iom.pendingMu.Unlock()
	if pending != 0 {
		return false
	}
	return (*baseHooks)(iom.Scheduler).stopping()
}

// idle is the scheduler's idle coroutine body: poll, drain expired timers,
// dispatch ready fds, yield, repeat until stopping.
func (iom *IOManager) idle(yield func()) {
	for {
		if iom.stopping() {
			return
		}

		timeoutMs := ioManagerIdlePollCapMs
		if next := iom.Timers.GetNextTimer(); next != NoNextTimer {
			if ms := int(next / time.Millisecond); ms < timeoutMs {
				timeoutMs = ms
			}
		}

		n, err := iom.poller.wait(iom.events, timeoutMs)
		if err != nil {
			ioManagerLog.Errorf("%s: poll: %v", iom.Scheduler.name, err)
			yield()
			continue
		}

		for _, cb := range iom.Timers.ListExpiredFunc() {
			iom.Scheduler.SubmitFunc(cb, ANY_THREAD)
		}

		if n == 0 {
			if la, err := loadavg.Get(); err == nil {
				ioManagerLog.Debugf("%s: idle timeout, load1=%.2f", iom.Scheduler.name, la.Loadavg1)
			}
		}

		for _, ev := range iom.events[:n] {
			if ev.fd == iom.wakeR {
				drainWake(iom.wakeR)
				continue
			}
			fc := iom.existingFdContext(ev.fd)
			if fc == nil {
				continue
			}
			fc.mu.Lock()
			real := ev.mask & fc.armed
			fc.mu.Unlock()
			if real == 0 {
				continue
			}
			if real&EventRead != 0 {
				iom.triggerEvent(fc, EventRead)
			}
			if real&EventWrite != 0 {
				iom.triggerEvent(fc, EventWrite)
			}
		}

		yield()
	}
}
