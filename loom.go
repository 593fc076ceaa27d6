// The public face of this package for its users.

package loom

import (
	"time"

	"github.com/sirupsen/logrus"

	loom_internal "github.com/bgp59/loom/internal"
)

// Coroutine is a single-shot, resumable unit of execution; see Spawn.
type Coroutine = loom_internal.Coroutine
type CoroutineState = loom_internal.CoroutineState

const (
	CoroutineReady     = loom_internal.CoroutineReady
	CoroutineRunning   = loom_internal.CoroutineRunning
	CoroutineSuspended = loom_internal.CoroutineSuspended
	CoroutineTerm      = loom_internal.CoroutineTerm
)

// Spawn creates a new, not-yet-started coroutine. entry receives a yield
// function it must call to suspend itself and hand control back to whoever
// resumed it.
func Spawn(name string, entry func(yield func())) *Coroutine {
	return loom_internal.Spawn(name, entry)
}

// Current returns the coroutine running on the calling goroutine, or nil.
func Current() *Coroutine { return loom_internal.Current() }

// ANY_THREAD is the SchedulerTask affinity meaning "any worker may run
// this task".
const ANY_THREAD = loom_internal.ANY_THREAD

type SchedulerTask = loom_internal.SchedulerTask
type SchedulerStats = loom_internal.SchedulerStats

// EventRead and EventWrite are the two bits IOManager.AddEvent accepts.
const (
	EventRead  = loom_internal.EventRead
	EventWrite = loom_internal.EventWrite
)

type Timer = loom_internal.Timer
type RuntimeConfig = loom_internal.RuntimeConfig

// DefaultRuntimeConfig returns a fresh, independent copy of the built-in
// configuration defaults.
func DefaultRuntimeConfig() *RuntimeConfig { return loom_internal.DefaultRuntimeConfig() }

// Runtime is the top-level object an application constructs: it owns the
// logger, the configuration, and an IOManager (scheduler + timer manager +
// readiness poller) ready to accept work.
type Runtime struct {
	inner *loom_internal.Runtime
}

// NewRuntime loads cfgFile (empty for built-in defaults), configures
// logging accordingly, and starts the scheduler.
func NewRuntime(cfgFile string) (*Runtime, error) {
	inner, err := loom_internal.NewRuntime(cfgFile)
	if err != nil {
		return nil, err
	}
	return &Runtime{inner: inner}, nil
}

// Shutdown stops the scheduler and releases the poller and wake pipe. Safe
// to call once; the underlying scheduler Stop() is itself idempotent.
func (rt *Runtime) Shutdown() error { return rt.inner.Shutdown() }

// Submit enqueues a coroutine or bare-function task, optionally pinned to a
// specific worker id (ANY_THREAD for no affinity).
func (rt *Runtime) Submit(task *SchedulerTask) error { return rt.inner.IOManager.Submit(task) }

// SubmitFunc is a convenience wrapper for a one-shot function task.
func (rt *Runtime) SubmitFunc(fn func(), thread int) error {
	return rt.inner.IOManager.SubmitFunc(fn, thread)
}

// Stats returns a snapshot of the scheduler's execution counters.
func (rt *Runtime) Stats() SchedulerStats { return rt.inner.IOManager.Stats() }

// AddTimer schedules cb to run after delay (and every delay thereafter, if
// recurring).
func (rt *Runtime) AddTimer(delay time.Duration, recurring bool, cb func()) *Timer {
	return rt.inner.IOManager.Timers.AddTimer(delay, recurring, cb)
}

// AddConditionTimer is like AddTimer but cb only fires if cond() is still
// true at expiry time.
func (rt *Runtime) AddConditionTimer(delay time.Duration, recurring bool, cond func() bool, cb func()) *Timer {
	return rt.inner.IOManager.Timers.AddConditionTimer(delay, recurring, cond, cb)
}

// AddEvent arms Read or Write readiness on fd; see loom_internal.IOManager.AddEvent
// for the nil-fn (capture calling coroutine) convention.
func (rt *Runtime) AddEvent(fd int, event uint32, fn func()) error {
	return rt.inner.IOManager.AddEvent(fd, event, fn)
}

// DelEvent clears a previously armed event without invoking its callback.
func (rt *Runtime) DelEvent(fd int, event uint32) error {
	return rt.inner.IOManager.DelEvent(fd, event)
}

// CancelEvent clears a previously armed event, invoking its callback exactly
// once.
func (rt *Runtime) CancelEvent(fd int, event uint32) error {
	return rt.inner.IOManager.CancelEvent(fd, event)
}

// CancelAll clears and fires every event armed on fd.
func (rt *Runtime) CancelAll(fd int) error { return rt.inner.IOManager.CancelAll(fd) }

// GetRootLogger exposes the root logger for tests (see
// loom/testutils/log_collector.go); its concrete type is intentionally
// obscured.
func GetRootLogger() any { return loom_internal.RootLogger }

// NewCompLogger creates a component logger with a comp=compName field.
func NewCompLogger(comp string) *logrus.Entry { return loom_internal.NewCompLogger(comp) }

// AddCallerSrcPathPrefixToLogger registers the caller's module root (upNDirs
// up from the caller's file) as a prefix to strip from logged file paths.
// Typically called once from main.init().
func AddCallerSrcPathPrefixToLogger(upNDirs int) {
	loom_internal.AddCallerSrcPathPrefixToLogger(upNDirs, 1)
}
