// Cooperative, thread-affine task scheduler.

package loom_internal

//  Scheduler Architecture
//  ======================
//
// Tasks (a coroutine or a bare function, optionally pinned to a specific
// worker) sit in a single FIFO queue. Each worker thread scans the queue
// from the front for the first task with no affinity or an affinity
// matching its own id; if it finds one it runs it to its next yield (or to
// completion) and loops. If the queue holds only tasks destined for other
// workers, the scanning worker tickles its siblings before falling back to
// idling, so whichever worker actually owns the mismatched task wakes up to
// claim it.
//
// There is no fairness, priority or work-stealing beyond this scan: a task
// at the head of the queue for a busy worker can be starved by tasks behind
// it that match everyone, since the scan always restarts from the front.
// That mirrors Hourglass::Scheduler::run() exactly and is deliberate (see
// Non-goals).

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ANY_THREAD is the SchedulerTask.Thread value meaning "any worker may run
// this task".
const ANY_THREAD = -1

const SCHEDULER_MAX_NUM_WORKERS_DEFAULT = -1

var schedulerLog = NewCompLogger("scheduler")

type SchedulerTask struct {
	// Exactly one of Coroutine/Func should be set. A Coroutine task is
	// resumed in place (preserving its suspended state across calls); a
	// Func task is wrapped in a fresh, single-use coroutine each time it
	// reaches the front of the queue.
	Coroutine *Coroutine
	Func      func()
	// Worker id this task must run on, or ANY_THREAD.
	Thread int
}

type SchedulerConfig struct {
	// Number of worker threads. <= 0 matches the available CPU count.
	NumWorkers int `yaml:"num_workers"`
	// Human-readable stack-size hint ("128000", "256KB") recorded against
	// every task/idle coroutine this scheduler spawns; parsed with
	// ParseByteSize. Empty keeps DEFAULT_COROUTINE_STACK_SIZE.
	StackSizeHint string `yaml:"stack_size_hint"`
	// UseCaller donates the constructing goroutine as one of the workers
	// instead of spawning a dedicated background thread for it, mirroring
	// Hourglass::Scheduler's use_caller constructor argument. When set, the
	// application must call Scheduler.RunCaller() once after Start(); see
	// its doc comment.
	UseCaller bool `yaml:"use_caller"`
}

func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{NumWorkers: SCHEDULER_MAX_NUM_WORKERS_DEFAULT}
}

type SchedulerStats struct {
	ScheduledCount    uint64
	ExecutedCount     uint64
	ActiveThreadCount int
	IdleThreadCount   int
}

// schedulerHooks is the tickle/idle/stopping seam Hourglass::Scheduler
// exposes as virtual methods for IOManager to override. The base Scheduler
// implements it against itself; IOManager swaps in its own implementation
// after composing a Scheduler, the Go equivalent of C++ virtual dispatch.
type schedulerHooks interface {
	tickle()
	idle(yield func())
	stopping() bool
}

type Scheduler struct {
	name       string
	numWorkers int
	stackSize  int

	mu    sync.Mutex
	tasks []*SchedulerTask

	threads []*Thread

	stoppingFlag bool
	started      bool

	statsMu sync.Mutex
	stats   SchedulerStats
	cpu     cpuTimeSample

	hooks schedulerHooks

	useCaller  bool
	callerRan  int32
	callerDone chan struct{}
}

func NewScheduler(cfg *SchedulerConfig, name string) *Scheduler {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = AvailableCPUCount
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	stackSize := DEFAULT_COROUTINE_STACK_SIZE
	if cfg.StackSizeHint != "" {
		if n, err := ParseByteSize(cfg.StackSizeHint); err != nil {
			schedulerLog.Warnf("%s: invalid stack_size_hint %q: %v, using default", name, cfg.StackSizeHint, err)
		} else {
			stackSize = n
		}
	}
	s := &Scheduler{
		name:       name,
		numWorkers: numWorkers,
		stackSize:  stackSize,
		tasks:      make([]*SchedulerTask, 0),
		useCaller:  cfg.UseCaller,
		callerDone: make(chan struct{}),
	}
	s.hooks = (*baseHooks)(s)
	return s
}

// GetThis returns the Scheduler currently driving the coroutine (or worker
// host) running on the calling goroutine, or nil outside any Scheduler
// context. It is the Go analogue of Hourglass::Scheduler::GetThis()'s
// thread-local pointer, resolved here via the running Coroutine rather than
// a raw OS thread-local since a worker's tasks each run on their own
// goroutine distinct from the worker's own.
func GetThis() *Scheduler {
	co := Current()
	if co == nil {
		return nil
	}
	return co.scheduler
}

// baseHooks is the default tickle/idle/stopping implementation, a distinct
// named type over *Scheduler so it can implement schedulerHooks without
// polluting Scheduler's own method set (IOManager needs different idle/
// tickle/stopping methods on itself without colliding with these).
type baseHooks Scheduler

func (h *baseHooks) s() *Scheduler { return (*Scheduler)(h) }

func (h *baseHooks) tickle() {}

// idle just yields repeatedly until the scheduler is stopping. Unlike
// Hourglass::Scheduler::idle() it does not sleep between yields, so a worker
// with nothing to run does not block: it keeps alternating between scanning
// the queue and resuming this loop.
func (h *baseHooks) idle(yield func()) {
	for !h.s().hooks.stopping() {
		yield()
	}
}

// stopping is true only once the flag is set, the task queue is empty, and
// no worker is still mid-task; the last condition matters because a task
// that yields back into the idle loop's polling has already left the queue
// but is not finished.
func (h *baseHooks) stopping() bool {
	s := h.s()
	s.mu.Lock()
	empty := s.stoppingFlag && len(s.tasks) == 0
	s.mu.Unlock()
	if !empty {
		return false
	}
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats.ActiveThreadCount == 0
}

// Submit enqueues a task. Safe to call before or after Start.
func (s *Scheduler) Submit(task *SchedulerTask) error {
	s.mu.Lock()
	if s.stoppingFlag {
		s.mu.Unlock()
		return fmt.Errorf("scheduler %s: stopped", s.name)
	}
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	s.statsMu.Lock()
	s.stats.ScheduledCount++
	s.statsMu.Unlock()
	s.hooks.tickle()
	return nil
}

// SubmitFunc is a convenience wrapper for a one-shot function task.
func (s *Scheduler) SubmitFunc(fn func(), thread int) error {
	return s.Submit(&SchedulerTask{Func: fn, Thread: thread})
}

// popTask scans the queue from the front for a task this worker may run.
// It returns the task (nil if none matched) and whether the caller should
// tickle its siblings: true if a task was skipped for another worker's
// affinity (that worker may be idling), or if tasks remain queued behind the
// one popped.
func (s *Scheduler) popTask(workerId int) (*SchedulerTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tickleMe := false
	for i, t := range s.tasks {
		if t.Thread != ANY_THREAD && t.Thread != workerId {
			tickleMe = true
			continue
		}
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		return t, tickleMe || i < len(s.tasks)
	}
	return nil, tickleMe
}

func (s *Scheduler) runTask(task *SchedulerTask) {
	s.statsMu.Lock()
	s.stats.ActiveThreadCount++
	s.statsMu.Unlock()
	defer func() {
		s.statsMu.Lock()
		s.stats.ActiveThreadCount--
		s.stats.ExecutedCount++
		s.statsMu.Unlock()
	}()

	if task.Coroutine != nil {
		task.Coroutine.scheduler = s
		if task.Coroutine.State() != CoroutineTerm {
			task.Coroutine.Resume()
		}
		return
	}
	if task.Func != nil {
		co := SpawnWithStackSize(s.name+"_task", s.stackSize, func(yield func()) { task.Func() })
		co.scheduler = s
		co.Resume()
	}
}

func (s *Scheduler) workerLoop(workerId int) {
	host := registerHost(fmt.Sprintf("%s_worker%d", s.name, workerId))
	host.scheduler = s
	defer unregisterHost(host)

	idleCo := SpawnWithStackSize(fmt.Sprintf("%s_idle%d", s.name, workerId), s.stackSize, func(yield func()) {
		s.hooks.idle(yield)
	})
	idleCo.scheduler = s

	for {
		task, tickleMe := s.popTask(workerId)
		if tickleMe {
			s.hooks.tickle()
		}
		if task != nil {
			s.runTask(task)
			continue
		}
		if idleCo.State() == CoroutineTerm {
			return
		}
		s.statsMu.Lock()
		s.stats.IdleThreadCount++
		s.statsMu.Unlock()
		idleCo.Resume()
		s.statsMu.Lock()
		s.stats.IdleThreadCount--
		s.statsMu.Unlock()
	}
}

// Start launches the worker pool. It is a no-op if already started. When
// UseCaller was set, the last worker id is reserved for the constructing
// goroutine and no background Thread is spawned for it; the caller must then
// invoke RunCaller() itself, mirroring Hourglass::Scheduler's use_caller
// option without replicating its Stop()-triggered coroutine handoff.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	backgroundWorkers := s.numWorkers
	if s.useCaller {
		backgroundWorkers--
	}

	schedulerLog.Infof("%s: starting %d workers (use_caller=%v)", s.name, s.numWorkers, s.useCaller)
	s.threads = make([]*Thread, backgroundWorkers)
	for i := 0; i < backgroundWorkers; i++ {
		workerId := i
		s.threads[i] = New(fmt.Sprintf("%s_%d", s.name, i), func() { s.workerLoop(workerId) })
	}
}

// RunCaller runs the reserved caller worker's loop synchronously on the
// calling goroutine. It must be called exactly once, after Start(), only
// when SchedulerConfig.UseCaller was set; it returns once Stop() has drained
// that worker. Calling it without UseCaller set, or more than once, panics.
func (s *Scheduler) RunCaller() {
	if !s.useCaller {
		panic(fmt.Sprintf("scheduler %s: RunCaller() called without UseCaller set", s.name))
	}
	if !atomic.CompareAndSwapInt32(&s.callerRan, 0, 1) {
		panic(fmt.Sprintf("scheduler %s: RunCaller() called more than once", s.name))
	}
	defer close(s.callerDone)
	s.workerLoop(s.numWorkers - 1)
}

// Stop requests shutdown and blocks until every worker, including the caller
// worker if RunCaller() was ever invoked, has drained its idle loop and
// exited. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stoppingFlag {
		s.mu.Unlock()
		return
	}
	s.stoppingFlag = true
	s.mu.Unlock()

	tickleCount := len(s.threads)
	if s.useCaller {
		tickleCount++
	}
	for i := 0; i < tickleCount; i++ {
		s.hooks.tickle()
	}
	for _, t := range s.threads {
		t.Join()
	}
	if s.useCaller && atomic.LoadInt32(&s.callerRan) == 1 {
		<-s.callerDone
	}
	schedulerLog.Infof("%s: stopped", s.name)
}

func (s *Scheduler) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppingFlag
}

func (s *Scheduler) WorkerCount() int { return s.numWorkers }

func (s *Scheduler) Stats() SchedulerStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// CPUPercent snapshots this process's cumulative CPU time and returns its
// average utilization, as a percentage of one core, since the previous call.
// The reading is process-wide (rusage has no per-Scheduler granularity), so
// on a process running more than one Scheduler/IOManager it reflects all of
// them combined; it returns 0 on the first call, before there is a prior
// sample to diff against.
func (s *Scheduler) CPUPercent() float64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if err := s.cpu.snap(); err != nil {
		schedulerLog.Warnf("%s: CPUPercent: %v", s.name, err)
		return 0
	}
	return s.cpu.percent()
}
