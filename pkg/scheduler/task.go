package scheduler

import (
	"sync/atomic"
	"time"
)

// Kind identifies what triggers a Task.
type Kind int

const (
	// KindNone marks a freshly allocated or freshly cancelled task slot
	// that has not yet been given a schedule.
	KindNone Kind = iota
	// KindOneShot fires once, offset after Start or Restart, then
	// auto-cancels unless Restart is called from within the callback.
	KindOneShot
	// KindPeriodic fires at offset after Start, then every interval.
	KindPeriodic
	// KindAt fires once at a specific wall-clock instant, then
	// auto-cancels like KindOneShot.
	KindAt
)

// State is a Task's lifecycle state.
type State int

const (
	StateInitial  State = iota // allocated, not yet started
	StateStarted               // armed, will fire
	StateCanceled              // timer stopped, slot may be reused
	StateLimbo                 // OneShot/At mid-callback, auto-cancel pending
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarted:
		return "started"
	case StateCanceled:
		return "canceled"
	case StateLimbo:
		return "limbo"
	default:
		return "unknown"
	}
}

// Worker is the callback a Task invokes when it fires. It runs on a
// dispatcher worker goroutine, never on the scheduler's loop goroutine.
// A OneShot or At task that wants to keep running must call
// Task.Restart from within Worker before returning.
type Worker func(t *Task)

// Task is a pooled, reusable scheduled-task slot. Tasks are never
// constructed directly; they are obtained from Scheduler.Task and are
// handed out as opaque handles per spec.md's "private handle" design note
// — callers use the accessor methods below, never raw field access.
type Task struct {
	name string
	kind Kind

	offset   time.Duration
	interval time.Duration
	at       time.Time

	data   any
	worker Worker

	isAvailable bool
	inProgress  int32 // atomic; 0 or 1
	state       State

	lastExecuted time.Time
	nextFire     time.Time
	heapIndex    int // -1 when not in the scheduler's heap

	sched *T
}

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// SetData attaches an opaque user value to the task.
func (t *Task) SetData(data any) { t.data = data }

// Data returns the task's attached user value.
func (t *Task) Data() any { return t.data }

// SetWorker sets the callback invoked when the task fires. Must be set
// before Start.
func (t *Task) SetWorker(w Worker) { t.worker = w }

// Offset returns the configured fire offset (OneShot/Periodic).
func (t *Task) Offset() time.Duration { return t.offset }

// Interval returns the configured repeat interval (Periodic only).
func (t *Task) Interval() time.Duration { return t.interval }

// IsCanceled reports whether the task's current state is Canceled.
func (t *Task) IsCanceled() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.state == StateCanceled
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.state
}

// LastRun returns the timestamp of the task's last dispatched execution.
func (t *Task) LastRun() time.Time {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.lastExecuted
}

// NextRun returns the task's next scheduled fire time. Zero if not armed.
func (t *Task) NextRun() time.Time {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.nextFire
}

// InProgress reports whether the task's callback is currently running on
// a dispatcher worker.
func (t *Task) InProgress() bool {
	return atomic.LoadInt32(&t.inProgress) == 1
}

// Once configures the task to fire once, offset after Start/Restart.
// Panics if the task's kind has already been set (mirrors Scheduler.c's
// assertion that a task's type is set exactly once per allocation).
func (t *Task) Once(offset time.Duration) {
	t.assertUnconfigured()
	t.kind = KindOneShot
	t.offset = offset
}

// Periodic configures the task to fire offset after Start, then every
// interval thereafter.
func (t *Task) Periodic(offset, interval time.Duration) {
	t.assertUnconfigured()
	t.kind = KindPeriodic
	t.offset = offset
	t.interval = interval
}

// At configures the task to fire once at the given wall-clock instant.
func (t *Task) At(instant time.Time) {
	t.assertUnconfigured()
	t.kind = KindAt
	t.at = instant
}

func (t *Task) assertUnconfigured() {
	if t.kind != KindNone {
		panic("scheduler: task kind already set; allocate a new task or cancel this one first")
	}
}

// reset zeroes a cancelled task's schedule so the pool can hand it out
// fresh, per spec.md's "cancelling returns the slot to the pool; the next
// allocation reuses the slot after zeroing."
func (t *Task) reset(name string) {
	t.name = name
	t.kind = KindNone
	t.offset = 0
	t.interval = 0
	t.at = time.Time{}
	t.data = nil
	t.worker = nil
	t.isAvailable = false
	atomic.StoreInt32(&t.inProgress, 0)
	t.state = StateInitial
	t.lastExecuted = time.Time{}
	t.nextFire = time.Time{}
	t.heapIndex = -1
}

// tryAcquire atomically transitions inProgress from 0 to 1, giving the
// at-most-one-instance-per-task guarantee. Returns false if the task's
// previous run is still executing.
func (t *Task) tryAcquire() bool {
	return atomic.CompareAndSwapInt32(&t.inProgress, 0, 1)
}

// release clears inProgress after a run completes.
func (t *Task) release() {
	atomic.StoreInt32(&t.inProgress, 0)
}

// available reports whether this slot may be handed out by Scheduler.Task,
// mirroring Scheduler.c's _available_task predicate: isavailable AND not
// mid-execution, since a cancelled-but-running task must stay reserved.
func (t *Task) available() bool {
	return t.isAvailable && atomic.LoadInt32(&t.inProgress) == 0
}
