// Package scheduler implements the timer-driven task engine that fires
// recurring, one-shot, and wall-clock-anchored tasks and hands them to a
// Worker Dispatcher for execution, with at-most-one-instance-per-task
// semantics.
//
// The design is grounded directly on libmonit's Scheduler: a single loop
// owns a pool of reusable task slots and an ordered set of armed
// deadlines, releasing its lock while parked waiting for the next
// deadline or an explicit wake (the Go substitute for libev's
// ev_timer/ev_periodic plus ev_async loop_notify, for which Go has no
// direct analogue) and reacquiring it only to mutate the task pool or
// heap.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warden/pkg/dispatcher"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
)

// DefaultIdleTimeout is how long a dispatcher worker idles before exiting,
// matching libmonit's historical 60-second Dispatcher timeout.
const DefaultIdleTimeout = 60 * time.Second

// T is a Scheduler instance. Construct with New.
type T struct {
	mu   sync.Mutex
	heap taskHeap

	tasks   []*Task
	stopped bool

	notify chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	dispatcher *dispatcher.T
	logger     zerolog.Logger
}

// New builds a scheduler backed by a Dispatcher of workerCount workers
// and starts its loop goroutine.
func New(workerCount int) *T {
	s := &T{
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("scheduler"),
	}
	s.dispatcher = dispatcher.New(workerCount, DefaultIdleTimeout, s.engine)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

// Task returns a reusable ScheduledTask slot named name, reusing the
// first available (isAvailable && not in-progress) slot in the pool per
// Scheduler_task's _available_task scan, or allocating a fresh one.
func (s *T) Task(name string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		panic("scheduler: stopped")
	}
	for _, t := range s.tasks {
		if t.available() {
			t.reset(name)
			return t
		}
	}
	t := &Task{sched: s, heapIndex: -1}
	t.reset(name)
	s.tasks = append(s.tasks, t)
	metrics.SchedulerTasksActive.Set(float64(len(s.tasks)))
	return t
}

// Start arms t: its worker and kind must already be set, and it must be
// in the Initial state.
func (s *T) Start(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.isAvailable {
		panic("scheduler: task is not allocated")
	}
	if t.worker == nil {
		panic("scheduler: task has no worker")
	}
	if t.kind == KindNone {
		panic("scheduler: task has no schedule")
	}
	if t.state != StateInitial {
		panic("scheduler: task already started")
	}

	s.arm(t)
	t.state = StateStarted
	pushTask(&s.heap, t)
	s.wake()
}

// Cancel stops t's timer and marks the slot reusable once any in-flight
// run completes. Cancelling an already-cancelled task is a no-op: no
// state change, no double-free.
func (s *T) Cancel(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.state == StateCanceled {
		return
	}
	s.cancelLocked(t)
	s.wake()
}

// cancelLocked performs the cancel bookkeeping; caller holds s.mu.
func (s *T) cancelLocked(t *Task) {
	removeTask(&s.heap, t)
	t.isAvailable = true
	t.state = StateCanceled
}

// Restart re-arms t, valid from the Started or Limbo state — in
// particular, calling Restart from within the task's own Worker callback
// (state is Limbo at that point for OneShot/At tasks) cancels the pending
// auto-cancel.
func (s *T) Restart(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.state != StateStarted && t.state != StateLimbo {
		panic("scheduler: task not started or in limbo")
	}
	removeTask(&s.heap, t)
	s.arm(t)
	t.state = StateStarted
	pushTask(&s.heap, t)
	s.wake()
}

// arm computes t.nextFire from its configured kind; caller holds s.mu.
func (s *T) arm(t *Task) {
	switch t.kind {
	case KindOneShot, KindPeriodic:
		t.nextFire = time.Now().Add(t.offset)
	case KindAt:
		t.nextFire = t.at
	}
}

// wake nudges the loop goroutine to recompute its wait deadline,
// the substitute for ev_async_send/loop_notify.
func (s *T) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close breaks the loop, joins it, and drains the dispatcher.
func (s *T) Close() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.dispatcher.Close()
}

// loop is the scheduler's single timer-engine goroutine. It holds s.mu
// only while reading or mutating the heap, releasing it for the
// select — the Go equivalent of Scheduler.c's loop_release/loop_acquire
// pair around libev's event collection.
func (s *T) loop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		wait := time.Hour
		if len(s.heap) > 0 {
			if d := time.Until(s.heap[0].nextFire); d > 0 {
				wait = d
			} else {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			s.fireDue()
		case <-s.notify:
			// Heap changed (Start/Cancel/Restart); loop around to
			// recompute the wait deadline.
		case <-s.stopCh:
			return
		}
	}
}

// fireDue pops every task whose deadline has passed and attempts to
// dispatch each.
func (s *T) fireDue() {
	now := time.Now()
	var due []*Task

	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].nextFire.After(now) {
		due = append(due, popTask(&s.heap))
	}
	s.mu.Unlock()

	for _, t := range due {
		s.considerDispatch(t)
	}
}

// considerDispatch re-arms periodic tasks, then attempts the in-progress
// CAS that gives at-most-one-instance-per-task semantics (spec.md 4.3's
// dispatch algorithm). A failed CAS means the previous run is still
// executing; the firing is silently skipped.
func (s *T) considerDispatch(t *Task) {
	s.mu.Lock()
	if t.kind == KindPeriodic && t.state == StateStarted {
		next := t.nextFire.Add(t.interval)
		if !next.After(time.Now()) {
			// Fell far behind (e.g. a very short interval and a slow
			// callback); resynchronize instead of firing a backlog.
			next = time.Now().Add(t.interval)
		}
		t.nextFire = next
		pushTask(&s.heap, t)
	}
	s.mu.Unlock()

	if !t.tryAcquire() {
		metrics.SchedulerTasksSkipped.Inc()
		return
	}

	s.mu.Lock()
	t.lastExecuted = time.Now()
	if t.kind == KindOneShot || t.kind == KindAt {
		t.state = StateLimbo
	}
	s.mu.Unlock()

	s.dispatcher.Add(t)
}

// engine is the dispatcher callback: it runs the task's Worker inside a
// panic-recovering boundary (spec.md 4.2/4.3's catch-all around the task
// callback), clears the in-progress flag, and auto-cancels a OneShot/At
// task that did not call Restart from within its own Worker.
func (s *T) engine(item any) {
	t := item.(*Task)
	dispatchLatency := time.Since(t.lastExecuted)
	metrics.SchedulerDispatchLatency.Observe(dispatchLatency.Seconds())

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("task", t.name).
					Interface("panic", r).
					Msg("scheduled task panicked")
			}
		}()
		t.worker(t)
	}()

	t.release()

	s.mu.Lock()
	if t.state == StateLimbo {
		s.cancelLocked(t)
	}
	s.mu.Unlock()
}
