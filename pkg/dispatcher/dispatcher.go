// Package dispatcher implements the elastic worker thread pool that runs
// scheduled task callbacks off the scheduler's timer thread.
//
// The scheduling model mirrors libmonit's Dispatcher: a bounded number of
// goroutines drain a FIFO queue of opaque work items. On submit, an idle
// worker is signalled directly if one is waiting; otherwise a new worker is
// spawned if the pool has not yet reached its maximum. A worker that waits
// idle past the configured timeout exits and decrements the live count.
// Shutdown sets a quit flag, wakes every idle worker, and waits for the
// live count to reach zero.
package dispatcher

import (
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/metrics"
)

// Engine is the callback invoked once per dequeued work item. Engine must
// not panic across the dispatcher boundary; Dispatcher recovers a
// panicking call so one bad task cannot kill a worker goroutine.
type Engine func(item any)

// T is a Dispatcher instance. The zero value is not usable; construct via New.
type T struct {
	mu      sync.Mutex
	work    []any
	waiters []chan struct{} // idle workers, FIFO order, each woken at most once
	counter int
	quit    bool
	drained sync.WaitGroup

	parallelism int
	timeout     time.Duration
	engine      Engine
}

// New creates a dispatcher bounded at parallelism live workers. idleTimeout
// is how long an idle worker waits for work before exiting. engine must be
// non-nil.
func New(parallelism int, idleTimeout time.Duration, engine Engine) *T {
	if engine == nil {
		panic("dispatcher: engine must not be nil")
	}
	if parallelism <= 0 {
		panic("dispatcher: parallelism must be positive")
	}
	return &T{parallelism: parallelism, timeout: idleTimeout, engine: engine}
}

// Add enqueues an opaque work item. It returns once the item is queued and
// either an idle worker has been signalled or a new one spawned; it never
// waits for the item to run.
func (d *T) Add(item any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.work = append(d.work, item)
	metrics.DispatcherQueueDepth.Set(float64(len(d.work)))

	if len(d.waiters) > 0 {
		ch := d.waiters[0]
		d.waiters = d.waiters[1:]
		close(ch)
		return
	}
	if d.counter < d.parallelism {
		d.counter++
		metrics.DispatcherActiveWorkers.Set(float64(d.counter))
		d.drained.Add(1)
		go d.run()
	}
}

// Close stops the pool, waking every idle worker, and blocks until every
// live worker has drained its current item and exited.
func (d *T) Close() {
	d.mu.Lock()
	d.quit = true
	for _, ch := range d.waiters {
		close(ch)
	}
	d.waiters = nil
	d.mu.Unlock()

	d.drained.Wait()
}

// run is the per-worker goroutine loop, grounded on Dispatcher.c's _server:
// pop one item if available, otherwise park as an idle waiter until woken
// by Add/Close or until the idle timeout elapses, in which case the worker
// exits and decrements the live count.
func (d *T) run() {
	defer d.drained.Done()
	for {
		d.mu.Lock()
		if len(d.work) > 0 {
			item := d.work[0]
			d.work = d.work[1:]
			metrics.DispatcherQueueDepth.Set(float64(len(d.work)))
			d.mu.Unlock()
			d.exec(item)
			continue
		}
		if d.quit {
			d.counter--
			metrics.DispatcherActiveWorkers.Set(float64(d.counter))
			d.mu.Unlock()
			return
		}

		ch := make(chan struct{})
		d.waiters = append(d.waiters, ch)
		d.mu.Unlock()

		select {
		case <-ch:
			// Woken by Add (new work queued) or Close (quit set); loop
			// back around to re-check state under the lock.
		case <-time.After(d.timeout):
			d.mu.Lock()
			d.removeWaiter(ch)
			if len(d.work) == 0 && !d.quit {
				d.counter--
				metrics.DispatcherActiveWorkers.Set(float64(d.counter))
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
		}
	}
}

// removeWaiter drops ch from the waiter list if it is still there (it may
// already have been popped and closed by Add/Close concurrently with the
// timeout firing).
func (d *T) removeWaiter(ch chan struct{}) {
	for i, w := range d.waiters {
		if w == ch {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			return
		}
	}
}

// exec runs the engine callback, recovering a panic so the worker
// goroutine survives a bad task (the catch-all boundary spec.md 4.2/4.3
// requires around the engine callback).
func (d *T) exec(item any) {
	defer func() {
		recover()
	}()
	metrics.DispatcherWorkItemsTotal.Inc()
	d.engine(item)
}

// QueueLen reports the current queue depth, for tests and diagnostics.
func (d *T) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.work)
}

// ActiveWorkers reports the current live worker count.
func (d *T) ActiveWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counter
}
