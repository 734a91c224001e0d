package control

import "sync"

// Flags is the single mutex-guarded set of run-state signals every
// collaborator (signal handler, HTTP handler, main loop) reads and
// writes. Grounded on original_source/src/monitor.c's Run_T bitfield
// (Run_Stopped, Run_DoReload, Run_DoWakeup, Run_ActionPending) and
// spec.md §4.8/§5's "one mutex, short critical sections" rule: every
// accessor below takes the lock only long enough to read or set a
// single field, never while doing the work a flag requests.
type Flags struct {
	mu            sync.Mutex
	stopped       bool
	doReload      bool
	doWakeup      bool
	actionPending bool
}

// Stop requests a graceful shutdown.
func (f *Flags) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

// Stopped reports whether a shutdown has been requested.
func (f *Flags) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Reload requests the main loop rebuild its Rule Graph and logging from
// the control file on the next cycle boundary.
func (f *Flags) Reload() {
	f.mu.Lock()
	f.doReload = true
	f.mu.Unlock()
}

// TakeReload reports and clears a pending reload request.
func (f *Flags) TakeReload() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.doReload
	f.doReload = false
	return v
}

// Wakeup requests the cycle sleep be interrupted so validation runs
// immediately.
func (f *Flags) Wakeup() {
	f.mu.Lock()
	f.doWakeup = true
	f.mu.Unlock()
}

// TakeWakeup reports and clears a pending wakeup request.
func (f *Flags) TakeWakeup() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.doWakeup
	f.doWakeup = false
	return v
}

// SetActionPending flags that at least one Service has a queued
// pending_action waiting to be drained, so the main loop can skip the
// drain step on cycles where nothing is queued.
func (f *Flags) SetActionPending(v bool) {
	f.mu.Lock()
	f.actionPending = v
	f.mu.Unlock()
}

// ActionPending reports whether any Service has a queued action.
func (f *Flags) ActionPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actionPending
}
