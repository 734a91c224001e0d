package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneShotAutoCancels(t *testing.T) {
	s := New(2)
	defer s.Close()

	var ran int32
	task := s.Task("oneshot")
	task.SetWorker(func(tk *Task) { atomic.AddInt32(&ran, 1) })
	task.Once(10 * time.Millisecond)
	s.Start(task)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return task.IsCanceled() }, time.Second, 5*time.Millisecond)

	// Give it a chance to (incorrectly) fire again; it must not.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestOneShotRestartFromWithinWorkerSurvives(t *testing.T) {
	s := New(2)
	defer s.Close()

	var ran int32
	task := s.Task("self-restarting")
	task.SetWorker(func(tk *Task) {
		n := atomic.AddInt32(&ran, 1)
		if n < 3 {
			s.Restart(tk)
		}
	})
	task.Once(5 * time.Millisecond)
	s.Start(task)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return task.IsCanceled() }, time.Second, 5*time.Millisecond)
}

func TestTaskPoolReusesSlot(t *testing.T) {
	s := New(1)
	defer s.Close()

	first := s.Task("reused")
	first.SetWorker(func(tk *Task) {})
	first.Once(5 * time.Millisecond)
	s.Start(first)

	require.Eventually(t, func() bool { return first.IsCanceled() }, time.Second, 5*time.Millisecond)

	second := s.Task("reused")
	assert.Same(t, first, second, "expected the cancelled slot to be reused")
}

func TestOverloadedPeriodicSkipsConcurrentRuns(t *testing.T) {
	s := New(3)
	defer s.Close()

	var running int32
	var starts int32
	release := make(chan struct{})

	task := s.Task("overload")
	task.SetWorker(func(tk *Task) {
		atomic.AddInt32(&starts, 1)
		atomic.AddInt32(&running, 1)
		<-release
		atomic.AddInt32(&running, -1)
	})
	task.Periodic(0, 20*time.Millisecond)
	s.Start(task)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&starts) >= 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, task.InProgress())

	// While the single run is blocked, many more ticks should elapse but
	// none should be admitted concurrently.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&starts))
	assert.Equal(t, int32(1), atomic.LoadInt32(&running))

	close(release)
	require.Eventually(t, func() bool { return !task.InProgress() }, time.Second, 5*time.Millisecond)
}

func TestCancelAlreadyCanceledIsNoop(t *testing.T) {
	s := New(1)
	defer s.Close()

	task := s.Task("cancel-twice")
	task.SetWorker(func(tk *Task) {})
	task.Once(time.Hour)
	s.Start(task)
	s.Cancel(task)
	require.True(t, task.IsCanceled())

	assert.NotPanics(t, func() { s.Cancel(task) })
	assert.True(t, task.IsCanceled(), "state must not change on a second cancel")
}

func TestInProgressInvariant(t *testing.T) {
	s := New(2)
	defer s.Close()

	release := make(chan struct{})
	task := s.Task("invariant")
	task.SetWorker(func(tk *Task) {
		assert.True(t, tk.InProgress())
		<-release
	})
	task.Once(5 * time.Millisecond)
	s.Start(task)

	require.Eventually(t, func() bool { return task.InProgress() }, time.Second, 5*time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return !task.InProgress() }, time.Second, 5*time.Millisecond)
}
