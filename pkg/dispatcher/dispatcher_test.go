package dispatcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaxConcurrencyFIFO(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32
	var ran int32

	release := make(chan struct{})
	var startedOnce sync.Once
	started := make(chan struct{})

	d := New(3, time.Second, func(item any) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		startedOnce.Do(func() { close(started) })
		<-release
		atomic.AddInt32(&concurrent, -1)
		atomic.AddInt32(&ran, 1)
	})

	for i := 0; i < 5; i++ {
		d.Add(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), 3)

	close(release)
	d.Close()

	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
	assert.Equal(t, 0, d.ActiveWorkers())
}

func TestIdleWorkerExits(t *testing.T) {
	d := New(2, 20*time.Millisecond, func(item any) {})

	d.Add(1)
	// Give the worker time to run the item and then idle out.
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, d.ActiveWorkers())
	d.Close()
}

func TestCloseDrainsInFlightWork(t *testing.T) {
	var ran int32
	d := New(1, time.Second, func(item any) {
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&ran, 1)
	})

	d.Add(1)
	d.Add(2)
	d.Close()

	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))
}
