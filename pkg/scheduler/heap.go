package scheduler

import "container/heap"

// taskHeap is a min-heap of armed tasks ordered by nextFire, the Go
// substitute for libev's internal timer heap (Scheduler.c relies on
// libev's ev_timer/ev_periodic watchers; Go has no direct analogue, so
// the loop goroutine in scheduler.go maintains this heap itself and
// sleeps on a single time.Timer reset to the earliest entry).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].nextFire.Before(h[j].nextFire) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// pushTask arms a task in the heap.
func pushTask(h *taskHeap, t *Task) { heap.Push(h, t) }

// popTask removes and returns the earliest-firing task.
func popTask(h *taskHeap) *Task { return heap.Pop(h).(*Task) }

// removeTask removes t from the heap if it is currently armed.
func removeTask(h *taskHeap, t *Task) {
	if t.heapIndex >= 0 && t.heapIndex < len(*h) {
		heap.Remove(h, t.heapIndex)
	}
}

// fixTask re-establishes heap order after t.nextFire changes in place.
func fixTask(h *taskHeap, t *Task) {
	if t.heapIndex >= 0 && t.heapIndex < len(*h) {
		heap.Fix(h, t.heapIndex)
	}
}
