package coro

import (
	"container/heap"
	"time"
)

// NoDeadline may be passed as the deadline of any blocking operation, to
// block indefinitely.
const NoDeadline int64 = -1

// clockAnchor is the reference point for Now. time.Since uses the monotonic
// clock reading, so Now is immune to wall-clock adjustments.
var clockAnchor = time.Now()

// Now returns the current time in milliseconds, on a monotonic clock shared
// by every runtime in the process. It is the time base for all deadlines.
func Now() int64 {
	return int64(time.Since(clockAnchor) / time.Millisecond)
}

// DeadlineAfter returns the deadline d from now. Negative durations are
// clamped to zero, i.e. an already elapsed deadline.
func DeadlineAfter(d time.Duration) int64 {
	if d < 0 {
		d = 0
	}
	return Now() + int64(d/time.Millisecond)
}

// expired reports whether deadline is set and has already elapsed.
func expired(deadline int64) bool {
	return deadline >= 0 && deadline <= Now()
}

// timer resumes co, with resultTimeout, once when has elapsed.
type timer struct {
	co    *coroutine
	when  int64
	seq   uint64
	index int
}

// timerHeap is a min-heap of timers, ordered by expiry then insertion.
type timerHeap []*timer

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// addTimer arms a timer that will expire co at deadline.
func (r *Runtime) addTimer(co *coroutine, deadline int64) {
	r.timerSeq++
	t := &timer{co: co, when: deadline, seq: r.timerSeq}
	heap.Push(&r.timers, t)
	co.timer = t
}

// cancelTimer disarms the timer of co, if any.
func (r *Runtime) cancelTimer(co *coroutine) {
	if t := co.timer; t != nil {
		co.timer = nil
		if t.index >= 0 {
			heap.Remove(&r.timers, t.index)
		}
	}
}

// fireTimers expires every timer whose deadline has elapsed, returning the
// number fired.
func (r *Runtime) fireTimers() int {
	if len(r.timers) == 0 {
		return 0
	}
	now := Now()
	var n int
	for len(r.timers) > 0 && r.timers[0].when <= now {
		t := heap.Pop(&r.timers).(*timer)
		t.co.timer = nil
		r.expire(t.co)
		n++
	}
	return n
}

// pollTimeout determines how long to block in poll, in milliseconds: -1 if
// no timer is pending.
func (r *Runtime) pollTimeout() int {
	if len(r.timers) == 0 {
		return -1
	}
	delay := r.timers[0].when - Now()
	if delay < 0 {
		return 0
	}
	const maxDelay = int64(^uint32(0) >> 1)
	if delay > maxDelay {
		delay = maxDelay
	}
	return int(delay)
}

// Sleep suspends the calling coroutine for at least d.
func (r *Runtime) Sleep(d time.Duration) {
	r.SleepUntil(DeadlineAfter(d))
}

// SleepUntil suspends the calling coroutine until Now() >= deadline. The
// coroutine may resume later than deadline, but never earlier. NoDeadline
// suspends it forever.
func (r *Runtime) SleepUntil(deadline int64) {
	co := r.current()
	r.block(co, BlockSleep, deadline)
}
