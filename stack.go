package coro

import (
	"runtime/debug"
)

const (
	// defaultStackCount is the pool capacity used if Prepare is never called.
	// Stacks are created lazily up to this count.
	defaultStackCount = 64
	// defaultStackSize is the pre-grown size of each pooled stack, zero
	// meaning goroutines start at the Go runtime's minimum.
	defaultStackSize = 0
)

// stack is the execution context of a coroutine: a dedicated goroutine,
// parked on wake whenever the coroutine it hosts is not running.
//
// Pooled stacks outlive their coroutines, and are reused LIFO. Unpooled
// stacks exit when their coroutine returns.
type stack struct {
	wake   chan struct{}
	co     *coroutine
	pooled bool
	exited bool
}

// stackPool is the set of idle pooled stacks, plus accounting.
type stackPool struct {
	idle          []*stack
	capacity      int
	size          int
	created       int
	unpooled      int
	unpooledTotal uint64
	prepared      bool
}

// Prepare sizes the stack pool, preallocating count stacks, each grown to at
// least stackSize bytes. It must be called before the first coroutine is
// spawned, or it fails with ErrAlreadyStarted. Coroutines spawned while
// every pooled stack is in use receive an individually allocated stack,
// which is released rather than pooled on completion.
//
// If maxStackSize is positive it is applied via [debug.SetMaxStack]. Note
// that this limit is process-wide, and affects every goroutine.
func (r *Runtime) Prepare(count, stackSize, maxStackSize int) error {
	if r.state >= runtimeTerminated {
		return ErrRuntimeClosed
	}
	if r.spawned != 0 {
		return ErrAlreadyStarted
	}
	if count < 0 || stackSize < 0 || maxStackSize < 0 || (maxStackSize > 0 && maxStackSize < stackSize) {
		return ErrInvalidArgument
	}

	if maxStackSize > 0 {
		debug.SetMaxStack(maxStackSize)
	}

	// release anything from an earlier call
	for _, s := range r.pool.idle {
		close(s.wake)
	}
	r.pool = stackPool{
		idle:     make([]*stack, 0, count),
		capacity: count,
		size:     stackSize,
		created:  count,
		prepared: true,
	}
	for i := 0; i < count; i++ {
		r.pool.idle = append(r.pool.idle, r.newStack(true))
	}

	return nil
}

// getStack pops the most recently released pooled stack, lazily creates a
// pooled stack if below capacity, or falls back to an unpooled stack.
func (r *Runtime) getStack() *stack {
	if n := len(r.pool.idle); n > 0 {
		s := r.pool.idle[n-1]
		r.pool.idle[n-1] = nil
		r.pool.idle = r.pool.idle[:n-1]
		return s
	}

	if r.pool.created < r.pool.capacity {
		r.pool.created++
		return r.newStack(true)
	}

	r.pool.unpooled++
	r.pool.unpooledTotal++
	r.logWarning(logCategoryPool).
		Int("capacity", r.pool.capacity).
		Int("unpooled", r.pool.unpooled).
		Limit().
		Log("stack pool exhausted, allocating unpooled stack")
	return r.newStack(false)
}

// putStack returns a stack whose coroutine has finished.
func (r *Runtime) putStack(s *stack) {
	switch {
	case !s.pooled:
		r.pool.unpooled--
	case s.exited:
		// the slot may be refilled lazily
		r.pool.created--
	default:
		r.pool.idle = append(r.pool.idle, s)
	}
}

func (r *Runtime) newStack(pooled bool) *stack {
	s := &stack{
		wake:   make(chan struct{}),
		pooled: pooled,
	}
	go r.stackMain(s, r.pool.size)
	return s
}

// stackMain is the body of every stack goroutine. Each receive on wake
// either starts a newly assigned coroutine, or (if wake was closed) ends
// the goroutine.
func (r *Runtime) stackMain(s *stack, size int) {
	if size > 0 {
		_ = growStack(size)
	}
	for range s.wake {
		r.execute(s)
		if !s.pooled || s.exited {
			return
		}
	}
}

// execute runs the coroutine assigned to s, then hands control back to the
// scheduler. Panics are captured and re-raised by Run.
func (r *Runtime) execute(s *stack) {
	co := s.co
	var normal bool
	defer func() {
		if !normal {
			v := recover()
			if v == nil {
				// runtime.Goexit: this goroutine is going away regardless
				v = errGoexit
				s.exited = true
			}
			r.panicked = &PanicError{
				Value:     v,
				Stack:     debug.Stack(),
				Coroutine: co.id,
			}
		}
		r.finish(s, co)
		r.sched <- struct{}{}
	}()
	co.fn()
	normal = true
}

// finish marks co done and releases its stack.
func (r *Runtime) finish(s *stack, co *coroutine) {
	co.state = StateDone
	co.stk = nil
	co.fn = nil
	s.co = nil
	r.completed++
	r.live--
	r.putStack(s)
}

// growStack forces the calling goroutine's stack to at least n bytes, so
// pooled coroutines do not pay for incremental stack growth.
//
//go:noinline
func growStack(n int) byte {
	var frame [1024]byte
	frame[n%len(frame)] = byte(n)
	if n > len(frame) {
		return growStack(n-len(frame)) ^ frame[0]
	}
	return frame[n%len(frame)]
}
