// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coro

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// switchesPerPoll bounds how many context switches may happen before the
// scheduler performs a non-blocking poll, so coroutines that keep yielding
// cannot starve timers and I/O.
const switchesPerPoll = 103

// resultTimeout is the wake result of a coroutine whose timer expired.
const resultTimeout = -1

// coroutine is an independently schedulable unit of sequential execution.
type coroutine struct {
	fn    func()
	stk   *stack
	timer *timer
	// clauses the coroutine is registered on, while blocked on channels
	clauses []waiter
	// the clause that woke the coroutine
	fired    waiter
	id       uint64
	ioFD     int
	ioEvents IOEvents
	result   int
	state    CoroutineState
	reason   BlockReason
}

// runQueue is a FIFO ring of runnable coroutines.
type runQueue struct {
	buf  []*coroutine
	head int
	n    int
}

func (q *runQueue) push(co *coroutine) {
	if q.n == len(q.buf) {
		size := len(q.buf) * 2
		if size == 0 {
			size = 16
		}
		buf := make([]*coroutine, size)
		for i := 0; i < q.n; i++ {
			buf[i] = q.buf[(q.head+i)%len(q.buf)]
		}
		q.buf = buf
		q.head = 0
	}
	q.buf[(q.head+q.n)%len(q.buf)] = co
	q.n++
}

func (q *runQueue) pop() *coroutine {
	if q.n == 0 {
		return nil
	}
	co := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return co
}

var runtimeIDCounter atomic.Uint64

// Runtime is one instance of the coroutine scheduler, together with its
// stack pool, timer heap, and I/O poller. Instances are fully independent.
//
// A Runtime is not safe for concurrent use by multiple goroutines. Every
// method must be called either from a coroutine of the runtime, or (for
// New, Prepare, Go, Run, Close, Stats) from the goroutine that owns it while
// Run is not in progress.
type Runtime struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	logger *logiface.Logger[logiface.Event]
	rand   *rand.Rand

	// the coroutine currently executing, nil while the scheduler itself is
	running *coroutine
	// error captured from a panicking coroutine
	panicked *PanicError

	// coroutines hand control back to the scheduler via this channel
	sched chan struct{}

	fdWaits map[int]*fdWaiters

	runq   runQueue
	timers timerHeap
	pool   stackPool
	poller *poller

	id        uint64
	nextID    uint64
	timerSeq  uint64
	spawned   uint64
	completed uint64
	switches  uint64
	live      int
	ioWaits   int
	sincePoll int
	wakeFd    int

	state runtimeState
}

// New creates a new runtime.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		id:      runtimeIDCounter.Add(1),
		logger:  cfg.logger,
		sched:   make(chan struct{}),
		fdWaits: make(map[int]*fdWaiters),
		wakeFd:  wakeFd,
		pool: stackPool{
			capacity: cfg.stackCount,
			size:     cfg.stackSize,
		},
	}
	if cfg.randSeed != nil {
		r.rand = rand.New(rand.NewPCG(cfg.randSeed[0], cfg.randSeed[1]))
	} else {
		r.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	if r.poller, err = newPoller(); err != nil {
		_ = unix.Close(wakeFd)
		return nil, err
	}

	// the wake fd is never counted as a waiter, see ioWaits
	if err := r.poller.set(wakeFd, EventRead); err != nil {
		_ = r.poller.close()
		_ = unix.Close(wakeFd)
		return nil, err
	}

	if cfg.preparePool {
		if err := r.Prepare(cfg.stackCount, cfg.stackSize, cfg.maxStackSize); err != nil {
			_ = r.Close()
			return nil, err
		}
	}

	return r, nil
}

// Go spawns fn as a new coroutine. The coroutine is queued at the tail of
// the run queue, and does not run until the caller next suspends (or, if
// called before Run, until Run starts). There is no join: a coroutine ends
// when fn returns.
func (r *Runtime) Go(fn func()) error {
	if fn == nil {
		return ErrInvalidArgument
	}
	if r.state >= runtimeTerminated {
		return ErrRuntimeClosed
	}
	r.spawn(fn)
	return nil
}

func (r *Runtime) spawn(fn func()) *coroutine {
	s := r.getStack()
	r.nextID++
	co := &coroutine{
		id:    r.nextID,
		fn:    fn,
		stk:   s,
		ioFD:  -1,
		state: StateCreated,
	}
	s.co = co
	r.spawned++
	r.live++
	r.ready(co)
	return co
}

// Yield moves the calling coroutine to the tail of the run queue, resuming
// it once every other currently runnable coroutine has had a turn.
func (r *Runtime) Yield() {
	co := r.current()
	r.ready(co)
	r.park(co)
}

// Run spawns main as a coroutine, and runs the scheduler until main returns,
// ctx is cancelled, or the runtime can make no further progress.
//
// Coroutines still alive when Run returns are left suspended, and resume if
// Run is called again. If the runtime deadlocks, Run returns ErrDeadlock and
// the runtime is terminated. If any coroutine panics, the runtime is
// terminated and Run panics with a *PanicError.
func (r *Runtime) Run(ctx context.Context, main func()) error {
	if main == nil {
		return ErrInvalidArgument
	}
	switch r.state {
	case runtimeRunning:
		return ErrReentrantRun
	case runtimeTerminated, runtimeClosed:
		return ErrRuntimeClosed
	}

	r.state = runtimeRunning
	mainCo := r.spawn(main)

	stop := r.watchContext(ctx)
	defer stop()

	return r.loop(ctx, mainCo)
}

// loop is the scheduler main loop.
func (r *Runtime) loop(ctx context.Context, main *coroutine) error {
	for {
		if p := r.panicked; p != nil {
			r.terminate()
			r.logCrit(logCategorySched).
				Uint64("coroutine", p.Coroutine).
				Any("panic", p.Value).
				Log("coroutine panicked, terminating runtime")
			panic(p)
		}

		if main.state == StateDone {
			r.state = runtimeAwake
			return nil
		}

		if err := ctx.Err(); err != nil {
			r.state = runtimeAwake
			return err
		}

		if r.runq.n != 0 {
			if r.sincePoll >= switchesPerPoll {
				if err := r.poll(0); err != nil {
					return err
				}
				r.fireTimers()
			}
			r.switchTo(r.runq.pop())
			continue
		}

		timeout := r.pollTimeout()
		if timeout < 0 && r.ioWaits == 0 {
			return r.deadlock()
		}
		if err := r.poll(timeout); err != nil {
			return err
		}
		r.fireTimers()
	}
}

// switchTo transfers control to co, blocking until it suspends or returns.
func (r *Runtime) switchTo(co *coroutine) {
	r.running = co
	co.state = StateRunning
	r.switches++
	r.sincePoll++
	co.stk.wake <- struct{}{}
	<-r.sched
	r.running = nil
}

// park hands control from co back to the scheduler, blocking until co is
// next switched to. The caller must have arranged for co to be woken.
func (r *Runtime) park(co *coroutine) {
	r.sched <- struct{}{}
	<-co.stk.wake
}

// current returns the running coroutine. Blocking operations are only
// meaningful from within a coroutine.
func (r *Runtime) current() *coroutine {
	co := r.running
	if co == nil {
		panic(errNotInCoroutine)
	}
	return co
}

// ready appends co to the run queue.
func (r *Runtime) ready(co *coroutine) {
	co.state = StateRunnable
	co.reason = BlockNone
	r.runq.push(co)
}

// block suspends co until resumed, arming a timer if deadline is set.
// Returns the wake result, resultTimeout if the timer fired.
func (r *Runtime) block(co *coroutine, reason BlockReason, deadline int64) int {
	if deadline >= 0 {
		r.addTimer(co, deadline)
	}
	co.state = StateBlocked
	co.reason = reason
	r.park(co)
	return co.result
}

// resume makes a blocked co runnable, with the given wake result.
func (r *Runtime) resume(co *coroutine, result int) {
	r.cancelTimer(co)
	co.result = result
	r.ready(co)
}

// expire wakes co because its deadline elapsed, retracting whatever else
// it was waiting on.
func (r *Runtime) expire(co *coroutine) {
	switch co.reason {
	case BlockChan, BlockSelect:
		r.retractClauses(co, nil)
	case BlockIO:
		r.cancelIO(co)
	}
	r.resume(co, resultTimeout)
}

// poll blocks in the poller for up to timeout milliseconds.
func (r *Runtime) poll(timeout int) error {
	r.sincePoll = 0
	if _, err := r.poller.wait(timeout, r.dispatchFD); err != nil {
		r.logCrit(logCategoryPoll).
			Err(err).
			Log("poll failed, terminating runtime")
		r.terminate()
		return err
	}
	return nil
}

func (r *Runtime) dispatchFD(fd int, ev IOEvents) {
	if fd == r.wakeFd {
		drainWakeFd(fd)
		return
	}
	r.fdReady(fd, ev)
}

func (r *Runtime) deadlock() error {
	r.logCrit(logCategorySched).
		Int("live", r.live).
		Uint64("spawned", r.spawned).
		Uint64("completed", r.completed).
		Log("all coroutines are asleep, terminating runtime")
	r.terminate()
	return ErrDeadlock
}

func (r *Runtime) terminate() {
	r.state = runtimeTerminated
}

// watchContext wakes the poller when ctx is done. The returned function
// stops the watcher, and waits for it to exit.
func (r *Runtime) watchContext(ctx context.Context) (stop func()) {
	done := ctx.Done()
	if done == nil {
		return func() {}
	}
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-done:
			if err := signalWakeFd(r.wakeFd); err != nil {
				r.logErr(logCategorySched).Err(err).Log("failed to signal wake fd")
			}
		case <-quit:
		}
	}()
	return func() {
		close(quit)
		wg.Wait()
	}
}

// Close releases the runtime's descriptors and idle stacks. Coroutines that
// have not finished are abandoned, remaining suspended indefinitely. Any
// descriptors they were waiting on are forgotten, and may then be closed.
func (r *Runtime) Close() error {
	if r.running != nil {
		return ErrReentrantRun
	}
	if r.state == runtimeClosed {
		return ErrRuntimeClosed
	}
	r.state = runtimeClosed

	for _, s := range r.pool.idle {
		close(s.wake)
	}
	r.pool.idle = nil
	r.fdWaits = nil

	err := r.poller.close()
	if e := unix.Close(r.wakeFd); err == nil {
		err = e
	}
	return err
}

// Stats is a snapshot of a runtime's counters.
type Stats struct {
	// Spawned is the total number of coroutines spawned.
	Spawned uint64
	// Completed is the total number of coroutines that returned.
	Completed uint64
	// Switches is the total number of context switches into coroutines.
	Switches uint64
	// UnpooledTotal is the total number of stacks allocated outside the pool.
	UnpooledTotal uint64
	// Live is the number of coroutines that have not returned.
	Live int
	// Runnable is the length of the run queue.
	Runnable int
	// Timers is the number of armed timers.
	Timers int
	// IOWaits is the number of coroutines blocked on descriptors.
	IOWaits int
	// PoolCapacity is the configured number of pooled stacks.
	PoolCapacity int
	// IdleStacks is the number of pooled stacks not in use.
	IdleStacks int
	// UnpooledStacks is the number of unpooled stacks in use.
	UnpooledStacks int
}

// Stats returns a snapshot of the runtime's counters.
func (r *Runtime) Stats() Stats {
	return Stats{
		Spawned:        r.spawned,
		Completed:      r.completed,
		Switches:       r.switches,
		UnpooledTotal:  r.pool.unpooledTotal,
		Live:           r.live,
		Runnable:       r.runq.n,
		Timers:         len(r.timers),
		IOWaits:        r.ioWaits,
		PoolCapacity:   r.pool.capacity,
		IdleStacks:     len(r.pool.idle),
		UnpooledStacks: r.pool.unpooled,
	}
}
