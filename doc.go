// Package coro provides a cooperative, single-threaded coroutine runtime,
// featuring rendezvous and buffered channels, select, millisecond deadlines,
// and coroutine-aware TCP/UDP sockets driven by an epoll poller.
//
// # Architecture
//
// A [Runtime] owns everything: the run queue, the stack pool, the timer
// heap, and the I/O poller. Multiple runtimes are independent of one
// another, which is how multi-core scaling is achieved (typically one
// runtime per OS process, see cmd/namesrv).
//
// Each coroutine executes on its own goroutine, but control is handed off
// strictly: exactly one coroutine (or the scheduler itself) executes at any
// instant. Consequently, memory shared between coroutines of the same
// runtime needs no locking, provided no suspension point occurs in the
// middle of a multi-step update.
//
// Suspension points are exactly:
//   - [Runtime.Yield]
//   - [Chan.Send] / [Chan.Recv] when they cannot complete immediately
//   - [Runtime.Sleep] / [Runtime.SleepUntil]
//   - [Runtime.Select]
//   - [Runtime.WaitFD], and any socket operation that would block
//
// # Scheduling
//
// The scheduler runs runnable coroutines round-robin. When none is
// runnable, it blocks in epoll, bounded by the earliest timer expiry, then
// requeues every coroutine whose timer expired or whose descriptor became
// ready. If nothing is runnable, no timer is pending, and no coroutine is
// waiting on a descriptor, the runtime is deadlocked: [Runtime.Run] logs a
// diagnostic and returns [ErrDeadlock].
//
// # Deadlines
//
// Deadlines are absolute timestamps in milliseconds, on the monotonic clock
// exposed by [Now]. [NoDeadline] blocks indefinitely. A deadline already in
// the past fails immediately with [ErrTimeout], if the operation cannot
// complete without blocking.
//
// # Usage
//
//	rt, err := coro.New(coro.WithStackPool(64, 64<<10, 0))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	err = rt.Run(context.Background(), func() {
//	    ch := coro.NewChan[int](rt, 0)
//	    _ = rt.Go(func() {
//	        _ = ch.Send(42, coro.NoDeadline)
//	    })
//	    v, _, _ := ch.Recv(coro.NoDeadline)
//	    fmt.Println(v)
//	})
//
// # Error Types
//
// Blocking operations report failures via explicit error returns, never
// via shared state:
//   - [ErrTimeout]: the deadline elapsed
//   - [ErrConnReset], [ErrConnRefused], [io.EOF]: connection-level failures
//   - [ErrNoBufferSpace]: [TCPConn.RecvUntil] filled its buffer
//   - [OpError]: wraps socket failures with the operation and address
//   - [PanicError]: a coroutine panicked, re-raised by [Runtime.Run]
//
// Usage errors (sending on a closed channel, two coroutines waiting on the
// same direction of one descriptor) indicate a broken invariant, and panic.
package coro
