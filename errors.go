// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coro

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Standard errors.
var (
	// ErrTimeout is returned when a blocking operation's deadline elapsed
	// before it could complete.
	ErrTimeout = errors.New("coro: deadline exceeded")

	// ErrDeadlock is returned by Run when no coroutine is runnable, no timer
	// is pending, and no coroutine is waiting on a file descriptor.
	ErrDeadlock = errors.New("coro: all coroutines are asleep - deadlock")

	// ErrRuntimeClosed is returned when operations are attempted on a closed
	// or terminated runtime.
	ErrRuntimeClosed = errors.New("coro: runtime has been terminated")

	// ErrReentrantRun is returned when Run is called while already running.
	ErrReentrantRun = errors.New("coro: cannot call Run() from within the runtime")

	// ErrAlreadyStarted is returned by Prepare after the first spawn.
	ErrAlreadyStarted = errors.New("coro: stack pool must be prepared before the first spawn")

	// ErrInvalidArgument is returned for out of range or otherwise invalid
	// arguments.
	ErrInvalidArgument = errors.New("coro: invalid argument")

	// ErrChanClosed is returned to senders that were blocked on a channel
	// when it was closed.
	ErrChanClosed = errors.New("coro: channel closed while sending")

	// ErrClosed is returned when operations are attempted on a closed
	// socket.
	ErrClosed = errors.New("coro: use of closed socket")

	// ErrConnReset indicates the peer reset the connection (ECONNRESET,
	// EPIPE).
	ErrConnReset = errors.New("coro: connection reset by peer")

	// ErrConnRefused indicates the remote endpoint refused the connection.
	ErrConnRefused = errors.New("coro: connection refused")

	// ErrNoBufferSpace is returned by TCPConn.RecvUntil when the buffer
	// filled before the delimiter was found.
	ErrNoBufferSpace = errors.New("coro: buffer filled before delimiter")

	// ErrWouldBlock is returned by UDPSocket.Send when the kernel send buffer
	// is full.
	ErrWouldBlock = errors.New("coro: operation would block")

	// ErrAddrNotAvailable is returned when an address cannot be resolved or
	// has no entry matching the requested IPMode.
	ErrAddrNotAvailable = errors.New("coro: address not available")
)

// usage errors, panicked with
var (
	errSendOnClosed   = errors.New("coro: send on closed channel")
	errCloseOfClosed  = errors.New("coro: close of closed channel")
	errNotInCoroutine = errors.New("coro: blocking operation outside of a coroutine")
	errDoubleWait     = errors.New("coro: another coroutine is already waiting on this descriptor")
	errCleanBlocked   = errors.New("coro: descriptor cleaned while a coroutine is waiting on it")
	errGoexit         = errors.New("coro: runtime.Goexit called from a coroutine")
)

// OpError is the error type returned by socket operations. It records the
// operation and, where known, the address involved, wrapping the cause.
type OpError struct {
	Err  error
	Op   string
	Addr Addr
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := e.Op
	if e.Addr.IsValid() {
		s += " " + e.Addr.String()
	}
	return s + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *OpError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the operation failed because its deadline elapsed.
func (e *OpError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// PanicError wraps a value recovered from a panicking coroutine. Run
// re-panics with a *PanicError, terminating the runtime.
type PanicError struct {
	Value     any
	Stack     []byte
	Coroutine uint64
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("coro: coroutine %d panicked: %v\n\n%s", e.Coroutine, e.Value, e.Stack)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// errnoError classifies a raw errno into one of the package's sentinel
// errors, while still matching the errno itself.
type errnoError struct {
	kind  error
	errno unix.Errno
}

func (e *errnoError) Error() string {
	return e.kind.Error() + ": " + e.errno.Error()
}

func (e *errnoError) Unwrap() []error {
	return []error{e.kind, e.errno}
}

// classifyErrno maps connection-level errno values onto sentinel errors,
// other errors are returned as-is.
func classifyErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.ECONNRESET, unix.EPIPE:
		return &errnoError{kind: ErrConnReset, errno: errno}
	case unix.ECONNREFUSED:
		return &errnoError{kind: ErrConnRefused, errno: errno}
	case unix.EADDRNOTAVAIL:
		return &errnoError{kind: ErrAddrNotAvailable, errno: errno}
	default:
		return errno
	}
}

func opError(op string, addr Addr, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Addr: addr, Err: err}
}
