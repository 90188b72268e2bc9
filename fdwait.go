package coro

// fdWaiters tracks the (at most one) reader and writer blocked on a
// descriptor. A single coroutine waiting for both occupies both slots.
type fdWaiters struct {
	reader *coroutine
	writer *coroutine
}

func (w *fdWaiters) interest() (events IOEvents) {
	if w.reader != nil {
		events |= EventRead
	}
	if w.writer != nil {
		events |= EventWrite
	}
	return
}

// WaitFD suspends the calling coroutine until fd is ready for any of the
// requested events (EventRead, EventWrite, or both), or deadline elapses,
// returning the events that occurred. EventError and EventHangup are always
// reported, and wake both the reader and the writer.
//
// At most one coroutine may wait for readability, and one for writability,
// on the same descriptor at a time; violating this panics.
func (r *Runtime) WaitFD(fd int, events IOEvents, deadline int64) (IOEvents, error) {
	co := r.current()
	events &= EventRead | EventWrite
	if fd < 0 || events == 0 {
		return 0, ErrInvalidArgument
	}

	w := r.fdWaits[fd]
	if w != nil && ((events&EventRead != 0 && w.reader != nil) || (events&EventWrite != 0 && w.writer != nil)) {
		panic(errDoubleWait)
	}

	if expired(deadline) {
		return 0, ErrTimeout
	}

	if w == nil {
		w = new(fdWaiters)
		r.fdWaits[fd] = w
	}

	if events&EventRead != 0 {
		w.reader = co
	}
	if events&EventWrite != 0 {
		w.writer = co
	}
	if err := r.updateInterest(fd, w); err != nil {
		r.clearWaiter(fd, w, co)
		return 0, err
	}
	co.ioFD = fd
	co.ioEvents = events
	r.ioWaits++

	result := r.block(co, BlockIO, deadline)
	if result == resultTimeout {
		return 0, ErrTimeout
	}
	return IOEvents(result), nil
}

// updateInterest reconciles the poller registration of fd with its
// waiters. Descriptors without waiters are not kept registered, as level
// triggered error and hangup conditions would otherwise spin the poller.
func (r *Runtime) updateInterest(fd int, w *fdWaiters) error {
	want := w.interest()
	if want == 0 {
		delete(r.fdWaits, fd)
	}
	return r.poller.set(fd, want)
}

// clearWaiter removes co from whichever slots of w it occupies.
func (r *Runtime) clearWaiter(fd int, w *fdWaiters, co *coroutine) {
	if w.reader == co {
		w.reader = nil
	}
	if w.writer == co {
		w.writer = nil
	}
	if err := r.updateInterest(fd, w); err != nil {
		r.logErr(logCategoryPoll).
			Int("fd", fd).
			Err(err).
			Log("failed to update descriptor interest")
	}
}

// fdReady is the poller callback for every descriptor with waiters.
func (r *Runtime) fdReady(fd int, events IOEvents) {
	w := r.fdWaits[fd]
	if w == nil {
		return
	}
	failed := events & (EventError | EventHangup)
	if co := w.reader; co != nil && events&(EventRead|failed) != 0 {
		r.ioDone(co, events&(co.ioEvents|failed))
	}
	if co := w.writer; co != nil && events&(EventWrite|failed) != 0 {
		r.ioDone(co, events&(co.ioEvents|failed))
	}
}

// ioDone resumes co, which was blocked in WaitFD.
func (r *Runtime) ioDone(co *coroutine, events IOEvents) {
	r.cancelIO(co)
	r.resume(co, int(events))
}

// cancelIO withdraws co from the descriptor it is waiting on.
func (r *Runtime) cancelIO(co *coroutine) {
	fd := co.ioFD
	if fd < 0 {
		return
	}
	co.ioFD = -1
	co.ioEvents = 0
	r.ioWaits--
	if w := r.fdWaits[fd]; w != nil {
		r.clearWaiter(fd, w, co)
	}
}

// CleanFD discards any state the runtime holds for fd. It must be called
// before closing a descriptor that has been passed to WaitFD, and panics if
// a coroutine is still waiting on it.
func (r *Runtime) CleanFD(fd int) {
	w := r.fdWaits[fd]
	if w == nil {
		return
	}
	if w.reader != nil || w.writer != nil {
		panic(errCleanBlocked)
	}
	_ = r.updateInterest(fd, w)
}
