package coro

// Chan is a typed channel between coroutines of a single runtime. A
// capacity of zero makes it unbuffered (rendezvous). Values are delivered
// in FIFO order, and blocked senders and receivers are served in the order
// they arrived.
//
// Unlike native Go channels, a Chan belongs to its runtime, and must only
// be used from that runtime's coroutines.
type Chan[T any] struct {
	r         *Runtime
	buf       []T
	senders   waitQueue[T]
	receivers waitQueue[T]
	head      int
	n         int
	closed    bool
}

// NewChan creates a channel owned by r, buffering up to capacity values.
func NewChan[T any](r *Runtime, capacity int) *Chan[T] {
	if r == nil || capacity < 0 {
		panic(ErrInvalidArgument)
	}
	return &Chan[T]{r: r, buf: make([]T, capacity)}
}

// waiter is a registration of a blocked coroutine, on some wait queue.
type waiter interface {
	// retract removes the registration from its queue, if still queued.
	retract()
}

// chanClause is one blocked send or receive. Coroutines blocked in a select
// have one clause per case.
type chanClause[T any] struct {
	co     *coroutine
	ch     *Chan[T]
	prev   *chanClause[T]
	next   *chanClause[T]
	err    error
	val    T
	index  int
	send   bool
	ok     bool
	queued bool
}

func (cl *chanClause[T]) retract() {
	if !cl.queued {
		return
	}
	if cl.send {
		cl.ch.senders.remove(cl)
	} else {
		cl.ch.receivers.remove(cl)
	}
}

// waitQueue is an intrusive FIFO list of clauses.
type waitQueue[T any] struct {
	head *chanClause[T]
	tail *chanClause[T]
}

func (q *waitQueue[T]) empty() bool { return q.head == nil }

func (q *waitQueue[T]) push(cl *chanClause[T]) {
	cl.queued = true
	cl.prev = q.tail
	cl.next = nil
	if q.tail != nil {
		q.tail.next = cl
	} else {
		q.head = cl
	}
	q.tail = cl
}

func (q *waitQueue[T]) pop() *chanClause[T] {
	cl := q.head
	if cl != nil {
		q.remove(cl)
	}
	return cl
}

func (q *waitQueue[T]) remove(cl *chanClause[T]) {
	if cl.prev != nil {
		cl.prev.next = cl.next
	} else {
		q.head = cl.next
	}
	if cl.next != nil {
		cl.next.prev = cl.prev
	} else {
		q.tail = cl.prev
	}
	cl.prev, cl.next = nil, nil
	cl.queued = false
}

// Send delivers v, blocking until a receiver takes it, buffer space is
// available, or deadline elapses (ErrTimeout). Sending on a closed channel
// panics. If the channel is closed while Send is blocked, it returns
// ErrChanClosed.
func (c *Chan[T]) Send(v T, deadline int64) error {
	co := c.r.current()
	if c.closed {
		panic(errSendOnClosed)
	}
	if c.trySend(v) {
		return nil
	}
	if expired(deadline) {
		return ErrTimeout
	}

	cl := &chanClause[T]{co: co, ch: c, val: v, send: true}
	c.senders.push(cl)
	co.clauses = append(co.clauses[:0], cl)
	if c.r.block(co, BlockChan, deadline) == resultTimeout {
		return ErrTimeout
	}
	co.fired = nil
	return cl.err
}

// Recv receives a value, blocking until one is available, or deadline
// elapses (ErrTimeout). Buffered values are drained before a close is
// observed, after which Recv returns the zero value and ok false.
func (c *Chan[T]) Recv(deadline int64) (v T, ok bool, err error) {
	co := c.r.current()
	if v, ok, done := c.tryRecv(); done {
		return v, ok, nil
	}
	if expired(deadline) {
		return v, false, ErrTimeout
	}

	cl := &chanClause[T]{co: co, ch: c}
	c.receivers.push(cl)
	co.clauses = append(co.clauses[:0], cl)
	if c.r.block(co, BlockChan, deadline) == resultTimeout {
		return v, false, ErrTimeout
	}
	co.fired = nil
	return cl.val, cl.ok, nil
}

// Close marks the channel closed. Blocked receivers (and any future ones,
// once the buffer is drained) observe ok false, and blocked senders fail
// with ErrChanClosed. Closing a closed channel panics.
func (c *Chan[T]) Close() {
	if c.closed {
		panic(errCloseOfClosed)
	}
	c.closed = true
	for cl := c.receivers.pop(); cl != nil; cl = c.receivers.pop() {
		c.fire(cl)
	}
	for cl := c.senders.pop(); cl != nil; cl = c.senders.pop() {
		cl.err = ErrChanClosed
		c.fire(cl)
	}
}

// Len returns the number of buffered values.
func (c *Chan[T]) Len() int { return c.n }

// Cap returns the buffer capacity.
func (c *Chan[T]) Cap() int { return len(c.buf) }

// Closed reports whether Close has been called.
func (c *Chan[T]) Closed() bool { return c.closed }

// trySend completes a send without blocking, if possible.
func (c *Chan[T]) trySend(v T) bool {
	if cl := c.receivers.pop(); cl != nil {
		cl.val = v
		cl.ok = true
		c.fire(cl)
		return true
	}
	if c.n < len(c.buf) {
		c.buf[(c.head+c.n)%len(c.buf)] = v
		c.n++
		return true
	}
	return false
}

// tryRecv completes a receive without blocking, if possible, done reporting
// whether it did.
func (c *Chan[T]) tryRecv() (v T, ok, done bool) {
	if c.n > 0 {
		var zero T
		v = c.buf[c.head]
		c.buf[c.head] = zero
		c.head = (c.head + 1) % len(c.buf)
		c.n--
		// refill from the oldest blocked sender, preserving FIFO order
		if cl := c.senders.pop(); cl != nil {
			c.buf[(c.head+c.n)%len(c.buf)] = cl.val
			c.n++
			c.fire(cl)
		}
		return v, true, true
	}
	if cl := c.senders.pop(); cl != nil {
		v = cl.val
		c.fire(cl)
		return v, true, true
	}
	if c.closed {
		return v, false, true
	}
	return v, false, false
}

// fire wakes the coroutine owning cl, which has been dequeued and
// completed, withdrawing its other clauses.
func (c *Chan[T]) fire(cl *chanClause[T]) {
	co := cl.co
	c.r.retractClauses(co, cl)
	co.fired = cl
	c.r.resume(co, cl.index)
}

// retractClauses withdraws every clause of co other than except.
func (r *Runtime) retractClauses(co *coroutine, except waiter) {
	for i, w := range co.clauses {
		if w != except {
			w.retract()
		}
		co.clauses[i] = nil
	}
	co.clauses = co.clauses[:0]
}
