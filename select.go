package coro

// DefaultCase is the index returned by TrySelect when no case was ready,
// and by Select when its deadline elapsed.
const DefaultCase = -1

// Case is one clause of a Select or TrySelect: a send, created by
// [Chan.SendCase], or a receive, created by [Chan.RecvCase].
type Case interface {
	runtime() *Runtime
	// ready reports whether the case can complete without blocking.
	ready() bool
	// exec completes a ready case.
	exec() error
	// enqueue registers co as blocked on the case.
	enqueue(co *coroutine, index int) waiter
	// finish completes the case after w fired.
	finish(w waiter) error
}

type sendCase[T any] struct {
	ch  *Chan[T]
	val T
}

// SendCase returns a Case that sends v on c. Selecting a send on a closed
// channel panics, as for Send.
func (c *Chan[T]) SendCase(v T) Case {
	return &sendCase[T]{ch: c, val: v}
}

func (s *sendCase[T]) runtime() *Runtime { return s.ch.r }

func (s *sendCase[T]) ready() bool {
	c := s.ch
	return c.closed || !c.receivers.empty() || c.n < len(c.buf)
}

func (s *sendCase[T]) exec() error {
	if s.ch.closed {
		panic(errSendOnClosed)
	}
	s.ch.trySend(s.val)
	return nil
}

func (s *sendCase[T]) enqueue(co *coroutine, index int) waiter {
	cl := &chanClause[T]{co: co, ch: s.ch, val: s.val, index: index, send: true}
	s.ch.senders.push(cl)
	return cl
}

func (s *sendCase[T]) finish(w waiter) error {
	return w.(*chanClause[T]).err
}

// RecvCase is a receive clause. Once it has been selected, Value and OK
// hold the result, as returned by [Chan.Recv].
type RecvCase[T any] struct {
	ch    *Chan[T]
	Value T
	OK    bool
}

// RecvCase returns a Case that receives from c.
func (c *Chan[T]) RecvCase() *RecvCase[T] {
	return &RecvCase[T]{ch: c}
}

func (rc *RecvCase[T]) runtime() *Runtime { return rc.ch.r }

func (rc *RecvCase[T]) ready() bool {
	c := rc.ch
	return c.n > 0 || !c.senders.empty() || c.closed
}

func (rc *RecvCase[T]) exec() error {
	rc.Value, rc.OK, _ = rc.ch.tryRecv()
	return nil
}

func (rc *RecvCase[T]) enqueue(co *coroutine, index int) waiter {
	cl := &chanClause[T]{co: co, ch: rc.ch, index: index}
	rc.ch.receivers.push(cl)
	return cl
}

func (rc *RecvCase[T]) finish(w waiter) error {
	cl := w.(*chanClause[T])
	rc.Value, rc.OK = cl.val, cl.ok
	return nil
}

// pickReady chooses uniformly at random among the ready cases, returning
// DefaultCase if there are none. Nil cases are ignored.
func (r *Runtime) pickReady(cases []Case) int {
	chosen := DefaultCase
	var n int
	for i, c := range cases {
		if c == nil {
			continue
		}
		if c.runtime() != r {
			panic(ErrInvalidArgument)
		}
		if c.ready() {
			n++
			if r.rand.IntN(n) == 0 {
				chosen = i
			}
		}
	}
	return chosen
}

// Select waits until one of cases can proceed, completes it, and returns its
// index. If several are ready, one is chosen uniformly at random. If
// deadline elapses first, it returns DefaultCase and ErrTimeout. The error
// is ErrChanClosed if the chosen case was a send, blocked on a channel that
// was then closed.
//
// No case ever completes partially: once one fires, the others are
// withdrawn from their channels.
func (r *Runtime) Select(deadline int64, cases ...Case) (int, error) {
	co := r.current()
	if i := r.pickReady(cases); i != DefaultCase {
		return i, cases[i].exec()
	}
	if expired(deadline) {
		return DefaultCase, ErrTimeout
	}

	co.clauses = co.clauses[:0]
	for i, c := range cases {
		if c != nil {
			co.clauses = append(co.clauses, c.enqueue(co, i))
		}
	}

	i := r.block(co, BlockSelect, deadline)
	if i == resultTimeout {
		return DefaultCase, ErrTimeout
	}
	w := co.fired
	co.fired = nil
	return i, cases[i].finish(w)
}

// TrySelect completes one ready case, chosen uniformly at random, returning
// its index, or DefaultCase if none was ready. It never blocks.
func (r *Runtime) TrySelect(cases ...Case) int {
	i := r.pickReady(cases)
	if i != DefaultCase {
		_ = cases[i].exec()
	}
	return i
}
