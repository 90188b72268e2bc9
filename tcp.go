package coro

import (
	"bytes"
	"io"

	"golang.org/x/sys/unix"
)

// tcpBufSize is the size of each connection's receive and send buffers.
const tcpBufSize = 4096

// TCPListener is a listening TCP socket, owned by a runtime.
type TCPListener struct {
	r    *Runtime
	fd   int
	port int
}

// TCPListen creates a listening socket bound to addr. A backlog of zero or
// less uses the system default. If addr has port 0, an ephemeral port is
// chosen, see Port.
func (r *Runtime) TCPListen(addr Addr, backlog int) (*TCPListener, error) {
	if !addr.IsValid() {
		return nil, &OpError{Op: "listen", Err: ErrInvalidArgument}
	}
	fd, _, err := bindSocket(addr, unix.SOCK_STREAM)
	if err != nil {
		return nil, &OpError{Op: "listen", Addr: addr, Err: classifyErrno(err)}
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, &OpError{Op: "listen", Addr: addr, Err: classifyErrno(err)}
	}
	return r.TCPAttachListener(fd)
}

// TCPAttachListener wraps fd, an already listening socket (e.g. inherited
// from a parent process), setting it non-blocking.
func (r *Runtime) TCPAttachListener(fd int) (*TCPListener, error) {
	if fd < 0 {
		return nil, &OpError{Op: "attach", Err: ErrInvalidArgument}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, &OpError{Op: "attach", Err: err}
	}
	port, err := localPort(fd)
	if err != nil {
		return nil, &OpError{Op: "attach", Err: err}
	}
	return &TCPListener{r: r, fd: fd, port: port}, nil
}

// Port returns the local port the listener is bound to.
func (l *TCPListener) Port() int { return l.port }

// Fd returns the underlying descriptor, or -1 once closed or detached.
func (l *TCPListener) Fd() int { return l.fd }

// Accept waits for an inbound connection, or deadline.
func (l *TCPListener) Accept(deadline int64) (*TCPConn, error) {
	if l.fd < 0 {
		return nil, &OpError{Op: "accept", Err: ErrClosed}
	}
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return &TCPConn{r: l.r, fd: fd, addr: fromSockaddr(sa)}, nil
		case err == unix.EINTR, err == unix.ECONNABORTED:
		case isAgain(err):
			if _, err := l.r.WaitFD(l.fd, EventRead, deadline); err != nil {
				return nil, &OpError{Op: "accept", Err: err}
			}
		default:
			return nil, &OpError{Op: "accept", Err: classifyErrno(err)}
		}
	}
}

// Detach releases the listener without closing the descriptor, returning
// it.
func (l *TCPListener) Detach() (int, error) {
	fd := l.fd
	if fd < 0 {
		return -1, &OpError{Op: "detach", Err: ErrClosed}
	}
	l.r.CleanFD(fd)
	l.fd = -1
	return fd, nil
}

// Close closes the listener.
func (l *TCPListener) Close() error {
	fd := l.fd
	if fd < 0 {
		return &OpError{Op: "close", Err: ErrClosed}
	}
	l.fd = -1
	return opError("close", Addr{}, l.r.closeFD(fd))
}

// TCPConn is a connected TCP socket, owned by a runtime. Sends are
// buffered, see Send and Flush. At most one coroutine may block reading,
// and one writing, at a time.
type TCPConn struct {
	r    *Runtime
	addr Addr
	fd   int

	rx      [tcpBufSize]byte
	rxStart int
	rxEnd   int

	tx    [tcpBufSize]byte
	txLen int
}

// TCPConnect connects to addr, waiting for the connection to be
// established, or deadline.
func (r *Runtime) TCPConnect(addr Addr, deadline int64) (*TCPConn, error) {
	if !addr.IsValid() {
		return nil, &OpError{Op: "connect", Err: ErrInvalidArgument}
	}
	fd, family, err := newSocket(addr, unix.SOCK_STREAM)
	if err != nil {
		return nil, &OpError{Op: "connect", Addr: addr, Err: err}
	}

	err = unix.Connect(fd, toSockaddr(addr, family))
	if err == unix.EINPROGRESS || err == unix.EINTR {
		if _, err = r.WaitFD(fd, EventWrite, deadline); err == nil {
			var errno int
			if errno, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); err == nil && errno != 0 {
				err = unix.Errno(errno)
			}
		}
	}
	if err != nil {
		_ = r.closeFD(fd)
		return nil, &OpError{Op: "connect", Addr: addr, Err: classifyErrno(err)}
	}

	return &TCPConn{r: r, fd: fd, addr: addr}, nil
}

// TCPAttach wraps fd, an already connected socket, setting it
// non-blocking.
func (r *Runtime) TCPAttach(fd int) (*TCPConn, error) {
	if fd < 0 {
		return nil, &OpError{Op: "attach", Err: ErrInvalidArgument}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, &OpError{Op: "attach", Err: err}
	}
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, &OpError{Op: "attach", Err: classifyErrno(err)}
	}
	return &TCPConn{r: r, fd: fd, addr: fromSockaddr(sa)}, nil
}

// RemoteAddr returns the address of the peer.
func (c *TCPConn) RemoteAddr() Addr { return c.addr }

// Fd returns the underlying descriptor, or -1 once closed or detached.
func (c *TCPConn) Fd() int { return c.fd }

// Buffered returns the number of bytes sent but not yet flushed.
func (c *TCPConn) Buffered() int { return c.txLen }

// Send buffers b for transmission. If b does not fit in the remaining
// buffer space, the buffer is flushed first, and payloads larger than the
// buffer are written directly. The returned count is the number of bytes of
// b accepted (buffered or written), which is less than len(b) only if err
// is non-nil.
func (c *TCPConn) Send(b []byte, deadline int64) (int, error) {
	if c.fd < 0 {
		return 0, &OpError{Op: "send", Err: ErrClosed}
	}
	if c.txLen+len(b) <= len(c.tx) {
		c.txLen += copy(c.tx[c.txLen:], b)
		return len(b), nil
	}
	if err := c.flush(deadline); err != nil {
		return 0, &OpError{Op: "send", Addr: c.addr, Err: err}
	}
	if len(b) <= len(c.tx) {
		c.txLen = copy(c.tx[:], b)
		return len(b), nil
	}
	n, err := c.write(b, deadline)
	if err != nil {
		return n, &OpError{Op: "send", Addr: c.addr, Err: err}
	}
	return n, nil
}

// Flush writes out any buffered data. On failure, the bytes not yet written
// remain buffered, and a later Flush retries them.
func (c *TCPConn) Flush(deadline int64) error {
	if c.fd < 0 {
		return &OpError{Op: "flush", Err: ErrClosed}
	}
	return opError("flush", c.addr, c.flush(deadline))
}

func (c *TCPConn) flush(deadline int64) error {
	if c.txLen == 0 {
		return nil
	}
	n, err := c.write(c.tx[:c.txLen], deadline)
	if n < c.txLen {
		copy(c.tx[:], c.tx[n:c.txLen])
	}
	c.txLen -= n
	return err
}

// write writes all of b to the socket, waiting for writability as needed.
func (c *TCPConn) write(b []byte, deadline int64) (int, error) {
	var written int
	for written < len(b) {
		n, err := unix.SendmsgN(c.fd, b[written:], nil, nil, unix.MSG_NOSIGNAL)
		if n > 0 {
			written += n
		}
		switch {
		case err == nil, err == unix.EINTR:
		case isAgain(err):
			if _, err := c.r.WaitFD(c.fd, EventWrite, deadline); err != nil {
				return written, err
			}
		default:
			return written, classifyErrno(err)
		}
	}
	return written, nil
}

// Recv fills b, waiting for data as needed. It returns len(b) and a nil
// error on success. Otherwise, the bytes received so far are returned
// alongside the error: io.EOF if the peer closed the connection, or an
// *OpError.
func (c *TCPConn) Recv(b []byte, deadline int64) (int, error) {
	if c.fd < 0 {
		return 0, &OpError{Op: "recv", Err: ErrClosed}
	}
	var n int
	for n < len(b) {
		if c.rxStart < c.rxEnd {
			m := copy(b[n:], c.rx[c.rxStart:c.rxEnd])
			c.rxStart += m
			n += m
			continue
		}
		// large remainders bypass the buffer
		var err error
		if len(b)-n >= len(c.rx) {
			var m int
			m, err = c.read(b[n:], deadline)
			n += m
		} else {
			err = c.fill(deadline)
		}
		if err != nil {
			return n, c.recvError(err)
		}
	}
	return n, nil
}

// RecvUntil reads into b until the sequence delim has been received,
// returning the number of bytes read, including delim. If b fills first,
// it returns len(b) and ErrNoBufferSpace. Bytes received are never lost:
// anything after delim stays buffered for the next read.
func (c *TCPConn) RecvUntil(b []byte, delim []byte, deadline int64) (int, error) {
	if c.fd < 0 {
		return 0, &OpError{Op: "recv", Err: ErrClosed}
	}
	if len(delim) == 0 {
		return 0, &OpError{Op: "recv", Err: ErrInvalidArgument}
	}
	last := delim[len(delim)-1]
	var n int
	for n < len(b) {
		if c.rxStart == c.rxEnd {
			if err := c.fill(deadline); err != nil {
				return n, c.recvError(err)
			}
		}
		ch := c.rx[c.rxStart]
		c.rxStart++
		b[n] = ch
		n++
		if ch == last && n >= len(delim) && bytes.Equal(b[n-len(delim):n], delim) {
			return n, nil
		}
	}
	return n, &OpError{Op: "recv", Addr: c.addr, Err: ErrNoBufferSpace}
}

func (c *TCPConn) recvError(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	return &OpError{Op: "recv", Addr: c.addr, Err: err}
}

// fill reads into the (empty) receive buffer.
func (c *TCPConn) fill(deadline int64) error {
	n, err := c.read(c.rx[:], deadline)
	c.rxStart, c.rxEnd = 0, n
	return err
}

// read performs a single successful read into b, waiting for readability
// as needed.
func (c *TCPConn) read(b []byte, deadline int64) (int, error) {
	for {
		n, err := unix.Read(c.fd, b)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case err == unix.EINTR:
		case isAgain(err):
			if _, err := c.r.WaitFD(c.fd, EventRead, deadline); err != nil {
				return 0, err
			}
		default:
			return 0, classifyErrno(err)
		}
	}
}

// Detach releases the connection without closing the descriptor, returning
// it. Buffered data is discarded.
func (c *TCPConn) Detach() (int, error) {
	fd := c.fd
	if fd < 0 {
		return -1, &OpError{Op: "detach", Err: ErrClosed}
	}
	c.r.CleanFD(fd)
	c.fd = -1
	return fd, nil
}

// Close closes the connection. Unflushed data is discarded.
func (c *TCPConn) Close() error {
	fd := c.fd
	if fd < 0 {
		return &OpError{Op: "close", Err: ErrClosed}
	}
	c.fd = -1
	return opError("close", c.addr, c.r.closeFD(fd))
}
