package coro

import (
	"golang.org/x/sys/unix"
)

// UDPSocket is a bound UDP socket, owned by a runtime.
type UDPSocket struct {
	r      *Runtime
	fd     int
	family int
	port   int
}

// UDPListen creates a UDP socket bound to addr. If addr has port 0, an
// ephemeral port is chosen, see Port.
func (r *Runtime) UDPListen(addr Addr) (*UDPSocket, error) {
	if !addr.IsValid() {
		return nil, &OpError{Op: "listen", Err: ErrInvalidArgument}
	}
	fd, family, err := bindSocket(addr, unix.SOCK_DGRAM)
	if err != nil {
		return nil, &OpError{Op: "listen", Addr: addr, Err: classifyErrno(err)}
	}
	port, err := localPort(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, &OpError{Op: "listen", Addr: addr, Err: err}
	}
	return &UDPSocket{r: r, fd: fd, family: family, port: port}, nil
}

// Port returns the local port the socket is bound to.
func (s *UDPSocket) Port() int { return s.port }

// Fd returns the underlying descriptor, or -1 once closed.
func (s *UDPSocket) Fd() int { return s.fd }

// Send transmits b as a single datagram to addr. It never blocks: if the
// kernel cannot accept the datagram immediately, it fails with
// ErrWouldBlock.
func (s *UDPSocket) Send(addr Addr, b []byte) error {
	if s.fd < 0 {
		return &OpError{Op: "send", Err: ErrClosed}
	}
	if !addr.IsValid() || (s.family == unix.AF_INET && !addr.Is4()) {
		return &OpError{Op: "send", Addr: addr, Err: ErrInvalidArgument}
	}
	sa := toSockaddr(addr, s.family)
	for {
		err := unix.Sendto(s.fd, b, 0, sa)
		switch {
		case err == nil:
			return nil
		case err == unix.EINTR:
		case isAgain(err):
			return &OpError{Op: "send", Addr: addr, Err: ErrWouldBlock}
		default:
			return &OpError{Op: "send", Addr: addr, Err: classifyErrno(err)}
		}
	}
}

// Recv waits for a datagram, or deadline, copying it into b and returning
// the sender's address and the number of bytes copied. Datagrams larger
// than b are truncated.
func (s *UDPSocket) Recv(b []byte, deadline int64) (Addr, int, error) {
	if s.fd < 0 {
		return Addr{}, 0, &OpError{Op: "recv", Err: ErrClosed}
	}
	for {
		n, sa, err := unix.Recvfrom(s.fd, b, 0)
		switch {
		case err == nil:
			return fromSockaddr(sa), n, nil
		case err == unix.EINTR:
		case isAgain(err):
			if _, err := s.r.WaitFD(s.fd, EventRead, deadline); err != nil {
				return Addr{}, 0, &OpError{Op: "recv", Err: err}
			}
		default:
			return Addr{}, 0, &OpError{Op: "recv", Err: classifyErrno(err)}
		}
	}
}

// Close closes the socket.
func (s *UDPSocket) Close() error {
	fd := s.fd
	if fd < 0 {
		return &OpError{Op: "close", Err: ErrClosed}
	}
	s.fd = -1
	return opError("close", Addr{}, s.r.closeFD(fd))
}
