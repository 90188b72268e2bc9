//go:build linux

package coro

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// newSocket creates a non-blocking, close-on-exec socket, in the family
// matching addr.
func newSocket(addr Addr, typ int) (fd, family int, err error) {
	family = unix.AF_INET
	if !addr.Is4() {
		family = unix.AF_INET6
	}
	for {
		fd, err = unix.Socket(family, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != unix.EINTR {
			return
		}
	}
}

// toSockaddr converts addr for use with a socket of the given family, an
// IPv4 address being mapped into IPv6 when necessary.
func toSockaddr(addr Addr, family int) unix.Sockaddr {
	ip := addr.IP()
	if family == unix.AF_INET && ip.Is4() {
		return &unix.SockaddrInet4{Port: addr.Port(), Addr: ip.As4()}
	}
	return &unix.SockaddrInet6{Port: addr.Port(), Addr: ip.As16()}
}

func fromSockaddr(sa unix.Sockaddr) Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return Addr{ap: netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))}
	case *unix.SockaddrInet6:
		return Addr{ap: netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))}
	default:
		return Addr{}
	}
}

func localPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	return fromSockaddr(sa).Port(), nil
}

// bindSocket creates a socket bound to addr, with SO_REUSEADDR set.
func bindSocket(addr Addr, typ int) (fd, family int, err error) {
	fd, family, err = newSocket(addr, typ)
	if err != nil {
		return
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err == nil {
		err = unix.Bind(fd, toSockaddr(addr, family))
	}
	if err != nil {
		_ = unix.Close(fd)
		return -1, 0, err
	}
	return fd, family, nil
}

func isAgain(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// closeFD releases a descriptor previously used with WaitFD.
func (r *Runtime) closeFD(fd int) error {
	r.CleanFD(fd)
	return unix.Close(fd)
}
