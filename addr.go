package coro

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// IPMode selects the address family when resolving names.
type IPMode uint8

const (
	// PreferIPv4 picks an IPv4 address if there is one, else IPv6. It is
	// the zero value.
	PreferIPv4 IPMode = iota
	// PreferIPv6 picks an IPv6 address if there is one, else IPv4.
	PreferIPv6
	// IPv4 only accepts IPv4 addresses.
	IPv4
	// IPv6 only accepts IPv6 addresses.
	IPv6
)

// String returns a human-readable representation of the mode.
func (m IPMode) String() string {
	switch m {
	case PreferIPv4:
		return "PreferIPv4"
	case PreferIPv6:
		return "PreferIPv6"
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return "IPMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Addr is an IPv4 or IPv6 endpoint, an address and port. The zero value is
// not a valid endpoint.
type Addr struct {
	ap netip.AddrPort
}

// AddrFrom wraps ap.
func AddrFrom(ap netip.AddrPort) Addr {
	return Addr{ap: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// AddrPort returns the endpoint as a [netip.AddrPort].
func (a Addr) AddrPort() netip.AddrPort { return a.ap }

// IP returns the address without the port.
func (a Addr) IP() netip.Addr { return a.ap.Addr() }

// Port returns the port number.
func (a Addr) Port() int { return int(a.ap.Port()) }

// IsValid reports whether a holds an address.
func (a Addr) IsValid() bool { return a.ap.IsValid() }

// Is4 reports whether a is an IPv4 endpoint.
func (a Addr) Is4() bool { return a.ap.Addr().Is4() }

// String formats a as "ip:port", with IPv6 addresses in brackets.
func (a Addr) String() string {
	if !a.IsValid() {
		return "invalid"
	}
	return a.ap.String()
}

func checkPort(port int) error {
	if port < 0 || port > 0xffff {
		return ErrInvalidArgument
	}
	return nil
}

// chooseAddr picks an address from candidates, according to mode.
func chooseAddr(candidates []netip.Addr, mode IPMode) (netip.Addr, bool) {
	var v4, v6 netip.Addr
	for _, ip := range candidates {
		ip = ip.Unmap()
		if ip.Is4() {
			if !v4.IsValid() {
				v4 = ip
			}
		} else if !v6.IsValid() {
			v6 = ip
		}
	}
	var ip netip.Addr
	switch mode {
	case IPv4:
		ip = v4
	case IPv6:
		ip = v6
	case PreferIPv6:
		ip = v6
		if !ip.IsValid() {
			ip = v4
		}
	default:
		ip = v4
		if !ip.IsValid() {
			ip = v6
		}
	}
	return ip, ip.IsValid()
}

// literalAddr parses name as a literal address, ok false if it is not one.
func literalAddr(name string, port int, mode IPMode) (a Addr, ok bool, err error) {
	ip, perr := netip.ParseAddr(name)
	if perr != nil {
		return Addr{}, false, nil
	}
	ip, found := chooseAddr([]netip.Addr{ip}, mode)
	if !found {
		return Addr{}, true, ErrAddrNotAvailable
	}
	return Addr{ap: netip.AddrPortFrom(ip, uint16(port))}, true, nil
}

// LocalAddr resolves a local endpoint, suitable for listening. An empty
// name is the wildcard address (IPv6 for IPv6 and PreferIPv6, else IPv4).
// Otherwise name is either a literal address, or the name of a local
// network interface, whose addresses are chosen from according to mode.
func LocalAddr(name string, port int, mode IPMode) (Addr, error) {
	if err := checkPort(port); err != nil {
		return Addr{}, err
	}

	if name == "" {
		ip := netip.IPv4Unspecified()
		if mode == IPv6 || mode == PreferIPv6 {
			ip = netip.IPv6Unspecified()
		}
		return Addr{ap: netip.AddrPortFrom(ip, uint16(port))}, nil
	}

	if a, ok, err := literalAddr(name, port, mode); ok {
		return a, err
	}

	iface, err := net.InterfaceByName(name)
	if err != nil {
		return Addr{}, &OpError{Op: "resolve", Err: ErrAddrNotAvailable}
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return Addr{}, &OpError{Op: "resolve", Err: err}
	}
	candidates := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if ip, ok := netip.AddrFromSlice(ipn.IP); ok {
				candidates = append(candidates, ip)
			}
		}
	}
	ip, ok := chooseAddr(candidates, mode)
	if !ok {
		return Addr{}, &OpError{Op: "resolve", Err: ErrAddrNotAvailable}
	}
	return Addr{ap: netip.AddrPortFrom(ip, uint16(port))}, nil
}

// lookup is a name resolution running off the runtime, reporting
// completion via an eventfd.
type lookup struct {
	mu        sync.Mutex
	addrs     []netip.Addr
	err       error
	efd       int
	done      bool
	abandoned bool
}

func (l *lookup) run(ctx context.Context, cancel context.CancelFunc, name string) {
	defer cancel()
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", name)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.abandoned {
		_ = unix.Close(l.efd)
		return
	}
	l.addrs, l.err, l.done = addrs, err, true
	_ = signalWakeFd(l.efd)
}

// RemoteAddr resolves a remote endpoint. Literal addresses are parsed
// directly. Other names are resolved via DNS on a separate goroutine, the
// calling coroutine waiting (without blocking the runtime) until the
// lookup completes, or deadline elapses.
func (r *Runtime) RemoteAddr(name string, port int, mode IPMode, deadline int64) (Addr, error) {
	if err := checkPort(port); err != nil {
		return Addr{}, err
	}
	if a, ok, err := literalAddr(name, port, mode); ok {
		if err != nil {
			return Addr{}, &OpError{Op: "resolve", Err: err}
		}
		return a, nil
	}
	if name == "" {
		return Addr{}, ErrInvalidArgument
	}

	efd, err := createWakeFd()
	if err != nil {
		return Addr{}, &OpError{Op: "resolve", Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &lookup{efd: efd}
	go l.run(ctx, cancel, name)

	_, err = r.WaitFD(efd, EventRead, deadline)
	r.CleanFD(efd)

	l.mu.Lock()
	if err != nil && !l.done {
		// the lookup goroutine now owns efd
		l.abandoned = true
		l.mu.Unlock()
		cancel()
		return Addr{}, &OpError{Op: "resolve", Err: err}
	}
	addrs, lerr := l.addrs, l.err
	l.mu.Unlock()
	_ = unix.Close(efd)

	if err != nil {
		return Addr{}, &OpError{Op: "resolve", Err: err}
	}
	if lerr != nil {
		r.logDebug(logCategoryNet).
			Str("name", name).
			Err(lerr).
			Log("name resolution failed")
		return Addr{}, &OpError{Op: "resolve", Err: ErrAddrNotAvailable}
	}
	ip, ok := chooseAddr(addrs, mode)
	if !ok {
		return Addr{}, &OpError{Op: "resolve", Err: ErrAddrNotAvailable}
	}
	return Addr{ap: netip.AddrPortFrom(ip, uint16(port))}, nil
}
