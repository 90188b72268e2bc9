package coro

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalAddr(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		addr string
		port int
		mode IPMode
		want string
		err  error
	}{
		{name: "wildcard v4", port: 80, mode: PreferIPv4, want: "0.0.0.0:80"},
		{name: "wildcard v6", port: 80, mode: IPv6, want: "[::]:80"},
		{name: "wildcard prefer v6", port: 0, mode: PreferIPv6, want: "[::]:0"},
		{name: "literal v4", addr: "127.0.0.1", port: 5555, mode: PreferIPv6, want: "127.0.0.1:5555"},
		{name: "literal v6", addr: "::1", port: 5555, mode: PreferIPv4, want: "[::1]:5555"},
		{name: "mapped v4", addr: "::ffff:10.0.0.1", port: 1, mode: IPv4, want: "10.0.0.1:1"},
		{name: "literal wrong family", addr: "::1", port: 1, mode: IPv4, err: ErrAddrNotAvailable},
		{name: "port out of range", port: 65536, err: ErrInvalidArgument},
		{name: "negative port", port: -1, err: ErrInvalidArgument},
		{name: "unknown interface", addr: "no-such-iface0", port: 1, err: ErrAddrNotAvailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, err := LocalAddr(tc.addr, tc.port, tc.mode)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, a.String())
		})
	}
}

func TestLocalAddr_Interface(t *testing.T) {
	a, err := LocalAddr("lo", 8080, IPv4)
	if err != nil {
		t.Skipf("no loopback interface: %v", err)
	}
	assert.True(t, a.IP().IsLoopback())
	assert.Equal(t, 8080, a.Port())
}

func TestChooseAddr(t *testing.T) {
	v4 := netip.MustParseAddr("192.0.2.1")
	v6 := netip.MustParseAddr("2001:db8::1")
	both := []netip.Addr{v6, v4}

	for mode, want := range map[IPMode]netip.Addr{
		IPv4:       v4,
		IPv6:       v6,
		PreferIPv4: v4,
		PreferIPv6: v6,
	} {
		got, ok := chooseAddr(both, mode)
		assert.True(t, ok, mode.String())
		assert.Equal(t, want, got, mode.String())
	}

	got, ok := chooseAddr([]netip.Addr{v4}, PreferIPv6)
	assert.True(t, ok)
	assert.Equal(t, v4, got)

	_, ok = chooseAddr([]netip.Addr{v4}, IPv6)
	assert.False(t, ok)
}

func TestRemoteAddr_Literal(t *testing.T) {
	r := newTestRuntime(t)
	runTest(t, r, func() {
		a, err := r.RemoteAddr("127.0.0.1", 5555, IPv4, NoDeadline)
		assert.NoError(t, err)
		assert.Equal(t, "127.0.0.1:5555", a.String())

		_, err = r.RemoteAddr("127.0.0.1", 5555, IPv6, NoDeadline)
		assert.ErrorIs(t, err, ErrAddrNotAvailable)
	})
}

func TestRemoteAddr_Localhost(t *testing.T) {
	r := newTestRuntime(t)
	var (
		a   Addr
		err error
	)
	runTest(t, r, func() {
		a, err = r.RemoteAddr("localhost", 80, PreferIPv4, DeadlineAfter(5*time.Second))
	})
	if err != nil {
		t.Skipf("cannot resolve localhost: %v", err)
	}
	assert.True(t, a.IP().IsLoopback())
	assert.Equal(t, 80, a.Port())
	assert.Zero(t, r.Stats().IOWaits)
}

// TestRemoteAddr_Deadline resolves a name under an already elapsed
// deadline, which must fail without blocking the runtime.
func TestRemoteAddr_Deadline(t *testing.T) {
	r := newTestRuntime(t)
	runTest(t, r, func() {
		_, err := r.RemoteAddr("example.invalid", 80, PreferIPv4, 0)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Zero(t, r.Stats().IOWaits)
	})
}

func TestAddr_Zero(t *testing.T) {
	var a Addr
	assert.False(t, a.IsValid())
	assert.Equal(t, "invalid", a.String())
	b := AddrFrom(netip.MustParseAddrPort("[::ffff:1.2.3.4]:7"))
	assert.True(t, b.Is4())
	assert.Equal(t, "1.2.3.4:7", b.String())
}

func TestIPMode_String(t *testing.T) {
	assert.Equal(t, "PreferIPv6", PreferIPv6.String())
	assert.Equal(t, "IPMode(9)", IPMode(9).String())
}
