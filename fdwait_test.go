//go:build linux

package coro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testPipe(t *testing.T) (rfd, wfd int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("Pipe2 failed: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestWaitFD_Readable(t *testing.T) {
	r := newTestRuntime(t)
	rfd, wfd := testPipe(t)
	runTest(t, r, func() {
		_ = r.Go(func() {
			r.Sleep(10 * time.Millisecond)
			_, _ = unix.Write(wfd, []byte("x"))
		})
		events, err := r.WaitFD(rfd, EventRead, DeadlineAfter(5*time.Second))
		assert.NoError(t, err)
		assert.NotZero(t, events&EventRead)
		s := r.Stats()
		assert.Zero(t, s.IOWaits)
		assert.False(t, r.poller.watching(rfd))
	})
}

func TestWaitFD_Timeout(t *testing.T) {
	r := newTestRuntime(t)
	rfd, _ := testPipe(t)
	runTest(t, r, func() {
		deadline := DeadlineAfter(20 * time.Millisecond)
		_, err := r.WaitFD(rfd, EventRead, deadline)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, Now(), deadline)
		assert.Zero(t, r.Stats().IOWaits)
		assert.False(t, r.poller.watching(rfd))

		_, err = r.WaitFD(rfd, EventRead, 0)
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func TestWaitFD_ReaderAndWriter(t *testing.T) {
	r := newTestRuntime(t)
	rfd, wfd := testPipe(t)
	runTest(t, r, func() {
		// wfd is immediately writable, rfd becomes readable once written
		var readEvents IOEvents
		_ = r.Go(func() {
			readEvents, _ = r.WaitFD(rfd, EventRead, NoDeadline)
		})
		r.Yield()
		events, err := r.WaitFD(wfd, EventWrite, NoDeadline)
		assert.NoError(t, err)
		assert.Equal(t, EventWrite, events)
		_, _ = unix.Write(wfd, []byte("x"))
		r.Sleep(5 * time.Millisecond)
		assert.Equal(t, EventRead, readEvents)
	})
}

func TestWaitFD_DoubleWaitPanics(t *testing.T) {
	r := newTestRuntime(t)
	rfd, _ := testPipe(t)
	runTest(t, r, func() {
		_ = r.Go(func() {
			_, _ = r.WaitFD(rfd, EventRead, DeadlineAfter(50*time.Millisecond))
		})
		r.Yield()
		assert.PanicsWithValue(t, errDoubleWait, func() {
			_, _ = r.WaitFD(rfd, EventRead, NoDeadline)
		})
		assert.PanicsWithValue(t, errCleanBlocked, func() { r.CleanFD(rfd) })
		r.Sleep(60 * time.Millisecond)
		assert.NotPanics(t, func() { r.CleanFD(rfd) })
	})
}

func TestWaitFD_Hangup(t *testing.T) {
	r := newTestRuntime(t)
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer func() { _ = unix.Close(p[0]) }()
	runTest(t, r, func() {
		_ = r.Go(func() { _ = unix.Close(p[1]) })
		events, err := r.WaitFD(p[0], EventRead, DeadlineAfter(5*time.Second))
		assert.NoError(t, err)
		assert.NotZero(t, events&EventHangup)
	})
}

func TestWaitFD_InvalidArgument(t *testing.T) {
	r := newTestRuntime(t)
	runTest(t, r, func() {
		_, err := r.WaitFD(-1, EventRead, NoDeadline)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = r.WaitFD(0, EventError, NoDeadline)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestPoller_EventConversion(t *testing.T) {
	assert.Equal(t, uint32(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLOUT), epollMask(EventRead|EventWrite))
	assert.Equal(t, uint32(unix.EPOLLOUT), epollMask(EventWrite|EventError))
	assert.Equal(t, EventRead|EventHangup, readyEvents(unix.EPOLLIN|unix.EPOLLRDHUP))
	assert.Equal(t, EventError, readyEvents(unix.EPOLLERR))
}

func TestPoller_Set(t *testing.T) {
	p, err := newPoller()
	require.NoError(t, err)
	defer func() { _ = p.close() }()
	rfd, wfd := testPipe(t)

	require.NoError(t, p.set(rfd, 0), "removing an unwatched fd")
	require.NoError(t, p.set(rfd, EventRead))
	assert.True(t, p.watching(rfd))
	require.NoError(t, p.set(rfd, EventRead|EventWrite))
	assert.Error(t, p.set(-1, EventRead))

	_, err = unix.Write(wfd, []byte{1})
	require.NoError(t, err)
	var got []int
	n, err := p.wait(1000, func(fd int, ev IOEvents) {
		got = append(got, fd)
		assert.Equal(t, EventRead, ev&EventRead)
		// removal during dispatch
		assert.NoError(t, p.set(fd, 0))
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{rfd}, got)
	assert.False(t, p.watching(rfd))

	require.NoError(t, p.close())
	_, err = p.wait(0, nil)
	assert.ErrorIs(t, err, errPollerClosed)
	assert.ErrorIs(t, p.set(rfd, EventRead), errPollerClosed)
}

func TestWakeFd(t *testing.T) {
	fd, err := createWakeFd()
	require.NoError(t, err)
	defer func() { _ = unix.Close(fd) }()

	require.NoError(t, signalWakeFd(fd))
	require.NoError(t, signalWakeFd(fd))
	drainWakeFd(fd)

	var buf [8]byte
	_, err = unix.Read(fd, buf[:])
	assert.ErrorIs(t, err, unix.EAGAIN)
}

func TestClose_ForgetsAbandonedWaiters(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	rfd, _ := testPipe(t)
	require.NoError(t, r.Run(context.Background(), func() {
		_ = r.Go(func() { _, _ = r.WaitFD(rfd, EventRead, NoDeadline) })
		r.Yield()
	}))
	assert.Panics(t, func() { r.CleanFD(rfd) })
	require.NoError(t, r.Close())
	assert.NotPanics(t, func() { r.CleanFD(rfd) })
}
