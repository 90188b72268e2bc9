//go:build linux

package coro

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// createWakeFd creates a non-blocking eventfd, used to wake the poller from
// other goroutines (context cancellation, off-runtime name resolution).
func createWakeFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

// signalWakeFd increments the eventfd counter, making it readable. It is
// safe to call from any goroutine.
func signalWakeFd(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			// counter saturated, already readable
			return nil
		}
		return err
	}
}

// drainWakeFd resets the eventfd counter.
func drainWakeFd(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}
