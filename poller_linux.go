//go:build linux

package coro

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IOEvents is a set of descriptor readiness conditions.
type IOEvents uint32

const (
	// EventRead is readiness for reading, or accepting.
	EventRead IOEvents = 1 << iota
	// EventWrite is readiness for writing, or connection completion.
	EventWrite
	// EventError is an error condition. It is only ever reported, and
	// wakes both the reader and the writer.
	EventError
	// EventHangup means the peer closed its end. Like EventError, it wakes
	// both directions.
	EventHangup
)

var errPollerClosed = errors.New("coro: poller closed")

// poller is a level-triggered epoll set. It tracks the interest of each
// descriptor itself, so a single set call can add, change or remove it.
//
// Only whichever party holds control of the runtime touches it.
type poller struct {
	interest map[int]IOEvents
	events   []unix.EpollEvent
	epfd     int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{
		interest: make(map[int]IOEvents),
		events:   make([]unix.EpollEvent, 128),
		epfd:     epfd,
	}, nil
}

// set makes want the interest of fd. Zero removes it from the set.
func (p *poller) set(fd int, want IOEvents) error {
	if p.interest == nil {
		return errPollerClosed
	}
	have, ok := p.interest[fd]
	if want == 0 {
		if !ok {
			return nil
		}
		delete(p.interest, fd)
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	if ok && have == want {
		return nil
	}
	op := unix.EPOLL_CTL_ADD
	if ok {
		op = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: epollMask(want), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return err
	}
	p.interest[fd] = want
	return nil
}

func (p *poller) watching(fd int) bool {
	_, ok := p.interest[fd]
	return ok
}

// wait blocks for up to timeout milliseconds (-1 is unbounded), calling
// ready for each descriptor reported. ready may change the interest set,
// so stale reports for descriptors no longer watched are dropped.
func (p *poller) wait(timeout int, ready func(fd int, ev IOEvents)) (int, error) {
	if p.interest == nil {
		return 0, errPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for _, e := range p.events[:n] {
		fd := int(e.Fd)
		if p.watching(fd) {
			ready(fd, readyEvents(e.Events))
		}
	}
	if n == len(p.events) {
		// the next wait may well be as busy
		p.events = make([]unix.EpollEvent, 2*n)
	}
	return n, nil
}

func (p *poller) close() error {
	if p.interest == nil {
		return nil
	}
	p.interest = nil
	return unix.Close(p.epfd)
}

func epollMask(ev IOEvents) (mask uint32) {
	if ev&EventRead != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev&EventWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func readyEvents(mask uint32) (ev IOEvents) {
	if mask&unix.EPOLLIN != 0 {
		ev |= EventRead
	}
	if mask&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if mask&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if mask&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= EventHangup
	}
	return ev
}
