//go:build linux

package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

// DefaultMaxEvents is the size of the ready-event array.
const DefaultMaxEvents = 1024

// EpollPoller is an epoll-based I/O multiplexer
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates a new Poller (Linux)
func NewPoller(maxEvents int) (*EpollPoller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Add adds a file descriptor to the watch list
func (p *EpollPoller) Add(fd int, events Event) error {
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify replaces the interest set of fd; for one-shot registrations it re-arms fd.
func (p *EpollPoller) Modify(fd int, events Event) error {
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove removes a file descriptor from the watch list
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for I/O events
func (p *EpollPoller) Wait(timeout int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// EventFd returns the descriptor of the i-th ready event.
func (p *EpollPoller) EventFd(i int) int {
	return int(p.events[i].Fd)
}

// Events returns the readiness mask of the i-th ready event.
func (p *EpollPoller) Events(i int) Event {
	return fromEpoll(p.events[i].Events)
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}

func toEpoll(e Event) uint32 {
	var ev uint32
	if e&EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if e&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if e&EventPeerHangup != 0 {
		ev |= unix.EPOLLRDHUP
	}
	if e&EventOneShot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	if e&EventEdge != 0 {
		ev |= unix.EPOLLET
	}
	return ev
}

func fromEpoll(ev uint32) Event {
	var e Event
	if ev&unix.EPOLLIN != 0 {
		e |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		e |= EventWrite
	}
	if ev&unix.EPOLLRDHUP != 0 {
		e |= EventPeerHangup
	}
	if ev&unix.EPOLLHUP != 0 {
		e |= EventHangup
	}
	if ev&unix.EPOLLERR != 0 {
		e |= EventError
	}
	return e
}
