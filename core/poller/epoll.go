//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

const maxEvents = 1024

// EpollPoller is an epoll-based I/O multiplexer
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates a new Poller (Linux)
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Level-triggered throughout; EPOLLRDHUP reports peer shutdown as readable.
// The kernel accepts EPOLLEXCLUSIVE only alongside EPOLLIN/EPOLLOUT, so an
// exclusive registration goes without EPOLLRDHUP.
func epollEvents(interest Interest) uint32 {
	var ev uint32
	if interest&Readable != 0 {
		ev |= unix.EPOLLIN
		if interest&Exclusive == 0 {
			ev |= unix.EPOLLRDHUP
		}
	}
	if interest&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	if interest&Exclusive != 0 {
		ev |= unix.EPOLLEXCLUSIVE
	}
	return ev
}

// Add adds a file descriptor to the watch list
func (p *EpollPoller) Add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify replaces the interest set of a watched descriptor
func (p *EpollPoller) Modify(fd int, interest Interest) error {
	// EPOLLEXCLUSIVE may only be given on ADD
	ev := unix.EpollEvent{Events: epollEvents(interest &^ Exclusive), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove removes a file descriptor from the watch list
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for I/O events
func (p *EpollPoller) Wait(timeout int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	if n <= 0 {
		return nil, nil
	}

	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		raw := p.events[i].Events
		events = append(events, Event{
			Fd:       int(p.events[i].Fd),
			Readable: raw&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: raw&unix.EPOLLOUT != 0,
			Hangup:   raw&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}

	return events, nil
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}
