//go:build darwin

package poller

import (
	"golang.org/x/sys/unix"
)

const maxEvents = 1024

// KqueuePoller is a kqueue-based I/O multiplexer
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
}

// NewPoller creates a new Poller (macOS)
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kqfd)

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, maxEvents),
	}, nil
}

func (p *KqueuePoller) change(fd int, filter int16, flags uint16) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// set registers or drops each filter. Deleting a filter that was never
// added reports ENOENT, which is the state we want anyway.
func (p *KqueuePoller) set(fd int, interest Interest) error {
	filters := []struct {
		filter int16
		want   bool
	}{
		{unix.EVFILT_READ, interest&Readable != 0},
		{unix.EVFILT_WRITE, interest&Writable != 0},
	}
	for _, f := range filters {
		flags := uint16(unix.EV_DELETE)
		if f.want {
			// level-triggered (no EV_CLEAR)
			flags = unix.EV_ADD | unix.EV_ENABLE
		}
		if err := p.change(fd, f.filter, flags); err != nil && err != unix.ENOENT {
			return err
		}
	}
	return nil
}

// Add adds a file descriptor to the watch list
func (p *KqueuePoller) Add(fd int, interest Interest) error {
	return p.set(fd, interest)
}

// Modify replaces the interest set of a watched descriptor
func (p *KqueuePoller) Modify(fd int, interest Interest) error {
	return p.set(fd, interest)
}

// Remove removes a file descriptor from the watch list
func (p *KqueuePoller) Remove(fd int) error {
	return p.set(fd, 0)
}

// Wait waits for I/O events
func (p *KqueuePoller) Wait(timeout int) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
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
		kev := p.events[i]
		ev := Event{Fd: int(kev.Ident)}
		switch kev.Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			ev.Hangup = true
		}
		events = append(events, ev)
	}

	return events, nil
}

// Close closes the Poller
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
