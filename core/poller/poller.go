package poller

import "errors"

// ErrWakerClosed is returned by Wake after Close
var ErrWakerClosed = errors.New("poller: waker closed")

// Interest is the set of readiness conditions a descriptor is watched for
type Interest uint8

const (
	// Readable asks for read readiness (and peer shutdown)
	Readable Interest = 1 << iota
	// Writable asks for write readiness
	Writable
	// Exclusive wakes only one waiter per event when several pollers
	// watch the same descriptor. Ignored where unsupported.
	Exclusive
)

// Event is a single readiness notification
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	// Hangup reports an error or a full hangup on the descriptor
	Hangup bool
}

// Poller is the I/O multiplexing interface
type Poller interface {
	Add(fd int, interest Interest) error
	Modify(fd int, interest Interest) error
	Remove(fd int) error
	// Wait blocks for at most timeout milliseconds. An interrupted wait
	// returns no events and no error.
	Wait(timeout int) ([]Event, error)
	Close() error
}
