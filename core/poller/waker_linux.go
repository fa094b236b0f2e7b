//go:build linux

package poller

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// Waker lets other goroutines interrupt a blocked Wait. Register Fd()
// as Readable and call Drain when it fires.
type Waker struct {
	mu     sync.RWMutex
	efd    int
	closed bool
}

// NewWaker creates an eventfd-backed Waker
func NewWaker() (*Waker, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Waker{efd: efd}, nil
}

// Fd returns the descriptor to register with a Poller
func (w *Waker) Fd() int { return w.efd }

// Wake makes Fd readable. Safe for concurrent use, including with Close.
func (w *Waker) Wake() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWakerClosed
	}

	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(w.efd, one[:])
	if err == unix.EAGAIN {
		// counter saturated, still readable
		return nil
	}
	return err
}

// Drain resets the readiness of Fd
func (w *Waker) Drain() {
	var buf [8]byte
	unix.Read(w.efd, buf[:])
}

// Close releases the descriptor. It waits for in-flight Wake calls and
// may be called more than once.
func (w *Waker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return unix.Close(w.efd)
}
