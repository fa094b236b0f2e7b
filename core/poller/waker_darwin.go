//go:build darwin

package poller

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Waker lets other goroutines interrupt a blocked Wait. Register Fd()
// as Readable and call Drain when it fires.
type Waker struct {
	mu     sync.RWMutex
	r, w   int
	closed bool
}

// NewWaker creates a self-pipe Waker
func NewWaker() (*Waker, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, err
		}
	}
	return &Waker{r: fds[0], w: fds[1]}, nil
}

// Fd returns the descriptor to register with a Poller
func (w *Waker) Fd() int { return w.r }

// Wake makes Fd readable. Safe for concurrent use, including with Close.
func (w *Waker) Wake() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWakerClosed
	}

	_, err := unix.Write(w.w, []byte{1})
	if err == unix.EAGAIN {
		// pipe full, still readable
		return nil
	}
	return err
}

// Drain resets the readiness of Fd
func (w *Waker) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close releases both pipe ends. It waits for in-flight Wake calls and
// may be called more than once.
func (w *Waker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	unix.Close(w.w)
	return unix.Close(w.r)
}
