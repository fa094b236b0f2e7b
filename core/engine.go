package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-static/core/http"
	"github.com/searchktools/fast-static/core/observability"
	"github.com/searchktools/fast-static/core/poller"
	"github.com/searchktools/fast-static/core/pools"
	"github.com/searchktools/fast-static/core/static"
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	PollTimeout    time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxConnections int

	// FileWorkers > 0 moves file reads onto a pool of that many
	// goroutines; 0 reads files on the event loop.
	FileWorkers int

	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.MaxHeaderBytes <= 0 {
		o.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// completion is a response produced off the loop for a dispatched connection
type completion struct {
	conn *Connection
	resp *http.Response
}

// Engine is one worker's event loop: a private poller, the connections it
// accepted, and the handler that serves them. All connection state is
// owned by the goroutine running Run.
type Engine struct {
	opts     Options
	resolver *static.Resolver
	log      *slog.Logger

	poller      poller.Poller
	waker       *poller.Waker
	connections map[int]*Connection

	bytePool *pools.BytePool
	filePool *pools.WorkerPool
	monitor  *observability.Monitor

	doneMu sync.Mutex
	done   []completion
}

// NewEngine creates an engine serving files through resolver
func NewEngine(resolver *static.Resolver, opts Options) *Engine {
	opts.setDefaults()
	return &Engine{
		opts:        opts,
		resolver:    resolver,
		log:         opts.Logger,
		connections: make(map[int]*Connection, 1024),
		bytePool:    pools.NewBytePool(opts.MaxHeaderBytes),
		monitor:     observability.NewMonitor(),
	}
}

// Monitor returns the engine's counters
func (e *Engine) Monitor() *observability.Monitor { return e.monitor }

// Run serves connections accepted from the listening descriptor lfd until
// ctx is cancelled. lfd is borrowed: Run never closes it.
func (e *Engine) Run(ctx context.Context, lfd int) error {
	if err := unix.SetNonblock(lfd, true); err != nil {
		return fmt.Errorf("listener nonblock: %w", err)
	}

	p, err := poller.NewPoller()
	if err != nil {
		return fmt.Errorf("create poller: %w", err)
	}
	e.poller = p
	defer p.Close()

	w, err := poller.NewWaker()
	if err != nil {
		return fmt.Errorf("create waker: %w", err)
	}
	e.waker = w
	defer w.Close()

	if err := p.Add(lfd, poller.Readable|poller.Exclusive); err != nil {
		return fmt.Errorf("watch listener: %w", err)
	}
	if err := p.Add(w.Fd(), poller.Readable); err != nil {
		return fmt.Errorf("watch waker: %w", err)
	}

	if e.opts.FileWorkers > 0 {
		e.filePool = pools.NewWorkerPool(e.opts.FileWorkers, 0)
	}

	// Cancellation also interrupts a blocked Wait
	stop := context.AfterFunc(ctx, func() { w.Wake() })
	defer stop()

	timeout := int(e.opts.PollTimeout / time.Millisecond)
	sweepEvery := min(max(e.opts.IdleTimeout/2, minSweepInterval), maxSweepInterval)
	lastSweep := time.Now()

	e.log.Info("event loop started", "poll_timeout", e.opts.PollTimeout, "file_workers", e.opts.FileWorkers)

	var runErr error
	for ctx.Err() == nil {
		events, err := p.Wait(timeout)
		if err != nil {
			runErr = fmt.Errorf("poll wait: %w", err)
			break
		}

		for _, ev := range events {
			switch ev.Fd {
			case lfd:
				e.acceptConnections(lfd)
			case w.Fd():
				e.applyCompletions()
			default:
				e.handleConnectionEvent(ev)
			}
		}

		if now := time.Now(); now.Sub(lastSweep) >= sweepEvery {
			e.sweepIdle(now)
			lastSweep = now
		}
	}

	e.shutdown()
	return runErr
}

// shutdown abandons open connections. In-flight file reads finish first so
// no pool goroutine outlives the loop.
func (e *Engine) shutdown() {
	if e.filePool != nil {
		e.filePool.Close()
	}
	stats := e.Stats()
	for _, c := range e.connections {
		e.closeConnection(c)
	}
	e.log.Info("event loop stopped", "stats", stats)
}

// acceptConnections drains the accept queue
func (e *Engine) acceptConnections(lfd int) {
	for {
		nfd, sa, err := unix.Accept(lfd)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			}
			e.log.Warn("accept failed", "err", err)
			return
		}
		unix.CloseOnExec(nfd)

		if len(e.connections) >= e.opts.MaxConnections {
			unix.Close(nfd)
			e.monitor.ConnRejected()
			e.log.Warn("connection limit reached", "limit", e.opts.MaxConnections)
			continue
		}

		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}

		// TCP_NODELAY: Disable Nagle's algorithm
		unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		conn := &Connection{
			fd:         nfd,
			peer:       peerString(sa),
			state:      stateAwaitingHeaders,
			buf:        e.bytePool.Get(),
			lastActive: time.Now(),
		}

		if err := e.poller.Add(nfd, poller.Readable); err != nil {
			e.log.Warn("watch connection failed", "err", err)
			e.bytePool.Put(conn.buf)
			unix.Close(nfd)
			continue
		}

		e.connections[nfd] = conn
		e.monitor.ConnAccepted()
		e.log.Debug("connection accepted", "peer", conn.peer, "fd", nfd)
	}
}

// handleConnectionEvent routes a readiness event to its connection
func (e *Engine) handleConnectionEvent(ev poller.Event) {
	c, ok := e.connections[ev.Fd]
	if !ok {
		return
	}

	switch c.state {
	case stateAwaitingHeaders:
		e.handleRead(c)
	case stateWriting:
		if ev.Hangup && !ev.Writable {
			e.closeConnection(c)
			return
		}
		e.flush(c)
	}
}

// complete queues resp for c and wakes the loop. Called from pool goroutines.
func (e *Engine) complete(c *Connection, resp *http.Response) {
	e.doneMu.Lock()
	e.done = append(e.done, completion{conn: c, resp: resp})
	e.doneMu.Unlock()

	if err := e.waker.Wake(); err != nil {
		e.log.Error("wake event loop", "err", err)
	}
}

// applyCompletions re-arms dispatched connections and writes their responses
func (e *Engine) applyCompletions() {
	e.waker.Drain()

	e.doneMu.Lock()
	done := e.done
	e.done = nil
	e.doneMu.Unlock()

	for _, d := range done {
		c := d.conn
		if e.connections[c.fd] != c {
			continue
		}
		if err := e.poller.Add(c.fd, poller.Readable); err != nil {
			e.log.Warn("rewatch connection failed", "err", err)
			e.closeConnection(c)
			continue
		}
		c.state = stateAwaitingHeaders
		e.respond(c, d.resp, c.keepAlive)
	}
}

// sweepIdle closes connections that made no progress within IdleTimeout.
// Dispatched connections are waiting on the pool, not on the peer.
func (e *Engine) sweepIdle(now time.Time) {
	for _, c := range e.connections {
		if c.state == stateDispatched {
			continue
		}
		if now.Sub(c.lastActive) > e.opts.IdleTimeout {
			e.log.Debug("closing idle connection", "peer", c.peer, "buffered", c.n)
			e.closeConnection(c)
		}
	}
}

// closeConnection closes and forgets a connection
func (e *Engine) closeConnection(c *Connection) {
	if e.connections[c.fd] != c {
		return
	}
	delete(e.connections, c.fd)

	if c.state != stateDispatched {
		e.poller.Remove(c.fd)
	}
	unix.Close(c.fd)

	if c.buf != nil {
		e.bytePool.Put(c.buf)
		c.buf = nil
	}
	e.monitor.ConnClosed()
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrUnix:
		return a.Name
	}
	return "unknown"
}
