package core

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-static/core/http"
	"github.com/searchktools/fast-static/core/poller"
	"github.com/searchktools/fast-static/core/static"
)

// Connection states
type connState int

const (
	// waiting for (the rest of) a request head
	stateAwaitingHeaders connState = iota
	// file read in flight on the pool; not registered with the poller
	stateDispatched
	// response partially sent, waiting for writability
	stateWriting
)

// outBufRetain bounds the output buffer kept between keep-alive requests
const outBufRetain = 64 << 10

// Connection is one accepted socket and its request/response progress
type Connection struct {
	fd    int
	peer  string
	state connState

	// receive buffer, grown tier by tier up to MaxHeaderBytes;
	// buf[:n] holds unparsed bytes
	buf []byte
	n   int

	// pending response; out[sent:] is still to be written
	out        []byte
	sent       int
	status     int
	keepAlive  bool
	closeAfter bool

	lastActive time.Time
	reqStart   time.Time
}

// handleRead reads what the peer sent and processes any complete head
func (e *Engine) handleRead(c *Connection) {
	n, err := unix.Read(c.fd, c.buf[c.n:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		e.log.Debug("read failed", "peer", c.peer, "err", err)
		e.closeConnection(c)
		return
	}
	if n == 0 {
		e.closeConnection(c)
		return
	}

	c.n += n
	c.lastActive = time.Now()
	e.processBuffer(c)
}

// processBuffer parses one request head from the buffer and starts
// answering it. Incomplete heads stay buffered until more bytes arrive,
// the buffer cannot grow any further, or the idle sweep gives up on the peer.
func (e *Engine) processBuffer(c *Connection) {
	req, err := http.ParseRequest(c.buf[:c.n])
	if err != nil {
		if errors.Is(err, http.ErrIncompleteRequest) {
			if c.n < len(c.buf) {
				return
			}
			buf, ok := e.bytePool.Grow(c.buf, c.n)
			if !ok {
				e.log.Debug("request head too large", "peer", c.peer, "limit", len(c.buf))
				e.closeConnection(c)
				return
			}
			c.buf = buf
			return
		}
		c.reqStart = time.Now()
		e.respond(c, http.ErrorResponse(http.StatusBadRequest), false)
		return
	}

	// Keep whatever follows the head for the next request
	c.n = copy(c.buf, c.buf[req.HeaderLen:c.n])
	c.reqStart = time.Now()

	method, target, keepAlive := req.Method, req.Path, req.KeepAlive
	http.ReleaseRequest(req)

	e.log.Debug("request", "peer", c.peer, "method", method, "path", target, "keep_alive", keepAlive)

	if method != "GET" {
		e.respond(c, http.ErrorResponse(http.StatusNotImplemented), false)
		return
	}
	e.dispatch(c, target, keepAlive)
}

// dispatch resolves target inline or on the file pool
func (e *Engine) dispatch(c *Connection, target string, keepAlive bool) {
	c.keepAlive = keepAlive

	if e.filePool == nil {
		e.respond(c, e.serve(target), keepAlive)
		return
	}

	if err := e.poller.Remove(c.fd); err != nil {
		e.log.Warn("unwatch connection failed", "err", err)
		e.closeConnection(c)
		return
	}
	c.state = stateDispatched

	if !e.filePool.Submit(func() { e.complete(c, e.serve(target)) }) {
		// pool already closed: we are shutting down
		e.closeConnection(c)
	}
}

// serve maps a GET target to a response. Safe to call from pool goroutines.
func (e *Engine) serve(target string) *http.Response {
	f, err := e.resolver.Resolve(target)
	switch {
	case err == nil:
		return &http.Response{Status: http.StatusOK, ContentType: f.ContentType, Body: f.Body}
	case errors.Is(err, static.ErrForbidden):
		return http.ErrorResponse(http.StatusForbidden)
	case errors.Is(err, static.ErrNotFound):
		return http.ErrorResponse(http.StatusNotFound)
	default:
		e.log.Error("serve file", "path", target, "err", err)
		return http.ErrorResponse(http.StatusInternalServerError)
	}
}

// respond serializes resp and starts sending it. Only a successful
// response to a request that asked for keep-alive keeps the connection.
func (e *Engine) respond(c *Connection, resp *http.Response, keepAlive bool) {
	keepAlive = keepAlive && resp.Status == http.StatusOK

	c.out = http.AppendResponse(c.out[:0], resp, keepAlive)
	c.sent = 0
	c.status = resp.Status
	c.closeAfter = !keepAlive

	e.flush(c)
}

// flush writes as much of the pending response as the socket takes
func (e *Engine) flush(c *Connection) {
	for c.sent < len(c.out) {
		n, err := unix.Write(c.fd, c.out[c.sent:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				if c.state != stateWriting {
					c.state = stateWriting
					if err := e.poller.Modify(c.fd, poller.Writable); err != nil {
						e.closeConnection(c)
						return
					}
				}
				return
			}
			e.log.Debug("write failed", "peer", c.peer, "err", err)
			e.closeConnection(c)
			return
		}
		c.sent += n
		c.lastActive = time.Now()
	}

	e.monitor.RecordRequest(c.status, len(c.out), time.Since(c.reqStart))

	if c.closeAfter {
		e.closeConnection(c)
		return
	}

	wasWriting := c.state == stateWriting
	c.state = stateAwaitingHeaders
	c.lastActive = time.Now()
	if cap(c.out) > outBufRetain {
		c.out = nil
	}

	if wasWriting {
		if err := e.poller.Modify(c.fd, poller.Readable); err != nil {
			e.closeConnection(c)
			return
		}
	}

	// A pipelined request may already be waiting in the buffer
	if c.n > 0 {
		e.processBuffer(c)
	}
}
