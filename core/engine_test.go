//go:build linux

package core

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/fast-static/core/static"
)

const welcome = "<!DOCTYPE html>\n<h1>Welcome</h1>\n"

// startEngine runs an engine on a fresh loopback listener and returns its address
func startEngine(t *testing.T, opts Options) (string, *Engine) {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"index.html":      welcome,
		"app.js":          "console.log(1)",
		"data.xyz":        "opaque",
		"docs/readme.txt": "read me",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), make([]byte, 4<<20), 0o644))

	resolver, err := static.NewResolver(root)
	require.NoError(t, err)

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	lnFile, err := ln.File()
	require.NoError(t, err)

	if opts.PollTimeout == 0 {
		opts.PollTimeout = 50 * time.Millisecond
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(resolver, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, int(lnFile.Fd())) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
		lnFile.Close()
		ln.Close()
	})

	return ln.Addr().String(), e
}

// roundTrip sends raw and returns everything the server wrote before closing
func roundTrip(t *testing.T, addr, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)

	// A peer closed with unread input answers with a reset
	out, err := io.ReadAll(conn)
	if !errors.Is(err, syscall.ECONNRESET) {
		require.NoError(t, err)
	}
	return string(out)
}

func get(t *testing.T, addr, path string) *nethttp.Response {
	t.Helper()
	raw := roundTrip(t, addr, "GET "+path+" HTTP/1.1\r\nHost: test\r\n\r\n")
	resp, err := nethttp.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	require.NoError(t, err)
	return resp
}

func body(t *testing.T, resp *nethttp.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestEngineServesIndex(t *testing.T) {
	addr, _ := startEngine(t, Options{})

	resp := get(t, addr, "/")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	assert.True(t, resp.Close, "Connection: close")
	assert.NotEmpty(t, resp.Header.Get("Server"))
	assert.Equal(t, welcome, body(t, resp))
}

func TestEngineContentLengthMatchesBody(t *testing.T) {
	addr, _ := startEngine(t, Options{})

	for _, path := range []string{"/", "/app.js", "/docs/readme.txt", "/big.bin", "/missing"} {
		resp := get(t, addr, path)
		b := body(t, resp)
		assert.Equal(t, strconv.Itoa(len(b)), resp.Header.Get("Content-Length"), path)
	}
}

func TestEngineContentTypes(t *testing.T) {
	addr, _ := startEngine(t, Options{})

	assert.Equal(t, "application/javascript", get(t, addr, "/app.js").Header.Get("Content-Type"))
	assert.Equal(t, "application/octet-stream", get(t, addr, "/data.xyz").Header.Get("Content-Type"))
}

func TestEngineErrorStatuses(t *testing.T) {
	addr, _ := startEngine(t, Options{})

	resp := get(t, addr, "/nope.html")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, body(t, resp))

	for _, path := range []string{"/../etc/passwd", "/docs/../index.html", "/..%2f", "/index.html?x=..", "/?../../etc/passwd", "/app.js#.."} {
		resp := get(t, addr, path)
		assert.Equal(t, 403, resp.StatusCode, path)
		assert.True(t, resp.Close, "Connection: close")
	}
}

func TestEngineNonGETIsNotImplemented(t *testing.T) {
	addr, _ := startEngine(t, Options{})

	// ReadAll returning means the server closed the connection
	raw := roundTrip(t, addr, "POST / HTTP/1.1\r\nHost: test\r\nConnection: keep-alive\r\nContent-Length: 0\r\n\r\n")
	resp, err := nethttp.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	require.NoError(t, err)
	assert.Equal(t, 501, resp.StatusCode)
	assert.True(t, resp.Close, "Connection: close")
}

func TestEngineMalformedRequestLine(t *testing.T) {
	addr, _ := startEngine(t, Options{})

	raw := roundTrip(t, addr, "GARBAGE\r\n\r\n")
	assert.True(t, strings.HasPrefix(raw, "HTTP/1.1 400 Bad Request\r\n"), raw)
}

func TestEngineUnterminatedHeadClosesSilently(t *testing.T) {
	addr, _ := startEngine(t, Options{IdleTimeout: 200 * time.Millisecond})

	start := time.Now()
	raw := roundTrip(t, addr, "GET / HTTP/1.1\r\nHost: test\r\n")
	assert.Empty(t, raw)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestEngineOversizedHeadClosesSilently(t *testing.T) {
	addr, _ := startEngine(t, Options{MaxHeaderBytes: 512})

	raw := roundTrip(t, addr, "GET / HTTP/1.1\r\nX-Pad: "+strings.Repeat("a", 1024))
	assert.Empty(t, raw)
}

func TestEngineLargeHeadWithinLimit(t *testing.T) {
	addr, _ := startEngine(t, Options{MaxHeaderBytes: 4096})

	raw := roundTrip(t, addr, "GET /app.js HTTP/1.1\r\nX-Pad: "+strings.Repeat("a", 3000)+"\r\n\r\n")
	resp, err := nethttp.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "console.log(1)", body(t, resp))
}

func TestEngineHeadSplitAcrossWrites(t *testing.T) {
	addr, _ := startEngine(t, Options{})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, "GET /app.js HTTP/1.1\r\nHo")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	_, err = io.WriteString(conn, "st: test\r\n\r\n")
	require.NoError(t, err)

	resp, err := nethttp.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "console.log(1)", body(t, resp))
}

func TestEngineKeepAlive(t *testing.T) {
	addr, e := startEngine(t, Options{})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	r := bufio.NewReader(conn)

	for _, path := range []string{"/", "/app.js"} {
		_, err := io.WriteString(conn, "GET "+path+" HTTP/1.1\r\nHost: test\r\nConnection: keep-alive\r\n\r\n")
		require.NoError(t, err)

		resp, err := nethttp.ReadResponse(r, nil)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.False(t, resp.Close)
		assert.Equal(t, "keep-alive", resp.Header.Get("Connection"))
		body(t, resp)
	}

	// an error ends the connection even when keep-alive was asked for
	_, err = io.WriteString(conn, "GET /missing HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	require.NoError(t, err)
	resp, err := nethttp.ReadResponse(r, nil)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.True(t, resp.Close, "Connection: close")
	body(t, resp)

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)

	assert.Eventually(t, func() bool {
		return e.Monitor().Snapshot().Requests == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnginePipelinedRequests(t *testing.T) {
	addr, _ := startEngine(t, Options{})

	raw := roundTrip(t, addr,
		"GET /app.js HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"+
			"GET /docs/readme.txt HTTP/1.1\r\n\r\n")

	r := bufio.NewReader(strings.NewReader(raw))
	first, err := nethttp.ReadResponse(r, nil)
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", body(t, first))

	second, err := nethttp.ReadResponse(r, nil)
	require.NoError(t, err)
	assert.Equal(t, "read me", body(t, second))
	assert.True(t, second.Close, "Connection: close")
}

func TestEngineFilePool(t *testing.T) {
	addr, _ := startEngine(t, Options{FileWorkers: 2})

	resp := get(t, addr, "/")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, welcome, body(t, resp))

	resp = get(t, addr, "/big.bin")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Len(t, body(t, resp), 4<<20)

	assert.Equal(t, 404, get(t, addr, "/missing").StatusCode)
	assert.Equal(t, 403, get(t, addr, "/../x").StatusCode)
}

func TestEngineConcurrentClients(t *testing.T) {
	addr, e := startEngine(t, Options{FileWorkers: 4})

	const clients = 32
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		go func() {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(5 * time.Second))
			if _, err := io.WriteString(conn, "GET / HTTP/1.1\r\n\r\n"); err != nil {
				errs <- err
				return
			}
			resp, err := nethttp.ReadResponse(bufio.NewReader(conn), nil)
			if err == nil && resp.StatusCode != 200 {
				err = io.ErrUnexpectedEOF
			}
			errs <- err
		}()
	}
	for i := 0; i < clients; i++ {
		assert.NoError(t, <-errs)
	}

	assert.Eventually(t, func() bool {
		s := e.Monitor().Snapshot()
		return s.Accepted == clients && s.Statuses[200] == clients
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineConnectionLimit(t *testing.T) {
	addr, e := startEngine(t, Options{MaxConnections: 1})

	held, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer held.Close()
	require.Eventually(t, func() bool {
		return e.Monitor().Snapshot().Accepted == 1
	}, 2*time.Second, 10*time.Millisecond)

	raw := roundTrip(t, addr, "")
	assert.Empty(t, raw)
	assert.Equal(t, uint64(1), e.Monitor().Snapshot().Rejected)
}
