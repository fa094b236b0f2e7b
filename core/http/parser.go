package http

import (
	"bytes"
	"errors"

	"golang.org/x/net/http/httpguts"
)

var (
	// ErrIncompleteRequest means the buffer holds no complete header block
	ErrIncompleteRequest = errors.New("incomplete HTTP request")
	// ErrMalformedRequestLine means the request line is not METHOD TARGET VERSION
	ErrMalformedRequestLine = errors.New("malformed HTTP request line")
)

var keepAliveHeader = []byte("Connection: keep-alive")

// headerEnd returns the offset just past the blank line ending the head,
// or -1 when the head is not terminated yet.
func headerEnd(data []byte) int {
	crlf := bytes.Index(data, []byte("\r\n\r\n"))
	lf := bytes.Index(data, []byte("\n\n"))
	switch {
	case crlf == -1 && lf == -1:
		return -1
	case lf == -1 || (crlf != -1 && crlf < lf):
		return crlf + 4
	default:
		return lf + 2
	}
}

// ParseRequest parses the request head at the start of data.
//
// Only the request line is tokenized. The keep-alive hint is a literal,
// case-sensitive match of "Connection: keep-alive" inside the head; other
// headers are not interpreted.
func ParseRequest(data []byte) (*Request, error) {
	end := headerEnd(data)
	if end == -1 {
		return nil, ErrIncompleteRequest
	}
	head := data[:end]

	line := head
	if i := bytes.IndexByte(head, '\n'); i != -1 {
		line = head[:i]
	}

	fields := bytes.Fields(line)
	if len(fields) < 3 {
		return nil, ErrMalformedRequestLine
	}

	method := string(fields[0])
	// Methods share the header field-name grammar (RFC 9110 token)
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, ErrMalformedRequestLine
	}

	req := AcquireRequest()
	req.Method = method
	req.Path = string(fields[1])
	req.Proto = string(fields[2])
	req.KeepAlive = bytes.Contains(head, keepAliveHeader)
	req.HeaderLen = end

	return req, nil
}
