package http

import "sync"

// Request is a parsed HTTP/1.x request head
type Request struct {
	Method string
	// Path is the raw request target, query string included
	Path  string
	Proto string

	// KeepAlive is set when the head carries "Connection: keep-alive"
	KeepAlive bool

	// HeaderLen is the number of buffer bytes consumed by the head,
	// terminator included
	HeaderLen int
}

var requestPool = sync.Pool{
	New: func() any {
		return &Request{}
	},
}

func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// Reset clears the request for reuse
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.Proto = ""
	r.KeepAlive = false
	r.HeaderLen = 0
}

func ReleaseRequest(req *Request) {
	req.Reset()
	requestPool.Put(req)
}
