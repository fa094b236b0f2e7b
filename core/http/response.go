package http

import "strconv"

// ServerName is sent in the Server header of every response
const ServerName = "fast-static/1.0"

const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderConnection    = "Connection"
	HeaderServer        = "Server"
)

// Response is a complete response ready to be serialized
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// ErrorResponse builds the plain-text "<code> <reason>" response used for
// every non-200 status
func ErrorResponse(code int) *Response {
	body := strconv.AppendInt(nil, int64(code), 10)
	body = append(body, ' ')
	body = append(body, StatusText(code)...)
	return &Response{
		Status:      code,
		ContentType: "text/plain",
		Body:        body,
	}
}

// AppendResponse serializes resp onto b. keepAlive selects the value of
// the Connection header and must match what the caller does afterwards.
func AppendResponse(b []byte, resp *Response, keepAlive bool) []byte {
	b = append(b, "HTTP/1.1 "...)
	b = strconv.AppendInt(b, int64(resp.Status), 10)
	b = append(b, ' ')
	b = append(b, StatusText(resp.Status)...)
	b = append(b, "\r\n"...)

	b = appendHeader(b, HeaderContentType, resp.ContentType)

	b = append(b, HeaderContentLength...)
	b = append(b, ": "...)
	b = strconv.AppendInt(b, int64(len(resp.Body)), 10)
	b = append(b, "\r\n"...)

	if keepAlive {
		b = appendHeader(b, HeaderConnection, "keep-alive")
	} else {
		b = appendHeader(b, HeaderConnection, "close")
	}
	b = appendHeader(b, HeaderServer, ServerName)
	b = append(b, "\r\n"...)

	return append(b, resp.Body...)
}

func appendHeader(b []byte, key, value string) []byte {
	b = append(b, key...)
	b = append(b, ": "...)
	b = append(b, value...)
	return append(b, "\r\n"...)
}
