// Package request parses the request line of an inbound HTTP request.
package request

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// DefaultProtocol is used in the status line when the request did not carry a
// recognisable protocol token.
const DefaultProtocol = "HTTP/1.0"

var (
	// ErrMalformed reports a request line that cannot be served.
	ErrMalformed = errors.New("request: malformed request line")
	// ErrMethodNotAllowed reports a well-formed request for a method other than GET.
	ErrMethodNotAllowed = errors.New("request: method not allowed")
)

// Request is the parsed first line of a request.
type Request struct {
	// Method is the first token, as sent.
	Method string
	// Path is the second token, still percent-encoded.
	Path string
	// Protocol is the third token, e.g. "HTTP/1.1".
	Protocol string
}

// Parse tokenizes the first line of buf on whitespace and keeps the first three
// tokens. Anything after them, and every following line, is ignored. When buf
// holds no newline the whole buffer is treated as the first line.
func Parse(buf []byte) (Request, error) {
	line := buf
	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		line = buf[:i]
	}
	fields := strings.Fields(string(line))
	if len(fields) < 3 {
		return Request{}, ErrMalformed
	}
	if !httpguts.ValidHeaderFieldName(fields[0]) {
		return Request{}, ErrMalformed
	}
	return Request{Method: fields[0], Path: fields[1], Protocol: fields[2]}, nil
}

// HasLine reports whether buf already holds a complete first line.
func HasLine(buf []byte) bool {
	return bytes.IndexByte(buf, '\n') >= 0
}

// IsGet reports whether the method is GET, ignoring case.
func (r Request) IsGet() bool {
	return strings.EqualFold(r.Method, "GET")
}

// Check rejects requests the server does not serve: any method other than GET,
// and GET requests whose path is not absolute.
func (r Request) Check() error {
	if !r.IsGet() {
		return ErrMethodNotAllowed
	}
	if !strings.HasPrefix(r.Path, "/") {
		return ErrMalformed
	}
	return nil
}

// ResponseProtocol returns the protocol token to echo in the status line.
func (r Request) ResponseProtocol() string {
	if len(r.Protocol) > len("HTTP/") && strings.EqualFold(r.Protocol[:len("HTTP/")], "HTTP/") {
		return r.Protocol
	}
	return DefaultProtocol
}
