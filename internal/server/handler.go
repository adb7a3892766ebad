package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/f4ah6o/statichttpd/internal/request"
	"github.com/f4ah6o/statichttpd/internal/resolve"
	"github.com/f4ah6o/statichttpd/internal/response"
)

// outcome records what servicing one request produced.
type outcome struct {
	Request request.Request
	Status  int
	// Bytes counts body bytes written.
	Bytes int64
	// Cause explains a non-200 status.
	Cause error
	// WriteErr is set when the response could not be delivered.
	WriteErr error
}

// handler turns the raw bytes of one request into one response.
type handler struct {
	root resolve.ServedDirectory
	rw   *response.Writer
}

func newHandler(root resolve.ServedDirectory, bufferSize int) *handler {
	return &handler{root: root, rw: response.NewWriter(bufferSize)}
}

func (h *handler) serve(w io.Writer, raw []byte) outcome {
	req, err := request.Parse(raw)
	if err == nil {
		err = req.Check()
	}
	proto := req.ResponseProtocol()
	if err != nil {
		return h.fail(w, req, proto, http.StatusBadRequest, err)
	}

	target, err := h.root.Resolve(req.Path)
	if err != nil {
		return h.fail(w, req, proto, statusFor(err), err)
	}
	f, err := resolve.Open(target)
	if err != nil {
		return h.fail(w, req, proto, statusFor(err), err)
	}
	defer f.Close()

	n, err := h.rw.WriteFile(w, proto, target, f)
	return outcome{Request: req, Status: http.StatusOK, Bytes: n, WriteErr: err}
}

func (h *handler) fail(w io.Writer, req request.Request, proto string, code int, cause error) outcome {
	return outcome{
		Request:  req,
		Status:   code,
		Cause:    cause,
		WriteErr: h.rw.WriteStatus(w, proto, code),
	}
}

func statusFor(err error) int {
	if errors.Is(err, resolve.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
