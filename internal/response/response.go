// Package response writes status lines, headers and file bodies.
package response

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/f4ah6o/statichttpd/internal/resolve"
)

// DefaultBufferSize is the size of the buffer used to copy file bodies.
const DefaultBufferSize = 32 << 10

// ErrShortBody reports a file that ended before its advertised Content-Length.
var ErrShortBody = errors.New("response: body shorter than Content-Length")

// Writer emits responses. It reuses one copy buffer, so a Writer must not be
// shared between goroutines.
type Writer struct {
	head []byte
	buf  []byte
}

// NewWriter returns a Writer copying bodies through a buffer of the given size.
func NewWriter(bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Writer{buf: make([]byte, bufferSize)}
}

// WriteFile sends a 200 response for target, streaming exactly target.Size bytes
// from body. It returns the number of body bytes written.
func (rw *Writer) WriteFile(w io.Writer, proto string, target resolve.Target, body io.Reader) (int64, error) {
	rw.head = appendStatusLine(rw.head[:0], proto, http.StatusOK)
	rw.head = appendHeader(rw.head, "Content-Length", strconv.FormatInt(target.Size, 10))
	rw.head = appendHeader(rw.head, "Content-Type", target.ContentType)
	rw.head = append(rw.head, "\r\n"...)
	if _, err := w.Write(rw.head); err != nil {
		return 0, fmt.Errorf("response: write header: %w", err)
	}

	n, err := io.CopyBuffer(onlyWriter{w}, io.LimitReader(body, target.Size), rw.buf)
	if err != nil {
		return n, fmt.Errorf("response: write body: %w", err)
	}
	if n < target.Size {
		return n, fmt.Errorf("%w: %d of %d bytes", ErrShortBody, n, target.Size)
	}
	return n, nil
}

// WriteStatus sends a body-less response with the given status code.
func (rw *Writer) WriteStatus(w io.Writer, proto string, code int) error {
	rw.head = appendStatusLine(rw.head[:0], proto, code)
	rw.head = appendHeader(rw.head, "Content-Length", "0")
	rw.head = append(rw.head, "\r\n"...)
	if _, err := w.Write(rw.head); err != nil {
		return fmt.Errorf("response: write header: %w", err)
	}
	return nil
}

func appendStatusLine(b []byte, proto string, code int) []byte {
	text := http.StatusText(code)
	if text == "" {
		text = "status code " + strconv.Itoa(code)
	}
	b = append(b, proto...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, text...)
	return append(b, "\r\n"...)
}

func appendHeader(b []byte, key, value string) []byte {
	b = append(b, key...)
	b = append(b, ": "...)
	b = append(b, value...)
	return append(b, "\r\n"...)
}

// onlyWriter hides any ReaderFrom on the destination so the body always goes
// through the Writer's own buffer.
type onlyWriter struct {
	io.Writer
}
