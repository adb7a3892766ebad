package netpoll

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Conn is an accepted client connection backed by a raw descriptor.
type Conn struct {
	fd   int
	peer string
}

// NewConn wraps an already connected descriptor.
func NewConn(fd int, peer string) *Conn {
	return &Conn{fd: fd, peer: peer}
}

// Fd returns the underlying descriptor.
func (c *Conn) Fd() int { return c.fd }

// RemoteAddr returns the peer address as host:port.
func (c *Conn) RemoteAddr() string { return c.peer }

// Read performs a single non-blocking receive. It returns ErrWouldBlock when no
// data is pending and io.EOF once the peer has closed its side.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, _, err := unix.Recvfrom(c.fd, p, unix.MSG_DONTWAIT)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		if err != nil {
			return 0, os.NewSyscallError("recvfrom", err)
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes all of p, issuing as many write(2) calls as the kernel needs.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, os.NewSyscallError("write", err)
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Close closes the descriptor.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}
