package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

// Waker is a self-pipe: its read end is watched by a Poller and Wake makes it
// readable, interrupting a blocked Wait from another goroutine.
type Waker struct {
	r, w int
}

// NewWaker creates the pipe pair in non-blocking mode.
func NewWaker() (*Waker, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}
	return &Waker{r: p[0], w: p[1]}, nil
}

// Fd returns the descriptor to register with a Poller.
func (w *Waker) Fd() int { return w.r }

// Wake makes Fd readable. A wake that is already pending is not an error.
func (w *Waker) Wake() error {
	for {
		_, err := unix.Write(w.w, []byte{1})
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return os.NewSyscallError("write", err)
		}
	}
}

// Drain consumes pending wakeups.
func (w *Waker) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

// Close closes both ends of the pipe.
func (w *Waker) Close() error {
	err := unix.Close(w.r)
	if werr := unix.Close(w.w); err == nil {
		err = werr
	}
	return err
}
