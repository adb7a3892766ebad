// Package netpoll provides the descriptor-level plumbing of the server: a listening
// socket, client connections over raw descriptors, and readiness multiplexers.
package netpoll

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTooManyClients is returned by a bounded multiplexer when every slot is taken.
	ErrTooManyClients = errors.New("netpoll: too many clients")
	// ErrNotTracked is returned when removing a descriptor the multiplexer does not watch.
	ErrNotTracked = errors.New("netpoll: descriptor not tracked")
	// ErrWouldBlock is returned by Accept and Conn.Read when nothing is pending.
	ErrWouldBlock = errors.New("netpoll: operation would block")
)

// Poller watches a set of descriptors for read readiness.
type Poller interface {
	// Add starts watching fd.
	Add(fd int) error
	// Remove stops watching fd. It must be called before fd is closed.
	Remove(fd int) error
	// Wait blocks until at least one watched descriptor is readable or the timeout
	// expires, and appends the ready descriptors to ready[:0]. A negative timeout
	// blocks indefinitely.
	Wait(ready []int, timeout time.Duration) ([]int, error)
	// Close releases the multiplexer. Watched descriptors are not closed.
	Close() error
}

// Kind names a multiplexer implementation.
type Kind string

const (
	// KindEpoll is the registered-interest multiplexer (Linux only).
	KindEpoll Kind = "epoll"
	// KindPoll is the bounded table scanned on every wakeup.
	KindPoll Kind = "poll"
)

// DefaultMaxEvents is the number of readiness events collected per epoll wakeup.
const DefaultMaxEvents = 64

// New returns the multiplexer named by kind. For KindEpoll size is the number of
// events returned per wakeup; for KindPoll it is the table capacity.
func New(kind Kind, size int) (Poller, error) {
	switch kind {
	case KindEpoll, "":
		return NewEpoll(size)
	case KindPoll:
		return NewPollTable(size), nil
	default:
		return nil, fmt.Errorf("netpoll: unknown multiplexer %q", kind)
	}
}

// timeoutMillis converts a Wait timeout to the millisecond argument of epoll_wait and poll.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		ms = 1
	}
	return int(ms)
}
