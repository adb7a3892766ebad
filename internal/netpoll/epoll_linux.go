//go:build linux

package netpoll

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// epoll is the registered-interest multiplexer: each descriptor is added once and
// a wakeup reports only the descriptors that became ready.
type epoll struct {
	fd     int
	events []unix.EpollEvent
}

// NewEpoll creates an epoll instance collecting up to maxEvents events per wakeup.
func NewEpoll(maxEvents int) (Poller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epoll{fd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

func (p *epoll) Add(fd int) error {
	// Level-triggered: a descriptor stays ready until it has been read.
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	return nil
}

func (p *epoll) Remove(fd int) error {
	var ev unix.EpollEvent
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, &ev); err != nil {
		if err == unix.ENOENT {
			return ErrNotTracked
		}
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

func (p *epoll) Wait(ready []int, timeout time.Duration) ([]int, error) {
	ready = ready[:0]
	for {
		n, err := unix.EpollWait(p.fd, p.events, timeoutMillis(timeout))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ready, os.NewSyscallError("epoll_wait", err)
		}
		for i := 0; i < n; i++ {
			ready = append(ready, int(p.events[i].Fd))
		}
		return ready, nil
	}
}

func (p *epoll) Close() error {
	return unix.Close(p.fd)
}
