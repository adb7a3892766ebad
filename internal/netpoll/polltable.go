package netpoll

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// freeSlot marks an unused table entry. poll(2) ignores negative descriptors.
const freeSlot = -1

// PollTable is a fixed-capacity multiplexer built on poll(2). Every wakeup scans the
// whole table, so it suits small numbers of connections. Adding a descriptor to a
// full table fails with ErrTooManyClients.
type PollTable struct {
	fds  []unix.PollFd
	used int
}

// NewPollTable returns a table with room for capacity descriptors.
func NewPollTable(capacity int) *PollTable {
	if capacity <= 0 {
		capacity = 1
	}
	fds := make([]unix.PollFd, capacity)
	for i := range fds {
		fds[i].Fd = freeSlot
	}
	return &PollTable{fds: fds}
}

// Len reports how many descriptors are tracked.
func (p *PollTable) Len() int { return p.used }

// Cap reports the table capacity.
func (p *PollTable) Cap() int { return len(p.fds) }

func (p *PollTable) Add(fd int) error {
	for i := range p.fds {
		if p.fds[i].Fd == freeSlot {
			p.fds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
			p.used++
			return nil
		}
	}
	return ErrTooManyClients
}

func (p *PollTable) Remove(fd int) error {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			p.fds[i] = unix.PollFd{Fd: freeSlot}
			p.used--
			return nil
		}
	}
	return ErrNotTracked
}

func (p *PollTable) Wait(ready []int, timeout time.Duration) ([]int, error) {
	ready = ready[:0]
	for {
		_, err := unix.Poll(p.fds, timeoutMillis(timeout))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ready, os.NewSyscallError("poll", err)
		}
		break
	}
	for i := range p.fds {
		if p.fds[i].Fd != freeSlot && p.fds[i].Revents != 0 {
			ready = append(ready, int(p.fds[i].Fd))
		}
		p.fds[i].Revents = 0
	}
	return ready, nil
}

// Close forgets every tracked descriptor.
func (p *PollTable) Close() error {
	for i := range p.fds {
		p.fds[i] = unix.PollFd{Fd: freeSlot}
	}
	p.used = 0
	return nil
}
