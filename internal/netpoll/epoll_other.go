//go:build !linux

package netpoll

import (
	"errors"
	"fmt"
)

// NewEpoll is only available on Linux; use KindPoll elsewhere.
func NewEpoll(maxEvents int) (Poller, error) {
	return nil, fmt.Errorf("netpoll: epoll: %w", errors.ErrUnsupported)
}
