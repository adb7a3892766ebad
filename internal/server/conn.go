package server

import (
	"time"

	"github.com/f4ah6o/statichttpd/internal/netpoll"
)

// State is the lifecycle stage of a tracked connection.
type State int

const (
	// StateAccepted is a connection taken off the listen queue but not yet registered.
	StateAccepted State = iota
	// StateAwaitingRequest is a registered connection still collecting its request line.
	StateAwaitingRequest
	// StateServicing is a connection whose response is being written.
	StateServicing
	// StateClosed is a deregistered, closed connection.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateServicing:
		return "servicing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role tells the event loop what a readiness event on a descriptor means.
type Role int

const (
	// RoleListener marks the listening socket: readiness means a pending connection.
	RoleListener Role = iota
	// RoleWakeup marks the waker pipe: readiness means the server is stopping.
	RoleWakeup
	// RoleClient marks an accepted connection: readiness means request bytes or EOF.
	RoleClient
)

// conn is one entry of the tracked set. Only the event loop touches it.
type conn struct {
	fd    int
	role  Role
	state State
	nc    *netpoll.Conn
	peer  string
	// buf accumulates the request line across reads.
	buf        []byte
	lastActive time.Time
}
