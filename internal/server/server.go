// Package server runs the event loop that accepts connections and services one
// request per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/f4ah6o/statichttpd/internal/config"
	"github.com/f4ah6o/statichttpd/internal/netpoll"
	"github.com/f4ah6o/statichttpd/internal/request"
	"github.com/f4ah6o/statichttpd/internal/resolve"
)

// reservedSlots are the poll table entries taken by the listener and the waker.
const reservedSlots = 2

// Server owns the listening socket, the multiplexer and every tracked connection.
// All of them are used from the goroutine running Serve only.
type Server struct {
	cfg      config.Config
	log      logrus.FieldLogger
	root     resolve.ServedDirectory
	handler  *handler
	listener *netpoll.Listener
	poller   netpoll.Poller
	waker    *netpoll.Waker
	conns    map[int]*conn
	ready    []int
	now      func() time.Time
	closed   bool
}

// New validates cfg, opens the served directory and binds the listening socket.
// Any error here is a startup failure.
func New(cfg config.Config, log logrus.FieldLogger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := resolve.NewServedDirectory(cfg.Root)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		root:    root,
		handler: newHandler(root, cfg.WriteBufferSize),
		conns:   make(map[int]*conn),
		now:     time.Now,
	}
	if err := s.open(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) open() error {
	ln, err := netpoll.Listen(s.cfg.Host, s.cfg.Port, s.cfg.Backlog)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln

	size := s.cfg.MaxEvents
	if netpoll.Kind(s.cfg.Multiplexer) == netpoll.KindPoll {
		size = s.cfg.MaxClients + reservedSlots
	}
	s.poller, err = netpoll.New(netpoll.Kind(s.cfg.Multiplexer), size)
	if err != nil {
		return fmt.Errorf("server: multiplexer: %w", err)
	}

	s.waker, err = netpoll.NewWaker()
	if err != nil {
		return fmt.Errorf("server: waker: %w", err)
	}

	for _, c := range []*conn{
		{fd: ln.Fd(), role: RoleListener},
		{fd: s.waker.Fd(), role: RoleWakeup},
	} {
		if err := s.poller.Add(c.fd); err != nil {
			return fmt.Errorf("server: register: %w", err)
		}
		s.conns[c.fd] = c
	}
	return nil
}

// Root returns the served directory.
func (s *Server) Root() resolve.ServedDirectory { return s.root }

// Endpoint returns the bound port and backlog.
func (s *Server) Endpoint() netpoll.Endpoint { return s.listener.Endpoint() }

// Serve runs the event loop until ctx is cancelled, in which case it returns nil,
// or until the multiplexer fails, in which case the error is fatal. The server
// is closed when Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	defer s.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			if err := s.waker.Wake(); err != nil {
				s.log.WithError(err).Error("Failed to wake event loop")
			}
		case <-stop:
		}
	}()
	defer wg.Wait()
	defer close(stop)

	for {
		ready, err := s.poller.Wait(s.ready, s.waitTimeout())
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		s.ready = ready

		for _, fd := range ready {
			c, ok := s.conns[fd]
			if !ok {
				continue
			}
			switch c.role {
			case RoleWakeup:
				s.waker.Drain()
				if ctx.Err() != nil {
					s.log.Info("Shutting down")
					return nil
				}
			case RoleListener:
				if err := s.accept(); err != nil {
					return err
				}
			case RoleClient:
				s.service(c)
			}
		}

		if s.cfg.IdleTimeout > 0 {
			s.reapIdle()
		}
	}
}

// accept takes exactly one pending connection; others wait for the next wakeup.
// Only a full poll table is fatal.
func (s *Server) accept() error {
	nc, err := s.listener.Accept()
	if errors.Is(err, netpoll.ErrWouldBlock) {
		return nil
	}
	if err != nil {
		s.log.WithError(err).Warn("Failed to accept connection")
		return nil
	}

	c := &conn{
		fd:         nc.Fd(),
		role:       RoleClient,
		state:      StateAccepted,
		nc:         nc,
		peer:       nc.RemoteAddr(),
		lastActive: s.now(),
	}
	if err := s.poller.Add(c.fd); err != nil {
		nc.Close()
		if errors.Is(err, netpoll.ErrTooManyClients) {
			s.log.WithField("peer", c.peer).Error("Too many clients")
			return fmt.Errorf("server: %w", err)
		}
		s.log.WithError(err).WithField("peer", c.peer).Warn("Failed to register connection")
		return nil
	}
	c.state = StateAwaitingRequest
	s.conns[c.fd] = c
	s.connLog(c).Debug("Connection accepted")
	return nil
}

// service performs one read on a ready client and, once a request line is
// available or the peer has stopped sending, answers it and closes the connection.
func (s *Server) service(c *conn) {
	if c.buf == nil {
		c.buf = make([]byte, 0, s.cfg.ReadBufferSize)
	}
	n, err := c.nc.Read(c.buf[len(c.buf):cap(c.buf)])
	switch {
	case errors.Is(err, netpoll.ErrWouldBlock):
		return
	case errors.Is(err, io.EOF):
		if len(c.buf) > 0 {
			// The peer finished sending without a newline; answer what arrived.
			s.respond(c)
			return
		}
		s.connLog(c).Debug("Peer closed connection")
		s.closeConn(c)
		return
	case err != nil:
		s.connLog(c).WithError(err).Warn("Failed to read request")
		s.closeConn(c)
		return
	}
	c.buf = c.buf[:len(c.buf)+n]
	c.lastActive = s.now()

	if !s.cfg.SingleRead && !request.HasLine(c.buf) && len(c.buf) < cap(c.buf) {
		return
	}
	s.respond(c)
}

// respond services the buffered request and closes the connection.
func (s *Server) respond(c *conn) {
	c.state = StateServicing
	start := s.now()
	out := s.handler.serve(c.nc, c.buf)
	s.logOutcome(c, out, s.now().Sub(start))
	s.closeConn(c)
}

func (s *Server) logOutcome(c *conn, out outcome, elapsed time.Duration) {
	entry := s.connLog(c).WithFields(logrus.Fields{
		"method":   out.Request.Method,
		"path":     out.Request.Path,
		"status":   out.Status,
		"bytes":    out.Bytes,
		"duration": elapsed,
	})
	if out.Cause != nil {
		entry = entry.WithField("reason", out.Cause.Error())
	}
	if out.WriteErr != nil {
		entry.WithError(out.WriteErr).Warn("Failed to write response")
		return
	}
	entry.Info("Request served")
}

// closeConn deregisters c before closing it so the multiplexer never reports a
// stale descriptor.
func (s *Server) closeConn(c *conn) {
	if err := s.poller.Remove(c.fd); err != nil {
		s.connLog(c).WithError(err).Warn("Failed to deregister connection")
	}
	if err := c.nc.Close(); err != nil {
		s.connLog(c).WithError(err).Warn("Failed to close connection")
	}
	delete(s.conns, c.fd)
	c.state = StateClosed
}

func (s *Server) reapIdle() {
	deadline := s.now().Add(-s.cfg.IdleTimeout)
	for _, c := range s.conns {
		if c.role == RoleClient && c.state == StateAwaitingRequest && c.lastActive.Before(deadline) {
			s.connLog(c).Debug("Closing idle connection")
			s.closeConn(c)
		}
	}
}

func (s *Server) waitTimeout() time.Duration {
	if s.cfg.IdleTimeout <= 0 {
		return -1
	}
	return s.cfg.IdleTimeout / 2
}

func (s *Server) connLog(c *conn) logrus.FieldLogger {
	return s.log.WithFields(logrus.Fields{"fd": c.fd, "peer": c.peer})
}

// Close releases every descriptor the server holds. Serve calls it on return.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	for _, c := range s.conns {
		if c.role == RoleClient {
			s.closeConn(c)
		}
	}
	var errs []error
	if s.poller != nil {
		errs = append(errs, s.poller.Close())
	}
	if s.waker != nil {
		errs = append(errs, s.waker.Close())
	}
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
	}
	return errors.Join(errs...)
}
