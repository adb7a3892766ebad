package netpoll

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Endpoint describes a bound, listening socket.
type Endpoint struct {
	BoundPort int
	Backlog   int
}

// Listener owns a non-blocking IPv4 listening socket.
type Listener struct {
	fd       int
	endpoint Endpoint
}

// Listen creates a TCP socket bound to host:port and starts listening with the
// given backlog. An empty host binds every interface; port 0 picks a free port.
func Listen(host string, port, backlog int) (*Listener, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("netpoll: invalid port %d", port)
	}
	addr, err := ipv4Addr(host)
	if err != nil {
		return nil, err
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	ln := &Listener{fd: fd, endpoint: Endpoint{Backlog: backlog}}
	if err := ln.bindAndListen(addr, port); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return ln, nil
}

func (l *Listener) bindAndListen(addr [4]byte, port int) error {
	// Allow a restarted server to rebind while old connections sit in TIME_WAIT.
	if err := unix.SetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(l.fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(l.fd, l.endpoint.Backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	if err := unix.SetNonblock(l.fd, true); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return os.NewSyscallError("getsockname", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		l.endpoint.BoundPort = in4.Port
	}
	return nil
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Endpoint returns the bound port and backlog.
func (l *Listener) Endpoint() Endpoint { return l.endpoint }

// Accept takes one pending connection off the queue. It returns ErrWouldBlock when
// none is pending. The returned connection is in blocking mode.
func (l *Listener) Accept() (*Conn, error) {
	for {
		nfd, sa, err := unix.Accept(l.fd)
		if err == unix.EINTR {
			continue
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		if err != nil {
			return nil, os.NewSyscallError("accept", err)
		}
		unix.CloseOnExec(nfd)
		// BSDs let accepted sockets inherit O_NONBLOCK from the listener.
		if err := unix.SetNonblock(nfd, false); err != nil {
			unix.Close(nfd)
			return nil, os.NewSyscallError("setnonblock", err)
		}
		return &Conn{fd: nfd, peer: sockaddrString(sa)}, nil
	}
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

func ipv4Addr(host string) ([4]byte, error) {
	var addr [4]byte
	switch host {
	case "", "0.0.0.0":
		return addr, nil
	case "localhost":
		host = "127.0.0.1"
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return addr, fmt.Errorf("netpoll: %q is not an IPv4 address", host)
	}
	copy(addr[:], ip)
	return addr, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return "?"
	}
}
