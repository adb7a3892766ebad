package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f4ah6o/statichttpd/internal/config"
	"github.com/f4ah6o/statichttpd/internal/netpoll"
)

type testServer struct {
	addr string
	root string
	png  []byte
	hook *logtest.Hook
	errc chan error
	stop context.CancelFunc
}

func multiplexers(t *testing.T) []string {
	t.Helper()
	if runtime.GOOS == "linux" {
		return []string{"epoll", "poll"}
	}
	return []string{"poll"}
}

// startServer runs a server on an ephemeral port until the test ends.
func startServer(t *testing.T, mux string, modify func(*config.Config)) *testServer {
	t.Helper()
	dir, png := newTestRoot(t)

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Root = dir
	cfg.Multiplexer = mux
	if modify != nil {
		modify(&cfg)
	}

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	srv, err := New(cfg, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Endpoint().BoundPort)),
		root: dir,
		png:  png,
		hook: hook,
		errc: make(chan error, 1),
		stop: cancel,
	}
	go func() { ts.errc <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-ts.errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

func (ts *testServer) dial(t *testing.T) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { c.Close() })
	return c
}

// roundTrip sends raw and reads until the server closes the connection.
func (ts *testServer) roundTrip(t *testing.T, raw string) []byte {
	t.Helper()
	c := ts.dial(t)
	_, err := io.WriteString(c, raw)
	require.NoError(t, err)
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	return out
}

func TestServerScenario(t *testing.T) {
	for _, mux := range multiplexers(t) {
		t.Run(mux, func(t *testing.T) {
			ts := startServer(t, mux, nil)

			res := parseResponse(t, ts.roundTrip(t, "GET / HTTP/1.1\r\n\r\n"))
			assert.Equal(t, "HTTP/1.1 200 OK", res.StatusLine)
			assert.Equal(t, "text/html", res.Header["Content-Type"])
			assert.Equal(t, "11", res.Header["Content-Length"])
			assert.Equal(t, "hello world", string(res.Body))

			res = parseResponse(t, ts.roundTrip(t, "GET /a.png HTTP/1.1\r\n\r\n"))
			assert.Equal(t, "HTTP/1.1 200 OK", res.StatusLine)
			assert.Equal(t, "image/png", res.Header["Content-Type"])
			assert.Equal(t, "50", res.Header["Content-Length"])
			assert.Equal(t, ts.png, res.Body)

			res = parseResponse(t, ts.roundTrip(t, "GET /missing HTTP/1.1\r\n\r\n"))
			assert.Equal(t, "HTTP/1.1 404 Not Found", res.StatusLine)
			assert.Equal(t, "0", res.Header["Content-Length"])
			assert.Empty(t, res.Body)

			res = parseResponse(t, ts.roundTrip(t, "POST / HTTP/1.1\r\n\r\n"))
			assert.Equal(t, "HTTP/1.1 400 Bad Request", res.StatusLine)
			assert.Equal(t, "0", res.Header["Content-Length"])
			assert.Empty(t, res.Body)
		})
	}
}

func TestServerRootMatchesIndex(t *testing.T) {
	ts := startServer(t, "poll", nil)

	root := ts.roundTrip(t, "GET / HTTP/1.1\r\n\r\n")
	index := ts.roundTrip(t, "GET /index.html HTTP/1.1\r\n\r\n")
	assert.Equal(t, index, root)

	require.NoError(t, os.Remove(filepath.Join(ts.root, "index.html")))
	res := parseResponse(t, ts.roundTrip(t, "GET / HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 404 Not Found", res.StatusLine)
}

func TestServerDirectoryIndex(t *testing.T) {
	ts := startServer(t, "poll", nil)

	res := parseResponse(t, ts.roundTrip(t, "GET /sub/ HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 200 OK", res.StatusLine)
	assert.Equal(t, "<h1>sub</h1>", string(res.Body))

	res = parseResponse(t, ts.roundTrip(t, "GET /empty/ HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 404 Not Found", res.StatusLine)
}

func TestServerSurvivesBadConnections(t *testing.T) {
	for _, mux := range multiplexers(t) {
		t.Run(mux, func(t *testing.T) {
			ts := startServer(t, mux, nil)

			// A peer that leaves without sending anything.
			ts.dial(t).Close()

			requests := []struct {
				raw  string
				want string
			}{
				{"GET / HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK"},
				{"garbage\r\n", "HTTP/1.0 400 Bad Request"},
				{"GET /a.png HTTP/1.0\r\n", "HTTP/1.0 200 OK"},
				{"DELETE /a.png HTTP/1.1\r\n", "HTTP/1.1 400 Bad Request"},
				{"get /sub/index.html HTTP/1.1\r\n", "HTTP/1.1 200 OK"},
				{"GET /../secret.txt HTTP/1.1\r\n", "HTTP/1.1 400 Bad Request"},
				{"GET /index.html HTTP/1.1\r\n", "HTTP/1.1 200 OK"},
			}
			for _, r := range requests {
				res := parseResponse(t, ts.roundTrip(t, r.raw))
				assert.Equal(t, r.want, res.StatusLine, "request %q", r.raw)
			}
		})
	}
}

func TestServerConcurrentIdleConnection(t *testing.T) {
	ts := startServer(t, "poll", nil)

	// An idle connection must not hold up others.
	idle := ts.dial(t)
	_, err := io.WriteString(idle, "GET /ind")
	require.NoError(t, err)

	res := parseResponse(t, ts.roundTrip(t, "GET /app.js HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 200 OK", res.StatusLine)

	// The idle one completes its line later and is served too.
	_, err = io.WriteString(idle, "ex.html HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	out, err := io.ReadAll(idle)
	require.NoError(t, err)
	res = parseResponse(t, out)
	assert.Equal(t, "HTTP/1.1 200 OK", res.StatusLine)
	assert.Equal(t, "hello world", string(res.Body))
}

func TestServerSingleRead(t *testing.T) {
	ts := startServer(t, "poll", func(c *config.Config) { c.SingleRead = true })

	c := ts.dial(t)
	_, err := io.WriteString(c, "GET /ind")
	require.NoError(t, err)
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	res := parseResponse(t, out)
	assert.Equal(t, "HTTP/1.0 400 Bad Request", res.StatusLine)
}

func TestServerHalfCloseWithoutNewline(t *testing.T) {
	for _, mux := range multiplexers(t) {
		t.Run(mux, func(t *testing.T) {
			ts := startServer(t, mux, nil)

			c := ts.dial(t)
			_, err := io.WriteString(c, "GET / HTTP/1.0")
			require.NoError(t, err)
			require.NoError(t, c.(*net.TCPConn).CloseWrite())

			out, err := io.ReadAll(c)
			require.NoError(t, err)
			res := parseResponse(t, out)
			assert.Equal(t, "HTTP/1.0 200 OK", res.StatusLine)
			assert.Equal(t, "11", res.Header["Content-Length"])
			assert.Equal(t, "hello world", string(res.Body))
		})
	}
}

func TestServerRequestLineFillsBuffer(t *testing.T) {
	const line = "GET /a.png HTTP/1.1 xyzw"
	ts := startServer(t, "poll", func(c *config.Config) { c.ReadBufferSize = len(line) })

	// A full buffer without a newline is served from what was read.
	res := parseResponse(t, ts.roundTrip(t, line))
	assert.Equal(t, "HTTP/1.1 200 OK", res.StatusLine)
	assert.Equal(t, "50", res.Header["Content-Length"])
}

func TestServerIdleTimeout(t *testing.T) {
	for _, mux := range multiplexers(t) {
		t.Run(mux, func(t *testing.T) {
			ts := startServer(t, mux, func(c *config.Config) { c.IdleTimeout = 100 * time.Millisecond })

			c := ts.dial(t)
			start := time.Now()
			out, err := io.ReadAll(c)
			require.NoError(t, err)
			assert.Empty(t, out, "idle connections are closed without a response")
			assert.Less(t, time.Since(start), 3*time.Second)

			res := parseResponse(t, ts.roundTrip(t, "GET / HTTP/1.1\r\n\r\n"))
			assert.Equal(t, "HTTP/1.1 200 OK", res.StatusLine)
		})
	}
}

func TestServerLargeFile(t *testing.T) {
	ts := startServer(t, "poll", func(c *config.Config) { c.WriteBufferSize = 4096 })

	data := make([]byte, 3<<20)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ts.root, "blob.bin"), data, 0o644))

	res := parseResponse(t, ts.roundTrip(t, "GET /blob.bin HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 200 OK", res.StatusLine)
	assert.Equal(t, "application/octet-stream", res.Header["Content-Type"])
	assert.Equal(t, strconv.Itoa(len(data)), res.Header["Content-Length"])
	assert.True(t, bytes.Equal(data, res.Body), "body differs from file")
}

func TestServerAccessLog(t *testing.T) {
	ts := startServer(t, "poll", nil)
	ts.roundTrip(t, "GET /missing HTTP/1.1\r\n\r\n")

	// The entry is written after the response, just before the close the client saw.
	require.Eventually(t, func() bool {
		for _, e := range ts.hook.AllEntries() {
			if e.Message == "Request served" && e.Data["status"] == 404 {
				return e.Data["path"] == "/missing" && e.Data["reason"] != nil
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerTooManyClients(t *testing.T) {
	dir, _ := newTestRoot(t)
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Root = dir
	cfg.Multiplexer = "poll"
	cfg.MaxClients = 1

	log, _ := logtest.NewNullLogger()
	srv, err := New(cfg, log)
	require.NoError(t, err)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Endpoint().BoundPort))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(context.Background()) }()

	for i := 0; i < 2; i++ {
		c, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer c.Close()
	}

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, netpoll.ErrTooManyClients)
	case <-time.After(5 * time.Second):
		t.Fatal("server kept running past its client table")
	}
}

func TestNewStartupErrors(t *testing.T) {
	dir, _ := newTestRoot(t)
	log, _ := logtest.NewNullLogger()

	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"Missing root", func(c *config.Config) { c.Root = filepath.Join(dir, "nope") }},
		{"Root is a file", func(c *config.Config) { c.Root = filepath.Join(dir, "index.html") }},
		{"Bad host", func(c *config.Config) { c.Host = "not-an-ip" }},
		{"Bad multiplexer", func(c *config.Config) { c.Multiplexer = "select" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Host = "127.0.0.1"
			cfg.Port = 0
			cfg.Root = dir
			tt.modify(&cfg)
			_, err := New(cfg, log)
			assert.Error(t, err)
		})
	}

	t.Run("Port in use", func(t *testing.T) {
		cfg := config.Default()
		cfg.Host = "127.0.0.1"
		cfg.Port = 0
		cfg.Root = dir
		cfg.Multiplexer = "poll"
		first, err := New(cfg, log)
		require.NoError(t, err)
		defer first.Close()

		cfg.Port = first.Endpoint().BoundPort
		_, err = New(cfg, log)
		assert.Error(t, err)
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "accepted", StateAccepted.String())
	assert.Equal(t, "awaiting-request", StateAwaitingRequest.String())
	assert.Equal(t, "servicing", StateServicing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
