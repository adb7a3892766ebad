// Package main serves a directory over a minimal HTTP/1.0-style protocol from a
// single-threaded event loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"

	"github.com/f4ah6o/statichttpd/internal/config"
	"github.com/f4ah6o/statichttpd/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := buildConfig(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	log, err := cfg.NewLogger(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to start server")
		return 1
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	color.New(color.FgGreen).Fprintf(stdout, "🌐 Serving %s at http://%s:%d (%s)\n",
		srv.Root().Root(), host, srv.Endpoint().BoundPort, cfg.Multiplexer)
	fmt.Fprintln(stdout, "Press Ctrl+C to stop")

	if err := srv.Serve(ctx); err != nil {
		log.WithError(err).Error("Server error")
		return 1
	}
	return 0
}

// buildConfig layers defaults, the optional config file, flags and the optional
// positional "<port> <root>" arguments, later sources winning.
func buildConfig(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("statichttpd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Configuration file (.toml, .yaml or .yml)")
	port := fs.Int("port", 8080, "Port to serve on")
	dir := fs.String("dir", ".", "Directory to serve")
	host := fs.String("host", "", "IPv4 address to bind (default all interfaces)")
	mux := fs.String("mux", "epoll", "Multiplexer: epoll or poll")
	logLevel := fs.String("log-level", "info", "Log level")
	logFormat := fs.String("log-format", "text", "Log format: text or json")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: statichttpd [flags] [<port> <root>]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "dir":
			cfg.Root = *dir
		case "host":
			cfg.Host = *host
		case "mux":
			cfg.Multiplexer = *mux
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})

	switch fs.NArg() {
	case 0:
	case 2:
		p, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return cfg, fmt.Errorf("invalid port %q", fs.Arg(0))
		}
		cfg.Port = p
		cfg.Root = fs.Arg(1)
	default:
		fs.Usage()
		return cfg, fmt.Errorf("expected <port> <root>, got %d arguments", fs.NArg())
	}

	return cfg, cfg.Validate()
}
