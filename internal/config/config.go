// Package config holds the server settings and loads them from TOML or YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	// Host is the IPv4 address to bind. Empty binds every interface.
	Host string `toml:"host" yaml:"host"`
	// Port is the TCP port to listen on. 0 picks a free port.
	Port int `toml:"port" yaml:"port"`
	// Root is the directory files are served from.
	Root string `toml:"root" yaml:"root"`
	// Backlog is the listen(2) queue length.
	Backlog int `toml:"backlog" yaml:"backlog"`
	// Multiplexer selects "epoll" (registered interest) or "poll" (bounded table).
	Multiplexer string `toml:"multiplexer" yaml:"multiplexer"`
	// MaxClients bounds the poll table. Exceeding it stops the server.
	MaxClients int `toml:"max_clients" yaml:"max_clients"`
	// MaxEvents is the number of epoll events collected per wakeup.
	MaxEvents int `toml:"max_events" yaml:"max_events"`
	// ReadBufferSize bounds the bytes kept for one request line.
	ReadBufferSize int `toml:"read_buffer_size" yaml:"read_buffer_size"`
	// WriteBufferSize is the chunk size used to stream file bodies.
	WriteBufferSize int `toml:"write_buffer_size" yaml:"write_buffer_size"`
	// SingleRead services a request after its first read even if the line is incomplete.
	SingleRead bool `toml:"single_read" yaml:"single_read"`
	// IdleTimeout closes connections that have not sent a request line in time. 0 disables it.
	IdleTimeout time.Duration `toml:"idle_timeout" yaml:"idle_timeout"`
	// LogLevel is a logrus level name.
	LogLevel string `toml:"log_level" yaml:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format" yaml:"log_format"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		Port:            8080,
		Root:            ".",
		Backlog:         128,
		Multiplexer:     "epoll",
		MaxClients:      100,
		MaxEvents:       64,
		ReadBufferSize:  1024,
		WriteBufferSize: 32 << 10,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads a TOML (.toml) or YAML (.yaml, .yml) file over the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &c)
		if err != nil {
			return c, fmt.Errorf("config: %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return c, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return c, fmt.Errorf("config: %s: %w", path, err)
		}
	default:
		return c, fmt.Errorf("config: %s: unsupported format (want .toml, .yaml or .yml)", path)
	}

	return c, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("config: invalid port %d", c.Port)
	case c.Root == "":
		return errors.New("config: root directory is required")
	case c.Multiplexer != "epoll" && c.Multiplexer != "poll":
		return fmt.Errorf("config: unknown multiplexer %q", c.Multiplexer)
	case c.Multiplexer == "poll" && c.MaxClients <= 0:
		return fmt.Errorf("config: max_clients must be positive, got %d", c.MaxClients)
	case c.ReadBufferSize <= 0:
		return fmt.Errorf("config: read_buffer_size must be positive, got %d", c.ReadBufferSize)
	case c.IdleTimeout < 0:
		return fmt.Errorf("config: negative idle_timeout %s", c.IdleTimeout)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NewLogger builds the logger described by LogLevel and LogFormat.
func (c Config) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
