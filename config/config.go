package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override (FAST_STATIC_WORKERS=8)
const EnvPrefix = "FAST_STATIC"

// DefaultPort is used when no port argument is given
const DefaultPort = 8080

var (
	ErrInvalidPort = errors.New("invalid port number")
	ErrInvalid     = errors.New("invalid configuration")
)

// Config holds all application configuration.
type Config struct {
	Port    int    `config:"-"`
	Host    string `config:"host"`
	Workers int    `config:"workers"`
	DocRoot string `config:"root"`

	PollTimeout    time.Duration `config:"poll.timeout"`
	IdleTimeout    time.Duration `config:"idle.timeout"`
	MaxHeaderBytes int           `config:"max.header.bytes"`
	MaxConnections int           `config:"max.connections"`
	FileWorkers    int           `config:"file.workers"`

	RestartDelay    time.Duration `config:"restart.delay"`
	MaxRestartDelay time.Duration `config:"max.restart.delay"`
	StableAfter     time.Duration `config:"stable.after"`
	ShutdownTimeout time.Duration `config:"shutdown.timeout"`

	GCPercent   int    `config:"gc.percent"`
	MemoryLimit int64  `config:"memory.limit"`
	LogLevel    string `config:"log.level"`

	ConfigFile string `config:"-"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		Workers:         4,
		DocRoot:         "./static",
		PollTimeout:     time.Second,
		IdleTimeout:     5 * time.Second,
		MaxHeaderBytes:  8192,
		MaxConnections:  10000,
		FileWorkers:     4,
		RestartDelay:    100 * time.Millisecond,
		MaxRestartDelay: 30 * time.Second,
		StableAfter:     5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
	}
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel parses LogLevel
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("fast-static", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen host (empty for all interfaces)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of worker processes")
	fs.StringVar(&cfg.DocRoot, "root", cfg.DocRoot, "document root")
	fs.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "event loop wait timeout")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close connections idle this long")
	fs.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", cfg.MaxHeaderBytes, "largest accepted request head")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "open connections per worker")
	fs.IntVar(&cfg.FileWorkers, "file-workers", cfg.FileWorkers, "file reader goroutines per worker (0 reads on the event loop)")
	fs.DurationVar(&cfg.RestartDelay, "restart-delay", cfg.RestartDelay, "first delay before restarting a crash-looping worker")
	fs.DurationVar(&cfg.MaxRestartDelay, "max-restart-delay", cfg.MaxRestartDelay, "upper bound of the restart delay")
	fs.DurationVar(&cfg.StableAfter, "stable-after", cfg.StableAfter, "uptime after which a worker exit is not a crash loop")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "wait this long for workers before killing them")
	fs.IntVar(&cfg.GCPercent, "gc-percent", cfg.GCPercent, "GOGC for worker processes (0 keeps the default)")
	fs.Int64Var(&cfg.MemoryLimit, "memory-limit", cfg.MemoryLimit, "soft memory limit per worker in bytes (0 for none)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "JSON configuration file")

	return fs
}

// Usage returns the command line help text
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: fast-static [flags] [port]\n\nflags:\n")
	fs := newFlagSet(Default())
	fs.SetOutput(&b)
	fs.PrintDefaults()
	return b.String()
}

// Load builds the configuration from defaults, an optional JSON file,
// FAST_STATIC_* environment variables and args, in increasing precedence.
// args excludes the program name; its only positional argument is the port.
func Load(args []string) (*Config, error) {
	return load(args, nil)
}

func load(args []string, environ []string) (*Config, error) {
	cfg := Default()
	fs := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	m := NewManager()
	if cfg.ConfigFile != "" {
		if err := m.LoadFromJSON(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if environ == nil {
		m.LoadFromEnv(EnvPrefix)
	} else {
		m.loadFromEnviron(EnvPrefix, environ)
	}

	// Flags given on the command line win
	fs.Visit(func(f *flag.Flag) {
		m.Delete(strings.ReplaceAll(f.Name, "-", "."))
	})
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch fs.NArg() {
	case 0:
	case 1:
		port, err := ParsePort(fs.Arg(0))
		if err != nil {
			return nil, err
		}
		cfg.Port = port
	default:
		return nil, fmt.Errorf("%w: unexpected arguments %q", ErrInvalid, fs.Args()[1:])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParsePort parses a decimal TCP port in 1..65535
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return port, nil
}

// Validate checks ranges that would make the server unusable
func (c *Config) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalid)
	case c.DocRoot == "":
		return fmt.Errorf("%w: empty document root", ErrInvalid)
	case c.PollTimeout < time.Millisecond:
		return fmt.Errorf("%w: poll timeout below 1ms", ErrInvalid)
	case c.IdleTimeout <= 0:
		return fmt.Errorf("%w: idle timeout must be positive", ErrInvalid)
	case c.MaxHeaderBytes < 64:
		return fmt.Errorf("%w: max header bytes below 64", ErrInvalid)
	case c.MaxConnections < 1:
		return fmt.Errorf("%w: max connections must be at least 1", ErrInvalid)
	case c.FileWorkers < 0:
		return fmt.Errorf("%w: file workers cannot be negative", ErrInvalid)
	case c.RestartDelay < 0 || c.MaxRestartDelay < c.RestartDelay:
		return fmt.Errorf("%w: restart delays out of order", ErrInvalid)
	}
	return nil
}
