// Package logging provides structured logging for scrollsync using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger is the global logger. Component loggers are derived from it, so
// call Init before creating long-lived components.
var Logger zerolog.Logger

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (trace, debug, info, warn, error, off).
	Level string

	// Format is json, console or auto. auto picks console on a terminal.
	Format string

	// Output defaults to stderr.
	Output io.Writer

	// EnableCaller adds caller information to logs.
	EnableCaller bool
}

// DefaultConfig logs at info to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "auto", Output: os.Stderr}
}

// Init replaces the global logger.
func Init(cfg Config) {
	Logger = New(cfg)
}

// New builds a logger without touching the global one. The level applies
// process-wide, as zerolog levels do.
func New(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	tty := isTerminal(out)

	format := strings.ToLower(cfg.Format)
	if format == "console" || (format != "json" && tty) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000", NoColor: !tty}
	}

	builder := zerolog.New(out).With().Timestamp()
	if cfg.EnableCaller {
		builder = builder.Caller()
	}
	return builder.Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ParseLevel maps a level name to zerolog. Unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch name := strings.ToLower(strings.TrimSpace(level)); name {
	case "warning":
		return zerolog.WarnLevel
	case "off":
		return zerolog.Disabled
	case "":
		return zerolog.InfoLevel
	default:
		parsed, err := zerolog.ParseLevel(name)
		if err != nil || parsed == zerolog.NoLevel {
			return zerolog.InfoLevel
		}
		return parsed
	}
}

// Component creates a logger with a component field.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithKey scopes base to one viewport classification key.
func WithKey(base zerolog.Logger, key string) zerolog.Logger {
	return base.With().Str("key", key).Logger()
}

// WithInstance scopes base to one synchronizer instance.
func WithInstance(base zerolog.Logger, instanceID, key string) zerolog.Logger {
	return WithKey(base.With().Str("instance_id", instanceID).Logger(), key)
}

func init() {
	Init(DefaultConfig())
}
