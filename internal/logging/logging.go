// Package logging builds the zerolog loggers used across the engine.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/pgrnscan/internal/config"
)

// New returns a logger configured from cfg along with the writer it logs to.
// Stdout carries the MCP protocol, so logs go to stderr unless cfg.Path
// names a file. The caller closes the returned closer.
func New(cfg config.LogConfig) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	zerolog.SetGlobalLevel(level)

	var out io.WriteCloser = nopCloser{os.Stderr}
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}

	return zerolog.New(out).With().Timestamp().Logger(), out, nil
}

// ParseLevel accepts debug, info, warn, error and the other zerolog names.
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// SetLevel changes the process-wide log level.
func SetLevel(name string) (zerolog.Level, error) {
	level, err := ParseLevel(name)
	if err != nil {
		return level, err
	}
	zerolog.SetGlobalLevel(level)
	return level, nil
}

// Component returns a sub-logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
