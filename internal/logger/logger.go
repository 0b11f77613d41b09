// Package logger configures the zerolog logger used across refgate.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// New creates a logger writing to w. format "text" selects the console
// writer, anything else emits JSON lines. Unknown levels fall back to info.
func New(w io.Writer, level, format string) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	out := w
	if format == "text" {
		out = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "2006-01-02 15:04:05"}
	}

	return zerolog.New(out).Level(logLevel).With().Timestamp().Int("pid", os.Getpid()).Logger()
}

// Open returns a logger appending to path, or writing to stderr when path is
// empty. The returned closer must be called before the process exits.
func Open(path, level, format string) (zerolog.Logger, io.Closer, error) {
	if path == "" {
		return New(os.Stderr, level, format), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	return New(f, level, format), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
