// Package logger builds the zerolog logger shared by the CLI and the
// analytics packages.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, encoding and destination.
type Config struct {
	Level  string `json:"level" yaml:"level" default:"info" validate:"oneof=trace debug info warn error disabled"`
	Format string `json:"format" yaml:"format" default:"console" validate:"oneof=console json"`
	// Output is stderr, stdout or a file path.
	Output string `json:"output" yaml:"output" default:"stderr"`
}

// New returns a logger writing to the configured output. The returned
// closer releases a log file and is a no-op for the standard streams.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level: %w", err)
	}

	var out io.Writer
	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	return NewWriter(out, cfg.Format, level), closer, nil
}

// NewWriter builds a logger on w. format is "console" or "json".
func NewWriter(w io.Writer, format string, level zerolog.Level) zerolog.Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
