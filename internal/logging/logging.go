// Package logging builds the process-wide slog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"responsekit/internal/config"
)

// New returns a logger for cfg and the writer it logs to. When cfg names a
// file, the writer is a rotating lumberjack.Logger that the caller closes.
func New(cfg config.LoggingConfig) (*slog.Logger, io.WriteCloser, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.WriteCloser = nopCloser{os.Stderr}
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	return slog.New(NewHandler(out, cfg.Format, level)), out, nil
}

// NewHandler returns a JSON handler unless format is "text".
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel maps debug, info, warn and error to slog levels; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level: %s", s)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
