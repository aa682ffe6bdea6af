// Package logging builds the exporter's structured logger on log/slog.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/sweeney/apcupsd-influx/internal/config"
)

// Logger wraps slog.Logger with the exporter's default attributes.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to w. Verbose forces debug level so per-cycle
// point dumps are emitted regardless of the configured level.
func New(w io.Writer, cfg config.LoggingConfig, verbose bool) *Logger {
	level := parseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "apcupsd-influx"),
	})
	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
