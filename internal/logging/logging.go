// Package logging builds the slog loggers used by the command line tools
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// New returns a text logger writing to w at the given level
func New(level slog.Leveler, w io.Writer) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// NewJSON returns a JSON logger writing to w at the given level
func NewJSON(level slog.Leveler, w io.Writer) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// NewWithFormat returns a text or JSON logger depending on format. An empty
// format means text.
func NewWithFormat(format string, level slog.Leveler, w io.Writer) (*slog.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return New(level, w), nil
	case "json":
		return NewJSON(level, w), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel maps debug, info, warn/warning and error to a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
