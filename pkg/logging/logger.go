// Package logging builds the slog loggers used across qaflow.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/odvcencio/qaflow/pkg/config"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// SlogLevel maps l to its slog counterpart; unknown values are info.
func (l Level) SlogLevel() slog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to w (stderr when nil) at cfg's level and format.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: Level(cfg.Level).SlogLevel()}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Component returns a child of l tagged with the subsystem name. A nil l
// falls back to slog.Default().
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

// Discard is a logger that drops everything, for tests and optional wiring.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
