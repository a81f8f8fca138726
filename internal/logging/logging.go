// ABOUTME: Root slog logger construction from logging configuration
// ABOUTME: Colored text output for terminals, JSON for machines, always behind redaction

package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/config"
)

// ParseLevel maps a configured level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the process logger. A nil writer means stdout.
func New(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = NewColorHandler(w, level)
	}

	return slog.New(NewRedactingHandler(handler))
}

// Discard returns a logger that drops everything, for tests and quiet tools.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
