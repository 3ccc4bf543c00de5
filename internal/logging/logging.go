package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is shared by every logger built here so a config reload can change
// verbosity without rebuilding handlers.
var Level = new(slog.LevelVar)

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func NewLogger(level string) *slog.Logger {
	return New(os.Stdout, level, "json", "")
}

func New(w io.Writer, level, format, service string) *slog.Logger {
	Level.Set(ParseLevel(level))
	opts := &slog.HandlerOptions{Level: Level}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(h)
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

func SetLevel(level string) {
	Level.Set(ParseLevel(level))
}

func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
