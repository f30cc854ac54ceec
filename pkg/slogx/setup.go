package slogx

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

// ParseLevel maps debug, info, warn and error (case-insensitive) to a slog level.
// Anything else yields the fallback.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

// Setup installs a zerolog console writer on out as the default slog handler and
// returns the underlying zerolog logger.
func Setup(out io.Writer, level slog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
	return log
}
