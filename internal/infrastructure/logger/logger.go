// Package logger sets up NoETL's two coexisting loggers, matching the
// teacher's internal/infrastructure/logger.Setup for request/component-scoped
// slog, plus a zerolog process logger for cmd/* entrypoints and fatal
// startup paths (the teacher's factory.go texture) — deliberately not
// homogenized into a single logger.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Setup creates the request/component-scoped JSON slog logger.
func Setup(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseSlogLevel(level)}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

// Logger creates a default info-level slog logger.
func Logger() *slog.Logger {
	return Setup("info")
}

func parseSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Process builds the zerolog logger used by cmd/* entrypoints for
// process-lifecycle events (startup, shutdown, fatal configuration errors).
func Process(level string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseZerologLevel(level))
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func parseZerologLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
