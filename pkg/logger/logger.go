// Package logger builds the process-wide *slog.Logger and a couple of
// conventions (scope, error attrs) used uniformly by every domain package.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the process-wide *slog.Logger singleton.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// Scope tags a logger with the package/component emitting the record.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error wraps an error as a structured attr, preserving the original value
// (including nil or joined errors) rather than stringifying it up front.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// NewLogger builds the process logger from LOG_LEVEL and GO_ENV.
//
// LOG_LEVEL: debug|info|warn|warning|error, case-insensitive, defaults to info.
// GO_ENV=production selects the JSON handler; anything else gets text.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("GO_ENV"), "production") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
