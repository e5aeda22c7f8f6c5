// Package logging provides structured logging for the engine and its example
// server, wrapping log/slog the same way the reference codebase's own logger
// package does.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/yawl-engine/core/internal/config"
)

// Logger wraps slog.Logger so callers depend on a small, swappable interface
// (see pkg/announce.Logger, which this satisfies) rather than on slog
// directly.
type Logger struct {
	logger *slog.Logger
}

// New creates a Logger from the logging section of the application config.
func New(cfg config.LoggingConfig) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Level == "debug",
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{logger: slog.New(handler)}
}

// With returns a Logger carrying the given attributes on every subsequent
// call.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

// ErrorContext logs an error with context; this is the one method
// pkg/announce.Logger requires of its host application.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

func parseLevel(level string) slog.Level {
	switch level {
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

var defaultLogger = New(config.LoggingConfig{Level: "info", Format: "json"})

// Default returns the package-level logger, used where no request-scoped
// Logger has been threaded through.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the package-level logger, called once at startup once
// the real configuration has been loaded.
func SetDefault(l *Logger) { defaultLogger = l }
