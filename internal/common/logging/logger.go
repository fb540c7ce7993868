package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
)

// Context keys for logging attributes
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	userIDKey  contextKey = "user_id"
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Setup initializes the global logger with the given configuration.
func Setup(cfg Config) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// parseLevel converts a string level to slog.Level.
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

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, id types.TraceID) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// WithUserID adds the caller identity to the context.
func WithUserID(ctx context.Context, id types.UserID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// TraceIDFromContext extracts the trace ID from context.
func TraceIDFromContext(ctx context.Context) types.TraceID {
	if id, ok := ctx.Value(traceIDKey).(types.TraceID); ok {
		return id
	}
	return ""
}

// UserIDFromContext extracts the caller identity from context.
func UserIDFromContext(ctx context.Context) types.UserID {
	if id, ok := ctx.Value(userIDKey).(types.UserID); ok {
		return id
	}
	return ""
}

// FromContext returns a logger with context attributes (trace_id, user_id).
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if traceID := TraceIDFromContext(ctx); !traceID.IsEmpty() {
		logger = logger.With("trace_id", traceID.String())
	}

	if userID := UserIDFromContext(ctx); !userID.IsEmpty() {
		logger = logger.With("user_id", userID.String())
	}

	return logger
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// InfoContext logs at info level with context attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Info(msg, args...)
}

// DebugContext logs at debug level with context attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debug(msg, args...)
}

// WarnContext logs at warn level with context attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warn(msg, args...)
}

// ErrorContext logs at error level with context attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Error(msg, args...)
}
