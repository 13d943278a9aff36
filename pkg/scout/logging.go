package scout

import (
	"context"
	"log/slog"
)

// LogInfo logs an info-level message with context metadata.
//
// trace_id and request_id are appended when present in the context.
//
// Example:
//
//	scout.LogInfo(ctx, "crawl finished", "stored", summary.Stored)
func LogInfo(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelInfo, msg, args)
}

// LogDebug logs a debug-level message with context metadata.
func LogDebug(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelDebug, msg, args)
}

// LogWarn logs a warning-level message with context metadata.
func LogWarn(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelWarn, msg, args)
}

// LogError logs an error-level message with context metadata.
// If err is not nil it is added under the "error" key.
func LogError(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err)
	}
	logAt(ctx, slog.LevelError, msg, args)
}

// LogWith returns a logger with the context fields and args pre-attached.
//
// Example:
//
//	log := scout.LogWith(ctx, "component", "crawler")
//	log.Info("category started", "label", label)
func LogWith(ctx context.Context, args ...any) *slog.Logger {
	return Logger(ctx).With(appendContextFields(ctx, args)...)
}

func logAt(ctx context.Context, level slog.Level, msg string, args []any) {
	logger := Logger(ctx)
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.Log(ctx, level, msg, appendContextFields(ctx, args)...)
}

// appendContextFields adds trace_id and request_id to args if present in context.
func appendContextFields(ctx context.Context, args []any) []any {
	if traceID := TraceID(ctx); traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	if requestID := RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	return args
}
