// Package scout holds the request-scoped plumbing shared by every eventscout package:
// context keys for the logger, trace and request ids, a context-aware error type and
// slog helpers that stamp those ids onto every record.
//
// Handlers create the ids once at the edge (HTTP middleware, CLI command, cron tick)
// and everything downstream reads them back from the context.
package scout

import (
	"context"
	"log/slog"
)

type ctxKey string

const (
	loggerKey    ctxKey = "scout.logger"
	traceIDKey   ctxKey = "scout.trace_id"
	requestIDKey ctxKey = "scout.request_id"
)

// WithLogger stores a slog.Logger in the context.
//
// The logger is used by LogInfo, LogDebug, LogWarn and LogError.
// If no logger is set, slog.Default() is used.
//
// Example:
//
//	logger := slog.New(logger.NewHandler(os.Stdout, logger.Options{}))
//	ctx = scout.WithLogger(ctx, logger)
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger retrieves the slog.Logger from context, or slog.Default() if none is set.
func Logger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithTraceID stores a trace ID in the context.
//
// The trace id follows a unit of work across goroutines, e.g. a chat request and the
// background persistence it schedules.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID retrieves the trace ID from context, or "" if none is set.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID stores a request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID retrieves the request ID from context, or "" if none is set.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Detach returns a context that keeps the logger, trace and request ids of parent but is
// not cancelled with it. Background work scheduled by a request uses it so the request
// finishing does not abort the work.
func Detach(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}
