package scout

import (
	"context"
	"fmt"
	"log/slog"
)

// Error is a context-aware error that carries metadata for logging.
//
// It supports Go's error wrapping (errors.Is, errors.As, errors.Unwrap). The trace id and
// request id of the context it was created in travel with it, plus arbitrary tags.
//
// Example:
//
//	return scout.WrapErr(ctx, err, "similarity search failed").
//	    Tag(slog.Float64("threshold", threshold))
type Error struct {
	msg       string
	cause     error
	traceID   string
	requestID string
	attrs     []slog.Attr
}

// WrapErr wraps an existing error with context metadata.
func WrapErr(ctx context.Context, err error, msg string) *Error {
	return &Error{
		msg:       msg,
		cause:     err,
		traceID:   TraceID(ctx),
		requestID: RequestID(ctx),
	}
}

// NewErr creates a new error with context metadata and no underlying cause.
func NewErr(ctx context.Context, msg string) *Error {
	return &Error{
		msg:       msg,
		traceID:   TraceID(ctx),
		requestID: RequestID(ctx),
	}
}

// Tag adds a slog.Attr to the error. Returns the error for chaining.
func (e *Error) Tag(attr slog.Attr) *Error {
	e.attrs = append(e.attrs, attr)
	return e
}

// Tags adds multiple slog.Attr to the error.
func (e *Error) Tags(attrs ...slog.Attr) *Error {
	e.attrs = append(e.attrs, attrs...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Message returns the error message without the cause.
func (e *Error) Message() string {
	return e.msg
}

// TraceID returns the trace ID captured when the error was created.
func (e *Error) TraceID() string {
	return e.traceID
}

// RequestID returns the request ID captured when the error was created.
func (e *Error) RequestID() string {
	return e.requestID
}

// Attrs returns the tags attached to this error.
func (e *Error) Attrs() []slog.Attr {
	return e.attrs
}

// LogAttrs returns all attributes including the cause, trace_id and request_id.
func (e *Error) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(e.attrs)+3)
	if e.cause != nil {
		attrs = append(attrs, slog.Any("error", e.cause))
	}
	if e.traceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.traceID))
	}
	if e.requestID != "" {
		attrs = append(attrs, slog.String("request_id", e.requestID))
	}
	return append(attrs, e.attrs...)
}

// Log logs this error at error level with all metadata.
func (e *Error) Log(ctx context.Context) {
	e.LogWithLevel(ctx, slog.LevelError)
}

// LogWithLevel logs this error at the given level with all metadata.
func (e *Error) LogWithLevel(ctx context.Context, level slog.Level) {
	logger := Logger(ctx)
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.LogAttrs(ctx, level, e.msg, e.LogAttrs()...)
}
