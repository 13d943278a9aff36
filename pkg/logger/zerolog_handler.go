// Package logger builds the process-wide slog.Logger. Records are written by zerolog so the
// service emits the same JSON lines (or console output in development) as the rest of the
// stack, while application code only ever talks to log/slog through the scout helpers.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the handler.
type Options struct {
	// Level is the minimum level written. Default: info.
	Level slog.Level

	// Console switches from JSON lines to zerolog's human readable console writer.
	Console bool

	// Service, when set, is attached to every record as "service".
	Service string
}

// ZerologHandler adapts a zerolog.Logger to the slog.Handler interface.
type ZerologHandler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	group  string
}

// NewHandler creates a slog.Handler writing to w through zerolog.
func NewHandler(w io.Writer, opts Options) *ZerologHandler {
	if opts.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).Level(levelToZerolog(opts.Level))
	if opts.Service != "" {
		zl = zl.With().Str("service", opts.Service).Logger()
	}
	return &ZerologHandler{logger: zl}
}

// New returns a *slog.Logger backed by a ZerologHandler.
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(NewHandler(w, opts))
}

// Enabled reports whether zerolog would write a record at level.
func (h *ZerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= levelToZerolog(level)
}

// Handle writes the record with pre-attached and record attributes.
func (h *ZerologHandler) Handle(_ context.Context, r slog.Record) error {
	evt := h.logger.WithLevel(levelToZerolog(r.Level))
	if evt == nil {
		return nil
	}
	if !r.Time.IsZero() {
		evt = evt.Time(zerolog.TimestampFieldName, r.Time)
	}
	for _, a := range h.attrs {
		evt = addAttr(evt, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		evt = addAttr(evt, h.group, a)
		return true
	})
	evt.Msg(r.Message)
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *ZerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, prefixed(h.group, a))
	}
	return &next
}

// WithGroup returns a handler that prefixes record attribute keys with name.
func (h *ZerologHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

func prefixed(group string, a slog.Attr) slog.Attr {
	if group == "" {
		return a
	}
	return slog.Attr{Key: group + "." + a.Key, Value: a.Value}
}

func addAttr(evt *zerolog.Event, group string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return evt
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return evt.Str(key, a.Value.String())
	case slog.KindInt64:
		return evt.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return evt.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return evt.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return evt.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return evt.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return evt.Time(key, a.Value.Time())
	case slog.KindGroup:
		if a.Key == "" {
			key = group
		}
		for _, ga := range a.Value.Group() {
			evt = addAttr(evt, key, ga)
		}
		return evt
	default:
		if err, ok := a.Value.Any().(error); ok {
			return evt.AnErr(key, err)
		}
		return evt.Interface(key, a.Value.Any())
	}
}

// levelToZerolog converts a slog level to zerolog.Level
func levelToZerolog(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
