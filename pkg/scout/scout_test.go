package scout

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWrapErr(t *testing.T) {
	ctx := WithRequestID(WithTraceID(context.Background(), "trace-1"), "req-1")
	cause := errors.New("connection refused")

	err := WrapErr(ctx, cause, "similarity search failed").Tag(slog.Float64("threshold", 0.72))

	if err.Message() != "similarity search failed" {
		t.Errorf("Message() = %q", err.Message())
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() = false, want true for cause")
	}
	if err.TraceID() != "trace-1" || err.RequestID() != "req-1" {
		t.Errorf("ids = %q/%q, want trace-1/req-1", err.TraceID(), err.RequestID())
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() = %q, want cause included", err.Error())
	}

	attrs := err.LogAttrs()
	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	want := []string{"error", "trace_id", "request_id", "threshold"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("LogAttrs keys = %v, want %v", keys, want)
	}
}

func TestNewErr(t *testing.T) {
	err := NewErr(context.Background(), "query is required")
	if err.Error() != "query is required" {
		t.Errorf("Error() = %q", err.Error())
	}
	if errors.Unwrap(err) != nil {
		t.Error("Unwrap() should be nil without a cause")
	}
}

func TestLogHelpers(t *testing.T) {
	tests := []struct {
		name    string
		level   slog.Level
		log     func(ctx context.Context)
		want    []string
		wantOut bool
	}{
		{
			name:    "info with ids",
			level:   slog.LevelInfo,
			log:     func(ctx context.Context) { LogInfo(ctx, "cache hit", "key", "abc") },
			want:    []string{"cache hit", "key=abc", "trace_id=t", "request_id=r"},
			wantOut: true,
		},
		{
			name:    "debug filtered",
			level:   slog.LevelInfo,
			log:     func(ctx context.Context) { LogDebug(ctx, "hidden") },
			wantOut: false,
		},
		{
			name:    "error with cause",
			level:   slog.LevelInfo,
			log:     func(ctx context.Context) { LogError(ctx, "upsert failed", errors.New("boom")) },
			want:    []string{"upsert failed", "error=boom"},
			wantOut: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.level}))
			ctx := WithLogger(context.Background(), logger)
			ctx = WithRequestID(WithTraceID(ctx, "t"), "r")

			tt.log(ctx)

			out := buf.String()
			if !tt.wantOut {
				if out != "" {
					t.Fatalf("expected no output, got %q", out)
				}
				return
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q missing %q", out, w)
				}
			}
		})
	}
}

func TestDetachKeepsValues(t *testing.T) {
	parent, cancel := context.WithCancel(WithTraceID(context.Background(), "trace-x"))
	detached := Detach(parent)
	cancel()

	if detached.Err() != nil {
		t.Errorf("detached context cancelled: %v", detached.Err())
	}
	if TraceID(detached) != "trace-x" {
		t.Errorf("TraceID = %q, want trace-x", TraceID(detached))
	}
}
