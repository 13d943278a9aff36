package pgvector

import (
	"context"
	"testing"
	"time"

	"github.com/calque-ai/eventscout/pkg/event"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing connection string", Config{}},
		{"unparseable connection string", Config{ConnectionString: "postgres://%zz"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(context.Background(), tt.config); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestArgs(t *testing.T) {
	if vectorArg(nil) != nil {
		t.Error("empty vector should bind as NULL")
	}
	if vectorArg([]float32{1}) == nil {
		t.Error("non-empty vector bound as NULL")
	}

	if expiry(event.Event{}) != nil {
		t.Error("zero ExpiresAt should bind as NULL")
	}
	at := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)
	if got := expiry(event.Event{ExpiresAt: at}); got == nil || !got.Equal(at) {
		t.Errorf("expiry = %v, want %v", got, at)
	}
}
