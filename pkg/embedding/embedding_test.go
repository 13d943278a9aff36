package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/calque-ai/eventscout/pkg/ctrl"
)

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("event %d", i)
	}
	return out
}

func TestEmbedChunked(t *testing.T) {
	tests := []struct {
		name       string
		inputs     int
		chunkSize  int
		maxBatch   int
		wantChunks []int
	}{
		{name: "single chunk", inputs: 5, chunkSize: 10, wantChunks: []int{5}},
		{name: "exact multiple", inputs: 6, chunkSize: 3, wantChunks: []int{3, 3}},
		{name: "remainder", inputs: 7, chunkSize: 3, wantChunks: []int{3, 3, 1}},
		{name: "provider limit wins", inputs: 5, chunkSize: 100, maxBatch: 2, wantChunks: []int{2, 2, 1}},
		{name: "zero chunk uses provider limit", inputs: 3, chunkSize: 0, maxBatch: 2, wantChunks: []int{2, 1}},
		{name: "empty input", inputs: 0, chunkSize: 10, wantChunks: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockClient(4)
			m.Batch = tt.maxBatch

			in := texts(tt.inputs)
			got, err := EmbedChunked(context.Background(), m, in, Document, tt.chunkSize)
			if err != nil {
				t.Fatalf("EmbedChunked() error = %v", err)
			}
			if len(got) != tt.inputs {
				t.Fatalf("got %d vectors, want %d", len(got), tt.inputs)
			}

			calls := m.Calls()
			if len(calls) != len(tt.wantChunks) {
				t.Fatalf("got %d calls, want %d", len(calls), len(tt.wantChunks))
			}
			for i, call := range calls {
				if len(call.Texts) != tt.wantChunks[i] {
					t.Errorf("call %d had %d texts, want %d", i, len(call.Texts), tt.wantChunks[i])
				}
				if call.Mode != Document {
					t.Errorf("call %d mode = %q, want document", i, call.Mode)
				}
			}

			for i, text := range in {
				want := hashVector(text, 4)
				for j := range want {
					if got[i][j] != want[j] {
						t.Fatalf("vector %d out of order", i)
					}
				}
			}
		})
	}
}

func TestEmbedChunkedPartialFailure(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockClient(4).FailOn("event 4", boom)
	m.Batch = 2

	got, err := EmbedChunked(context.Background(), m, texts(6), Document, 2)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if len(got) != 4 {
		t.Errorf("got %d vectors before failure, want 4", len(got))
	}
	if calls := len(m.Calls()); calls != 3 {
		t.Errorf("got %d calls, want 3 (abort after failing chunk)", calls)
	}
}

func TestEmbedOne(t *testing.T) {
	m := NewMockClient(3).Set("yoga", []float32{1, 0, 0})

	vec, err := EmbedOne(context.Background(), m, "yoga", Query)
	if err != nil {
		t.Fatalf("EmbedOne() error = %v", err)
	}
	if vec[0] != 1 || vec[1] != 0 {
		t.Errorf("EmbedOne() = %v", vec)
	}
	if calls := m.Calls(); len(calls) != 1 || calls[0].Mode != Query {
		t.Errorf("calls = %+v, want one query call", calls)
	}
}

// undeclared reports no fixed dimension.
type undeclared struct {
	*MockClient
}

func (undeclared) Dimensions() int { return 0 }

func TestMalformedVectors(t *testing.T) {
	mock := NewMockClient(4).
		Set("empty", []float32{}).
		Set("short", []float32{1, 0}).
		Set("nil", nil)

	tests := []struct {
		name    string
		client  Client
		text    string
		wantErr bool
	}{
		{name: "well formed", client: mock, text: "yoga"},
		{name: "empty", client: mock, text: "empty", wantErr: true},
		{name: "nil", client: mock, text: "nil", wantErr: true},
		{name: "wrong length", client: mock, text: "short", wantErr: true},
		{name: "any length when undeclared", client: undeclared{mock}, text: "short"},
		{name: "empty when undeclared", client: undeclared{mock}, text: "empty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EmbedOne(context.Background(), tt.client, tt.text, Document)
			if tt.wantErr != errors.Is(err, ErrBadVector) {
				t.Errorf("EmbedOne() error = %v, want ErrBadVector %v", err, tt.wantErr)
			}

			got, err := EmbedChunked(context.Background(), tt.client, []string{"first", "second", tt.text}, Document, 2)
			if tt.wantErr != errors.Is(err, ErrBadVector) {
				t.Errorf("EmbedChunked() error = %v, want ErrBadVector %v", err, tt.wantErr)
			}
			if tt.wantErr && len(got) != 2 {
				t.Errorf("EmbedChunked() kept %d vectors, want the 2 of the good chunk", len(got))
			}
		})
	}
}

func TestMockVectorsAreUnitLength(t *testing.T) {
	m := NewMockClient(16)
	vecs, err := m.Embed(context.Background(), []string{"a", "b", "a"}, Document)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if math.Abs(norm-1) > 1e-4 {
			t.Errorf("vector %d norm = %f", i, norm)
		}
	}
	for j := range vecs[0] {
		if vecs[0][j] != vecs[2][j] {
			t.Fatal("same text produced different vectors")
		}
	}
}

type flakyClient struct {
	*MockClient
	failures int
	err      error
}

func (f *flakyClient) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	return f.MockClient.Embed(ctx, texts, mode)
}

func TestResilient(t *testing.T) {
	policy := ctrl.RetryPolicy{Attempts: 2, Delay: time.Millisecond, Retryable: ctrl.IsTransient}

	tests := []struct {
		name     string
		failures int
		err      error
		wantErr  bool
	}{
		{name: "no failure", failures: 0},
		{name: "one transient failure", failures: 1, err: ctrl.WithStatus(errors.New("unavailable"), 503)},
		{name: "two transient failures", failures: 2, err: ctrl.WithStatus(errors.New("unavailable"), 503), wantErr: true},
		{name: "permanent failure", failures: 1, err: ctrl.WithStatus(errors.New("bad request"), 400), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flakyClient{MockClient: NewMockClient(4), failures: tt.failures, err: tt.err}
			r := NewResilient(inner, policy, time.Second)

			_, err := r.Embed(context.Background(), []string{"x"}, Query)
			if (err != nil) != tt.wantErr {
				t.Errorf("Embed() error = %v, wantErr %v", err, tt.wantErr)
			}
			if r.Name() != "mock" {
				t.Errorf("Name() = %q, want promoted mock name", r.Name())
			}
		})
	}
}
