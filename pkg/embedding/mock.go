package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockClient is a deterministic Client for tests.
//
// Vectors registered with Set are returned verbatim; any other text gets a stable
// pseudo-random unit vector derived from its hash. Every call is recorded.
type MockClient struct {
	mu      sync.Mutex
	dims    int
	vectors map[string][]float32
	errs    map[string]error
	calls   []MockCall

	// Err, when set, fails every call.
	Err error

	// Batch is the reported MaxBatch. Default: DefaultMaxBatch.
	Batch int
}

// MockCall records one Embed invocation.
type MockCall struct {
	Texts []string
	Mode  Mode
}

// NewMockClient creates a mock producing vectors of length dims.
func NewMockClient(dims int) *MockClient {
	return &MockClient{
		dims:    dims,
		vectors: make(map[string][]float32),
		errs:    make(map[string]error),
	}
}

// Set fixes the vector returned for text.
func (m *MockClient) Set(text string, vec []float32) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vec
	return m
}

// FailOn makes any call containing text fail with err.
func (m *MockClient) FailOn(text string, err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[text] = err
	return m
}

// Embed implements Client.
func (m *MockClient) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Texts: append([]string(nil), texts...), Mode: mode})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err, ok := m.errs[text]; ok {
			return nil, err
		}
		if vec, ok := m.vectors[text]; ok {
			out[i] = vec
			continue
		}
		out[i] = hashVector(text, m.dims)
	}
	return out, nil
}

// Dimensions implements Client.
func (m *MockClient) Dimensions() int { return m.dims }

// MaxBatch implements Client.
func (m *MockClient) MaxBatch() int {
	if m.Batch > 0 {
		return m.Batch
	}
	return DefaultMaxBatch
}

// Name implements Client.
func (m *MockClient) Name() string { return "mock" }

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func hashVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	var norm float64
	for i := range vec {
		// xorshift keeps the sequence stable across runs
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(seed%2000)/1000 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
