// Package embedding turns text into fixed-length vectors.
//
// Every call declares a Mode. Queries and documents are embedded asymmetrically: providers
// that support it receive a task type (Gemini) or an instruction prefix (Ollama), so a
// query vector must never be produced in Document mode or the other way round.
//
// Backends live in subpackages (openai, gemini, ollama). MockClient serves tests.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrBadVector is returned when a provider yields an empty vector or one whose length
// differs from the client's Dimensions.
var ErrBadVector = errors.New("embedding: malformed vector")

// Mode is the embedding intent.
type Mode string

const (
	// Query embeds a user question for retrieval.
	Query Mode = "query"
	// Document embeds an indexed event.
	Document Mode = "document"
)

// DefaultMaxBatch is the per-call input limit assumed when a provider does not declare one.
const DefaultMaxBatch = 100

// Client embeds batches of text.
type Client interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)

	// Dimensions returns the length of produced vectors.
	Dimensions() int

	// MaxBatch returns the maximum number of texts accepted by one Embed call.
	MaxBatch() int

	// Name identifies the provider and model, e.g. "openai/text-embedding-3-small".
	Name() string
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, c Client, text string, mode Mode) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text}, mode)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding: expected 1 vector, got %d", len(vecs))
	}
	if err := checkVectors(c, vecs, 0); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedChunked embeds texts in consecutive chunks no larger than chunkSize and the
// provider's MaxBatch. Output order matches input order. The first failing chunk aborts
// and its error is returned together with the vectors of the chunks that succeeded. A chunk
// containing a malformed vector fails with ErrBadVector.
func EmbedChunked(ctx context.Context, c Client, texts []string, mode Mode, chunkSize int) ([][]float32, error) {
	size := chunkSize
	if limit := c.MaxBatch(); limit > 0 && (size <= 0 || size > limit) {
		size = limit
	}
	if size <= 0 {
		size = DefaultMaxBatch
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := c.Embed(ctx, texts[start:end], mode)
		if err != nil {
			return out, fmt.Errorf("embedding chunk %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != end-start {
			return out, fmt.Errorf("embedding chunk %d-%d: expected %d vectors, got %d", start, end-1, end-start, len(vecs))
		}
		if err := checkVectors(c, vecs, start); err != nil {
			return out, fmt.Errorf("embedding chunk %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// checkVectors rejects empty vectors, and vectors of the wrong length when c declares its
// Dimensions. offset numbers the vectors in error messages.
func checkVectors(c Client, vecs [][]float32, offset int) error {
	dims := c.Dimensions()
	for i, v := range vecs {
		switch {
		case len(v) == 0:
			return fmt.Errorf("%w: vector %d is empty", ErrBadVector, offset+i)
		case dims > 0 && len(v) != dims:
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrBadVector, offset+i, len(v), dims)
		}
	}
	return nil
}
