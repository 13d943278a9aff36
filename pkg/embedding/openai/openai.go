// Package openai implements embedding.Client on the OpenAI embeddings API.
//
// OpenAI embedding models take no task type, so Query and Document mode produce vectors
// from the same endpoint; the mode only shows up in logs and retries.
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/embedding"
)

// Config holds OpenAI embedding configuration.
type Config struct {
	// Required. API key for OpenAI authentication
	APIKey string

	// Optional. Base URL for OpenAI-compatible servers
	BaseURL string

	// Optional. Output dimensions for models that support shortening (text-embedding-3-*)
	Dimensions int

	// Optional. Inputs per request. Default 100
	MaxBatch int
}

// Option configures the client.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		if key != "" {
			c.APIKey = key
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithDimensions requests shortened vectors.
func WithDimensions(n int) Option {
	return func(c *Config) { c.Dimensions = n }
}

// DefaultConfig reads OPENAI_API_KEY from the environment and uses 1536 dimensions.
func DefaultConfig() *Config {
	return &Config{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		Dimensions: 1536,
		MaxBatch:   embedding.DefaultMaxBatch,
	}
}

// Client implements embedding.Client.
type Client struct {
	client *openai.Client
	model  string
	config *Config
}

// New creates an OpenAI embedding client.
//
// Example:
//
//	client, err := openai.New("text-embedding-3-small", openai.WithDimensions(768))
func New(model string, opts ...Option) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set or provided in config")
	}

	clientOptions := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(config.BaseURL))
	}
	oc := openai.NewClient(clientOptions...)

	return &Client{client: &oc, model: model, config: config}, nil
}

// Embed implements embedding.Client.
func (c *Client) Embed(ctx context.Context, texts []string, _ embedding.Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(c.model),
	}
	if c.config.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.config.Dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classify(fmt.Errorf("openai embeddings: %w", err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Dimensions implements embedding.Client.
func (c *Client) Dimensions() int { return c.config.Dimensions }

// MaxBatch implements embedding.Client.
func (c *Client) MaxBatch() int {
	if c.config.MaxBatch > 0 {
		return c.config.MaxBatch
	}
	return embedding.DefaultMaxBatch
}

// Name implements embedding.Client.
func (c *Client) Name() string { return "openai/" + c.model }

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ctrl.WithStatus(err, apiErr.StatusCode)
	}
	return err
}
