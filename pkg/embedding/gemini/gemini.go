// Package gemini implements embedding.Client on the Gemini embedContent API, mapping
// Query and Document mode to the RETRIEVAL_QUERY and RETRIEVAL_DOCUMENT task types.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/embedding"
)

const (
	taskQuery    = "RETRIEVAL_QUERY"
	taskDocument = "RETRIEVAL_DOCUMENT"
)

// Config holds Gemini embedding configuration.
type Config struct {
	// Required. API key for Google AI authentication
	APIKey string

	// Optional. Output dimensionality (gemini-embedding-001 supports 768, 1536, 3072)
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

// WithDimensions sets the output dimensionality.
func WithDimensions(n int) Option {
	return func(c *Config) { c.Dimensions = n }
}

// DefaultConfig reads GOOGLE_API_KEY from the environment and uses 768 dimensions.
func DefaultConfig() *Config {
	return &Config{
		APIKey:     os.Getenv("GOOGLE_API_KEY"),
		Dimensions: 768,
		MaxBatch:   embedding.DefaultMaxBatch,
	}
}

// Client implements embedding.Client.
type Client struct {
	client *genai.Client
	model  string
	config *Config
}

// New creates a Gemini embedding client.
func New(model string, opts ...Option) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY environment variable not set or provided in config")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{client: client, model: model, config: config}, nil
}

// Embed implements embedding.Client.
func (c *Client) Embed(ctx context.Context, texts []string, mode embedding.Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: TaskType(mode)}
	if c.config.Dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(c.config.Dimensions))
	}

	resp, err := c.client.Models.EmbedContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, classify(fmt.Errorf("gemini embed: %w", err))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: expected %d vectors, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// TaskType maps a mode to the Gemini task type.
func TaskType(mode embedding.Mode) string {
	if mode == embedding.Query {
		return taskQuery
	}
	return taskDocument
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
func (c *Client) Name() string { return "gemini/" + c.model }

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ctrl.WithStatus(err, apiErr.Code)
	}
	return err
}
