// Package ollama implements embedding.Client on a local Ollama server.
//
// Retrieval models served by Ollama (nomic-embed-text, mxbai-embed-large) expect an
// instruction prefix to tell queries from documents; the prefixes are configurable.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"

	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/embedding"
)

// Config holds Ollama embedding configuration.
type Config struct {
	// Optional. Server URL. Default: OLLAMA_HOST or http://localhost:11434
	Host string

	// Optional. Prefix prepended in Query mode. Default "search_query: "
	QueryPrefix string

	// Optional. Prefix prepended in Document mode. Default "search_document: "
	DocumentPrefix string

	// Required. Vector length the model produces
	Dimensions int

	// Optional. Inputs per request. Default 100
	MaxBatch int
}

// Option configures the client.
type Option func(*Config)

// WithHost sets the server URL.
func WithHost(host string) Option {
	return func(c *Config) {
		if host != "" {
			c.Host = host
		}
	}
}

// WithPrefixes overrides the instruction prefixes.
func WithPrefixes(query, document string) Option {
	return func(c *Config) {
		c.QueryPrefix = query
		c.DocumentPrefix = document
	}
}

// WithDimensions sets the expected vector length.
func WithDimensions(n int) Option {
	return func(c *Config) { c.Dimensions = n }
}

// DefaultConfig reads OLLAMA_HOST and uses nomic-embed-text conventions.
func DefaultConfig() *Config {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	return &Config{
		Host:           host,
		QueryPrefix:    "search_query: ",
		DocumentPrefix: "search_document: ",
		Dimensions:     768,
		MaxBatch:       embedding.DefaultMaxBatch,
	}
}

// Client implements embedding.Client.
type Client struct {
	client *api.Client
	model  string
	config *Config
}

// New creates an Ollama embedding client.
func New(model string, opts ...Option) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	u, err := url.Parse(config.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", config.Host, err)
	}

	return &Client{
		client: api.NewClient(u, http.DefaultClient),
		model:  model,
		config: config,
	}, nil
}

// Embed implements embedding.Client.
func (c *Client) Embed(ctx context.Context, texts []string, mode embedding.Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]string, len(texts))
	for i, text := range texts {
		input[i] = c.prefix(mode) + text
	}

	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: c.model,
		Input: input,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("ollama embed: %w", err))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d vectors, got %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

func (c *Client) prefix(mode embedding.Mode) string {
	if mode == embedding.Query {
		return c.config.QueryPrefix
	}
	return c.config.DocumentPrefix
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
func (c *Client) Name() string { return "ollama/" + c.model }

func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return ctrl.WithStatus(err, statusErr.StatusCode)
	}
	return err
}
