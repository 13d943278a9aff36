// Package gemini implements llm.Client on Google's Gemini models through the genai SDK,
// mapping the transcript onto user/model contents with function-call and
// function-response parts.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/helpers"
	"github.com/calque-ai/eventscout/pkg/llm"
	"github.com/calque-ai/eventscout/pkg/tools"
)

// Client implements llm.Client for Gemini.
type Client struct {
	client *genai.Client
	model  string
	config *Config
}

// Config holds Gemini-specific configuration.
type Config struct {
	// Required. API key for Google AI authentication
	APIKey string

	// Optional. Controls randomness in token selection (0.0-2.0)
	Temperature *float32

	// Optional. Maximum number of tokens in the response
	MaxTokens *int

	// Optional. System instruction prepended to every conversation, in addition to any
	// system messages in the transcript
	SystemInstruction string
}

// Option configures the client.
type Option interface {
	Apply(*Config)
}

type configOption struct {
	config *Config
}

func (o configOption) Apply(opts *Config) {
	helpers.Merge(opts, o.config)
}

// WithConfig merges cfg over the defaults; only non-zero fields override.
func WithConfig(cfg *Config) Option {
	return configOption{config: cfg}
}

// DefaultConfig reads GOOGLE_API_KEY from the environment and sets temperature 0.3.
func DefaultConfig() *Config {
	return &Config{
		APIKey:      os.Getenv("GOOGLE_API_KEY"),
		Temperature: helpers.PtrOf(float32(0.3)),
	}
}

// New creates a client for model.
//
// Example:
//
//	client, err := gemini.New("gemini-2.5-flash")
//	if err != nil { log.Fatal(err) }
func New(model string, opts ...Option) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(config)
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

// Name implements llm.Client.
func (g *Client) Name() string { return "gemini/" + g.model }

// Chat implements llm.Client.
func (g *Client) Chat(ctx context.Context, messages []llm.Message, toolList []tools.Tool) (*llm.Response, error) {
	contents, system, err := toContents(messages)
	if err != nil {
		return nil, err
	}

	cfg := g.buildGenerateConfig(system)
	if len(toolList) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(toolList)}}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get response: %w", err))
	}

	resp := &llm.Response{}
	for i, fc := range result.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode function call arguments: %w", err)
		}
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("%s_%d", fc.Name, i)
		}
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{ID: id, Name: fc.Name, Arguments: string(args)})
	}
	if len(resp.ToolCalls) == 0 {
		resp.Content = result.Text()
	}
	return resp, nil
}

func (g *Client) buildGenerateConfig(system string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if g.config.Temperature != nil {
		config.Temperature = genai.Ptr(*g.config.Temperature)
	}
	if g.config.MaxTokens != nil {
		config.MaxOutputTokens = int32(*g.config.MaxTokens)
	}

	instruction := strings.TrimSpace(strings.Join([]string{g.config.SystemInstruction, system}, "\n\n"))
	if instruction != "" {
		config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}
	return config
}

// toContents splits system messages out (Gemini takes them as SystemInstruction) and maps
// the rest onto user/model contents.
func toContents(messages []llm.Message) ([]*genai.Content, string, error) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case llm.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, call := range m.ToolCalls {
				args := map[string]any{}
				if call.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
						return nil, "", fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: args}})
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case llm.RoleTool:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: map[string]any{"output": m.Content},
				},
			}}, genai.RoleUser))
		default:
			return nil, "", fmt.Errorf("unsupported message role: %q", m.Role)
		}
	}
	return contents, strings.Join(system, "\n\n"), nil
}

func toFunctionDeclarations(toolList []tools.Tool) []*genai.FunctionDeclaration {
	functions := make([]*genai.FunctionDeclaration, 0, len(toolList))
	for _, tool := range toolList {
		functions = append(functions, &genai.FunctionDeclaration{
			Name:                 tool.Name(),
			Description:          tool.Description(),
			ParametersJsonSchema: tool.ParametersSchema(),
		})
	}
	return functions
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ctrl.WithStatus(err, apiErr.Code)
	}
	return err
}
