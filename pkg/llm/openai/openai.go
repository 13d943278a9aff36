// Package openai implements llm.Client on OpenAI's Chat Completions API, including
// function calling across multiple turns.
//
// Example usage:
//
//	client, err := openai.New("gpt-4o-mini", openai.WithConfig(&openai.Config{
//		Temperature: helpers.PtrOf(float32(0.2)),
//	}))
//	if err != nil {
//		log.Fatal(err)
//	}
//	resp, err := client.Chat(ctx, []llm.Message{llm.User("jazz tonight?")}, nil)
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/helpers"
	"github.com/calque-ai/eventscout/pkg/llm"
	"github.com/calque-ai/eventscout/pkg/tools"
)

// Client implements llm.Client for OpenAI and OpenAI-compatible servers.
type Client struct {
	client *openai.Client
	model  shared.ChatModel
	config *Config
}

// Config holds OpenAI-specific configuration. All fields are optional except the API key.
type Config struct {
	// Required. API key for OpenAI authentication
	APIKey string

	// Optional. Base URL for OpenAI API (defaults to official OpenAI API)
	BaseURL string

	// Optional. Controls randomness in token selection (0.0-2.0)
	Temperature *float32

	// Optional. Maximum number of tokens in the response
	MaxTokens *int

	// Optional. Fixed seed for reproducible responses
	Seed *int

	// Optional. SDK-level retries. Callers that wrap the client in llm.Resilient usually set 0
	MaxRetries *int
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

// DefaultConfig reads OPENAI_API_KEY from the environment and sets temperature 0.3.
func DefaultConfig() *Config {
	return &Config{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		Temperature: helpers.PtrOf(float32(0.3)),
	}
}

// New creates a client for model.
func New(model string, opts ...Option) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(config)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set or provided in config")
	}

	clientOptions := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(config.BaseURL))
	}
	if config.MaxRetries != nil {
		clientOptions = append(clientOptions, option.WithMaxRetries(*config.MaxRetries))
	}
	openaiClient := openai.NewClient(clientOptions...)

	return &Client{
		client: &openaiClient,
		model:  shared.ChatModel(model),
		config: config,
	}, nil
}

// Name implements llm.Client.
func (c *Client) Name() string { return "openai/" + string(c.model) }

// Chat implements llm.Client.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, toolList []tools.Tool) (*llm.Response, error) {
	params, err := c.buildChatParams(messages, toolList)
	if err != nil {
		return nil, err
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to create chat completion: %w", err))
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	msg := completion.Choices[0].Message
	resp := &llm.Response{Content: msg.Content}
	for _, toolCall := range msg.ToolCalls {
		fn := toolCall.AsFunction()
		if fn.Function.Name == "" {
			continue
		}
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:        fn.ID,
			Name:      fn.Function.Name,
			Arguments: fn.Function.Arguments,
		})
	}
	return resp, nil
}

func (c *Client) buildChatParams(messages []llm.Message, toolList []tools.Tool) (openai.ChatCompletionNewParams, error) {
	converted, err := toOpenAIMessages(messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: converted,
	}
	if c.config.Temperature != nil {
		params.Temperature = openai.Float(float64(*c.config.Temperature))
	}
	if c.config.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*c.config.MaxTokens))
	}
	if c.config.Seed != nil {
		params.Seed = openai.Int(int64(*c.config.Seed))
	}

	if len(toolList) > 0 {
		converted, err := toOpenAITools(toolList)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		params.Tools = converted
	}
	return params, nil
}

func toOpenAIMessages(messages []llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case llm.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case llm.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, call := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Name,
							Arguments: call.Arguments,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return nil, fmt.Errorf("unsupported message role: %q", m.Role)
		}
	}
	return out, nil
}

func toOpenAITools(toolList []tools.Tool) ([]openai.ChatCompletionToolUnionParam, error) {
	out := make([]openai.ChatCompletionToolUnionParam, len(toolList))
	for i, tool := range toolList {
		parameters, err := tools.ParametersMap(tool.ParametersSchema())
		if err != nil {
			return nil, err
		}
		out[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name(),
			Description: openai.String(tool.Description()),
			Parameters:  parameters,
		})
	}
	return out, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ctrl.WithStatus(err, apiErr.StatusCode)
	}
	return err
}
