// Package llm defines the multi-turn, tool-calling chat contract the formatter, discovery
// loop and crawler speak, independent of the provider behind it.
//
// A conversation is a slice of Messages. Each Chat call sends the whole transcript and
// returns either text or a set of tool calls the caller must execute and answer with
// RoleTool messages carrying the matching ToolCallID.
//
// Backends live in subpackages (openai, gemini). MockClient serves tests.
package llm

import (
	"context"

	"github.com/calque-ai/eventscout/pkg/tools"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn of the transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Response is the model's reply to one Chat call.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// HasToolCalls reports whether the model asked for tools.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Message converts the reply into the assistant message to append to the transcript.
func (r *Response) Message() Message {
	return Message{Role: RoleAssistant, Content: r.Content, ToolCalls: r.ToolCalls}
}

// Client is a chat model. Implementations hold no per-conversation state and are safe for
// concurrent use.
type Client interface {
	// Chat sends the transcript. toolList may be empty, in which case the model must answer
	// with text.
	Chat(ctx context.Context, messages []Message, toolList []tools.Tool) (*Response, error)

	// Name identifies the provider and model, e.g. "gemini/gemini-2.5-flash".
	Name() string
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// ToolResult builds the answer to a tool call.
func ToolResult(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// Complete runs a single-turn, tool-free exchange and returns the text.
func Complete(ctx context.Context, c Client, system, user string) (string, error) {
	messages := []Message{User(user)}
	if system != "" {
		messages = append([]Message{System(system)}, messages...)
	}
	resp, err := c.Chat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
