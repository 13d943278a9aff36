package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/calque-ai/eventscout/pkg/tools"
)

// MockClient replays scripted responses in order, for tests.
//
// When the script runs out, Default is returned if set; otherwise Chat fails.
type MockClient struct {
	mu      sync.Mutex
	script  []mockStep
	pos     int
	calls   []MockCall
	Default *Response
}

type mockStep struct {
	resp *Response
	err  error
}

// MockCall records one Chat invocation.
type MockCall struct {
	Messages []Message
	Tools    []string
}

// NewMockClient creates a mock that answers each call with the next text.
func NewMockClient(replies ...string) *MockClient {
	m := &MockClient{}
	for _, r := range replies {
		m.Reply(r)
	}
	return m
}

// Reply appends a text response to the script.
func (m *MockClient) Reply(text string) *MockClient {
	return m.push(mockStep{resp: &Response{Content: text}})
}

// CallTools appends a response requesting the given tool calls. Missing ids are filled in.
func (m *MockClient) CallTools(calls ...ToolCall) *MockClient {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d_%d", len(m.script), i)
		}
		out[i] = c
	}
	return m.push(mockStep{resp: &Response{ToolCalls: out}})
}

// Fail appends an error to the script.
func (m *MockClient) Fail(err error) *MockClient {
	return m.push(mockStep{err: err})
}

func (m *MockClient) push(s mockStep) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, s)
	return m
}

// Chat implements Client.
func (m *MockClient) Chat(ctx context.Context, messages []Message, toolList []tools.Tool) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(toolList))
	for i, t := range toolList {
		names[i] = t.Name()
	}
	m.calls = append(m.calls, MockCall{
		Messages: append([]Message(nil), messages...),
		Tools:    names,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.pos >= len(m.script) {
		if m.Default != nil {
			resp := *m.Default
			return &resp, nil
		}
		return nil, fmt.Errorf("mock: no scripted response for call %d", len(m.calls))
	}

	step := m.script[m.pos]
	m.pos++
	if step.err != nil {
		return nil, step.err
	}
	resp := *step.resp
	return &resp, nil
}

// Name implements Client.
func (m *MockClient) Name() string { return "mock" }

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}
