package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/tools"
)

func TestMockClientScript(t *testing.T) {
	search := tools.New("web_search", "search", nil, func(context.Context, string) (string, error) { return "", nil })
	boom := errors.New("boom")

	m := NewMockClient().
		CallTools(ToolCall{Name: "web_search", Arguments: `{"query":"jazz"}`}).
		Fail(boom).
		Reply("done")

	ctx := context.Background()

	resp, err := m.Chat(ctx, []Message{User("jazz?")}, []tools.Tool{search})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasToolCalls() || resp.ToolCalls[0].ID == "" {
		t.Fatalf("first reply = %+v, want tool call with id", resp)
	}

	if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, boom) {
		t.Errorf("second call error = %v, want boom", err)
	}

	resp, err = m.Chat(ctx, nil, nil)
	if err != nil || resp.Content != "done" {
		t.Errorf("third reply = %+v, %v", resp, err)
	}

	if _, err := m.Chat(ctx, nil, nil); err == nil {
		t.Error("exhausted script should fail")
	}

	m.Default = &Response{Content: "fallback"}
	if resp, _ := m.Chat(ctx, nil, nil); resp.Content != "fallback" {
		t.Errorf("default reply = %q", resp.Content)
	}

	calls := m.Calls()
	if len(calls) != 5 {
		t.Fatalf("recorded %d calls, want 5", len(calls))
	}
	if len(calls[0].Tools) != 1 || calls[0].Tools[0] != "web_search" {
		t.Errorf("first call tools = %v", calls[0].Tools)
	}
}

func TestResponseMessage(t *testing.T) {
	resp := &Response{ToolCalls: []ToolCall{{ID: "1", Name: "web_search"}}}
	msg := resp.Message()
	if msg.Role != RoleAssistant || len(msg.ToolCalls) != 1 {
		t.Errorf("Message() = %+v", msg)
	}

	result := ToolResult(resp.ToolCalls[0], "results")
	if result.Role != RoleTool || result.ToolCallID != "1" || result.Name != "web_search" {
		t.Errorf("ToolResult() = %+v", result)
	}

	var nilResp *Response
	if nilResp.HasToolCalls() {
		t.Error("nil response has no tool calls")
	}
}

func TestComplete(t *testing.T) {
	m := NewMockClient("hello")
	got, err := Complete(context.Background(), m, "be brief", "hi")
	if err != nil || got != "hello" {
		t.Fatalf("Complete() = %q, %v", got, err)
	}
	msgs := m.Calls()[0].Messages
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[1].Role != RoleUser {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestResilient(t *testing.T) {
	policy := ctrl.RetryPolicy{Attempts: 2, Delay: time.Millisecond, Retryable: ctrl.IsTransient}

	tests := []struct {
		name      string
		mock      *MockClient
		want      string
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "transient then success",
			mock:      NewMockClient().Fail(ctrl.WithStatus(errors.New("overloaded"), 503)).Reply("ok"),
			want:      "ok",
			wantCalls: 2,
		},
		{
			name:      "permanent error not retried",
			mock:      NewMockClient().Fail(ctrl.WithStatus(errors.New("bad request"), 400)).Reply("unused"),
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResilient(tt.mock, policy, time.Second)
			resp, err := r.Chat(context.Background(), []Message{User("q")}, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Chat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && resp.Content != tt.want {
				t.Errorf("Chat() = %q, want %q", resp.Content, tt.want)
			}
			if got := len(tt.mock.Calls()); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}
