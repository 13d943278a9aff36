// Package discovery finds events the index does not know about by letting the LLM search
// the web with tools.
//
// The conversation is a bounded state machine. Advance performs exactly one turn; Run
// drives turns until the model answers or MaxTurns is reached, forcing a final tool-free
// turn inside the cap. Run never returns an error: every failure ends in FallbackText.
package discovery

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/extract"
	"github.com/calque-ai/eventscout/pkg/llm"
	"github.com/calque-ai/eventscout/pkg/scout"
	"github.com/calque-ai/eventscout/pkg/tools"
)

const (
	// DefaultMaxTurns bounds a conversation.
	DefaultMaxTurns = 6

	// FallbackText is returned when discovery produces no usable answer.
	FallbackText = "I couldn't find anything for that right now. Try a different search or check back later."

	finalNudge = "Stop searching now. Answer with the JSON object using what you have found so far."
)

// Config tunes a Discovery.
type Config struct {
	// MaxTurns is the number of LLM calls per conversation. Default: DefaultMaxTurns.
	MaxTurns int

	// Area is the place searches are scoped to, e.g. "Lisbon". Optional.
	Area string

	// Location is the zone dates are read in. Default: UTC.
	Location *time.Location
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{MaxTurns: DefaultMaxTurns, Location: time.UTC}
}

// State is the conversation so far.
type State struct {
	Turn       int
	Transcript []llm.Message
	Done       bool
	Final      string
}

// Step describes what one Advance did.
type Step struct {
	ToolCalls int
	Final     bool
}

// Result is the outcome of a conversation.
type Result struct {
	Text     string
	Events   []event.Event
	Turns    int
	Fallback bool
}

// Discovery runs tool-using search conversations.
type Discovery struct {
	client llm.Client
	tools  *tools.Registry
	config Config
}

// New creates a Discovery. registry holds the tools offered to the model.
func New(client llm.Client, registry *tools.Registry, config Config) *Discovery {
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultMaxTurns
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Discovery{client: client, tools: registry, config: config}
}

// MaxTurns returns the turn cap.
func (d *Discovery) MaxTurns() int { return d.config.MaxTurns }

var systemPrompt = template.Must(template.New("discovery").Parse(
	`You are eventscout, a local events researcher.
Current date and time: {{.Now}}.{{if .Area}} The user is in {{.Area}}.{{end}}

Use the {{.Tool}} tool to find real, upcoming events that answer the user's request. Prefer
official listings and ticketing pages. Do not invent events, dates or links.

When you are done, reply with a single JSON object and nothing else:
{"text": "<one short sentence for the user>", "events": [{"title": "", "category": "", "date": "YYYY-MM-DD HH:MM or empty", "endDate": "", "venue": "", "location": "", "description": "", "tags": [], "price": "", "link": ""}]}
Allowed categories: {{.Categories}}.`))

// Start builds the opening state for query.
func (d *Discovery) Start(query string, now time.Time) State {
	return State{Transcript: []llm.Message{
		llm.System(d.systemPrompt(now)),
		llm.User(query),
	}}
}

func (d *Discovery) systemPrompt(now time.Time) string {
	cats := make([]string, len(event.Categories))
	for i, c := range event.Categories {
		cats[i] = string(c)
	}
	var b bytes.Buffer
	// the template is static and its data is plain strings
	_ = systemPrompt.Execute(&b, map[string]any{
		"Now":        now.In(d.config.Location).Format("Monday 2 January 2006, 15:04 MST"),
		"Area":       d.config.Area,
		"Tool":       tools.WebSearchName,
		"Categories": strings.Join(cats, ", "),
	})
	return b.String()
}

// Advance performs one turn. On the last turn allowed by MaxTurns the model is asked for
// its answer without tools. Tool failures are reported to the model as tool output; only
// an LLM failure is returned as an error, with the state unchanged.
func (d *Discovery) Advance(ctx context.Context, s State) (State, Step, error) {
	if s.Done {
		return s, Step{Final: true}, nil
	}

	final := s.Turn+1 >= d.config.MaxTurns
	transcript := s.Transcript
	var offered []tools.Tool
	if final {
		transcript = append(cloneMessages(transcript), llm.User(finalNudge))
	} else {
		offered = d.tools.List()
	}

	resp, err := d.client.Chat(ctx, transcript, offered)
	if err != nil {
		return s, Step{}, scout.WrapErr(ctx, err, "discovery turn failed").
			Tag(slog.Int("turn", s.Turn+1))
	}

	next := State{Turn: s.Turn + 1, Transcript: cloneMessages(transcript)}
	if final || !resp.HasToolCalls() {
		next.Transcript = append(next.Transcript, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		next.Done = true
		next.Final = resp.Content
		return next, Step{Final: true}, nil
	}

	next.Transcript = append(next.Transcript, resp.Message())
	for _, call := range resp.ToolCalls {
		out, err := d.tools.Execute(ctx, call.Name, call.Arguments)
		if err != nil {
			scout.LogWarn(ctx, "discovery tool failed", "tool", call.Name, "error", err)
			out = "Error: " + err.Error()
		}
		next.Transcript = append(next.Transcript, llm.ToolResult(call, out))
	}
	return next, Step{ToolCalls: len(resp.ToolCalls)}, nil
}

type answer struct {
	Text   string      `json:"text"`
	Events []event.Raw `json:"events"`
}

// Converse drives a fresh conversation for query until the model answers or the turn cap
// is reached. Unlike Run it reports an LLM failure, together with the state so far.
func (d *Discovery) Converse(ctx context.Context, query string, now time.Time) (State, error) {
	state := d.Start(query, now)
	for !state.Done && state.Turn < d.config.MaxTurns {
		next, step, err := d.Advance(ctx, state)
		if err != nil {
			return state, err
		}
		state = next
		scout.LogDebug(ctx, "discovery turn", "turn", state.Turn, "tool_calls", step.ToolCalls, "done", state.Done)
	}
	return state, nil
}

// Run answers query with a fresh conversation.
func (d *Discovery) Run(ctx context.Context, query string, now time.Time) Result {
	state, err := d.Converse(ctx, query, now)
	if err != nil {
		scout.LogError(ctx, "discovery aborted", err, "turns", state.Turn)
		return Result{Text: FallbackText, Turns: state.Turn, Fallback: true}
	}

	res := d.Parse(ctx, state.Final, now)
	res.Turns = state.Turn
	return res
}

// Parse extracts the answer from the model's final text. Events without a title are
// dropped and repeated listings collapse to the first sighting.
func (d *Discovery) Parse(ctx context.Context, final string, now time.Time) Result {
	var a answer
	if err := extract.Decode(final, &a); err != nil {
		scout.LogWarn(ctx, "discovery output unusable", "error", err)
		return Result{Text: FallbackText, Fallback: true}
	}

	seen := make(map[string]bool, len(a.Events))
	events := make([]event.Event, 0, len(a.Events))
	for _, raw := range a.Events {
		ev := raw.Normalize(event.OriginDiscovered, now, d.config.Location)
		if ev.Title == "" || seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		events = append(events, ev)
	}

	text := strings.TrimSpace(a.Text)
	if text == "" {
		if len(events) == 0 {
			return Result{Text: FallbackText, Fallback: true}
		}
		text = "Here's what I found."
	}
	return Result{Text: text, Events: events}
}

func cloneMessages(msgs []llm.Message) []llm.Message {
	return append(make([]llm.Message, 0, len(msgs)+2), msgs...)
}
