// Package formatter asks the LLM to rank, trim and summarize a candidate set into the
// final answer.
//
// Format never fails. Whatever goes wrong (provider error, prose without JSON, JSON of the
// wrong shape, a ranking that names no known event) the caller gets FallbackText and the
// candidates in their original order.
package formatter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/hbollon/go-edlib"

	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/extract"
	"github.com/calque-ai/eventscout/pkg/llm"
	"github.com/calque-ai/eventscout/pkg/scout"
)

const (
	// FallbackText accompanies unranked candidates.
	FallbackText = "Here are some events you might like."

	// MaxCandidates bounds the set sent to the model.
	MaxCandidates = 10

	// MaxWords bounds the summary.
	MaxWords = 12

	// FuzzyThreshold is the Jaro-Winkler similarity above which an unknown reference is
	// matched to a candidate title.
	FuzzyThreshold = 0.9
)

// Result is the formatted answer.
type Result struct {
	Text     string
	Events   []event.Candidate
	Fallback bool
}

// IDs returns the ids of r.Events in order.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Events))
	for i, c := range r.Events {
		ids[i] = c.ID
	}
	return ids
}

var systemPrompt = template.Must(template.New("system").Parse(
	`You are eventscout, a friendly local events concierge.
Current date and time: {{.Now}}.

Rank the candidate events by how well they answer the user's question. Leave out events that
clearly do not fit or have already happened. Write a summary of at most {{.MaxWords}} words.

Reply with a single JSON object and nothing else:
{"text": "<summary>", "ids": ["<id of best event>", "<next id>"]}`))

var userPrompt = template.Must(template.New("user").Parse(
	`Question: {{.Query}}

Candidates:
{{.Candidates}}`))

// Formatter formats candidate sets with an LLM.
type Formatter struct {
	client llm.Client
	loc    *time.Location
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithLocation sets the zone the current time is rendered in.
func WithLocation(loc *time.Location) Option {
	return func(f *Formatter) {
		if loc != nil {
			f.loc = loc
		}
	}
}

// New creates a Formatter.
func New(client llm.Client, opts ...Option) *Formatter {
	f := &Formatter{client: client, loc: time.UTC}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type reply struct {
	Text   string   `json:"text"`
	IDs    []string `json:"ids"`
	Events []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"events"`
}

// Format ranks candidates for query. At most MaxCandidates are considered.
func (f *Formatter) Format(ctx context.Context, query string, candidates []event.Candidate, now time.Time) Result {
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	fallback := Result{Text: FallbackText, Events: candidates, Fallback: true}
	if len(candidates) == 0 {
		return fallback
	}

	system, user, err := f.prompts(query, candidates, now)
	if err != nil {
		scout.LogError(ctx, "formatter prompt failed", err)
		return fallback
	}

	text, err := llm.Complete(ctx, f.client, system, user)
	if err != nil {
		scout.LogWarn(ctx, "formatter falling back", "reason", "llm error", "error", err)
		return fallback
	}

	var r reply
	if err := extract.Decode(text, &r); err != nil {
		scout.LogWarn(ctx, "formatter falling back", "reason", "unparseable output", "error", err)
		return fallback
	}

	ranked := Resolve(references(r), candidates)
	if len(ranked) == 0 {
		scout.LogWarn(ctx, "formatter falling back", "reason", "empty ranking")
		return fallback
	}

	summary := ClampWords(r.Text, MaxWords)
	if summary == "" {
		summary = FallbackText
	}
	return Result{Text: summary, Events: ranked}
}

func (f *Formatter) prompts(query string, candidates []event.Candidate, now time.Time) (string, string, error) {
	data, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode candidates: %w", err)
	}

	var system, user bytes.Buffer
	err = systemPrompt.Execute(&system, map[string]any{
		"Now":      now.In(f.loc).Format("Monday 2 January 2006, 15:04 MST"),
		"MaxWords": MaxWords,
	})
	if err != nil {
		return "", "", err
	}
	err = userPrompt.Execute(&user, map[string]any{
		"Query":      query,
		"Candidates": string(data),
	})
	if err != nil {
		return "", "", err
	}
	return system.String(), user.String(), nil
}

func references(r reply) []string {
	refs := append([]string(nil), r.IDs...)
	for _, e := range r.Events {
		switch {
		case e.ID != "":
			refs = append(refs, e.ID)
		case e.Title != "":
			refs = append(refs, e.Title)
		}
	}
	return refs
}

// Resolve maps model references (ids, or titles when the model ignores ids) onto
// candidates, in reference order. Unknown references match the closest title at or above
// FuzzyThreshold and are skipped otherwise. Each candidate appears at most once.
func Resolve(refs []string, candidates []event.Candidate) []event.Candidate {
	byID := make(map[string]int, len(candidates))
	for i, c := range candidates {
		byID[c.ID] = i
	}

	used := make(map[int]bool, len(candidates))
	var out []event.Candidate
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		i, ok := byID[ref]
		if !ok {
			i, ok = closestTitle(ref, candidates)
		}
		if !ok || used[i] {
			continue
		}
		used[i] = true
		out = append(out, candidates[i])
	}
	return out
}

func closestTitle(ref string, candidates []event.Candidate) (int, bool) {
	ref = strings.ToLower(ref)
	best, bestScore := -1, float32(0)
	for i, c := range candidates {
		score := edlib.JaroWinklerSimilarity(ref, strings.ToLower(c.Title))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < FuzzyThreshold {
		return 0, false
	}
	return best, true
}

// ClampWords keeps the first n whitespace-separated words of s.
func ClampWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
