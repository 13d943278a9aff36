package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calque-ai/eventscout/pkg/ctrl"
)

func echoTool(name string) Tool {
	return New(name, "echo arguments", ObjectSchema(nil), func(_ context.Context, args string) (string, error) {
		return name + ":" + args, nil
	})
}

func TestRegistry(t *testing.T) {
	panicky := New("panicky", "always panics", nil, func(context.Context, string) (string, error) {
		panic("kaboom")
	})
	failing := New("failing", "always fails", nil, func(context.Context, string) (string, error) {
		return "", errors.New("no luck")
	})

	reg := NewRegistry(echoTool("a"), echoTool("b"), panicky, failing)
	reg.Register(New("a", "replaced", nil, func(context.Context, string) (string, error) { return "new a", nil }))

	if got := strings.Join(reg.Names(), ","); got != "a,b,panicky,failing" {
		t.Errorf("Names() = %q", got)
	}

	tests := []struct {
		name    string
		tool    string
		want    string
		wantErr string
	}{
		{name: "registered", tool: "b", want: `b:{"x":1}`},
		{name: "replacement wins", tool: "a", want: "new a"},
		{name: "unknown", tool: "missing", wantErr: "unknown tool"},
		{name: "panic recovered", tool: "panicky", wantErr: "panicked"},
		{name: "error passed through", tool: "failing", wantErr: "no luck"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Execute(context.Background(), tt.tool, `{"x":1}`)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Execute() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Execute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParametersMap(t *testing.T) {
	schema := ObjectSchema([]Property{
		{Name: "query", Type: "string", Description: "q", Required: true},
		{Name: "limit", Type: "integer"},
	})
	m, err := ParametersMap(schema)
	if err != nil {
		t.Fatal(err)
	}
	if m["type"] != "object" {
		t.Errorf("type = %v", m["type"])
	}
	props, ok := m["properties"].(map[string]any)
	if !ok || len(props) != 2 {
		t.Fatalf("properties = %v", m["properties"])
	}
	req, ok := m["required"].([]any)
	if !ok || len(req) != 1 || req[0] != "query" {
		t.Errorf("required = %v", m["required"])
	}

	empty, err := ParametersMap(nil)
	if err != nil || empty["type"] != "object" {
		t.Errorf("ParametersMap(nil) = %v, %v", empty, err)
	}
}

const ddgPage = `<html><body>
<div class="result results_links">
  <h2 class="result__title">
    <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fjazz&amp;rut=abc">Jazz <b>Night</b></a>
  </h2>
  <a class="result__snippet" href="#">Live jazz every Friday at the Blue Room.</a>
</div>
<div class="result results_links">
  <h2 class="result__title">
    <a rel="nofollow" class="result__a" href="https://example.org/yoga">Sunrise Yoga</a>
  </h2>
  <a class="result__snippet" href="#">Beach yoga, <b>free</b>.</a>
</div>
<div class="result"><a class="result__a" href="">No link</a></div>
</body></html>`

func TestParseDDG(t *testing.T) {
	results, err := ParseDDG(strings.NewReader(ddgPage))
	if err != nil {
		t.Fatal(err)
	}
	want := []SearchResult{
		{Title: "Jazz Night", URL: "https://example.com/jazz", Snippet: "Live jazz every Friday at the Blue Room."},
		{Title: "Sunrise Yoga", URL: "https://example.org/yoga", Snippet: "Beach yoga, free."},
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d: %+v", len(results), len(want), results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result %d = %+v, want %+v", i, results[i], want[i])
		}
	}
}

func TestWebSearchDuckDuckGo(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, ddgPage)
	}))
	defer srv.Close()

	ws := NewWebSearch(WebSearchConfig{DDGURL: srv.URL, MaxResults: 1})
	if ws.Provider() != "duckduckgo" {
		t.Errorf("Provider() = %q", ws.Provider())
	}

	out, err := ws.Call(context.Background(), `{"query":"jazz lisbon"}`)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if gotQuery != "jazz lisbon" {
		t.Errorf("server saw q=%q", gotQuery)
	}
	if !strings.Contains(out, "Jazz Night") || strings.Contains(out, "Sunrise Yoga") {
		t.Errorf("Call() = %q, want only the first result", out)
	}
}

func TestWebSearchBrave(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      string
		wantErr   bool
		transient bool
	}{
		{
			name:   "results",
			status: http.StatusOK,
			body:   `{"web":{"results":[{"title":"Food Fest","url":"https://food.example","description":"<strong>Street</strong> food"}]}}`,
			want:   "1. Food Fest\n   https://food.example\n   Street food",
		},
		{
			name:   "no results",
			status: http.StatusOK,
			body:   `{"web":{"results":[]}}`,
			want:   "No results found for: food",
		},
		{name: "rate limited", status: http.StatusTooManyRequests, body: "slow down", wantErr: true, transient: true},
		{name: "bad key", status: http.StatusUnauthorized, body: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("X-Subscription-Token") != "key" {
					t.Errorf("missing subscription token")
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			ws := NewWebSearch(WebSearchConfig{BraveAPIKey: "key", BraveURL: srv.URL})
			out, err := ws.Call(context.Background(), `{"query":"food"}`)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if ctrl.IsTransient(err) != tt.transient {
					t.Errorf("IsTransient(%v) = %v, want %v", err, !tt.transient, tt.transient)
				}
				return
			}
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("Call() = %q, want containing %q", out, tt.want)
			}
		})
	}
}

func TestWebSearchRejectsBadArguments(t *testing.T) {
	ws := NewWebSearch(WebSearchConfig{DDGURL: "http://127.0.0.1:0"})
	for _, args := range []string{`not json`, `{"query":"  "}`} {
		if _, err := ws.Call(context.Background(), args); err == nil {
			t.Errorf("Call(%q) expected error", args)
		}
	}
}
