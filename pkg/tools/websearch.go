package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"golang.org/x/net/html"

	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/scout"
)

// WebSearchName is the function name the model sees.
const WebSearchName = "web_search"

const (
	defaultBraveURL = "https://api.search.brave.com/res/v1/web/search"
	defaultDDGURL   = "https://html.duckduckgo.com/html/"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearchConfig configures the web_search tool.
type WebSearchConfig struct {
	// Optional. Brave Search API key. DuckDuckGo HTML search is used when empty
	BraveAPIKey string

	// Optional. Results returned to the model. Default 8
	MaxResults int

	// Optional. Per-search timeout. Default 10s
	Timeout time.Duration

	// Optional. Endpoint overrides (tests)
	BraveURL string
	DDGURL   string

	// Optional. HTTP client. Default: a client with Timeout
	HTTPClient *http.Client
}

// DefaultWebSearchConfig reads BRAVE_API_KEY from the environment.
func DefaultWebSearchConfig() WebSearchConfig {
	return WebSearchConfig{
		BraveAPIKey: os.Getenv("BRAVE_API_KEY"),
		MaxResults:  8,
		Timeout:     10 * time.Second,
	}
}

// WebSearch is the web_search tool.
type WebSearch struct {
	cfg    WebSearchConfig
	client *http.Client
}

// NewWebSearch creates the tool. Zero config fields take their defaults.
func NewWebSearch(cfg WebSearchConfig) *WebSearch {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BraveURL == "" {
		cfg.BraveURL = defaultBraveURL
	}
	if cfg.DDGURL == "" {
		cfg.DDGURL = defaultDDGURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebSearch{cfg: cfg, client: client}
}

func (w *WebSearch) Name() string { return WebSearchName }

func (w *WebSearch) Description() string {
	return "Search the web for current local events. Returns titles, URLs and snippets."
}

func (w *WebSearch) ParametersSchema() *jsonschema.Schema {
	return ObjectSchema([]Property{
		{Name: "query", Type: "string", Description: "Search query, e.g. \"jazz concerts Lisbon this weekend\"", Required: true},
	})
}

// Provider reports which backend serves searches.
func (w *WebSearch) Provider() string {
	if w.cfg.BraveAPIKey != "" {
		return "brave"
	}
	return "duckduckgo"
}

// Call implements Tool. arguments is {"query": "..."}.
func (w *WebSearch) Call(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid web_search arguments: %w", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	results, err := w.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatResults(query, results), nil
}

// Search runs one search, capped at MaxResults.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	scout.LogDebug(ctx, "web search", "provider", w.Provider(), "query", query)

	var (
		results []SearchResult
		err     error
	)
	if w.cfg.BraveAPIKey != "" {
		results, err = w.searchBrave(ctx, query)
	} else {
		results, err = w.searchDDG(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	if len(results) > w.cfg.MaxResults {
		results = results[:w.cfg.MaxResults]
	}
	return results, nil
}

func (w *WebSearch) searchBrave(ctx context.Context, query string) ([]SearchResult, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", w.cfg.BraveURL, url.QueryEscape(query), w.cfg.MaxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.cfg.BraveAPIKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, ctrl.WithStatus(fmt.Errorf("brave search returned %d: %s", resp.StatusCode, body), resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 200*1024)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parsing brave results: %w", err)
	}

	results := make([]SearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: stripTags(r.Description),
		})
	}
	return results, nil
}

func (w *WebSearch) searchDDG(ctx context.Context, query string) ([]SearchResult, error) {
	u := fmt.Sprintf("%s?q=%s", w.cfg.DDGURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "eventscout/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ctrl.WithStatus(fmt.Errorf("duckduckgo returned %d", resp.StatusCode), resp.StatusCode)
	}

	return ParseDDG(io.LimitReader(resp.Body, 512*1024))
}

// ParseDDG extracts results from a DuckDuckGo HTML results page.
func ParseDDG(r io.Reader) ([]SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing duckduckgo html: %w", err)
	}

	var (
		results []SearchResult
		current *SearchResult
	)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				if current != nil && current.Title != "" && current.URL != "" {
					results = append(results, *current)
				}
				current = &SearchResult{
					Title: strings.TrimSpace(textOf(n)),
					URL:   unwrapDDG(attr(n, "href")),
				}
				return
			case hasClass(n, "result__snippet"):
				if current != nil {
					current.Snippet = strings.TrimSpace(textOf(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if current != nil && current.Title != "" && current.URL != "" {
		results = append(results, *current)
	}
	return results, nil
}

// FormatResults renders results as the numbered list handed back to the model.
func FormatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// DuckDuckGo wraps result links in a redirect carrying the target in "uddg".
func unwrapDDG(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// Brave descriptions carry <strong> highlighting.
func stripTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
