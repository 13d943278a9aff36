package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calque-ai/eventscout/pkg/auth"
	"github.com/calque-ai/eventscout/pkg/background"
	"github.com/calque-ai/eventscout/pkg/crawler"
	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/observability"
	"github.com/calque-ai/eventscout/pkg/pipeline"
)

type fakePipeline struct {
	res   *pipeline.Result
	err   error
	query string
}

func (f *fakePipeline) Query(_ context.Context, q string) (*pipeline.Result, error) {
	f.query = q
	return f.res, f.err
}

type fakeCrawl struct {
	summary *crawler.Summary
	err     error
	ctxDL   bool
}

func (f *fakeCrawl) Trigger(ctx context.Context) (*crawler.Summary, error) {
	_, f.ctxDL = ctx.Deadline()
	return f.summary, f.err
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (*auth.Profile, error) {
	switch token {
	case "good":
		return &auth.Profile{Subject: "42", Email: "ana@example.com", Name: "Ana"}, nil
	case "down":
		return nil, errors.New("certs unavailable")
	default:
		return nil, auth.ErrInvalidToken
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestChat(t *testing.T) {
	answer := &pipeline.Result{
		Text:   "Two raves tonight",
		Events: []event.Candidate{{ID: "a", Title: "Coffee Rave"}},
		Source: pipeline.SourceCache,
		Path:   pipeline.PathCache,
	}

	tests := []struct {
		name       string
		body       string
		pipe       *fakePipeline
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "answer",
			body:       `{"query": "coffee raves tonight?"}`,
			pipe:       &fakePipeline{res: answer},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["text"] != "Two raves tonight" || body["source"] != "cache" {
					t.Errorf("body = %v", body)
				}
				if _, leaked := body["Path"]; leaked {
					t.Error("path must not be serialized")
				}
				if events := body["events"].([]any); len(events) != 1 {
					t.Errorf("events = %v", events)
				}
			},
		},
		{
			name:       "no events serializes an empty list",
			body:       `{"query": "anything"}`,
			pipe:       &fakePipeline{res: &pipeline.Result{Text: "nothing"}},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if events, ok := body["events"].([]any); !ok || len(events) != 0 {
					t.Errorf("events = %#v, want []", body["events"])
				}
				if _, ok := body["source"]; ok {
					t.Error("source should be omitted for computed answers")
				}
			},
		},
		{name: "missing query", body: `{}`, pipe: &fakePipeline{}, wantStatus: http.StatusBadRequest},
		{name: "blank query", body: `{"query": "   "}`, pipe: &fakePipeline{}, wantStatus: http.StatusBadRequest},
		{name: "not json", body: `query=raves`, pipe: &fakePipeline{}, wantStatus: http.StatusBadRequest},
		{
			name:       "pipeline failure",
			body:       `{"query": "raves"}`,
			pipe:       &fakePipeline{err: errors.New("embedding provider down")},
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				if body["text"] != ChatErrorText {
					t.Errorf("text = %v", body["text"])
				}
				if events, ok := body["events"].([]any); !ok || len(events) != 0 {
					t.Errorf("events = %#v, want []", body["events"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Deps{Pipeline: tt.pipe}, Config{})
			rec := do(t, s, http.MethodPost, "/api/chat", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.check != nil {
				tt.check(t, decodeBody(t, rec))
			}
		})
	}
}

func TestNoBackend(t *testing.T) {
	s := New(Deps{Secret: auth.NewSharedSecret("s3cret")}, Config{})

	rec := do(t, s, http.MethodPost, "/api/chat", `{"query": "raves"}`)
	if rec.Code != http.StatusServiceUnavailable || decodeBody(t, rec)["error"] != "backend not configured" {
		t.Errorf("chat = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodPost, "/api/crawl", "", "Authorization", "Bearer s3cret")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("crawl = %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/health", "")
	body := decodeBody(t, rec)
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["backend"] != false {
		t.Errorf("health = %d %v", rec.Code, body)
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"].(string)); err != nil {
		t.Errorf("timestamp: %v", err)
	}
}

func TestCrawl(t *testing.T) {
	summary := &crawler.Summary{Stored: 3, Reasons: map[string]int{crawler.ReasonInWindow: 3}}

	tests := []struct {
		name       string
		header     string
		crawl      *fakeCrawl
		wantStatus int
	}{
		{"authorized", "Bearer s3cret", &fakeCrawl{summary: summary}, http.StatusOK},
		{"no header", "", &fakeCrawl{summary: summary}, http.StatusUnauthorized},
		{"wrong secret", "Bearer guess", &fakeCrawl{summary: summary}, http.StatusUnauthorized},
		{"already running", "Bearer s3cret", &fakeCrawl{err: crawler.ErrRunning}, http.StatusConflict},
		{"timed out", "Bearer s3cret", &fakeCrawl{summary: summary, err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Deps{Pipeline: &fakePipeline{}, Crawl: tt.crawl, Secret: auth.NewSharedSecret("s3cret")}, Config{CrawlTimeout: time.Minute})
			var headers []string
			if tt.header != "" {
				headers = []string{"Authorization", tt.header}
			}
			rec := do(t, s, http.MethodPost, "/api/crawl", "", headers...)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if rec.Code == http.StatusOK {
				if body := decodeBody(t, rec); body["stored"] != float64(3) {
					t.Errorf("body = %v", body)
				}
				if !tt.crawl.ctxDL {
					t.Error("crawl ran without a deadline")
				}
			}
		})
	}
}

func TestCrawlRejectedWithoutConfiguredSecret(t *testing.T) {
	s := New(Deps{Crawl: &fakeCrawl{}}, Config{})
	rec := do(t, s, http.MethodPost, "/api/crawl", "", "Authorization", "Bearer ")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestSeed(t *testing.T) {
	queue := background.New(background.Config{Workers: 1})
	t.Cleanup(func() { _ = queue.Close(context.Background()) })

	var runs atomic.Int32
	s := New(Deps{
		Pipeline: &fakePipeline{},
		Queue:    queue,
		Secret:   auth.NewSharedSecret("s3cret"),
		Seed: func(context.Context) (crawler.BackfillReport, error) {
			runs.Add(1)
			return crawler.BackfillReport{Embedded: 2}, nil
		},
	}, Config{})

	rec := do(t, s, http.MethodPost, "/api/seed", "", "Authorization", "Bearer s3cret")
	if rec.Code != http.StatusAccepted || decodeBody(t, rec)["status"] != "accepted" {
		t.Fatalf("seed = %d %s", rec.Code, rec.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := queue.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 1 {
		t.Errorf("seed ran %d times, want 1", runs.Load())
	}

	if rec := do(t, s, http.MethodPost, "/api/seed", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated seed = %d", rec.Code)
	}
}

func TestGoogleAuth(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"token": "good"}`, http.StatusOK},
		{"invalid", `{"token": "forged"}`, http.StatusUnauthorized},
		{"missing", `{}`, http.StatusBadRequest},
		{"verifier down", `{"token": "down"}`, http.StatusBadGateway},
	}
	s := New(Deps{Verifier: fakeVerifier{}}, Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/auth/google", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Code == http.StatusOK {
				body := decodeBody(t, rec)
				if body["sub"] != "42" || body["email"] != "ana@example.com" {
					t.Errorf("profile = %v", body)
				}
			}
		})
	}

	unconfigured := New(Deps{}, Config{})
	if rec := do(t, unconfigured, http.MethodPost, "/api/auth/google", `{"token": "good"}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured = %d", rec.Code)
	}
}

func TestReady(t *testing.T) {
	health := observability.NewHealthRegistry(time.Second)
	health.RegisterFunc("index", func(context.Context) error { return nil })
	s := New(Deps{Health: health}, Config{})

	if rec := do(t, s, http.MethodGet, "/health/ready", ""); rec.Code != http.StatusOK {
		t.Errorf("ready = %d %s", rec.Code, rec.Body.String())
	}

	health.RegisterFunc("cache", func(context.Context) error { return errors.New("connection refused") })
	rec := do(t, s, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing check = %d", rec.Code)
	}
	checks := decodeBody(t, rec)["checks"].(map[string]any)
	if cache := checks["cache"].(map[string]any); cache["status"] != "error" {
		t.Errorf("cache check = %v", cache)
	}
}

func TestMiddleware(t *testing.T) {
	metrics := observability.NewInMemoryMetrics()
	s := New(Deps{Metrics: metrics}, Config{AllowedOrigins: []string{"https://eventscout.app"}})

	rec := do(t, s, http.MethodGet, "/health", "", "Origin", "https://eventscout.app")
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://eventscout.app" {
		t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id")
	}

	rec = do(t, s, http.MethodGet, "/health", "", "Origin", "https://evil.example", RequestIDHeader, "req-1")
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("foreign origin allowed")
	}
	if rec.Header().Get(RequestIDHeader) != "req-1" {
		t.Errorf("request id = %q, want the incoming one", rec.Header().Get(RequestIDHeader))
	}

	rec = do(t, s, http.MethodOptions, "/api/chat", "", "Origin", "https://eventscout.app", "Access-Control-Request-Method", "POST")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight = %d", rec.Code)
	}

	got := metrics.CounterValue(observability.HTTPRequestsTotal, observability.Labels{"route": "/health", "method": "GET", "status": "200"})
	if got != 2 {
		t.Errorf("request counter = %d, want 2", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	prom := observability.NewPrometheusProvider()
	prom.Counter(context.Background(), observability.QueriesTotal, 1, observability.Labels{"path": "high"})
	s := New(Deps{Metrics: prom, MetricsHandler: prom.Handler()}, Config{})

	rec := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), observability.QueriesTotal) {
		t.Errorf("metrics = %d %s", rec.Code, rec.Body.String())
	}
}
