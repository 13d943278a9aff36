package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/calque-ai/eventscout/pkg/auth"
	"github.com/calque-ai/eventscout/pkg/crawler"
	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/pipeline"
	"github.com/calque-ai/eventscout/pkg/scout"
)

// ChatErrorText is the body text of a failed chat request.
const ChatErrorText = "Something went wrong on our side. Please try again."

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Query string `json:"query"`
}

// ChatResponse is the body of a chat answer.
type ChatResponse struct {
	Text   string            `json:"text"`
	Events []event.Candidate `json:"events"`
	Source string            `json:"source,omitempty"`
}

// TokenRequest is the body of POST /api/auth/google.
type TokenRequest struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"backend":   s.deps.Pipeline != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.RunAll(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "backend not configured")
		return
	}

	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	res, err := s.deps.Pipeline.Query(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		scout.LogError(r.Context(), "chat query failed", err)
		writeJSON(w, http.StatusInternalServerError, ChatResponse{Text: ChatErrorText, Events: []event.Candidate{}})
		return
	}

	events := res.Events
	if events == nil {
		events = []event.Candidate{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{Text: res.Text, Events: events, Source: res.Source})
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if s.deps.Crawl == nil {
		writeError(w, http.StatusServiceUnavailable, "backend not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.CrawlTimeout)
	defer cancel()

	summary, err := s.deps.Crawl.Trigger(ctx)
	switch {
	case errors.Is(err, crawler.ErrRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		scout.LogError(ctx, "crawl aborted", err)
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "crawl aborted", "summary": summary})
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if s.deps.Seed == nil || s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "backend not configured")
		return
	}

	seed := s.deps.Seed
	accepted := s.deps.Queue.Enqueue(r.Context(), SeedTask, func(ctx context.Context) error {
		_, err := seed(ctx)
		return err
	})
	if !accepted {
		writeError(w, http.StatusServiceUnavailable, "background queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleGoogleAuth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "google sign-in not configured")
		return
	}

	var req TokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	profile, err := s.deps.Verifier.Verify(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		scout.LogError(r.Context(), "token verification failed", err)
		writeError(w, http.StatusBadGateway, "token verification unavailable")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
