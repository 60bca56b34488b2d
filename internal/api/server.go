// Package api exposes the retrieval service over HTTP: query and
// streaming answer endpoints, indexing, feedback, and the admin
// surface for managed URLs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/auditkit/guideline-rag/internal/admin"
	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/chunk"
	"github.com/auditkit/guideline-rag/internal/feedback"
	"github.com/auditkit/guideline-rag/internal/llm"
	"github.com/auditkit/guideline-rag/internal/retriever"
	"github.com/auditkit/guideline-rag/internal/scrape"
	"github.com/auditkit/guideline-rag/internal/search"
)

// Retriever is the retrieval surface the API needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]search.Result, error)
	IndexDocument(ctx context.Context, doc retriever.Document) (int, error)
	DeleteDocument(ctx context.Context, url string) (int, error)
	Stats(ctx context.Context) retriever.Stats
}

// Generator is the answer-generation surface the API needs.
type Generator interface {
	Answer(ctx context.Context, query string, results []search.Result, mode llm.Mode) (string, error)
	AnswerStream(ctx context.Context, query string, results []search.Result, mode llm.Mode, onChunk func(string) error) (string, error)
	Suggest(ctx context.Context, partialQuery, topic string, max int) []string
}

// Fetcher fetches pages for the index-url endpoint.
type Fetcher interface {
	Scrape(ctx context.Context, url string) (scrape.Page, error)
}

// Server wires all HTTP handlers.
type Server struct {
	retriever Retriever
	generator Generator
	fetcher   Fetcher
	registry  *admin.Registry
	tracker   *admin.Tracker
	refresher *admin.Refresher
	feedback  *feedback.Logger
	metrics   *Metrics
	logger    *slog.Logger
}

// Deps collects the server's collaborators.
type Deps struct {
	Retriever Retriever
	Generator Generator
	Fetcher   Fetcher
	Registry  *admin.Registry
	Tracker   *admin.Tracker
	Refresher *admin.Refresher
	Feedback  *feedback.Logger
	Metrics   *Metrics
	Logger    *slog.Logger
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		retriever: deps.Retriever,
		generator: deps.Generator,
		fetcher:   deps.Fetcher,
		registry:  deps.Registry,
		tracker:   deps.Tracker,
		refresher: deps.Refresher,
		feedback:  deps.Feedback,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /query-stream", s.handleQueryStream)
	mux.HandleFunc("POST /suggestions", s.handleSuggestions)
	mux.HandleFunc("POST /index-url", s.handleIndexURL)
	mux.HandleFunc("POST /feedback", s.handleFeedback)

	mux.HandleFunc("GET /admin/urls", s.handleListURLs)
	mux.HandleFunc("POST /admin/urls", s.handleAddURL)
	mux.HandleFunc("DELETE /admin/urls/{id}", s.handleRemoveURL)
	mux.HandleFunc("POST /admin/urls/{id}/enabled", s.handleSetEnabled)
	mux.HandleFunc("GET /admin/schedule", s.handleGetSchedule)
	mux.HandleFunc("PUT /admin/schedule", s.handleUpdateSchedule)
	mux.HandleFunc("GET /admin/jobs/current", s.handleCurrentJob)
	mux.HandleFunc("POST /admin/refresh", s.handleRefresh)

	return s.metrics.Middleware(mux)
}

type queryRequest struct {
	Query        string `json:"query"`
	SessionID    string `json:"session_id,omitempty"`
	Modification string `json:"modification,omitempty"`
	TopK         int    `json:"top_k,omitempty"`
}

type queryResponse struct {
	Answer  string          `json:"answer"`
	Sources []search.Result `json:"sources"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.retriever.Stats(r.Context()))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decodeQuery(w, r, &req) {
		return
	}

	results, err := s.retriever.Retrieve(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.writeError(w, err)
		return
	}

	answer, err := s.generator.Answer(r.Context(), req.Query, results, llm.Mode(req.Modification))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.metrics.RecordQuery(req.Modification, len(results))
	writeJSON(w, http.StatusOK, queryResponse{Answer: answer, Sources: results})
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decodeQuery(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, apperr.New(apperr.KindInternal, "api.stream", "streaming unsupported"))
		return
	}

	results, err := s.retriever.Retrieve(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Sources go first so the client can render citations while the
	// answer streams.
	writeSSE(w, "sources", results)
	flusher.Flush()

	_, err = s.generator.AnswerStream(r.Context(), req.Query, results, llm.Mode(req.Modification),
		func(chunk string) error {
			writeSSE(w, "chunk", map[string]string{"text": chunk})
			flusher.Flush()
			return nil
		})
	if err != nil {
		writeSSE(w, "error", map[string]string{"error": "answer generation failed"})
		flusher.Flush()
		s.logger.Error("stream generation failed", "error", err)
		return
	}

	s.metrics.RecordQuery(req.Modification, len(results))
	writeSSE(w, "done", map[string]string{})
	flusher.Flush()
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request, req *queryRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.writeError(w, apperr.Invalid("api.query", "malformed request body"))
		return false
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		s.writeError(w, apperr.Invalid("api.query", "query cannot be empty"))
		return false
	}
	return true
}

type suggestionRequest struct {
	PartialQuery   string `json:"partial_query"`
	Context        string `json:"context,omitempty"`
	MaxSuggestions int    `json:"max_suggestions,omitempty"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Invalid("api.suggestions", "malformed request body"))
		return
	}

	suggestions := s.generator.Suggest(r.Context(), req.PartialQuery, req.Context, req.MaxSuggestions)
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions":   suggestions,
		"partial_query": strings.TrimSpace(req.PartialQuery),
	})
}

type indexURLRequest struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

func (s *Server) handleIndexURL(w http.ResponseWriter, r *http.Request) {
	var req indexURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Invalid("api.index_url", "malformed request body"))
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		s.writeError(w, apperr.Invalid("api.index_url", "url cannot be empty"))
		return
	}

	page, err := s.fetcher.Scrape(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	title := req.Name
	if title == "" {
		title = page.Title
	}

	// Replace any prior crawl of the same URL.
	if _, err := s.retriever.DeleteDocument(r.Context(), req.URL); err != nil {
		s.writeError(w, err)
		return
	}
	chunks, err := s.retriever.IndexDocument(r.Context(), retriever.Document{
		URL:         req.URL,
		Title:       title,
		Content:     page.Content,
		ContentType: chunk.ContentTypeMarkdown,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.RecordIndexed(chunks)

	// Register the URL for scheduled refresh. Already-managed URLs
	// are fine; the crawl above still happened.
	if s.registry != nil {
		if entry, err := s.registry.Add(r.Context(), title, req.URL); err == nil {
			_ = s.registry.UpdateStatus(r.Context(), entry.ID, admin.StatusSuccess, "", admin.ContentHash(page.Content))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("indexed %d chunks from %s", chunks, page.Title),
		"url":     req.URL,
		"chunks":  chunks,
	})
}

type feedbackRequest struct {
	SessionID string   `json:"session_id"`
	Query     string   `json:"query"`
	Response  string   `json:"response"`
	Sources   []string `json:"sources,omitempty"`
	Rating    string   `json:"rating"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Invalid("api.feedback", "malformed request body"))
		return
	}

	id, err := s.feedback.Log(r.Context(), feedback.Entry{
		SessionID: req.SessionID,
		Query:     req.Query,
		Response:  req.Response,
		Sources:   req.Sources,
		Rating:    req.Rating,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged", "id": id})
}

func (s *Server) handleListURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := s.registry.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

func (s *Server) handleAddURL(w http.ResponseWriter, r *http.Request) {
	var req indexURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Invalid("api.admin", "malformed request body"))
		return
	}

	entry, err := s.registry.Add(r.Context(), req.Name, strings.TrimSpace(req.URL))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveURL(w http.ResponseWriter, r *http.Request) {
	entry, err := s.registry.Remove(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Best effort: drop the URL's chunks too.
	removed, err := s.retriever.DeleteDocument(r.Context(), entry.URL)
	if err != nil {
		s.logger.Warn("failed to delete chunks for removed url", "url", entry.URL, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": entry, "chunks_deleted": removed})
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Invalid("api.admin", "malformed request body"))
		return
	}

	if err := s.registry.SetEnabled(r.Context(), r.PathValue("id"), req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "enabled": req.Enabled})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.registry.Schedule(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled  *bool   `json:"enabled,omitempty"`
		Interval *string `json:"interval,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Invalid("api.admin", "malformed request body"))
		return
	}

	var interval *time.Duration
	if req.Interval != nil {
		parsed, err := time.ParseDuration(*req.Interval)
		if err != nil {
			s.writeError(w, apperr.Invalid("api.admin", fmt.Sprintf("bad interval %q", *req.Interval)))
			return
		}
		interval = &parsed
	}

	sched, err := s.registry.UpdateSchedule(r.Context(), req.Enabled, interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleCurrentJob(w http.ResponseWriter, _ *http.Request) {
	job := s.tracker.Current()
	if job == nil {
		writeJSON(w, http.StatusOK, map[string]any{"job": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.tracker.Running() {
		s.writeError(w, apperr.Invalid("api.refresh", "a refresh job is already running"))
		return
	}

	// Detach from the request context so the crawl survives the
	// client disconnecting.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if _, err := s.refresher.RefreshAll(ctx); err != nil {
			s.logger.Error("background refresh failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindInvalid:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindUnavailable:
		status = http.StatusServiceUnavailable
	}

	var appErr *apperr.Error
	msg := "internal error"
	if errors.As(err, &appErr) {
		msg = appErr.Message
		if msg == "" && appErr.Cause != nil {
			msg = appErr.Cause.Error()
		}
	}
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
