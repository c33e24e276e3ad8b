// Package httpapi exposes the RAG pipeline over HTTP: a synchronous search
// endpoint and a chat endpoint that answers either as a single JSON document
// or as a server-sent event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fieldmate-ai/raggate/internal/domain"
	"github.com/fieldmate-ai/raggate/internal/domain/clarify"
	"github.com/fieldmate-ai/raggate/internal/domain/match"
	"github.com/fieldmate-ai/raggate/internal/domain/query"
	"github.com/fieldmate-ai/raggate/internal/usecase/contextbuild"
	"github.com/fieldmate-ai/raggate/internal/usecase/rag"
)

// Error response codes.
const (
	CodeBadRequest       = "bad_request"
	CodeValidationFailed = "validation_failed"
	CodeUnauthorized     = "unauthorized"
	CodeEmbeddingError   = "embedding_provider_error"
	CodeVectorStoreError = "vector_store_error"
	CodeGenerationError  = "generation_provider_error"
	CodeInternalError    = "internal_error"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Pinger reports backing-store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server handles the raggate HTTP API.
type Server struct {
	pipeline      *rag.Service
	pinger        Pinger
	embedHealth   domain.HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(pipeline *rag.Service, pinger Pinger, embedHealth domain.HealthChecker, logger *zap.Logger) *Server {
	s := &Server{
		pipeline:    pipeline,
		pinger:      pinger,
		embedHealth: embedHealth,
		logger:      logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized),
		sentinelHandler(domain.ErrNoNamespace, http.StatusUnauthorized, CodeUnauthorized),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusInternalServerError, CodeEmbeddingError),
		sentinelHandler(domain.ErrVectorStore, http.StatusInternalServerError, CodeVectorStoreError),
		sentinelHandler(domain.ErrGenerationProvider, http.StatusInternalServerError, CodeGenerationError),
	}
	return s
}

// Routes registers the API endpoints on the router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/search", s.SearchDocuments)
	r.Post("/chat", s.Chat)
	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// queryOptions is the shared options payload of both endpoints.
type queryOptions struct {
	TopK        int            `json:"topK"`
	Namespace   string         `json:"namespace"`
	Filters     *requestFilter `json:"filters"`
	SkipClarify bool           `json:"skipClarify"`
	Stream      bool           `json:"stream"`
}

type requestFilter struct {
	Category string `json:"category"`
	DocType  string `json:"docType"`
}

type searchRequest struct {
	Query   string        `json:"query"`
	Options *queryOptions `json:"options"`
}

type matchItem struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Namespace string  `json:"namespace"`
	DocID     string  `json:"docId"`
	Title     string  `json:"title"`
	Category  string  `json:"category,omitempty"`
	DocType   string  `json:"docType,omitempty"`
	Date      string  `json:"date,omitempty"`
	Content   string  `json:"content"`
}

type searchResponse struct {
	Results []matchItem     `json:"results"`
	Stats   rag.SearchStats `json:"stats"`
}

type chatResponse struct {
	Answer        string                 `json:"answer,omitempty"`
	Sources       []contextbuild.Source  `json:"sources,omitempty"`
	Clarification *clarify.Clarification `json:"clarification,omitempty"`
	Stats         rag.QueryStats         `json:"stats"`
}

// SearchDocuments handles POST /search.
func (s *Server) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	q, ok := s.buildQuery(w, req.Query, req.Options, false)
	if !ok {
		return
	}
	c, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "caller identity is missing or malformed")
		return
	}

	result, err := s.pipeline.Search(r.Context(), c, &q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results: matchItems(result.Matches),
		Stats:   result.Stats,
	})
}

// Chat handles POST /chat. With options.stream=true the response is a
// server-sent event stream; otherwise a single JSON document.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	stream := req.Options != nil && req.Options.Stream

	q, ok := s.buildQuery(w, req.Query, req.Options, stream)
	if !ok {
		return
	}
	c, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "caller identity is missing or malformed")
		return
	}

	if stream {
		s.chatStream(w, r, c, &q)
		return
	}

	result, err := s.pipeline.Query(r.Context(), c, &q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:        result.Answer,
		Sources:       result.Sources,
		Clarification: result.Clarification,
		Stats:         result.Stats,
	})
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if err := s.pinger.Ping(r.Context()); err != nil {
		checks["database"] = "down"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if s.embedHealth != nil {
		if err := s.embedHealth.HealthCheck(r.Context()); err != nil {
			checks["embedding"] = "down"
			healthy = false
		} else {
			checks["embedding"] = "ok"
		}
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) buildQuery(
	w http.ResponseWriter, text string, opts *queryOptions, stream bool,
) (query.Request, bool) {
	var (
		topK                         int
		namespace, category, docType string
		skipClarify                  bool
	)
	if opts != nil {
		topK = opts.TopK
		namespace = opts.Namespace
		skipClarify = opts.SkipClarify
		if opts.Filters != nil {
			category = opts.Filters.Category
			docType = opts.Filters.DocType
		}
	}

	q, err := query.New(text, topK, namespace, category, docType, skipClarify, stream)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return query.Request{}, false
	}
	return q, true
}

func matchItems(matches []match.Match) []matchItem {
	items := make([]matchItem, 0, len(matches))
	for i := range matches {
		m := &matches[i]
		meta := m.Meta()
		item := matchItem{
			ID:        m.ID(),
			Score:     m.Score(),
			Namespace: m.Namespace(),
			DocID:     meta.DocID,
			Title:     meta.Title,
			Category:  meta.Category,
			DocType:   meta.DocType,
			Content:   meta.Content,
		}
		if !meta.RefDate.IsZero() {
			item.Date = meta.RefDate.Format("2006-01-02")
		}
		items = append(items, item)
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidQuery,
		domain.ErrUnauthorized,
		domain.ErrNoNamespace,
		domain.ErrEmbeddingProvider,
		domain.ErrVectorStore,
		domain.ErrGenerationProvider,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
