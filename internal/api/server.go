// Package api exposes the retrieval engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/doclens/doclens/internal/errors"
	"github.com/doclens/doclens/internal/retrieval"
)

// QueryEngine is the engine surface the server depends on.
type QueryEngine interface {
	Query(ctx context.Context, req retrieval.Request) retrieval.Result
}

// Stats reports store counts for the health endpoint.
type Stats struct {
	Chunks  int `json:"chunks"`
	Vectors int `json:"vectors"`
}

// StatsFunc supplies current store counts.
type StatsFunc func(ctx context.Context) (Stats, error)

// Server is the doclens HTTP API server.
type Server struct {
	router chi.Router
	engine QueryEngine
	stats  StatsFunc
	log    *slog.Logger
}

// NewServer creates and configures the HTTP server.
func NewServer(engine QueryEngine, stats StatsFunc, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{engine: engine, stats: stats, log: log}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/query", s.handleQuery)

	s.router = r
}

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	result := s.engine.Query(r.Context(), req)

	if kind, cause, failed := result.Failure(); failed {
		status := http.StatusBadGateway
		if kind == retrieval.FailureInvalidRequest {
			status = http.StatusBadRequest
		}
		s.writeJSON(w, status, errorBody{Error: cause.Error(), Code: errors.GetCode(cause)})
		return
	}

	if resp, ok := result.Response(); ok {
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	// Empty outcome: an honest "nothing found", same shape as a response.
	s.writeJSON(w, http.StatusOK, &retrieval.Response{
		Chunks:       []*retrieval.ResultChunk{},
		TotalResults: 0,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	stats, err := s.stats(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": stats})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("write response", "error", err)
	}
}
