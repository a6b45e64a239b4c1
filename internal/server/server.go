// Package server exposes the HTTP API: chat, history, status, streaming,
// ad-hoc search, and manual indexing.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/lattixhq/lattix"
	"github.com/lattixhq/lattix/tools/docs"
)

// Server holds the API's collaborators and implements http.Handler.
type Server struct {
	convos     *lattix.Conversations
	hub        *lattix.StreamHub
	agent      *lattix.Agent
	dispatcher *lattix.Dispatcher
	gate       *lattix.LifecycleGate
	repos      lattix.RepositoryStore
	graph      lattix.GraphStore
	reader     lattix.EntityReader
	docsStore  lattix.DocsStore
	ingestor   *docs.Ingestor
	git        lattix.GitClient
	branch     string // default branch
	logger     *slog.Logger
	mux        *http.ServeMux

	// indexJobs tracks manual indexing runs for the status endpoint: by job
	// id from submission, and also by repository id once a run completes.
	indexJobs sync.Map
}

// Deps carries the collaborators the server needs.
type Deps struct {
	Convos     *lattix.Conversations
	Hub        *lattix.StreamHub
	Agent      *lattix.Agent
	Dispatcher *lattix.Dispatcher
	Gate       *lattix.LifecycleGate
	Repos      lattix.RepositoryStore
	Graph      lattix.GraphStore
	Reader     lattix.EntityReader
	DocsStore  lattix.DocsStore
	Git        lattix.GitClient
	Logger     *slog.Logger
	// DefaultBranch backs requests that carry no branch (default "main").
	DefaultBranch string
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	s := &Server{
		convos:     deps.Convos,
		hub:        deps.Hub,
		agent:      deps.Agent,
		dispatcher: deps.Dispatcher,
		gate:       deps.Gate,
		repos:      deps.Repos,
		graph:      deps.Graph,
		reader:     deps.Reader,
		docsStore:  deps.DocsStore,
		ingestor:   docs.NewIngestor(deps.DocsStore),
		git:        deps.Git,
		branch:     deps.DefaultBranch,
		logger:     deps.Logger,
		mux:        http.NewServeMux(),
	}
	if s.branch == "" {
		s.branch = "main"
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	s.mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/v1/chat/conversations", s.handleListConversations)
	s.mux.HandleFunc("GET /api/v1/chat/{id}/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/v1/chat/{id}/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/v1/chat/{id}/stream", s.handleStream)
	s.mux.HandleFunc("DELETE /api/v1/chat/{id}", s.handleClose)
	s.mux.HandleFunc("POST /api/v1/search", s.handleSearch)
	s.mux.HandleFunc("POST /api/v1/search/graph", s.handleGraphSearch)
	s.mux.HandleFunc("POST /api/v1/index/repo", s.handleIndexRepo)
	s.mux.HandleFunc("GET /api/v1/index/{repo_id}/status", s.handleIndexStatus)
	s.mux.HandleFunc("POST /api/v1/docs/ingest", s.handleDocsIngest)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure maps domain errors to HTTP statuses: validation → 400,
// not found → 404, everything else → 500 with a non-leaky message.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var vErr *lattix.ErrValidation
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, lattix.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(dst)
}
