package server

import (
	"net/http"

	"github.com/lattixhq/lattix"
)

const defaultSearchResults = 20

type searchRequest struct {
	Query      string   `json:"query"`
	RepoIDs    []string `json:"repo_ids,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}

// handleSearch is the ad-hoc hybrid search: entity matches plus
// documentation passages, per repository.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.MaxResults <= 0 {
		req.MaxResults = defaultSearchResults
	}

	type repoResults struct {
		RepositoryID string              `json:"repository_id"`
		Entities     []lattix.CodeEntity `json:"entities"`
		Docs         []lattix.DocChunk   `json:"docs,omitempty"`
	}
	var out []repoResults
	for _, repoID := range req.RepoIDs {
		entities, err := s.reader.SearchEntities(r.Context(), repoID, req.Query, req.MaxResults)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		chunks, err := s.docsStore.SearchDocChunks(r.Context(), repoID, req.Query, req.MaxResults)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		out = append(out, repoResults{RepositoryID: repoID, Entities: entities, Docs: chunks})
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": out})
}

type graphSearchRequest struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleGraphSearch runs a raw read-only graph query. Queries using write
// verbs as standalone tokens are rejected before reaching the store.
func (s *Server) handleGraphSearch(w http.ResponseWriter, r *http.Request) {
	var req graphSearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if err := lattix.ValidateGraphQuery(req.Query); err != nil {
		s.writeFailure(w, err)
		return
	}

	rows, err := s.graph.Read(r.Context(), req.Query, req.Parameters)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rows": rows, "count": len(rows)})
}
