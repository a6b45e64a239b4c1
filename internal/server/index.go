package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/lattixhq/lattix"
)

// manualRun tracks one manual indexing request for the status endpoint.
// Step-level progress streams over the run's event channel
// (GET /api/v1/chat/{job_id}/stream works with the job id as the key);
// this record carries the coarse lifecycle.
type manualRun struct {
	mu           sync.Mutex
	JobID        string `json:"job_id"`
	RepoURL      string `json:"repo_url"`
	RepositoryID string `json:"repository_id,omitempty"`
	Status       string `json:"status"` // QUEUED, RUNNING, COMPLETED, FAILED
	Error        string `json:"error,omitempty"`
	StartedAt    int64  `json:"started_at"`
}

// set mutates the run under its lock.
func (m *manualRun) set(fn func(*manualRun)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// snapshot returns a copy safe to serialize.
func (m *manualRun) snapshot() manualRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return manualRun{
		JobID:        m.JobID,
		RepoURL:      m.RepoURL,
		RepositoryID: m.RepositoryID,
		Status:       m.Status,
		Error:        m.Error,
		StartedAt:    m.StartedAt,
	}
}

type indexRequest struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch,omitempty"`
}

// handleIndexRepo triggers indexing outside any conversation. The check is
// the same staleness gate the agent uses, so an up-to-date repository is a
// fast no-op.
func (s *Server) handleIndexRepo(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := lattix.ValidateRepoURL(req.RepoURL); err != nil {
		s.writeFailure(w, err)
		return
	}
	branch := req.Branch
	if branch == "" {
		branch = lattix.BranchFromURL(req.RepoURL, s.branch)
	}
	if err := lattix.ValidateBranch(branch); err != nil {
		s.writeFailure(w, err)
		return
	}

	run := &manualRun{
		JobID:     "idx-" + lattix.NewID(),
		RepoURL:   lattix.NormalizeRepoURL(req.RepoURL),
		Status:    "QUEUED",
		StartedAt: time.Now().UnixMilli(),
	}
	s.indexJobs.Store(run.JobID, run)

	repoURL := req.RepoURL
	if err := s.dispatcher.Submit(run.JobID, func(ctx context.Context) {
		run.set(func(m *manualRun) { m.Status = "RUNNING" })
		id, err := s.gate.EnsureIndexed(ctx, run.JobID, repoURL, branch)
		if err != nil {
			run.set(func(m *manualRun) {
				m.Status = "FAILED"
				m.Error = err.Error()
			})
			s.hub.SendError(run.JobID, err.Error())
			return
		}
		run.set(func(m *manualRun) {
			m.RepositoryID = id
			m.Status = "COMPLETED"
		})
		s.indexJobs.Store(id, run)
		s.hub.SendComplete(run.JobID, "Indexing completed")
	}); err != nil {
		s.indexJobs.Delete(run.JobID)
		writeError(w, http.StatusServiceUnavailable, "server is at capacity, try again shortly")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"job_id":  run.JobID,
	})
}

// handleIndexStatus reports a manual run by job id or repository id.
func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("repo_id")
	v, ok := s.indexJobs.Load(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no indexing run for this id")
		return
	}
	writeJSON(w, http.StatusOK, v.(*manualRun).snapshot())
}

type docsIngestRequest struct {
	RepositoryID string `json:"repository_id"`
	URL          string `json:"url"`
}

// handleDocsIngest pulls a documentation page or PDF into the repository's
// docs index for the search_docs tool.
func (s *Server) handleDocsIngest(w http.ResponseWriter, r *http.Request) {
	var req docsIngestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepositoryID == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "repository_id and url are required")
		return
	}

	page, chunks, err := s.ingestor.IngestURL(r.Context(), req.RepositoryID, req.URL)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"page_id": page.ID,
		"title":   page.Title,
		"chunks":  chunks,
	})
}
