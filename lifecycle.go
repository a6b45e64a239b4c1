package lattix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultWorkspaceDir is the filesystem root for clones.
const DefaultWorkspaceDir = "/tmp/ai-orchestrator-workspace"

// DefaultPollInterval is the indexing status polling granularity.
const DefaultPollInterval = 500 * time.Millisecond

// indexState classifies the staleness check's outcome.
type indexState int

const (
	indexUpToDate indexState = iota
	indexMissing             // no repository row for the URL
	indexStale               // row exists but the commit drifted or is unknown
)

// LifecycleGate is the interceptor that enforces repository freshness. For
// every tool with RequiresIndexedRepo, it guarantees that when the tool
// begins to execute, the context's active repository id points at an index
// reflecting the current HEAD of the configured branch.
//
// The gate runs inside the single background worker of one conversation.
// Indexing of the same repository from different conversations is
// serialized per normalized URL: without that, concurrent pre-delete and
// re-insert would race as "last writer wins". Serializing here is the
// documented resolution of that open behavior.
type LifecycleGate struct {
	repos    RepositoryStore
	graph    GraphStore
	git      GitClient
	indexer  Indexer
	hub      *StreamHub
	logger   *slog.Logger
	dir      string
	branch   string // default branch when the conversation carries none
	interval time.Duration

	mu      sync.Mutex
	urlLock map[string]*sync.Mutex
}

// GateOption configures a LifecycleGate.
type GateOption func(*LifecycleGate)

// GateWorkspaceDir sets the clone root (default /tmp/ai-orchestrator-workspace).
func GateWorkspaceDir(dir string) GateOption {
	return func(g *LifecycleGate) { g.dir = dir }
}

// GateDefaultBranch sets the branch used when the conversation has none
// (default "main").
func GateDefaultBranch(branch string) GateOption {
	return func(g *LifecycleGate) { g.branch = branch }
}

// GatePollInterval sets the index status polling granularity (default 500ms).
func GatePollInterval(d time.Duration) GateOption {
	return func(g *LifecycleGate) { g.interval = d }
}

// GateLogger sets the structured logger.
func GateLogger(l *slog.Logger) GateOption {
	return func(g *LifecycleGate) { g.logger = l }
}

// NewLifecycleGate wires the gate to its collaborators.
func NewLifecycleGate(repos RepositoryStore, graph GraphStore, gitc GitClient, indexer Indexer, hub *StreamHub, opts ...GateOption) *LifecycleGate {
	g := &LifecycleGate{
		repos:    repos,
		graph:    graph,
		git:      gitc,
		indexer:  indexer,
		hub:      hub,
		dir:      DefaultWorkspaceDir,
		branch:   "main",
		interval: DefaultPollInterval,
		urlLock:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = nopLogger
	}
	return g
}

// AppliesTo selects tools that inspect the indexed code graph.
func (g *LifecycleGate) AppliesTo(t Tool) bool {
	return t.RequiresIndexedRepo
}

// AfterExecute is a no-op; the gate only fronts execution.
func (g *LifecycleGate) AfterExecute(context.Context, Tool, *ToolContext, *Result) {}

// BeforeExecute ensures the context's repository is indexed and current,
// indexing or re-indexing when needed. All failures surface as a single
// error whose message names the reason; the executor converts it to a
// tool Failure.
func (g *LifecycleGate) BeforeExecute(ctx context.Context, t Tool, tc *ToolContext) error {
	if tc.RepoURL == "" {
		return fmt.Errorf("tool %s requires a repository, but the conversation has none bound", t.Name)
	}
	id, err := g.EnsureIndexed(ctx, tc.Conversation.ID, tc.RepoURL, tc.Branch)
	if err != nil {
		return err
	}
	tc.BindRepository(id)
	return nil
}

// EnsureIndexed guarantees an index current with the branch HEAD exists for
// the repository and returns its id. Progress events go to conversationID's
// stream; pass "" for callers without one (the hub drops unaddressed
// events). Also the entry point for the manual indexing endpoint.
func (g *LifecycleGate) EnsureIndexed(ctx context.Context, conversationID, repoURL, branch string) (string, error) {
	url := NormalizeRepoURL(repoURL)
	if branch == "" {
		branch = g.branch
	}

	lock := g.lockFor(url)
	lock.Lock()
	defer lock.Unlock()

	state, repo, current, reason := g.checkStaleness(ctx, url, branch)
	if state == indexUpToDate {
		return repo.ID, nil
	}
	if reason != "" {
		g.logger.Info("repository index is stale", "url", url, "reason", reason)
	}
	return g.index(ctx, conversationID, repo, url, branch, current)
}

func (g *LifecycleGate) lockFor(url string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.urlLock[url]
	if !ok {
		m = &sync.Mutex{}
		g.urlLock[url] = m
	}
	return m
}

// checkStaleness decides whether the stored index reflects the branch HEAD.
// It returns the resulting state, the stored repository row (zero when
// missing), the current commit hash ("" when it cannot be determined), and
// a log-visible reason for any non-current state.
func (g *LifecycleGate) checkStaleness(ctx context.Context, url, branch string) (indexState, Repository, string, string) {
	repo, err := g.repos.GetRepositoryByURL(ctx, url)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			g.logger.Warn("repository lookup failed, treating as unindexed", "url", url, "error", err)
		}
		return indexMissing, Repository{}, "", "no index exists for this repository"
	}

	current, err := g.probeCommit(ctx, url, branch)
	if err != nil {
		// Cannot determine the current hash: force a reindex attempt,
		// carrying the prior id so old entities get replaced.
		return indexStale, repo, "", "cannot determine current hash: " + err.Error()
	}

	if repo.LastIndexedCommit == "" {
		return indexStale, repo, current, "no indexed commit recorded"
	}
	if repo.LastIndexedCommit != current {
		return indexStale, repo, current,
			fmt.Sprintf("Commit changed (stored: %s, current: %s)", shortSHA(repo.LastIndexedCommit), shortSHA(current))
	}
	return indexUpToDate, repo, current, ""
}

// probeCommit ensures the workspace checkout exists and is current, then
// returns its HEAD sha. The workspace directory for a repository name is
// exclusively owned by the worker holding the per-URL lock.
func (g *LifecycleGate) probeCommit(ctx context.Context, url, branch string) (string, error) {
	dir := filepath.Join(g.dir, g.git.ExtractRepoName(url))
	if !g.git.ValidRepo(dir) {
		if err := g.git.Clone(ctx, url, branch, dir); err != nil {
			return "", fmt.Errorf("clone: %w", err)
		}
	} else if err := g.git.Pull(ctx, dir); err != nil {
		return "", fmt.Errorf("pull: %w", err)
	}
	sha, err := g.git.CurrentCommit(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return sha, nil
}

// index (re)builds the repository's graph. With a prior id, old entities
// are bulk-deleted first; a cleanup failure is logged but does not abort.
// While the job runs, every change of the current step pushes a Thinking
// event with the step and percent complete.
func (g *LifecycleGate) index(ctx context.Context, convID string, prior Repository, url, branch, current string) (string, error) {
	if current == "" {
		// The staleness check could not probe; one more attempt so the
		// indexer has a checkout and a commit to stamp.
		sha, err := g.probeCommit(ctx, url, branch)
		if err != nil {
			return "", &ErrIndexing{RepoURL: url, Reason: "cannot prepare workspace: " + err.Error()}
		}
		current = sha
	}

	repo := prior
	if repo.ID == "" {
		repo = Repository{ID: NewID(), URL: url, Branch: branch}
	}
	stored, err := g.repos.UpsertRepository(ctx, repo)
	if err != nil {
		return "", &ErrIndexing{RepoURL: url, Reason: "cannot register repository: " + err.Error()}
	}
	repo = stored

	if prior.ID != "" {
		if _, err := g.graph.DeleteEntities(ctx, prior.ID, EntityKinds()...); err != nil {
			g.logger.Warn("stale entity cleanup failed, continuing",
				"repository", prior.ID, "error", err)
		}
	}

	g.hub.SendIndexing(convID, "Indexing repository…", 0)
	job, err := g.indexer.IndexAsync(ctx, IndexRequest{
		RepositoryID: repo.ID,
		RepoURL:      url,
		Branch:       branch,
		Workdir:      filepath.Join(g.dir, g.git.ExtractRepoName(url)),
		Commit:       current,
		Language:     repo.Language,
	})
	if err != nil {
		return "", &ErrIndexing{RepoURL: url, Reason: "cannot start indexing: " + err.Error()}
	}

	result, err := g.await(ctx, convID, job)
	if err != nil {
		return "", err
	}
	if !result.Success {
		reason := "indexing failed"
		if len(result.Errors) > 0 {
			reason = strings.Join(result.Errors, "; ")
		}
		return "", &ErrIndexing{RepoURL: url, Reason: reason}
	}

	if err := g.repos.UpdateRepositoryCommit(ctx, repo.ID, current); err != nil {
		return "", &ErrIndexing{RepoURL: url, Reason: "cannot record indexed commit: " + err.Error()}
	}
	g.logger.Info("repository indexed",
		"url", url, "repository", repo.ID,
		"commit", shortSHA(current), "entities", result.EntitiesCreated)
	return repo.ID, nil
}

// await polls the job, pushing a Thinking event on every step change.
func (g *LifecycleGate) await(ctx context.Context, convID string, job IndexJob) (IndexResult, error) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	lastStep := ""
	for {
		select {
		case <-ctx.Done():
			return IndexResult{}, ctx.Err()
		case <-job.Done():
			return job.Result(), nil
		case <-ticker.C:
			st := job.Status()
			if st.CurrentStep != "" && st.CurrentStep != lastStep {
				lastStep = st.CurrentStep
				g.hub.SendIndexing(convID, st.CurrentStep, st.Percent)
			}
		}
	}
}

// shortSHA abbreviates a commit hash for display; comparison always uses
// the full sha.
func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// compile-time check
var _ Interceptor = (*LifecycleGate)(nil)
