package lattix

import "context"

// IndexRequest asks the indexing service to (re)build the graph for one
// repository. Workdir points at the already-cloned checkout; Commit is the
// HEAD the index will represent.
type IndexRequest struct {
	RepositoryID string
	RepoURL      string
	Branch       string
	Workdir      string
	Commit       string
	Language     string
}

// IndexStatus is a point-in-time view of a running index job.
type IndexStatus struct {
	CurrentStep string `json:"current_step"`
	Percent     int    `json:"percent"`
}

// IndexResult is the terminal outcome of an index job.
type IndexResult struct {
	Success         bool     `json:"success"`
	RepositoryID    string   `json:"repository_id"`
	EntitiesCreated int      `json:"entities_created"`
	DurationMillis  int64    `json:"duration_ms"`
	Errors          []string `json:"errors,omitempty"`
}

// IndexJob tracks a single asynchronous indexing run. Status may be polled
// at any time; Result is only meaningful after Done is closed.
type IndexJob interface {
	Status() IndexStatus
	Done() <-chan struct{}
	Result() IndexResult
}

// Indexer is the external indexing service's contract. Idempotency for
// concurrent runs over the same repository is the service's responsibility.
type Indexer interface {
	IndexAsync(ctx context.Context, req IndexRequest) (IndexJob, error)
}

// GitClient abstracts the git operations the lifecycle gate performs.
type GitClient interface {
	Clone(ctx context.Context, url, branch, dir string) error
	Pull(ctx context.Context, dir string) error
	// CurrentCommit returns the full HEAD sha of the checkout.
	CurrentCommit(ctx context.Context, dir string) (string, error)
	ValidRepo(dir string) bool
	// ExtractRepoName derives the workspace directory name from a URL.
	ExtractRepoName(url string) string
}
