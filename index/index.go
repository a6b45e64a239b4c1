// Package index hosts indexing-service implementations. The contract
// itself (Indexer, IndexJob) lives in the root package; this package
// provides the shared job tracker and, in the docker subpackage, a runner
// that executes the parser image against a cloned workspace.
package index

import (
	"sync"

	"github.com/lattixhq/lattix"
)

// Tracker is a thread-safe IndexJob implementation for runners that drive
// a job from a background goroutine: the runner calls SetStep while the
// job progresses and Finish exactly once at the end.
type Tracker struct {
	mu     sync.Mutex
	status lattix.IndexStatus
	result lattix.IndexResult
	done   chan struct{}
}

// NewTracker creates a running job in its initial state.
func NewTracker() *Tracker {
	return &Tracker{done: make(chan struct{})}
}

// SetStep updates the current step and percent complete.
func (t *Tracker) SetStep(step string, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = lattix.IndexStatus{CurrentStep: step, Percent: percent}
}

// Finish records the terminal result and closes Done. Calling Finish more
// than once panics, mirroring a double close.
func (t *Tracker) Finish(result lattix.IndexResult) {
	t.mu.Lock()
	t.result = result
	t.status.Percent = 100
	t.mu.Unlock()
	close(t.done)
}

// Status returns the current step and percent.
func (t *Tracker) Status() lattix.IndexStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done is closed when the job finishes.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Result is meaningful only after Done is closed.
func (t *Tracker) Result() lattix.IndexResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// compile-time check
var _ lattix.IndexJob = (*Tracker)(nil)
