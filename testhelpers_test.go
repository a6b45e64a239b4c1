package lattix

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory ConversationStore + RepositoryStore + GraphStore
// used across the package tests.
type memStore struct {
	mu       sync.Mutex
	convs    map[string]Conversation
	messages map[string][]Message
	repos    map[string]Repository // by URL

	deleted       []string // repository ids passed to DeleteEntities
	deleteErr     error
	deleteOrderCh chan string // receives repo id on each delete, if set
}

func newMemStore() *memStore {
	return &memStore{
		convs:    make(map[string]Conversation),
		messages: make(map[string][]Message),
		repos:    make(map[string]Repository),
	}
}

func (m *memStore) CreateConversation(_ context.Context, conv Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conv.ID] = conv
	return nil
}

func (m *memStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (m *memStore) GetConversationWithMessages(ctx context.Context, id string) (Conversation, error) {
	conv, err := m.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	conv.Messages = append([]Message(nil), m.messages[id]...)
	return conv, nil
}

func (m *memStore) AppendMessage(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

func (m *memStore) UpdateConversation(_ context.Context, conv Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.convs[conv.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Mode = conv.Mode
	stored.Active = conv.Active
	stored.LastActivity = conv.LastActivity
	m.convs[conv.ID] = stored
	return nil
}

func (m *memStore) ListActiveConversations(_ context.Context, userID string) ([]Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Conversation
	for _, c := range m.convs {
		if c.UserID == userID && c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) GetRepositoryByURL(_ context.Context, url string) (Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[url]
	if !ok {
		return Repository{}, ErrNotFound
	}
	return repo, nil
}

func (m *memStore) UpsertRepository(_ context.Context, repo Repository) (Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.repos[repo.URL]; ok {
		existing.Branch = repo.Branch
		existing.Language = repo.Language
		m.repos[repo.URL] = existing
		return existing, nil
	}
	m.repos[repo.URL] = repo
	return repo, nil
}

func (m *memStore) UpdateRepositoryCommit(_ context.Context, id, commit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for url, repo := range m.repos {
		if repo.ID == id {
			repo.LastIndexedCommit = commit
			repo.IndexedAt = time.Now()
			m.repos[url] = repo
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) Read(context.Context, string, map[string]any) ([]map[string]any, error) {
	return nil, nil
}

func (m *memStore) Write(context.Context, string, map[string]any) (int64, error) {
	return 0, nil
}

func (m *memStore) DeleteEntities(_ context.Context, repositoryID string, _ ...EntityKind) (int64, error) {
	m.mu.Lock()
	m.deleted = append(m.deleted, repositoryID)
	err := m.deleteErr
	ch := m.deleteOrderCh
	m.mu.Unlock()
	if ch != nil {
		ch <- repositoryID
	}
	return 1, err
}

func (m *memStore) deletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// scriptedProvider replays canned responses in order, recording prompts.
type scriptedProvider struct {
	mu        sync.Mutex
	name      string
	responses []string
	errs      []error
	prompts   []ModelRequest
	calls     int
}

func (p *scriptedProvider) Name() string {
	if p.name == "" {
		return "scripted"
	}
	return p.name
}

func (p *scriptedProvider) Chat(_ context.Context, req ModelRequest) (ModelResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, req)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return ModelResponse{}, p.errs[i]
	}
	if i < len(p.responses) {
		return ModelResponse{Content: p.responses[i]}, nil
	}
	// Out of script: behave like "no tool call" / empty synthesis.
	return ModelResponse{Content: "{}"}, nil
}

// repeatProvider returns the same response forever.
type repeatProvider struct {
	response string
	calls    int
	mu       sync.Mutex
}

func (p *repeatProvider) Name() string { return "repeat" }

func (p *repeatProvider) Chat(context.Context, ModelRequest) (ModelResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return ModelResponse{Content: p.response}, nil
}

// fakeGit implements GitClient in memory.
type fakeGit struct {
	mu       sync.Mutex
	head     string
	headErr  error
	valid    bool
	cloneErr error
	pullErr  error
	cloned   int
	pulled   int
}

func (g *fakeGit) Clone(_ context.Context, _, _, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cloneErr != nil {
		return g.cloneErr
	}
	g.cloned++
	g.valid = true
	return nil
}

func (g *fakeGit) Pull(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pullErr != nil {
		return g.pullErr
	}
	g.pulled++
	return nil
}

func (g *fakeGit) CurrentCommit(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head, g.headErr
}

func (g *fakeGit) ValidRepo(string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.valid
}

func (g *fakeGit) ExtractRepoName(url string) string { return "repo" }

// fakeJob is a pre-resolved IndexJob whose steps can be scripted.
type fakeJob struct {
	mu     sync.Mutex
	status IndexStatus
	result IndexResult
	done   chan struct{}
}

func newFakeJob() *fakeJob { return &fakeJob{done: make(chan struct{})} }

func (j *fakeJob) Status() IndexStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *fakeJob) setStep(step string, pct int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = IndexStatus{CurrentStep: step, Percent: pct}
}

func (j *fakeJob) Done() <-chan struct{} { return j.done }

func (j *fakeJob) Result() IndexResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

func (j *fakeJob) finish(res IndexResult) {
	j.mu.Lock()
	j.result = res
	j.mu.Unlock()
	close(j.done)
}

// fakeIndexer hands out scripted jobs and records requests.
type fakeIndexer struct {
	mu       sync.Mutex
	requests []IndexRequest
	// script runs in a goroutine per job when set; otherwise the job
	// finishes immediately with success.
	script func(req IndexRequest, job *fakeJob)
}

func (f *fakeIndexer) IndexAsync(_ context.Context, req IndexRequest) (IndexJob, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	script := f.script
	f.mu.Unlock()

	job := newFakeJob()
	if script != nil {
		go script(req, job)
	} else {
		job.finish(IndexResult{Success: true, RepositoryID: req.RepositoryID, EntitiesCreated: 10})
	}
	return job, nil
}

func (f *fakeIndexer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// collectEvents drains a hub subscription until Complete or Error, with a
// timeout guard, and returns everything received.
func collectEvents(ch <-chan ChatEvent, timeout time.Duration) ([]ChatEvent, error) {
	var out []ChatEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out, nil
			}
			out = append(out, ev)
			if ev.Type == EventComplete || ev.Type == EventError {
				return out, nil
			}
		case <-deadline:
			return out, fmt.Errorf("timed out after %v with %d events", timeout, len(out))
		}
	}
}

// newTestConversation seeds a store with an active conversation.
func newTestConversation(store *memStore, repoURL string) Conversation {
	conv := Conversation{
		ID:           NewID(),
		UserID:       "u1",
		RepoURL:      NormalizeRepoURL(repoURL),
		RepoName:     "repo",
		Branch:       "main",
		Mode:         ModeExplore,
		Active:       true,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	store.convs[conv.ID] = conv
	return conv
}
