package lattix

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConversationStore persists conversations and their messages. Message
// order is insertion order; implementations must preserve it.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// GetConversationWithMessages loads the conversation and its full
	// ordered message list.
	GetConversationWithMessages(ctx context.Context, id string) (Conversation, error)
	AppendMessage(ctx context.Context, msg Message) error
	// UpdateConversation persists mutable fields (Active, LastActivity, Mode).
	UpdateConversation(ctx context.Context, conv Conversation) error
	ListActiveConversations(ctx context.Context, userID string) ([]Conversation, error)
}

// RepositoryStore persists indexed-repository metadata. Normalized URL is
// the unique key.
type RepositoryStore interface {
	GetRepositoryByURL(ctx context.Context, url string) (Repository, error)
	// UpsertRepository inserts or updates by normalized URL, returning the
	// stored row (with its id).
	UpsertRepository(ctx context.Context, repo Repository) (Repository, error)
	UpdateRepositoryCommit(ctx context.Context, id, commit string) error
}

// Conversations is the façade through which all conversation mutation
// flows. It serializes read-modify-write per conversation id, stamps
// LastActivity on every append, and enforces the closed-conversation
// invariant.
type Conversations struct {
	store ConversationStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewConversations wraps a store with the mutation façade.
func NewConversations(store ConversationStore) *Conversations {
	return &Conversations{store: store, locks: make(map[string]*sync.Mutex)}
}

// lock returns the mutex for one conversation id, creating it on first use.
func (c *Conversations) lock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.locks[id]
	if !ok {
		m = &sync.Mutex{}
		c.locks[id] = m
	}
	return m
}

// Create builds and persists a new active conversation bound to a
// repository. The URL must already be validated; it is normalized here.
func (c *Conversations) Create(ctx context.Context, userID, repoURL, branch string, mode Mode, repoName string) (Conversation, error) {
	now := time.Now()
	conv := Conversation{
		ID:           NewID(),
		UserID:       userID,
		RepoURL:      NormalizeRepoURL(repoURL),
		RepoName:     repoName,
		Branch:       branch,
		Mode:         mode,
		Active:       true,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := c.store.CreateConversation(ctx, conv); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Get loads a conversation without messages.
func (c *Conversations) Get(ctx context.Context, id string) (Conversation, error) {
	return c.store.GetConversation(ctx, id)
}

// GetWithMessages loads a conversation and its ordered messages.
func (c *Conversations) GetWithMessages(ctx context.Context, id string) (Conversation, error) {
	return c.store.GetConversationWithMessages(ctx, id)
}

// Append adds a message and bumps LastActivity. Appending to a closed
// conversation fails with ErrConversationClosed.
func (c *Conversations) Append(ctx context.Context, conversationID string, role Role, content string) (Message, error) {
	m := c.lock(conversationID)
	m.Lock()
	defer m.Unlock()

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	if !conv.Active {
		return Message{}, ErrConversationClosed
	}

	msg := Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	conv.LastActivity = msg.CreatedAt
	if err := c.store.UpdateConversation(ctx, conv); err != nil {
		return Message{}, fmt.Errorf("update last activity: %w", err)
	}
	return msg, nil
}

// ListActive returns a user's open conversations.
func (c *Conversations) ListActive(ctx context.Context, userID string) ([]Conversation, error) {
	return c.store.ListActiveConversations(ctx, userID)
}

// Close marks a conversation inactive. A close does not cancel an in-flight
// worker; its final events are simply dropped by the hub once the
// subscriber disconnects.
func (c *Conversations) Close(ctx context.Context, id string) error {
	m := c.lock(id)
	m.Lock()
	defer m.Unlock()

	conv, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	conv.Active = false
	return c.store.UpdateConversation(ctx, conv)
}

// Reopen resets the active flag; history is untouched.
func (c *Conversations) Reopen(ctx context.Context, id string) error {
	m := c.lock(id)
	m.Lock()
	defer m.Unlock()

	conv, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	conv.Active = true
	return c.store.UpdateConversation(ctx, conv)
}
