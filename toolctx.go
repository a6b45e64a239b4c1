package lattix

import (
	"strings"
	"time"
)

// invocationHistoryCap bounds the per-conversation tool invocation history.
const invocationHistoryCap = 50

// negativeFeedbackPhrases signal the user wants a better answer. Matched
// case-insensitively against the last three user messages.
var negativeFeedbackPhrases = []string{
	"better", "more detail", "improve", "different", "expand",
	"deeper", "comprehensive", "thorough", "enhanced", "refined",
}

// Invocation records one tool execution within a conversation.
type Invocation struct {
	Tool     string
	At       time.Time
	Result   Result
	Feedback string
}

// ToolContext is the per-invocation bag of repository identity, variables,
// and recent execution history. One instance lives for the duration of a
// conversation's background worker; it is not safe for concurrent use and
// never needs to be — the agent loop is strictly sequential.
type ToolContext struct {
	Conversation *Conversation
	// RepositoryIDs is the mutable ordered list of active repository ids,
	// a singleton in practice. The lifecycle gate binds ids here.
	RepositoryIDs []string
	RepoURL       string // normalized
	Branch        string
	Vars          map[string]any
	history       []Invocation
}

// NewToolContext builds a context bound to a conversation.
func NewToolContext(conv *Conversation) *ToolContext {
	return &ToolContext{
		Conversation: conv,
		RepoURL:      conv.RepoURL,
		Branch:       conv.Branch,
		Vars:         make(map[string]any),
	}
}

// BindRepository puts a repository id at the front of the active list,
// deduplicating. The front id is the one tools read.
func (tc *ToolContext) BindRepository(id string) {
	ids := []string{id}
	for _, existing := range tc.RepositoryIDs {
		if existing != id {
			ids = append(ids, existing)
		}
	}
	tc.RepositoryIDs = ids
}

// ActiveRepositoryID returns the bound repository id, or "".
func (tc *ToolContext) ActiveRepositoryID() string {
	if len(tc.RepositoryIDs) == 0 {
		return ""
	}
	return tc.RepositoryIDs[0]
}

// Record appends an invocation, evicting the oldest past the cap.
func (tc *ToolContext) Record(inv Invocation) {
	tc.history = append(tc.history, inv)
	if len(tc.history) > invocationHistoryCap {
		tc.history = tc.history[len(tc.history)-invocationHistoryCap:]
	}
}

// ExecutionCount returns how many times a tool has run this conversation.
func (tc *ToolContext) ExecutionCount(tool string) int {
	n := 0
	for _, inv := range tc.history {
		if inv.Tool == tool {
			n++
		}
	}
	return n
}

// LastResult returns the most recent result for a tool, or false.
func (tc *ToolContext) LastResult(tool string) (Result, bool) {
	for i := len(tc.history) - 1; i >= 0; i-- {
		if tc.history[i].Tool == tool {
			return tc.history[i].Result, true
		}
	}
	return Result{}, false
}

// HasNegativeFeedback reports whether any of the last three user messages
// contains an improvement phrase. Drives alternative-tool augmentation.
func (tc *ToolContext) HasNegativeFeedback() bool {
	if tc.Conversation == nil {
		return false
	}
	seen := 0
	for i := len(tc.Conversation.Messages) - 1; i >= 0 && seen < 3; i-- {
		m := tc.Conversation.Messages[i]
		if m.Role != RoleUser {
			continue
		}
		seen++
		lower := strings.ToLower(m.Content)
		for _, phrase := range negativeFeedbackPhrases {
			if strings.Contains(lower, phrase) {
				return true
			}
		}
	}
	return false
}
