package lattix

import (
	"strings"
	"time"
)

// Mode selects the assistant's working style for a conversation.
// It shapes the synthesis prompt; tool selection is mode-independent.
type Mode string

const (
	ModeExplore   Mode = "EXPLORE"
	ModeDebug     Mode = "DEBUG"
	ModeImplement Mode = "IMPLEMENT"
	ModeReview    Mode = "REVIEW"
)

// ParseMode maps a request string to a Mode, defaulting to Explore.
func ParseMode(s string) Mode {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeDebug:
		return ModeDebug
	case ModeImplement:
		return ModeImplement
	case ModeReview:
		return ModeReview
	default:
		return ModeExplore
	}
}

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. CreatedAt is monotonically
// increasing within its conversation; insertion order is authoritative.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"timestamp"`
}

// Conversation is the durable exchange between one user and the assistant
// over one repository. Messages are ordered by insertion. Once closed, no
// new messages may be appended; reopening resets Active but not history.
type Conversation struct {
	ID           string    `json:"conversation_id"`
	UserID       string    `json:"user_id"`
	RepoURL      string    `json:"repo_url"`  // normalized
	RepoName     string    `json:"repo_name"` // derived from the URL
	Branch       string    `json:"branch"`
	Mode         Mode      `json:"mode"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Messages     []Message `json:"messages,omitempty"`
}

// Repository is an indexed repository known to the graph store.
// URL is normalized and unique across repositories.
type Repository struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	Branch            string    `json:"branch"`
	Language          string    `json:"language,omitempty"`
	LastIndexedCommit string    `json:"last_indexed_commit,omitempty"`
	IndexedAt         time.Time `json:"indexed_at,omitempty"`
}

// EntityKind tags a node in the code knowledge graph.
type EntityKind string

const (
	EntityType       EntityKind = "Type"
	EntityMethod     EntityKind = "Method"
	EntityField      EntityKind = "Field"
	EntityPackage    EntityKind = "Package"
	EntityAnnotation EntityKind = "Annotation"
)

// EntityKinds lists every kind the indexer produces. The lifecycle gate
// deletes all of them when replacing a repository's graph.
func EntityKinds() []EntityKind {
	return []EntityKind{EntityType, EntityMethod, EntityField, EntityPackage, EntityAnnotation}
}

// CodeEntity is a node in the code knowledge graph, tagged with its owning
// repository. The core never constructs entities; the indexer does. The
// lifecycle gate deletes and replaces them in bulk per repository id.
type CodeEntity struct {
	ID            string            `json:"id"`
	RepositoryID  string            `json:"repository_id"`
	Kind          EntityKind        `json:"kind"`
	Name          string            `json:"name"`
	QualifiedName string            `json:"qualified_name"`
	FilePath      string            `json:"file_path,omitempty"`
	Line          int               `json:"line,omitempty"`
	Snippet       string            `json:"snippet,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// EntityEdge is a directed relation between two code entities
// (calls, extends, imports, contains).
type EntityEdge struct {
	FromID       string `json:"from_id"`
	ToID         string `json:"to_id"`
	Relation     string `json:"relation"`
	RepositoryID string `json:"repository_id"`
}
