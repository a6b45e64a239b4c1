package lattix

import "context"

// GraphStore is the code knowledge graph's persistence contract. Reads are
// safe concurrently; writes for one repository id are serialized by the
// lifecycle gate's single-worker assumption.
type GraphStore interface {
	// Read runs a read-only query and returns rows as column→value maps.
	Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	// Write runs a mutating query and returns the affected count.
	Write(ctx context.Context, query string, params map[string]any) (int64, error)
	// DeleteEntities bulk-deletes every entity of the given kinds tagged
	// with the repository id, plus their edges. Used by the lifecycle gate
	// before re-indexing; entity replacement is total.
	DeleteEntities(ctx context.Context, repositoryID string, kinds ...EntityKind) (int64, error)
}

// EntityWriter is the indexer-facing half of the graph store.
type EntityWriter interface {
	PutEntities(ctx context.Context, entities []CodeEntity) error
	PutEdges(ctx context.Context, edges []EntityEdge) error
}

// EntityReader is the tool-facing half of the graph store.
type EntityReader interface {
	// SearchEntities matches name, qualified name, and snippet text.
	SearchEntities(ctx context.Context, repositoryID, query string, limit int) ([]CodeEntity, error)
	EntitiesByKind(ctx context.Context, repositoryID string, kind EntityKind, limit int) ([]CodeEntity, error)
	// Neighbors walks edges from an entity. Empty relation matches all.
	Neighbors(ctx context.Context, repositoryID, entityID, relation string) ([]CodeEntity, error)
	GetEntity(ctx context.Context, repositoryID, id string) (CodeEntity, error)
}

// DocPage is one ingested documentation source (web page or PDF).
type DocPage struct {
	ID           string `json:"id"`
	RepositoryID string `json:"repository_id"`
	Source       string `json:"source"`
	Title        string `json:"title"`
}

// DocChunk is a searchable fragment of an ingested documentation page.
type DocChunk struct {
	ID           string `json:"id"`
	PageID       string `json:"page_id"`
	RepositoryID string `json:"repository_id"`
	Seq          int    `json:"seq"`
	Content      string `json:"content"`
}

// DocsStore persists and searches ingested project documentation.
type DocsStore interface {
	StoreDocPage(ctx context.Context, page DocPage, chunks []DocChunk) error
	SearchDocChunks(ctx context.Context, repositoryID, query string, limit int) ([]DocChunk, error)
}
