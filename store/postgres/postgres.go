// Package postgres implements the lattix persistence contracts using
// PostgreSQL: conversations, indexed-repository metadata, the code
// knowledge graph, and ingested documentation.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattixhq/lattix"
)

// Store implements the lattix store contracts backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ lattix.ConversationStore = (*Store)(nil)
	_ lattix.RepositoryStore   = (*Store)(nil)
	_ lattix.GraphStore        = (*Store)(nil)
	_ lattix.EntityWriter      = (*Store)(nil)
	_ lattix.EntityReader      = (*Store)(nil)
	_ lattix.DocsStore         = (*Store)(nil)
)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			repo_name TEXT NOT NULL,
			branch TEXT NOT NULL,
			mode TEXT NOT NULL,
			active BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_activity TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			branch TEXT NOT NULL,
			language TEXT,
			last_indexed_commit TEXT,
			indexed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT NOT NULL,
			repository_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			qualified_name TEXT NOT NULL,
			file_path TEXT,
			line INTEGER,
			snippet TEXT,
			properties JSONB,
			PRIMARY KEY (repository_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(repository_id, kind)`,
		`CREATE TABLE IF NOT EXISTS edges (
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			relation TEXT NOT NULL,
			repository_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(repository_id, from_id)`,
		`CREATE TABLE IF NOT EXISTS doc_pages (
			id TEXT PRIMARY KEY,
			repository_id TEXT NOT NULL,
			source TEXT NOT NULL,
			title TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS doc_chunks (
			id TEXT PRIMARY KEY,
			page_id TEXT NOT NULL,
			repository_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL
		)`,
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// --- ConversationStore ---

func (s *Store) CreateConversation(ctx context.Context, conv lattix.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, repo_url, repo_name, branch, mode, active, created_at, last_activity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		conv.ID, conv.UserID, conv.RepoURL, conv.RepoName, conv.Branch, string(conv.Mode),
		conv.Active, conv.CreatedAt, conv.LastActivity)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (lattix.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, repo_url, repo_name, branch, mode, active, created_at, last_activity
		 FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *Store) GetConversationWithMessages(ctx context.Context, id string) (lattix.Conversation, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return lattix.Conversation{}, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY seq`, id)
	if err != nil {
		return lattix.Conversation{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m lattix.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return lattix.Conversation{}, fmt.Errorf("scan message: %w", err)
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, msg lattix.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) UpdateConversation(ctx context.Context, conv lattix.Conversation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET mode = $1, active = $2, last_activity = $3 WHERE id = $4`,
		string(conv.Mode), conv.Active, conv.LastActivity, conv.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lattix.ErrNotFound
	}
	return nil
}

func (s *Store) ListActiveConversations(ctx context.Context, userID string) ([]lattix.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, repo_url, repo_name, branch, mode, active, created_at, last_activity
		 FROM conversations WHERE user_id = $1 AND active ORDER BY last_activity DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()
	var out []lattix.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (lattix.Conversation, error) {
	var conv lattix.Conversation
	err := row.Scan(&conv.ID, &conv.UserID, &conv.RepoURL, &conv.RepoName, &conv.Branch,
		&conv.Mode, &conv.Active, &conv.CreatedAt, &conv.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return lattix.Conversation{}, lattix.ErrNotFound
	}
	if err != nil {
		return lattix.Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	return conv, nil
}

// --- RepositoryStore ---

func (s *Store) GetRepositoryByURL(ctx context.Context, url string) (lattix.Repository, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, url, branch, COALESCE(language, ''), COALESCE(last_indexed_commit, ''), COALESCE(indexed_at, 'epoch'::timestamptz)
		 FROM repositories WHERE url = $1`, url)
	var repo lattix.Repository
	err := row.Scan(&repo.ID, &repo.URL, &repo.Branch, &repo.Language, &repo.LastIndexedCommit, &repo.IndexedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return lattix.Repository{}, lattix.ErrNotFound
	}
	if err != nil {
		return lattix.Repository{}, fmt.Errorf("scan repository: %w", err)
	}
	return repo, nil
}

func (s *Store) UpsertRepository(ctx context.Context, repo lattix.Repository) (lattix.Repository, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO repositories (id, url, branch, language, last_indexed_commit)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		 ON CONFLICT (url) DO UPDATE SET branch = EXCLUDED.branch, language = EXCLUDED.language`,
		repo.ID, repo.URL, repo.Branch, repo.Language, repo.LastIndexedCommit)
	if err != nil {
		return lattix.Repository{}, fmt.Errorf("upsert repository: %w", err)
	}
	return s.GetRepositoryByURL(ctx, repo.URL)
}

func (s *Store) UpdateRepositoryCommit(ctx context.Context, id, commit string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE repositories SET last_indexed_commit = $1, indexed_at = $2 WHERE id = $3`,
		commit, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update repository commit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lattix.ErrNotFound
	}
	return nil
}

// --- GraphStore ---

// Read runs a read-only SQL query with named parameters (@name).
func (s *Store) Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx, query, pgx.NamedArgs(params))
	if err != nil {
		return nil, fmt.Errorf("graph read: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("graph read values: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Write runs a mutating SQL statement and returns the affected count.
func (s *Store) Write(ctx context.Context, query string, params map[string]any) (int64, error) {
	tag, err := s.pool.Exec(ctx, query, pgx.NamedArgs(params))
	if err != nil {
		return 0, fmt.Errorf("graph write: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteEntities removes every entity of the given kinds for a repository,
// along with all of the repository's edges.
func (s *Store) DeleteEntities(ctx context.Context, repositoryID string, kinds ...lattix.EntityKind) (int64, error) {
	if len(kinds) == 0 {
		return 0, nil
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM entities WHERE repository_id = $1 AND kind = ANY($2)`, repositoryID, names)
	if err != nil {
		return 0, fmt.Errorf("delete entities: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM edges WHERE repository_id = $1`, repositoryID); err != nil {
		return tag.RowsAffected(), fmt.Errorf("delete edges: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- EntityWriter ---

func (s *Store) PutEntities(ctx context.Context, entities []lattix.CodeEntity) error {
	batch := &pgx.Batch{}
	for _, e := range entities {
		props, err := json.Marshal(e.Properties)
		if err != nil {
			return fmt.Errorf("marshal properties: %w", err)
		}
		batch.Queue(
			`INSERT INTO entities (id, repository_id, kind, name, qualified_name, file_path, line, snippet, properties)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (repository_id, id) DO UPDATE SET
			   kind = EXCLUDED.kind, name = EXCLUDED.name, qualified_name = EXCLUDED.qualified_name,
			   file_path = EXCLUDED.file_path, line = EXCLUDED.line, snippet = EXCLUDED.snippet,
			   properties = EXCLUDED.properties`,
			e.ID, e.RepositoryID, string(e.Kind), e.Name, e.QualifiedName, e.FilePath, e.Line, e.Snippet, props)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *Store) PutEdges(ctx context.Context, edges []lattix.EntityEdge) error {
	batch := &pgx.Batch{}
	for _, e := range edges {
		batch.Queue(`INSERT INTO edges (from_id, to_id, relation, repository_id) VALUES ($1, $2, $3, $4)`,
			e.FromID, e.ToID, e.Relation, e.RepositoryID)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// --- EntityReader ---

const entityColumns = `id, repository_id, kind, name, qualified_name,
	COALESCE(file_path, ''), COALESCE(line, 0), COALESCE(snippet, ''), properties`

func (s *Store) SearchEntities(ctx context.Context, repositoryID, query string, limit int) ([]lattix.CodeEntity, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE repository_id = $1
		   AND (name ILIKE $2 OR qualified_name ILIKE $2 OR snippet ILIKE $2)
		 LIMIT $3`, repositoryID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *Store) EntitiesByKind(ctx context.Context, repositoryID string, kind lattix.EntityKind, limit int) ([]lattix.CodeEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE repository_id = $1 AND kind = $2 ORDER BY qualified_name LIMIT $3`,
		repositoryID, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("entities by kind: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *Store) Neighbors(ctx context.Context, repositoryID, entityID, relation string) ([]lattix.CodeEntity, error) {
	q := `SELECT e.id, e.repository_id, e.kind, e.name, e.qualified_name,
	        COALESCE(e.file_path, ''), COALESCE(e.line, 0), COALESCE(e.snippet, ''), e.properties
	      FROM edges g JOIN entities e ON e.repository_id = g.repository_id AND e.id = g.to_id
	      WHERE g.repository_id = $1 AND g.from_id = $2`
	args := []any{repositoryID, entityID}
	if relation != "" {
		q += ` AND g.relation = $3`
		args = append(args, relation)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *Store) GetEntity(ctx context.Context, repositoryID, id string) (lattix.CodeEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE repository_id = $1 AND id = $2`, repositoryID, id)
	if err != nil {
		return lattix.CodeEntity{}, fmt.Errorf("get entity: %w", err)
	}
	defer rows.Close()
	out, err := scanEntities(rows)
	if err != nil {
		return lattix.CodeEntity{}, err
	}
	if len(out) == 0 {
		return lattix.CodeEntity{}, lattix.ErrNotFound
	}
	return out[0], nil
}

func scanEntities(rows pgx.Rows) ([]lattix.CodeEntity, error) {
	var out []lattix.CodeEntity
	for rows.Next() {
		var e lattix.CodeEntity
		var props []byte
		if err := rows.Scan(&e.ID, &e.RepositoryID, &e.Kind, &e.Name, &e.QualifiedName,
			&e.FilePath, &e.Line, &e.Snippet, &props); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if len(props) > 0 && string(props) != "null" {
			if err := json.Unmarshal(props, &e.Properties); err != nil {
				return nil, fmt.Errorf("unmarshal properties: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- DocsStore ---

func (s *Store) StoreDocPage(ctx context.Context, page lattix.DocPage, chunks []lattix.DocChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx,
		`INSERT INTO doc_pages (id, repository_id, source, title) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET source = EXCLUDED.source, title = EXCLUDED.title`,
		page.ID, page.RepositoryID, page.Source, page.Title); err != nil {
		return fmt.Errorf("insert doc page: %w", err)
	}
	for _, c := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO doc_chunks (id, page_id, repository_id, seq, content) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content`,
			c.ID, c.PageID, c.RepositoryID, c.Seq, c.Content); err != nil {
			return fmt.Errorf("insert doc chunk: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) SearchDocChunks(ctx context.Context, repositoryID, query string, limit int) ([]lattix.DocChunk, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT id, page_id, repository_id, seq, content FROM doc_chunks
		 WHERE repository_id = $1 AND content ILIKE $2 ORDER BY page_id, seq LIMIT $3`,
		repositoryID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search doc chunks: %w", err)
	}
	defer rows.Close()
	var out []lattix.DocChunk
	for rows.Next() {
		var c lattix.DocChunk
		if err := rows.Scan(&c.ID, &c.PageID, &c.RepositoryID, &c.Seq, &c.Content); err != nil {
			return nil, fmt.Errorf("scan doc chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// escapeLike escapes LIKE wildcards so user queries match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
