// Package sqlite implements the lattix persistence contracts using
// pure-Go SQLite. Zero CGO required. One file holds conversations,
// indexed-repository metadata, the code knowledge graph, and ingested
// documentation. Suitable for single-node deployments and tests; the
// postgres package carries the same contracts for production.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lattixhq/lattix"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for operations including timing and row counts.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements the lattix store contracts backed by a local SQLite
// file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ lattix.ConversationStore = (*Store)(nil)
	_ lattix.RepositoryStore   = (*Store)(nil)
	_ lattix.GraphStore        = (*Store)(nil)
	_ lattix.EntityWriter      = (*Store)(nil)
	_ lattix.EntityReader      = (*Store)(nil)
	_ lattix.DocsStore         = (*Store)(nil)
)

// New creates a Store using a local SQLite file at dbPath. It opens a
// single shared connection (SetMaxOpenConns(1)) so that all goroutines
// serialize through one connection, eliminating SQLITE_BUSY errors caused
// by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			repo_name TEXT NOT NULL,
			branch TEXT NOT NULL,
			mode TEXT NOT NULL,
			active INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
		`CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			branch TEXT NOT NULL,
			language TEXT,
			last_indexed_commit TEXT,
			indexed_at INTEGER
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
			properties TEXT,
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
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.logger.Debug("sqlite: init done", "took", time.Since(start))
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// --- ConversationStore ---

func (s *Store) CreateConversation(ctx context.Context, conv lattix.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, repo_url, repo_name, branch, mode, active, created_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.RepoURL, conv.RepoName, conv.Branch, string(conv.Mode),
		boolInt(conv.Active), conv.CreatedAt.UnixMilli(), conv.LastActivity.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (lattix.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, repo_url, repo_name, branch, mode, active, created_at, last_activity
		 FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

func (s *Store) GetConversationWithMessages(ctx context.Context, id string) (lattix.Conversation, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return lattix.Conversation{}, err
	}
	// rowid preserves insertion order even when timestamps collide.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY rowid`, id)
	if err != nil {
		return lattix.Conversation{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m lattix.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created); err != nil {
			return lattix.Conversation{}, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(created)
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, msg lattix.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) UpdateConversation(ctx context.Context, conv lattix.Conversation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET mode = ?, active = ?, last_activity = ? WHERE id = ?`,
		string(conv.Mode), boolInt(conv.Active), conv.LastActivity.UnixMilli(), conv.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lattix.ErrNotFound
	}
	return nil
}

func (s *Store) ListActiveConversations(ctx context.Context, userID string) ([]lattix.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, repo_url, repo_name, branch, mode, active, created_at, last_activity
		 FROM conversations WHERE user_id = ? AND active = 1 ORDER BY last_activity DESC`, userID)
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

// scanner covers *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }

func scanConversation(row scanner) (lattix.Conversation, error) {
	var conv lattix.Conversation
	var active int
	var created, activity int64
	err := row.Scan(&conv.ID, &conv.UserID, &conv.RepoURL, &conv.RepoName, &conv.Branch,
		&conv.Mode, &active, &created, &activity)
	if err == sql.ErrNoRows {
		return lattix.Conversation{}, lattix.ErrNotFound
	}
	if err != nil {
		return lattix.Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	conv.Active = active != 0
	conv.CreatedAt = time.UnixMilli(created)
	conv.LastActivity = time.UnixMilli(activity)
	return conv, nil
}

// --- RepositoryStore ---

func (s *Store) GetRepositoryByURL(ctx context.Context, url string) (lattix.Repository, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, branch, language, last_indexed_commit, indexed_at FROM repositories WHERE url = ?`, url)
	return scanRepository(row)
}

func (s *Store) UpsertRepository(ctx context.Context, repo lattix.Repository) (lattix.Repository, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, url, branch, language, last_indexed_commit, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET branch = excluded.branch, language = excluded.language`,
		repo.ID, repo.URL, repo.Branch, nullStr(repo.Language), nullStr(repo.LastIndexedCommit),
		nullTime(repo.IndexedAt))
	if err != nil {
		return lattix.Repository{}, fmt.Errorf("upsert repository: %w", err)
	}
	return s.GetRepositoryByURL(ctx, repo.URL)
}

func (s *Store) UpdateRepositoryCommit(ctx context.Context, id, commit string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET last_indexed_commit = ?, indexed_at = ? WHERE id = ?`,
		commit, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update repository commit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lattix.ErrNotFound
	}
	return nil
}

func scanRepository(row scanner) (lattix.Repository, error) {
	var repo lattix.Repository
	var language, commit sql.NullString
	var indexedAt sql.NullInt64
	err := row.Scan(&repo.ID, &repo.URL, &repo.Branch, &language, &commit, &indexedAt)
	if err == sql.ErrNoRows {
		return lattix.Repository{}, lattix.ErrNotFound
	}
	if err != nil {
		return lattix.Repository{}, fmt.Errorf("scan repository: %w", err)
	}
	repo.Language = language.String
	repo.LastIndexedCommit = commit.String
	if indexedAt.Valid {
		repo.IndexedAt = time.UnixMilli(indexedAt.Int64)
	}
	return repo, nil
}

// --- GraphStore ---

// Read runs a read-only SQL query. The embedded store's query dialect is
// SQL over the entities/edges tables; the HTTP boundary's write-verb guard
// is applied before queries reach here.
func (s *Store) Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, namedArgs(params)...)
	if err != nil {
		return nil, fmt.Errorf("graph read: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("graph read columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("graph read scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	s.logger.Debug("sqlite: graph read", "rows", len(out), "took", time.Since(start))
	return out, rows.Err()
}

// Write runs a mutating SQL statement and returns the affected count.
func (s *Store) Write(ctx context.Context, query string, params map[string]any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, namedArgs(params)...)
	if err != nil {
		return 0, fmt.Errorf("graph write: %w", err)
	}
	return res.RowsAffected()
}

// DeleteEntities removes every entity of the given kinds for a repository,
// along with all of the repository's edges.
func (s *Store) DeleteEntities(ctx context.Context, repositoryID string, kinds ...lattix.EntityKind) (int64, error) {
	if len(kinds) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(kinds)), ",")
	args := []any{repositoryID}
	for _, k := range kinds {
		args = append(args, string(k))
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE repository_id = ? AND kind IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete entities: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE repository_id = ?`, repositoryID); err != nil {
		return n, fmt.Errorf("delete edges: %w", err)
	}
	s.logger.Debug("sqlite: entities deleted", "repository", repositoryID, "count", n)
	return n, nil
}

// --- EntityWriter ---

func (s *Store) PutEntities(ctx context.Context, entities []lattix.CodeEntity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO entities (id, repository_id, kind, name, qualified_name, file_path, line, snippet, properties)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, e := range entities {
		props, err := json.Marshal(e.Properties)
		if err != nil {
			return fmt.Errorf("marshal properties: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.RepositoryID, string(e.Kind), e.Name,
			e.QualifiedName, e.FilePath, e.Line, e.Snippet, string(props)); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) PutEdges(ctx context.Context, edges []lattix.EntityEdge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO edges (from_id, to_id, relation, repository_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, e.FromID, e.ToID, e.Relation, e.RepositoryID); err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
	}
	return tx.Commit()
}

// --- EntityReader ---

func (s *Store) SearchEntities(ctx context.Context, repositoryID, query string, limit int) ([]lattix.CodeEntity, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repository_id, kind, name, qualified_name, file_path, line, snippet, properties
		 FROM entities
		 WHERE repository_id = ?
		   AND (name LIKE ? ESCAPE '\' OR qualified_name LIKE ? ESCAPE '\' OR snippet LIKE ? ESCAPE '\')
		 LIMIT ?`,
		repositoryID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *Store) EntitiesByKind(ctx context.Context, repositoryID string, kind lattix.EntityKind, limit int) ([]lattix.CodeEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repository_id, kind, name, qualified_name, file_path, line, snippet, properties
		 FROM entities WHERE repository_id = ? AND kind = ? ORDER BY qualified_name LIMIT ?`,
		repositoryID, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("entities by kind: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *Store) Neighbors(ctx context.Context, repositoryID, entityID, relation string) ([]lattix.CodeEntity, error) {
	q := `SELECT e.id, e.repository_id, e.kind, e.name, e.qualified_name, e.file_path, e.line, e.snippet, e.properties
	      FROM edges g JOIN entities e ON e.repository_id = g.repository_id AND e.id = g.to_id
	      WHERE g.repository_id = ? AND g.from_id = ?`
	args := []any{repositoryID, entityID}
	if relation != "" {
		q += ` AND g.relation = ?`
		args = append(args, relation)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *Store) GetEntity(ctx context.Context, repositoryID, id string) (lattix.CodeEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repository_id, kind, name, qualified_name, file_path, line, snippet, properties
		 FROM entities WHERE repository_id = ? AND id = ?`, repositoryID, id)
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

func scanEntities(rows *sql.Rows) ([]lattix.CodeEntity, error) {
	var out []lattix.CodeEntity
	for rows.Next() {
		var e lattix.CodeEntity
		var filePath, snippet, props sql.NullString
		var line sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RepositoryID, &e.Kind, &e.Name, &e.QualifiedName,
			&filePath, &line, &snippet, &props); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.FilePath = filePath.String
		e.Line = int(line.Int64)
		e.Snippet = snippet.String
		if props.String != "" && props.String != "null" {
			if err := json.Unmarshal([]byte(props.String), &e.Properties); err != nil {
				return nil, fmt.Errorf("unmarshal properties: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- DocsStore ---

func (s *Store) StoreDocPage(ctx context.Context, page lattix.DocPage, chunks []lattix.DocChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO doc_pages (id, repository_id, source, title) VALUES (?, ?, ?, ?)`,
		page.ID, page.RepositoryID, page.Source, page.Title); err != nil {
		return fmt.Errorf("insert doc page: %w", err)
	}
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO doc_chunks (id, page_id, repository_id, seq, content) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.PageID, c.RepositoryID, c.Seq, c.Content); err != nil {
			return fmt.Errorf("insert doc chunk: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) SearchDocChunks(ctx context.Context, repositoryID, query string, limit int) ([]lattix.DocChunk, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page_id, repository_id, seq, content FROM doc_chunks
		 WHERE repository_id = ? AND content LIKE ? ESCAPE '\' ORDER BY page_id, seq LIMIT ?`,
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

// --- helpers ---

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// namedArgs converts a params map to sql.Named arguments for queries that
// use :name placeholders.
func namedArgs(params map[string]any) []any {
	out := make([]any, 0, len(params))
	for k, v := range params {
		out = append(out, sql.Named(k, v))
	}
	return out
}

// escapeLike escapes LIKE wildcards so user queries match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
