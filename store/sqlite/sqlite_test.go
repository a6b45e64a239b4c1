package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/lattixhq/lattix"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConversationRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv := lattix.Conversation{
		ID: "c1", UserID: "u1", RepoURL: "https://github.com/acme/pay",
		RepoName: "pay", Branch: "main", Mode: lattix.ModeDebug, Active: true,
		CreatedAt: time.Now(), LastActivity: time.Now(),
	}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u1" || got.Mode != lattix.ModeDebug || !got.Active {
		t.Fatalf("got %+v", got)
	}

	if _, err := s.GetConversation(ctx, "missing"); !errors.Is(err, lattix.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_ = s.CreateConversation(ctx, lattix.Conversation{
		ID: "c1", UserID: "u1", RepoURL: "u", RepoName: "r", Branch: "main",
		Mode: lattix.ModeExplore, Active: true, CreatedAt: time.Now(), LastActivity: time.Now(),
	})

	// Identical timestamps: rowid ordering must still hold.
	at := time.Now()
	for i, content := range []string{"first", "second", "third"} {
		err := s.AppendMessage(ctx, lattix.Message{
			ID: lattix.NewID(), ConversationID: "c1",
			Role: lattix.RoleUser, Content: content, CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	conv, err := s.GetConversationWithMessages(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	if len(conv.Messages) != len(want) {
		t.Fatalf("messages = %d", len(conv.Messages))
	}
	for i := range want {
		if conv.Messages[i].Content != want[i] {
			t.Fatalf("message[%d] = %q, want %q", i, conv.Messages[i].Content, want[i])
		}
	}
}

func TestRepositoryUpsertAndCommit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	repo, err := s.UpsertRepository(ctx, lattix.Repository{
		ID: "r1", URL: "https://github.com/acme/pay", Branch: "main",
	})
	if err != nil {
		t.Fatal(err)
	}
	if repo.ID != "r1" {
		t.Fatalf("id = %q", repo.ID)
	}

	// Upserting the same URL keeps the id stable.
	again, err := s.UpsertRepository(ctx, lattix.Repository{
		ID: "r2", URL: "https://github.com/acme/pay", Branch: "develop",
	})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != "r1" || again.Branch != "develop" {
		t.Fatalf("again = %+v", again)
	}

	if err := s.UpdateRepositoryCommit(ctx, "r1", "abc1234"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRepositoryByURL(ctx, "https://github.com/acme/pay")
	if got.LastIndexedCommit != "abc1234" {
		t.Fatalf("commit = %q", got.LastIndexedCommit)
	}
}

func seedEntities(t *testing.T, s *Store) {
	t.Helper()
	err := s.PutEntities(context.Background(), []lattix.CodeEntity{
		{ID: "e1", RepositoryID: "r1", Kind: lattix.EntityType, Name: "PaymentValidator",
			QualifiedName: "com.acme.PaymentValidator", FilePath: "src/P.java", Line: 5,
			Properties: map[string]string{"visibility": "public"}},
		{ID: "e2", RepositoryID: "r1", Kind: lattix.EntityMethod, Name: "validate",
			QualifiedName: "com.acme.PaymentValidator.validate", Snippet: "boolean validate(Order o)"},
		{ID: "e3", RepositoryID: "r1", Kind: lattix.EntityPackage, Name: "com.acme",
			QualifiedName: "com.acme"},
		{ID: "x1", RepositoryID: "r2", Kind: lattix.EntityType, Name: "PaymentValidator",
			QualifiedName: "other.PaymentValidator"},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.PutEdges(context.Background(), []lattix.EntityEdge{
		{FromID: "e3", ToID: "e1", Relation: "contains", RepositoryID: "r1"},
		{FromID: "e1", ToID: "e2", Relation: "contains", RepositoryID: "r1"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestEntitySearchScopedByRepository(t *testing.T) {
	s := testStore(t)
	seedEntities(t, s)

	out, err := s.SearchEntities(context.Background(), "r1", "payment", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("results = %d, want 2 (r2's entity excluded)", len(out))
	}
	for _, e := range out {
		if e.RepositoryID != "r1" {
			t.Fatalf("cross-repo leak: %+v", e)
		}
	}
}

func TestEntitySearchEscapesWildcards(t *testing.T) {
	s := testStore(t)
	err := s.PutEntities(context.Background(), []lattix.CodeEntity{
		{ID: "e1", RepositoryID: "r1", Kind: lattix.EntityMethod, Name: "get_value",
			QualifiedName: "a.get_value"},
		{ID: "e2", RepositoryID: "r1", Kind: lattix.EntityMethod, Name: "getXvalue",
			QualifiedName: "a.getXvalue"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// "_" must match literally, not as a single-char wildcard.
	out, err := s.SearchEntities(context.Background(), "r1", "get_value", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Name != "get_value" {
		t.Fatalf("out = %+v", out)
	}
}

func TestNeighborsWalk(t *testing.T) {
	s := testStore(t)
	seedEntities(t, s)

	out, err := s.Neighbors(context.Background(), "r1", "e3", "contains")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "e1" {
		t.Fatalf("neighbors = %+v", out)
	}
	if out[0].Properties["visibility"] != "public" {
		t.Fatalf("properties lost: %+v", out[0].Properties)
	}
}

func TestDeleteEntitiesIsTotalPerRepository(t *testing.T) {
	s := testStore(t)
	seedEntities(t, s)

	n, err := s.DeleteEntities(context.Background(), "r1", lattix.EntityKinds()...)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("deleted = %d, want 3", n)
	}

	out, _ := s.SearchEntities(context.Background(), "r1", "payment", 10)
	if len(out) != 0 {
		t.Fatalf("entities remain after delete: %+v", out)
	}
	edges, _ := s.Neighbors(context.Background(), "r1", "e3", "")
	if len(edges) != 0 {
		t.Fatalf("edges remain after delete: %+v", edges)
	}

	// The other repository's graph is untouched.
	other, _ := s.SearchEntities(context.Background(), "r2", "payment", 10)
	if len(other) != 1 {
		t.Fatalf("r2 entities = %d, want 1", len(other))
	}
}

func TestGraphReadNamedParams(t *testing.T) {
	s := testStore(t)
	seedEntities(t, s)

	rows, err := s.Read(context.Background(),
		`SELECT name FROM entities WHERE repository_id = :repository_id AND kind = :kind ORDER BY name`,
		map[string]any{"repository_id": "r1", "kind": "Type"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["name"] != "PaymentValidator" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestDocChunkRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	page := lattix.DocPage{ID: "p1", RepositoryID: "r1", Source: "https://docs.acme.dev/pay", Title: "Payments"}
	err := s.StoreDocPage(ctx, page, []lattix.DocChunk{
		{ID: "c1", PageID: "p1", RepositoryID: "r1", Seq: 0, Content: "Payment validation happens in two phases."},
		{ID: "c2", PageID: "p1", RepositoryID: "r1", Seq: 1, Content: "Retries use exponential backoff."},
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := s.SearchDocChunks(ctx, "r1", "backoff", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "c2" {
		t.Fatalf("out = %+v", out)
	}
}
