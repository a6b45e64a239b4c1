package codesearch

import (
	"context"
	"strings"
	"testing"

	"github.com/lattixhq/lattix"
)

// fakeReader serves a fixed entity set, filtering by substring like the
// real stores do.
type fakeReader struct {
	entities []lattix.CodeEntity
	err      error
}

func (f *fakeReader) SearchEntities(_ context.Context, repoID, query string, limit int) ([]lattix.CodeEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	q := strings.ToLower(query)
	var out []lattix.CodeEntity
	for _, e := range f.entities {
		if e.RepositoryID != repoID {
			continue
		}
		text := strings.ToLower(e.Name + " " + e.QualifiedName + " " + e.Snippet)
		if strings.Contains(text, q) {
			out = append(out, e)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeReader) EntitiesByKind(_ context.Context, repoID string, kind lattix.EntityKind, limit int) ([]lattix.CodeEntity, error) {
	var out []lattix.CodeEntity
	for _, e := range f.entities {
		if e.RepositoryID == repoID && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeReader) Neighbors(context.Context, string, string, string) ([]lattix.CodeEntity, error) {
	return nil, nil
}

func (f *fakeReader) GetEntity(context.Context, string, string) (lattix.CodeEntity, error) {
	return lattix.CodeEntity{}, lattix.ErrNotFound
}

func fixtureContext() *lattix.ToolContext {
	tc := lattix.NewToolContext(&lattix.Conversation{ID: "c1"})
	tc.BindRepository("r1")
	return tc
}

func fixtureEntities() []lattix.CodeEntity {
	return []lattix.CodeEntity{
		{ID: "e1", RepositoryID: "r1", Kind: lattix.EntityType, Name: "PaymentValidator",
			QualifiedName: "com.acme.pay.PaymentValidator", FilePath: "src/PaymentValidator.java", Line: 10},
		{ID: "e2", RepositoryID: "r1", Kind: lattix.EntityMethod, Name: "validatePayment",
			QualifiedName: "com.acme.pay.PaymentValidator.validatePayment",
			Snippet:       "void validatePayment(Order order)"},
		{ID: "e3", RepositoryID: "r1", Kind: lattix.EntityType, Name: "RetryPolicy",
			QualifiedName: "com.acme.infra.RetryPolicy"},
		{ID: "e4", RepositoryID: "other", Kind: lattix.EntityType, Name: "PaymentGateway",
			QualifiedName: "com.other.PaymentGateway"},
	}
}

func TestSearchCodeFindsMatches(t *testing.T) {
	tool := New(&fakeReader{entities: fixtureEntities()})
	res := tool.Execute(context.Background(), map[string]any{"query": "payment"}, fixtureContext())
	if !res.OK {
		t.Fatalf("failure: %s", res.Message)
	}
	if !strings.Contains(res.Message, "PaymentValidator") {
		t.Fatalf("message = %q", res.Message)
	}
	// Repo-scoped: the other repository's entity is invisible.
	if strings.Contains(res.Message, "PaymentGateway") {
		t.Fatalf("cross-repo leak: %q", res.Message)
	}
}

func TestSearchCodeKindFilter(t *testing.T) {
	tool := New(&fakeReader{entities: fixtureEntities()})
	res := tool.Execute(context.Background(),
		map[string]any{"query": "payment", "kind": "Method"}, fixtureContext())
	if !res.OK {
		t.Fatalf("failure: %s", res.Message)
	}
	if !strings.Contains(res.Message, "validatePayment") || strings.Contains(res.Message, "[Type]") {
		t.Fatalf("kind filter not applied: %q", res.Message)
	}
}

func TestSearchCodeMissingQuery(t *testing.T) {
	tool := New(&fakeReader{})
	res := tool.Execute(context.Background(), map[string]any{}, fixtureContext())
	if res.OK || !strings.Contains(res.Message, "query") {
		t.Fatalf("res = %+v", res)
	}
}

func TestSearchCodeNoMatchesIsSuccess(t *testing.T) {
	tool := New(&fakeReader{entities: fixtureEntities()})
	res := tool.Execute(context.Background(), map[string]any{"query": "blockchain"}, fixtureContext())
	if !res.OK {
		t.Fatal("an empty result set is not a failure")
	}
	if !strings.Contains(res.Message, "No code matches") {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestSemanticSearchRanksByOverlap(t *testing.T) {
	tool := NewSemantic(&fakeReader{entities: fixtureEntities()})
	res := tool.Execute(context.Background(),
		map[string]any{"query": "where is payment validated"}, fixtureContext())
	if !res.OK {
		t.Fatalf("failure: %s", res.Message)
	}
	// Terms match as plain substrings: "payment" hits PaymentValidator and
	// validatePayment; "validated" hits neither.
	entities, ok := res.Data.([]lattix.CodeEntity)
	if !ok || len(entities) == 0 {
		t.Fatalf("data = %T", res.Data)
	}
	// Unrelated entities are excluded.
	for _, e := range entities {
		if e.Name == "RetryPolicy" {
			t.Fatal("RetryPolicy should not rank for a payment query")
		}
	}
}

func TestToolsRequireIndexedRepo(t *testing.T) {
	if !New(&fakeReader{}).RequiresIndexedRepo {
		t.Fatal("search_code must require an indexed repository")
	}
	if !NewSemantic(&fakeReader{}).RequiresIndexedRepo {
		t.Fatal("semantic_search must require an indexed repository")
	}
}
