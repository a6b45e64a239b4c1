package discover

import (
	"context"
	"strings"
	"testing"

	"github.com/lattixhq/lattix"
)

type fakeReader struct {
	packages  []lattix.CodeEntity
	neighbors map[string][]lattix.CodeEntity
}

func (f *fakeReader) SearchEntities(context.Context, string, string, int) ([]lattix.CodeEntity, error) {
	return nil, nil
}

func (f *fakeReader) EntitiesByKind(_ context.Context, repoID string, kind lattix.EntityKind, _ int) ([]lattix.CodeEntity, error) {
	if kind != lattix.EntityPackage {
		return nil, nil
	}
	var out []lattix.CodeEntity
	for _, p := range f.packages {
		if p.RepositoryID == repoID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeReader) Neighbors(_ context.Context, _, entityID, _ string) ([]lattix.CodeEntity, error) {
	return f.neighbors[entityID], nil
}

func (f *fakeReader) GetEntity(context.Context, string, string) (lattix.CodeEntity, error) {
	return lattix.CodeEntity{}, lattix.ErrNotFound
}

func TestDiscoverProjectListsPackages(t *testing.T) {
	reader := &fakeReader{
		packages: []lattix.CodeEntity{
			{ID: "p1", RepositoryID: "r1", Kind: lattix.EntityPackage, QualifiedName: "com.acme.pay"},
			{ID: "p2", RepositoryID: "r1", Kind: lattix.EntityPackage, QualifiedName: "com.acme.infra"},
		},
		neighbors: map[string][]lattix.CodeEntity{
			"p1": {{Kind: lattix.EntityType, Name: "PaymentService"}},
		},
	}
	tool := New(reader)
	tc := lattix.NewToolContext(&lattix.Conversation{ID: "c1"})
	tc.BindRepository("r1")

	res := tool.Execute(context.Background(), nil, tc)
	if !res.OK {
		t.Fatalf("failure: %s", res.Message)
	}
	for _, want := range []string{"2 packages", "com.acme.pay", "com.acme.infra", "PaymentService"} {
		if !strings.Contains(res.Message, want) {
			t.Fatalf("message missing %q:\n%s", want, res.Message)
		}
	}
	if len(res.SuggestedNext) == 0 {
		t.Fatal("discover_project should suggest follow-up tools")
	}
}

func TestDiscoverProjectEmptyGraphFails(t *testing.T) {
	tool := New(&fakeReader{})
	tc := lattix.NewToolContext(&lattix.Conversation{ID: "c1"})
	tc.BindRepository("r1")

	res := tool.Execute(context.Background(), nil, tc)
	if res.OK {
		t.Fatal("an empty package list should be a failure the agent can react to")
	}
}
