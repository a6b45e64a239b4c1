// Package depgraph provides the dependency_analysis tool: edge walks over
// the code knowledge graph answering "what does X depend on". Only
// outgoing edges are walked; "what depends on X" is not answered.
package depgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/lattixhq/lattix"
)

const candidateLimit = 5

type params struct {
	Entity   string `json:"entity"`
	Relation string `json:"relation,omitempty"`
}

// New creates the dependency_analysis tool.
func New(reader lattix.EntityReader) lattix.Tool {
	return lattix.Tool{
		Name:        "dependency_analysis",
		Description: "Analyze dependencies of a type, method, or package: outgoing edges (calls, imports, extends) from the named entity.",
		Params: []byte(`{"type":"object","properties":{
			"entity":{"type":"string","description":"Name or qualified name of the entity to analyze"},
			"relation":{"type":"string","description":"Optional edge filter: calls, imports, extends, contains"}},
			"required":["entity"]}`),
		Category:            lattix.CategoryAnalysis,
		RequiresIndexedRepo: true,
		Execute: func(ctx context.Context, raw map[string]any, tc *lattix.ToolContext) lattix.Result {
			var p params
			if err := lattix.DecodeParams(raw, &p); err != nil {
				return lattix.Failure("invalid parameters: %v", err)
			}
			if p.Entity == "" {
				return lattix.Failure("parameter %q is required", "entity")
			}

			repoID := tc.ActiveRepositoryID()
			candidates, err := reader.SearchEntities(ctx, repoID, p.Entity, candidateLimit)
			if err != nil {
				return lattix.Failure("entity lookup failed: %v", err)
			}
			if len(candidates) == 0 {
				return lattix.Failure("no entity named %q in the code graph", p.Entity)
			}
			target := pick(candidates, p.Entity)

			deps, err := reader.Neighbors(ctx, repoID, target.ID, p.Relation)
			if err != nil {
				return lattix.Failure("dependency walk failed: %v", err)
			}

			res := lattix.Success(deps, render(target, p.Relation, deps))
			res.Metadata = map[string]any{"entity_id": target.ID, "dependency_count": len(deps)}
			res.SuggestedNext = []string{"search_code"}
			return res
		},
	}
}

// pick prefers an exact name or qualified-name match over the first
// substring hit.
func pick(candidates []lattix.CodeEntity, name string) lattix.CodeEntity {
	for _, c := range candidates {
		if c.Name == name || c.QualifiedName == name {
			return c
		}
	}
	return candidates[0]
}

func render(target lattix.CodeEntity, relation string, deps []lattix.CodeEntity) string {
	rel := relation
	if rel == "" {
		rel = "all relations"
	}
	if len(deps) == 0 {
		return fmt.Sprintf("%s %s has no outgoing dependencies (%s).", target.Kind, target.QualifiedName, rel)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s depends on %d entities (%s):\n", target.Kind, target.QualifiedName, len(deps), rel)
	for _, d := range deps {
		fmt.Fprintf(&b, "- [%s] %s", d.Kind, d.QualifiedName)
		if d.FilePath != "" {
			fmt.Fprintf(&b, " (%s:%d)", d.FilePath, d.Line)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
