// Package discover provides the discover_project tool: a structural
// overview of an indexed repository from its package entities.
package discover

import (
	"context"
	"fmt"
	"strings"

	"github.com/lattixhq/lattix"
)

const packageLimit = 100

// New creates the discover_project tool.
func New(reader lattix.EntityReader) lattix.Tool {
	return lattix.Tool{
		Name:                "discover_project",
		Description:         "Discover the project's structure: packages and the principal types each contains. A good first call for an unfamiliar repository.",
		Params:              []byte(`{"type":"object","properties":{}}`),
		Category:            lattix.CategoryDiscovery,
		RequiresIndexedRepo: true,
		Execute: func(ctx context.Context, _ map[string]any, tc *lattix.ToolContext) lattix.Result {
			repoID := tc.ActiveRepositoryID()
			packages, err := reader.EntitiesByKind(ctx, repoID, lattix.EntityPackage, packageLimit)
			if err != nil {
				return lattix.Failure("package listing failed: %v", err)
			}
			if len(packages) == 0 {
				return lattix.Failure("the code graph has no packages for this repository")
			}

			var b strings.Builder
			fmt.Fprintf(&b, "The repository has %d packages:\n", len(packages))
			for _, pkg := range packages {
				fmt.Fprintf(&b, "- %s", pkg.QualifiedName)
				types, err := reader.Neighbors(ctx, repoID, pkg.ID, "contains")
				if err == nil && len(types) > 0 {
					names := make([]string, 0, len(types))
					for _, t := range types {
						if t.Kind == lattix.EntityType {
							names = append(names, t.Name)
						}
					}
					if len(names) > 8 {
						names = append(names[:8], "…")
					}
					if len(names) > 0 {
						fmt.Fprintf(&b, " — %s", strings.Join(names, ", "))
					}
				}
				b.WriteString("\n")
			}

			res := lattix.Success(packages, strings.TrimRight(b.String(), "\n"))
			res.SuggestedNext = []string{"search_code", "dependency_analysis"}
			return res
		},
	}
}
