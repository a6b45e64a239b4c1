// Package graphquery provides the graph_query tool: read-only ad-hoc
// queries against the code knowledge graph.
package graphquery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lattixhq/lattix"
)

const maxRows = 100

type params struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// New creates the graph_query tool. Queries pass the same write-verb
// deny-list as the HTTP graph endpoint; the repository id is always
// injected as the @repository_id parameter so queries stay scoped.
func New(graph lattix.GraphStore) lattix.Tool {
	return lattix.Tool{
		Name:        "graph_query",
		Description: "Run a read-only query against the code knowledge graph (entities and edges tables) for questions keyword search cannot answer.",
		Params: []byte(`{"type":"object","properties":{
			"query":{"type":"string","description":"Read-only query over entities(id, repository_id, kind, name, qualified_name, file_path, line, snippet) and edges(from_id, to_id, relation, repository_id). Use @repository_id to scope."},
			"parameters":{"type":"object","description":"Named query parameters"}},
			"required":["query"]}`),
		Category:            lattix.CategoryGraph,
		RequiresIndexedRepo: true,
		Execute: func(ctx context.Context, raw map[string]any, tc *lattix.ToolContext) lattix.Result {
			var p params
			if err := lattix.DecodeParams(raw, &p); err != nil {
				return lattix.Failure("invalid parameters: %v", err)
			}
			if p.Query == "" {
				return lattix.Failure("parameter %q is required", "query")
			}
			if err := lattix.ValidateGraphQuery(p.Query); err != nil {
				return lattix.Failure("%v", err)
			}

			args := map[string]any{"repository_id": tc.ActiveRepositoryID()}
			for k, v := range p.Parameters {
				if k != "repository_id" {
					args[k] = v
				}
			}

			rows, err := graph.Read(ctx, p.Query, args)
			if err != nil {
				return lattix.Failure("query failed: %v", err)
			}
			truncated := false
			if len(rows) > maxRows {
				rows = rows[:maxRows]
				truncated = true
			}

			msg := renderRows(rows, truncated)
			res := lattix.Success(rows, msg)
			res.Metadata = map[string]any{"row_count": len(rows), "truncated": truncated}
			return res
		},
	}
}

func renderRows(rows []map[string]any, truncated bool) string {
	if len(rows) == 0 {
		return "The query returned no rows."
	}
	raw, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Sprintf("The query returned %d rows (unrenderable: %v).", len(rows), err)
	}
	msg := fmt.Sprintf("The query returned %d rows:\n%s", len(rows), raw)
	if truncated {
		msg += fmt.Sprintf("\n(truncated to the first %d rows)", maxRows)
	}
	return msg
}
