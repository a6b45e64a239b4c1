// Package codesearch provides the search_code and semantic_search tools:
// keyword and relevance-ranked lookup over the code knowledge graph.
package codesearch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lattixhq/lattix"
)

const defaultLimit = 20

type params struct {
	Query string `json:"query"`
	Kind  string `json:"kind,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// New creates the search_code tool: exact and substring matches over
// entity names, qualified names, and snippets.
func New(reader lattix.EntityReader) lattix.Tool {
	return lattix.Tool{
		Name:        "search_code",
		Description: "Search the indexed code graph for types, methods, fields, and packages matching a keyword.",
		Params: []byte(`{"type":"object","properties":{
			"query":{"type":"string","description":"Keyword to search for"},
			"kind":{"type":"string","description":"Optional entity kind filter: Type, Method, Field, Package, Annotation"},
			"limit":{"type":"integer","description":"Maximum results (default 20)"}},
			"required":["query"]}`),
		Category:            lattix.CategorySearch,
		RequiresIndexedRepo: true,
		Execute: func(ctx context.Context, raw map[string]any, tc *lattix.ToolContext) lattix.Result {
			var p params
			if err := lattix.DecodeParams(raw, &p); err != nil {
				return lattix.Failure("invalid parameters: %v", err)
			}
			if p.Query == "" {
				return lattix.Failure("parameter %q is required", "query")
			}
			if p.Limit <= 0 {
				p.Limit = defaultLimit
			}

			entities, err := reader.SearchEntities(ctx, tc.ActiveRepositoryID(), p.Query, p.Limit)
			if err != nil {
				return lattix.Failure("search failed: %v", err)
			}
			if p.Kind != "" {
				entities = filterKind(entities, lattix.EntityKind(p.Kind))
			}
			if len(entities) == 0 {
				return lattix.Success(nil, fmt.Sprintf("No code matches %q.", p.Query))
			}

			res := lattix.Success(entities, renderEntities(p.Query, entities))
			res.SuggestedNext = []string{"dependency_analysis", "graph_query"}
			return res
		},
	}
}

// NewSemantic creates the semantic_search tool. Without an embedding
// pipeline over code, relevance is approximated by token overlap between
// the query and entity names/snippets, which behaves well for identifier
// queries ("payment validation" matches validatePayment).
func NewSemantic(reader lattix.EntityReader) lattix.Tool {
	return lattix.Tool{
		Name:        "semantic_search",
		Description: "Search the code graph by meaning: ranks entities by relevance to a natural-language query.",
		Params: []byte(`{"type":"object","properties":{
			"query":{"type":"string","description":"Natural-language description of the code to find"},
			"limit":{"type":"integer","description":"Maximum results (default 20)"}},
			"required":["query"]}`),
		Category:            lattix.CategorySearch,
		RequiresIndexedRepo: true,
		Execute: func(ctx context.Context, raw map[string]any, tc *lattix.ToolContext) lattix.Result {
			var p params
			if err := lattix.DecodeParams(raw, &p); err != nil {
				return lattix.Failure("invalid parameters: %v", err)
			}
			if p.Query == "" {
				return lattix.Failure("parameter %q is required", "query")
			}
			if p.Limit <= 0 {
				p.Limit = defaultLimit
			}

			repoID := tc.ActiveRepositoryID()
			terms := queryTerms(p.Query)
			if len(terms) == 0 {
				return lattix.Failure("query %q has no searchable terms", p.Query)
			}

			// Overfetch per term, then rank by aggregate overlap.
			seen := make(map[string]lattix.CodeEntity)
			for _, term := range terms {
				matches, err := reader.SearchEntities(ctx, repoID, term, p.Limit*3)
				if err != nil {
					return lattix.Failure("search failed: %v", err)
				}
				for _, e := range matches {
					seen[e.ID] = e
				}
			}
			ranked := rank(terms, seen)
			if len(ranked) > p.Limit {
				ranked = ranked[:p.Limit]
			}
			if len(ranked) == 0 {
				return lattix.Success(nil, fmt.Sprintf("Nothing in the code graph resembles %q.", p.Query))
			}
			return lattix.Success(ranked, renderEntities(p.Query, ranked))
		},
	}
}

func filterKind(entities []lattix.CodeEntity, kind lattix.EntityKind) []lattix.CodeEntity {
	var out []lattix.CodeEntity
	for _, e := range entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// queryTerms lowercases and splits a query, dropping single-character
// fragments and common stopwords.
func queryTerms(q string) []string {
	stop := map[string]bool{"the": true, "a": true, "an": true, "of": true, "in": true, "is": true, "for": true, "to": true, "and": true, "where": true, "how": true, "what": true}
	var out []string
	for _, f := range strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(f) > 1 && !stop[f] {
			out = append(out, f)
		}
	}
	return out
}

// rank orders entities by how many query terms their name, qualified name,
// or snippet contains, breaking ties by qualified name.
func rank(terms []string, entities map[string]lattix.CodeEntity) []lattix.CodeEntity {
	type scored struct {
		e     lattix.CodeEntity
		score int
	}
	var all []scored
	for _, e := range entities {
		text := strings.ToLower(e.Name + " " + e.QualifiedName + " " + e.Snippet)
		n := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				n++
			}
		}
		if n > 0 {
			all = append(all, scored{e: e, score: n})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].e.QualifiedName < all[j].e.QualifiedName
	})
	out := make([]lattix.CodeEntity, len(all))
	for i, s := range all {
		out[i] = s.e
	}
	return out
}

// renderEntities formats matches for the human-readable result message.
func renderEntities(query string, entities []lattix.CodeEntity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matches for %q:\n", len(entities), query)
	for _, e := range entities {
		fmt.Fprintf(&b, "- [%s] %s", e.Kind, e.QualifiedName)
		if e.FilePath != "" {
			fmt.Fprintf(&b, " (%s:%d)", e.FilePath, e.Line)
		}
		b.WriteString("\n")
		if e.Snippet != "" {
			fmt.Fprintf(&b, "  %s\n", firstLine(e.Snippet))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
