// Package docs ingests project documentation (web pages and PDFs) into a
// per-repository docs index and provides the search_docs tool over it.
// Documentation search does not require an indexed code graph, so the tool
// works before the first indexing run completes.
package docs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	"github.com/lattixhq/lattix"
)

const (
	fetchTimeout  = 15 * time.Second
	maxFetchBytes = 10 * 1024 * 1024
	chunkChars    = 1200
	searchLimit   = 10
)

// Ingestor fetches a documentation source and stores its chunks.
type Ingestor struct {
	docs   lattix.DocsStore
	client *http.Client
}

// NewIngestor creates an Ingestor with a bounded HTTP client.
func NewIngestor(store lattix.DocsStore) *Ingestor {
	return &Ingestor{
		docs:   store,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// IngestURL fetches a web page or PDF, extracts readable text, chunks it,
// and stores the result under the repository. Returns the stored page.
func (i *Ingestor) IngestURL(ctx context.Context, repositoryID, rawURL string) (lattix.DocPage, int, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return lattix.DocPage{}, 0, &lattix.ErrValidation{Field: "url", Reason: "must be an http(s) URL"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return lattix.DocPage{}, 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return lattix.DocPage{}, 0, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return lattix.DocPage{}, 0, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return lattix.DocPage{}, 0, fmt.Errorf("read %s: %w", rawURL, err)
	}

	var title, text string
	if isPDF(resp.Header.Get("Content-Type"), body) {
		title, text, err = extractPDF(body)
	} else {
		title, text, err = extractHTML(body, parsed)
	}
	if err != nil {
		return lattix.DocPage{}, 0, err
	}
	return i.save(ctx, repositoryID, rawURL, title, text)
}

// IngestPDF stores an uploaded PDF document.
func (i *Ingestor) IngestPDF(ctx context.Context, repositoryID, name string, content []byte) (lattix.DocPage, int, error) {
	title, text, err := extractPDF(content)
	if err != nil {
		return lattix.DocPage{}, 0, err
	}
	if title == "" {
		title = name
	}
	return i.save(ctx, repositoryID, name, title, text)
}

func (i *Ingestor) save(ctx context.Context, repositoryID, source, title, text string) (lattix.DocPage, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return lattix.DocPage{}, 0, fmt.Errorf("%s has no extractable text", source)
	}
	page := lattix.DocPage{
		ID:           lattix.NewID(),
		RepositoryID: repositoryID,
		Source:       source,
		Title:        title,
	}
	var chunks []lattix.DocChunk
	for seq, c := range chunk(text, chunkChars) {
		chunks = append(chunks, lattix.DocChunk{
			ID:           lattix.NewID(),
			PageID:       page.ID,
			RepositoryID: repositoryID,
			Seq:          seq,
			Content:      c,
		})
	}
	if err := i.docs.StoreDocPage(ctx, page, chunks); err != nil {
		return lattix.DocPage{}, 0, err
	}
	return page, len(chunks), nil
}

// New creates the search_docs tool over ingested documentation.
func New(store lattix.DocsStore) lattix.Tool {
	return lattix.Tool{
		Name:        "search_docs",
		Description: "Search the project's ingested documentation (design docs, wikis, READMEs) for a topic.",
		Params: []byte(`{"type":"object","properties":{
			"query":{"type":"string","description":"Topic to look up in the documentation"}},
			"required":["query"]}`),
		Category: lattix.CategoryDocs,
		Execute: func(ctx context.Context, raw map[string]any, tc *lattix.ToolContext) lattix.Result {
			var p struct {
				Query string `json:"query"`
			}
			if err := lattix.DecodeParams(raw, &p); err != nil {
				return lattix.Failure("invalid parameters: %v", err)
			}
			if p.Query == "" {
				return lattix.Failure("parameter %q is required", "query")
			}

			chunks, err := store.SearchDocChunks(ctx, tc.ActiveRepositoryID(), p.Query, searchLimit)
			if err != nil {
				return lattix.Failure("docs search failed: %v", err)
			}
			if len(chunks) == 0 {
				return lattix.Success(nil, fmt.Sprintf("No documentation mentions %q.", p.Query))
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d documentation passages for %q:\n", len(chunks), p.Query)
			for _, c := range chunks {
				fmt.Fprintf(&b, "- %s\n", truncateRunes(c.Content, 300))
			}
			return lattix.Success(chunks, strings.TrimRight(b.String(), "\n"))
		},
	}
}

// extractHTML runs readability over a fetched page.
func extractHTML(body []byte, pageURL *url.URL) (title, text string, err error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", "", fmt.Errorf("extract readable content: %w", err)
	}
	return article.Title, article.TextContent, nil
}

// extractPDF extracts plain text from a PDF, page by page.
func extractPDF(content []byte) (title, text string, err error) {
	if len(content) == 0 {
		return "", "", fmt.Errorf("empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil || pageText == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageText)
	}
	return "", b.String(), nil
}

func isPDF(contentType string, body []byte) bool {
	return strings.Contains(contentType, "application/pdf") || bytes.HasPrefix(body, []byte("%PDF-"))
}

// chunk splits text at paragraph boundaries into ~maxChars pieces.
func chunk(text string, maxChars int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var out []string
	var cur strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p) > maxChars {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
		// An oversized paragraph is cut into maxChars pieces until at most
		// twice maxChars remain.
		for cur.Len() > maxChars*2 {
			s := cur.String()
			out = append(out, s[:maxChars])
			cur.Reset()
			cur.WriteString(s[maxChars:])
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
