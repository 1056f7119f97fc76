package symbols

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// CompiledQuery is a tree-sitter query bound to one language.
type CompiledQuery struct {
	lang  *LanguageConfig
	query *sitter.Query
}

// Compile prepares a structural query for language. A bare node type such
// as "function_item" is shorthand for "(function_item) @match".
func (e *Extractor) Compile(language, pattern string) (*CompiledQuery, error) {
	cfg, ok := e.registry.ByName(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}

	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty syntax query")
	}
	if !strings.HasPrefix(pattern, "(") && !strings.HasPrefix(pattern, "[") {
		pattern = "(" + pattern + ") @match"
	}

	q, err := sitter.NewQuery([]byte(pattern), cfg.Grammar)
	if err != nil {
		return nil, fmt.Errorf("invalid %s query: %w", cfg.Name, err)
	}
	return &CompiledQuery{lang: cfg, query: q}, nil
}

// Language returns the name of the language the query was compiled for.
func (q *CompiledQuery) Language() string {
	return q.lang.Name
}

// Close releases the query.
func (q *CompiledQuery) Close() {
	q.query.Close()
}

// Run executes the query against content and returns one Match per capture.
// path is copied into each match.
func (q *CompiledQuery) Run(ctx context.Context, path string, content []byte) ([]Match, error) {
	tree, err := parse(ctx, q.lang, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q.query, tree.RootNode())

	var out []Match
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, content)
		for _, c := range m.Captures {
			start := c.Node.StartPoint()
			out = append(out, Match{
				Path:    path,
				Line:    int(start.Row) + 1,
				Column:  int(start.Column) + 1,
				Text:    firstLine(c.Node.Content(content)),
				Capture: q.query.CaptureNameForId(c.Index),
				Node:    c.Node.Type(),
			})
		}
	}
	return out, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
