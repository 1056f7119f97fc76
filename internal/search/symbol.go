package search

import (
	"context"
	"sort"
	"strings"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/scanner"
	"github.com/Aman-CERP/codesearch/internal/symbols"
)

// SymbolMatch is one definition found by Symbols or Fuzzy.
type SymbolMatch struct {
	Path      string  `json:"path"`
	Line      int     `json:"line"`
	Column    int     `json:"column"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Signature string  `json:"signature,omitempty"`
	Score     float64 `json:"score"`
}

// Symbols extracts definitions under root whose name contains query,
// ignoring case. Exact names rank above prefixes above substrings.
func (e *Engine) Symbols(ctx context.Context, root, query string, limit int) ([]SymbolMatch, error) {
	q := strings.ToLower(query)
	matches, err := e.collectSymbols(ctx, root, func(name string) (float64, bool) {
		lname := strings.ToLower(name)
		switch {
		case lname == q:
			return 1.0, true
		case strings.HasPrefix(lname, q):
			return 0.8, true
		case strings.Contains(lname, q):
			return 0.5, true
		}
		return 0, false
	})
	if err != nil {
		return nil, errors.SearchError(errors.ErrCodeSymbolSearch, "symbol", err)
	}
	return truncate(matches, limit), nil
}

// collectSymbols extracts every definition under root, keeps those score
// accepts, and sorts by score then location.
func (e *Engine) collectSymbols(ctx context.Context, root string, score func(name string) (float64, bool)) ([]SymbolMatch, error) {
	matches, err := eachFile(ctx, e, root, func(_ context.Context, fi *scanner.FileInfo, content []byte) ([]SymbolMatch, error) {
		if !e.extractor.Supports(fi.Path) {
			return nil, nil
		}
		syms, err := e.extractor.Extract(fi.Path, content)
		if err != nil {
			return nil, nil
		}
		return filterSymbols(fi.Path, syms, score), nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Line < b.Line
	})
	return matches, nil
}

func filterSymbols(path string, syms []symbols.Symbol, score func(string) (float64, bool)) []SymbolMatch {
	var out []SymbolMatch
	for _, s := range syms {
		sc, ok := score(s.Name)
		if !ok {
			continue
		}
		out = append(out, SymbolMatch{
			Path:      path,
			Line:      s.Line,
			Column:    s.Column,
			Name:      s.Name,
			Kind:      string(s.Kind),
			Signature: s.Signature,
			Score:     sc,
		})
	}
	return out
}
