package search

import (
	"context"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/Aman-CERP/codesearch/internal/errors"
)

// Fuzzy finds definitions whose name is similar to query under the
// Jaro-Winkler measure, tolerating typos and partial names. A name that
// contains the query outright always qualifies.
func (e *Engine) Fuzzy(ctx context.Context, root, query string, limit int) ([]SymbolMatch, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, errors.SearchError(errors.ErrCodeFuzzySearch, "fuzzy", errEmptyPattern)
	}
	matches, err := e.collectSymbols(ctx, root, func(name string) (float64, bool) {
		return Similarity(q, strings.ToLower(name), e.opts.FuzzyThreshold)
	})
	if err != nil {
		return nil, errors.SearchError(errors.ErrCodeFuzzySearch, "fuzzy", err)
	}
	return truncate(matches, limit), nil
}

// Similarity scores two lowercase strings and reports whether the score
// reaches threshold.
func Similarity(query, name string, threshold float64) (float64, bool) {
	if query == name {
		return 1, true
	}
	sim, err := edlib.StringsSimilarity(query, name, edlib.JaroWinkler)
	if err != nil {
		return 0, false
	}
	score := float64(sim)
	if strings.Contains(name, query) && score < threshold {
		score = threshold
	}
	return score, score >= threshold
}
