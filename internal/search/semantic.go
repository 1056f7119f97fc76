package search

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/semantic"
)

// Semantic ranks chunks under root by meaning.
func (e *Engine) Semantic(ctx context.Context, root, query string, limit int) ([]semantic.Result, error) {
	code := errors.ErrCodeSemanticSearch
	if e.semantic == nil {
		return nil, errors.SearchError(code, "semantic", fmt.Errorf("semantic engine not configured"))
	}
	res, err := e.semantic.Search(ctx, root, query, limit)
	if err != nil {
		return nil, errors.SearchError(code, "semantic", err)
	}
	return res, nil
}
