package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/scanner"
	"github.com/Aman-CERP/codesearch/internal/symbols"
)

// Syntax runs a tree-sitter query over every file of language under root.
// With no language the query is compiled for each known language and run
// wherever it compiles.
func (e *Engine) Syntax(ctx context.Context, root, query, language string, limit int) ([]symbols.Match, error) {
	code := errors.ErrCodeSyntaxSearch

	queries := make(map[string]*symbols.CompiledQuery)
	defer func() {
		for _, q := range queries {
			q.Close()
		}
	}()

	if language != "" {
		q, err := e.extractor.Compile(language, query)
		if err != nil {
			return nil, errors.SearchError(code, "syntax", err)
		}
		queries[q.Language()] = q
	} else {
		var lastErr error
		for _, lang := range e.extractor.Languages() {
			q, err := e.extractor.Compile(lang, query)
			if err != nil {
				lastErr = err
				continue
			}
			queries[lang] = q
		}
		if len(queries) == 0 {
			return nil, errors.SearchError(code, "syntax", fmt.Errorf("query does not compile for any language: %w", lastErr))
		}
	}

	matches, err := eachFile(ctx, e, root, func(ctx context.Context, fi *scanner.FileInfo, content []byte) ([]symbols.Match, error) {
		lang, ok := e.extractor.LanguageFor(fi.Path)
		if !ok {
			return nil, nil
		}
		q, ok := queries[lang]
		if !ok {
			return nil, nil
		}
		ms, err := q.Run(ctx, fi.Path, content)
		if err != nil {
			e.logger.Debug("syntax query failed on file",
				slog.String("path", fi.Path),
				slog.String("error", err.Error()))
			return nil, nil
		}
		return ms, nil
	})
	if err != nil {
		return nil, errors.SearchError(code, "syntax", err)
	}
	sortByLocation(matches, func(m symbols.Match) (string, int, int) { return m.Path, m.Line, m.Column })
	return truncate(matches, limit), nil
}
