package query

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/codesearch/internal/index"
	"github.com/Aman-CERP/codesearch/internal/lsp"
	"github.com/Aman-CERP/codesearch/internal/search"
)

// LSPSearcher answers calls, calledby and references leaves.
type LSPSearcher interface {
	Search(ctx context.Context, field, value string, limit int) ([]lsp.Result, error)
}

// Sources are the engines an executor for one root is built from. Any of
// them may be nil; the fields they serve are then unsupported. Symbol
// fields read Index when set and extract on the fly otherwise.
type Sources struct {
	Root   string
	Search *search.Engine
	Index  *index.Store
	LSP    LSPSearcher
}

// New builds an executor with every backend the sources can serve.
func New(src Sources, caps Capabilities, logger *slog.Logger) *Executor {
	e := NewExecutor(caps, logger)
	symbolFields := []Field{FieldFunction, FieldClass, FieldStruct, FieldEnum, FieldTrait, FieldMethod, FieldSymbol}

	if s := src.Search; s != nil {
		e.Register(textBackend(s, src.Root), FieldText, FieldRegex)
		e.Register(pathBackend(s, src.Root), FieldFile, FieldPath)
		e.Register(semanticBackend(s, src.Root), FieldSemantic)
		e.Register(fuzzyBackend(s, src.Root), FieldFuzzy)
		e.Register(syntaxBackend(s, src.Root), FieldSyntax)
		e.Register(extractedSymbolBackend(s, src.Root), symbolFields...)
	}
	if src.Index != nil {
		e.Register(indexBackend(src.Index), symbolFields...)
	}
	if src.LSP != nil {
		e.Register(lspBackend(src.LSP), FieldCalls, FieldCalledBy, FieldReferences)
	}
	return e
}

func textBackend(s *search.Engine, root string) Backend {
	return BackendFunc(func(ctx context.Context, q *Search) ([]Result, error) {
		regex := q.Field == FieldRegex
		ms, err := s.Text(ctx, root, q.Value, regex, 0)
		if err != nil {
			return nil, err
		}
		kind := "text"
		if regex {
			kind = "regex"
		}
		out := make([]Result, 0, len(ms))
		for _, m := range ms {
			out = append(out, Result{Path: m.Path, Line: m.Line, Column: m.Column, Text: m.Text, Score: 1.0, Kind: kind})
		}
		return out, nil
	})
}

func indexBackend(st *index.Store) Backend {
	return BackendFunc(func(_ context.Context, q *Search) ([]Result, error) {
		var ms []index.IndexMatch
		if kind, _ := q.Field.SymbolKind(); kind != "" {
			ms = st.SearchByKind(kind, q.Value, 0)
		} else {
			ms = st.Search(q.Value, 0)
		}
		out := make([]Result, 0, len(ms))
		for _, m := range ms {
			out = append(out, Result{Path: m.Path, Line: m.Line, Column: m.Column, Text: m.Text, Score: m.Score, Kind: m.Kind})
		}
		return out, nil
	})
}

// extractedSymbolBackend serves symbol fields when no index is built.
func extractedSymbolBackend(s *search.Engine, root string) Backend {
	return BackendFunc(func(ctx context.Context, q *Search) ([]Result, error) {
		ms, err := s.Symbols(ctx, root, q.Value, 0)
		if err != nil {
			return nil, err
		}
		kind, _ := q.Field.SymbolKind()
		out := make([]Result, 0, len(ms))
		for _, m := range ms {
			if kind != "" && m.Kind != kind {
				continue
			}
			out = append(out, symbolResult(m))
		}
		return out, nil
	})
}

func symbolResult(m search.SymbolMatch) Result {
	text := m.Signature
	if text == "" {
		text = m.Name
	}
	return Result{Path: m.Path, Line: m.Line, Column: m.Column, Text: text, Score: m.Score, Kind: m.Kind}
}

func pathBackend(s *search.Engine, root string) Backend {
	return BackendFunc(func(ctx context.Context, q *Search) ([]Result, error) {
		ms, err := s.Paths(ctx, root, q.Value, 0)
		if err != nil {
			return nil, err
		}
		out := make([]Result, 0, len(ms))
		for _, m := range ms {
			out = append(out, Result{Path: m.Path, Line: 1, Text: m.Text, Score: 1.0, Kind: string(q.Field)})
		}
		return out, nil
	})
}

func semanticBackend(s *search.Engine, root string) Backend {
	return BackendFunc(func(ctx context.Context, q *Search) ([]Result, error) {
		ms, err := s.Semantic(ctx, root, q.Value, 0)
		if err != nil {
			return nil, err
		}
		out := make([]Result, 0, len(ms))
		for _, m := range ms {
			out = append(out, Result{Path: m.Path, Line: m.Line, Text: m.Text, Score: m.Score, Kind: "semantic"})
		}
		return out, nil
	})
}

func fuzzyBackend(s *search.Engine, root string) Backend {
	return BackendFunc(func(ctx context.Context, q *Search) ([]Result, error) {
		ms, err := s.Fuzzy(ctx, root, q.Value, 0)
		if err != nil {
			return nil, err
		}
		out := make([]Result, 0, len(ms))
		for _, m := range ms {
			out = append(out, symbolResult(m))
		}
		return out, nil
	})
}

func syntaxBackend(s *search.Engine, root string) Backend {
	return BackendFunc(func(ctx context.Context, q *Search) ([]Result, error) {
		ms, err := s.Syntax(ctx, root, q.Value, "", 0)
		if err != nil {
			return nil, err
		}
		out := make([]Result, 0, len(ms))
		for _, m := range ms {
			out = append(out, Result{Path: m.Path, Line: m.Line, Column: m.Column, Text: m.Text, Score: 1.0, Kind: m.Node})
		}
		return out, nil
	})
}

func lspBackend(m LSPSearcher) Backend {
	return BackendFunc(func(ctx context.Context, q *Search) ([]Result, error) {
		rs, err := m.Search(ctx, string(q.Field), q.Value, 0)
		if err != nil {
			return nil, err
		}
		out := make([]Result, 0, len(rs))
		for _, r := range rs {
			out = append(out, Result{Path: r.Path, Line: r.Line, Column: r.Column, Text: r.Text, Score: r.Score, Kind: r.Kind})
		}
		return out, nil
	})
}
