package query

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/codesearch/internal/errors"
)

// Backend answers leaf queries for the fields it is registered under.
// Backends return every match; paging happens once in the executor.
type Backend interface {
	Search(ctx context.Context, q *Search) ([]Result, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, q *Search) ([]Result, error)

func (f BackendFunc) Search(ctx context.Context, q *Search) ([]Result, error) { return f(ctx, q) }

// Capabilities names the backend families enabled for an executor.
// Disabled symbol, semantic and fuzzy fields yield no results; disabled
// language-server fields are an error.
type Capabilities struct {
	Symbols  bool `json:"symbols"`
	LSP      bool `json:"lsp"`
	Semantic bool `json:"semantic"`
	Fuzzy    bool `json:"fuzzy"`
}

// AllCapabilities enables every backend family.
func AllCapabilities() Capabilities {
	return Capabilities{Symbols: true, LSP: true, Semantic: true, Fuzzy: true}
}

// Executor evaluates query trees against a registry of backends.
type Executor struct {
	caps     Capabilities
	backends map[Field]Backend
	logger   *slog.Logger
}

// NewExecutor creates an executor with no backends registered.
func NewExecutor(caps Capabilities, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{caps: caps, backends: make(map[Field]Backend), logger: logger}
}

// Register binds b to fields, replacing any previous binding.
func (e *Executor) Register(b Backend, fields ...Field) {
	for _, f := range fields {
		e.backends[f] = b
	}
}

// Capabilities returns the enabled backend families.
func (e *Executor) Capabilities() Capabilities { return e.caps }

// Fields lists the registered fields in sorted order.
func (e *Executor) Fields() []Field {
	out := make([]Field, 0, len(e.backends))
	for f := range e.backends {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute evaluates q and applies meta to the combined result list. Any
// leaf error fails the whole query.
func (e *Executor) Execute(ctx context.Context, q Query, meta Metadata) ([]Result, error) {
	results, err := e.eval(ctx, q)
	if err != nil {
		return nil, err
	}
	return page(results, meta), nil
}

func (e *Executor) eval(ctx context.Context, q Query) ([]Result, error) {
	switch n := q.(type) {
	case *Search:
		return e.leaf(ctx, n)
	case *Logical:
		var left, right []Result
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			left, err = e.eval(gctx, n.Left)
			return err
		})
		g.Go(func() error {
			var err error
			right, err = e.eval(gctx, n.Right)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return combine(n.Op, left, right), nil
	case nil:
		return nil, errors.New(errors.ErrCodeQueryExecution, "nil query", nil)
	}
	return nil, errors.Newf(errors.ErrCodeQueryExecution, "unknown query node %T", q)
}

func (e *Executor) leaf(ctx context.Context, q *Search) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := q.Field.SymbolKind(); ok && !e.caps.Symbols {
		return []Result{}, nil
	}
	if q.Field.IsLSP() && !e.caps.LSP {
		return nil, errors.LSPNotAvailable(string(q.Field))
	}
	if (q.Field == FieldSemantic && !e.caps.Semantic) || (q.Field == FieldFuzzy && !e.caps.Fuzzy) {
		e.logger.Debug("backend disabled", slog.String("field", string(q.Field)))
		return []Result{}, nil
	}

	b, ok := e.backends[q.Field]
	if !ok {
		return nil, errors.UnsupportedField(string(q.Field))
	}
	results, err := b.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// combine merges two evaluated sides by (path, line). The left side's
// records win wherever both sides have the same key.
func combine(op Operator, left, right []Result) []Result {
	out := make([]Result, 0, len(left))
	switch op {
	case And:
		rk := keys(right)
		for _, r := range left {
			if _, ok := rk[r.key()]; ok {
				out = append(out, r)
			}
		}
	case Or:
		lk := keys(left)
		out = append(out, left...)
		for _, r := range right {
			if _, ok := lk[r.key()]; !ok {
				out = append(out, r)
			}
		}
	case Not:
		rk := keys(right)
		for _, r := range left {
			if _, ok := rk[r.key()]; !ok {
				out = append(out, r)
			}
		}
	}
	return out
}

func keys(rs []Result) map[key]struct{} {
	m := make(map[key]struct{}, len(rs))
	for _, r := range rs {
		m[r.key()] = struct{}{}
	}
	return m
}

// page skips Offset results and keeps at most Limit.
func page(rs []Result, meta Metadata) []Result {
	if meta.Offset != nil {
		off := max(*meta.Offset, 0)
		if off >= len(rs) {
			return []Result{}
		}
		rs = rs[off:]
	}
	if meta.Limit != nil {
		if n := max(*meta.Limit, 0); n < len(rs) {
			rs = rs[:n]
		}
	}
	return rs
}
