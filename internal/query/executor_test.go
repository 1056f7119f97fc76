package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/index"
	"github.com/Aman-CERP/codesearch/internal/lsp"
	"github.com/Aman-CERP/codesearch/internal/scanner"
	"github.com/Aman-CERP/codesearch/internal/search"
	"github.com/Aman-CERP/codesearch/internal/symbols"
)

// staticBackend returns a fixed list per value.
type staticBackend map[string][]Result

func (b staticBackend) Search(_ context.Context, q *Search) ([]Result, error) {
	return b[q.Value], nil
}

func res(path string, line int) Result {
	return Result{Path: path, Line: line, Text: fmt.Sprintf("%s:%d", path, line), Score: 1}
}

func keySet(rs []Result) map[key]bool {
	m := make(map[key]bool, len(rs))
	for _, r := range rs {
		m[r.key()] = true
	}
	return m
}

func leaf(v string) *Search { return &Search{Field: FieldText, Value: v} }

func intp(n int) *int { return &n }

func newStaticExecutor() *Executor {
	e := NewExecutor(AllCapabilities(), nil)
	e.Register(staticBackend{
		"a": {res("x.rs", 1), res("x.rs", 5), res("y.rs", 2), res("z.rs", 9)},
		"b": {res("x.rs", 5), res("y.rs", 2), res("w.rs", 3)},
		"n": {},
	}, FieldText)
	return e
}

func TestExecute_BooleanAlgebra(t *testing.T) {
	e := newStaticExecutor()
	ctx := context.Background()
	a, err := e.Execute(ctx, leaf("a"), Metadata{})
	require.NoError(t, err)
	b, err := e.Execute(ctx, leaf("b"), Metadata{})
	require.NoError(t, err)
	ka, kb := keySet(a), keySet(b)

	and, err := e.Execute(ctx, &Logical{Op: And, Left: leaf("a"), Right: leaf("b")}, Metadata{})
	require.NoError(t, err)
	for k := range keySet(and) {
		assert.True(t, ka[k] && kb[k], "AND result %v must be in both sides", k)
	}
	assert.Len(t, and, 2)

	or, err := e.Execute(ctx, &Logical{Op: Or, Left: leaf("a"), Right: leaf("b")}, Metadata{})
	require.NoError(t, err)
	ko := keySet(or)
	for k := range ka {
		assert.True(t, ko[k])
	}
	for k := range kb {
		assert.True(t, ko[k])
	}
	assert.Len(t, or, 5, "duplicates are not repeated")

	not, err := e.Execute(ctx, &Logical{Op: Not, Left: leaf("a"), Right: leaf("b")}, Metadata{})
	require.NoError(t, err)
	want := map[key]bool{}
	for k := range ka {
		if !kb[k] {
			want[k] = true
		}
	}
	assert.Equal(t, want, keySet(not))
}

func TestExecute_LeftWinsOnDuplicateKeys(t *testing.T) {
	e := NewExecutor(AllCapabilities(), nil)
	e.Register(staticBackend{
		"l": {{Path: "a.rs", Line: 1, Text: "left", Kind: "text"}},
		"r": {{Path: "a.rs", Line: 1, Text: "right", Kind: "function"}, {Path: "b.rs", Line: 4, Text: "only right"}},
	}, FieldText)

	or, err := e.Execute(context.Background(), &Logical{Op: Or, Left: leaf("l"), Right: leaf("r")}, Metadata{})
	require.NoError(t, err)
	require.Len(t, or, 2)
	assert.Equal(t, "left", or[0].Text)
	assert.Equal(t, "only right", or[1].Text)

	and, err := e.Execute(context.Background(), &Logical{Op: And, Left: leaf("l"), Right: leaf("r")}, Metadata{})
	require.NoError(t, err)
	require.Len(t, and, 1)
	assert.Equal(t, "left", and[0].Text)
}

func TestExecute_LimitOffsetAppliedOnce(t *testing.T) {
	e := newStaticExecutor()
	ctx := context.Background()
	q := &Logical{Op: Or, Left: leaf("a"), Right: leaf("b")}
	all, err := e.Execute(ctx, q, Metadata{})
	require.NoError(t, err)
	require.Len(t, all, 5)

	for n := 0; n <= 6; n++ {
		for k := 0; k <= 6; k++ {
			got, err := e.Execute(ctx, q, Metadata{Limit: intp(n), Offset: intp(k)})
			require.NoError(t, err)

			start := min(k, len(all))
			end := min(start+n, len(all))
			assert.Equal(t, all[start:end], got, "limit=%d offset=%d", n, k)
		}
	}

	got, err := e.Execute(ctx, q, Metadata{Offset: intp(3)})
	require.NoError(t, err)
	assert.Equal(t, all[3:], got)
}

func TestExecute_ErrorsAbortWholeQuery(t *testing.T) {
	e := newStaticExecutor()
	boom := errors.SearchError(errors.ErrCodeTextSearch, "text", fmt.Errorf("boom"))
	e.Register(BackendFunc(func(context.Context, *Search) ([]Result, error) {
		return nil, boom
	}), FieldRegex)

	q := &Logical{Op: Or, Left: leaf("a"), Right: &Search{Field: FieldRegex, Value: "x"}}
	rs, err := e.Execute(context.Background(), q, Metadata{})

	assert.Nil(t, rs)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTextSearch))
}

func TestExecute_UnsupportedField(t *testing.T) {
	e := newStaticExecutor()

	_, err := e.Execute(context.Background(), &Search{Field: "owner", Value: "x"}, Metadata{})

	assert.True(t, errors.HasCode(err, errors.ErrCodeUnsupportedField))
	assert.Contains(t, err.Error(), "owner")
}

func TestExecute_Capabilities(t *testing.T) {
	var called atomic.Int32
	count := BackendFunc(func(context.Context, *Search) ([]Result, error) {
		called.Add(1)
		return []Result{res("a.rs", 1)}, nil
	})
	e := NewExecutor(Capabilities{}, nil)
	e.Register(count, FieldFunction, FieldSymbol, FieldCalls, FieldSemantic, FieldFuzzy)
	ctx := context.Background()

	// Disabled symbols yield empty results, not errors
	rs, err := e.Execute(ctx, &Search{Field: FieldFunction, Value: "x"}, Metadata{})
	require.NoError(t, err)
	assert.Empty(t, rs)

	rs, err = e.Execute(ctx, &Search{Field: FieldSemantic, Value: "x"}, Metadata{})
	require.NoError(t, err)
	assert.Empty(t, rs)

	// Disabled language servers are an error naming the field
	_, err = e.Execute(ctx, &Search{Field: FieldCalls, Value: "main"}, Metadata{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeLSPNotAvailable))
	assert.Contains(t, err.Error(), "calls")

	assert.Zero(t, called.Load())

	e = NewExecutor(AllCapabilities(), nil)
	e.Register(count, FieldFunction)
	rs, err = e.Execute(ctx, &Search{Field: FieldFunction, Value: "x"}, Metadata{})
	require.NoError(t, err)
	assert.Len(t, rs, 1)
	assert.Equal(t, []Field{FieldFunction}, e.Fields())
}

func TestExecute_CancelledContext(t *testing.T) {
	e := newStaticExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, leaf("a"), Metadata{})

	assert.ErrorIs(t, err, context.Canceled)
}

type fakeLSP struct {
	field, value string
}

func (f *fakeLSP) Search(_ context.Context, field, value string, _ int) ([]lsp.Result, error) {
	f.field, f.value = field, value
	return []lsp.Result{{Path: "src/main.rs", Line: 4, Column: 2, Kind: lsp.KindCaller, Score: 1}}, nil
}

// corpus writes a small tree and returns engines over it.
func corpus(t *testing.T) (string, *search.Engine, *index.Store) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/lib.rs":  "pub struct Parser {}\n\nimpl Parser {\n    pub fn parse(&self) {}\n    fn foo_bar(&self) { /* foo then bar */ }\n}\n",
		"src/main.rs": "fn main() {\n    let foo = 1;\n}\n\nfn run() { foo(); }\n",
		"docs/bar.md": "# bar\nonly bar here\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	sc, err := scanner.New()
	require.NoError(t, err)
	ex := symbols.NewExtractor()
	eng := search.New(sc, ex, nil, search.Options{Workers: 2})

	store := index.NewStore(root, index.Options{Extractor: ex})
	for rel, content := range files {
		require.NoError(t, store.UpdateFile(rel, []byte(content)))
	}
	return root, eng, store
}

func TestExecute_TextAndOnSameLine(t *testing.T) {
	// Given: line 5 of src/lib.rs mentions both foo and bar
	root, eng, _ := corpus(t)
	e := New(Sources{Root: root, Search: eng}, AllCapabilities(), nil)

	// When
	q := &Logical{Op: And, Left: leaf("foo"), Right: leaf("bar")}
	rs, err := e.Execute(context.Background(), q, Metadata{})

	// Then: exactly that line survives
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "src/lib.rs", rs[0].Path)
	assert.Equal(t, 5, rs[0].Line)
	assert.Equal(t, "text", rs[0].Kind)
}

func TestExecute_ParsedQueryAgainstIndex(t *testing.T) {
	root, eng, store := corpus(t)
	e := New(Sources{Root: root, Search: eng, Index: store}, AllCapabilities(), nil)

	q, meta, err := Parse("function:parse OR struct:Parser")
	require.NoError(t, err)
	rs, err := e.Execute(context.Background(), q, meta)

	require.NoError(t, err)
	kinds := map[string]string{}
	for _, r := range rs {
		kinds[r.Text] = r.Kind
	}
	assert.Equal(t, "struct", kinds["Parser"])
	// parse is a method inside impl, so function:parse does not match it
	_, hasParse := kinds["parse"]
	assert.False(t, hasParse)

	q, _, err = Parse("method:parse")
	require.NoError(t, err)
	rs, err = e.Execute(context.Background(), q, Metadata{})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "src/lib.rs", rs[0].Path)
	assert.Equal(t, 4, rs[0].Line)
}

func TestExecute_SymbolsWithoutIndexAreExtracted(t *testing.T) {
	root, eng, _ := corpus(t)
	e := New(Sources{Root: root, Search: eng}, AllCapabilities(), nil)

	rs, err := e.Execute(context.Background(), &Search{Field: FieldFunction, Value: "run"}, Metadata{})

	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "src/main.rs", rs[0].Path)
	assert.Equal(t, "function", rs[0].Kind)
}

func TestExecute_PathAndLSPBackends(t *testing.T) {
	root, eng, _ := corpus(t)
	fl := &fakeLSP{}
	e := New(Sources{Root: root, Search: eng, LSP: fl}, AllCapabilities(), nil)
	ctx := context.Background()

	rs, err := e.Execute(ctx, &Search{Field: FieldFile, Value: "SRC/"}, Metadata{})
	require.NoError(t, err)
	paths := make([]string, 0, len(rs))
	for _, r := range rs {
		paths = append(paths, r.Path)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"src/lib.rs", "src/main.rs"}, paths)
	assert.Equal(t, "pub struct Parser {}", rs[0].Text)

	rs, err = e.Execute(ctx, &Search{Field: FieldCalledBy, Value: "run"}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "calledby", fl.field)
	assert.Equal(t, "run", fl.value)
	require.Len(t, rs, 1)
	assert.Equal(t, "caller", rs[0].Kind)
}

func TestExecute_NoLSPSourceIsUnsupported(t *testing.T) {
	root, eng, _ := corpus(t)
	e := New(Sources{Root: root, Search: eng}, AllCapabilities(), nil)

	_, err := e.Execute(context.Background(), &Search{Field: FieldReferences, Value: "x"}, Metadata{})

	assert.True(t, errors.HasCode(err, errors.ErrCodeUnsupportedField))
}
