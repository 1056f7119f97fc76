package semantic

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codesearch/internal/embed"
	"github.com/Aman-CERP/codesearch/internal/scanner"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	sc, err := scanner.New()
	require.NoError(t, err)
	e := New(Config{ChunkLines: 8}, embed.NewStaticEmbedder(), sc, scanner.Options{RespectGitignore: true}, nil)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestEngine_RanksRelevantChunkFirst(t *testing.T) {
	// Given files about configuration loading and about rendering
	root := t.TempDir()
	write(t, root, "config.go", "package config\n\n// LoadConfig reads the yaml configuration file.\nfunc LoadConfig(path string) (*Config, error) {\n\treturn parseYAML(path)\n}\n")
	write(t, root, "render.go", "package ui\n\n// DrawProgress paints the progress bar.\nfunc DrawProgress(width int) string {\n\treturn bar(width)\n}\n")
	e := newEngine(t)

	// When searching for configuration loading
	res, err := e.Search(context.Background(), root, "load configuration", 5)
	require.NoError(t, err)

	// Then the config chunk ranks first, at its most relevant line
	require.NotEmpty(t, res)
	assert.Equal(t, "config.go", res[0].Path)
	assert.Equal(t, 1.0, res[0].Score)
	assert.Contains(t, res[0].Text, "LoadConfig")
}

func TestEngine_RebuildsWhenFilesChange(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.go", "package a\n\nfunc Alpha() {}\n")
	e := newEngine(t)

	res, err := e.Search(context.Background(), root, "zebra stripes", 5)
	require.NoError(t, err)
	for _, r := range res {
		assert.NotEqual(t, "b.go", r.Path)
	}

	write(t, root, "b.go", "package a\n\n// zebra stripes counter\nfunc ZebraStripes() int { return 0 }\n")
	res, err = e.Search(context.Background(), root, "zebra stripes", 5)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "b.go", res[0].Path)
}

func TestEngine_EmptyRoot(t *testing.T) {
	e := newEngine(t)
	res, err := e.Search(context.Background(), t.TempDir(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestEngine_Limit(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		write(t, root, name, "package p\n\n// handler handles requests\nfunc Handler() {}\n")
	}
	e := newEngine(t)

	res, err := e.Search(context.Background(), root, "handler", 2)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestChunkFile_OverlappingWindows(t *testing.T) {
	content := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10"
	chunks := chunkFile("f.txt", content, 4)

	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 4, chunks[0].EndLine)
	assert.Equal(t, 4, chunks[1].StartLine)
	assert.Equal(t, 10, chunks[len(chunks)-1].EndLine)
	assert.Equal(t, "f.txt:1", chunks[0].ID)
}

func TestChunkFile_SkipsBlankWindows(t *testing.T) {
	chunks := chunkFile("f.txt", "\n\n\n\n\n\nx", 3)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Content)
	}
	require.Len(t, chunks, 1)
}

func TestFuse(t *testing.T) {
	// Given one document in both rankings and one in each
	kw := []ranked{{ID: "both", Score: 3}, {ID: "kw", Score: 2}}
	vec := []ranked{{ID: "vec", Score: 0.9}, {ID: "both", Score: 0.8}}

	// When fused with equal weights
	out := fuse(kw, vec, 60, 0.5, 0.5)

	// Then the shared document wins and scores are normalized
	require.Len(t, out, 3)
	assert.Equal(t, "both", out[0].ID)
	assert.True(t, out[0].InBoth)
	assert.Equal(t, 1.0, out[0].Score)
	for _, f := range out[1:] {
		assert.Less(t, f.Score, 1.0)
	}
}

func TestFuse_Empty(t *testing.T) {
	assert.Empty(t, fuse(nil, nil, 0, 0.5, 0.5))
}

func cached(t *testing.T, e *Engine, root string) *snapshot {
	t.Helper()
	s, ok := e.cache.Peek(root)
	require.True(t, ok, "no cached snapshot for %s", root)
	return s
}

func TestEngine_SnapshotLifetime(t *testing.T) {
	tests := []struct {
		name    string
		replace func(t *testing.T, e *Engine, root string)
	}{
		{
			name: "invalidate",
			replace: func(t *testing.T, e *Engine, root string) {
				e.Invalidate(root)
			},
		},
		{
			name: "rebuild after change",
			replace: func(t *testing.T, e *Engine, root string) {
				write(t, root, "b.go", "package a\n\nfunc Beta() {}\n")
				_, err := e.Search(context.Background(), root, "beta", 5)
				require.NoError(t, err)
			},
		},
		{
			name: "evicted by another root",
			replace: func(t *testing.T, e *Engine, root string) {
				other := t.TempDir()
				write(t, other, "c.go", "package c\n\nfunc Gamma() {}\n")
				_, err := e.Search(context.Background(), other, "gamma", 5)
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given a cached snapshot pinned by a running search
			sc, err := scanner.New()
			require.NoError(t, err)
			e := New(Config{ChunkLines: 8, CachedRoots: 1}, embed.NewStaticEmbedder(), sc, scanner.Options{}, nil)
			t.Cleanup(func() { _ = e.Close() })
			root := t.TempDir()
			write(t, root, "a.go", "package a\n\nfunc Alpha() {}\n")
			_, err = e.Search(context.Background(), root, "alpha", 5)
			require.NoError(t, err)
			old := cached(t, e, root)
			require.True(t, old.acquire())

			// When the snapshot leaves the cache
			tt.replace(t, e, root)

			// Then it stays open until the search releases it
			assert.False(t, old.isClosed())
			old.release()
			assert.True(t, old.isClosed())
		})
	}
}

func TestEngine_InvalidateForcesRebuild(t *testing.T) {
	// Given a searched root
	root := t.TempDir()
	write(t, root, "a.go", "package a\n\nfunc Alpha() {}\n")
	e := newEngine(t)
	_, err := e.Search(context.Background(), root, "alpha", 5)
	require.NoError(t, err)
	first := cached(t, e, root)

	// When the root is invalidated and searched again
	e.Invalidate(root)
	_, ok := e.cache.Peek(root)
	assert.False(t, ok)
	res, err := e.Search(context.Background(), root, "alpha", 5)
	require.NoError(t, err)

	// Then a new snapshot answers and the old one is closed
	require.NotEmpty(t, res)
	assert.NotSame(t, first, cached(t, e, root))
	assert.True(t, first.isClosed())
}

func TestEngine_CloseClosesIdleSnapshots(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.go", "package a\n\nfunc Alpha() {}\n")
	e := newEngine(t)
	_, err := e.Search(context.Background(), root, "alpha", 5)
	require.NoError(t, err)
	s := cached(t, e, root)

	require.NoError(t, e.Close())
	assert.True(t, s.isClosed())
}
