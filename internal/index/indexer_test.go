package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codesearch/internal/scanner"
	"github.com/Aman-CERP/codesearch/internal/symbols"
	"github.com/Aman-CERP/codesearch/internal/watcher"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func newTestIndexer(t *testing.T, root string) *Indexer {
	t.Helper()
	sc, err := scanner.New()
	require.NoError(t, err)
	store := NewStore(root, Options{Extractor: symbols.NewExtractor()})
	return NewIndexer(store, sc, IndexerConfig{
		Scan:    scanner.Options{Root: root, RespectGitignore: true},
		Workers: 2,
	})
}

func TestInitialIndex_IndexesAcceptedFiles(t *testing.T) {
	// Given a tree with source, an ignored directory and a gitignored file
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/lib.rs":      "pub fn parse() {}\nstruct Token;",
		"main.go":         "package main\n\nfunc main() {}",
		".git/config":     "[core]",
		"build/out.rs":    "fn generated() {}",
		".gitignore":      "build/\n",
		"notes/readme.md": "hello",
	})
	ix := newTestIndexer(t, root)

	// When the initial index runs
	n, err := ix.InitialIndex(context.Background())
	require.NoError(t, err)

	// Then only accepted files are present and their symbols searchable
	files := ix.Store().Files()
	assert.Contains(t, files, "src/lib.rs")
	assert.Contains(t, files, "main.go")
	assert.Contains(t, files, "notes/readme.md")
	assert.NotContains(t, files, "build/out.rs")
	assert.NotContains(t, files, ".git/config")
	assert.Equal(t, len(files), n)

	assert.Len(t, ix.Store().SearchByKind("function", "parse", 10), 1)
	assert.Len(t, ix.Store().SearchByKind("struct", "token", 10), 1)
	assert.Empty(t, ix.Store().Search("generated", 10))
}

func TestInitialIndex_PrunesVanishedFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.rs": "fn a() {}", "b.rs": "fn b() {}"})
	ix := newTestIndexer(t, root)
	_, err := ix.InitialIndex(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.rs")))
	_, err = ix.InitialIndex(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a.rs"}, ix.Store().Files())
	assert.Empty(t, ix.Store().Search("b", 10))
}

func TestInitialIndex_ReportsProgress(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.rs": "fn a() {}", "b.rs": "fn b() {}"})
	ix := newTestIndexer(t, root)

	var calls int
	done := make(chan struct{}, 10)
	ix.OnProgress = func(int64, string) { done <- struct{}{} }
	_, err := ix.InitialIndex(context.Background())
	require.NoError(t, err)
	close(done)
	for range done {
		calls++
	}
	assert.Equal(t, 2, calls)
}

func TestInitialIndex_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.rs": "fn a() {}"})
	ix := newTestIndexer(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ix.InitialIndex(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleEvents_AppliesBatch(t *testing.T) {
	// Given an indexed tree
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.rs":       "fn alpha() {}",
		"b.rs":       "fn beta() {}",
		"old/c.rs":   "fn gamma() {}",
		"old/d/e.rs": "fn delta() {}",
	})
	ix := newTestIndexer(t, root)
	_, err := ix.InitialIndex(context.Background())
	require.NoError(t, err)

	// When files change on disk and a batch of events arrives
	writeFiles(t, root, map[string]string{
		"a.rs":   "fn alpha2() {}",
		"new.rs": "fn fresh() {}",
		"r2.rs":  "fn beta() {}",
	})
	require.NoError(t, os.Remove(filepath.Join(root, "b.rs")))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "old")))

	err = ix.HandleEvents(context.Background(), []watcher.FileEvent{
		{Path: "a.rs", Operation: watcher.OpModify},
		{Path: "new.rs", Operation: watcher.OpCreate},
		{Path: "r2.rs", OldPath: "b.rs", Operation: watcher.OpRename},
		{Path: "old", Operation: watcher.OpDelete},
		{Path: "missing.rs", Operation: watcher.OpModify},
	})
	require.NoError(t, err)

	// Then the store reflects the new state
	assert.Equal(t, []string{"a.rs", "new.rs", "r2.rs"}, ix.Store().Files())
	assert.Len(t, ix.Store().Search("alpha2", 10), 1)
	assert.Len(t, ix.Store().Search("fresh", 10), 1)
	beta := ix.Store().Search("beta", 10)
	require.Len(t, beta, 1)
	assert.Equal(t, "r2.rs", beta[0].Path)
	assert.Empty(t, ix.Store().Search("gamma", 10))
}

func TestHandleEvents_GitignoreChangeRescans(t *testing.T) {
	// Given an indexed tree
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"keep.rs": "fn keep() {}", "gen/out.rs": "fn out() {}"})
	ix := newTestIndexer(t, root)
	_, err := ix.InitialIndex(context.Background())
	require.NoError(t, err)
	require.Contains(t, ix.Store().Files(), "gen/out.rs")

	// When .gitignore starts excluding gen/
	writeFiles(t, root, map[string]string{".gitignore": "gen/\n"})
	err = ix.HandleEvents(context.Background(), []watcher.FileEvent{
		{Path: ".gitignore", Operation: watcher.OpGitignoreChange},
	})
	require.NoError(t, err)

	// Then the newly ignored file drops out
	assert.NotContains(t, ix.Store().Files(), "gen/out.rs")
	assert.Contains(t, ix.Store().Files(), "keep.rs")
}

func TestHandleEvents_RejectedFileIsRemoved(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.rs": "fn a() {}"})
	ix := newTestIndexer(t, root)
	require.NoError(t, ix.Store().UpdateFile(".git/HEAD", []byte("ref")))

	err := ix.HandleEvents(context.Background(), []watcher.FileEvent{
		{Path: ".git/HEAD", Operation: watcher.OpModify},
	})
	require.NoError(t, err)
	assert.Empty(t, ix.Store().Files())
}
