package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func walkPaths(t *testing.T, s *Scanner, opts Options) []string {
	t.Helper()
	var paths []string
	err := s.Walk(context.Background(), opts, func(f *FileInfo) error {
		paths = append(paths, f.Path)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(paths)
	return paths
}

func TestWalk_AppliesExclusionsAndGitignore(t *testing.T) {
	// Given: a tree with ignored, sensitive and binary files
	root := writeTree(t, map[string]string{
		"src/main.rs":         "fn main() {}",
		"src/gen/out.rs":      "fn gen() {}",
		"target/debug/app.rs": "fn nope() {}",
		"notes.log":           "log",
		".env":                "SECRET=1",
		".git/config":         "[core]",
		"bin/blob.dat":        "ab\x00cd",
		".gitignore":          "*.log\n/target/\n",
		"src/.gitignore":      "gen/\n",
	})
	s, err := New()
	require.NoError(t, err)

	// When: walking with gitignore support
	paths := walkPaths(t, s, Options{Root: root, RespectGitignore: true})

	// Then: only searchable files remain
	assert.Equal(t, []string{".gitignore", "src/.gitignore", "src/main.rs"}, paths)
}

func TestWalk_WithoutGitignore(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.log":      "x",
		".gitignore": "*.log\n",
	})
	s, err := New()
	require.NoError(t, err)

	paths := walkPaths(t, s, Options{Root: root})

	assert.Equal(t, []string{".gitignore", "a.log"}, paths)
}

func TestWalk_IncludeExcludeGlobs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"pkg/a.go":          "package a",
		"pkg/a_test.go":     "package a",
		"pkg/fixtures/f.go": "package f",
		"README.md":         "# hi",
	})
	s, err := New()
	require.NoError(t, err)

	paths := walkPaths(t, s, Options{
		Root:    root,
		Include: []string{"**/*.go"},
		Exclude: []string{"**/*_test.go", "**/fixtures/**"},
	})

	assert.Equal(t, []string{"pkg/a.go"}, paths)
}

func TestWalk_MaxFileSize(t *testing.T) {
	root := writeTree(t, map[string]string{
		"small.txt": "ok",
		"big.txt":   "0123456789",
	})
	s, err := New()
	require.NoError(t, err)

	assert.Equal(t, []string{"small.txt"}, walkPaths(t, s, Options{Root: root, MaxFileSize: 5}))
}

func TestWalk_StopEndsWalkCleanly(t *testing.T) {
	root := writeTree(t, map[string]string{"a.go": "a", "b.go": "b", "c.go": "c"})
	s, err := New()
	require.NoError(t, err)

	count := 0
	err = s.Walk(context.Background(), Options{Root: root}, func(*FileInfo) error {
		count++
		return Stop
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWalk_CancelledContext(t *testing.T) {
	root := writeTree(t, map[string]string{"a.go": "a"})
	s, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Walk(ctx, Options{Root: root}, func(*FileInfo) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalk_RootMustBeDirectory(t *testing.T) {
	root := writeTree(t, map[string]string{"a.go": "a"})
	s, err := New()
	require.NoError(t, err)

	err = s.Walk(context.Background(), Options{Root: filepath.Join(root, "a.go")}, func(*FileInfo) error { return nil })
	assert.Error(t, err)

	_, err = s.Scan(context.Background(), Options{Root: filepath.Join(root, "missing")})
	assert.Error(t, err)
}

func TestScan_StreamsFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"x/a.rs": "fn a(){}", "b.py": "def b(): pass"})
	s, err := New()
	require.NoError(t, err)

	ch, err := s.Scan(context.Background(), Options{Root: root})
	require.NoError(t, err)

	langs := map[string]string{}
	for r := range ch {
		require.NoError(t, r.Error)
		langs[r.File.Path] = r.File.Language
	}
	assert.Equal(t, map[string]string{"x/a.rs": "rust", "b.py": "python"}, langs)
}

func TestAccepts_MatchesWalkRules(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore":   "build/\n",
		"src/lib.rs":   "",
		"build/out.rs": "",
		".git/HEAD":    "",
	})
	s, err := New()
	require.NoError(t, err)
	opts := Options{Root: root, RespectGitignore: true}

	assert.True(t, s.Accepts(opts, filepath.Join(root, "src", "lib.rs")))
	assert.False(t, s.Accepts(opts, filepath.Join(root, "build", "out.rs")))
	assert.False(t, s.Accepts(opts, filepath.Join(root, ".git", "HEAD")))
	assert.False(t, s.Accepts(opts, filepath.Join(filepath.Dir(root), "elsewhere.rs")))
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"a.rs":        "rust",
		"dir/b.GO":    "go",
		"c.tsx":       "tsx",
		"Makefile":    "makefile",
		"unknown.xyz": "",
		"noext":       "",
	}
	for path, want := range tests {
		assert.Equal(t, want, DetectLanguage(path), path)
	}
}

func TestIgnores_DirectoriesAndFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore": "dist/\n*.log\n",
		"main.go":    "package main",
	})
	s, err := New()
	require.NoError(t, err)
	opts := Options{Root: root, RespectGitignore: true}

	assert.True(t, s.Ignores(opts, ".git", true))
	assert.True(t, s.Ignores(opts, "dist", true))
	assert.True(t, s.Ignores(opts, "debug.log", false))
	assert.False(t, s.Ignores(opts, "main.go", false))
	assert.False(t, s.Ignores(opts, "src", true))
}
