package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/codesearch/internal/gitignore"
)

// gitignoreCacheSize bounds the number of parsed .gitignore files kept.
const gitignoreCacheSize = 1000

// Stop can be returned by a WalkFunc to end the walk without an error.
var Stop = errors.New("scanner: stop walk")

// WalkFunc is called for every accepted file.
type WalkFunc func(*FileInfo) error

// Scanner discovers searchable files. It caches parsed .gitignore files,
// so reuse one Scanner across walks. Safe for concurrent use.
type Scanner struct {
	// keyed by absolute directory; a nil matcher records "no .gitignore here"
	gitignores *lru.Cache[string, *gitignore.Matcher]
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Scanner{gitignores: cache}, nil
}

// Scan streams files on a channel that is closed when the walk ends.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	absRoot, err := resolveRoot(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Root = absRoot

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		err := s.Walk(ctx, opts, func(f *FileInfo) error {
			select {
			case results <- Result{File: f}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case results <- Result{Error: err}:
			case <-ctx.Done():
			}
		}
	}()
	return results, nil
}

// Walk visits every accepted file under opts.Root in lexical order.
// Unreadable entries are skipped. Returning Stop from fn ends the walk
// with a nil error.
func (s *Scanner) Walk(ctx context.Context, opts Options, fn WalkFunc) error {
	absRoot, err := resolveRoot(opts.Root)
	if err != nil {
		return err
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.ignored(absRoot, rel, true, opts) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if s.ignored(absRoot, rel, false, opts) {
			return nil
		}
		if len(opts.Include) > 0 && !matchAny(opts.Include, rel) {
			return nil
		}

		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() || info.Size() > maxSize {
			return nil
		}
		if !opts.IncludeBinary && IsBinary(p) {
			return nil
		}

		return fn(&FileInfo{
			Path:     rel,
			AbsPath:  p,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: DetectLanguage(rel),
		})
	})
	if errors.Is(err, Stop) {
		return nil
	}
	return err
}

// Accepts reports whether a single file under root would be produced by
// Walk with the same options. The watcher uses it to filter events.
func (s *Scanner) Accepts(opts Options, absPath string) bool {
	absRoot, err := filepath.Abs(opts.Root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)

	// Every ancestor directory must survive pruning.
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if s.ignored(absRoot, strings.Join(parts[:i], "/"), true, opts) {
			return false
		}
	}
	if s.ignored(absRoot, rel, false, opts) {
		return false
	}
	return len(opts.Include) == 0 || matchAny(opts.Include, rel)
}

// Ignores reports whether a slash-separated path relative to opts.Root is
// excluded by the walk rules. Directories that are ignored are pruned.
func (s *Scanner) Ignores(opts Options, rel string, isDir bool) bool {
	absRoot, err := filepath.Abs(opts.Root)
	if err != nil {
		return true
	}
	return s.ignored(absRoot, rel, isDir, opts)
}

// InvalidateGitignoreCache forgets parsed .gitignore files, e.g. after one changes.
func (s *Scanner) InvalidateGitignoreCache() {
	s.gitignores.Purge()
}

func (s *Scanner) ignored(absRoot, rel string, isDir bool, opts Options) bool {
	if isDir {
		probe := rel + "/x"
		for _, p := range defaultExcludeDirs {
			if ok, _ := doublestar.Match(p, probe); ok {
				return true
			}
		}
		for _, p := range opts.Exclude {
			if ok, _ := doublestar.Match(p, probe); ok {
				return true
			}
		}
	} else {
		base := path.Base(rel)
		for _, p := range sensitiveFilePatterns {
			if ok, _ := path.Match(p, base); ok {
				return true
			}
		}
		if matchAny(opts.Exclude, rel) {
			return true
		}
	}

	return opts.RespectGitignore && s.gitignored(absRoot, rel, isDir)
}

// gitignored consults the .gitignore of the root and of every ancestor
// directory of rel.
func (s *Scanner) gitignored(absRoot, rel string, isDir bool) bool {
	if m := s.matcherFor(absRoot, ""); m != nil && m.Match(rel, isDir) {
		return true
	}

	dir := path.Dir(rel)
	if dir == "." {
		return false
	}
	parts := strings.Split(dir, "/")
	for i := range parts {
		base := strings.Join(parts[:i+1], "/")
		if m := s.matcherFor(filepath.Join(absRoot, filepath.FromSlash(base)), base); m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

func (s *Scanner) matcherFor(dir, base string) *gitignore.Matcher {
	if m, ok := s.gitignores.Get(dir); ok {
		return m
	}

	var m *gitignore.Matcher
	file := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(file); err == nil {
		m = gitignore.New()
		if err := m.AddFromFile(file, base); err != nil {
			m = nil
		}
	}
	s.gitignores.Add(dir, m)
	return m
}

// IsBinary reports whether the first 8KB of a file contain a NUL byte.
func IsBinary(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 8192)
	n, _ := f.Read(buf)
	return bytes.IndexByte(buf[:n], 0) >= 0
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root path is not a directory: %s", absRoot)
	}
	return absRoot, nil
}

// Directories that are never searched.
var defaultExcludeDirs = []string{
	"**/.git/**",
	"**/.codesearch/**",
	"**/.ssh/**",
	"**/.aws/**",
}

// Sensitive file names that are never searched, matched against the base name.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
