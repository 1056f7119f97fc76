package index

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Match scores. Exact name beats prefix beats substring.
const (
	scoreExact    = 1.0
	scorePrefix   = 0.8
	scoreContains = 0.5
)

// Options configures a Store.
type Options struct {
	// IndexPath is where Persist writes and Load reads the file table.
	IndexPath string

	// Extractor finds symbols. Nil disables extraction: files are tracked
	// for size, hash and mtime only.
	Extractor SymbolExtractor

	Logger *slog.Logger
}

// Store is the concurrent symbol index for one root directory.
type Store struct {
	root      string
	indexPath string
	extractor SymbolExtractor
	logger    *slog.Logger

	files *shardedMap[*IndexedFile]
	names *shardedMap[[]IndexMatch]
	locks pathLocks
	seq   atomic.Uint64
}

// NewStore creates an empty store rooted at root.
func NewStore(root string, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:      root,
		indexPath: opts.IndexPath,
		extractor: opts.Extractor,
		logger:    logger,
		files:     newShardedMap[*IndexedFile](),
		names:     newShardedMap[[]IndexMatch](),
	}
}

// Root returns the directory the store indexes.
func (s *Store) Root() string { return s.root }

// IndexPath returns the persistence location.
func (s *Store) IndexPath() string { return s.indexPath }

// SymbolsEnabled reports whether the store extracts symbols.
func (s *Store) SymbolsEnabled() bool { return s.extractor != nil }

// UpdateFile (re)indexes path with the given content. The modification
// time is read from disk when the file exists under the root.
func (s *Store) UpdateFile(path string, content []byte) error {
	mtime := time.Now()
	if info, err := os.Stat(s.abs(path)); err == nil {
		mtime = info.ModTime()
	}
	return s.UpdateFileAt(path, content, mtime)
}

// UpdateFileAt is UpdateFile with a caller-supplied modification time.
func (s *Store) UpdateFileAt(path string, content []byte, modTime time.Time) error {
	path = normalize(path)
	file := &IndexedFile{
		Path:         path,
		ContentHash:  contentHash(content),
		LastModified: modTime.Unix(),
		Size:         int64(len(content)),
	}

	if s.extractor != nil {
		syms, err := s.extractor.Extract(path, content)
		if err != nil {
			// The file stays tracked so stale symbols from the previous
			// version do not linger.
			s.logger.Debug("symbol extraction failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		file.Symbols = make([]IndexedSymbol, 0, len(syms))
		for _, sym := range syms {
			file.Symbols = append(file.Symbols, IndexedSymbol{
				Name:      sym.Name,
				Kind:      string(sym.Kind),
				Line:      sym.Line,
				Column:    sym.Column,
				Signature: sym.Signature,
			})
		}
	}

	s.reindexFile(path, file)
	return nil
}

// RemoveFile drops path and every match it contributed.
func (s *Store) RemoveFile(path string) error {
	s.reindexFile(normalize(path), nil)
	return nil
}

// RemovePrefix drops every file under dir. Used when a directory is deleted.
func (s *Store) RemovePrefix(dir string) int {
	dir = strings.TrimSuffix(normalize(dir), "/") + "/"
	var doomed []string
	s.files.each(func(p string, _ *IndexedFile) {
		if strings.HasPrefix(p, dir) {
			doomed = append(doomed, p)
		}
	})
	for _, p := range doomed {
		s.reindexFile(p, nil)
	}
	return len(doomed)
}

// reindexFile is the only path that mutates the name index. With next nil
// the file is removed. The old file's matches are stripped before the new
// ones are inserted, all under the path's lock.
func (s *Store) reindexFile(path string, next *IndexedFile) {
	unlock := s.locks.lock(path)
	defer unlock()

	if old, ok := s.files.get(path); ok {
		for _, sym := range old.Symbols {
			s.names.update(sym.Name, func(ms []IndexMatch, exists bool) ([]IndexMatch, bool) {
				if !exists {
					return nil, false
				}
				kept := ms[:0:0]
				for _, m := range ms {
					if m.Path != path {
						kept = append(kept, m)
					}
				}
				return kept, len(kept) > 0
			})
		}
	}

	if next == nil {
		s.files.delete(path)
		return
	}

	s.files.set(path, next)
	for _, sym := range next.Symbols {
		m := IndexMatch{
			Path:   path,
			Line:   sym.Line,
			Column: sym.Column,
			Text:   sym.Name,
			Kind:   sym.Kind,
			seq:    s.seq.Add(1),
		}
		s.names.update(sym.Name, func(ms []IndexMatch, _ bool) ([]IndexMatch, bool) {
			return append(ms, m), true
		})
	}
}

// Search returns matches whose symbol name contains query, ignoring case.
// A limit <= 0 means no limit.
func (s *Store) Search(query string, limit int) []IndexMatch {
	return s.search("", query, limit)
}

// SearchByKind is Search restricted to one symbol kind.
func (s *Store) SearchByKind(kind, query string, limit int) []IndexMatch {
	return s.search(kind, query, limit)
}

func (s *Store) search(kind, query string, limit int) []IndexMatch {
	q := strings.ToLower(query)

	var out []IndexMatch
	s.names.each(func(name string, ms []IndexMatch) {
		lname := strings.ToLower(name)
		if !strings.Contains(lname, q) {
			return
		}
		score := scoreContains
		switch {
		case lname == q:
			score = scoreExact
		case strings.HasPrefix(lname, q):
			score = scorePrefix
		}
		for _, m := range ms {
			if kind != "" && m.Kind != kind {
				continue
			}
			m.Score = score
			out = append(out, m)
		}
	})

	// A concurrent reindex may have removed the owning file after the
	// name bucket was read.
	live := out[:0]
	for _, m := range out {
		if _, ok := s.files.get(m.Path); ok {
			live = append(live, m)
		}
	}
	out = live

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].seq < out[j].seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns a copy of the entry for path.
func (s *Store) Get(path string) (IndexedFile, bool) {
	f, ok := s.files.get(normalize(path))
	if !ok {
		return IndexedFile{}, false
	}
	cp := *f
	cp.Symbols = append([]IndexedSymbol(nil), f.Symbols...)
	return cp, true
}

// Files returns every indexed path, sorted.
func (s *Store) Files() []string {
	paths := make([]string, 0, s.files.len())
	s.files.each(func(p string, _ *IndexedFile) {
		paths = append(paths, p)
	})
	sort.Strings(paths)
	return paths
}

// Len returns the number of indexed files.
func (s *Store) Len() int { return s.files.len() }

// Stats computes totals from the file table.
func (s *Store) Stats() IndexStats {
	st := IndexStats{IndexPath: s.indexPath}
	s.files.each(func(_ string, f *IndexedFile) {
		st.TotalFiles++
		st.TotalSymbols += len(f.Symbols)
		st.TotalSize += f.Size
		if f.LastModified > st.LastUpdated {
			st.LastUpdated = f.LastModified
		}
	})
	return st
}

// snapshot returns the file table sorted by path.
func (s *Store) snapshot() []*IndexedFile {
	var files []*IndexedFile
	s.files.each(func(_ string, f *IndexedFile) {
		files = append(files, f)
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// reset empties both maps.
func (s *Store) reset() {
	s.files.clear()
	s.names.clear()
}

func (s *Store) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func normalize(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

func contentHash(content []byte) string {
	return strconv.FormatUint(xxhash.Sum64(content), 16)
}
