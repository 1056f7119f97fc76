package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/codesearch/internal/embed"
	"github.com/Aman-CERP/codesearch/internal/scanner"
)

// Config tunes ranking and caching.
type Config struct {
	RRFConstant    int
	KeywordWeight  float64
	SemanticWeight float64
	ChunkLines     int
	// CachedRoots is how many built roots are kept.
	CachedRoots int
	// Candidates is how many hits each ranking contributes before fusion.
	Candidates int
}

// DefaultConfig returns balanced weights with k=60.
func DefaultConfig() Config {
	return Config{
		RRFConstant:    DefaultRRFConstant,
		KeywordWeight:  0.5,
		SemanticWeight: 0.5,
		ChunkLines:     20,
		CachedRoots:    4,
		Candidates:     100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RRFConstant <= 0 {
		c.RRFConstant = d.RRFConstant
	}
	if c.KeywordWeight <= 0 && c.SemanticWeight <= 0 {
		c.KeywordWeight, c.SemanticWeight = d.KeywordWeight, d.SemanticWeight
	}
	if c.ChunkLines <= 0 {
		c.ChunkLines = d.ChunkLines
	}
	if c.CachedRoots <= 0 {
		c.CachedRoots = d.CachedRoots
	}
	if c.Candidates <= 0 {
		c.Candidates = d.Candidates
	}
	return c
}

// Result is one ranked chunk, located at its most relevant line.
type Result struct {
	Path      string  `json:"path"`
	Line      int     `json:"line"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// snapshot is the built index of one root at one fingerprint.
type snapshot struct {
	fingerprint uint64
	chunks      []Chunk
	byID        map[string]int
	keyword     *keywordIndex
	vectors     *vectorIndex
	builtAt     time.Time

	// The keyword index is closed once the snapshot has left the cache
	// and no search holds it.
	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

// acquire pins s for one search. It fails once s is closed.
func (s *snapshot) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.refs++
	return true
}

func (s *snapshot) release() {
	s.mu.Lock()
	s.refs--
	s.closeIfUnusedLocked()
	s.mu.Unlock()
}

// retire marks s as no longer cached. It is safe to call more than once.
func (s *snapshot) retire() {
	s.mu.Lock()
	s.retired = true
	s.closeIfUnusedLocked()
	s.mu.Unlock()
}

func (s *snapshot) closeIfUnusedLocked() {
	if !s.retired || s.refs > 0 || s.closed {
		return
	}
	s.closed = true
	if s.keyword != nil {
		_ = s.keyword.close()
	}
}

func (s *snapshot) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Engine answers semantic queries over directory trees.
type Engine struct {
	cfg      Config
	embedder embed.Embedder
	scanner  *scanner.Scanner
	scan     scanner.Options
	logger   *slog.Logger

	// mu serializes replacing a root's snapshot.
	mu    sync.Mutex
	cache *lru.Cache[string, *snapshot]
	group singleflight.Group
}

// maxAcquireAttempts bounds rebuilds when a fresh snapshot is evicted
// before the caller can pin it.
const maxAcquireAttempts = 3

// New creates an engine. scan supplies the walk rules; its Root is
// replaced per query.
func New(cfg Config, embedder embed.Embedder, sc *scanner.Scanner, scan scanner.Options, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.NewWithEvict[string, *snapshot](cfg.CachedRoots, func(_ string, s *snapshot) {
		s.retire()
	})
	return &Engine{
		cfg:      cfg,
		embedder: embedder,
		scanner:  sc,
		scan:     scan,
		logger:   logger,
		cache:    cache,
	}
}

// Search returns up to limit chunks under root ranked against query.
func (e *Engine) Search(ctx context.Context, root, query string, limit int) ([]Result, error) {
	snap, err := e.snapshotFor(ctx, root)
	if err != nil {
		return nil, err
	}
	defer snap.release()
	if len(snap.chunks) == 0 {
		return []Result{}, nil
	}

	qvec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var kw, vec []ranked
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		kw, err = snap.keyword.search(gctx, query, e.cfg.Candidates)
		return err
	})
	g.Go(func() error {
		vec = snap.vectors.search(qvec, e.cfg.Candidates)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := fuse(kw, vec, e.cfg.RRFConstant, e.cfg.KeywordWeight, e.cfg.SemanticWeight)
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}

	qtoks := make(map[string]struct{})
	for _, t := range embed.TokenizeCode(query) {
		qtoks[t] = struct{}{}
	}
	out := make([]Result, 0, len(merged))
	for _, f := range merged {
		c := snap.chunks[snap.byID[f.ID]]
		line, text := bestLine(c, qtoks, embed.TokenizeCode)
		out = append(out, Result{
			Path:      c.Path,
			Line:      line,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Text:      text,
			Score:     f.Score,
		})
	}
	return out, nil
}

// Invalidate drops the cached index for root. Searches already running
// against it finish before it is closed.
func (e *Engine) Invalidate(root string) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.cache.Remove(abs)
	e.mu.Unlock()
}

// Cached reports whether root has a built index in the cache.
func (e *Engine) Cached(root string) bool {
	abs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	return e.cache.Contains(abs)
}

// Close releases every cached index.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.cache.Purge()
	e.mu.Unlock()
	return nil
}

type fileRef struct {
	rel, abs string
}

// snapshotFor returns the current snapshot of root, pinned. Callers
// must release it.
func (e *Engine) snapshotFor(ctx context.Context, root string) (*snapshot, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	opts := e.scan
	opts.Root = abs
	var files []fileRef
	h := xxhash.New()
	err = e.scanner.Walk(ctx, opts, func(fi *scanner.FileInfo) error {
		files = append(files, fileRef{rel: fi.Path, abs: fi.AbsPath})
		_, _ = h.WriteString(fi.Path)
		_, _ = h.WriteString(strconv.FormatInt(fi.Size, 10))
		_, _ = h.WriteString(strconv.FormatInt(fi.ModTime.UnixNano(), 10))
		return nil
	})
	if err != nil {
		return nil, err
	}
	fp := h.Sum64()

	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		if s, ok := e.cache.Get(abs); ok && s.fingerprint == fp && s.acquire() {
			return s, nil
		}

		key := abs + "@" + strconv.FormatUint(fp, 16)
		v, err, _ := e.group.Do(key, func() (interface{}, error) {
			s, err := e.build(ctx, files, fp)
			if err != nil {
				return nil, err
			}
			e.store(abs, s)
			return s, nil
		})
		if err != nil {
			return nil, err
		}
		if s := v.(*snapshot); s.acquire() {
			return s, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("semantic index for %s was evicted while building", abs)
}

// store caches s for abs and retires the snapshot it replaces.
// Replacing an existing key does not run the eviction callback.
func (e *Engine) store(abs string, s *snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	old, ok := e.cache.Peek(abs)
	e.cache.Add(abs, s)
	if ok && old != s {
		old.retire()
	}
}

func (e *Engine) build(ctx context.Context, files []fileRef, fp uint64) (*snapshot, error) {
	start := time.Now()
	var chunks []Chunk
	for _, f := range files {
		content, err := os.ReadFile(f.abs)
		if err != nil {
			continue
		}
		chunks = append(chunks, chunkFile(f.rel, string(content), e.cfg.ChunkLines)...)
	}

	snap := &snapshot{
		fingerprint: fp,
		chunks:      chunks,
		byID:        make(map[string]int, len(chunks)),
		builtAt:     start,
	}
	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		snap.byID[c.ID] = i
		ids[i] = c.ID
		texts[i] = c.Content
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kw, err := newKeywordIndex(chunks)
		if err != nil {
			return err
		}
		snap.keyword = kw
		return nil
	})
	g.Go(func() error {
		vecs, err := e.embedder.EmbedBatch(gctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		snap.vectors = newVectorIndex(ids, vecs)
		return nil
	})
	if err := g.Wait(); err != nil {
		if snap.keyword != nil {
			_ = snap.keyword.close()
		}
		return nil, err
	}

	e.logger.Debug("semantic index built",
		slog.Int("files", len(files)),
		slog.Int("chunks", len(chunks)),
		slog.Duration("elapsed", time.Since(start)))
	return snap, nil
}
