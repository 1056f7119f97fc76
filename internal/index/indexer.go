package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/codesearch/internal/scanner"
	"github.com/Aman-CERP/codesearch/internal/watcher"
)

// Indexer keeps a Store in step with the files under its root: a full scan
// up front, then incremental updates from watcher batches.
type Indexer struct {
	store   *Store
	scanner *scanner.Scanner
	opts    scanner.Options
	workers int
	logger  *slog.Logger

	// OnProgress, if set, is called after each file during InitialIndex.
	OnProgress func(done int64, path string)
}

// IndexerConfig configures an Indexer.
type IndexerConfig struct {
	Scan    scanner.Options
	Workers int
	Logger  *slog.Logger
}

// NewIndexer creates an indexer that feeds store.
func NewIndexer(store *Store, sc *scanner.Scanner, cfg IndexerConfig) *Indexer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := cfg.Scan
	if opts.Root == "" {
		opts.Root = store.Root()
	}
	return &Indexer{
		store:   store,
		scanner: sc,
		opts:    opts,
		workers: workers,
		logger:  logger,
	}
}

// Store returns the store being maintained.
func (ix *Indexer) Store() *Store { return ix.store }

// InitialIndex scans the root and indexes every accepted file, then drops
// entries for files that no longer exist. It returns the number of files
// indexed by this scan.
func (ix *Indexer) InitialIndex(ctx context.Context) (int, error) {
	start := time.Now()

	var (
		indexed atomic.Int64
		mu      sync.Mutex
		seen    = make(map[string]struct{})
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)

	walkErr := ix.scanner.Walk(gctx, ix.opts, func(fi *scanner.FileInfo) error {
		mu.Lock()
		seen[fi.Path] = struct{}{}
		mu.Unlock()

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			content, err := os.ReadFile(fi.AbsPath)
			if err != nil {
				ix.logger.Warn("skipping unreadable file",
					slog.String("path", fi.Path),
					slog.String("error", err.Error()))
				return nil
			}
			if err := ix.store.UpdateFileAt(fi.Path, content, fi.ModTime); err != nil {
				ix.logger.Warn("failed to index file",
					slog.String("path", fi.Path),
					slog.String("error", err.Error()))
				return nil
			}
			done := indexed.Add(1)
			if ix.OnProgress != nil {
				ix.OnProgress(done, fi.Path)
			}
			return nil
		})
		return nil
	})
	groupErr := g.Wait()

	if walkErr != nil {
		return int(indexed.Load()), walkErr
	}
	if groupErr != nil {
		return int(indexed.Load()), groupErr
	}

	pruned := 0
	for _, p := range ix.store.Files() {
		if _, ok := seen[p]; !ok {
			_ = ix.store.RemoveFile(p)
			pruned++
		}
	}

	ix.logger.Info("initial index complete",
		slog.String("root", ix.opts.Root),
		slog.Int64("files", indexed.Load()),
		slog.Int("pruned", pruned),
		slog.Duration("elapsed", time.Since(start)))
	return int(indexed.Load()), nil
}

// HandleEvents applies one debounced batch. Per-event failures are logged
// and do not stop the batch.
func (ix *Indexer) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ix.handleEvent(ctx, ev); err != nil {
			ix.logger.Warn("failed to apply file event",
				slog.String("path", ev.Path),
				slog.String("op", ev.Operation.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (ix *Indexer) handleEvent(ctx context.Context, ev watcher.FileEvent) error {
	switch ev.Operation {
	case watcher.OpCreate, watcher.OpModify:
		if ev.IsDir {
			return nil
		}
		return ix.indexPath(ev.Path)

	case watcher.OpDelete:
		if ev.IsDir {
			ix.store.RemovePrefix(ev.Path)
			return nil
		}
		// The event may be for a directory that no longer exists to stat.
		ix.store.RemovePrefix(ev.Path)
		return ix.store.RemoveFile(ev.Path)

	case watcher.OpRename:
		if ev.OldPath != "" {
			ix.store.RemovePrefix(ev.OldPath)
			_ = ix.store.RemoveFile(ev.OldPath)
		}
		if ev.IsDir {
			return nil
		}
		return ix.indexPath(ev.Path)

	case watcher.OpGitignoreChange:
		// Ignore rules changed: rescan so newly ignored files drop out and
		// newly visible ones come in.
		ix.scanner.InvalidateGitignoreCache()
		_, err := ix.InitialIndex(ctx)
		return err

	case watcher.OpConfigChange:
		ix.logger.Info("config file changed; restart to apply",
			slog.String("path", ev.Path))
		return nil
	}
	return nil
}

// indexPath reads and indexes one file if the scan rules accept it. A file
// that the rules reject is removed in case it was indexed earlier.
func (ix *Indexer) indexPath(rel string) error {
	abs, err := filepath.Abs(ix.store.abs(rel))
	if err != nil {
		return err
	}
	if !ix.scanner.Accepts(ix.opts, abs) {
		return ix.store.RemoveFile(rel)
	}
	content, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return ix.store.RemoveFile(rel)
	}
	if err != nil {
		return err
	}
	return ix.store.UpdateFile(rel, content)
}
