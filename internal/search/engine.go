// Package search implements the stateless search engines that work
// directly on a directory tree: text and regex, structural syntax queries,
// symbol definitions, file paths, fuzzy symbol names and semantic ranking.
//
// Every engine walks the tree with the same scanner rules, so ignored and
// binary files never appear in results. Failures are reported as
// *errors.CSError carrying the engine's own code.
package search

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/codesearch/internal/scanner"
	"github.com/Aman-CERP/codesearch/internal/semantic"
	"github.com/Aman-CERP/codesearch/internal/symbols"
)

var errEmptyPattern = errors.New("empty pattern")

// Options configures an Engine.
type Options struct {
	// Scan holds the walk rules; Root is set per call.
	Scan    scanner.Options
	Workers int

	// FuzzyThreshold is the minimum Jaro-Winkler similarity, 0..1.
	FuzzyThreshold float64

	Logger *slog.Logger
}

// Engine runs searches over arbitrary roots.
type Engine struct {
	opts      Options
	scanner   *scanner.Scanner
	extractor *symbols.Extractor
	semantic  *semantic.Engine
	logger    *slog.Logger
}

// New creates an engine. sem may be nil, in which case Semantic fails.
func New(sc *scanner.Scanner, ex *symbols.Extractor, sem *semantic.Engine, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.FuzzyThreshold <= 0 || opts.FuzzyThreshold > 1 {
		opts.FuzzyThreshold = 0.8
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:      opts,
		scanner:   sc,
		extractor: ex,
		semantic:  sem,
		logger:    logger,
	}
}

func (e *Engine) scanOptions(root string) scanner.Options {
	o := e.opts.Scan
	o.Root = root
	return o
}

// eachFile reads every accepted file under root with bounded parallelism
// and collects what fn returns. Unreadable files are skipped.
func eachFile[T any](ctx context.Context, e *Engine, root string, fn func(ctx context.Context, fi *scanner.FileInfo, content []byte) ([]T, error)) ([]T, error) {
	var (
		mu  sync.Mutex
		out []T
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	walkErr := e.scanner.Walk(gctx, e.scanOptions(root), func(fi *scanner.FileInfo) error {
		g.Go(func() error {
			content, err := os.ReadFile(fi.AbsPath)
			if err != nil {
				e.logger.Debug("skipping unreadable file", slog.String("path", fi.Path), slog.String("error", err.Error()))
				return nil
			}
			found, err := fn(gctx, fi, content)
			if err != nil {
				return err
			}
			if len(found) > 0 {
				mu.Lock()
				out = append(out, found...)
				mu.Unlock()
			}
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// sortByLocation orders results by path then line then column.
func sortByLocation[T any](items []T, key func(T) (string, int, int)) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, li, ci := key(items[i])
		pj, lj, cj := key(items[j])
		if pi != pj {
			return pi < pj
		}
		if li != lj {
			return li < lj
		}
		return ci < cj
	})
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
