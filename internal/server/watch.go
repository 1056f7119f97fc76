package server

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/watcher"
)

// watchSession feeds file events for one active index into its indexer.
// After every batch it persists the index and drops the root's semantic
// snapshot.
type watchSession struct {
	w      *watcher.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Server) startWatch(a *activeIndex) (*watchSession, error) {
	scan := s.cfg.ScanOptions(a.root)
	opts := watcher.DefaultOptions()
	opts.DebounceWindow = s.cfg.WatchDebounceDuration()
	opts.Ignore = func(rel string, isDir bool) bool {
		return s.scanner.Ignores(scan, rel, isDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := watcher.New(opts, s.logger)
	if err := w.Start(ctx, a.root); err != nil {
		cancel()
		return nil, err
	}

	ws := &watchSession{w: w, cancel: cancel, done: make(chan struct{})}
	go func() {
		for err := range w.Errors() {
			s.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}()
	go func() {
		defer close(ws.done)
		for batch := range w.Events() {
			if err := a.indexer.HandleEvents(ctx, batch); err != nil {
				s.logger.LogAttrs(ctx, slog.LevelWarn, "incremental reindex failed", errors.LogAttrs(err)...)
			}
			if err := a.store.Persist(); err != nil {
				s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to persist index", errors.LogAttrs(err)...)
			}
			s.semantic.Invalidate(a.root)
		}
	}()

	s.logger.Info("watching for changes",
		slog.String("root", a.root),
		slog.String("mode", w.Mode()))
	return ws, nil
}

func (ws *watchSession) stop() {
	ws.cancel()
	_ = ws.w.Stop()
	<-ws.done
}
