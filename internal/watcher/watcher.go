package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a directory tree. Start returns once watching is set
// up; events arrive on Events until Stop is called or the context ends.
type Watcher struct {
	opts   Options
	logger *slog.Logger

	debouncer *Debouncer
	fsw       *fsnotify.Watcher
	poller    *poller
	root      string

	events chan []FileEvent
	errors chan error
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a watcher. Nothing is watched until Start.
func New(opts Options, logger *slog.Logger) *Watcher {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		opts:      opts,
		logger:    logger,
		debouncer: NewDebouncer(opts.DebounceWindow, logger),
		events:    make(chan []FileEvent, opts.BufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
}

// Start begins watching root recursively.
func (w *Watcher) Start(ctx context.Context, root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errors.New("watcher stopped")
	}
	if w.started {
		return errors.New("watcher already started")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root is not a directory: %s", abs)
	}
	w.root = abs

	if !w.opts.ForcePolling {
		if fsw, err := fsnotify.NewWatcher(); err == nil {
			w.fsw = fsw
			if err := w.addRecursive(abs, false); err != nil {
				_ = fsw.Close()
				w.fsw = nil
				w.logger.Warn("fsnotify setup failed, falling back to polling",
					slog.String("error", err.Error()))
			}
		} else {
			w.logger.Warn("fsnotify unavailable, falling back to polling",
				slog.String("error", err.Error()))
		}
	}
	if w.fsw == nil {
		w.poller = newPoller(abs, w.ignored)
		w.poller.snapshot()
	}

	w.started = true
	w.wg.Add(2)
	go w.forward(ctx)
	if w.fsw != nil {
		go w.runFsnotify(ctx)
	} else {
		go w.runPolling(ctx)
	}
	return nil
}

// Mode reports "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Events returns debounced batches. Closed by Stop.
func (w *Watcher) Events() <-chan []FileEvent { return w.events }

// Errors returns non-fatal watch errors. Closed by Stop.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Stop ends watching and closes both channels. Safe to call twice.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	w.mu.Unlock()

	w.debouncer.Stop()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

func (w *Watcher) runFsnotify(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFsnotify(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			for _, ev := range w.poller.diff() {
				w.route(ev)
			}
		}
	}
}

// forward moves debounced batches to Events.
func (w *Watcher) forward(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			select {
			case w.events <- batch:
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Watcher) handleFsnotify(ev fsnotify.Event) {
	rel, ok := w.rel(ev.Name)
	if !ok {
		return
	}
	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// The new name of a rename arrives as its own Create.
		op = OpDelete
	default:
		return
	}

	if w.ignored(rel, isDir) {
		return
	}

	if op == OpCreate && isDir {
		// Files written before the directory was watched would be missed.
		if err := w.addRecursive(ev.Name, true); err != nil {
			w.emitError(err)
		}
	}

	w.route(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// route classifies special files and hands the event to the debouncer.
func (w *Watcher) route(ev FileEvent) {
	switch path.Base(ev.Path) {
	case ".gitignore":
		ev.Operation = OpGitignoreChange
	case w.opts.ConfigFile:
		ev.Operation = OpConfigChange
	}
	w.debouncer.Add(ev)
}

// addRecursive watches dir and every non-ignored directory below it. With
// announce set, files found are reported as created.
func (w *Watcher) addRecursive(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, ok := w.rel(p)
		if !ok && p != w.root {
			return nil
		}
		if !d.IsDir() {
			if announce && !w.ignored(rel, false) {
				w.route(FileEvent{Path: rel, Operation: OpCreate, Timestamp: time.Now()})
			}
			return nil
		}
		if p != w.root && w.ignored(rel, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) ignored(rel string, isDir bool) bool {
	first, _, _ := strings.Cut(rel, "/")
	if first == ".git" || first == ".codesearch" {
		return true
	}
	if base := path.Base(rel); base == ".gitignore" || base == w.opts.ConfigFile {
		return false
	}
	return w.opts.Ignore != nil && w.opts.Ignore(rel, isDir)
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
