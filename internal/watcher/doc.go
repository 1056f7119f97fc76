// Package watcher reports file changes under a source tree as debounced
// batches.
//
// fsnotify is used when available; otherwise the tree is polled. Rapid
// changes to the same path are coalesced so that editors and git checkouts
// produce one event per file rather than a burst.
//
//	w := watcher.New(watcher.Options{Ignore: ignoreFn})
//	if err := w.Start(ctx, root); err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	for batch := range w.Events() {
//	    _ = ix.HandleEvents(ctx, batch)
//	}
package watcher
