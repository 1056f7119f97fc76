package server

import (
	"context"
	"errors"

	"github.com/Aman-CERP/codesearch/internal/index"
)

var errStateClosed = errors.New("server state closed")

// activeIndex is the index installed by the last index_build.
type activeIndex struct {
	root    string
	store   *index.Store
	indexer *index.Indexer
}

// stateData is only touched on the state goroutine.
type stateData struct {
	active *activeIndex
	watch  *watchSession
}

func (d *stateData) watching() bool { return d.watch != nil }

// state owns the active index and the watch flag. Handlers send it
// closures and wait, so no lock is held while a handler does I/O.
type state struct {
	ops  chan func(*stateData)
	quit chan struct{}
	done chan struct{}
}

func newState() *state {
	s := &state{
		ops:  make(chan func(*stateData)),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *state) loop() {
	defer close(s.done)
	var d stateData
	for {
		select {
		case op := <-s.ops:
			op(&d)
		case <-s.quit:
			if d.watch != nil {
				d.watch.stop()
				d.watch = nil
			}
			return
		}
	}
}

// do runs fn on the state goroutine and waits for it to finish. fn must
// not block.
func (s *state) do(ctx context.Context, fn func(*stateData)) error {
	finished := make(chan struct{})
	op := func(d *stateData) {
		defer close(finished)
		fn(d)
	}
	select {
	case s.ops <- op:
	case <-s.done:
		return errStateClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// snapshot returns the active index and watch flag.
func (s *state) snapshot(ctx context.Context) (active *activeIndex, watching bool, err error) {
	err = s.do(ctx, func(d *stateData) {
		active, watching = d.active, d.watching()
	})
	return active, watching, err
}

// close stops any watcher and the state goroutine.
func (s *state) close() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done
}
