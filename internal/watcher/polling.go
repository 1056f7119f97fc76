package watcher

import (
	"io/fs"
	"path/filepath"
	"time"
)

type fileState struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// poller detects changes by comparing successive walks of the tree.
type poller struct {
	root    string
	ignored IgnoreFunc
	state   map[string]fileState
}

func newPoller(root string, ignored IgnoreFunc) *poller {
	return &poller{root: root, ignored: ignored, state: make(map[string]fileState)}
}

func (p *poller) walk() map[string]fileState {
	cur := make(map[string]fileState)
	_ = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == p.root {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if p.ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		cur[rel] = fileState{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	return cur
}

func (p *poller) snapshot() {
	p.state = p.walk()
}

// diff walks again and returns what changed since the previous walk.
func (p *poller) diff() []FileEvent {
	cur := p.walk()
	now := time.Now()
	var events []FileEvent
	for rel, st := range cur {
		prev, ok := p.state[rel]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: rel, Operation: OpCreate, IsDir: st.isDir, Timestamp: now})
		case !st.isDir && (prev.modTime != st.modTime || prev.size != st.size):
			events = append(events, FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel, st := range p.state {
		if _, ok := cur[rel]; !ok {
			events = append(events, FileEvent{Path: rel, Operation: OpDelete, IsDir: st.isDir, Timestamp: now})
		}
	}
	p.state = cur
	return events
}
