package watcher

import "time"

// Operation is the kind of change a FileEvent reports.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
	// OpGitignoreChange is emitted instead of a plain event when a
	// .gitignore changes; consumers should rescan.
	OpGitignoreChange
	// OpConfigChange is emitted when the project config file changes.
	OpConfigChange
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change. Paths are slash-separated and relative to the
// watched root.
type FileEvent struct {
	Path      string
	OldPath   string // set for OpRename
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// IgnoreFunc reports whether a path should produce no events. Ignored
// directories are not descended into.
type IgnoreFunc func(rel string, isDir bool) bool

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long a path must be quiet before its event is
	// emitted. Default 200ms.
	DebounceWindow time.Duration

	// PollInterval is used when fsnotify is unavailable. Default 5s.
	PollInterval time.Duration

	// BufferSize is the capacity of the batch channel. Default 100.
	BufferSize int

	// Ignore filters paths in addition to the built-in .git and
	// .codesearch exclusions.
	Ignore IgnoreFunc

	// ConfigFile is the base name reported as OpConfigChange.
	// Default ".codesearch.yaml".
	ConfigFile string

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 200 * time.Millisecond,
		PollInterval:   5 * time.Second,
		BufferSize:     100,
		ConfigFile:     ".codesearch.yaml",
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.ConfigFile == "" {
		o.ConfigFile = d.ConfigFile
	}
	return o
}
