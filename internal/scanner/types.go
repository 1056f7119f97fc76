// Package scanner walks a source tree and yields the files worth searching.
// It honours exclude patterns, nested .gitignore files and a fixed list of
// sensitive file names, and skips binary and oversized files.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// FileInfo describes one discovered file.
type FileInfo struct {
	Path     string // slash-separated, relative to the scan root
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language string // empty when unknown
}

// Options configures a walk.
type Options struct {
	// Root is the directory to walk.
	Root string

	// Include restricts results to paths matching any of these globs (empty = all).
	Include []string

	// Exclude drops paths (and prunes directories) matching any of these globs.
	Exclude []string

	// RespectGitignore enables .gitignore parsing.
	RespectGitignore bool

	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// FollowSymlinks includes symlinked files.
	FollowSymlinks bool

	// IncludeBinary disables binary detection.
	IncludeBinary bool
}

// Result is sent on the channel returned by Scan.
type Result struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the default maximum file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

var languageByExt = map[string]string{
	".go":    "go",
	".rs":    "rust",
	".py":    "python",
	".pyi":   "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "tsx",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".lua":   "lua",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".md":    "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
}

var languageByName = map[string]string{
	"Dockerfile": "dockerfile",
	"Makefile":   "makefile",
	"makefile":   "makefile",
}

// DetectLanguage detects the language of a file from its name.
func DetectLanguage(path string) string {
	base := filepath.Base(path)
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	return languageByExt[strings.ToLower(filepath.Ext(base))]
}
