package search

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/scanner"
)

// PathMatch is a file whose path matched, with its first line as preview.
type PathMatch struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// Paths finds files under root whose relative path contains query,
// ignoring case. A file whose content cannot be read gets an empty
// preview.
func (e *Engine) Paths(ctx context.Context, root, query string, limit int) ([]PathMatch, error) {
	q := strings.ToLower(query)
	var out []PathMatch
	err := e.scanner.Walk(ctx, e.scanOptions(root), func(fi *scanner.FileInfo) error {
		if !strings.Contains(strings.ToLower(fi.Path), q) {
			return nil
		}
		out = append(out, PathMatch{Path: fi.Path, Text: firstLine(fi.AbsPath)})
		return nil
	})
	if err != nil {
		return nil, errors.SearchError(errors.ErrCodePathSearch, "path", err)
	}
	sortByLocation(out, func(m PathMatch) (string, int, int) { return m.Path, 0, 0 })
	return truncate(out, limit), nil
}

func firstLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()
	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return clip(strings.TrimRight(line, "\n"))
}
