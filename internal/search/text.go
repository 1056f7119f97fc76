package search

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/scanner"
)

const maxLineText = 500

// TextMatch is one matching line.
type TextMatch struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Text   string `json:"text"`
}

// Text finds lines matching pattern under root. A literal pattern is
// matched case-insensitively unless it contains an uppercase letter; a
// regex pattern is used as written. Results are ordered by path and line.
func (e *Engine) Text(ctx context.Context, root, pattern string, isRegex bool, limit int) ([]TextMatch, error) {
	code := errors.ErrCodeTextSearch
	if pattern == "" {
		return nil, errors.SearchError(code, "text", errEmptyPattern)
	}
	re, err := compilePattern(pattern, isRegex)
	if err != nil {
		return nil, errors.SearchError(code, "text", err)
	}

	matches, err := eachFile(ctx, e, root, func(_ context.Context, fi *scanner.FileInfo, content []byte) ([]TextMatch, error) {
		return grepContent(fi.Path, content, re), nil
	})
	if err != nil {
		return nil, errors.SearchError(code, "text", err)
	}
	sortByLocation(matches, func(m TextMatch) (string, int, int) { return m.Path, m.Line, m.Column })
	return truncate(matches, limit), nil
}

func compilePattern(pattern string, isRegex bool) (*regexp.Regexp, error) {
	if isRegex {
		return regexp.Compile(pattern)
	}
	expr := regexp.QuoteMeta(pattern)
	if !strings.ContainsFunc(pattern, unicode.IsUpper) {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

func grepContent(path string, content []byte, re *regexp.Regexp) []TextMatch {
	var out []TextMatch
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Bytes()
		loc := re.FindIndex(text)
		if loc == nil {
			continue
		}
		out = append(out, TextMatch{
			Path:   path,
			Line:   line,
			Column: loc[0] + 1,
			Text:   clip(string(text)),
		})
	}
	return out
}

// clip trims a line to at most maxLineText bytes without splitting a rune.
func clip(s string) string {
	s = strings.TrimRight(s, "\r")
	if len(s) <= maxLineText {
		return s
	}
	n := maxLineText
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
