package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher holds compiled rules. Safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	self     string // glob matching the path itself
	under    string // glob matching anything below a matched directory
	negation bool
	dirOnly  bool
	base     string // slash-separated directory the rule is scoped to
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern adds a rule that applies from the root.
func (m *Matcher) AddPattern(pattern string) {
	m.AddPatternWithBase(pattern, "")
}

// AddPatternWithBase adds a rule that only applies below base, as for a
// .gitignore file found in that directory.
func (m *Matcher) AddPatternWithBase(pattern, base string) {
	r, ok := compile(pattern)
	if !ok {
		return
	}
	r.base = strings.Trim(filepath.ToSlash(base), "/")
	if r.base == "." {
		r.base = ""
	}

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFromFile reads every rule in a gitignore file.
func (m *Matcher) AddFromFile(file, base string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open gitignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.AddPatternWithBase(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read gitignore file: %w", err)
	}
	return nil
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether rel (relative to the root) is ignored. The last
// matching rule decides, so negations can re-include a path.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for i := range m.rules {
		if m.rules[i].matches(rel, isDir) {
			ignored = !m.rules[i].negation
		}
	}
	return ignored
}

func (r *rule) matches(rel string, isDir bool) bool {
	if r.base != "" {
		if !strings.HasPrefix(rel, r.base+"/") {
			return false
		}
		rel = strings.TrimPrefix(rel, r.base+"/")
	}

	if ok, _ := doublestar.Match(r.self, rel); ok && (!r.dirOnly || isDir) {
		return true
	}
	ok, _ := doublestar.Match(r.under, rel)
	return ok
}

// compile turns one gitignore line into a rule. Blank lines and comments
// yield ok=false.
func compile(line string) (rule, bool) {
	escapedSpace := strings.HasSuffix(line, `\ `)
	p := strings.TrimSpace(line)
	if p == "" || strings.HasPrefix(p, "#") {
		return rule{}, false
	}
	if escapedSpace && strings.HasSuffix(p, `\`) {
		p = strings.TrimSuffix(p, `\`) + `\ `
	}

	var r rule
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		r.negation = true
		p = p[1:]
	}

	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return rule{}, false
	}

	// A slash anywhere but the end anchors the pattern to the base.
	anchored := strings.Contains(p, "/")
	p = strings.TrimPrefix(p, "/")
	p = escapeBraces(p)
	if !anchored {
		p = "**/" + p
	}

	r.self = p
	r.under = path.Join(p, "**", "*")
	if strings.HasSuffix(p, "**") {
		r.under = p
	}
	return r, true
}

// escapeBraces quotes { and }, which doublestar treats as alternation but
// gitignore treats literally.
func escapeBraces(p string) string {
	if !strings.ContainsAny(p, "{}") {
		return p
	}
	var sb strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '\\' && i+1 < len(p) {
			sb.WriteByte(c)
			sb.WriteByte(p[i+1])
			i++
			continue
		}
		if c == '{' || c == '}' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
