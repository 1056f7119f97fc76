package lsp

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Aman-CERP/codesearch/internal/config"
	"github.com/Aman-CERP/codesearch/internal/errors"
)

// Query fields served by the manager.
const (
	FieldCalls      = "calls"
	FieldCalledBy   = "calledby"
	FieldReferences = "references"
)

// Result kinds.
const (
	KindCall      = "call"
	KindCaller    = "caller"
	KindReference = "reference"
)

// Result is one location returned by a language server.
type Result struct {
	Path   string
	Line   int
	Column int
	Text   string
	Kind   string
	Score  float64
}

// DefaultServers are the built-in language server commands.
var DefaultServers = map[string]ServerConfig{
	"rust":       {Command: "rust-analyzer", Extensions: []string{".rs"}},
	"go":         {Command: "gopls", Extensions: []string{".go"}},
	"python":     {Command: "pyright-langserver", Args: []string{"--stdio"}, Extensions: []string{".py", ".pyi"}},
	"typescript": {Command: "typescript-language-server", Args: []string{"--stdio"}, Extensions: []string{".ts", ".tsx"}},
	"javascript": {Command: "typescript-language-server", Args: []string{"--stdio"}, Extensions: []string{".js", ".jsx", ".mjs", ".cjs"}},
	"java":       {Command: "jdtls", Extensions: []string{".java"}},
	"c":          {Command: "clangd", Extensions: []string{".c", ".h"}},
	"cpp":        {Command: "clangd", Extensions: []string{".cc", ".cpp", ".cxx", ".hpp", ".hh"}},
}

// Factory builds a backend for one language.
type Factory func(cfg ServerConfig, root string, logger *slog.Logger) Backend

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	DefaultLanguage string
	// Servers overrides or extends DefaultServers.
	Servers map[string]config.LSPServerConfig
	Factory Factory
	Logger  *slog.Logger
}

// Manager creates one client per language on first use and keeps it for
// the life of the process.
type Manager struct {
	root        string
	defaultLang string
	configs     map[string]ServerConfig
	byExt       map[string]string
	factory     Factory
	logger      *slog.Logger

	mu      sync.RWMutex
	clients map[string]Backend
}

// NewManager creates a manager for the workspace at root.
func NewManager(root string, opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Factory == nil {
		opts.Factory = func(cfg ServerConfig, root string, logger *slog.Logger) Backend {
			return NewClient(cfg, root, logger)
		}
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "rust"
	}

	m := &Manager{
		root:        root,
		defaultLang: opts.DefaultLanguage,
		configs:     make(map[string]ServerConfig, len(DefaultServers)),
		byExt:       make(map[string]string),
		factory:     opts.Factory,
		logger:      opts.Logger,
		clients:     make(map[string]Backend),
	}
	for lang, sc := range DefaultServers {
		sc.Language = lang
		m.configs[lang] = sc
	}
	for lang, sc := range opts.Servers {
		m.configs[lang] = ServerConfig{Language: lang, Command: sc.Command, Args: sc.Args, Extensions: sc.Extensions}
	}
	// Sorted so overlapping extensions resolve the same way every run.
	langs := make([]string, 0, len(m.configs))
	for lang := range m.configs {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		for _, ext := range m.configs[lang].Extensions {
			ext = strings.ToLower(ext)
			if _, taken := m.byExt[ext]; !taken {
				m.byExt[ext] = lang
			}
		}
	}
	return m
}

// Languages lists languages with a known server configuration.
func (m *Manager) Languages() []string {
	out := make([]string, 0, len(m.configs))
	for lang := range m.configs {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Client returns the cached client for language, creating it if the
// language has a configuration.
func (m *Manager) Client(language string) (Backend, error) {
	m.mu.RLock()
	c, ok := m.clients[language]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[language]; ok {
		return c, nil
	}
	cfg, ok := m.configs[language]
	if !ok {
		return nil, errors.ClientNotAvailable(language)
	}
	c = m.factory(cfg, m.root, m.logger)
	m.clients[language] = c
	m.logger.Debug("lsp client created", slog.String("language", language))
	return c, nil
}

// LanguageFor infers a language from a path's extension, falling back to
// the default language.
func (m *Manager) LanguageFor(path string) string {
	if lang, ok := m.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return m.defaultLang
}

// Search dispatches a calls, calledby or references query. value is either
// "path:line[:col]" or a name resolved through workspace symbols. The
// language comes from the extension of value's path part; names without a
// known extension use the default language.
func (m *Manager) Search(ctx context.Context, field, value string, limit int) ([]Result, error) {
	var kind string
	switch field {
	case FieldCalls:
		kind = KindCall
	case FieldCalledBy:
		kind = KindCaller
	case FieldReferences:
		kind = KindReference
	default:
		return nil, errors.RequestFailed("unsupported LSP field: "+field, nil).WithDetail("field", field)
	}

	path, line, col, positional := parseTarget(value)
	lang := m.LanguageFor(path)
	client, err := m.Client(lang)
	if err != nil {
		return nil, err
	}

	if !positional {
		loc, found, err := m.resolveSymbol(ctx, client, value)
		if err != nil {
			return nil, errors.RequestFailed("workspace/symbol", err)
		}
		if !found {
			return []Result{}, nil
		}
		path = uriToPath(loc.URI)
		line = loc.Range.Start.Line + 1
		col = loc.Range.Start.Character + 1
	}

	var results []Result
	switch field {
	case FieldCalls, FieldCalledBy:
		var sites []CallSite
		if field == FieldCalls {
			sites, err = client.FindCalls(ctx, path, line, col)
		} else {
			sites, err = client.FindCallers(ctx, path, line, col)
		}
		if err != nil {
			return nil, errors.RequestFailed(field, err)
		}
		for _, s := range sites {
			results = append(results, m.result(s.Location, s.Name, kind))
		}
	case FieldReferences:
		locs, err := client.FindReferences(ctx, path, line, col)
		if err != nil {
			return nil, errors.RequestFailed(field, err)
		}
		for _, loc := range locs {
			results = append(results, m.result(loc, "", kind))
		}
	}

	if results == nil {
		results = []Result{}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// resolveSymbol finds the best workspace symbol for name: an exact match
// first, then the first candidate the server ranked.
func (m *Manager) resolveSymbol(ctx context.Context, client Backend, name string) (Location, bool, error) {
	syms, err := client.WorkspaceSymbols(ctx, name)
	if err != nil {
		return Location{}, false, err
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Location, true, nil
		}
	}
	if len(syms) > 0 {
		return syms[0].Location, true, nil
	}
	return Location{}, false, nil
}

func (m *Manager) result(loc Location, text, kind string) Result {
	path := uriToPath(loc.URI)
	if rel, err := filepath.Rel(m.root, path); err == nil && !strings.HasPrefix(rel, "..") {
		path = filepath.ToSlash(rel)
	}
	return Result{
		Path:   path,
		Line:   loc.Range.Start.Line + 1,
		Column: loc.Range.Start.Character + 1,
		Text:   text,
		Kind:   kind,
		Score:  1.0,
	}
}

// Close shuts down every client that was started.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]Backend)
	m.mu.Unlock()

	var firstErr error
	for lang, c := range clients {
		if err := c.Close(); err != nil {
			m.logger.Warn("failed to close lsp client",
				slog.String("language", lang),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// parseTarget splits "path:line[:col]". A value without a numeric line is
// not positional.
func parseTarget(value string) (path string, line, col int, ok bool) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 {
		return value, 0, 0, false
	}
	last, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || last < 1 {
		return value, 0, 0, false
	}
	if len(parts) >= 3 {
		if l, err := strconv.Atoi(parts[len(parts)-2]); err == nil && l >= 1 {
			return strings.Join(parts[:len(parts)-2], ":"), l, last, true
		}
	}
	return strings.Join(parts[:len(parts)-1], ":"), last, 1, true
}
