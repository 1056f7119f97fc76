package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ServerConfig says how to launch a language server.
type ServerConfig struct {
	Language   string
	Command    string
	Args       []string
	Extensions []string
	// LanguageID is sent in didOpen; defaults to Language.
	LanguageID string
}

// Backend is the set of code-intelligence requests the manager needs.
// Lines and columns are 1-based.
type Backend interface {
	FindDefinition(ctx context.Context, path string, line, col int) ([]Location, error)
	FindReferences(ctx context.Context, path string, line, col int) ([]Location, error)
	FindCalls(ctx context.Context, path string, line, col int) ([]CallSite, error)
	FindCallers(ctx context.Context, path string, line, col int) ([]CallSite, error)
	DocumentSymbols(ctx context.Context, path string) ([]SymbolInfo, error)
	WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInfo, error)
	Close() error
}

// CallSite is one edge of the call graph.
type CallSite struct {
	Name     string
	Location Location
}

// SymbolInfo is a flattened document or workspace symbol.
type SymbolInfo struct {
	Name     string
	Kind     string
	Location Location
}

// Transport starts a language server and returns its stdio.
type Transport func(ctx context.Context) (io.ReadWriteCloser, error)

// Client wraps one language server scoped to a workspace root. The process
// is started on first use and lives until Close.
type Client struct {
	cfg       ServerConfig
	root      string
	transport Transport
	logger    *slog.Logger

	mu     sync.Mutex
	conn   *conn
	opened map[string]int // uri -> version
}

// NewClient creates a client that launches cfg.Command in root.
func NewClient(cfg ServerConfig, root string, logger *slog.Logger) *Client {
	return NewClientWithTransport(cfg, root, execTransport(cfg, root), logger)
}

// NewClientWithTransport creates a client over a custom transport.
func NewClientWithTransport(cfg ServerConfig, root string, t Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LanguageID == "" {
		cfg.LanguageID = cfg.Language
	}
	return &Client{cfg: cfg, root: root, transport: t, logger: logger, opened: make(map[string]int)}
}

type procRWC struct {
	io.Reader
	io.WriteCloser
	cmd *exec.Cmd
}

func (p *procRWC) Close() error {
	err := p.WriteCloser.Close()
	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-done
	}
	return err
}

func execTransport(cfg ServerConfig, root string) Transport {
	return func(_ context.Context) (io.ReadWriteCloser, error) {
		path, err := exec.LookPath(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("%s language server not installed: %w", cfg.Language, err)
		}
		// The process outlives the request that started it.
		cmd := exec.Command(path, cfg.Args...)
		cmd.Dir = root
		cmd.Stderr = io.Discard
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
		}
		return &procRWC{Reader: stdout, WriteCloser: stdin, cmd: cmd}, nil
	}
}

// ensure starts and initializes the server once.
func (c *Client) ensure(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	rwc, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	cn := newConn(rwc, c.logger)

	rootURI := pathToURI(c.root)
	params := map[string]any{
		"processId": os.Getpid(),
		"rootUri":   rootURI,
		"workspaceFolders": []map[string]string{
			{"uri": rootURI, "name": filepath.Base(c.root)},
		},
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"definition":     map[string]any{"linkSupport": true},
				"references":     map[string]any{},
				"documentSymbol": map[string]any{"hierarchicalDocumentSymbolSupport": true},
				"callHierarchy":  map[string]any{},
			},
			"workspace": map[string]any{"symbol": map[string]any{}, "workspaceFolders": true},
		},
	}
	if err := cn.call(ctx, "initialize", params, nil); err != nil {
		_ = cn.close()
		return nil, fmt.Errorf("initialize %s: %w", c.cfg.Language, err)
	}
	if err := cn.notify("initialized", map[string]any{}); err != nil {
		_ = cn.close()
		return nil, err
	}
	c.logger.Info("language server started",
		slog.String("language", c.cfg.Language),
		slog.String("command", c.cfg.Command))
	c.conn = cn
	return cn, nil
}

// open sends didOpen (or didChange if already open) with current contents.
func (c *Client) open(cn *conn, path string) (string, error) {
	abs := c.abs(path)
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	uri := pathToURI(abs)

	c.mu.Lock()
	version, seen := c.opened[uri]
	version++
	c.opened[uri] = version
	c.mu.Unlock()

	if !seen {
		return uri, cn.notify("textDocument/didOpen", map[string]any{
			"textDocument": textDocumentItem{URI: uri, LanguageID: c.cfg.LanguageID, Version: version, Text: string(content)},
		})
	}
	return uri, cn.notify("textDocument/didChange", map[string]any{
		"textDocument":   map[string]any{"uri": uri, "version": version},
		"contentChanges": []map[string]string{{"text": string(content)}},
	})
}

func (c *Client) position(ctx context.Context, path string, line, col int) (*conn, textDocumentPositionParams, error) {
	cn, err := c.ensure(ctx)
	if err != nil {
		return nil, textDocumentPositionParams{}, err
	}
	uri, err := c.open(cn, path)
	if err != nil {
		return nil, textDocumentPositionParams{}, err
	}
	return cn, textDocumentPositionParams{
		TextDocument: textDocumentIdentifier{URI: uri},
		Position:     Position{Line: max(line-1, 0), Character: max(col-1, 0)},
	}, nil
}

func (c *Client) FindDefinition(ctx context.Context, path string, line, col int) ([]Location, error) {
	cn, p, err := c.position(ctx, path, line, col)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := cn.call(ctx, "textDocument/definition", p, &raw); err != nil {
		return nil, err
	}
	return decodeLocations(raw)
}

func (c *Client) FindReferences(ctx context.Context, path string, line, col int) ([]Location, error) {
	cn, p, err := c.position(ctx, path, line, col)
	if err != nil {
		return nil, err
	}
	params := referenceParams{textDocumentPositionParams: p}
	params.Context.IncludeDeclaration = false
	var locs []Location
	if err := cn.call(ctx, "textDocument/references", params, &locs); err != nil {
		return nil, err
	}
	return locs, nil
}

func (c *Client) prepareCallHierarchy(ctx context.Context, path string, line, col int) (*conn, []callHierarchyItem, error) {
	cn, p, err := c.position(ctx, path, line, col)
	if err != nil {
		return nil, nil, err
	}
	var items []callHierarchyItem
	if err := cn.call(ctx, "textDocument/prepareCallHierarchy", p, &items); err != nil {
		return nil, nil, err
	}
	return cn, items, nil
}

// FindCalls returns the functions called from the function at the position.
func (c *Client) FindCalls(ctx context.Context, path string, line, col int) ([]CallSite, error) {
	cn, items, err := c.prepareCallHierarchy(ctx, path, line, col)
	if err != nil {
		return nil, err
	}
	var out []CallSite
	for _, item := range items {
		var calls []callHierarchyOutgoingCall
		if err := cn.call(ctx, "callHierarchy/outgoingCalls", map[string]any{"item": item}, &calls); err != nil {
			return nil, err
		}
		for _, call := range calls {
			out = append(out, CallSite{
				Name:     call.To.Name,
				Location: Location{URI: call.To.URI, Range: call.To.SelectionRange},
			})
		}
	}
	return out, nil
}

// FindCallers returns the functions that call the function at the position.
func (c *Client) FindCallers(ctx context.Context, path string, line, col int) ([]CallSite, error) {
	cn, items, err := c.prepareCallHierarchy(ctx, path, line, col)
	if err != nil {
		return nil, err
	}
	var out []CallSite
	for _, item := range items {
		var calls []callHierarchyIncomingCall
		if err := cn.call(ctx, "callHierarchy/incomingCalls", map[string]any{"item": item}, &calls); err != nil {
			return nil, err
		}
		for _, call := range calls {
			loc := Location{URI: call.From.URI, Range: call.From.SelectionRange}
			if len(call.FromRanges) > 0 {
				loc.Range = call.FromRanges[0]
			}
			out = append(out, CallSite{Name: call.From.Name, Location: loc})
		}
	}
	return out, nil
}

func (c *Client) DocumentSymbols(ctx context.Context, path string) ([]SymbolInfo, error) {
	cn, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	uri, err := c.open(cn, path)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	params := map[string]any{"textDocument": textDocumentIdentifier{URI: uri}}
	if err := cn.call(ctx, "textDocument/documentSymbol", params, &raw); err != nil {
		return nil, err
	}
	return decodeDocumentSymbols(uri, raw)
}

func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInfo, error) {
	cn, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	var syms []symbolInformation
	if err := cn.call(ctx, "workspace/symbol", map[string]string{"query": query}, &syms); err != nil {
		return nil, err
	}
	out := make([]SymbolInfo, 0, len(syms))
	for _, s := range syms {
		out = append(out, SymbolInfo{Name: s.Name, Kind: symbolKindName(s.Kind), Location: s.Location})
	}
	return out, nil
}

// Close shuts the server down politely, then closes the pipes.
func (c *Client) Close() error {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if cn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = cn.call(ctx, "shutdown", nil, nil)
	_ = cn.notify("exit", nil)
	return cn.close()
}

func (c *Client) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.root, filepath.FromSlash(path))
}

// decodeLocations accepts Location, []Location or []LocationLink.
func decodeLocations(raw json.RawMessage) ([]Location, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	if strings.HasPrefix(s, "{") {
		var loc Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, err
		}
		return []Location{loc}, nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]Location, 0, len(items))
	for _, item := range items {
		b, _ := json.Marshal(item)
		if _, isLink := item["targetUri"]; isLink {
			var l locationLink
			if err := json.Unmarshal(b, &l); err != nil {
				return nil, err
			}
			out = append(out, Location{URI: l.TargetURI, Range: l.TargetSelectionRange})
			continue
		}
		var loc Location
		if err := json.Unmarshal(b, &loc); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}

// decodeDocumentSymbols accepts the hierarchical and the flat form.
func decodeDocumentSymbols(uri string, raw json.RawMessage) ([]SymbolInfo, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	if len(probe) > 0 {
		if _, flat := probe[0]["location"]; flat {
			var infos []symbolInformation
			if err := json.Unmarshal(raw, &infos); err != nil {
				return nil, err
			}
			out := make([]SymbolInfo, 0, len(infos))
			for _, si := range infos {
				out = append(out, SymbolInfo{Name: si.Name, Kind: symbolKindName(si.Kind), Location: si.Location})
			}
			return out, nil
		}
	}
	var tree []documentSymbol
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	var out []SymbolInfo
	var walk func([]documentSymbol)
	walk = func(ds []documentSymbol) {
		for _, d := range ds {
			out = append(out, SymbolInfo{
				Name:     d.Name,
				Kind:     symbolKindName(d.Kind),
				Location: Location{URI: uri, Range: d.SelectionRange},
			})
			walk(d.Children)
		}
	}
	walk(tree)
	return out, nil
}

func pathToURI(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// uriToPath converts a file URI to a local path.
func uriToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	return filepath.FromSlash(u.Path)
}
