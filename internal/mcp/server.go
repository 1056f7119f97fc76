package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/codesearch/internal/server"
	"github.com/Aman-CERP/codesearch/pkg/version"
)

// Caller sends one request to a codesearch server. *server.Client and
// *server.Server both implement it.
type Caller interface {
	Call(ctx context.Context, action string, params, out any) error
}

// Options configures a Server.
type Options struct {
	// Root is used when a tool call names no root.
	Root   string
	Logger *slog.Logger
}

// Server bridges MCP tool calls to a codesearch server.
type Server struct {
	mcp    *mcp.Server
	caller Caller
	root   string
	logger *slog.Logger
}

// ToolNames lists the registered tools in registration order.
var ToolNames = []string{"query", "search_text", "search_symbol", "search_path", "index_build", "index_stats"}

// NewServer creates an MCP server forwarding to caller.
func NewServer(caller Caller, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		caller: caller,
		root:   opts.Root,
		logger: logger,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "codesearch", Version: version.Version}, nil)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Run serves MCP over stdio until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", slog.String("transport", "stdio"), slog.String("root", s.root))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "query",
		Description: "Structured code search. Terms are field:value (text, regex, function, class, struct, enum, " +
			"trait, method, symbol, file, path, calls, calledby, references, semantic, fuzzy, syntax) combined " +
			"with AND, OR, NOT and parentheses. A bare word searches text.",
	}, s.handleQuery)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_text",
		Description: "Find lines containing a literal string or regular expression.",
	}, s.searchHandler(server.ActionSearchText))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_symbol",
		Description: "Find symbol definitions whose name contains the query.",
	}, s.searchHandler(server.ActionSearchSymbol))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_path",
		Description: "Find files whose path contains the query.",
	}, s.searchHandler(server.ActionSearchPath))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_build",
		Description: "Index a directory so symbol queries are served from memory and kept current.",
	}, s.handleIndexBuild)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_stats",
		Description: "Report the active index: file and symbol counts, size and whether it is watching.",
	}, s.handleIndexStats)
	s.logger.Debug("mcp tools registered", slog.Int("count", len(ToolNames)))
}

// wireMatch accepts every match shape the server returns.
type wireMatch struct {
	Path      string  `json:"path"`
	Line      int     `json:"line"`
	Column    int     `json:"column"`
	Text      string  `json:"text"`
	Name      string  `json:"name"`
	Signature string  `json:"signature"`
	Kind      string  `json:"kind"`
	Score     float64 `json:"score"`
}

func (m wireMatch) toMatch() Match {
	text := m.Text
	if text == "" {
		text = m.Signature
	}
	if text == "" {
		text = m.Name
	}
	return Match{Path: m.Path, Line: m.Line, Column: m.Column, Text: text, Kind: m.Kind, Score: m.Score}
}

func toOutput(ms []wireMatch) SearchOutput {
	out := SearchOutput{Matches: make([]Match, 0, len(ms))}
	for _, m := range ms {
		out.Matches = append(out.Matches, m.toMatch())
	}
	return out
}

func (s *Server) rootFor(root string) string {
	if root != "" {
		return root
	}
	return s.root
}

func (s *Server) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, SearchOutput, error) {
	if in.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	params := server.QueryParams{Root: s.rootFor(in.Root), Query: in.Query}
	if in.Limit > 0 {
		params.Limit = &in.Limit
	}
	if in.Offset > 0 {
		params.Offset = &in.Offset
	}
	var data struct {
		Matches []wireMatch `json:"matches"`
	}
	if err := s.caller.Call(ctx, server.ActionQuery, params, &data); err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	return nil, toOutput(data.Matches), nil
}

func (s *Server) searchHandler(action string) mcp.ToolHandlerFor[SearchInput, SearchOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
		if in.Query == "" {
			return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
		}
		root := s.rootFor(in.Root)
		var params any = server.SearchParams{Root: root, Query: in.Query, Limit: in.Limit}
		if action == server.ActionSearchText {
			params = server.SearchTextParams{Root: root, Pattern: in.Query, Regex: in.Regex, Limit: in.Limit}
		}
		var data struct {
			Matches []wireMatch `json:"matches"`
		}
		if err := s.caller.Call(ctx, action, params, &data); err != nil {
			return nil, SearchOutput{}, MapError(err)
		}
		return nil, toOutput(data.Matches), nil
	}
}

func (s *Server) handleIndexBuild(ctx context.Context, _ *mcp.CallToolRequest, in IndexBuildInput) (*mcp.CallToolResult, IndexBuildOutput, error) {
	var out IndexBuildOutput
	params := server.IndexBuildParams{Root: s.rootFor(in.Root), Watch: in.Watch}
	if err := s.caller.Call(ctx, server.ActionIndexBuild, params, &out); err != nil {
		return nil, IndexBuildOutput{}, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) handleIndexStats(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatsInput) (*mcp.CallToolResult, IndexStatsOutput, error) {
	var out IndexStatsOutput
	if err := s.caller.Call(ctx, server.ActionIndexStats, nil, &out); err != nil {
		return nil, IndexStatsOutput{}, MapError(err)
	}
	return nil, out, nil
}
