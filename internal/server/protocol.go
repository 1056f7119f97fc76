package server

import (
	"encoding/json"

	"github.com/Aman-CERP/codesearch/internal/errors"
)

// Actions understood by the server.
const (
	ActionSearchText     = "search_text"
	ActionSearchSyntax   = "search_syntax"
	ActionSearchSymbol   = "search_symbol"
	ActionSearchSemantic = "search_semantic"
	ActionSearchFuzzy    = "search_fuzzy"
	ActionSearchPath     = "search_path"
	ActionQuery          = "query"
	ActionIndexBuild     = "index_build"
	ActionIndexStats     = "index_stats"
	ActionIndexWatch     = "index_watch"
	ActionLSPDefinition  = "lsp_definition"
	ActionLSPReferences  = "lsp_references"
	ActionLSPSymbols     = "lsp_symbols"
	ActionPing           = "ping"
	ActionStatus         = "status"
)

// Command is one request line.
type Command struct {
	ID     string          `json:"id"`
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one reply line. Exactly one of Data and Error is non-null.
type Response struct {
	ID      string  `json:"id"`
	Success bool    `json:"success"`
	Data    any     `json:"data"`
	Error   *string `json:"error"`
	// Code is the error code when Success is false.
	Code string `json:"code,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, data any) Response {
	return Response{ID: id, Success: true, Data: data}
}

// NewErrorResponse creates a failed response from err. The code travels
// in Code, so Error carries only the message.
func NewErrorResponse(id string, err error) Response {
	msg := errors.Message(err)
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	return Response{ID: id, Error: &msg, Code: code}
}

// SearchTextParams are the params of search_text.
type SearchTextParams struct {
	Root    string `json:"root"`
	Pattern string `json:"pattern"`
	Regex   bool   `json:"regex,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// SearchSyntaxParams are the params of search_syntax.
type SearchSyntaxParams struct {
	Root     string `json:"root"`
	Query    string `json:"query"`
	Language string `json:"language,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SearchParams are the params of search_symbol, search_semantic,
// search_fuzzy and search_path.
type SearchParams struct {
	Root  string `json:"root"`
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// QueryParams are the params of query. Limit and Offset override any
// limit: or offset: terms in the query string.
type QueryParams struct {
	Root   string `json:"root"`
	Query  string `json:"query"`
	Limit  *int   `json:"limit,omitempty"`
	Offset *int   `json:"offset,omitempty"`
}

// IndexBuildParams are the params of index_build. Watch defaults to true.
type IndexBuildParams struct {
	Root  string `json:"root"`
	Watch *bool  `json:"watch,omitempty"`
}

// IndexWatchParams are the params of index_watch. Enabling requires an
// active index and fails with ERR_207_NO_ACTIVE_INDEX otherwise.
// index_build starts watching on its own, so index_watch mostly turns
// it off or back on.
type IndexWatchParams struct {
	Enable bool `json:"enable"`
}

// LSPParams are the params of the lsp_* actions.
type LSPParams struct {
	Root   string `json:"root,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Query  string `json:"query,omitempty"`
}

// MatchesData wraps search results.
type MatchesData struct {
	Matches any `json:"matches"`
}

// IndexBuildData is returned by index_build.
type IndexBuildData struct {
	IndexedFiles int   `json:"indexed_files"`
	DurationMS   int64 `json:"duration_ms"`
}

// IndexStatsData is returned by index_stats.
type IndexStatsData struct {
	TotalFiles   int    `json:"total_files"`
	TotalSymbols int    `json:"total_symbols"`
	TotalSize    int64  `json:"total_size"`
	LastUpdated  int64  `json:"last_updated"`
	Watching     bool   `json:"watching"`
	Root         string `json:"root,omitempty"`
	IndexPath    string `json:"index_path,omitempty"`
}

// IndexWatchData is returned by index_watch.
type IndexWatchData struct {
	Watching bool `json:"watching"`
}

// LSPLocationsData is returned by lsp_definition and lsp_references.
type LSPLocationsData struct {
	Locations []any `json:"locations"`
}

// LSPSymbolsData is returned by lsp_symbols.
type LSPSymbolsData struct {
	Symbols []any `json:"symbols"`
}

// PingData is returned by ping.
type PingData struct {
	Pong bool `json:"pong"`
}

// StatusData is returned by status.
type StatusData struct {
	Running     bool   `json:"running"`
	PID         int    `json:"pid"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Connections int64  `json:"connections"`
	Watching    bool   `json:"watching"`
	Root        string `json:"root,omitempty"`
}
