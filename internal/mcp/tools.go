package mcp

// QueryInput is the input of the query tool.
type QueryInput struct {
	Query  string `json:"query" jsonschema:"structured query, e.g. 'function:parse AND NOT path:test'"`
	Root   string `json:"root,omitempty" jsonschema:"directory to search, defaults to the server root"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
	Offset int    `json:"offset,omitempty" jsonschema:"results to skip"`
}

// SearchInput is the input of the search_text, search_symbol and
// search_path tools.
type SearchInput struct {
	Query string `json:"query" jsonschema:"text, pattern or name to search for"`
	Root  string `json:"root,omitempty" jsonschema:"directory to search, defaults to the server root"`
	Regex bool   `json:"regex,omitempty" jsonschema:"treat query as a regular expression (search_text only)"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// Match is one search hit.
type Match struct {
	Path   string  `json:"path" jsonschema:"file path relative to the root"`
	Line   int     `json:"line,omitempty" jsonschema:"1-based line"`
	Column int     `json:"column,omitempty" jsonschema:"1-based column"`
	Text   string  `json:"text,omitempty" jsonschema:"matched line, symbol or preview"`
	Kind   string  `json:"kind,omitempty" jsonschema:"result kind, e.g. function or text"`
	Score  float64 `json:"score,omitempty" jsonschema:"relevance score"`
}

// SearchOutput is the output of every search tool.
type SearchOutput struct {
	Matches []Match `json:"matches"`
}

// IndexBuildInput is the input of the index_build tool.
type IndexBuildInput struct {
	Root  string `json:"root,omitempty" jsonschema:"directory to index, defaults to the server root"`
	Watch *bool  `json:"watch,omitempty" jsonschema:"keep the index updated as files change, default true"`
}

// IndexBuildOutput is the output of the index_build tool.
type IndexBuildOutput struct {
	IndexedFiles int   `json:"indexed_files"`
	DurationMS   int64 `json:"duration_ms"`
}

// IndexStatsInput is the input of the index_stats tool.
type IndexStatsInput struct{}

// IndexStatsOutput is the output of the index_stats tool.
type IndexStatsOutput struct {
	TotalFiles   int    `json:"total_files"`
	TotalSymbols int    `json:"total_symbols"`
	TotalSize    int64  `json:"total_size"`
	LastUpdated  int64  `json:"last_updated"`
	Watching     bool   `json:"watching"`
	Root         string `json:"root,omitempty"`
}
