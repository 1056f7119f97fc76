// Package index maintains the in-memory symbol index for one source tree.
//
// The Store holds two concurrent maps: a file table keyed by path and a
// symbol-name index derived from it. Every mutation goes through a single
// reindex path that strips a file's old matches before inserting new ones,
// so the name index never refers to a file that is absent or superseded.
// Only the file table is persisted; Load replays it to rebuild the names.
package index

import (
	"github.com/Aman-CERP/codesearch/internal/symbols"
)

// IndexedSymbol is one definition inside an IndexedFile.
type IndexedSymbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Signature string `json:"signature,omitempty"`
}

// IndexedFile is the file table entry for one path.
type IndexedFile struct {
	Path         string          `json:"path"`
	ContentHash  string          `json:"content_hash"`
	LastModified int64           `json:"last_modified"` // unix seconds
	Size         int64           `json:"size"`
	Symbols      []IndexedSymbol `json:"symbols"`
}

// IndexMatch is a queryable projection of a symbol.
type IndexMatch struct {
	Path   string  `json:"path"`
	Line   int     `json:"line"`
	Column int     `json:"column"`
	Text   string  `json:"text"`
	Kind   string  `json:"kind"`
	Score  float64 `json:"score"`

	seq uint64 // insertion order, breaks score ties
}

// IndexStats is computed on demand from the file table.
type IndexStats struct {
	TotalFiles   int    `json:"total_files"`
	TotalSymbols int    `json:"total_symbols"`
	TotalSize    int64  `json:"total_size"`
	LastUpdated  int64  `json:"last_updated"`
	IndexPath    string `json:"index_path"`
}

// SymbolExtractor finds definitions in file content. Implementations pick
// the language from the path.
type SymbolExtractor interface {
	Extract(path string, content []byte) ([]symbols.Symbol, error)
}
