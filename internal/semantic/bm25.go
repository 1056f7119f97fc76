package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/Aman-CERP/codesearch/internal/embed"
)

const (
	codeTokenizerName = "codesearch_code"
	codeStopName      = "codesearch_stop"
	codeAnalyzerName  = "codesearch_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return codeTokenizer{}, nil
	})
	_ = registry.RegisterTokenFilter(codeStopName, func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
		return codeStopFilter{}, nil
	})
}

// codeTokenizer emits lowercase identifier parts with byte offsets.
type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	toks := embed.TokenizeCode(text)
	stream := make(analysis.TokenStream, 0, len(toks))
	offset := 0
	for i, tok := range toks {
		start := strings.Index(lower[offset:], tok)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := min(start+len(tok), len(text))
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return stream
}

type codeStopFilter struct{}

func (codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if !embed.IsStopWord(string(tok.Term)) {
			out = append(out, tok)
		}
	}
	return out
}

type bm25Doc struct {
	Content string `json:"content"`
}

// ranked is one hit from either ranking, best first.
type ranked struct {
	ID    string
	Score float64
}

// keywordIndex is an in-memory BM25 index over chunk contents.
type keywordIndex struct {
	idx bleve.Index
}

func newKeywordIndex(chunks []Chunk) (*keywordIndex, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     codeTokenizerName,
		"token_filters": []string{codeStopName},
	})
	if err != nil {
		return nil, fmt.Errorf("add analyzer: %w", err)
	}
	m.DefaultAnalyzer = codeAnalyzerName

	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}

	batch := idx.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, bm25Doc{Content: c.Content}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("commit keyword index: %w", err)
	}
	return &keywordIndex{idx: idx}, nil
}

func (k *keywordIndex) search(ctx context.Context, query string, limit int) ([]ranked, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := k.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]ranked, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, ranked{ID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

func (k *keywordIndex) close() error {
	return k.idx.Close()
}
