package embed

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var errClosed = errors.New("embedder is closed")

// StaticEmbedder hashes tokens and character trigrams into a fixed vector.
// It needs no model or network and is deterministic.
type StaticEmbedder struct {
	closed atomic.Bool
}

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.closed.Load() {
		return nil, errClosed
	}
	vec := make([]float32, StaticDimensions)
	text = strings.TrimSpace(text)
	if text == "" {
		return vec, nil
	}

	for _, tok := range TokenizeCode(text) {
		if IsStopWord(tok) {
			continue
		}
		vec[bucket(tok)] += tokenWeight
	}
	compact := compactLower(text)
	for i := 0; i+ngramSize <= len(compact); i++ {
		vec[bucket(compact[i:i+ngramSize])] += ngramWeight
	}
	return normalize(vec), nil
}

func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *StaticEmbedder) Dimensions() int   { return StaticDimensions }
func (e *StaticEmbedder) ModelName() string { return "static" }

func (e *StaticEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}

func bucket(s string) int {
	return int(xxhash.Sum64String(s) % StaticDimensions)
}

// compactLower keeps only lowercase letters and digits.
func compactLower(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
