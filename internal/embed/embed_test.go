package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestStaticEmbedder_UnitLengthAndDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "parse the configuration file")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "parse the configuration file")
	require.NoError(t, err)

	assert.Len(t, a, StaticDimensions)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, math.Sqrt(cosine(a, a)), 1e-5)
}

func TestStaticEmbedder_SimilarTextIsCloser(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	q, _ := e.Embed(ctx, "load config")
	near, _ := e.Embed(ctx, "func loadConfig(path string) (*Config, error)")
	far, _ := e.Embed(ctx, "render the progress bar widget")

	assert.Greater(t, cosine(q, near), cosine(q, far))
}

func TestStaticEmbedder_EmptyAndClosed(t *testing.T) {
	e := NewStaticEmbedder()
	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, v, StaticDimensions)

	require.NoError(t, e.Close())
	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestTokenizeCode(t *testing.T) {
	assert.Equal(t, []string{"parse", "http", "request", "index", "file"},
		TokenizeCode("parseHTTPRequest(index_file)"))
	assert.Empty(t, TokenizeCode("a b c"))
}

type countingEmbedder struct {
	*StaticEmbedder
	calls int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls += len(texts)
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_BatchEmbedsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := c.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	out, err := c.EmbedBatch(ctx, []string{"alpha", "gamma", "beta"})
	require.NoError(t, err)

	assert.Equal(t, 3, inner.calls)
	assert.Len(t, out, 3)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, "static", c.ModelName())
}
