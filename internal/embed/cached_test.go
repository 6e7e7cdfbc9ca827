package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	dims  int
}

func (c *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, c.dims)
	}
	return out, nil
}

func (c *countingEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	c.calls++
	return make([]float32, c.dims), nil
}

func (c *countingEmbedder) Dimensions() int { return c.dims }
func (c *countingEmbedder) Close() error    { return nil }

func TestCachedEmbedderCachesQueryResults(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	cached := NewCachedEmbedder(inner, "model-a", 10)

	_, err := cached.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	_, err = cached.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderOnlyFetchesMissesInBatch(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	cached := NewCachedEmbedder(inner, "model-a", 10)

	_, err := cached.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	vecs, err := cached.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Equal(t, 2, inner.calls, "second call should only embed the new text 'c'")
}

func TestCachedEmbedderKeyIncludesModel(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	a := NewCachedEmbedder(inner, "model-a", 10)
	b := NewCachedEmbedder(inner, "model-b", 10)

	_, err := a.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	_, err = b.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}
