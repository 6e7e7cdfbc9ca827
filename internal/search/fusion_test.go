package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRanksCandidateInAllThreePathsHighest(t *testing.T) {
	exact := []pathHit{{docTitle: "alpha", chunkID: 1}, {docTitle: "beta", chunkID: 2}}
	bm25 := []pathHit{{docTitle: "alpha", chunkID: 1}, {docTitle: "gamma", chunkID: 3}}
	vector := []pathHit{{docTitle: "alpha", chunkID: 1}, {docTitle: "beta", chunkID: 2}}

	out := fuse(exact, bm25, vector, DefaultWeights(), DefaultRRFConstant)
	require.NotEmpty(t, out)
	assert.Equal(t, "alpha", out[0].DocTitle)
	assert.Equal(t, 1, out[0].ExactRank)
	assert.Equal(t, 1, out[0].BM25Rank)
	assert.Equal(t, 1, out[0].VectorRank)
}

func TestFuseRankOneEverywhereNormalizesToOne(t *testing.T) {
	exact := []pathHit{{docTitle: "alpha", chunkID: 1}}
	bm25 := []pathHit{{docTitle: "alpha", chunkID: 1}}
	vector := []pathHit{{docTitle: "alpha", chunkID: 1}}

	out := fuse(exact, bm25, vector, DefaultWeights(), DefaultRRFConstant)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].Confidence, 0.0001)
}

func TestFuseAbsentPathContributesZero(t *testing.T) {
	exact := []pathHit{{docTitle: "alpha", chunkID: 1}}
	out := fuse(exact, nil, nil, DefaultWeights(), DefaultRRFConstant)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].ExactRank)
	assert.Equal(t, 0, out[0].BM25Rank)
	assert.Equal(t, 0, out[0].VectorRank)
	assert.Less(t, out[0].Confidence, 1.0)
}

func TestFuseTiesBreakByChunkIDAscending(t *testing.T) {
	exact := []pathHit{{docTitle: "b", chunkID: 5}}
	bm25 := []pathHit{{docTitle: "a", chunkID: 2}}
	out := fuse(exact, bm25, nil, Weights{Exact: 1, BM25: 1, Vector: 0}, DefaultRRFConstant)
	require.Len(t, out, 2)
	// Each is rank 1 in one path with weight 1, so both score 1/(k+1):
	// a real tie, broken by the lower chunk ID.
	assert.Equal(t, "a", out[0].DocTitle)
	assert.Equal(t, "b", out[1].DocTitle)
}

func TestFuseEmptyInputsReturnsEmptySlice(t *testing.T) {
	out := fuse(nil, nil, nil, DefaultWeights(), DefaultRRFConstant)
	assert.Empty(t, out)
}
