package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pieceproject/kbd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns a fixed-length zero vector, enough to exercise the
// vector recall path's plumbing without a real model.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, f.dim), nil
}

func (f fakeEmbedder) Dimensions() int { return f.dim }
func (f fakeEmbedder) Close() error    { return nil }

func newTestRetriever(t *testing.T) (*Retriever, *store.FileRepo, *store.ChunkRepo) {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "kb.db"), 2, 4)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files := store.NewFileRepo(db)
	chunks := store.NewChunkRepo(db)
	r := NewRetriever(files, chunks, fakeEmbedder{dim: 4}, nil)
	return r, files, chunks
}

func seedIndexedFile(t *testing.T, ctx context.Context, files *store.FileRepo, chunks *store.ChunkRepo, filename string, docTitle, text string) int64 {
	t.Helper()
	fileID, err := files.Create(ctx, &store.File{
		Hash:             filename + docTitle,
		WorkingFilename:  filename,
		WorkingPath:      "/tmp/" + filename,
		OriginalFileType: "md",
		OriginalPath:     "/tmp/" + filename,
		Status:           store.FileStatusIndexed,
	})
	require.NoError(t, err)
	_, err = chunks.Insert(ctx, &store.Chunk{
		FileID:    fileID,
		DocTitle:  docTitle,
		ChunkText: text,
		Embedding: store.EncodeEmbedding(make([]float32, 4)),
	})
	require.NoError(t, err)
	return fileID
}

func TestResolveReturnsEmptyOnEmptyCorpus(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	result, err := r.Resolve(context.Background(), "knowledge base", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestResolveRejectsQueryWithNoValidKeywords(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	_, err := r.Resolve(context.Background(), "a 的 !", nil, 0)
	require.Error(t, err)
}

func TestResolveFindsChunkByTitleMatch(t *testing.T) {
	r, files, chunks := newTestRetriever(t)
	ctx := context.Background()
	seedIndexedFile(t, ctx, files, chunks, "notes.md", "projectplan_Overview", "roadmap content")

	result, err := r.Resolve(ctx, "projectplan overview", nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Candidates)
	assert.Equal(t, "projectplan_Overview", result.Candidates[0].DocTitle)
	assert.Greater(t, result.Candidates[0].ExactRank, 0)
}

func TestResolveScopesToMatchingFilenameOnly(t *testing.T) {
	r, files, chunks := newTestRetriever(t)
	ctx := context.Background()
	seedIndexedFile(t, ctx, files, chunks, "alpha.md", "alpha_Doc", "shared keyword content")
	seedIndexedFile(t, ctx, files, chunks, "beta.md", "beta_Doc", "shared keyword content")

	result, err := r.Resolve(ctx, "shared keyword", []string{"alpha"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Candidates)
	for _, c := range result.Candidates {
		assert.Equal(t, "alpha_Doc", c.DocTitle)
	}
}

func TestResolveCapsMaxResultsAtFifty(t *testing.T) {
	r, files, chunks := newTestRetriever(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		filename := "doc" + string(rune('a'+i)) + ".md"
		docTitle := "doc_Section" + string(rune('A'+i))
		seedIndexedFile(t, ctx, files, chunks, filename, docTitle, "matching content body")
	}
	result, err := r.Resolve(ctx, "matching content", nil, 500)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Candidates), maxResultsCap)
}
