package store

import (
	"context"
	"testing"

	kberrors "github.com/pieceproject/kbd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFile(t *testing.T, db *DB) int64 {
	t.Helper()
	id, err := NewFileRepo(db).Create(context.Background(), &File{
		Hash: "f-" + t.Name(), WorkingFilename: "a.md", WorkingPath: "/data/" + t.Name() + ".md", Status: FileStatusPending,
	})
	require.NoError(t, err)
	return id
}

func TestChunkRepoInsertWithEmbeddingIsSearchableBothWays(t *testing.T) {
	db := openTestDB(t)
	chunks := NewChunkRepo(db)
	ctx := context.Background()
	fileID := seedFile(t, db)

	emb := EncodeEmbedding([]float32{1, 0, 0})
	id, err := chunks.Insert(ctx, &Chunk{FileID: fileID, DocTitle: "intro", ChunkText: "the quick brown fox", Embedding: emb})
	require.NoError(t, err)

	bm25Hits, err := chunks.SearchBM25(ctx, "quick", 10)
	require.NoError(t, err)
	require.Len(t, bm25Hits, 1)
	assert.Equal(t, id, bm25Hits[0].ChunkID)

	vecHits, err := chunks.SearchVector(ctx, EncodeEmbedding([]float32{1, 0, 0}), 10)
	require.NoError(t, err)
	require.Len(t, vecHits, 1)
	assert.Equal(t, id, vecHits[0].ChunkID)
	assert.InDelta(t, 0, vecHits[0].Score, 1e-6)
}

func TestChunkRepoInsertWithoutEmbeddingSkipsVectorIndex(t *testing.T) {
	db := openTestDB(t)
	chunks := NewChunkRepo(db)
	ctx := context.Background()
	fileID := seedFile(t, db)

	id, err := chunks.Insert(ctx, &Chunk{FileID: fileID, DocTitle: "intro", ChunkText: "hello"})
	require.NoError(t, err)

	hits, err := chunks.SearchVector(ctx, EncodeEmbedding([]float32{1, 0, 0}), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	got, err := chunks.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)
}

func TestChunkRepoUpdateTextAndEmbedding(t *testing.T) {
	db := openTestDB(t)
	chunks := NewChunkRepo(db)
	ctx := context.Background()
	fileID := seedFile(t, db)

	id, err := chunks.Insert(ctx, &Chunk{FileID: fileID, DocTitle: "intro", ChunkText: "old text"})
	require.NoError(t, err)

	require.NoError(t, chunks.UpdateText(ctx, id, "intro", "new text"))
	require.NoError(t, chunks.UpdateEmbedding(ctx, id, EncodeEmbedding([]float32{0, 1, 0})))

	got, err := chunks.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new text", got.ChunkText)
	require.NotNil(t, got.Embedding)

	hits, err := chunks.SearchBM25(ctx, "new", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	stale, err := chunks.SearchBM25(ctx, "old", 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestChunkRepoDeleteRemovesFromBothIndices(t *testing.T) {
	db := openTestDB(t)
	chunks := NewChunkRepo(db)
	ctx := context.Background()
	fileID := seedFile(t, db)

	id, err := chunks.Insert(ctx, &Chunk{FileID: fileID, DocTitle: "intro", ChunkText: "searchable text", Embedding: EncodeEmbedding([]float32{1, 1, 0})})
	require.NoError(t, err)

	require.NoError(t, chunks.Delete(ctx, id))

	_, err = chunks.GetByID(ctx, id)
	assert.Equal(t, kberrors.KindNotFound, kberrors.KindOf(err))

	bm25Hits, err := chunks.SearchBM25(ctx, "searchable", 10)
	require.NoError(t, err)
	assert.Empty(t, bm25Hits)

	vecHits, err := chunks.SearchVector(ctx, EncodeEmbedding([]float32{1, 1, 0}), 10)
	require.NoError(t, err)
	assert.Empty(t, vecHits)
}

func TestChunkRepoListByFileIDOrdersByInsertion(t *testing.T) {
	db := openTestDB(t)
	chunks := NewChunkRepo(db)
	ctx := context.Background()
	fileID := seedFile(t, db)

	var ids []int64
	for _, text := range []string{"first", "second", "third"} {
		id, err := chunks.Insert(ctx, &Chunk{FileID: fileID, DocTitle: "doc", ChunkText: text})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := chunks.ListByFileID(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, c := range list {
		assert.Equal(t, ids[i], c.ID)
	}
}
