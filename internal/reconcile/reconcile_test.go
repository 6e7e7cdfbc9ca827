package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pieceproject/kbd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "kb.db"), 2, 4)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRebuildEmitsHeadingsByUnderscoreCount(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	files := store.NewFileRepo(db)
	chunks := store.NewChunkRepo(db)

	fileID, err := files.Create(ctx, &store.File{Hash: "h1", WorkingFilename: "a.md", WorkingPath: filepath.Join(t.TempDir(), "a.md"), Status: store.FileStatusIndexed})
	require.NoError(t, err)

	_, err = chunks.Insert(ctx, &store.Chunk{FileID: fileID, DocTitle: "doc_Intro", ChunkText: "intro text"})
	require.NoError(t, err)
	_, err = chunks.Insert(ctx, &store.Chunk{FileID: fileID, DocTitle: "doc_Intro_sub", ChunkText: "nested text"})
	require.NoError(t, err)
	_, err = chunks.Insert(ctx, &store.Chunk{FileID: fileID, DocTitle: "standalone", ChunkText: "loose text"})
	require.NoError(t, err)

	working := filepath.Join(t.TempDir(), "out.md")
	require.NoError(t, Rebuild(ctx, chunks, fileID, working))

	data, err := os.ReadFile(working)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "## Intro\nintro text")
	assert.Contains(t, content, "### sub\nnested text")
	assert.Contains(t, content, "## standalone\nloose text")
}

func TestRebuildPreservesChunkAlreadyStartingWithHeading(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	files := store.NewFileRepo(db)
	chunks := store.NewChunkRepo(db)

	fileID, err := files.Create(ctx, &store.File{Hash: "h2", WorkingFilename: "a.md", WorkingPath: filepath.Join(t.TempDir(), "a.md"), Status: store.FileStatusIndexed})
	require.NoError(t, err)

	_, err = chunks.Insert(ctx, &store.Chunk{FileID: fileID, DocTitle: "doc_X", ChunkText: "# Already Heading\nbody"})
	require.NoError(t, err)

	working := filepath.Join(t.TempDir(), "out.md")
	require.NoError(t, Rebuild(ctx, chunks, fileID, working))

	data, err := os.ReadFile(working)
	require.NoError(t, err)
	assert.Equal(t, "# Already Heading\nbody\n\n", string(data))
}

func TestRebuildTruncatesWhenNoChunksRemain(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	files := store.NewFileRepo(db)
	chunks := store.NewChunkRepo(db)

	fileID, err := files.Create(ctx, &store.File{Hash: "h3", WorkingFilename: "a.md", WorkingPath: filepath.Join(t.TempDir(), "a.md"), Status: store.FileStatusIndexed})
	require.NoError(t, err)

	working := filepath.Join(t.TempDir(), "out.md")
	require.NoError(t, os.WriteFile(working, []byte("stale content"), 0o644))

	require.NoError(t, Rebuild(ctx, chunks, fileID, working))

	data, err := os.ReadFile(working)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRebuildIsIdempotent(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	files := store.NewFileRepo(db)
	chunks := store.NewChunkRepo(db)

	fileID, err := files.Create(ctx, &store.File{Hash: "h4", WorkingFilename: "a.md", WorkingPath: filepath.Join(t.TempDir(), "a.md"), Status: store.FileStatusIndexed})
	require.NoError(t, err)
	_, err = chunks.Insert(ctx, &store.Chunk{FileID: fileID, DocTitle: "doc_A", ChunkText: "content"})
	require.NoError(t, err)

	working := filepath.Join(t.TempDir(), "out.md")
	require.NoError(t, Rebuild(ctx, chunks, fileID, working))
	first, err := os.ReadFile(working)
	require.NoError(t, err)

	require.NoError(t, Rebuild(ctx, chunks, fileID, working))
	second, err := os.ReadFile(working)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
