package mcp

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pieceproject/kbd/internal/queue"
	"github.com/pieceproject/kbd/internal/search"
	"github.com/pieceproject/kbd/internal/store"
)

// fakeEmbedder returns fixed-length zero vectors, enough to exercise the
// retriever's vector path without a real model.
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

func newTestServer(t *testing.T) (*Server, *store.FileRepo, *store.ChunkRepo, *store.TaskRepo) {
	t.Helper()
	dataPath := t.TempDir()
	db, err := store.Open(context.Background(), filepath.Join(dataPath, "kb.db"), 2, 4)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files := store.NewFileRepo(db)
	chunks := store.NewChunkRepo(db)
	tasks := store.NewTaskRepo(db)
	retriever := search.NewRetriever(files, chunks, fakeEmbedder{dim: 4}, nil)
	enqueuer := queue.NewEnqueuer(tasks)

	s := NewServer(Deps{
		Retriever: retriever,
		Files:     files,
		Chunks:    chunks,
		Tasks:     tasks,
		Enqueuer:  enqueuer,
		DB:        db,
		DataPath:  dataPath,
		Logger:    nil,
	})
	return s, files, chunks, tasks
}

func seedFileWithChunk(t *testing.T, ctx context.Context, files *store.FileRepo, chunks *store.ChunkRepo, filename, docTitle, text string) (int64, int64) {
	t.Helper()
	fileID, err := files.Create(ctx, &store.File{
		Hash:             filename,
		WorkingFilename:  filename,
		WorkingPath:      filepath.Join(t.TempDir(), filename),
		OriginalFileType: "md",
		Status:           store.FileStatusIndexed,
	})
	require.NoError(t, err)
	chunkID, err := chunks.Insert(ctx, &store.Chunk{
		FileID:    fileID,
		DocTitle:  docTitle,
		ChunkText: text,
		Embedding: store.EncodeEmbedding(make([]float32, 4)),
	})
	require.NoError(t, err)
	return fileID, chunkID
}

func TestResolveKeywordsHandler(t *testing.T) {
	s, files, chunks, _ := newTestServer(t)
	ctx := context.Background()
	seedFileWithChunk(t, ctx, files, chunks, "notes.md", "project notes", "some body text about onions")

	_, out, err := s.resolveKeywordsHandler(ctx, nil, ResolveKeywordsInput{Query: "onions"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Keywords)
}

func TestGetDocsHandlerRejectsEmpty(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	_, _, err := s.getDocsHandler(context.Background(), nil, GetDocsInput{})
	require.Error(t, err)
	mapped, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidParams, mapped.Code)
}

func TestGetDocsHandlerFetchesAndReportsNotFound(t *testing.T) {
	s, files, chunks, _ := newTestServer(t)
	ctx := context.Background()
	seedFileWithChunk(t, ctx, files, chunks, "doc.md", "alpha", "alpha body")

	_, out, err := s.getDocsHandler(ctx, nil, GetDocsInput{DocTitles: stringList{"alpha", "missing-title"}})
	require.NoError(t, err)
	assert.Contains(t, out.Documents, "alpha")
	assert.Equal(t, []string{"missing-title"}, out.NotFound)
}

func TestCreateAndRemoveFileHandlers(t *testing.T) {
	s, files, _, _ := newTestServer(t)
	ctx := context.Background()

	_, created, err := s.createFileHandler(ctx, nil, CreateFileInput{Name: "new-file"})
	require.NoError(t, err)
	require.True(t, created.Success)
	data := created.Data.(map[string]any)
	fileID := data["file_id"].(int64)

	f, err := files.GetByID(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, "new-file.md", f.WorkingFilename)
	assert.Equal(t, store.FileStatusEmpty, f.Status)

	_, removed, err := s.removeFileHandler(ctx, nil, RemoveFileInput{ID: fileID})
	require.NoError(t, err)
	assert.True(t, removed.Success)

	_, err = files.GetByID(ctx, fileID)
	assert.Error(t, err)
}

func TestCreateFileHandlerRejectsEmptyName(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	_, _, err := s.createFileHandler(context.Background(), nil, CreateFileInput{Name: "  "})
	require.Error(t, err)
}

func TestAddChunkAndModifyChunkContentHandlersEnqueueTasks(t *testing.T) {
	s, files, _, tasks := newTestServer(t)
	ctx := context.Background()
	fileID, err := files.Create(ctx, &store.File{
		Hash:            "h1",
		WorkingFilename: "f.md",
		WorkingPath:     filepath.Join(t.TempDir(), "f.md"),
		Status:          store.FileStatusEmpty,
	})
	require.NoError(t, err)

	_, out, err := s.addChunkHandler(ctx, nil, AddChunkInput{FileID: fileID, Title: "t", Text: "body"})
	require.NoError(t, err)
	require.True(t, out.Success)
	taskID := out.Data.(map[string]any)["task_id"].(int64)
	task, err := tasks.GetByID(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, store.PayloadChunkAdd, task.PayloadKind)

	_, out2, err := s.modifyChunkContentHandler(ctx, nil, ModifyChunkContentInput{ChunkID: 1, NewText: "new"})
	require.NoError(t, err)
	require.True(t, out2.Success)
}

func TestRemoveChunkHandlerDemotesBlankInAppFileToEmpty(t *testing.T) {
	s, files, chunks, _ := newTestServer(t)
	ctx := context.Background()
	fileID, chunkID := seedFileWithChunk(t, ctx, files, chunks, "one-chunk.md", "only", "text")

	_, out, err := s.removeChunkHandler(ctx, nil, RemoveChunkInput{ID: chunkID})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, false, out.Data.(map[string]any)["file_deleted"])

	f, err := files.GetByID(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, store.FileStatusEmpty, f.Status)
}

func TestRemoveChunkHandlerDeletesIngestOriginatedFile(t *testing.T) {
	s, files, chunks, _ := newTestServer(t)
	ctx := context.Background()
	workingPath := filepath.Join(t.TempDir(), "ingested.md")
	fileID, err := files.Create(ctx, &store.File{
		Hash:             "ingested-hash",
		WorkingFilename:  "ingested.md",
		WorkingPath:      workingPath,
		OriginalFileType: "pdf",
		OriginalPath:     filepath.Join(t.TempDir(), "ingested.pdf"),
		Status:           store.FileStatusIndexed,
	})
	require.NoError(t, err)
	chunkID, err := chunks.Insert(ctx, &store.Chunk{
		FileID:    fileID,
		DocTitle:  "only",
		ChunkText: "text",
		Embedding: store.EncodeEmbedding(make([]float32, 4)),
	})
	require.NoError(t, err)

	_, out, err := s.removeChunkHandler(ctx, nil, RemoveChunkInput{ID: chunkID})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, true, out.Data.(map[string]any)["file_deleted"])

	_, err = files.GetByID(ctx, fileID)
	assert.Error(t, err)
}

func TestBatchRemoveChunksHandlerTracksErrors(t *testing.T) {
	s, files, chunks, _ := newTestServer(t)
	ctx := context.Background()
	_, chunkID := seedFileWithChunk(t, ctx, files, chunks, "batch.md", "only", "text")

	_, out, err := s.batchRemoveChunksHandler(ctx, nil, BatchRemoveChunksInput{IDs: int64List{chunkID, 999999}})
	require.NoError(t, err)
	data := out.Data.(BatchRemoveChunksData)
	assert.Equal(t, []int64{chunkID}, data.Removed)
	assert.NotEmpty(t, data.Errors)
	assert.False(t, out.Success)
}

func TestCheckTaskStatusHandlerSurfacesResultOnlyWhenCompleted(t *testing.T) {
	s, files, _, tasks := newTestServer(t)
	ctx := context.Background()
	fileID, err := files.Create(ctx, &store.File{
		Hash: "h2", WorkingFilename: "g.md", WorkingPath: filepath.Join(t.TempDir(), "g.md"), Status: store.FileStatusEmpty,
	})
	require.NoError(t, err)
	taskID, err := tasks.Create(ctx, &store.Task{
		FileID:      &fileID,
		Status:      store.TaskStatusPending,
		PayloadKind: store.PayloadIngestFile,
		Payload:     []byte(`{"file_id":1}`),
	})
	require.NoError(t, err)

	_, out, err := s.checkTaskStatusHandler(ctx, nil, CheckTaskStatusInput{TaskID: taskID})
	require.NoError(t, err)
	assert.Nil(t, out.ResultChunkID)

	resultChunkID := int64(42)
	require.NoError(t, tasks.Complete(ctx, taskID, &resultChunkID))

	_, out2, err := s.checkTaskStatusHandler(ctx, nil, CheckTaskStatusInput{TaskID: taskID})
	require.NoError(t, err)
	require.NotNil(t, out2.ResultChunkID)
	assert.Equal(t, resultChunkID, *out2.ResultChunkID)
}

func TestQueryFilesHandlerFiltersByStatus(t *testing.T) {
	s, files, chunks, _ := newTestServer(t)
	ctx := context.Background()
	seedFileWithChunk(t, ctx, files, chunks, "indexed.md", "a", "body")
	_, err := files.Create(ctx, &store.File{
		Hash: "h3", WorkingFilename: "empty.md", WorkingPath: filepath.Join(t.TempDir(), "empty.md"), Status: store.FileStatusEmpty,
	})
	require.NoError(t, err)

	_, out, err := s.queryFilesHandler(ctx, nil, QueryFilesInput{Status: "empty"})
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	assert.Equal(t, "empty.md", out.Files[0].Filename)

	_, all, err := s.queryFilesHandler(ctx, nil, QueryFilesInput{})
	require.NoError(t, err)
	assert.Len(t, all.Files, 2)
}

func TestQueryFileInfoHandler(t *testing.T) {
	s, files, chunks, _ := newTestServer(t)
	ctx := context.Background()
	fileID, _ := seedFileWithChunk(t, ctx, files, chunks, "info.md", "a", "body")

	_, out, err := s.queryFileInfoHandler(ctx, nil, QueryFileInfoInput{ID: fileID})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ChunkCount)
}

func TestQueryChunkInfoHandler(t *testing.T) {
	s, files, chunks, _ := newTestServer(t)
	ctx := context.Background()
	_, chunkID := seedFileWithChunk(t, ctx, files, chunks, "chunk.md", "a", "body")

	_, out, err := s.queryChunkInfoHandler(ctx, nil, QueryChunkInfoInput{ID: chunkID})
	require.NoError(t, err)
	assert.True(t, out.HasEmbedding)
	assert.Equal(t, "body", out.ChunkText)
}

func TestQueryStorageStatsHandler(t *testing.T) {
	s, files, chunks, _ := newTestServer(t)
	ctx := context.Background()
	seedFileWithChunk(t, ctx, files, chunks, "stats.md", "a", "body")

	_, out, err := s.queryStorageStatsHandler(ctx, nil, QueryStorageStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.TotalFiles)
	assert.Equal(t, int64(1), out.TotalChunks)
}
