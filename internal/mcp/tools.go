package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	kberrors "github.com/pieceproject/kbd/internal/errors"
	"github.com/pieceproject/kbd/internal/reconcile"
	"github.com/pieceproject/kbd/internal/store"
)

const maxGetDocsTitles = 3

// stringList accepts either a JSON array of strings or a JSON-encoded
// string carrying one, per §4.8's "liberal in parsing list inputs" — some
// MCP clients serialize a Go []string field as a quoted JSON string rather
// than a native array.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	if strings.TrimSpace(encoded) == "" {
		*l = nil
		return nil
	}
	var inner []string
	if err := json.Unmarshal([]byte(encoded), &inner); err != nil {
		return err
	}
	*l = inner
	return nil
}

// int64List is stringList's counterpart for ID lists.
type int64List []int64

func (l *int64List) UnmarshalJSON(data []byte) error {
	var arr []int64
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	if strings.TrimSpace(encoded) == "" {
		*l = nil
		return nil
	}
	var inner []int64
	if err := json.Unmarshal([]byte(encoded), &inner); err != nil {
		return err
	}
	*l = inner
	return nil
}

// CRUDResult is the {success, message, data} envelope §6 keeps for CRUD
// tool convenience, distinct from the typed-error path every other tool
// failure takes.
type CRUDResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// registerTools wires every §4.8 tool into the SDK server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "resolve-keywords",
		Description: "Runs the hybrid title/BM25/vector retriever over the knowledge base and returns ranked document titles with fused confidence scores.",
	}, s.resolveKeywordsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get-docs",
		Description: "Fetches full chunk content for up to 3 document titles returned by resolve-keywords.",
	}, s.getDocsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_file",
		Description: "Creates a new, initially empty file entry in the knowledge base.",
	}, s.createFileHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remove_file",
		Description: "Deletes a file and all of its chunks.",
	}, s.removeFileHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_chunk",
		Description: "Enqueues a task to embed and append a new chunk to a file; returns a task_id to poll with check_task_status.",
	}, s.addChunkHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "modify_chunk_content",
		Description: "Enqueues a task to replace a chunk's text and re-embed it; returns a task_id to poll with check_task_status.",
	}, s.modifyChunkContentHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remove_chunk",
		Description: "Deletes a single chunk and rebuilds its file's working copy.",
	}, s.removeChunkHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "batch_remove_chunks",
		Description: "Deletes multiple chunks in one call, rebuilding each affected file's working copy once.",
	}, s.batchRemoveChunksHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "check_task_status",
		Description: "Reports a queued task's status, progress, and (once completed) its result_chunk_id.",
	}, s.checkTaskStatusHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_files",
		Description: "Lists files, optionally filtered by status.",
	}, s.queryFilesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_file_info",
		Description: "Returns metadata and chunk count for a single file.",
	}, s.queryFileInfoHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_chunk_info",
		Description: "Returns metadata for a single chunk.",
	}, s.queryChunkInfoHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_storage_stats",
		Description: "Returns aggregate counts and database file size.",
	}, s.queryStorageStatsHandler)
}

// -- resolve-keywords --------------------------------------------------

type ResolveKeywordsInput struct {
	Query      string     `json:"query" jsonschema:"the search query"`
	Filenames  stringList `json:"filenames,omitempty" jsonschema:"restrict results to files whose name contains any of these substrings"`
	MaxResults int        `json:"max_results,omitempty" jsonschema:"maximum number of results, default 20"`
}

type ResolveKeywordsOutput struct {
	Keywords         []string             `json:"keywords"`
	ConfidenceScores map[string]float64   `json:"confidence_scores"`
	Stats            ResolveKeywordsStats `json:"stats"`
}

type ResolveKeywordsStats struct {
	TotalCandidates int      `json:"total_candidates"`
	TitleMatches    []string `json:"title_matches"`
}

func (s *Server) resolveKeywordsHandler(ctx context.Context, _ *mcp.CallToolRequest, input ResolveKeywordsInput) (
	*mcp.CallToolResult, ResolveKeywordsOutput, error,
) {
	result, err := s.retriever.Resolve(ctx, input.Query, []string(input.Filenames), input.MaxResults)
	if err != nil {
		return nil, ResolveKeywordsOutput{}, MapError(err)
	}

	out := ResolveKeywordsOutput{
		Keywords:         make([]string, 0, len(result.Candidates)),
		ConfidenceScores: make(map[string]float64, len(result.Candidates)),
		Stats: ResolveKeywordsStats{
			TotalCandidates: len(result.Candidates),
			TitleMatches:    result.TitleHits,
		},
	}
	for _, c := range result.Candidates {
		out.Keywords = append(out.Keywords, c.DocTitle)
		out.ConfidenceScores[c.DocTitle] = c.Confidence
	}
	return nil, out, nil
}

// -- get-docs ------------------------------------------------------------

type GetDocsInput struct {
	DocTitles stringList `json:"doc_titles" jsonschema:"document titles to fetch, at most 3"`
}

type DocInfo struct {
	ChunkID           int64  `json:"chunk_id"`
	FileID            int64  `json:"file_id"`
	Filename          string `json:"filename"`
	DocTitle          string `json:"doc_title"`
	ChunkText         string `json:"chunk_text"`
	TotalChunksInFile int    `json:"total_chunks_in_file"`
	ChunkIndexInFile  int    `json:"chunk_index_in_file"`
}

type GetDocsOutput struct {
	Documents map[string]DocInfo `json:"documents"`
	NotFound  []string           `json:"not_found,omitempty"`
}

func (s *Server) getDocsHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetDocsInput) (
	*mcp.CallToolResult, GetDocsOutput, error,
) {
	titles := []string(input.DocTitles)
	if len(titles) > maxGetDocsTitles {
		titles = titles[:maxGetDocsTitles]
	}
	if len(titles) == 0 {
		return nil, GetDocsOutput{}, NewInvalidParamsError("doc_titles must contain at least one title")
	}

	rows, notFound, err := s.chunks.GetDocsByTitles(ctx, titles)
	if err != nil {
		return nil, GetDocsOutput{}, MapError(err)
	}

	out := GetDocsOutput{Documents: make(map[string]DocInfo, len(rows)), NotFound: notFound}
	for title, row := range rows {
		out.Documents[title] = DocInfo{
			ChunkID:           row.ChunkID,
			FileID:            row.FileID,
			Filename:          row.Filename,
			DocTitle:          row.DocTitle,
			ChunkText:         row.ChunkText,
			TotalChunksInFile: row.TotalChunksInFile,
			ChunkIndexInFile:  row.ChunkIndexInFile,
		}
	}
	return nil, out, nil
}

// -- create_file / remove_file --------------------------------------------

type CreateFileInput struct {
	Name string `json:"name" jsonschema:"the new file's working filename"`
}

func (s *Server) createFileHandler(ctx context.Context, _ *mcp.CallToolRequest, input CreateFileInput) (
	*mcp.CallToolResult, CRUDResult, error,
) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, CRUDResult{}, NewInvalidParamsError("name must not be empty")
	}
	if !strings.Contains(filepath.Base(name), ".") {
		name += ".md"
	}

	workingPath := filepath.Join(s.dataPath, "files", "working", name)
	if err := os.MkdirAll(filepath.Dir(workingPath), 0o755); err != nil {
		return nil, CRUDResult{}, MapError(kberrors.Storage("create working directory", err))
	}

	hash, err := randomHash()
	if err != nil {
		return nil, CRUDResult{}, MapError(kberrors.Storage("generate file hash", err))
	}

	fileID, err := s.files.Create(ctx, &store.File{
		Hash:            hash,
		WorkingFilename: name,
		WorkingPath:     workingPath,
		Status:          store.FileStatusEmpty,
	})
	if err != nil {
		return nil, CRUDResult{}, MapError(err)
	}

	if err := reconcile.Rebuild(ctx, s.chunks, fileID, workingPath); err != nil {
		return nil, CRUDResult{}, MapError(err)
	}

	return nil, CRUDResult{Success: true, Message: "file created", Data: map[string]any{"file_id": fileID}}, nil
}

type RemoveFileInput struct {
	ID int64 `json:"id"`
}

func (s *Server) removeFileHandler(ctx context.Context, _ *mcp.CallToolRequest, input RemoveFileInput) (
	*mcp.CallToolResult, CRUDResult, error,
) {
	f, err := s.files.GetByID(ctx, input.ID)
	if err != nil {
		return nil, CRUDResult{}, MapError(err)
	}
	if err := s.files.Delete(ctx, input.ID); err != nil {
		return nil, CRUDResult{}, MapError(err)
	}
	if f.WorkingPath != "" {
		_ = os.Remove(f.WorkingPath)
	}
	if f.OriginalPath != "" {
		_ = os.Remove(f.OriginalPath)
	}
	return nil, CRUDResult{Success: true, Message: "file removed"}, nil
}

// -- add_chunk / modify_chunk_content --------------------------------------

type AddChunkInput struct {
	FileID int64  `json:"file_id"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

func (s *Server) addChunkHandler(ctx context.Context, _ *mcp.CallToolRequest, input AddChunkInput) (
	*mcp.CallToolResult, CRUDResult, error,
) {
	taskID, err := s.enqueuer.EnqueueChunkAdd(ctx, input.FileID, input.Title, input.Text)
	if err != nil {
		return nil, CRUDResult{}, MapError(err)
	}
	return nil, CRUDResult{Success: true, Message: "chunk add queued", Data: map[string]any{"task_id": taskID}}, nil
}

type ModifyChunkContentInput struct {
	ChunkID int64  `json:"chunk_id"`
	NewText string `json:"new_text"`
}

func (s *Server) modifyChunkContentHandler(ctx context.Context, _ *mcp.CallToolRequest, input ModifyChunkContentInput) (
	*mcp.CallToolResult, CRUDResult, error,
) {
	taskID, err := s.enqueuer.EnqueueChunkUpdate(ctx, input.ChunkID, input.NewText)
	if err != nil {
		return nil, CRUDResult{}, MapError(err)
	}
	return nil, CRUDResult{Success: true, Message: "chunk update queued", Data: map[string]any{"task_id": taskID}}, nil
}

// -- remove_chunk / batch_remove_chunks ------------------------------------

type RemoveChunkInput struct {
	ID int64 `json:"id"`
}

func (s *Server) removeChunkHandler(ctx context.Context, _ *mcp.CallToolRequest, input RemoveChunkInput) (
	*mcp.CallToolResult, CRUDResult, error,
) {
	chunk, err := s.chunks.GetByID(ctx, input.ID)
	if err != nil {
		return nil, CRUDResult{}, MapError(err)
	}
	if err := s.chunks.Delete(ctx, input.ID); err != nil {
		return nil, CRUDResult{}, MapError(err)
	}
	fileDeleted, err := s.rebuildAndReconcileStatus(ctx, chunk.FileID)
	if err != nil {
		return nil, CRUDResult{}, MapError(err)
	}
	return nil, CRUDResult{
		Success: true,
		Message: "chunk removed",
		Data:    map[string]any{"file_deleted": fileDeleted},
	}, nil
}

type BatchRemoveChunksInput struct {
	IDs int64List `json:"ids"`
}

type BatchRemoveChunksData struct {
	Removed      []int64  `json:"removed"`
	FilesDeleted []int64  `json:"files_deleted,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

func (s *Server) batchRemoveChunksHandler(ctx context.Context, _ *mcp.CallToolRequest, input BatchRemoveChunksInput) (
	*mcp.CallToolResult, CRUDResult, error,
) {
	touched := make(map[int64]struct{})
	data := BatchRemoveChunksData{}

	for _, id := range input.IDs {
		chunk, err := s.chunks.GetByID(ctx, id)
		if err != nil {
			data.Errors = append(data.Errors, err.Error())
			continue
		}
		if err := s.chunks.Delete(ctx, id); err != nil {
			data.Errors = append(data.Errors, err.Error())
			continue
		}
		data.Removed = append(data.Removed, id)
		touched[chunk.FileID] = struct{}{}
	}

	for fileID := range touched {
		deleted, err := s.rebuildAndReconcileStatus(ctx, fileID)
		if err != nil {
			data.Errors = append(data.Errors, err.Error())
			continue
		}
		if deleted {
			data.FilesDeleted = append(data.FilesDeleted, fileID)
		}
	}

	return nil, CRUDResult{
		Success: len(data.Errors) == 0,
		Message: "batch chunk removal complete",
		Data:    data,
	}, nil
}

// rebuildAndReconcileStatus reconciles a file after a chunk mutation. If
// chunks remain, it just regenerates the working copy. If none remain, an
// ingest-originated file (non-empty OriginalPath) is deleted outright —
// deleting every chunk of an ingested file deletes the file — while a
// blank-in-app file (OriginalPath empty, created via create_file) is
// demoted to FileStatusEmpty instead, since it never had source material
// to ingest in the first place. Reports whether the file was deleted.
func (s *Server) rebuildAndReconcileStatus(ctx context.Context, fileID int64) (bool, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return false, err
	}
	remaining, err := s.chunks.ListByFileID(ctx, fileID)
	if err != nil {
		return false, err
	}

	if len(remaining) == 0 && f.OriginalPath != "" {
		if err := s.files.Delete(ctx, fileID); err != nil {
			return false, err
		}
		if f.WorkingPath != "" {
			_ = os.Remove(f.WorkingPath)
		}
		return true, nil
	}

	if err := reconcile.Rebuild(ctx, s.chunks, fileID, f.WorkingPath); err != nil {
		return false, err
	}
	if len(remaining) == 0 && f.Status != store.FileStatusEmpty {
		if err := s.files.UpdateStatus(ctx, fileID, store.FileStatusEmpty); err != nil {
			return false, err
		}
	}
	return false, nil
}

// -- check_task_status ------------------------------------------------------

type CheckTaskStatusInput struct {
	TaskID int64 `json:"task_id"`
}

type TaskStatusOutput struct {
	TaskID        int64  `json:"task_id"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	PayloadKind   string `json:"payload_kind"`
	ResultChunkID *int64 `json:"result_chunk_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func (s *Server) checkTaskStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, input CheckTaskStatusInput) (
	*mcp.CallToolResult, TaskStatusOutput, error,
) {
	t, err := s.tasks.GetByID(ctx, input.TaskID)
	if err != nil {
		return nil, TaskStatusOutput{}, MapError(err)
	}
	out := TaskStatusOutput{
		TaskID:       t.ID,
		Status:       string(t.Status),
		Progress:     t.Progress,
		PayloadKind:  string(t.PayloadKind),
		ErrorMessage: t.ErrorMessage,
	}
	if t.Status == store.TaskStatusCompleted {
		out.ResultChunkID = t.ResultChunkID
	}
	return nil, out, nil
}

// -- read-only query tools ---------------------------------------------

type QueryFilesInput struct {
	Status string `json:"status,omitempty" jsonschema:"filter by status: pending, indexed, error, empty"`
}

type FileSummary struct {
	ID               int64  `json:"id"`
	Filename         string `json:"filename"`
	Status           string `json:"status"`
	FileSize         int64  `json:"file_size"`
	OriginalFileType string `json:"original_file_type,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type QueryFilesOutput struct {
	Files []FileSummary `json:"files"`
}

func (s *Server) queryFilesHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryFilesInput) (
	*mcp.CallToolResult, QueryFilesOutput, error,
) {
	var list []*store.File
	var err error
	if input.Status != "" {
		list, err = s.files.ListByStatus(ctx, store.FileStatus(input.Status))
	} else {
		list, err = s.files.ListAll(ctx)
	}
	if err != nil {
		return nil, QueryFilesOutput{}, MapError(err)
	}

	out := QueryFilesOutput{Files: make([]FileSummary, 0, len(list))}
	for _, f := range list {
		out.Files = append(out.Files, toFileSummary(f))
	}
	return nil, out, nil
}

type QueryFileInfoInput struct {
	ID int64 `json:"id"`
}

type FileInfoOutput struct {
	File       FileSummary `json:"file"`
	ChunkCount int         `json:"chunk_count"`
}

func (s *Server) queryFileInfoHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryFileInfoInput) (
	*mcp.CallToolResult, FileInfoOutput, error,
) {
	f, err := s.files.GetByID(ctx, input.ID)
	if err != nil {
		return nil, FileInfoOutput{}, MapError(err)
	}
	chunks, err := s.chunks.ListByFileID(ctx, input.ID)
	if err != nil {
		return nil, FileInfoOutput{}, MapError(err)
	}
	return nil, FileInfoOutput{File: toFileSummary(f), ChunkCount: len(chunks)}, nil
}

type QueryChunkInfoInput struct {
	ID int64 `json:"id"`
}

type ChunkInfoOutput struct {
	ChunkID      int64  `json:"chunk_id"`
	FileID       int64  `json:"file_id"`
	DocTitle     string `json:"doc_title"`
	ChunkText    string `json:"chunk_text"`
	HasEmbedding bool   `json:"has_embedding"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func (s *Server) queryChunkInfoHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryChunkInfoInput) (
	*mcp.CallToolResult, ChunkInfoOutput, error,
) {
	c, err := s.chunks.GetByID(ctx, input.ID)
	if err != nil {
		return nil, ChunkInfoOutput{}, MapError(err)
	}
	return nil, ChunkInfoOutput{
		ChunkID:      c.ID,
		FileID:       c.FileID,
		DocTitle:     c.DocTitle,
		ChunkText:    c.ChunkText,
		HasEmbedding: len(c.Embedding) > 0,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
	}, nil
}

type QueryStorageStatsInput struct{}

type StorageStatsOutput struct {
	TotalFiles      int64 `json:"total_files"`
	TotalChunks     int64 `json:"total_chunks"`
	PendingTasks    int   `json:"pending_tasks"`
	ProcessingTasks int   `json:"processing_tasks"`
	FailedTasks     int   `json:"failed_tasks"`
	DBSizeBytes     int64 `json:"db_size_bytes"`
}

func (s *Server) queryStorageStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ QueryStorageStatsInput) (
	*mcp.CallToolResult, StorageStatsOutput, error,
) {
	totalFiles, err := s.files.Count(ctx)
	if err != nil {
		return nil, StorageStatsOutput{}, MapError(err)
	}
	totalChunks, err := s.chunks.Count(ctx)
	if err != nil {
		return nil, StorageStatsOutput{}, MapError(err)
	}
	pending, err := s.tasks.ListByStatus(ctx, store.TaskStatusPending)
	if err != nil {
		return nil, StorageStatsOutput{}, MapError(err)
	}
	processing, err := s.tasks.ListByStatus(ctx, store.TaskStatusProcessing)
	if err != nil {
		return nil, StorageStatsOutput{}, MapError(err)
	}
	failed, err := s.tasks.ListByStatus(ctx, store.TaskStatusFailed)
	if err != nil {
		return nil, StorageStatsOutput{}, MapError(err)
	}

	dbSize, _ := s.db.Size() // best-effort; 0 on error (e.g. in-memory test DB)

	return nil, StorageStatsOutput{
		TotalFiles:      totalFiles,
		TotalChunks:     totalChunks,
		PendingTasks:    len(pending),
		ProcessingTasks: len(processing),
		FailedTasks:     len(failed),
		DBSizeBytes:     dbSize,
	}, nil
}

func toFileSummary(f *store.File) FileSummary {
	return FileSummary{
		ID:               f.ID,
		Filename:         f.WorkingFilename,
		Status:           string(f.Status),
		FileSize:         f.FileSize,
		OriginalFileType: f.OriginalFileType,
		CreatedAt:        f.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        f.UpdatedAt.Format(time.RFC3339),
	}
}

func randomHash() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
