// Package store implements C1 (the embedded SQLite store) and C2 (the
// typed Chunk/File/Task repositories) of the knowledge base.
//
// A single kb.db file holds three co-located indices: the relational
// tables, an FTS5 BM25 index driven by triggers on the chunks table, and a
// vector_index table searched via a registered cosine-distance scalar
// function. See Open for the schema and pragmas.
package store

import "time"

// FileStatus is the lifecycle state of a File row.
type FileStatus string

const (
	FileStatusPending FileStatus = "pending"
	FileStatusIndexed FileStatus = "indexed"
	FileStatusError   FileStatus = "error"
	FileStatusEmpty   FileStatus = "empty"
)

// TaskStatus is the lifecycle state of a Task row.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// PayloadKind discriminates the typed task payload (§9 redesign: replaces
// the original tag-stuffed-into-error_message scheme with a real column).
type PayloadKind string

const (
	PayloadIngestFile  PayloadKind = "ingest_file"
	PayloadChunkAdd    PayloadKind = "chunk_add"
	PayloadChunkUpdate PayloadKind = "chunk_update"
)

// File represents one user-owned document.
type File struct {
	ID               int64
	Hash             string
	WorkingFilename  string
	WorkingPath      string
	FileSize         int64
	OriginalFileType string // extension without dot; empty for in-app-created files
	OriginalPath     string
	Status           FileStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Chunk is a single retrieval unit belonging to a File.
type Chunk struct {
	ID        int64
	FileID    int64
	DocTitle  string
	ChunkText string
	Embedding []byte // little-endian float32, len == 4*vector_dim
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IngestFilePayload is the default task shape: ingest a whole file.
type IngestFilePayload struct {
	FileID int64 `json:"file_id"`
}

// ChunkAddPayload adds a single chunk to an existing file.
type ChunkAddPayload struct {
	FileID int64  `json:"file_id"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

// ChunkUpdatePayload replaces a chunk's text (and, downstream, its embedding).
type ChunkUpdatePayload struct {
	ChunkID int64  `json:"chunk_id"`
	Text    string `json:"text"`
}

// Task is a unit of asynchronous work processed by the queue (C5).
type Task struct {
	ID               int64
	FileID           *int64
	OriginalFilename string
	Status           TaskStatus
	Progress         int
	PayloadKind      PayloadKind
	Payload          []byte // JSON, shape depends on PayloadKind
	ResultChunkID    *int64
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
