// Package queue implements C5: a persistent FIFO task processor backed by
// the tasks table, running ingest, chunk-add, and chunk-update tasks one
// at a time through the contractual progress state machine in SPEC §4.5.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	kberrors "github.com/pieceproject/kbd/internal/errors"
	"github.com/pieceproject/kbd/internal/store"
)

// Enqueuer wraps store.TaskRepo.Create with typed payload construction, so
// callers never hand-marshal JSON themselves.
type Enqueuer struct {
	tasks *store.TaskRepo
}

// NewEnqueuer returns an Enqueuer bound to tasks.
func NewEnqueuer(tasks *store.TaskRepo) *Enqueuer { return &Enqueuer{tasks: tasks} }

// EnqueueIngestFile enqueues an ingest_file task for fileID.
func (e *Enqueuer) EnqueueIngestFile(ctx context.Context, fileID int64, originalFilename string) (int64, error) {
	payload, err := json.Marshal(store.IngestFilePayload{FileID: fileID})
	if err != nil {
		return 0, kberrors.Validation("marshal ingest_file payload")
	}
	return e.tasks.Create(ctx, &store.Task{
		FileID:           &fileID,
		OriginalFilename: originalFilename,
		PayloadKind:      store.PayloadIngestFile,
		Payload:          payload,
	})
}

// EnqueueChunkAdd enqueues a chunk_add task.
func (e *Enqueuer) EnqueueChunkAdd(ctx context.Context, fileID int64, title, text string) (int64, error) {
	if text == "" {
		return 0, kberrors.Validation("chunk_add text must not be empty")
	}
	payload, err := json.Marshal(store.ChunkAddPayload{FileID: fileID, Title: title, Text: text})
	if err != nil {
		return 0, kberrors.Validation("marshal chunk_add payload")
	}
	return e.tasks.Create(ctx, &store.Task{
		FileID:      &fileID,
		PayloadKind: store.PayloadChunkAdd,
		Payload:     payload,
	})
}

// EnqueueChunkUpdate enqueues a chunk_update task.
func (e *Enqueuer) EnqueueChunkUpdate(ctx context.Context, chunkID int64, text string) (int64, error) {
	if text == "" {
		return 0, kberrors.Validation("chunk_update text must not be empty")
	}
	payload, err := json.Marshal(store.ChunkUpdatePayload{ChunkID: chunkID, Text: text})
	if err != nil {
		return 0, kberrors.Validation("marshal chunk_update payload")
	}
	return e.tasks.Create(ctx, &store.Task{
		PayloadKind: store.PayloadChunkUpdate,
		Payload:     payload,
	})
}

// ResumeAtStartup fails every task left in "processing" from a previous
// run, per the decided startup-resumption policy (§4.5, §9).
func ResumeAtStartup(ctx context.Context, tasks *store.TaskRepo, logger *slog.Logger) error {
	n, err := tasks.FailStuckProcessing(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Warn("failed stuck processing tasks on startup", "count", n)
	}
	return nil
}
