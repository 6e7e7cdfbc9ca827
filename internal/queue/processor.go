package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pieceproject/kbd/internal/chunk"
	"github.com/pieceproject/kbd/internal/embed"
	kberrors "github.com/pieceproject/kbd/internal/errors"
	"github.com/pieceproject/kbd/internal/reconcile"
	"github.com/pieceproject/kbd/internal/store"
)

const (
	embedBatchSize = 10
	writeBatchSize = 50

	pollInterval = 500 * time.Millisecond
)

// Progress values are contractual per §4.5 and observed by tests and
// polling clients; do not renumber without updating both.
const (
	progressStart     = 5
	progressConverted = 15
	progressChunked   = 30
	progressEmbedded  = 80
	progressWritten   = 85
	progressDone      = 100
)

// Processor pulls pending tasks from the store one at a time and runs them
// through the state machine in §4.5. It is a single cooperative worker:
// a task's stages, and the Embed stage's batches, run one after another
// on the worker goroutine, each embedding call paced by the embedder's
// own rate limiter.
//
// Grounded on internal/async/indexer.go's Start/Stop/Wait lifecycle,
// adapted from a one-shot background scan into a persistent poll loop
// over the tasks table.
type Processor struct {
	tasks     *store.TaskRepo
	files     *store.FileRepo
	chunks    *store.ChunkRepo
	embedder  embed.Embedder
	converter chunk.Converter
	logger    *slog.Logger

	chunkOpts chunk.Options

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
}

// Deps bundles Processor's collaborators.
type Deps struct {
	Tasks     *store.TaskRepo
	Files     *store.FileRepo
	Chunks    *store.ChunkRepo
	Embedder  embed.Embedder
	Converter chunk.Converter
	Logger    *slog.Logger
	ChunkOpts chunk.Options
}

// NewProcessor builds a Processor from deps.
func NewProcessor(deps Deps) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	converter := deps.Converter
	if converter == nil {
		converter = chunk.PassthroughConverter{}
	}
	return &Processor{
		tasks:     deps.Tasks,
		files:     deps.Files,
		chunks:    deps.Chunks,
		embedder:  deps.Embedder,
		converter: converter,
		logger:    logger,
		chunkOpts: deps.ChunkOpts,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the poll loop in a background goroutine. Non-blocking.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	close(p.stopCh)
	<-p.doneCh
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.doneCh)
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain processes pending tasks one at a time until the queue is empty.
func (p *Processor) drain(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.tasks.NextPending(ctx)
		if err != nil {
			p.logger.Error("claim next task failed", "error", err)
			return
		}
		if task == nil {
			return
		}
		p.runTask(ctx, task)
	}
}

// ProcessOne claims and runs a single task synchronously, for tests and
// for callers (e.g. a CLI "process now" command) that want to drive the
// queue without the poll loop.
func (p *Processor) ProcessOne(ctx context.Context) (*store.Task, error) {
	task, err := p.tasks.NextPending(ctx)
	if err != nil || task == nil {
		return task, err
	}
	p.runTask(ctx, task)
	return task, nil
}

func (p *Processor) runTask(ctx context.Context, task *store.Task) {
	var err error
	switch task.PayloadKind {
	case store.PayloadIngestFile:
		err = p.runIngest(ctx, task)
	case store.PayloadChunkAdd:
		err = p.runChunkAdd(ctx, task)
	case store.PayloadChunkUpdate:
		err = p.runChunkUpdate(ctx, task)
	default:
		err = kberrors.Fatal(fmt.Sprintf("unknown task payload_kind %q", task.PayloadKind), nil)
	}

	if err != nil {
		p.logger.Error("task failed", "task_id", task.ID, "kind", task.PayloadKind, "error", err)
		if failErr := p.tasks.Fail(ctx, task.ID, err.Error()); failErr != nil {
			p.logger.Error("failed to mark task failed", "task_id", task.ID, "error", failErr)
		}
	}
}

func (p *Processor) runIngest(ctx context.Context, task *store.Task) error {
	var payload store.IngestFilePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return kberrors.Fatal("parse ingest_file payload", err)
	}

	if err := p.tasks.UpdateProgress(ctx, task.ID, progressStart); err != nil {
		return err
	}

	file, err := p.files.GetByID(ctx, payload.FileID)
	if err != nil {
		return err
	}

	content, err := p.converter.Convert(ctx, file.OriginalPath, file.OriginalFileType)
	if err != nil {
		return p.failFile(ctx, file.ID, task.ID, err)
	}
	if err := p.tasks.UpdateProgress(ctx, task.ID, progressConverted); err != nil {
		return err
	}

	units, err := chunk.Document(chunk.Input{
		Content:   content,
		BaseName:  baseName(file.WorkingFilename),
		SourceExt: file.OriginalFileType,
	}, p.chunkOpts)
	if err != nil {
		return p.failFile(ctx, file.ID, task.ID, err)
	}
	if len(units) == 0 {
		return p.failFile(ctx, file.ID, task.ID, kberrors.Fatal("no valid chunks", nil))
	}
	if err := p.tasks.UpdateProgress(ctx, task.ID, progressChunked); err != nil {
		return err
	}

	embeddings, err := p.embedAll(ctx, task.ID, units)
	if err != nil {
		return p.failFile(ctx, file.ID, task.ID, err)
	}
	if err := p.tasks.UpdateProgress(ctx, task.ID, progressEmbedded); err != nil {
		return err
	}

	if err := p.tasks.UpdateProgress(ctx, task.ID, progressWritten); err != nil {
		return err
	}
	if err := p.writeChunks(ctx, task.ID, file.ID, units, embeddings); err != nil {
		return p.failFile(ctx, file.ID, task.ID, err)
	}

	if err := reconcile.Rebuild(ctx, p.chunks, file.ID, file.WorkingPath); err != nil {
		return p.failFile(ctx, file.ID, task.ID, err)
	}

	if err := p.files.UpdateStatus(ctx, file.ID, store.FileStatusIndexed); err != nil {
		return err
	}
	return p.tasks.Complete(ctx, task.ID, nil)
}

// embedAll embeds chunk texts in batches of embedBatchSize, reporting
// progress linearly across progressChunked..progressEmbedded.
func (p *Processor) embedAll(ctx context.Context, taskID int64, units []chunk.Unit) ([][]float32, error) {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.ChunkText
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)

		span := progressEmbedded - progressChunked
		progress := progressChunked + span*end/len(texts)
		if err := p.tasks.UpdateProgress(ctx, taskID, progress); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// writeChunks inserts chunks and their embeddings in batches of
// writeBatchSize, reporting progress after each batch. Each chunk Insert
// is its own transaction (chunk row plus vector_index row, I-C1); a batch
// is not one transaction, so on mid-write failure every chunk already
// inserted is kept, including those of the failing batch, per the decided
// no-compensation policy (§4.5, §9).
func (p *Processor) writeChunks(ctx context.Context, taskID, fileID int64, units []chunk.Unit, embeddings [][]float32) error {
	for start := 0; start < len(units); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(units) {
			end = len(units)
		}
		for i := start; i < end; i++ {
			c := &store.Chunk{
				FileID:    fileID,
				DocTitle:  units[i].DocTitle,
				ChunkText: units[i].ChunkText,
			}
			if i < len(embeddings) {
				c.Embedding = store.EncodeEmbedding(embeddings[i])
			}
			if _, err := p.chunks.Insert(ctx, c); err != nil {
				return err
			}
		}

		span := progressDone - progressWritten
		progress := progressWritten + span*end/len(units)
		if err := p.tasks.UpdateProgress(ctx, taskID, progress); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) failFile(ctx context.Context, fileID, taskID int64, cause error) error {
	if err := p.files.UpdateStatus(ctx, fileID, store.FileStatusError); err != nil {
		p.logger.Error("failed to mark file error", "file_id", fileID, "error", err)
	}
	return cause
}

func (p *Processor) runChunkAdd(ctx context.Context, task *store.Task) error {
	var payload store.ChunkAddPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return kberrors.Fatal("parse chunk_add payload", err)
	}
	if payload.Text == "" {
		return kberrors.Validation("chunk_add text must not be empty")
	}

	if err := p.tasks.UpdateProgress(ctx, task.ID, progressStart); err != nil {
		return err
	}

	vec, err := p.embedder.EmbedQuery(ctx, payload.Text)
	if err != nil {
		return err
	}

	chunkID, err := p.chunks.Insert(ctx, &store.Chunk{
		FileID:    payload.FileID,
		DocTitle:  payload.Title,
		ChunkText: payload.Text,
		Embedding: store.EncodeEmbedding(vec),
	})
	if err != nil {
		return err
	}

	file, err := p.files.GetByID(ctx, payload.FileID)
	if err != nil {
		return err
	}
	if err := reconcile.Rebuild(ctx, p.chunks, payload.FileID, file.WorkingPath); err != nil {
		return err
	}

	return p.tasks.Complete(ctx, task.ID, &chunkID)
}

func (p *Processor) runChunkUpdate(ctx context.Context, task *store.Task) error {
	var payload store.ChunkUpdatePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return kberrors.Fatal("parse chunk_update payload", err)
	}
	if payload.Text == "" {
		return kberrors.Validation("chunk_update text must not be empty")
	}

	if err := p.tasks.UpdateProgress(ctx, task.ID, progressStart); err != nil {
		return err
	}

	existing, err := p.chunks.GetByID(ctx, payload.ChunkID)
	if err != nil {
		return err
	}

	vec, err := p.embedder.EmbedQuery(ctx, payload.Text)
	if err != nil {
		return err
	}

	if err := p.chunks.UpdateText(ctx, payload.ChunkID, existing.DocTitle, payload.Text); err != nil {
		return err
	}
	if err := p.chunks.UpdateEmbedding(ctx, payload.ChunkID, store.EncodeEmbedding(vec)); err != nil {
		return err
	}

	file, err := p.files.GetByID(ctx, existing.FileID)
	if err != nil {
		return err
	}
	if err := reconcile.Rebuild(ctx, p.chunks, existing.FileID, file.WorkingPath); err != nil {
		return err
	}

	return p.tasks.Complete(ctx, task.ID, &payload.ChunkID)
}

func baseName(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[:i]
		}
	}
	return filename
}
