package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	kberrors "github.com/pieceproject/kbd/internal/errors"
)

// TaskRepo provides typed CRUD access to the tasks table.
//
// Grounded on original_source/indexing/repositories/task_repository.py and
// task_service.py. The original has no startup-resumption logic for tasks
// stuck in "processing"; FailStuckProcessing implements the decided policy
// (fail them) rather than inventing a resume path the original never had.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo returns a TaskRepo bound to db.
func NewTaskRepo(db *DB) *TaskRepo { return &TaskRepo{db: db} }

// Create enqueues a new task in pending status.
func (r *TaskRepo) Create(ctx context.Context, t *Task) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (file_id, original_filename, status, progress, payload_kind, payload, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, ?, ?, ?, ?)`,
		t.FileID, t.OriginalFilename, string(t.PayloadKind), t.Payload, now, now)
	if err != nil {
		return 0, kberrors.Storage("insert task", err)
	}
	return res.LastInsertId()
}

// GetByID fetches a task by ID.
func (r *TaskRepo) GetByID(ctx context.Context, id int64) (*Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, file_id, original_filename, status, progress, payload_kind, payload, result_chunk_id, error_message, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// NextPending claims the oldest pending task and marks it processing,
// atomically, so concurrent queue workers never claim the same task
// twice. Returns (nil, nil) if no task is pending.
func (r *TaskRepo) NextPending(ctx context.Context) (*Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kberrors.Storage("begin claim task", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, file_id, original_filename, status, progress, payload_kind, payload, result_chunk_id, error_message, created_at, updated_at
		FROM tasks WHERE status = 'pending' ORDER BY id ASC LIMIT 1`)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || kberrors.KindOf(err) == kberrors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'processing', updated_at = ? WHERE id = ?`, now, task.ID); err != nil {
		return nil, kberrors.Storage("claim task", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, kberrors.Storage("commit claim task", err)
	}
	task.Status = TaskStatusProcessing
	return task, nil
}

// UpdateProgress sets a processing task's progress percentage (0-100).
func (r *TaskRepo) UpdateProgress(ctx context.Context, id int64, progress int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, time.Now().UTC(), id)
	if err != nil {
		return kberrors.Storage("update task progress", err)
	}
	return requireRowsAffected(res, "task", id)
}

// Complete marks a task completed, recording the resulting chunk ID when
// the task produced exactly one (chunk_add/chunk_update); nil otherwise.
func (r *TaskRepo) Complete(ctx context.Context, id int64, resultChunkID *int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', progress = 100, result_chunk_id = ?, updated_at = ? WHERE id = ?`,
		resultChunkID, time.Now().UTC(), id)
	if err != nil {
		return kberrors.Storage("complete task", err)
	}
	return requireRowsAffected(res, "task", id)
}

// Fail marks a task failed with the given message.
func (r *TaskRepo) Fail(ctx context.Context, id int64, message string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', error_message = ?, updated_at = ? WHERE id = ?`,
		message, time.Now().UTC(), id)
	if err != nil {
		return kberrors.Storage("fail task", err)
	}
	return requireRowsAffected(res, "task", id)
}

// FailStuckProcessing marks every task still in "processing" as failed with
// an "interrupted by restart" message. Called once at startup: the original
// Python service has no logic to resume a task left processing across a
// restart, so neither does this one — failing and letting the caller
// re-enqueue is simpler and matches the original's observed behavior.
func (r *TaskRepo) FailStuckProcessing(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', error_message = 'interrupted by restart', updated_at = ?
		WHERE status = 'processing'`, time.Now().UTC())
	if err != nil {
		return 0, kberrors.Storage("fail stuck tasks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, kberrors.Storage("rows affected", err)
	}
	return int(n), nil
}

// ListByStatus returns tasks in the given status, oldest first.
func (r *TaskRepo) ListByStatus(ctx context.Context, status TaskStatus) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_id, original_filename, status, progress, payload_kind, payload, result_chunk_id, error_message, created_at, updated_at
		FROM tasks WHERE status = ? ORDER BY id ASC`, string(status))
	if err != nil {
		return nil, kberrors.Storage("list tasks by status", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var status, kind string
	var fileID, resultChunkID sql.NullInt64
	var created, updated time.Time
	err := row.Scan(&t.ID, &fileID, &t.OriginalFilename, &status, &t.Progress, &kind, &t.Payload,
		&resultChunkID, &t.ErrorMessage, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kberrors.NotFound("task not found")
		}
		return nil, kberrors.Storage("scan task", err)
	}
	if fileID.Valid {
		t.FileID = &fileID.Int64
	}
	if resultChunkID.Valid {
		t.ResultChunkID = &resultChunkID.Int64
	}
	t.Status = TaskStatus(status)
	t.PayloadKind = PayloadKind(kind)
	t.CreatedAt = created
	t.UpdatedAt = updated
	return &t, nil
}
