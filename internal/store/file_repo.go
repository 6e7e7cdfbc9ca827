package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	kberrors "github.com/pieceproject/kbd/internal/errors"
)

// FileRepo provides typed CRUD access to the files table.
//
// Grounded on original_source/indexing/repositories/file_repository.py's
// allow-listed-field update pattern, translated into explicit Go methods
// rather than a generic "update(**fields)" call.
type FileRepo struct {
	db *DB
}

// NewFileRepo returns a FileRepo bound to db.
func NewFileRepo(db *DB) *FileRepo { return &FileRepo{db: db} }

// Create inserts a new File row and returns its assigned ID.
func (r *FileRepo) Create(ctx context.Context, f *File) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO files (hash, working_filename, working_path, file_size, original_file_type, original_path, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Hash, f.WorkingFilename, f.WorkingPath, f.FileSize, f.OriginalFileType, f.OriginalPath, string(f.Status), now, now)
	if err != nil {
		if isUniqueConstraint(err) {
			return 0, kberrors.Conflict("file with this hash or working path already exists").WithDetail("hash", f.Hash)
		}
		return 0, kberrors.Storage("insert file", err)
	}
	return res.LastInsertId()
}

// GetByID fetches a File by ID.
func (r *FileRepo) GetByID(ctx context.Context, id int64) (*File, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, hash, working_filename, working_path, file_size, original_file_type, original_path, status, created_at, updated_at
		FROM files WHERE id = ?`, id)
	return scanFile(row)
}

// GetByHash fetches a File by content hash, used for duplicate detection
// on ingest.
func (r *FileRepo) GetByHash(ctx context.Context, hash string) (*File, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, hash, working_filename, working_path, file_size, original_file_type, original_path, status, created_at, updated_at
		FROM files WHERE hash = ?`, hash)
	return scanFile(row)
}

// ListByStatus returns all files in the given status, oldest first.
func (r *FileRepo) ListByStatus(ctx context.Context, status FileStatus) ([]*File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hash, working_filename, working_path, file_size, original_file_type, original_path, status, created_at, updated_at
		FROM files WHERE status = ? ORDER BY id ASC`, string(status))
	if err != nil {
		return nil, kberrors.Storage("list files by status", err)
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateStatus sets a File's status, bumping updated_at.
func (r *FileRepo) UpdateStatus(ctx context.Context, id int64, status FileStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return kberrors.Storage("update file status", err)
	}
	return requireRowsAffected(res, "file", id)
}

// Delete removes a File row. Its chunks cascade via ON DELETE CASCADE.
func (r *FileRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return kberrors.Storage("delete file", err)
	}
	return requireRowsAffected(res, "file", id)
}

// ListAll returns every file, oldest first, for the read-only query_files tool.
func (r *FileRepo) ListAll(ctx context.Context) ([]*File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hash, working_filename, working_path, file_size, original_file_type, original_path, status, created_at, updated_at
		FROM files ORDER BY id ASC`)
	if err != nil {
		return nil, kberrors.Storage("list all files", err)
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Count returns the total number of files, for query_storage_stats.
func (r *FileRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, kberrors.Storage("count files", err)
	}
	return n, nil
}

// FindIDsByFilenameContains returns IDs of indexed files whose
// working_filename contains substr, used for scope resolution in hybrid
// retrieval.
func (r *FileRepo) FindIDsByFilenameContains(ctx context.Context, substr string) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM files WHERE working_filename LIKE ? AND status = ?`,
		"%"+substr+"%", string(FileStatusIndexed))
	if err != nil {
		return nil, kberrors.Storage("find files by filename", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, kberrors.Storage("scan file id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*File, error) {
	var f File
	var status string
	var created, updated time.Time
	err := row.Scan(&f.ID, &f.Hash, &f.WorkingFilename, &f.WorkingPath, &f.FileSize,
		&f.OriginalFileType, &f.OriginalPath, &status, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kberrors.NotFound("file not found")
		}
		return nil, kberrors.Storage("scan file", err)
	}
	f.Status = FileStatus(status)
	f.CreatedAt = created
	f.UpdatedAt = updated
	return &f, nil
}

func requireRowsAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return kberrors.Storage("rows affected", err)
	}
	if n == 0 {
		return kberrors.NotFound(what + " not found").WithDetail("id", strconv.FormatInt(id, 10))
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
