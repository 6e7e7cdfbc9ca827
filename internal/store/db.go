package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math"
	"os"
	"time"

	sqlite "modernc.org/sqlite"
)

func init() {
	// vec_cosine_distance(a, b) computes 1 - cosine_similarity(a, b) over two
	// little-endian float32 BLOBs of equal length. Registered once at process
	// start so every connection opened through this driver can use it in SQL
	// (ORDER BY vec_cosine_distance(embedding, ?) ASC). Deterministic: same
	// inputs always produce the same output, so the query planner may cache
	// or reorder calls freely.
	err := sqlite.RegisterDeterministicScalarFunction("vec_cosine_distance", 2,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			a, ok := args[0].([]byte)
			if !ok {
				return nil, fmt.Errorf("vec_cosine_distance: arg 0 is not a BLOB")
			}
			b, ok := args[1].([]byte)
			if !ok {
				return nil, fmt.Errorf("vec_cosine_distance: arg 1 is not a BLOB")
			}
			return cosineDistance(a, b)
		})
	if err != nil {
		panic(fmt.Sprintf("store: registering vec_cosine_distance: %v", err))
	}
}

// cosineDistance returns 1 - cosine_similarity(a, b) for two equal-length
// little-endian float32 buffers. Returns an error if the lengths mismatch;
// if either vector has zero magnitude the distance is 1.
func cosineDistance(a, b []byte) (float64, error) {
	va, err := decodeFloat32s(a)
	if err != nil {
		return 0, err
	}
	vb, err := decodeFloat32s(b)
	if err != nil {
		return 0, err
	}
	if len(va) != len(vb) {
		return 0, fmt.Errorf("vec_cosine_distance: dimension mismatch %d != %d", len(va), len(vb))
	}

	var dot, magA, magB float64
	for i := range va {
		fa, fb := float64(va[i]), float64(vb[i])
		dot += fa * fb
		magA += fa * fa
		magB += fb * fb
	}
	if magA == 0 || magB == 0 {
		return 1, nil
	}
	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return 1 - sim, nil
}

// DB wraps a pooled connection to a single kb.db file with the schema and
// pragmas the rest of this package assumes are already in place.
type DB struct {
	*sql.DB
	path string
}

// Size returns the on-disk size of the database file in bytes, for
// query_storage_stats. Best-effort: returns 0 and the stat error if the
// file can't be statted (e.g. an in-memory DB in tests).
func (db *DB) Size() (int64, error) {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Open creates (if needed) and migrates the SQLite database at path, then
// returns a ready connection pool sized per poolSize and cacheMB.
func Open(ctx context.Context, path string, poolSize, cacheMB int) (*DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", path)
	if cacheMB > 0 {
		// Set through the DSN so every pooled connection gets the cache size.
		dsn += fmt.Sprintf("&_pragma=cache_size(-%d)", cacheMB*1024)
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(poolSize)
	sqlDB.SetMaxIdleConns(poolSize)
	sqlDB.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

const schemaVersion = 1

func (db *DB) migrate(ctx context.Context) error {
	var current int
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current)
	if err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}
	return tx.Commit()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS files (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		hash               TEXT NOT NULL UNIQUE,
		working_filename   TEXT NOT NULL,
		working_path       TEXT NOT NULL UNIQUE,
		file_size          INTEGER NOT NULL DEFAULT 0,
		original_file_type TEXT NOT NULL DEFAULT '',
		original_path      TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT 'pending',
		created_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_status ON files(status)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id    INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		doc_title  TEXT NOT NULL,
		chunk_text TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_doc_title ON chunks(doc_title)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		doc_title, chunk_text, content='chunks', content_rowid='id', tokenize='unicode61'
	)`,
	`CREATE TABLE IF NOT EXISTS vector_index (
		chunk_id  INTEGER PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		embedding BLOB NOT NULL
	)`,
	`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, doc_title, chunk_text) VALUES (new.id, new.doc_title, new.chunk_text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, doc_title, chunk_text) VALUES ('delete', old.id, old.doc_title, old.chunk_text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, doc_title, chunk_text) VALUES ('delete', old.id, old.doc_title, old.chunk_text);
		INSERT INTO chunks_fts(rowid, doc_title, chunk_text) VALUES (new.id, new.doc_title, new.chunk_text);
	END`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id           INTEGER REFERENCES files(id) ON DELETE SET NULL,
		original_filename TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'pending',
		progress          INTEGER NOT NULL DEFAULT 0,
		payload_kind      TEXT NOT NULL,
		payload           TEXT NOT NULL,
		result_chunk_id   INTEGER REFERENCES chunks(id) ON DELETE SET NULL,
		error_message     TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
}
