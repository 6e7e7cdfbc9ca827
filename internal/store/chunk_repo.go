package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	kberrors "github.com/pieceproject/kbd/internal/errors"
)

// ChunkRepo provides atomic access to the chunks table, the chunks_fts
// index it drives via triggers, and the vector_index table.
//
// I-C1: a chunk's relational row, its FTS5 entry, and its vector_index row
// are created, updated, and deleted together inside a single transaction.
// The FTS5 side is kept coherent by the chunks_ai/au/ad triggers installed
// in the schema; ChunkRepo only has to manage vector_index explicitly,
// since SQLite triggers cannot target a table outside the content table's
// own virtual-table machinery.
type ChunkRepo struct {
	db *DB
}

// NewChunkRepo returns a ChunkRepo bound to db.
func NewChunkRepo(db *DB) *ChunkRepo { return &ChunkRepo{db: db} }

// Insert writes a Chunk and its embedding atomically, returning the
// assigned chunk ID. embedding may be nil if the vector is not yet known
// (e.g. the embedding call failed and will be retried); in that case no
// vector_index row is written and the chunk is invisible to vector search
// until UpdateEmbedding is called.
func (r *ChunkRepo) Insert(ctx context.Context, c *Chunk) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kberrors.Storage("begin chunk insert", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (file_id, doc_title, chunk_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, c.FileID, c.DocTitle, c.ChunkText, now, now)
	if err != nil {
		return 0, kberrors.Storage("insert chunk", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, kberrors.Storage("chunk last insert id", err)
	}

	if len(c.Embedding) > 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO vector_index (chunk_id, embedding) VALUES (?, ?)`, id, c.Embedding); err != nil {
			return 0, kberrors.Storage("insert vector_index row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, kberrors.Storage("commit chunk insert", err)
	}
	return id, nil
}

// UpdateText replaces a chunk's text, refreshing its FTS entry via trigger.
// The caller is responsible for following up with UpdateEmbedding once a
// fresh vector has been computed for the new text.
func (r *ChunkRepo) UpdateText(ctx context.Context, id int64, docTitle, text string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chunks SET doc_title = ?, chunk_text = ?, updated_at = ? WHERE id = ?`,
		docTitle, text, time.Now().UTC(), id)
	if err != nil {
		return kberrors.Storage("update chunk text", err)
	}
	return requireRowsAffected(res, "chunk", id)
}

// UpdateEmbedding replaces (or inserts) a chunk's vector_index row.
func (r *ChunkRepo) UpdateEmbedding(ctx context.Context, id int64, embedding []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vector_index (chunk_id, embedding) VALUES (?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET embedding = excluded.embedding`, id, embedding)
	if err != nil {
		return kberrors.Storage("update chunk embedding", err)
	}
	return nil
}

// Delete removes a chunk row; its FTS entry (via trigger) and vector_index
// row (via ON DELETE CASCADE) are removed with it.
func (r *ChunkRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	if err != nil {
		return kberrors.Storage("delete chunk", err)
	}
	return requireRowsAffected(res, "chunk", id)
}

// DeleteByFileID removes all chunks belonging to a file; their FTS entries
// (via trigger) and vector_index rows (via ON DELETE CASCADE) go with them.
func (r *ChunkRepo) DeleteByFileID(ctx context.Context, fileID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return kberrors.Storage("delete chunks by file", err)
	}
	return nil
}

// GetByID fetches a chunk and its embedding, if present.
func (r *ChunkRepo) GetByID(ctx context.Context, id int64) (*Chunk, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT c.id, c.file_id, c.doc_title, c.chunk_text, v.embedding, c.created_at, c.updated_at
		FROM chunks c LEFT JOIN vector_index v ON v.chunk_id = c.id
		WHERE c.id = ?`, id)
	return scanChunk(row)
}

// ListByFileID returns all chunks for a file in insertion (id) order, the
// order the working-file reconciler (C6) regenerates Markdown in.
func (r *ChunkRepo) ListByFileID(ctx context.Context, fileID int64) ([]*Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.file_id, c.doc_title, c.chunk_text, v.embedding, c.created_at, c.updated_at
		FROM chunks c LEFT JOIN vector_index v ON v.chunk_id = c.id
		WHERE c.file_id = ? ORDER BY c.id ASC`, fileID)
	if err != nil {
		return nil, kberrors.Storage("list chunks by file", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchBM25 runs a full-text query against chunks_fts and returns chunk
// IDs ranked by BM25 score (best first), limited to limit rows.
func (r *ChunkRepo) SearchBM25(ctx context.Context, query string, limit int) ([]ScoredChunkID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rowid, bm25(chunks_fts) FROM chunks_fts WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts) ASC LIMIT ?`, query, limit)
	if err != nil {
		return nil, kberrors.Storage("bm25 search", err)
	}
	defer rows.Close()

	var out []ScoredChunkID
	for rows.Next() {
		var sc ScoredChunkID
		if err := rows.Scan(&sc.ChunkID, &sc.Score); err != nil {
			return nil, kberrors.Storage("scan bm25 row", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SearchVector ranks chunks by cosine distance to query, nearest first,
// limited to limit rows. query must be an EncodeEmbedding-encoded BLOB of
// the same dimension as the stored vectors.
func (r *ChunkRepo) SearchVector(ctx context.Context, query []byte, limit int) ([]ScoredChunkID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT chunk_id, vec_cosine_distance(embedding, ?) AS dist FROM vector_index
		ORDER BY dist ASC LIMIT ?`, query, limit)
	if err != nil {
		return nil, kberrors.Storage("vector search", err)
	}
	defer rows.Close()

	var out []ScoredChunkID
	for rows.Next() {
		var sc ScoredChunkID
		if err := rows.Scan(&sc.ChunkID, &sc.Score); err != nil {
			return nil, kberrors.Storage("scan vector row", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// TitledChunk pairs a chunk ID with its doc_title, the shape the hybrid
// retriever's three recall paths return — ranked by the caller's query,
// best first.
type TitledChunk struct {
	ChunkID  int64
	DocTitle string
}

// SearchTitleLike returns chunks whose doc_title contains every token
// (AND-matched via LIKE), ordered by id, optionally restricted to fileIDs.
func (r *ChunkRepo) SearchTitleLike(ctx context.Context, tokens []string, fileIDs []int64, limit int) ([]TitledChunk, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	sb.WriteString(`SELECT id, doc_title FROM chunks WHERE 1=1`)
	args := make([]any, 0, len(tokens)+len(fileIDs)+1)
	for _, tok := range tokens {
		sb.WriteString(` AND doc_title LIKE ?`)
		args = append(args, "%"+tok+"%")
	}
	appendFileScope(&sb, &args, fileIDs)
	sb.WriteString(` ORDER BY id ASC LIMIT ?`)
	args = append(args, limit)

	return queryTitledChunks(ctx, r.db, sb.String(), args)
}

// SearchTitleBM25 runs an AND-of-tokens BM25 query restricted to the
// doc_title column, used by the title recall path to top up matches when
// SearchTitleLike alone doesn't reach the path's limit.
func (r *ChunkRepo) SearchTitleBM25(ctx context.Context, tokens []string, fileIDs []int64, limit int) ([]TitledChunk, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	clauses := make([]string, len(tokens))
	for i, tok := range tokens {
		clauses[i] = "doc_title:" + escapeFTSToken(tok)
	}
	return r.searchFTS(ctx, strings.Join(clauses, " AND "), fileIDs, limit)
}

// SearchBodyBM25 runs an OR-of-tokens BM25 query restricted to the
// chunk_text column, the body recall path.
func (r *ChunkRepo) SearchBodyBM25(ctx context.Context, tokens []string, fileIDs []int64, limit int) ([]TitledChunk, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	clauses := make([]string, len(tokens))
	for i, tok := range tokens {
		clauses[i] = "chunk_text:" + escapeFTSToken(tok)
	}
	return r.searchFTS(ctx, strings.Join(clauses, " OR "), fileIDs, limit)
}

func (r *ChunkRepo) searchFTS(ctx context.Context, matchQuery string, fileIDs []int64, limit int) ([]TitledChunk, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT chunks_fts.rowid, chunks_fts.doc_title
		FROM chunks_fts
		JOIN chunks ON chunks.id = chunks_fts.rowid
		WHERE chunks_fts MATCH ?`)
	args := []any{matchQuery}
	appendFileScope(&sb, &args, fileIDs)
	sb.WriteString(` ORDER BY bm25(chunks_fts) ASC LIMIT ?`)
	args = append(args, limit)

	return queryTitledChunks(ctx, r.db, sb.String(), args)
}

// SearchVectorScoped ranks chunks by cosine distance to query, nearest
// first, optionally restricted to fileIDs.
func (r *ChunkRepo) SearchVectorScoped(ctx context.Context, query []byte, fileIDs []int64, limit int) ([]TitledChunk, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT chunks.id, chunks.doc_title, vec_cosine_distance(vector_index.embedding, ?) AS dist
		FROM vector_index
		JOIN chunks ON chunks.id = vector_index.chunk_id
		WHERE 1=1`)
	args := []any{query}
	appendFileScope(&sb, &args, fileIDs)
	sb.WriteString(` ORDER BY dist ASC LIMIT ?`)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, kberrors.Storage("vector search scoped", err)
	}
	defer rows.Close()

	var out []TitledChunk
	for rows.Next() {
		var tc TitledChunk
		var dist float64
		if err := rows.Scan(&tc.ChunkID, &tc.DocTitle, &dist); err != nil {
			return nil, kberrors.Storage("scan vector scoped row", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func queryTitledChunks(ctx context.Context, db *DB, query string, args []any) ([]TitledChunk, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kberrors.Storage("titled chunk search", err)
	}
	defer rows.Close()

	var out []TitledChunk
	for rows.Next() {
		var tc TitledChunk
		if err := rows.Scan(&tc.ChunkID, &tc.DocTitle); err != nil {
			return nil, kberrors.Storage("scan titled chunk row", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// appendFileScope appends an "AND file_id IN (...)" clause when fileIDs is
// non-empty, using placeholders to avoid building SQL from values.
func appendFileScope(sb *strings.Builder, args *[]any, fileIDs []int64) {
	if len(fileIDs) == 0 {
		return
	}
	sb.WriteString(` AND file_id IN (`)
	for i, id := range fileIDs {
		if i > 0 {
			sb.WriteString(`,`)
		}
		sb.WriteString(`?`)
		*args = append(*args, id)
	}
	sb.WriteString(`)`)
}

// escapeFTSToken quotes a token as an FTS5 phrase literal so tokenizer
// punctuation in the original text can't be misread as query syntax.
func escapeFTSToken(tok string) string {
	return `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
}

// Count returns the total number of chunks, for query_storage_stats.
func (r *ChunkRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, kberrors.Storage("count chunks", err)
	}
	return n, nil
}

// DocRow is one chunk joined with its file's name and its position among
// the file's other chunks, the shape get-docs returns per title.
type DocRow struct {
	ChunkID           int64
	FileID            int64
	Filename          string
	DocTitle          string
	ChunkText         string
	TotalChunksInFile int
	ChunkIndexInFile  int
}

// GetDocsByTitles fetches the chunk for each of the given doc_titles (at
// most one chunk per title; doc_title is not unique across files in
// principle, but the working convention is one title per chunk, so the
// first match wins), along with that chunk's position among its file's
// other chunks. Window functions compute both in one pass instead of a
// second per-row count query. Titles with no matching chunk are returned
// in notFound.
func (r *ChunkRepo) GetDocsByTitles(ctx context.Context, titles []string) (docs map[string]DocRow, notFound []string, err error) {
	docs = make(map[string]DocRow, len(titles))
	if len(titles) == 0 {
		return docs, nil, nil
	}

	placeholders := make([]string, len(titles))
	args := make([]any, len(titles))
	for i, t := range titles {
		placeholders[i] = "?"
		args[i] = t
	}

	query := `
		SELECT ranked.id, ranked.file_id, f.working_filename, ranked.doc_title, ranked.chunk_text,
		       ranked.total_chunks_in_file, ranked.chunk_index_in_file
		FROM (
			SELECT id, file_id, doc_title, chunk_text,
			       COUNT(*) OVER (PARTITION BY file_id) AS total_chunks_in_file,
			       ROW_NUMBER() OVER (PARTITION BY file_id ORDER BY id) AS chunk_index_in_file
			FROM chunks
		) ranked
		JOIN files f ON f.id = ranked.file_id
		WHERE ranked.doc_title IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, kberrors.Storage("get docs by titles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d DocRow
		if err := rows.Scan(&d.ChunkID, &d.FileID, &d.Filename, &d.DocTitle, &d.ChunkText,
			&d.TotalChunksInFile, &d.ChunkIndexInFile); err != nil {
			return nil, nil, kberrors.Storage("scan doc row", err)
		}
		if _, exists := docs[d.DocTitle]; !exists {
			docs[d.DocTitle] = d
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, kberrors.Storage("get docs by titles", err)
	}

	for _, t := range titles {
		if _, ok := docs[t]; !ok {
			notFound = append(notFound, t)
		}
	}
	return docs, notFound, nil
}

// ScoredChunkID is a chunk ID paired with a retrieval-path-specific score.
// For BM25 the score is the (lower-is-better) bm25() value; for vector
// search it is cosine distance (lower-is-better too).
type ScoredChunkID struct {
	ChunkID int64
	Score   float64
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var created, updated time.Time
	err := row.Scan(&c.ID, &c.FileID, &c.DocTitle, &c.ChunkText, &c.Embedding, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kberrors.NotFound("chunk not found")
		}
		return nil, kberrors.Storage("scan chunk", err)
	}
	c.CreatedAt = created
	c.UpdatedAt = updated
	return &c, nil
}
