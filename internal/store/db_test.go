package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb.db")
	db, err := Open(context.Background(), path, 4, 8)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"files", "chunks", "chunks_fts", "vector_index", "tasks"} {
		var name string
		err := db.QueryRowContext(context.Background(),
			`SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "expected table %s to exist", table)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.db")

	db1, err := Open(context.Background(), path, 2, 4)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := Open(context.Background(), path, 2, 4)
	require.NoError(t, err)
	defer db2.Close()

	var version int
	require.NoError(t, db2.QueryRowContext(context.Background(), "PRAGMA user_version").Scan(&version))
	require.Equal(t, schemaVersion, version)
}

func TestVecCosineDistanceRegistered(t *testing.T) {
	db := openTestDB(t)

	a := EncodeEmbedding([]float32{1, 0, 0})
	b := EncodeEmbedding([]float32{1, 0, 0})
	c := EncodeEmbedding([]float32{0, 1, 0})

	var distSame, distOrtho float64
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT vec_cosine_distance(?, ?)", a, b).Scan(&distSame))
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT vec_cosine_distance(?, ?)", a, c).Scan(&distOrtho))

	require.InDelta(t, 0, distSame, 1e-6)
	require.InDelta(t, 1, distOrtho, 1e-6)
}

func TestEncodeDecodeEmbeddingRoundTrip(t *testing.T) {
	v := []float32{0.1, -0.2, 3.5, 0}
	decoded, err := DecodeEmbedding(EncodeEmbedding(v))
	require.NoError(t, err)
	require.Equal(t, v, decoded)
}
