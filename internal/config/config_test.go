package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"embedding":{"base_url":"http://localhost:1234/v1","vector_dim":768}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1234/v1", cfg.Embedding.BaseURL)
	assert.Equal(t, 768, cfg.Embedding.VectorDim)
	assert.Equal(t, 20, cfg.Embedding.RPM)
	assert.Equal(t, 60, cfg.Retrieval.KRRF)
	assert.Equal(t, 10, cfg.Store.PoolSize)
}

func TestLoadRejectsMissingBaseURL(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"embedding":{"vector_dim":768}}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"embedding":{"base_url":"http://a","vector_dim":8}}`)

	w, err := NewWatcher(path, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)

	reloaded := make(chan Config, 1)
	w.OnReload(func(c Config) { reloaded <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, dir, `{"embedding":{"base_url":"http://b","vector_dim":8}}`)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "http://b", cfg.Embedding.BaseURL)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
