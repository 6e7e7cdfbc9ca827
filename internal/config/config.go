// Package config loads and hot-reloads kbd's JSON configuration.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Config is the top-level settings document read from config.json.
type Config struct {
	DataPath  string          `json:"data_path"`
	Embedding EmbeddingConfig `json:"embedding"`
	MCP       MCPConfig       `json:"mcp"`
	Store     StoreConfig     `json:"store"`
	Retrieval RetrievalConfig `json:"retrieval"`
	WebDAV    json.RawMessage `json:"webdav,omitempty"`
}

// EmbeddingConfig configures the remote OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	VectorDim int    `json:"vector_dim"`
	MaxTokens int    `json:"max_tokens"`
	RPM       int    `json:"rpm"`
}

// MCPConfig configures the MCP tool surface's HTTP transport.
type MCPConfig struct {
	Port        int    `json:"port"`
	APIKey      string `json:"api_key"`
	AuthEnabled bool   `json:"auth_enabled"`
}

// StoreConfig configures the embedded SQLite store's connection pool.
type StoreConfig struct {
	PoolSize int `json:"pool_size"`
	CacheMB  int `json:"cache_mb"`
}

// RetrievalConfig configures the hybrid retriever's fusion weights.
type RetrievalConfig struct {
	WExact  float64 `json:"w_exact"`
	WBM25   float64 `json:"w_bm25"`
	WVector float64 `json:"w_vector"`
	KRRF    int     `json:"k_rrf"`
	PathK   int     `json:"path_k"`
	FinalK  int     `json:"final_k"`
}

// Default returns a Config with every documented default filled in, for
// fields the user's config.json is allowed to omit.
func Default() Config {
	return Config{
		DataPath: "./data",
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			VectorDim: 1536,
			MaxTokens: 8192,
			RPM:       20,
		},
		MCP: MCPConfig{
			Port:        8420,
			AuthEnabled: false,
		},
		Store: StoreConfig{
			PoolSize: 10,
			CacheMB:  64,
		},
		Retrieval: RetrievalConfig{
			WExact:  0.4,
			WBM25:   0.3,
			WVector: 0.3,
			KRRF:    60,
			PathK:   10,
			FinalK:  20,
		},
	}
}

// Load reads and decodes config.json at path, filling any zero-valued field
// left unset by the file with Default()'s value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Embedding.BaseURL == "" {
		return Config{}, fmt.Errorf("config: embedding.base_url is required")
	}
	if cfg.Embedding.VectorDim <= 0 {
		return Config{}, fmt.Errorf("config: embedding.vector_dim must be positive")
	}
	return cfg, nil
}

// Watcher reloads Config from disk whenever config.json changes and passes
// the new value to the callbacks registered with OnReload. It rebuilds
// nothing itself; objects built from the previous value change only if a
// callback updates them.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	cur Config

	onReload []func(Config)
}

// NewWatcher loads the initial config and prepares a Watcher for it.
// A nil logger is replaced with slog.Default().
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, logger: logger, cur: cfg}, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// OnReload registers a callback invoked with the new Config after a
// successful reload. Callbacks run synchronously on the watch goroutine.
func (w *Watcher) OnReload(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Watch blocks, reloading on file-change events, until ctx is cancelled.
// On a reload error the previous config is kept and the error is logged.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.path); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", w.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous config", "error", err)
				continue
			}
			w.mu.Lock()
			w.cur = cfg
			callbacks := append([]func(Config){}, w.onReload...)
			w.mu.Unlock()
			w.logger.Info("config reloaded", "path", w.path)
			for _, cb := range callbacks {
				cb(cfg)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
