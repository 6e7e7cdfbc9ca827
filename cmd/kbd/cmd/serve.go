package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pieceproject/kbd/internal/chunk"
	"github.com/pieceproject/kbd/internal/config"
	"github.com/pieceproject/kbd/internal/embed"
	"github.com/pieceproject/kbd/internal/lock"
	"github.com/pieceproject/kbd/internal/logging"
	"github.com/pieceproject/kbd/internal/mcp"
	"github.com/pieceproject/kbd/internal/queue"
	"github.com/pieceproject/kbd/internal/search"
	"github.com/pieceproject/kbd/internal/store"
)

// newServeCmd starts the long-running process: acquires the data
// directory's singleton lock, opens the store, wires C2-C8 together, and
// runs the MCP HTTP transport and the task processor side by side until
// SIGINT/SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server and background task processor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath, nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := watcher.Current()
	if dataDir != "" {
		cfg.DataPath = dataDir
	}

	logCfg := logging.DefaultConfig(cfg.DataPath)
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logger, closeLog, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer closeLog()

	procLock, err := lock.Acquire(cfg.DataPath)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer procLock.Release()

	dbPath := filepath.Join(cfg.DataPath, "kb.db")
	db, err := store.Open(ctx, dbPath, cfg.Store.PoolSize, cfg.Store.CacheMB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	files := store.NewFileRepo(db)
	chunks := store.NewChunkRepo(db)
	tasks := store.NewTaskRepo(db)

	if err := queue.ResumeAtStartup(ctx, tasks, logger); err != nil {
		logger.Warn("resume at startup failed", "error", err)
	}

	embedder := embed.NewCachedEmbedder(
		embed.NewClient(embed.Config{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.VectorDim,
			RPM:        cfg.Embedding.RPM,
			Timeout:    60 * time.Second,
		}, logger),
		cfg.Embedding.Model,
		2048,
	)

	enqueuer := queue.NewEnqueuer(tasks)

	processor := queue.NewProcessor(queue.Deps{
		Tasks:    tasks,
		Files:    files,
		Chunks:   chunks,
		Embedder: embedder,
		Logger:   logger,
		ChunkOpts: chunk.Options{
			MaxTokens: cfg.Embedding.MaxTokens,
		},
	})

	retriever := search.NewRetriever(files, chunks, embedder, logger).
		WithWeights(search.Weights{
			Exact:  cfg.Retrieval.WExact,
			BM25:   cfg.Retrieval.WBM25,
			Vector: cfg.Retrieval.WVector,
		}).
		WithRRFConstant(cfg.Retrieval.KRRF).
		WithPathLimit(cfg.Retrieval.PathK)

	mcpServer := mcp.NewServer(mcp.Deps{
		Retriever: retriever,
		Files:     files,
		Chunks:    chunks,
		Tasks:     tasks,
		Enqueuer:  enqueuer,
		DB:        db,
		DataPath:  cfg.DataPath,
		Logger:    logger,
	})

	watcher.OnReload(func(newCfg config.Config) {
		retriever.WithWeights(search.Weights{
			Exact:  newCfg.Retrieval.WExact,
			BM25:   newCfg.Retrieval.WBM25,
			Vector: newCfg.Retrieval.WVector,
		}).
			WithRRFConstant(newCfg.Retrieval.KRRF).
			WithPathLimit(newCfg.Retrieval.PathK)
	})

	addr := fmt.Sprintf(":%d", cfg.MCP.Port)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return watcher.Watch(gctx)
	})
	group.Go(func() error {
		processor.Start(gctx)
		<-gctx.Done()
		processor.Stop()
		return nil
	})
	group.Go(func() error {
		return mcpServer.ListenAndServe(gctx, addr, cfg.MCP.AuthEnabled, cfg.MCP.APIKey)
	})

	logger.Info("kbd serve started", "data_path", cfg.DataPath, "mcp_addr", addr)
	return group.Wait()
}
