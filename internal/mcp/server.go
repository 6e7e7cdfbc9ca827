package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pieceproject/kbd/internal/queue"
	"github.com/pieceproject/kbd/internal/search"
	"github.com/pieceproject/kbd/internal/store"
	"github.com/pieceproject/kbd/pkg/version"
)

// Deps bundles the components a Server wraps as MCP tools. None of these
// are process-wide singletons (§9): cmd/kbd constructs each one once and
// hands the set to NewServer, so tests can build an isolated Server against
// a temp-file store instead of reaching for package-level state.
type Deps struct {
	Retriever *search.Retriever
	Files     *store.FileRepo
	Chunks    *store.ChunkRepo
	Tasks     *store.TaskRepo
	Enqueuer  *queue.Enqueuer
	DB        *store.DB
	DataPath  string
	Logger    *slog.Logger
}

// Server exposes the tool set of §4.8 over a streaming HTTP transport.
type Server struct {
	mcp *mcp.Server

	retriever *search.Retriever
	files     *store.FileRepo
	chunks    *store.ChunkRepo
	tasks     *store.TaskRepo
	enqueuer  *queue.Enqueuer
	db        *store.DB
	dataPath  string
	logger    *slog.Logger

	httpServer *http.Server
}

// NewServer builds a Server and registers every tool. It does not start
// listening; call ListenAndServe for that.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		retriever: deps.Retriever,
		files:     deps.Files,
		chunks:    deps.Chunks,
		tasks:     deps.Tasks,
		enqueuer:  deps.Enqueuer,
		db:        deps.DB,
		dataPath:  deps.DataPath,
		logger:    logger,
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "kbd",
		Version: version.Version,
	}, nil)

	s.registerTools()
	return s
}

// MCPServer returns the underlying SDK server, mostly for tests that want
// to drive tool calls through the SDK's own dispatch.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListenAndServe starts the bearer-gated streaming HTTP transport on addr
// and blocks until ctx is cancelled or the listener fails. Grounded on
// cagent's pkg/mcp.StartHTTPServer: mcp.NewStreamableHTTPHandler wrapping a
// fixed *mcp.Server, served by a plain net/http.Server.
func (s *Server) ListenAndServe(ctx context.Context, addr string, authEnabled bool, apiKey string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, nil)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: requireBearerToken(authEnabled, apiKey, handler),
	}

	s.logger.Info("mcp server listening", "addr", addr, "auth_enabled", authEnabled)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("mcp server: %w", err)
	}
}

// Close shuts down the HTTP transport if it was started.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(context.Background())
}
