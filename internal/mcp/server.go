package mcp

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codeindex-mcp/internal/manager"
	"github.com/dshills/codeindex-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "codeindex-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Options configures a Server
type Options struct {
	Registry *manager.Registry // Required
	Ledger   storage.Ledger    // Optional; enables index_history
	Config   manager.Config    // Applied to every repository
	Version  string
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	registry *manager.Registry
	ledger   storage.Ledger
	cfg      manager.Config
	logger   *slog.Logger

	// Background index runs outlive the tool call that started them
	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

// NewServer creates a new MCP server instance
func NewServer(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = ServerVersion
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, opts.Version, server.WithToolCapabilities(false)),
		registry: opts.Registry,
		ledger:   opts.Ledger,
		cfg:      opts.Config,
		logger:   opts.Logger.With("component", "mcp"),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until the client
// disconnects or ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	defer s.Close()

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close cancels background index runs and waits for them to finish
func (s *Server) Close() {
	s.cancel()
	s.runs.Wait()
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(clearIndexTool(), s.handleClearIndex)
	s.mcp.AddTool(indexHistoryTool(), s.handleIndexHistory)
}
