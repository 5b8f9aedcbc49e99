package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeindex-mcp/internal/indexer"
	"github.com/dshills/codeindex-mcp/internal/manager"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeRepositoryNotFound = -32001 // Repository path or id is unknown
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Repository not indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeIndexingDisabled   = -32005 // Indexing switched off in configuration
	ErrorCodeNoHistory          = -32006 // Run ledger not configured
)

const (
	clearModeData   = "data"
	clearModePoints = "points"

	defaultSearchLimit = 10
)

// target is the repository a tool call refers to
type target struct {
	id   string
	path string // Empty when only the id was given
}

// parseTarget reads path and repository_id. At least one is required; a
// missing id is derived from the path.
func parseTarget(args map[string]interface{}) (target, error) {
	path := strings.TrimSpace(getStringDefault(args, "path", ""))
	id := strings.TrimSpace(getStringDefault(args, "repository_id", ""))
	if path == "" && id == "" {
		return target{}, newMCPError(ErrorCodeInvalidParams, "path or repository_id is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if path != "" {
		cleaned, err := validatePath(path)
		if err != nil {
			return target{}, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
				"param":  "path",
				"reason": err.Error(),
			})
		}
		path = cleaned
		if id == "" {
			id = manager.RepositoryIDForPath(path)
		}
	}
	return target{id: id, path: path}, nil
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// managerFor returns an initialized manager for t. A manager built earlier
// in this process is reused as is; otherwise the root path comes from the
// call or from the ledger.
func (s *Server) managerFor(ctx context.Context, t target) (*manager.Manager, error) {
	if m, ok := s.registry.Lookup(t.id); ok && m.Initialized() {
		return m, nil
	}

	root := t.path
	if root == "" && s.ledger != nil {
		rec, err := s.ledger.GetRepository(ctx, t.id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if rec != nil {
			root = rec.RootPath
		}
	}
	if root == "" {
		return nil, newMCPError(ErrorCodeRepositoryNotFound, "unknown repository", map[string]interface{}{
			"repository_id": t.id,
		})
	}

	m := s.registry.Get(t.id)
	if m == nil {
		return nil, errors.New("server is shutting down")
	}
	if err := m.Initialize(ctx, s.cfg, types.RepositoryInfo{ID: t.id, RootPath: root}); err != nil {
		return nil, err
	}
	return m, nil
}

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	t, err := parseTarget(args)
	if err != nil {
		return nil, err
	}
	if t.path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	repo := types.RepositoryInfo{
		ID:       t.id,
		RootPath: t.path,
		Owner:    getStringDefault(args, "owner", ""),
		Name:     getStringDefault(args, "name", ""),
	}
	if repo.Owner != "" && repo.Name != "" {
		repo.FullName = repo.Owner + "/" + repo.Name
	}

	m := s.registry.Get(repo.ID)
	if m == nil {
		return nil, toolError(errors.New("server is shutting down"))
	}
	if err := m.Initialize(ctx, s.cfg, repo); err != nil {
		return nil, toolError(err)
	}

	if getBoolDefault(args, "wait", false) {
		runErr := m.StartIndexing(ctx)
		if errors.Is(runErr, indexer.ErrIndexingInProgress) {
			return nil, toolError(runErr)
		}
		st, _ := m.CurrentStatus()
		response := map[string]interface{}{
			"repository_id": repo.ID,
			"path":          repo.RootPath,
			"indexed":       runErr == nil,
			"status":        statusResponse(st),
		}
		if runErr != nil {
			response["error"] = runErr.Error()
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	if st, err := m.CurrentStatus(); err == nil && st.State == indexer.StateIndexing {
		return nil, toolError(indexer.ErrIndexingInProgress)
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := m.StartIndexing(s.ctx); err != nil {
			s.logger.Warn("background indexing failed", "repository", repo.ID, "error", err)
		}
	}()

	response := map[string]interface{}{
		"repository_id": repo.ID,
		"path":          repo.RootPath,
		"started":       true,
		"message":       "Indexing started. Use get_status to follow progress.",
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", defaultSearchLimit)
	if limit < 1 || limit > manager.MaxSearchResults {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", manager.MaxSearchResults), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	t, err := parseTarget(args)
	if err != nil {
		return nil, err
	}
	m, err := s.managerFor(ctx, t)
	if err != nil {
		return nil, toolError(err)
	}

	results, err := m.SearchIndex(ctx, query)
	if err != nil {
		return nil, toolError(err)
	}
	if len(results) > limit {
		results = results[:limit]
	}

	items := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]interface{}{
			"file_path":  r.FilePath,
			"start_line": r.StartLine,
			"end_line":   r.EndLine,
			"block_type": r.BlockType,
			"identifier": r.Identifier,
			"score":      r.Score,
			"content":    r.Content,
		})
	}

	response := map[string]interface{}{
		"repository_id": t.id,
		"query":         query,
		"count":         len(items),
		"results":       items,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation. It never builds
// services: a repository not touched in this session reports its last
// recorded run, if any.
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	t, err := parseTarget(args)
	if err != nil {
		return nil, err
	}

	response := map[string]interface{}{
		"repository_id": t.id,
	}

	live := false
	if m, ok := s.registry.Lookup(t.id); ok {
		if st, err := m.CurrentStatus(); err == nil {
			live = true
			response["indexed"] = st.State == indexer.StateIndexed
			response["status"] = statusResponse(st)
			response["watching"] = m.Watching()
			if n, err := m.IndexedCount(ctx); err == nil {
				response["points"] = n
			}
		}
	}

	var last *storage.Run
	if s.ledger != nil {
		run, err := s.ledger.LatestRun(ctx, t.id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, toolError(err)
		}
		last = run
	}
	if last != nil {
		response["last_run"] = runResponse(last)
	}

	if !live {
		response["indexed"] = last != nil && last.State == string(indexer.StateIndexed)
		if last == nil {
			response["message"] = "Repository not indexed. Use index_repository to index it."
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearIndex handles the clear_index tool invocation
func (s *Server) handleClearIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	mode := getStringDefault(args, "mode", clearModeData)
	if mode != clearModeData && mode != clearModePoints {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{clearModeData, clearModePoints},
		})
	}

	t, err := parseTarget(args)
	if err != nil {
		return nil, err
	}
	m, err := s.managerFor(ctx, t)
	if err != nil {
		return nil, toolError(err)
	}

	if mode == clearModePoints {
		err = m.ClearIndex(ctx)
	} else {
		err = m.ClearIndexData(ctx)
	}
	if err != nil {
		return nil, toolError(err)
	}

	response := map[string]interface{}{
		"repository_id": t.id,
		"mode":          mode,
		"cleared":       true,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexHistory handles the index_history tool invocation
func (s *Server) handleIndexHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", storage.DefaultRunLimit)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	t, err := parseTarget(args)
	if err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return nil, toolError(manager.ErrNoLedger)
	}

	runs, err := s.ledger.ListRuns(ctx, t.id, limit)
	if err != nil {
		return nil, toolError(err)
	}

	items := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		items = append(items, runResponse(run))
	}

	response := map[string]interface{}{
		"repository_id": t.id,
		"count":         len(items),
		"runs":          items,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func statusResponse(st indexer.Status) map[string]interface{} {
	return map[string]interface{}{
		"state":          st.State,
		"message":        st.Message,
		"blocks_found":   st.BlocksFound,
		"blocks_indexed": st.BlocksIndexed,
		"progress":       st.Progress,
		"updated_at":     formatTime(st.UpdatedAt),
	}
}

func runResponse(run *storage.Run) map[string]interface{} {
	return map[string]interface{}{
		"id":             run.ID,
		"state":          run.State,
		"message":        run.Message,
		"files_scanned":  run.FilesScanned,
		"files_skipped":  run.FilesSkipped,
		"blocks_found":   run.BlocksFound,
		"blocks_indexed": run.BlocksIndexed,
		"batch_errors":   run.BatchErrors,
		"loss_ratio":     run.LossRatio(),
		"started_at":     formatTime(run.StartedAt),
		"duration_ms":    run.Duration().Milliseconds(),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Helper functions

// toolError maps domain errors to MCP error codes
func toolError(err error) error {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, manager.ErrNotInitialized):
		return newMCPError(ErrorCodeNotIndexed, "repository not indexed", data)
	case errors.Is(err, indexer.ErrIndexingInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", data)
	case errors.Is(err, manager.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, "query cannot be empty", data)
	case errors.Is(err, manager.ErrIndexingDisabled):
		return newMCPError(ErrorCodeIndexingDisabled, "indexing is disabled", data)
	case errors.Is(err, manager.ErrNoLedger):
		return newMCPError(ErrorCodeNoHistory, "run history is not available", data)
	default:
		return newMCPError(ErrorCodeInternalError, "operation failed", data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory and
// returns it cleaned
func validatePath(path string) (string, error) {
	if path == "" {
		return "", ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return "", ErrPathNotAbsolute
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", ErrPathNotFound
	}
	if err != nil {
		return "", ErrPathNotReadable
	}

	if !info.IsDir() {
		return "", ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return "", ErrPathNotReadable
	}
	_ = f.Close()

	return path, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
