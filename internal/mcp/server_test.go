package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/indexer"
	"github.com/dshills/codeindex-mcp/internal/manager"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/internal/vectorstore"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

type fakeEmbedder struct{ model string }

func (f *fakeEmbedder) CreateEmbeddings(_ context.Context, texts []string) (*embedder.Response, error) {
	resp := &embedder.Response{}
	for i := range texts {
		resp.Embeddings = append(resp.Embeddings, []float32{1, 0, 0, 0})
		resp.Indices = append(resp.Indices, i)
	}
	return resp, nil
}

func (f *fakeEmbedder) ValidateConfiguration(context.Context) error { return nil }
func (f *fakeEmbedder) Dimension() int                              { return 4 }
func (f *fakeEmbedder) Provider() string                            { return "fake" }
func (f *fakeEmbedder) Model() string                               { return f.model }
func (f *fakeEmbedder) Close() error                                { return nil }

// collection outlives the stores built on it, like a Qdrant collection
type collection struct {
	mu     sync.Mutex
	points []vectorstore.Point
}

type fakeStore struct {
	repo types.RepositoryInfo
	col  *collection
}

func (f *fakeStore) Initialize(context.Context) (bool, error) { return false, nil }

func (f *fakeStore) Upsert(_ context.Context, points []vectorstore.Point) error {
	f.col.mu.Lock()
	defer f.col.mu.Unlock()
	f.col.points = append(f.col.points, points...)
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ []float32, _ float32, maxResults int) ([]types.SearchResult, error) {
	f.col.mu.Lock()
	defer f.col.mu.Unlock()
	var out []types.SearchResult
	for _, p := range f.col.points {
		if len(out) == maxResults {
			break
		}
		out = append(out, types.SearchResult{
			FilePath:   p.Block.FilePath,
			StartLine:  p.Block.StartLine,
			EndLine:    p.Block.EndLine,
			BlockType:  p.Block.BlockType,
			Identifier: p.Block.Identifier,
			Content:    p.Block.Content,
			Score:      0.9,
		})
	}
	return out, nil
}

func (f *fakeStore) ClearCollection(context.Context) error {
	f.col.mu.Lock()
	defer f.col.mu.Unlock()
	f.col.points = nil
	return nil
}

func (f *fakeStore) DeleteCollection(ctx context.Context) error { return f.ClearCollection(ctx) }

func (f *fakeStore) DeleteByFile(_ context.Context, filePath string) error {
	f.col.mu.Lock()
	defer f.col.mu.Unlock()
	kept := f.col.points[:0]
	for _, p := range f.col.points {
		if p.Block.FilePath != filePath {
			kept = append(kept, p)
		}
	}
	f.col.points = kept
	return nil
}

func (f *fakeStore) CountByRepo(context.Context) (int, error) {
	f.col.mu.Lock()
	defer f.col.mu.Unlock()
	return len(f.col.points), nil
}

func (f *fakeStore) CollectionName() string { return vectorstore.CollectionName(f.repo.ID) }
func (f *fakeStore) Close() error           { return nil }

// backend hands out stores sharing one collection per repository
type backend struct {
	mu          sync.Mutex
	collections map[string]*collection
}

func newBackend() *backend {
	return &backend{collections: make(map[string]*collection)}
}

func (b *backend) factories() manager.Factories {
	return manager.Factories{
		NewEmbedder: func(cfg embedder.Config) (embedder.Embedder, error) {
			return &fakeEmbedder{model: cfg.Model}, nil
		},
		NewStore: func(_ vectorstore.Config, repo types.RepositoryInfo) (vectorstore.VectorStore, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			col, ok := b.collections[repo.ID]
			if !ok {
				col = &collection{}
				b.collections[repo.ID] = col
			}
			return &fakeStore{repo: repo, col: col}, nil
		},
	}
}

func testConfig() manager.Config {
	return manager.Config{
		Enabled:   true,
		Embedding: embedder.Config{Provider: "fake", Model: "fake-model"},
	}
}

func newLedger(t *testing.T) storage.Ledger {
	t.Helper()
	ledger, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func newTestServer(t *testing.T, b *backend, ledger storage.Ledger) *Server {
	t.Helper()
	opts := []manager.Option{manager.WithFactories(b.factories())}
	if ledger != nil {
		opts = append(opts, manager.WithLedger(ledger))
	}
	reg := manager.NewRegistry(opts...)

	s, err := NewServer(Options{Registry: reg, Ledger: ledger, Config: testConfig()})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		reg.Close()
	})
	return s
}

func writeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&sb, "func handler%02d(w http.ResponseWriter) { w.WriteHeader(%d) }\n", i, 200+i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "server.go"), []byte(sb.String()), 0o644))
	return root
}

func request(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code, mcpErr.Message)
}

func indexNow(t *testing.T, s *Server, root string) map[string]interface{} {
	t.Helper()
	res, err := s.handleIndexRepository(context.Background(), request(map[string]interface{}{
		"path":  root,
		"owner": "acme",
		"name":  "widgets",
		"wait":  true,
	}))
	require.NoError(t, err)
	return decode(t, res)
}

func TestNewServer_RequiresRegistry(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestIndexRepository_Wait(t *testing.T) {
	s := newTestServer(t, newBackend(), newLedger(t))
	root := writeRepo(t)

	out := indexNow(t, s, root)
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, manager.RepositoryIDForPath(root), out["repository_id"])
	assert.Equal(t, root, out["path"])

	status := out["status"].(map[string]interface{})
	assert.Equal(t, string(indexer.StateIndexed), status["state"])
	assert.Equal(t, float64(100), status["progress"])
	assert.Positive(t, status["blocks_indexed"])
}

func TestIndexRepository_Background(t *testing.T) {
	s := newTestServer(t, newBackend(), nil)
	root := writeRepo(t)

	res, err := s.handleIndexRepository(context.Background(), request(map[string]interface{}{"path": root}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, true, out["started"])

	m, ok := s.registry.Lookup(manager.RepositoryIDForPath(root))
	require.True(t, ok)
	require.Eventually(t, func() bool {
		st, err := m.CurrentStatus()
		return err == nil && st.State == indexer.StateIndexed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIndexRepository_InvalidParams(t *testing.T) {
	s := newTestServer(t, newBackend(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"no arguments", nil},
		{"relative path", map[string]interface{}{"path": "src/widgets"}},
		{"missing path", map[string]interface{}{"path": filepath.Join(t.TempDir(), "missing")}},
		{"id only", map[string]interface{}{"repository_id": "acme/widgets"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleIndexRepository(ctx, request(tt.args))
			requireCode(t, err, ErrorCodeInvalidParams)
		})
	}

	file := filepath.Join(t.TempDir(), "file.go")
	require.NoError(t, os.WriteFile(file, []byte("package x\n"), 0o644))
	_, err := s.handleIndexRepository(ctx, request(map[string]interface{}{"path": file}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestIndexRepository_Disabled(t *testing.T) {
	b := newBackend()
	reg := manager.NewRegistry(manager.WithFactories(b.factories()))
	t.Cleanup(reg.Close)
	cfg := testConfig()
	cfg.Enabled = false
	s, err := NewServer(Options{Registry: reg, Config: cfg})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	res, err := s.handleIndexRepository(context.Background(), request(map[string]interface{}{
		"path": writeRepo(t),
		"wait": true,
	}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, false, out["indexed"])
	assert.Contains(t, out["error"], "disabled")
}

func TestSearchCode(t *testing.T) {
	s := newTestServer(t, newBackend(), nil)
	root := writeRepo(t)
	indexNow(t, s, root)

	res, err := s.handleSearchCode(context.Background(), request(map[string]interface{}{
		"path":  root,
		"query": "which handler writes status 201",
		"limit": float64(2),
	}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, float64(2), out["count"])

	results := out["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "server.go", first["file_path"])
	assert.InDelta(t, 0.9, first["score"], 1e-9)
	assert.NotEmpty(t, first["content"])
}

func TestSearchCode_InvalidParams(t *testing.T) {
	s := newTestServer(t, newBackend(), nil)
	ctx := context.Background()
	root := writeRepo(t)

	_, err := s.handleSearchCode(ctx, request(map[string]interface{}{"path": root, "query": "   "}))
	requireCode(t, err, ErrorCodeEmptyQuery)

	_, err = s.handleSearchCode(ctx, request(map[string]interface{}{"path": root, "query": "q", "limit": float64(0)}))
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = s.handleSearchCode(ctx, request(map[string]interface{}{"query": "q"}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestSearchCode_UnknownRepository(t *testing.T) {
	s := newTestServer(t, newBackend(), newLedger(t))

	_, err := s.handleSearchCode(context.Background(), request(map[string]interface{}{
		"repository_id": "nobody/nothing",
		"query":         "anything",
	}))
	requireCode(t, err, ErrorCodeRepositoryNotFound)
}

func TestSearchCode_RootPathFromLedger(t *testing.T) {
	b := newBackend()
	ledger := newLedger(t)
	root := writeRepo(t)
	indexNow(t, newTestServer(t, b, ledger), root)

	// A second server, as after a restart, finds the root path in the ledger
	s := newTestServer(t, b, ledger)
	res, err := s.handleSearchCode(context.Background(), request(map[string]interface{}{
		"repository_id": manager.RepositoryIDForPath(root),
		"query":         "handler",
	}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Positive(t, out["count"])
}

func TestGetStatus(t *testing.T) {
	s := newTestServer(t, newBackend(), newLedger(t))
	root := writeRepo(t)
	indexNow(t, s, root)

	res, err := s.handleGetStatus(context.Background(), request(map[string]interface{}{"path": root}))
	require.NoError(t, err)
	out := decode(t, res)

	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, false, out["watching"])
	assert.Positive(t, out["points"])

	lastRun := out["last_run"].(map[string]interface{})
	assert.Equal(t, "indexed", lastRun["state"])
	assert.Equal(t, lastRun["blocks_found"], lastRun["blocks_indexed"])
	assert.Equal(t, float64(0), lastRun["loss_ratio"])
}

func TestGetStatus_NotIndexed(t *testing.T) {
	s := newTestServer(t, newBackend(), newLedger(t))

	res, err := s.handleGetStatus(context.Background(), request(map[string]interface{}{"path": writeRepo(t)}))
	require.NoError(t, err)
	out := decode(t, res)

	assert.Equal(t, false, out["indexed"])
	assert.Contains(t, out["message"], "index_repository")
	assert.NotContains(t, out, "status")
}

func TestClearIndex(t *testing.T) {
	s := newTestServer(t, newBackend(), nil)
	ctx := context.Background()
	root := writeRepo(t)
	indexNow(t, s, root)

	for _, mode := range []string{clearModePoints, clearModeData} {
		t.Run(mode, func(t *testing.T) {
			res, err := s.handleClearIndex(ctx, request(map[string]interface{}{"path": root, "mode": mode}))
			require.NoError(t, err)
			out := decode(t, res)
			assert.Equal(t, true, out["cleared"])
			assert.Equal(t, mode, out["mode"])

			m, ok := s.registry.Lookup(manager.RepositoryIDForPath(root))
			require.True(t, ok)
			n, err := m.IndexedCount(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}

	_, err := s.handleClearIndex(ctx, request(map[string]interface{}{"path": root, "mode": "everything"}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestIndexHistory(t *testing.T) {
	s := newTestServer(t, newBackend(), newLedger(t))
	root := writeRepo(t)
	indexNow(t, s, root)
	indexNow(t, s, root)

	res, err := s.handleIndexHistory(context.Background(), request(map[string]interface{}{"path": root}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, float64(2), out["count"])

	res, err = s.handleIndexHistory(context.Background(), request(map[string]interface{}{
		"path":  root,
		"limit": float64(1),
	}))
	require.NoError(t, err)
	assert.Equal(t, float64(1), decode(t, res)["count"])

	_, err = s.handleIndexHistory(context.Background(), request(map[string]interface{}{
		"path":  root,
		"limit": float64(500),
	}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestIndexHistory_NoLedger(t *testing.T) {
	s := newTestServer(t, newBackend(), nil)

	_, err := s.handleIndexHistory(context.Background(), request(map[string]interface{}{"path": writeRepo(t)}))
	requireCode(t, err, ErrorCodeNoHistory)
}

func TestToolError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{manager.ErrNotInitialized, ErrorCodeNotIndexed},
		{fmt.Errorf("run: %w", indexer.ErrIndexingInProgress), ErrorCodeIndexingInProgress},
		{manager.ErrEmptyQuery, ErrorCodeEmptyQuery},
		{manager.ErrIndexingDisabled, ErrorCodeIndexingDisabled},
		{manager.ErrNoLedger, ErrorCodeNoHistory},
		{assert.AnError, ErrorCodeInternalError},
		{newMCPError(ErrorCodeRepositoryNotFound, "unknown", nil), ErrorCodeRepositoryNotFound},
	}
	for _, tt := range tests {
		requireCode(t, toolError(tt.err), tt.code)
	}
}

func TestValidatePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	got, err := validatePath(dir + string(filepath.Separator) + ".")
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	_, err = validatePath("")
	assert.ErrorIs(t, err, ErrPathRequired)
	_, err = validatePath("relative")
	assert.ErrorIs(t, err, ErrPathNotAbsolute)
	_, err = validatePath(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrPathNotFound)
	_, err = validatePath(file)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestToolDefinitions(t *testing.T) {
	tools := []mcp.Tool{indexRepositoryTool(), searchCodeTool(), getStatusTool(), clearIndexTool(), indexHistoryTool()}
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type)
		assert.Contains(t, tool.InputSchema.Properties, "repository_id")
	}
	assert.Equal(t, []string{"index_repository", "search_code", "get_status", "clear_index", "index_history"}, names)
	assert.Equal(t, []string{"path"}, indexRepositoryTool().InputSchema.Required)
}
