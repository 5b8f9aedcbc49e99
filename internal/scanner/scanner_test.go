package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/vectorstore"
)

// fakeEmbedder returns a one-dimensional vector per text
type fakeEmbedder struct {
	calls atomic.Int32
	// fail decides whether a call with these texts fails
	fail func(call int, texts []string) bool
}

func (f *fakeEmbedder) CreateEmbeddings(_ context.Context, texts []string) (*embedder.Response, error) {
	call := int(f.calls.Add(1))
	if f.fail != nil && f.fail(call, texts) {
		return nil, fmt.Errorf("%w: simulated", embedder.ErrProviderFailed)
	}
	resp := &embedder.Response{}
	for i, t := range texts {
		resp.Embeddings = append(resp.Embeddings, []float32{float32(len(t))})
		resp.Indices = append(resp.Indices, i)
	}
	return resp, nil
}

// fakeStore keeps upserted points in memory
type fakeStore struct {
	mu      sync.Mutex
	points  []vectorstore.Point
	upserts []int
	deleted []string
}

func (f *fakeStore) Upsert(_ context.Context, points []vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, points...)
	f.upserts = append(f.upserts, len(points))
	return nil
}

func (f *fakeStore) DeleteByFile(_ context.Context, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, filePath)
	kept := f.points[:0]
	for _, p := range f.points {
		if p.Block.FilePath != filePath {
			kept = append(kept, p)
		}
	}
	f.points = kept
	return nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func sourceLines(prefix string, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "func %s%03d() int { return %d } // some padding text\n", prefix, i, i)
	}
	return sb.String()
}

func testConfig() Config {
	return Config{
		MaxBatchRetries: 2,
		RetryDelay:      time.Millisecond,
	}
}

// collect drains events until the channel is closed
func collect(events <-chan Event) <-chan []Event {
	out := make(chan []Event, 1)
	go func() {
		var all []Event
		for ev := range events {
			all = append(all, ev)
		}
		out <- all
	}()
	return out
}

func runScan(t *testing.T, s *Scanner, root string) (*Result, []Event, error) {
	t.Helper()
	events := make(chan Event)
	done := collect(events)
	res, err := s.Scan(context.Background(), root, events)
	close(events)
	return res, <-done, err
}

func TestScan_Repository(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", sourceLines("main", 60))
	writeFile(t, root, "pkg/util.py", strings.Repeat("def helper_function(value):\n    return value * 2  # double\n", 20))
	writeFile(t, root, "README.md", "# Project\n\nThis project indexes source code into a vector store for retrieval.\n")
	writeFile(t, root, "node_modules/lib/index.js", sourceLines("dep", 40))
	writeFile(t, root, ".gitignore", "gen/\n*.log\n")
	writeFile(t, root, "gen/generated.go", sourceLines("gen", 40))
	writeFile(t, root, "debug.log", "log line\n")
	writeFile(t, root, "logo.png", "not really a png")
	writeFile(t, root, "big.go", sourceLines("big", 400))
	writeFile(t, root, "tiny.go", "package tiny\n")

	emb := &fakeEmbedder{}
	store := &fakeStore{}
	cfg := testConfig()
	cfg.MaxFileSize = 10 * 1024
	cfg.BatchSize = 7
	s := New(nil, emb, store, cfg)

	res, events, err := runScan(t, s, root)
	require.NoError(t, err)

	assert.Equal(t, 4, res.FilesScanned, "main.go, util.py, README.md, tiny.go")
	assert.Equal(t, 3, res.FilesParsed)
	assert.Equal(t, 2, res.FilesSkipped, "big.go oversized, tiny.go has no blocks")
	assert.Greater(t, res.BlocksFound, 3)
	assert.Equal(t, res.BlocksFound, res.BlocksIndexed)
	assert.Empty(t, res.BatchErrors)

	assert.Len(t, store.points, res.BlocksIndexed)
	hashes := make(map[string]bool)
	files := make(map[string]bool)
	for _, p := range store.points {
		assert.False(t, hashes[p.Block.SegmentHash], "duplicate segment hash")
		hashes[p.Block.SegmentHash] = true
		files[p.Block.FilePath] = true
	}
	assert.Equal(t, map[string]bool{"main.go": true, "pkg/util.py": true, "README.md": true}, files)

	for _, n := range store.upserts {
		assert.LessOrEqual(t, n, 7)
	}

	var parsed, indexed int
	for _, ev := range events {
		switch ev.Kind {
		case EventFileParsed:
			parsed += ev.Blocks
		case EventBatchIndexed:
			indexed += ev.Blocks
		case EventBatchError:
			t.Errorf("unexpected batch error: %v", ev.Err)
		}
	}
	assert.Equal(t, res.BlocksFound, parsed)
	assert.Equal(t, res.BlocksIndexed, indexed)
}

func TestScan_NoSupportedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "image.png", "binary")
	writeFile(t, root, "notes.txt", "plain text")

	emb := &fakeEmbedder{}
	s := New(nil, emb, &fakeStore{}, testConfig())

	res, events, err := runScan(t, s, root)
	require.NoError(t, err)
	assert.Equal(t, 0, res.BlocksFound)
	assert.Equal(t, 0, res.BlocksIndexed)
	assert.Empty(t, events)
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestScan_BatchThreshold(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, root, fmt.Sprintf("f%d.go", i), sourceLines(fmt.Sprintf("f%d_", i), 30))
	}

	store := &fakeStore{}
	cfg := testConfig()
	cfg.BatchSize = 4
	s := New(nil, &fakeEmbedder{}, store, cfg)

	res, _, err := runScan(t, s, root)
	require.NoError(t, err)

	wantBatches := (res.BlocksFound + 3) / 4
	assert.Len(t, store.upserts, wantBatches)
	full := 0
	for _, n := range store.upserts {
		assert.LessOrEqual(t, n, 4)
		if n == 4 {
			full++
		}
	}
	assert.GreaterOrEqual(t, full, wantBatches-1, "only the final batch may be partial")
}

func TestScan_FailingBatchCollected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "good.go", sourceLines("good", 20))
	writeFile(t, root, "bad.go", sourceLines("FAILME", 20))

	emb := &fakeEmbedder{fail: func(_ int, texts []string) bool {
		for _, text := range texts {
			if strings.Contains(text, "FAILME") {
				return true
			}
		}
		return false
	}}
	store := &fakeStore{}
	cfg := testConfig()
	cfg.BatchSize = 1
	s := New(nil, emb, store, cfg)

	res, events, err := runScan(t, s, root)
	require.NoError(t, err, "batch failures are not scan failures")

	badBlocks := len(s.chunker.ParseFile(root, "bad.go"))
	require.Greater(t, badBlocks, 0)

	assert.Len(t, res.BatchErrors, badBlocks)
	assert.Equal(t, res.BlocksFound-badBlocks, res.BlocksIndexed)
	for _, e := range res.BatchErrors {
		assert.ErrorIs(t, e, embedder.ErrProviderFailed)
	}

	errEvents := 0
	for _, ev := range events {
		if ev.Kind == EventBatchError {
			errEvents++
			assert.Error(t, ev.Err)
		}
	}
	assert.Equal(t, badBlocks, errEvents)
}

func TestScan_TransientFailureRetried(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", sourceLines("main", 20))

	emb := &fakeEmbedder{fail: func(call int, _ []string) bool { return call == 1 }}
	store := &fakeStore{}
	cfg := testConfig()
	cfg.BatchSize = 1000
	s := New(nil, emb, store, cfg)

	res, _, err := runScan(t, s, root)
	require.NoError(t, err)
	assert.Empty(t, res.BatchErrors)
	assert.Equal(t, res.BlocksFound, res.BlocksIndexed)
	assert.Equal(t, int32(2), emb.calls.Load())
}

func TestScan_NotADirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file.go", "package x\n")
	s := New(nil, &fakeEmbedder{}, &fakeStore{}, testConfig())

	_, err := s.Scan(context.Background(), filepath.Join(root, "file.go"), nil)
	assert.Error(t, err)

	_, err = s.Scan(context.Background(), filepath.Join(root, "missing"), nil)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestScan_Cancelled(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, root, fmt.Sprintf("f%02d.go", i), sourceLines("x", 30))
	}
	s := New(nil, &fakeEmbedder{}, &fakeStore{}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Scan(ctx, root, make(chan Event))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessFileAndRemove(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/a.go", sourceLines("a", 40))
	writeFile(t, root, "pkg/b.go", sourceLines("b", 40))

	store := &fakeStore{}
	s := New(nil, &fakeEmbedder{}, store, testConfig())
	ctx := context.Background()

	n, err := s.ProcessFile(ctx, root, "pkg/a.go")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Len(t, store.points, n)

	_, err = s.ProcessFile(ctx, root, "pkg/b.go")
	require.NoError(t, err)

	require.NoError(t, s.RemoveFile(ctx, "pkg/a.go"))
	for _, p := range store.points {
		assert.Equal(t, "pkg/b.go", p.Block.FilePath)
	}

	_, err = s.ProcessFile(ctx, root, "pkg/missing.go")
	assert.Error(t, err)
}
