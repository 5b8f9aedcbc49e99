package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex-mcp/internal/scanner"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// fakeScanner replays a fixed outcome as batch events
type fakeScanner struct {
	batches     int
	batchSize   int
	failBatches int
	scanErr     error
	block       chan struct{} // when set, Scan waits on it

	mu        sync.Mutex
	scans     int
	processed []string
	removed   []string
}

func (f *fakeScanner) Scan(ctx context.Context, root string, events chan<- scanner.Event) (*scanner.Result, error) {
	f.mu.Lock()
	f.scans++
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.scanErr != nil {
		return &scanner.Result{}, f.scanErr
	}

	res := &scanner.Result{FilesScanned: f.batches}
	for i := 0; i < f.batches; i++ {
		events <- scanner.Event{Kind: scanner.EventFileParsed, File: fmt.Sprintf("f%d.go", i), Blocks: f.batchSize}
		res.BlocksFound += f.batchSize
		if i < f.failBatches {
			err := fmt.Errorf("batch %d: upsert: connection reset", i)
			res.BatchErrors = append(res.BatchErrors, err)
			events <- scanner.Event{Kind: scanner.EventBatchError, Blocks: f.batchSize, Err: err}
			continue
		}
		res.BlocksIndexed += f.batchSize
		events <- scanner.Event{Kind: scanner.EventBatchIndexed, Blocks: f.batchSize}
	}
	return res, nil
}

func (f *fakeScanner) ProcessFile(_ context.Context, _, rel string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, rel)
	return 1, nil
}

func (f *fakeScanner) RemoveFile(_ context.Context, rel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, rel)
	return nil
}

type fakeStore struct {
	initErr   error
	clearErrs []error // returned by successive ClearCollection calls
	deleteErr error

	inits, clears, deletes int
}

func (f *fakeStore) Initialize(context.Context) (bool, error) {
	f.inits++
	if f.initErr != nil {
		return false, f.initErr
	}
	return f.inits == 1, nil
}

func (f *fakeStore) ClearCollection(context.Context) error {
	f.clears++
	if len(f.clearErrs) >= f.clears {
		return f.clearErrs[f.clears-1]
	}
	return nil
}

func (f *fakeStore) DeleteCollection(context.Context) error {
	f.deletes++
	return f.deleteErr
}

func newTestOrchestrator(t *testing.T, sc *fakeScanner, store *fakeStore) *Orchestrator {
	t.Helper()
	repo := types.RepositoryInfo{ID: "acme/widgets", RootPath: t.TempDir()}
	o := NewOrchestrator(repo, sc, store, Config{})
	t.Cleanup(o.Close)
	return o
}

func TestStartIndexing_Success(t *testing.T) {
	sc := &fakeScanner{batches: 20, batchSize: 60}
	store := &fakeStore{}
	o := newTestOrchestrator(t, sc, store)

	require.NoError(t, o.StartIndexing(context.Background()))

	st := o.State()
	assert.Equal(t, StateIndexed, st.State)
	assert.Equal(t, 1200, st.BlocksFound)
	assert.Equal(t, 1200, st.BlocksIndexed)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, 1, store.inits)
	assert.Equal(t, 1, store.clears, "existing points are cleared before scanning")

	run := o.LastRun()
	require.NotNil(t, run)
	assert.Equal(t, StateIndexed, run.State)
	assert.Equal(t, 1200, run.BlocksIndexed)
	assert.Zero(t, run.BatchErrors)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}

func TestStartIndexing_Reindex(t *testing.T) {
	sc := &fakeScanner{batches: 3, batchSize: 10}
	o := newTestOrchestrator(t, sc, &fakeStore{})

	require.NoError(t, o.StartIndexing(context.Background()))
	require.NoError(t, o.StartIndexing(context.Background()))

	st := o.State()
	assert.Equal(t, StateIndexed, st.State)
	assert.Equal(t, 30, st.BlocksIndexed)
	assert.Equal(t, 2, sc.scans)
}

func TestStartIndexing_TolerableLoss(t *testing.T) {
	// 2 of 20 batches fail: exactly 10% loss
	sc := &fakeScanner{batches: 20, batchSize: 60, failBatches: 2}
	o := newTestOrchestrator(t, sc, &fakeStore{})

	require.NoError(t, o.StartIndexing(context.Background()))

	st := o.State()
	assert.Equal(t, StateIndexed, st.State)
	assert.Equal(t, 1080, st.BlocksIndexed)
	assert.Equal(t, 2, o.LastRun().BatchErrors)
}

func TestStartIndexing_ExcessiveLoss(t *testing.T) {
	sc := &fakeScanner{batches: 20, batchSize: 60, failBatches: 3}
	store := &fakeStore{}
	o := newTestOrchestrator(t, sc, store)

	err := o.StartIndexing(context.Background())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.NoError(t, runErr.Cleanup)
	assert.Contains(t, err.Error(), "indexed 1020 of 1200 blocks")
	assert.Contains(t, err.Error(), "batch 0")

	st := o.State()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, err.Error(), st.Message)
	assert.Equal(t, 2, store.clears, "partial results are cleared")
}

func TestStartIndexing_NothingIndexed(t *testing.T) {
	sc := &fakeScanner{batches: 4, batchSize: 10, failBatches: 4}
	o := newTestOrchestrator(t, sc, &fakeStore{})

	err := o.StartIndexing(context.Background())
	assert.ErrorIs(t, err, ErrNoBlocksIndexed)
	assert.Equal(t, StateError, o.State().State)
}

func TestStartIndexing_EmptyRepository(t *testing.T) {
	o := newTestOrchestrator(t, &fakeScanner{}, &fakeStore{})

	require.NoError(t, o.StartIndexing(context.Background()))
	st := o.State()
	assert.Equal(t, StateIndexed, st.State)
	assert.Zero(t, st.BlocksFound)
}

func TestStartIndexing_InitializeFails(t *testing.T) {
	sc := &fakeScanner{batches: 1, batchSize: 1}
	store := &fakeStore{initErr: errors.New("collection vector size does not match")}
	o := newTestOrchestrator(t, sc, store)

	err := o.StartIndexing(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize vector store")
	assert.Equal(t, StateError, o.State().State)
	assert.Zero(t, sc.scans)
}

func TestStartIndexing_CleanupErrorKeptSeparate(t *testing.T) {
	scanErr := errors.New("walk failed")
	cleanupErr := errors.New("qdrant unavailable")
	sc := &fakeScanner{scanErr: scanErr}
	store := &fakeStore{clearErrs: []error{nil, cleanupErr}}
	o := newTestOrchestrator(t, sc, store)

	err := o.StartIndexing(context.Background())

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.ErrorIs(t, err, scanErr)
	assert.NotErrorIs(t, err, cleanupErr)
	assert.ErrorIs(t, runErr.Cleanup, cleanupErr)
	assert.Contains(t, o.State().Message, "walk failed")
	assert.NotContains(t, o.State().Message, "qdrant unavailable")
}

func TestStartIndexing_RecoversFromError(t *testing.T) {
	sc := &fakeScanner{scanErr: errors.New("boom")}
	o := newTestOrchestrator(t, sc, &fakeStore{})

	require.Error(t, o.StartIndexing(context.Background()))
	assert.Equal(t, StateError, o.State().State)

	sc.scanErr = nil
	sc.batches, sc.batchSize = 2, 5
	require.NoError(t, o.StartIndexing(context.Background()))
	assert.Equal(t, StateIndexed, o.State().State)
}

func TestStartIndexing_RejectsConcurrentRun(t *testing.T) {
	sc := &fakeScanner{batches: 1, batchSize: 5, block: make(chan struct{})}
	o := newTestOrchestrator(t, sc, &fakeStore{})

	errCh := make(chan error, 1)
	go func() { errCh <- o.StartIndexing(context.Background()) }()

	require.Eventually(t, func() bool { return o.State().State == StateIndexing }, time.Second, time.Millisecond)

	err := o.StartIndexing(context.Background())
	assert.ErrorIs(t, err, ErrIndexingInProgress)
	assert.ErrorIs(t, o.ClearIndexData(context.Background()), ErrIndexingInProgress)

	close(sc.block)
	require.NoError(t, <-errCh)
	assert.Equal(t, StateIndexed, o.State().State)
}

func TestRetire(t *testing.T) {
	sc := &fakeScanner{batches: 1, batchSize: 5, block: make(chan struct{})}
	o := newTestOrchestrator(t, sc, &fakeStore{})

	errCh := make(chan error, 1)
	go func() { errCh <- o.StartIndexing(context.Background()) }()
	require.Eventually(t, o.Busy, time.Second, time.Millisecond)
	assert.False(t, o.Retire(), "running operation keeps the lock")

	close(sc.block)
	require.NoError(t, <-errCh)
	assert.False(t, o.Busy())

	require.True(t, o.Retire())
	assert.True(t, o.Busy())
	assert.ErrorIs(t, o.StartIndexing(context.Background()), ErrIndexingInProgress)
	assert.ErrorIs(t, o.ClearIndex(context.Background()), ErrIndexingInProgress)
}

func TestStartIndexing_Progress(t *testing.T) {
	sc := &fakeScanner{batches: 5, batchSize: 10}
	o := newTestOrchestrator(t, sc, &fakeStore{})
	ch, cancel := o.StateMachine().Subscribe()
	defer cancel()

	var (
		mu   sync.Mutex
		seen []Status
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		for st := range ch {
			mu.Lock()
			seen = append(seen, st)
			mu.Unlock()
		}
	}()

	require.NoError(t, o.StartIndexing(context.Background()))
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, StateIndexed, seen[len(seen)-1].State)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].BlocksIndexed, seen[i-1].BlocksIndexed)
	}
}

func TestClearIndexData(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(t, &fakeScanner{batches: 1, batchSize: 5}, store)
	require.NoError(t, o.StartIndexing(context.Background()))

	require.NoError(t, o.ClearIndexData(context.Background()))
	assert.Equal(t, StateStandby, o.State().State)
	assert.Equal(t, 1, store.deletes)
}

func TestClearIndexData_DeleteFails(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("permission denied")}
	o := newTestOrchestrator(t, &fakeScanner{}, store)

	err := o.ClearIndexData(context.Background())
	require.Error(t, err)
	st := o.State()
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Message, "permission denied")
}

func TestClearIndex(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(t, &fakeScanner{batches: 1, batchSize: 5}, store)
	require.NoError(t, o.StartIndexing(context.Background()))

	require.NoError(t, o.ClearIndex(context.Background()))
	assert.Equal(t, StateStandby, o.State().State)
	assert.Equal(t, 2, store.clears)
	assert.Zero(t, store.deletes)
}

func TestStartIndexing_Watcher(t *testing.T) {
	sc := &fakeScanner{batches: 1, batchSize: 5}
	repo := types.RepositoryInfo{ID: "acme/widgets", RootPath: t.TempDir()}
	o := NewOrchestrator(repo, sc, &fakeStore{}, Config{Watch: true, WatchDebounce: 10 * time.Millisecond})
	defer o.Close()

	require.NoError(t, o.StartIndexing(context.Background()))
	assert.True(t, o.Watching())

	o.StopWatcher()
	assert.False(t, o.Watching())
	o.StopWatcher()
}

func TestEvaluate(t *testing.T) {
	batchErr := errors.New("embed: rate limited")

	tests := []struct {
		name     string
		found    int
		indexed  int
		errs     []error
		wantErr  bool
		contains string
	}{
		{"all indexed", 100, 100, nil, false, ""},
		{"nothing found", 0, 0, nil, false, ""},
		{"none indexed, no error", 100, 0, nil, true, "no blocks indexed"},
		{"none indexed, batch error", 100, 0, []error{batchErr}, true, "rate limited"},
		{"loss at threshold", 100, 90, []error{batchErr}, false, ""},
		{"loss above threshold", 100, 89, []error{batchErr}, true, "indexed 89 of 100 blocks"},
		{"loss without batch error", 100, 50, nil, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluate(tt.found, tt.indexed, tt.errs, DefaultLossThreshold)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
