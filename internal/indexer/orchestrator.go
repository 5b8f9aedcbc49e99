package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/codeindex-mcp/internal/observability"
	"github.com/dshills/codeindex-mcp/internal/scanner"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// DefaultLossThreshold is the largest fraction of found blocks a run may
// fail to index and still succeed
const DefaultLossThreshold = 0.1

// Common errors
var (
	ErrIndexingInProgress = errors.New("indexing already in progress")
	ErrNoBlocksIndexed    = errors.New("no blocks indexed")
)

// RunError is a failed run. Cleanup holds the error from clearing partial
// results, if that failed too; it never replaces Primary.
type RunError struct {
	Primary error
	Cleanup error
}

func (e *RunError) Error() string {
	return e.Primary.Error()
}

func (e *RunError) Unwrap() error {
	return e.Primary
}

// Scanner is the part of the scanner the orchestrator drives
type Scanner interface {
	Scan(ctx context.Context, root string, events chan<- scanner.Event) (*scanner.Result, error)
	FileIndexer
}

// Store is the part of the vector store the orchestrator manages
type Store interface {
	Initialize(ctx context.Context) (bool, error)
	ClearCollection(ctx context.Context) error
	DeleteCollection(ctx context.Context) error
}

// Config tunes the orchestrator
type Config struct {
	LossThreshold float64       // Defaults to DefaultLossThreshold
	Watch         bool          // Start a watcher after a successful run
	WatchDebounce time.Duration // Defaults to DefaultDebounce
	Logger        *slog.Logger
}

// RunSummary describes the most recent run
type RunSummary struct {
	RepositoryID  string
	State         State
	Message       string
	FilesScanned  int
	FilesSkipped  int
	BlocksFound   int
	BlocksIndexed int
	BatchErrors   int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Orchestrator runs full indexing passes for one repository and owns its
// state machine and watcher
type Orchestrator struct {
	repo    types.RepositoryInfo
	scanner Scanner
	store   Store
	state   *StateMachine
	cfg     Config
	logger  *slog.Logger
	lock    IndexLock

	mu      sync.Mutex
	watcher *Watcher
	last    *RunSummary
}

// NewOrchestrator creates an orchestrator in Standby
func NewOrchestrator(repo types.RepositoryInfo, sc Scanner, store Store, cfg Config) *Orchestrator {
	if cfg.LossThreshold <= 0 {
		cfg.LossThreshold = DefaultLossThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		repo:    repo,
		scanner: sc,
		store:   store,
		state:   NewStateMachine(repo.ID),
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "orchestrator", "repository", repo.ID),
	}
}

// State returns the current status
func (o *Orchestrator) State() Status {
	return o.state.Status()
}

// StateMachine exposes the state machine for subscriptions
func (o *Orchestrator) StateMachine() *StateMachine {
	return o.state
}

// LastRun returns the summary of the latest completed run, or nil
func (o *Orchestrator) LastRun() *RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	s := *o.last
	return &s
}

// Watching reports whether a watcher is running
func (o *Orchestrator) Watching() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.watcher != nil
}

// StartIndexing runs one full indexing pass: the repository's points are
// cleared, every file is scanned and the outcome decides between Indexed
// and Error. It returns ErrIndexingInProgress if a run is already active.
func (o *Orchestrator) StartIndexing(ctx context.Context) error {
	if !o.lock.TryAcquire() {
		o.logger.Warn("indexing request ignored, run already in progress")
		return ErrIndexingInProgress
	}
	defer o.lock.Release()

	ctx, span := observability.StartRunSpan(ctx, o.repo.ID)
	defer span.End()

	summary := RunSummary{RepositoryID: o.repo.ID, StartedAt: time.Now()}
	defer func() {
		st := o.state.Status()
		summary.State = st.State
		summary.Message = st.Message
		summary.FinishedAt = time.Now()
		o.mu.Lock()
		o.last = &summary
		o.mu.Unlock()
	}()

	o.StopWatcher()

	if err := o.state.SetState(StateStandby, ""); err != nil {
		return err
	}
	if err := o.state.SetState(StateIndexing, "preparing vector store"); err != nil {
		return err
	}
	o.logger.Info("indexing started", "root", o.repo.RootPath)

	created, err := o.store.Initialize(ctx)
	if err != nil {
		return o.fail(ctx, fmt.Errorf("initialize vector store: %w", err))
	}
	if err := o.store.ClearCollection(ctx); err != nil {
		return o.fail(ctx, fmt.Errorf("clear previous index: %w", err))
	}
	o.logger.Debug("vector store ready", "created", created)

	res, err := o.scan(ctx)
	if res != nil {
		summary.FilesScanned = res.FilesScanned
		summary.FilesSkipped = res.FilesSkipped
		summary.BlocksFound = res.BlocksFound
		summary.BlocksIndexed = res.BlocksIndexed
		summary.BatchErrors = len(res.BatchErrors)
		observability.RecordRunResult(span, res.BlocksFound, res.BlocksIndexed, len(res.BatchErrors))
	}
	if err != nil {
		return o.fail(ctx, fmt.Errorf("scan %s: %w", o.repo.RootPath, err))
	}

	o.state.ReportProgress(res.BlocksIndexed, res.BlocksFound)
	if err := evaluate(res.BlocksFound, res.BlocksIndexed, res.BatchErrors, o.cfg.LossThreshold); err != nil {
		return o.fail(ctx, err)
	}

	if o.cfg.Watch {
		if err := o.startWatcher(ctx); err != nil {
			o.logger.Warn("file watcher not started", "error", err)
		}
	}

	msg := fmt.Sprintf("indexed %d blocks from %d files", res.BlocksIndexed, res.FilesScanned-res.FilesSkipped)
	if err := o.state.SetState(StateIndexed, msg); err != nil {
		return err
	}
	o.logger.Info("indexing finished",
		"blocks_found", res.BlocksFound,
		"blocks_indexed", res.BlocksIndexed,
		"batch_errors", len(res.BatchErrors),
		"duration", res.Duration)
	return nil
}

// scan runs the scanner and folds its events into cumulative progress
func (o *Orchestrator) scan(ctx context.Context) (*scanner.Result, error) {
	o.state.SetMessage("scanning files")

	events := make(chan scanner.Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var found, indexed int
		for ev := range events {
			switch ev.Kind {
			case scanner.EventFileParsed:
				found += ev.Blocks
			case scanner.EventBatchIndexed:
				indexed += ev.Blocks
			case scanner.EventBatchError:
				o.logger.Warn("batch failed", "blocks", ev.Blocks, "error", ev.Err)
				continue
			}
			o.state.ReportProgress(indexed, found)
		}
	}()

	res, err := o.scanner.Scan(ctx, o.repo.RootPath, events)
	close(events)
	<-done
	return res, err
}

// evaluate decides whether a finished scan counts as a successful run
func evaluate(found, indexed int, batchErrors []error, lossThreshold float64) error {
	var first error
	if len(batchErrors) > 0 {
		first = batchErrors[0]
	}

	if found > 0 && indexed == 0 {
		if first != nil {
			return fmt.Errorf("%w: %w", ErrNoBlocksIndexed, first)
		}
		return ErrNoBlocksIndexed
	}
	if found > 0 && first != nil {
		loss := float64(found-indexed) / float64(found)
		if loss > lossThreshold {
			return fmt.Errorf("indexed %d of %d blocks: %w", indexed, found, first)
		}
	}
	if first != nil && indexed == 0 {
		return fmt.Errorf("all batches failed: %w", first)
	}
	return nil
}

// fail clears partial results, stops the watcher and enters Error
func (o *Orchestrator) fail(ctx context.Context, primary error) error {
	runErr := &RunError{Primary: primary}

	if err := o.store.ClearCollection(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("cleanup after failed run failed", "error", err)
		runErr.Cleanup = err
	}
	o.StopWatcher()

	if err := o.state.SetState(StateError, primary.Error()); err != nil {
		o.logger.Error("could not record failure", "error", err)
	}
	o.logger.Error("indexing failed", "error", primary)
	return runErr
}

func (o *Orchestrator) startWatcher(ctx context.Context) error {
	w, err := StartWatcher(context.WithoutCancel(ctx), o.repo.RootPath, o.scanner, o.cfg.WatchDebounce, o.cfg.Logger)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.watcher = w
	o.mu.Unlock()
	return nil
}

// StopWatcher stops the file watcher if one is running
func (o *Orchestrator) StopWatcher() {
	o.mu.Lock()
	w := o.watcher
	o.watcher = nil
	o.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

// ClearIndexData stops the watcher and drops the repository's collection.
// The state returns to Standby, or Error if the collection could not be
// deleted.
func (o *Orchestrator) ClearIndexData(ctx context.Context) error {
	if !o.lock.TryAcquire() {
		return ErrIndexingInProgress
	}
	defer o.lock.Release()

	o.StopWatcher()
	if err := o.store.DeleteCollection(ctx); err != nil {
		err = fmt.Errorf("delete collection: %w", err)
		if serr := o.state.SetState(StateError, err.Error()); serr != nil {
			o.logger.Error("could not record failure", "error", serr)
		}
		return err
	}
	o.logger.Info("index data deleted")
	return o.state.SetState(StateStandby, "")
}

// ClearIndex removes the repository's points but keeps the collection
func (o *Orchestrator) ClearIndex(ctx context.Context) error {
	if !o.lock.TryAcquire() {
		return ErrIndexingInProgress
	}
	defer o.lock.Release()

	o.StopWatcher()
	if err := o.store.ClearCollection(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	o.logger.Info("index cleared")
	return o.state.SetState(StateStandby, "")
}

// Busy reports whether an indexing or clear operation is running
func (o *Orchestrator) Busy() bool {
	return o.lock.Held()
}

// Retire takes the operation lock for good so nothing new can start on
// this orchestrator. It returns false if an operation is still running.
func (o *Orchestrator) Retire() bool {
	return o.lock.TryAcquire()
}

// Close stops the watcher and closes status subscriptions
func (o *Orchestrator) Close() {
	o.StopWatcher()
	o.state.Dispose()
}
