package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/codeindex-mcp/internal/backoff"
	"github.com/dshills/codeindex-mcp/internal/chunker"
	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/observability"
	"github.com/dshills/codeindex-mcp/internal/vectorstore"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// Defaults
const (
	BatchSegmentThreshold      = 60
	ParsingConcurrency         = 10
	BatchProcessingConcurrency = 10
	MaxBatchRetries            = 3
	InitialRetryDelay          = 500 * time.Millisecond
	MaxRetryDelay              = 10 * time.Second
	MaxFileSize                = 1 << 20
)

// Embedder is the part of the embedding client the scanner needs
type Embedder interface {
	CreateEmbeddings(ctx context.Context, texts []string) (*embedder.Response, error)
}

// Store is the part of the vector store the scanner needs
type Store interface {
	Upsert(ctx context.Context, points []vectorstore.Point) error
	DeleteByFile(ctx context.Context, filePath string) error
}

// Config tunes the scanner
type Config struct {
	BatchSize          int           // Blocks per embed+upsert batch
	ParsingConcurrency int           // Files parsed at once
	BatchConcurrency   int           // Batches processed at once
	MaxFileSize        int64         // Larger files are skipped unopened
	MaxBatchRetries    int           // Attempts per batch
	RetryDelay         time.Duration // First retry delay, doubled per attempt
	Logger             *slog.Logger
}

// DefaultConfig returns the standard scanner settings
func DefaultConfig() Config {
	return Config{
		BatchSize:          BatchSegmentThreshold,
		ParsingConcurrency: ParsingConcurrency,
		BatchConcurrency:   BatchProcessingConcurrency,
		MaxFileSize:        MaxFileSize,
		MaxBatchRetries:    MaxBatchRetries,
		RetryDelay:         InitialRetryDelay,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.ParsingConcurrency <= 0 {
		c.ParsingConcurrency = def.ParsingConcurrency
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = def.BatchConcurrency
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = def.MaxFileSize
	}
	if c.MaxBatchRetries <= 0 {
		c.MaxBatchRetries = def.MaxBatchRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Result summarizes one scan
type Result struct {
	FilesScanned  int // Supported files found by the walk
	FilesParsed   int // Files that produced at least one block
	FilesSkipped  int // Oversized, unreadable or block-less files
	BlocksFound   int
	BlocksIndexed int
	BatchErrors   []error
	Duration      time.Duration
}

// Scanner walks a repository and drives chunking, embedding and upsert
type Scanner struct {
	chunker  *chunker.Chunker
	embedder Embedder
	store    Store
	cfg      Config
	logger   *slog.Logger
}

// New creates a Scanner. A nil chunker selects the default one.
func New(ch *chunker.Chunker, emb Embedder, store Store, cfg Config) *Scanner {
	if ch == nil {
		ch = chunker.New()
	}
	cfg = cfg.withDefaults()
	return &Scanner{
		chunker:  ch,
		embedder: emb,
		store:    store,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "scanner"),
	}
}

// tally accumulates counters shared by the parse and batch workers
type tally struct {
	parsed  atomic.Int64
	skipped atomic.Int64
	found   atomic.Int64
	indexed atomic.Int64

	mu     sync.Mutex
	errors []error
}

func (t *tally) addError(err error) {
	t.mu.Lock()
	t.errors = append(t.errors, err)
	t.mu.Unlock()
}

// Scan indexes every supported file under root. Progress is reported on
// events, which may be nil; sends block until received or ctx is done.
// Batch failures are collected in the result, never returned.
func (s *Scanner) Scan(ctx context.Context, root string, events chan<- Event) (*Result, error) {
	start := time.Now()
	ctx, span := observability.StartScanSpan(ctx, root)
	defer span.End()

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	files, oversized, err := discover(root, NewFilter(root), s.cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	s.logger.Info("scan started", "root", root, "files", len(files), "oversized", oversized)

	t := &tally{}
	t.skipped.Add(int64(oversized))

	// parse stage: bounded workers feed a single aggregator
	blocksCh := make(chan []types.CodeBlock, s.cfg.ParsingConcurrency)
	parseDone := make(chan error, 1)
	go func() {
		parseDone <- s.parseAll(ctx, root, files, blocksCh, events, t)
		close(blocksCh)
	}()

	// batch stage: the aggregator owns the pending batch; flushed batches run
	// under the batch semaphore
	sem := semaphore.NewWeighted(int64(s.cfg.BatchConcurrency))
	var wg sync.WaitGroup
	batch := make([]types.CodeBlock, 0, s.cfg.BatchSize)

	for blocks := range blocksCh {
		for _, b := range blocks {
			batch = append(batch, b)
			if len(batch) < s.cfg.BatchSize {
				continue
			}
			full := batch
			batch = make([]types.CodeBlock, 0, s.cfg.BatchSize)
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runBatch(ctx, sem, full, events, t)
			}()
		}
	}

	parseErr := <-parseDone

	if len(batch) > 0 {
		s.runBatch(ctx, sem, batch, events, t)
	}
	wg.Wait()

	res := &Result{
		FilesScanned:  len(files),
		FilesParsed:   int(t.parsed.Load()),
		FilesSkipped:  int(t.skipped.Load()),
		BlocksFound:   int(t.found.Load()),
		BlocksIndexed: int(t.indexed.Load()),
		BatchErrors:   t.errors,
		Duration:      time.Since(start),
	}

	if parseErr != nil {
		observability.RecordError(span, parseErr)
		return res, parseErr
	}

	s.logger.Info("scan finished",
		"root", root,
		"files", res.FilesScanned,
		"skipped", res.FilesSkipped,
		"blocks_found", res.BlocksFound,
		"blocks_indexed", res.BlocksIndexed,
		"batch_errors", len(res.BatchErrors),
		"duration", res.Duration)
	return res, nil
}

// parseAll chunks files under ParsingConcurrency workers. It only fails
// when ctx is cancelled.
func (s *Scanner) parseAll(ctx context.Context, root string, files []string, out chan<- []types.CodeBlock, events chan<- Event, t *tally) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ParsingConcurrency)

	for _, rel := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			blocks := s.chunker.ParseFile(root, rel)
			if len(blocks) == 0 {
				t.skipped.Add(1)
				return nil
			}
			t.parsed.Add(1)
			t.found.Add(int64(len(blocks)))

			if err := emit(gctx, events, Event{Kind: EventFileParsed, File: rel, Blocks: len(blocks)}); err != nil {
				return err
			}
			select {
			case out <- blocks:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// runBatch processes one batch under the semaphore and records the outcome
func (s *Scanner) runBatch(ctx context.Context, sem *semaphore.Weighted, blocks []types.CodeBlock, events chan<- Event, t *tally) {
	if err := sem.Acquire(ctx, 1); err != nil {
		t.addError(fmt.Errorf("batch of %d blocks not processed: %w", len(blocks), err))
		return
	}
	defer sem.Release(1)

	indexed, err := s.processBatch(ctx, blocks)
	if err != nil {
		s.logger.Error("batch failed", "blocks", len(blocks), "error", err)
		t.addError(err)
		_ = emit(ctx, events, Event{Kind: EventBatchError, Blocks: len(blocks), Err: err})
		return
	}

	t.indexed.Add(int64(indexed))
	_ = emit(ctx, events, Event{Kind: EventBatchIndexed, Blocks: indexed})
}

// processBatch embeds and upserts blocks, retrying the pair as a unit.
// It returns the number of points written.
func (s *Scanner) processBatch(ctx context.Context, blocks []types.CodeBlock) (int, error) {
	ctx, span := observability.StartBatchSpan(ctx, len(blocks))
	defer span.End()

	texts := make([]string, len(blocks))
	for i, b := range blocks {
		texts[i] = b.Content
	}

	retry := backoff.Config{
		MaxAttempts:  s.cfg.MaxBatchRetries,
		InitialDelay: s.cfg.RetryDelay,
		MaxDelay:     MaxRetryDelay,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			s.logger.Warn("batch attempt failed, retrying",
				"attempt", attempt+1, "delay", delay, "blocks", len(blocks), "error", err)
		},
	}

	n, err := backoff.Retry(ctx, retry, func(ctx context.Context, _ int) (int, error) {
		resp, err := s.embedder.CreateEmbeddings(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed: %w", err)
		}

		points := make([]vectorstore.Point, 0, len(resp.Embeddings))
		for i, vec := range resp.Embeddings {
			points = append(points, vectorstore.NewPoint(blocks[resp.Indices[i]], vec))
		}
		if len(resp.Skipped) > 0 {
			s.logger.Warn("blocks skipped by embedder", "count", len(resp.Skipped))
		}

		if err := s.store.Upsert(ctx, points); err != nil {
			return 0, fmt.Errorf("upsert: %w", err)
		}
		return len(points), nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return 0, fmt.Errorf("batch of %d blocks failed after %d attempts: %w", len(blocks), s.cfg.MaxBatchRetries, err)
	}
	return n, nil
}

// ProcessFile indexes a single file synchronously and returns the number
// of blocks written. Unsupported, oversized and empty files index nothing.
func (s *Scanner) ProcessFile(ctx context.Context, root, rel string) (int, error) {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.Size() > s.cfg.MaxFileSize || !chunker.IsSupported(rel) {
		return 0, nil
	}

	blocks := s.chunker.ParseFile(root, rel)
	total := 0
	var errs []error
	for start := 0; start < len(blocks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(blocks))
		n, err := s.processBatch(ctx, blocks[start:end])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

// RemoveFile deletes a file's points from the index
func (s *Scanner) RemoveFile(ctx context.Context, rel string) error {
	return s.store.DeleteByFile(ctx, rel)
}
