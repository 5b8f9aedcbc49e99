package manager

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/indexer"
	"github.com/dshills/codeindex-mcp/internal/scanner"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/internal/vectorstore"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// Common errors
var (
	ErrNotInitialized   = errors.New("index manager not initialized")
	ErrIndexingDisabled = errors.New("indexing is disabled")
	ErrEmptyQuery       = errors.New("search query is empty")
	ErrNoLedger         = errors.New("run history is not available")
)

// Factories build the external services. Tests replace them with fakes.
type Factories struct {
	NewEmbedder func(cfg embedder.Config) (embedder.Embedder, error)
	NewStore    func(cfg vectorstore.Config, repo types.RepositoryInfo) (vectorstore.VectorStore, error)
}

// DefaultFactories builds go-openai embedders and Qdrant stores
func DefaultFactories() Factories {
	return Factories{
		NewEmbedder: func(cfg embedder.Config) (embedder.Embedder, error) {
			return embedder.New(cfg)
		},
		NewStore: func(cfg vectorstore.Config, repo types.RepositoryInfo) (vectorstore.VectorStore, error) {
			return vectorstore.New(cfg, repo)
		},
	}
}

// services is one generation of a repository's collaborators
type services struct {
	cfg      Config
	repo     types.RepositoryInfo
	embedder embedder.Embedder
	store    vectorstore.VectorStore
	orch     *indexer.Orchestrator
	queries  *lru.Cache[[32]byte, []float32]
}

func (s *services) close(logger *slog.Logger) {
	s.orch.Close()
	if err := s.store.Close(); err != nil {
		logger.Warn("failed to close vector store", "error", err)
	}
	if err := s.embedder.Close(); err != nil {
		logger.Warn("failed to close embedder", "error", err)
	}
}

// Manager owns the services of one repository. Only Initialize builds or
// discards them; every other operation fails with ErrNotInitialized until
// Initialize has succeeded.
type Manager struct {
	repoID    string
	factories Factories
	ledger    storage.Ledger
	logger    *slog.Logger

	mu          sync.RWMutex
	svc         *services
	fingerprint string
	failure     *indexer.Status // set when the last Initialize failed
}

func newManager(repoID string, factories Factories, ledger storage.Ledger, logger *slog.Logger) *Manager {
	return &Manager{
		repoID:    repoID,
		factories: factories,
		ledger:    ledger,
		logger:    logger.With("component", "manager", "repository", repoID),
	}
}

// RepositoryID returns the repository this manager serves
func (m *Manager) RepositoryID() string {
	return m.repoID
}

// Initialize builds the services for cfg. Calling it again with the same
// configuration is a no-op; a different configuration stops the watcher,
// closes the old services and builds new ones. The embedder's credentials
// are validated before the new services are accepted.
func (m *Manager) Initialize(ctx context.Context, cfg Config, repo types.RepositoryInfo) error {
	if err := repo.Validate(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if repo.ID != m.repoID {
		return fmt.Errorf("initialize: repository %q does not belong to manager %q", repo.ID, m.repoID)
	}
	cfg.Search = cfg.Search.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	fp := fingerprint(cfg, repo)
	if m.svc != nil && fp == m.fingerprint {
		return nil
	}

	if m.svc != nil {
		if !m.svc.orch.Retire() {
			return indexer.ErrIndexingInProgress
		}
		m.logger.Info("configuration changed, rebuilding services")
		m.svc.close(m.logger)
		m.svc = nil
		m.fingerprint = ""
	}

	svc, err := m.build(ctx, cfg, repo)
	if err != nil {
		m.failure = &indexer.Status{
			RepositoryID: m.repoID,
			State:        indexer.StateError,
			Message:      err.Error(),
			UpdatedAt:    time.Now(),
		}
		m.logger.Error("initialization failed", "error", err)
		return err
	}

	m.svc = svc
	m.fingerprint = fp
	m.failure = nil

	if m.ledger != nil {
		rec := &storage.Repository{
			ID:         repo.ID,
			RootPath:   repo.RootPath,
			Collection: svc.store.CollectionName(),
			Provider:   svc.embedder.Provider(),
			Model:      svc.embedder.Model(),
			Dimension:  svc.embedder.Dimension(),
		}
		if err := m.ledger.UpsertRepository(ctx, rec); err != nil {
			m.logger.Warn("failed to record repository", "error", err)
		}
	}

	m.logger.Info("services initialized",
		"provider", svc.embedder.Provider(),
		"model", svc.embedder.Model(),
		"dimension", svc.embedder.Dimension(),
		"collection", svc.store.CollectionName())
	return nil
}

func (m *Manager) build(ctx context.Context, cfg Config, repo types.RepositoryInfo) (*services, error) {
	if cfg.Embedding.Logger == nil {
		cfg.Embedding.Logger = m.logger
	}
	emb, err := m.factories.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if err := emb.ValidateConfiguration(ctx); err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("validate embedder: %w", err)
	}

	if cfg.Qdrant.Dimension <= 0 {
		cfg.Qdrant.Dimension = emb.Dimension()
	}
	if cfg.Qdrant.Logger == nil {
		cfg.Qdrant.Logger = m.logger
	}
	store, err := m.factories.NewStore(cfg.Qdrant, repo)
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	queries, err := lru.New[[32]byte, []float32](cfg.Search.CacheSize)
	if err != nil {
		_ = store.Close()
		_ = emb.Close()
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	if cfg.Scanner.Logger == nil {
		cfg.Scanner.Logger = m.logger
	}
	if cfg.Indexer.Logger == nil {
		cfg.Indexer.Logger = m.logger
	}
	sc := scanner.New(nil, emb, store, cfg.Scanner)

	return &services{
		cfg:      cfg,
		repo:     repo,
		embedder: emb,
		store:    store,
		orch:     indexer.NewOrchestrator(repo, sc, store, cfg.Indexer),
		queries:  queries,
	}, nil
}

// Initialized reports whether services are built
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.svc != nil
}

// current returns the live services or ErrNotInitialized
func (m *Manager) current() (*services, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.svc == nil {
		return nil, ErrNotInitialized
	}
	return m.svc, nil
}

// StartIndexing runs a full indexing pass and records it in the ledger
func (m *Manager) StartIndexing(ctx context.Context) error {
	svc, err := m.current()
	if err != nil {
		return err
	}
	if !svc.cfg.Enabled {
		return ErrIndexingDisabled
	}

	err = svc.orch.StartIndexing(ctx)
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		return err
	}
	m.recordRun(ctx, svc.orch.LastRun())
	return err
}

func (m *Manager) recordRun(ctx context.Context, summary *indexer.RunSummary) {
	if m.ledger == nil || summary == nil {
		return
	}
	run := &storage.Run{
		RepositoryID:  summary.RepositoryID,
		State:         string(summary.State),
		Message:       summary.Message,
		FilesScanned:  summary.FilesScanned,
		FilesSkipped:  summary.FilesSkipped,
		BlocksFound:   summary.BlocksFound,
		BlocksIndexed: summary.BlocksIndexed,
		BatchErrors:   summary.BatchErrors,
		StartedAt:     summary.StartedAt,
		FinishedAt:    summary.FinishedAt,
	}
	if err := m.ledger.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		m.logger.Warn("failed to record run", "error", err)
	}
}

// StopWatcher stops the file watcher, if any
func (m *Manager) StopWatcher() error {
	svc, err := m.current()
	if err != nil {
		return err
	}
	svc.orch.StopWatcher()
	return nil
}

// Watching reports whether the file watcher is running
func (m *Manager) Watching() bool {
	svc, err := m.current()
	return err == nil && svc.orch.Watching()
}

// ClearIndexData drops the repository's collection
func (m *Manager) ClearIndexData(ctx context.Context) error {
	svc, err := m.current()
	if err != nil {
		return err
	}
	return svc.orch.ClearIndexData(ctx)
}

// ClearIndex removes the repository's points and keeps the collection
func (m *Manager) ClearIndex(ctx context.Context) error {
	svc, err := m.current()
	if err != nil {
		return err
	}
	return svc.orch.ClearIndex(ctx)
}

// SearchIndex embeds query and returns the closest blocks of this
// repository, best first. Query vectors are cached per model.
func (m *Manager) SearchIndex(ctx context.Context, query string) ([]types.SearchResult, error) {
	svc, err := m.current()
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	key := sha256.Sum256([]byte(svc.embedder.Model() + "\x00" + query))
	vec, ok := svc.queries.Get(key)
	if !ok {
		resp, err := svc.embedder.CreateEmbeddings(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(resp.Embeddings) == 0 {
			return nil, fmt.Errorf("embed query: %w: query exceeds the token limit", embedder.ErrInvalidInput)
		}
		vec = resp.Embeddings[0]
		svc.queries.Add(key, vec)
	}

	results, err := svc.store.Search(ctx, vec, svc.cfg.Search.minScore(), svc.cfg.Search.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	m.logger.Debug("search finished", "results", len(results), "cached_query", ok)
	return results, nil
}

// CurrentStatus returns the repository's indexing status. After a failed
// Initialize it reports Error with the failure message.
func (m *Manager) CurrentStatus() (indexer.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.svc != nil {
		return m.svc.orch.State(), nil
	}
	if m.failure != nil {
		return *m.failure, nil
	}
	return indexer.Status{}, ErrNotInitialized
}

// Subscribe streams status updates of the current services
func (m *Manager) Subscribe() (<-chan indexer.Status, func(), error) {
	svc, err := m.current()
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := svc.orch.StateMachine().Subscribe()
	return ch, cancel, nil
}

// IndexedCount asks the vector store how many points the repository has
func (m *Manager) IndexedCount(ctx context.Context) (int, error) {
	svc, err := m.current()
	if err != nil {
		return 0, err
	}
	return svc.store.CountByRepo(ctx)
}

// Runs returns the repository's latest runs, newest first
func (m *Manager) Runs(ctx context.Context, limit int) ([]*storage.Run, error) {
	if m.ledger == nil {
		return nil, ErrNoLedger
	}
	return m.ledger.ListRuns(ctx, m.repoID, limit)
}

// Close stops the watcher and releases the services
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.svc != nil {
		m.svc.close(m.logger)
		m.svc = nil
		m.fingerprint = ""
	}
}
