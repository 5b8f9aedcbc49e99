package manager

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/dshills/codeindex-mcp/internal/storage"
)

// Registry holds one Manager per repository id. It is the only place
// managers are created or discarded.
type Registry struct {
	factories Factories
	ledger    storage.Ledger
	logger    *slog.Logger

	mu       sync.Mutex
	managers map[string]*Manager
	closed   bool
}

// Option configures a Registry
type Option func(*Registry)

// WithFactories replaces the service constructors
func WithFactories(f Factories) Option {
	return func(r *Registry) { r.factories = f }
}

// WithLedger records runs in l
func WithLedger(l storage.Ledger) Option {
	return func(r *Registry) { r.ledger = l }
}

// WithLogger sets the logger handed to every manager
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: DefaultFactories(),
		logger:    slog.Default(),
		managers:  make(map[string]*Manager),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the manager for repositoryID, creating it on first use.
// It returns nil once the registry is closed.
func (r *Registry) Get(repositoryID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if m, ok := r.managers[repositoryID]; ok {
		return m
	}
	m := newManager(repositoryID, r.factories, r.ledger, r.logger)
	r.managers[repositoryID] = m
	return m
}

// Lookup returns an existing manager without creating one
func (r *Registry) Lookup(repositoryID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[repositoryID]
	return m, ok
}

// IDs lists the registered repository ids in order
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.managers))
	for id := range r.managers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Remove closes and forgets a repository's manager
func (r *Registry) Remove(repositoryID string) {
	r.mu.Lock()
	m, ok := r.managers[repositoryID]
	delete(r.managers, repositoryID)
	r.mu.Unlock()

	if ok {
		m.Close()
	}
}

// Close closes every manager. The registry cannot be used afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.closed = true
	r.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}

var unsafeIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// RepositoryIDForPath derives a stable repository id from a root path: the
// directory name plus a short hash of the cleaned absolute path, so two
// checkouts with the same name get different ids.
func RepositoryIDForPath(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	root = filepath.Clean(root)
	sum := sha256.Sum256([]byte(root))

	base := unsafeIDChars.ReplaceAllString(strings.ToLower(filepath.Base(root)), "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "repo"
	}
	return base + "-" + hex.EncodeToString(sum[:4])
}
