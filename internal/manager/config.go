package manager

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/indexer"
	"github.com/dshills/codeindex-mcp/internal/scanner"
	"github.com/dshills/codeindex-mcp/internal/vectorstore"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// Search defaults
const (
	SearchMinScore   = 0.4
	MaxSearchResults = 50
	DefaultCacheSize = 1000
)

// SearchConfig bounds search results
type SearchConfig struct {
	MinScore   *float32 // nil uses SearchMinScore, zero disables the threshold
	MaxResults int
	CacheSize  int // Cached query vectors
}

func (c SearchConfig) withDefaults() SearchConfig {
	if c.MaxResults <= 0 {
		c.MaxResults = MaxSearchResults
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}

func (c SearchConfig) minScore() float32 {
	if c.MinScore == nil {
		return SearchMinScore
	}
	return *c.MinScore
}

// Config is everything needed to build a repository's services
type Config struct {
	Enabled   bool
	Embedding embedder.Config
	Qdrant    vectorstore.Config
	Scanner   scanner.Config
	Indexer   indexer.Config
	Search    SearchConfig
}

// fingerprint identifies the settings that require rebuilding services.
// Loggers, HTTP clients and hooks are not part of it.
func fingerprint(cfg Config, repo types.RepositoryInfo) string {
	e, q, s, i := cfg.Embedding, cfg.Qdrant, cfg.Scanner, cfg.Indexer
	h := sha256.New()
	fmt.Fprintf(h, "embedding|%s|%s|%s|%s|%d|%+v|%d|%s|%s|%g\n",
		e.Provider, e.APIKey, e.Model, e.BaseURL, e.Dimension, e.Limits,
		e.Retry.MaxAttempts, e.Retry.InitialDelay, e.Retry.MaxDelay, e.Retry.Multiplier)
	fmt.Fprintf(h, "qdrant|%s|%d|%s|%t|%d\n", q.Host, q.Port, q.APIKey, q.UseTLS, q.Dimension)
	fmt.Fprintf(h, "scanner|%d|%d|%d|%d|%d|%s\n",
		s.BatchSize, s.ParsingConcurrency, s.BatchConcurrency, s.MaxFileSize, s.MaxBatchRetries, s.RetryDelay)
	fmt.Fprintf(h, "indexer|%g|%t|%s\n", i.LossThreshold, i.Watch, i.WatchDebounce)
	fmt.Fprintf(h, "search|%g|%d|%d\n", cfg.Search.minScore(), cfg.Search.MaxResults, cfg.Search.CacheSize)
	fmt.Fprintf(h, "repo|%s|%s|%s|%s|%s|%s|%s|%s|%v\n",
		repo.ID, repo.RootPath, repo.Owner, repo.Name, repo.FullName, repo.URL, repo.CloneURL, repo.DefaultBranch, repo.Languages)
	return hex.EncodeToString(h.Sum(nil))
}
