package config

import (
	"log/slog"

	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/indexer"
	"github.com/dshills/codeindex-mcp/internal/manager"
	"github.com/dshills/codeindex-mcp/internal/scanner"
	"github.com/dshills/codeindex-mcp/internal/vectorstore"
)

// ManagerConfig converts settings into the configuration a manager
// builds its services from
func (s *Settings) ManagerConfig(logger *slog.Logger) manager.Config {
	sc := scanner.DefaultConfig()
	sc.BatchSize = s.Indexing.BatchSize
	sc.ParsingConcurrency = s.Indexing.ParsingConcurrency
	sc.BatchConcurrency = s.Indexing.MaxConcurrentJobs
	sc.MaxFileSize = s.Indexing.MaxFileSize
	sc.MaxBatchRetries = s.Indexing.MaxBatchRetries
	sc.Logger = logger
	minScore := float32(s.Search.MinScore)

	return manager.Config{
		Enabled: s.Indexing.Enabled,
		Embedding: embedder.Config{
			Provider:  s.Embedding.Provider,
			APIKey:    s.Embedding.APIKey,
			Model:     s.Embedding.Model,
			BaseURL:   s.Embedding.BaseURL,
			Dimension: s.Embedding.Dimension,
			Logger:    logger,
		},
		Qdrant: vectorstore.Config{
			Host:   s.Qdrant.Host,
			Port:   s.Qdrant.Port,
			APIKey: s.Qdrant.APIKey,
			UseTLS: s.Qdrant.UseTLS,
			Logger: logger,
		},
		Scanner: sc,
		Indexer: indexer.Config{
			LossThreshold: s.Indexing.LossThreshold,
			Watch:         s.Indexing.Watch,
			WatchDebounce: s.Indexing.WatchDebounce,
			Logger:        logger,
		},
		Search: manager.SearchConfig{
			MinScore:   &minScore,
			MaxResults: s.Search.MaxResults,
			CacheSize:  s.Search.CacheSize,
		},
	}
}
