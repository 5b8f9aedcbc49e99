// Package manager is the entry point for indexing and searching
// repositories.
//
// A Registry hands out one Manager per repository id. A Manager builds the
// repository's embedder, vector store, scanner and orchestrator from a
// Config on Initialize and rebuilds them only when the configuration
// changes:
//
//	reg := manager.NewRegistry(manager.WithLedger(ledger))
//	defer reg.Close()
//
//	m := reg.Get(repo.ID)
//	if err := m.Initialize(ctx, cfg, repo); err != nil {
//	    return err
//	}
//	if err := m.StartIndexing(ctx); err != nil {
//	    return err
//	}
//	results, err := m.SearchIndex(ctx, "where are retries configured")
//
// Operations other than Initialize return ErrNotInitialized, without any
// network call, until Initialize succeeds.
package manager
