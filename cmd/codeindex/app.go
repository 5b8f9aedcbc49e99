package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dshills/codeindex-mcp/internal/config"
	"github.com/dshills/codeindex-mcp/internal/manager"
	"github.com/dshills/codeindex-mcp/internal/observability"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// app holds what every command builds from the settings
type app struct {
	settings *config.Settings
	logger   *slog.Logger
	ledger   *storage.SQLiteStorage
	registry *manager.Registry
	tracing  *observability.TracerProvider
}

// setup loads .env and settings, then opens the ledger. Commands that talk
// to the embedding provider or Qdrant pass validate.
func setup(cmd *cobra.Command, info buildInfo, validate bool) (*app, error) {
	_ = godotenv.Load()

	configFile, _ := cmd.Flags().GetString("config")
	settings, err := config.LoadSettingsWithFlags(cmd.Flags(), configFile)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if validate {
		if err := config.ValidateSettings(settings); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
	}

	logger, err := config.NewLogger(cmd.ErrOrStderr(), settings.LogLevel)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	config.LogWithLogger(settings, logger)

	tp, err := observability.InitTracing(cmd.Context(), observability.TracingConfig{
		ServiceName:    "codeindex",
		ServiceVersion: info.version,
		Endpoint:       settings.Tracing.Endpoint,
		SampleRate:     settings.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	ledger, err := storage.NewSQLiteStorage(settings.DBPath)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	return &app{
		settings: settings,
		logger:   logger,
		ledger:   ledger,
		registry: manager.NewRegistry(manager.WithLedger(ledger), manager.WithLogger(logger)),
		tracing:  tp,
	}, nil
}

func (a *app) close() {
	a.registry.Close()
	if err := a.ledger.Close(); err != nil {
		a.logger.Warn("failed to close ledger", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to flush traces", "error", err)
	}
}

// repository builds the repository info for a path argument
func repository(cmd *cobra.Command, path string) (types.RepositoryInfo, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return types.RepositoryInfo{}, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return types.RepositoryInfo{}, err
	}
	if !info.IsDir() {
		return types.RepositoryInfo{}, fmt.Errorf("%s is not a directory", root)
	}

	repo := types.RepositoryInfo{RootPath: root}
	if f := cmd.Flags().Lookup("id"); f != nil {
		repo.ID = f.Value.String()
	}
	if repo.ID == "" {
		repo.ID = manager.RepositoryIDForPath(root)
	}
	if f := cmd.Flags().Lookup("owner"); f != nil {
		repo.Owner = f.Value.String()
	}
	if f := cmd.Flags().Lookup("name"); f != nil {
		repo.Name = f.Value.String()
	}
	if repo.Owner != "" && repo.Name != "" {
		repo.FullName = repo.Owner + "/" + repo.Name
	}
	return repo, nil
}

// managerFor returns an initialized manager for repo
func (a *app) managerFor(ctx context.Context, repo types.RepositoryInfo) (*manager.Manager, error) {
	m := a.registry.Get(repo.ID)
	if m == nil {
		return nil, fmt.Errorf("registry closed")
	}
	if err := m.Initialize(ctx, a.settings.ManagerConfig(a.logger), repo); err != nil {
		return nil, err
	}
	return m, nil
}
