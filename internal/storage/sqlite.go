package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidRun is returned for a run without a repository or state
	ErrInvalidRun = errors.New("invalid run")
)

// DefaultRunLimit bounds ListRuns when no limit is given
const DefaultRunLimit = 20

// SQLiteStorage implements Ledger using SQLite
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (or creates) the ledger at dbPath and applies
// pending migrations. Parent directories are created as needed.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository operations

// UpsertRepository creates or updates a repository, keeping its run state
func (s *SQLiteStorage) UpsertRepository(ctx context.Context, repo *Repository) error {
	if repo.ID == "" || repo.RootPath == "" {
		return fmt.Errorf("repository requires id and root path")
	}

	query := `
		INSERT INTO repositories (id, root_path, collection, provider, model, dimension, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			root_path = excluded.root_path,
			collection = excluded.collection,
			provider = excluded.provider,
			model = excluded.model,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		repo.ID, repo.RootPath, repo.Collection, repo.Provider, repo.Model, repo.Dimension, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert repository: %w", err)
	}
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now
	return nil
}

const repositoryColumns = `id, root_path, collection, provider, model, dimension, last_state, last_indexed_at, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*Repository, error) {
	var (
		repo          Repository
		provider      sql.NullString
		model         sql.NullString
		lastState     sql.NullString
		lastIndexedAt sql.NullTime
	)
	err := row.Scan(&repo.ID, &repo.RootPath, &repo.Collection, &provider, &model,
		&repo.Dimension, &lastState, &lastIndexedAt, &repo.CreatedAt, &repo.UpdatedAt)
	if err != nil {
		return nil, err
	}
	repo.Provider = provider.String
	repo.Model = model.String
	repo.LastState = lastState.String
	if lastIndexedAt.Valid {
		repo.LastIndexedAt = lastIndexedAt.Time
	}
	return &repo, nil
}

func (s *SQLiteStorage) GetRepository(ctx context.Context, id string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

func (s *SQLiteStorage) ListRepositories(ctx context.Context) ([]*Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// DeleteRepository removes a repository and its runs
func (s *SQLiteStorage) DeleteRepository(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Run operations

// RecordRun stores a finished run and updates the repository's last state
// in one transaction. The repository must exist.
func (s *SQLiteStorage) RecordRun(ctx context.Context, run *Run) error {
	if run.RepositoryID == "" || run.State == "" {
		return ErrInvalidRun
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.touchRepositoryWithQuerier(ctx, tx, run); err != nil {
		return err
	}
	if err := s.insertRunWithQuerier(ctx, tx, run); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) touchRepositoryWithQuerier(ctx context.Context, q querier, run *Run) error {
	query := `
		UPDATE repositories
		SET last_state = ?,
		    last_indexed_at = CASE WHEN ? THEN ? ELSE last_indexed_at END,
		    updated_at = ?
		WHERE id = ?
	`
	succeeded := run.State == "indexed"
	res, err := q.ExecContext(ctx, query,
		run.State, succeeded, run.FinishedAt.UTC(), s.now().UTC(), run.RepositoryID)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repository %s: %w", run.RepositoryID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) insertRunWithQuerier(ctx context.Context, q querier, run *Run) error {
	query := `
		INSERT INTO runs (repository_id, state, message, files_scanned, files_skipped,
			blocks_found, blocks_indexed, batch_errors, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := q.ExecContext(ctx, query,
		run.RepositoryID, run.State, run.Message, run.FilesScanned, run.FilesSkipped,
		run.BlocksFound, run.BlocksIndexed, run.BatchErrors,
		run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

const runColumns = `id, repository_id, state, message, files_scanned, files_skipped,
	blocks_found, blocks_indexed, batch_errors, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var (
		run     Run
		message sql.NullString
	)
	err := row.Scan(&run.ID, &run.RepositoryID, &run.State, &message,
		&run.FilesScanned, &run.FilesSkipped, &run.BlocksFound, &run.BlocksIndexed,
		&run.BatchErrors, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	run.Message = message.String
	return &run, nil
}

func (s *SQLiteStorage) GetRun(ctx context.Context, runID int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently started run of a repository
func (s *SQLiteStorage) LatestRun(ctx context.Context, repositoryID string) (*Run, error) {
	runs, err := s.ListRuns(ctx, repositoryID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns a repository's runs, newest first. A non-positive limit
// selects DefaultRunLimit.
func (s *SQLiteStorage) ListRuns(ctx context.Context, repositoryID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	query := `SELECT ` + runColumns + ` FROM runs
		WHERE repository_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

var _ Ledger = (*SQLiteStorage)(nil)
