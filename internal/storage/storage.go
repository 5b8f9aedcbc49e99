package storage

import (
	"context"
	"time"
)

// Ledger records indexing runs and the repositories they belong to
type Ledger interface {
	// Repository operations
	UpsertRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, id string) (*Repository, error)
	ListRepositories(ctx context.Context) ([]*Repository, error)
	DeleteRepository(ctx context.Context, id string) error

	// Run operations
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID int64) (*Run, error)
	LatestRun(ctx context.Context, repositoryID string) (*Run, error)
	ListRuns(ctx context.Context, repositoryID string, limit int) ([]*Run, error)

	// Database operations
	Close() error
}

// Repository is a repository known to the ledger
type Repository struct {
	ID            string
	RootPath      string
	Collection    string
	Provider      string
	Model         string
	Dimension     int
	LastState     string
	LastIndexedAt time.Time // Zero until a run succeeds
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Run is one finished indexing run
type Run struct {
	ID            int64
	RepositoryID  string
	State         string
	Message       string
	FilesScanned  int
	FilesSkipped  int
	BlocksFound   int
	BlocksIndexed int
	BatchErrors   int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration is how long the run took
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// LossRatio is the fraction of found blocks that were not indexed
func (r *Run) LossRatio() float64 {
	if r.BlocksFound == 0 {
		return 0
	}
	return float64(r.BlocksFound-r.BlocksIndexed) / float64(r.BlocksFound)
}
