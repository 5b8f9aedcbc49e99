package vectorstore

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

// CollectionPrefix namespaces collections owned by this module
const CollectionPrefix = "codeindex_"

// Common errors
var (
	ErrDimensionMismatch = errors.New("collection vector size does not match embedding dimension")
	ErrEmptyVector       = errors.New("point vector is empty")
	ErrInvalidDimension  = errors.New("vector dimension must be positive")
)

// Point is one embedded block ready for upsert
type Point struct {
	ID     string
	Vector []float32
	Block  types.CodeBlock
}

// NewPoint pairs a block with its vector under a fresh UUID
func NewPoint(block types.CodeBlock, vector []float32) Point {
	return Point{
		ID:     uuid.NewString(),
		Vector: vector,
		Block:  block,
	}
}

// VectorStore is the per-repository vector index
type VectorStore interface {
	// Initialize creates the collection if absent. created is true only when
	// this call created it.
	Initialize(ctx context.Context) (created bool, err error)

	Upsert(ctx context.Context, points []Point) error

	// Search returns at most maxResults blocks of this repository scoring at
	// least minScore, best first
	Search(ctx context.Context, vector []float32, minScore float32, maxResults int) ([]types.SearchResult, error)

	// ClearCollection removes this repository's points and keeps the collection
	ClearCollection(ctx context.Context) error

	// DeleteCollection drops the collection entirely
	DeleteCollection(ctx context.Context) error

	// DeleteByFile removes the points of one file
	DeleteByFile(ctx context.Context, filePath string) error

	// CountByRepo returns the exact number of points for this repository
	CountByRepo(ctx context.Context) (int, error)

	CollectionName() string
	Close() error
}

var invalidCollectionChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// CollectionName derives the collection for a repository id
func CollectionName(repositoryID string) string {
	name := invalidCollectionChars.ReplaceAllString(strings.ToLower(repositoryID), "_")
	return CollectionPrefix + strings.Trim(name, "_")
}
