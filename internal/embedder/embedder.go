package embedder

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderFailed      = errors.New("embedding provider failed")
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
	ErrNoProviderEnabled   = errors.New("no embedding provider configured")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
)

// Usage is the token accounting reported by the provider
type Usage struct {
	PromptTokens int
	TotalTokens  int
}

func (u *Usage) add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.TotalTokens += o.TotalTokens
}

// Response holds the vectors for one CreateEmbeddings call.
//
// Embeddings[i] is the vector for texts[Indices[i]]. Texts listed in
// Skipped were over the per-item token limit and have no vector, so
// len(Embeddings) == len(texts) - len(Skipped).
type Response struct {
	Embeddings [][]float32
	Indices    []int
	Skipped    []int
	Usage      Usage
}

// Embedder turns texts into vectors
type Embedder interface {
	// CreateEmbeddings embeds texts in submission order, splitting them into
	// provider-sized sub-batches and retrying each sub-batch on failure
	CreateEmbeddings(ctx context.Context, texts []string) (*Response, error)

	// ValidateConfiguration makes one small request to confirm the
	// credentials and the configured dimension
	ValidateConfiguration(ctx context.Context) error

	// Dimension returns the vector size this embedder produces
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}
