package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Provider configuration
const (
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai-compatible"
	ProviderJina             = "jina"
	ProviderLocal            = "local"

	// Default models
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultLocalModel  = "local-hash"

	// Dimensions
	OpenAIDimension = 1536
	JinaDimension   = 1024
	LocalDimension  = 384

	// JinaBaseURL serves an OpenAI-compatible embeddings endpoint
	JinaBaseURL = "https://api.jina.ai/v1"
)

// DefaultModel returns the model used when none is configured
func DefaultModel(provider string) string {
	switch provider {
	case ProviderJina:
		return DefaultJinaModel
	case ProviderLocal:
		return DefaultLocalModel
	default:
		return DefaultOpenAIModel
	}
}

// DefaultDimension returns the native vector size of a model
func DefaultDimension(provider, model string) int {
	switch {
	case provider == ProviderLocal:
		return LocalDimension
	case provider == ProviderJina:
		return JinaDimension
	case model == "text-embedding-3-large":
		return 3072
	default:
		return OpenAIDimension
	}
}

// supportsDimensions reports whether the model accepts a requested output size
func supportsDimensions(model string) bool {
	return strings.HasPrefix(model, "text-embedding-3") || strings.HasPrefix(model, "jina-embeddings-v3")
}

// openaiBackend speaks the OpenAI embeddings wire format. It also serves
// Jina and any OpenAI-compatible endpoint via the base URL.
type openaiBackend struct {
	client     *openai.Client
	model      string
	dimensions int // requested output size, 0 for the model default
}

func (o *openaiBackend) embed(ctx context.Context, texts []string) ([][]float32, Usage, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dimensions,
	})
	if err != nil {
		return nil, Usage{}, err
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, Usage{}, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, Usage{}, fmt.Errorf("no embedding returned for input %d", i)
		}
	}

	return vectors, Usage{
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

func (o *openaiBackend) close() error {
	return nil
}

// localBackend produces deterministic hash-derived unit vectors. It needs
// no network and is meant for offline use and tests; similar texts are not
// close in this space.
type localBackend struct {
	dimension int
}

func (l *localBackend) embed(_ context.Context, texts []string) ([][]float32, Usage, error) {
	vectors := make([][]float32, len(texts))
	var usage Usage
	for i, text := range texts {
		vectors[i] = hashVector(text, l.dimension)
		usage.PromptTokens += EstimateTokens(text)
	}
	usage.TotalTokens = usage.PromptTokens
	return vectors, usage, nil
}

func (l *localBackend) close() error {
	return nil
}

func hashVector(text string, dim int) []float32 {
	seed := sha256.Sum256([]byte(text))
	v := make([]float32, dim)

	var block [sha256.Size]byte
	var buf [sha256.Size + 8]byte
	copy(buf[:], seed[:])
	for i := 0; i < dim; i++ {
		if i%sha256.Size == 0 {
			binary.BigEndian.PutUint64(buf[sha256.Size:], uint64(i/sha256.Size))
			block = sha256.Sum256(buf[:])
		}
		v[i] = float32(block[i%sha256.Size])/255.0 - 0.5
	}
	return NormalizeVector(v)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
