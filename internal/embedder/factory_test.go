package embedder

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		wantDim int
		model   string
	}{
		{"openai", Config{Provider: "openai", APIKey: "sk-test"}, nil, OpenAIDimension, DefaultOpenAIModel},
		{"openai uppercase", Config{Provider: "OpenAI", APIKey: "sk-test"}, nil, OpenAIDimension, DefaultOpenAIModel},
		{"openai large", Config{Provider: "openai", APIKey: "sk-test", Model: "text-embedding-3-large"}, nil, 3072, "text-embedding-3-large"},
		{"openai explicit dimension", Config{Provider: "openai", APIKey: "sk-test", Dimension: 512}, nil, 512, DefaultOpenAIModel},
		{"openai without key", Config{Provider: "openai"}, ErrNoProviderEnabled, 0, ""},
		{"jina", Config{Provider: "jina", APIKey: "jina-test"}, nil, JinaDimension, DefaultJinaModel},
		{"compatible without url", Config{Provider: "openai-compatible"}, ErrNoProviderEnabled, 0, ""},
		{"compatible", Config{Provider: "openai-compatible", BaseURL: "http://localhost:11434/v1", Model: "nomic-embed-text", Dimension: 768}, nil, 768, "nomic-embed-text"},
		{"local", Config{Provider: "local"}, nil, LocalDimension, DefaultLocalModel},
		{"empty", Config{}, ErrNoProviderEnabled, 0, ""},
		{"unknown", Config{Provider: "cohere"}, ErrUnsupportedProvider, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer c.Close()
			assert.Equal(t, tt.wantDim, c.Dimension())
			assert.Equal(t, tt.model, c.Model())
			assert.Equal(t, strings.ToLower(tt.cfg.Provider), c.Provider())
		})
	}
}

func TestNew_DimensionsRequestedOnlyWhenSupported(t *testing.T) {
	c, err := New(Config{Provider: "openai", APIKey: "k", Dimension: 256})
	require.NoError(t, err)
	assert.Equal(t, 256, c.backend.(*openaiBackend).dimensions)

	c, err = New(Config{Provider: "openai", APIKey: "k", Model: "text-embedding-ada-002", Dimension: 1536})
	require.NoError(t, err)
	assert.Equal(t, 0, c.backend.(*openaiBackend).dimensions)
}

func TestLocalProvider(t *testing.T) {
	c, err := New(Config{Provider: ProviderLocal, Dimension: 64})
	require.NoError(t, err)

	resp, err := c.CreateEmbeddings(context.Background(), []string{"func main() {}", "func main() {}", "other"})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)

	assert.Len(t, resp.Embeddings[0], 64)
	assert.Equal(t, resp.Embeddings[0], resp.Embeddings[1], "local embeddings are deterministic")
	assert.NotEqual(t, resp.Embeddings[0], resp.Embeddings[2])

	var norm float32
	for _, v := range resp.Embeddings[0] {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-4)

	assert.NoError(t, c.ValidateConfiguration(context.Background()))
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
}
