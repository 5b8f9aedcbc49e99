package embedder

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/codeindex-mcp/internal/backoff"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string // Empty selects the provider default
	BaseURL   string // Required for openai-compatible
	Dimension int    // Empty selects the model's native size

	Limits     Limits
	Retry      backoff.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates an embedder with explicit configuration
func New(cfg Config) (*Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		return nil, ErrNoProviderEnabled
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel(provider)
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = DefaultDimension(provider, model)
	}

	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		hook := retry.OnRetry
		retry = DefaultRetryConfig()
		retry.OnRetry = hook
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var b backend
	switch provider {
	case ProviderOpenAI, ProviderJina, ProviderOpenAICompatible:
		ob, err := newOpenAIBackend(provider, model, cfg)
		if err != nil {
			return nil, err
		}
		b = ob
	case ProviderLocal:
		b = &localBackend{dimension: dimension}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}

	return &Client{
		backend:   b,
		provider:  provider,
		model:     model,
		dimension: dimension,
		limits:    cfg.Limits.withDefaults(),
		retry:     retry,
		logger:    logger.With("component", "embedder", "provider", provider),
	}, nil
}

func newOpenAIBackend(provider, model string, cfg Config) (*openaiBackend, error) {
	baseURL := cfg.BaseURL
	switch provider {
	case ProviderOpenAI, ProviderJina:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %s requires an API key", ErrNoProviderEnabled, provider)
		}
		if provider == ProviderJina && baseURL == "" {
			baseURL = JinaBaseURL
		}
	case ProviderOpenAICompatible:
		if baseURL == "" {
			return nil, fmt.Errorf("%w: %s requires a base URL", ErrNoProviderEnabled, provider)
		}
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		oc.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	ob := &openaiBackend{
		client: openai.NewClientWithConfig(oc),
		model:  model,
	}
	if cfg.Dimension > 0 && supportsDimensions(model) {
		ob.dimensions = cfg.Dimension
	}
	return ob, nil
}
