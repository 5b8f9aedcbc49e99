package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/codeindex-mcp/internal/backoff"
	"github.com/dshills/codeindex-mcp/internal/observability"
)

// Retry defaults for a single sub-batch
const (
	MaxRetries   = 3
	InitialDelay = 500 * time.Millisecond
	MaxDelay     = 30 * time.Second
)

// DefaultRetryConfig returns the retry policy for embedding requests
func DefaultRetryConfig() backoff.Config {
	return backoff.Config{
		MaxAttempts:  MaxRetries,
		InitialDelay: InitialDelay,
		MaxDelay:     MaxDelay,
		Multiplier:   2,
	}
}

// backend performs one provider request with no retry
type backend interface {
	embed(ctx context.Context, texts []string) ([][]float32, Usage, error)
	close() error
}

// Client implements Embedder on top of a provider backend
type Client struct {
	backend   backend
	provider  string
	model     string
	dimension int
	limits    Limits
	retry     backoff.Config
	logger    *slog.Logger
}

var _ Embedder = (*Client)(nil)

// CreateEmbeddings embeds texts, packing them into sub-batches that respect
// the provider limits. Over-limit texts are skipped, never truncated.
func (c *Client) CreateEmbeddings(ctx context.Context, texts []string) (*Response, error) {
	resp := &Response{}
	if len(texts) == 0 {
		return resp, nil
	}

	batches, skipped := packBatches(texts, c.limits)
	for _, idx := range skipped {
		c.logger.Warn("skipping text over embedding token limit",
			"index", idx,
			"estimated_tokens", EstimateTokens(texts[idx]),
			"max_item_tokens", c.limits.MaxItemTokens)
	}
	resp.Skipped = skipped

	for _, b := range batches {
		vectors, usage, err := c.embedWithRetry(ctx, b.texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
		}
		resp.Embeddings = append(resp.Embeddings, vectors...)
		resp.Indices = append(resp.Indices, b.indices...)
		resp.Usage.add(usage)
	}

	return resp, nil
}

func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, Usage, error) {
	ctx, span := observability.StartEmbeddingSpan(ctx, c.provider, c.model, len(texts))
	defer span.End()

	type result struct {
		vectors [][]float32
		usage   Usage
	}

	cfg := c.retry
	userHook := cfg.OnRetry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		if IsRateLimit(err) {
			c.logger.Warn("embedding provider rate limited, backing off",
				"attempt", attempt+1, "delay", delay, "items", len(texts))
		} else {
			c.logger.Warn("embedding request failed, retrying",
				"attempt", attempt+1, "delay", delay, "error", err)
		}
		if userHook != nil {
			userHook(attempt, delay, err)
		}
	}

	r, err := backoff.Retry(ctx, cfg, func(ctx context.Context, _ int) (result, error) {
		vectors, usage, err := c.backend.embed(ctx, texts)
		if err != nil {
			return result{}, err
		}
		if len(vectors) != len(texts) {
			return result{}, backoff.Permanent(fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(texts)))
		}
		return result{vectors: vectors, usage: usage}, nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, Usage{}, err
	}

	observability.RecordUsage(span, r.usage.PromptTokens, r.usage.TotalTokens)
	return r.vectors, r.usage, nil
}

// ValidateConfiguration embeds a short test string once
func (c *Client) ValidateConfiguration(ctx context.Context) error {
	vectors, _, err := c.backend.embed(ctx, []string{"codeindex configuration check"})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("%w: validation returned %d vectors", ErrProviderFailed, len(vectors))
	}
	if len(vectors[0]) != c.dimension {
		return fmt.Errorf("%w: configured %d, provider returned %d", ErrDimensionMismatch, c.dimension, len(vectors[0]))
	}
	return nil
}

func (c *Client) Dimension() int {
	return c.dimension
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Close() error {
	return c.backend.close()
}

// IsRateLimit reports whether err is an HTTP 429 from the provider
func IsRateLimit(err error) bool {
	return statusCode(err) == http.StatusTooManyRequests
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
