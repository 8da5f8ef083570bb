// Package embedding wraps the OpenAI embeddings API behind a small adapter.
// Text goes in, a fixed-length dense vector comes out.
package embedding

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mnemohq/mnemo/internal/models"
	"github.com/mnemohq/mnemo/internal/util"
)

// DefaultModel produces 1536-dimensional vectors.
const DefaultModel = openai.SmallEmbedding3

// maxInputChars is the provider-side input cap. Longer text is truncated
// silently; the caller is not told content was shortened.
const maxInputChars = 8000

// attemptTimeout bounds a single embedding call so a stalled provider
// surfaces as an error instead of hanging the request.
const attemptTimeout = 30 * time.Second

// Config holds settings for the embedding client.
type Config struct {
	APIKey     string
	BaseURL    string // override for self-hosted OpenAI-compatible endpoints
	Model      openai.EmbeddingModel
	Dimension  int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns the stock configuration for the given API key.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:     apiKey,
		Model:      DefaultModel,
		Dimension:  models.EmbeddingDimension,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
}

// Client generates embeddings via the OpenAI API with bounded retries.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimension  int
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates an embedding client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = models.EmbeddingDimension
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		client:     openai.NewClientWithConfig(apiCfg),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Dimension returns the vector length this client produces.
func (c *Client) Dimension() int {
	return c.dimension
}

// Embed converts text to a dense vector. Input beyond the provider cap is
// truncated before submission. Provider failures surface as
// models.ErrEmbeddingProvider after the configured retries are exhausted.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > maxInputChars {
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character and submits invalid UTF-8.
		cut := maxInputChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingProvider, ctx.Err())
			case <-time.After(util.Backoff(c.retryDelay, attempt)):
			}
		}

		vec, err := c.embedOnce(ctx, text)
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			continue
		}
		return vec, nil
	}

	return nil, fmt.Errorf("%w: after %d attempts: %w", models.ErrEmbeddingProvider, c.maxRetries+1, lastErr)
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	vec := resp.Data[0].Embedding
	if len(vec) != c.dimension {
		return nil, fmt.Errorf("unexpected embedding dimension: got %d, want %d", len(vec), c.dimension)
	}
	return vec, nil
}
