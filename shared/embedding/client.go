// Package embedding provides the embedding client shared by the memory
// service, the gateway, and the recall worker. It wraps the OpenAI-compatible
// embeddings endpoint with retries, a circuit breaker, and dimension checks.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nadia-ai/nadia/shared/llm"
)

const requestTimeout = 30 * time.Second

// Client generates embeddings with bounded retries. A tripped breaker makes
// Embed fail fast so callers can continue without vectors.
type Client struct {
	llm        *llm.Client
	model      string
	dimensions int
	breaker    *breaker
}

func NewClient(llmClient *llm.Client, model string, dimensions int) *Client {
	return &Client{
		llm:        llmClient,
		model:      model,
		dimensions: dimensions,
		breaker:    newBreaker(5, 30*time.Second),
	}
}

func (c *Client) Dimensions() int { return c.dimensions }
func (c *Client) Model() string   { return c.model }

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if !c.breaker.allow() {
		return nil, ErrBreakerOpen
	}

	var resp openai.EmbeddingResponse
	err := retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()
			var err error
			resp, err = c.llm.Embeddings(callCtx, openai.EmbeddingRequest{
				Input: texts,
				Model: openai.EmbeddingModel(c.model),
			})
			return err
		},
		retry.RetryIf(isRetryable),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("embedding retry", "attempt", n+1, "error", err)
		}),
	)
	c.breaker.record(err)
	if err != nil {
		return nil, fmt.Errorf("embed batch of %d: %w", len(texts), err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed batch: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embed batch: embedding index %d out of range", d.Index)
		}
		if c.dimensions > 0 && len(d.Embedding) != c.dimensions {
			return nil, fmt.Errorf("embed batch: got %d dimensions, want %d", len(d.Embedding), c.dimensions)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("embed batch: missing embedding for input %d", i)
		}
	}
	return vecs, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return true
		}
		return apiErr.HTTPStatusCode >= 500
	}
	return true
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
