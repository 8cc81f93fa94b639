// Package llm provides an OpenAI-compatible client used by all services for
// chat completions, streaming, and embeddings.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.GetTracerProvider().Tracer("shared/llm")

// Config holds the configuration for the LLM client.
type Config struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
	Transport  http.RoundTripper
	Timeout    time.Duration
}

// Option configures a Config.
type Option func(*Config)

// WithName tags the client with a provider name used in routing and logs.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithModel sets the default model for chat completions.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the default max tokens for completions.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) { c.MaxTokens = maxTokens }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithTransport sets a custom HTTP transport (e.g., for OTel tracing).
// Ignored if WithHTTPClient is also used.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Config) { c.Transport = rt }
}

// WithTimeout sets the HTTP client timeout. Streaming responses use no
// timeout; cancellation comes from the request context.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// Client wraps the OpenAI client with provider metadata.
type Client struct {
	*openai.Client
	Name      string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewClient creates an OpenAI-compatible client. BaseURL is the full API base
// (e.g. "https://api.openai.com/v1").
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	cfg := &Config{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		APIKey:    apiKey,
		Model:     "gpt-4o-mini",
		MaxTokens: 4096,
		Timeout:   120 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	openaiCfg := openai.DefaultConfig(cfg.APIKey)
	openaiCfg.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		openaiCfg.HTTPClient = cfg.HTTPClient
	} else {
		transport := cfg.Transport
		if transport == nil {
			transport = keepAliveTransport()
		}
		openaiCfg.HTTPClient = &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		}
	}

	return &Client{
		Client:    openai.NewClientWithConfig(openaiCfg),
		Name:      cfg.Name,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	}
}

// keepAliveTransport returns a transport tuned for long-lived streaming
// connections to a small set of provider hosts.
func keepAliveTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 8
	t.IdleConnTimeout = 90 * time.Second
	return t
}

// StreamChunk is one unit of a streamed chat completion.
type StreamChunk struct {
	Content      string
	FinishReason string
	Err          error
	Done         bool
}

// ChatCompletion wraps CreateChatCompletion with an OTel span.
func (c *Client) ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.Model
	}
	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.Name),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.request.max_tokens", req.MaxTokens),
		attribute.Int("llm.request.messages", len(req.Messages)),
	)

	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, fmt.Errorf("chat completion: %w", err)
	}
	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.output_tokens", resp.Usage.CompletionTokens),
	)
	return resp, nil
}

// Complete runs a single system+user exchange and returns the text of the
// first choice. Used by background generation (labels, summaries).
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.Model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	resp, err := c.ChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ChatStream opens a streaming completion and relays chunks on the returned
// channel. The channel is closed after a chunk with Done or Err set. Context
// cancellation aborts the upstream call.
func (c *Client) ChatStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan StreamChunk, error) {
	if req.Model == "" {
		req.Model = c.Model
	}
	req.Stream = true

	ctx, span := tracer.Start(ctx, "llm.chat_stream", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("llm.provider", c.Name),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.request.max_tokens", req.MaxTokens),
		attribute.Int("llm.request.messages", len(req.Messages)),
	)

	stream, err := c.Client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, fmt.Errorf("open chat stream: %w", err)
	}

	chunks := make(chan StreamChunk, 10)
	go func() {
		defer close(chunks)
		defer span.End()
		defer stream.Close()

		outputChars := 0
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				span.SetAttributes(attribute.Int("llm.response.content_length", outputChars))
				chunks <- StreamChunk{Done: true}
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				chunks <- StreamChunk{Err: err, Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			chunk := StreamChunk{
				Content:      choice.Delta.Content,
				FinishReason: string(choice.FinishReason),
			}
			outputChars += len(chunk.Content)

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				chunks <- StreamChunk{Err: ctx.Err(), Done: true}
				return
			}
		}
	}()

	return chunks, nil
}

// Embeddings wraps CreateEmbeddings with an OTel span.
func (c *Client) Embeddings(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.embeddings", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", string(req.Model)))

	resp, err := c.Client.CreateEmbeddings(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, fmt.Errorf("create embeddings: %w", err)
	}
	span.SetAttributes(attribute.Int("llm.response.embeddings", len(resp.Data)))
	return resp, nil
}
