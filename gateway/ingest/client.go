// Package ingest queries the optional document-ingestion upstream for
// excerpts relevant to a turn.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nadia-ai/nadia/pkg/otel"
	"github.com/nadia-ai/nadia/shared/httpclient"
)

// Chunk is one retrieved document excerpt.
type Chunk struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title,omitempty"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Client talks to the ingestion upstream. A nil client (unconfigured) makes
// Search return nothing.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns nil when baseURL is empty so call sites can keep a plain nil
// check.
func New(baseURL string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpclient.NewShort(httpclient.WithTransport(otel.NewPropagatingTransport(nil))),
	}
}

// Search returns the excerpts matching the query, best first.
func (c *Client) Search(ctx context.Context, userID, query string, limit int) ([]Chunk, error) {
	if c == nil {
		return nil, nil
	}

	q := url.Values{}
	q.Set("userId", userID)
	q.Set("query", query)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chunks?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build ingestion request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingestion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("ingestion upstream: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Chunks []Chunk `json:"chunks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ingestion response: %w", err)
	}
	return out.Chunks, nil
}
