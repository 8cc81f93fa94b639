package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nadia-ai/nadia/shared/capsule"
	"github.com/nadia-ai/nadia/shared/httpclient"
)

// Upstream talks to the web-research service. Its internals are a black
// box; the contract is one POST returning scored claims and sources.
type Upstream struct {
	baseURL string
	http    *http.Client
}

func NewUpstream(baseURL string, transport http.RoundTripper) *Upstream {
	return &Upstream{
		baseURL: baseURL,
		http:    httpclient.New(httpclient.WithTransport(transport)),
	}
}

type searchRequest struct {
	Query     string `json:"query"`
	MaxClaims int    `json:"maxClaims,omitempty"`
}

// SearchResult is the upstream's synthesis for one query.
type SearchResult struct {
	Claims   []capsule.Claim  `json:"claims"`
	Sources  []capsule.Source `json:"sources"`
	Entities []string         `json:"entities,omitempty"`
	Summary  string           `json:"summary,omitempty"`
	TTLClass string           `json:"ttlClass,omitempty"`
}

// Search runs one research query. The caller bounds it with a context
// deadline.
func (u *Upstream) Search(ctx context.Context, query string, maxClaims int) (*SearchResult, error) {
	body, err := json.Marshal(searchRequest{Query: query, MaxClaims: maxClaims})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search upstream status %d: %s", resp.StatusCode, string(b))
	}

	var result SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &result, nil
}
