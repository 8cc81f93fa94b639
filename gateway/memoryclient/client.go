// Package memoryclient is the gateway's HTTP client for the memory service's
// internal surface.
package memoryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/pkg/otel"
	"github.com/nadia-ai/nadia/shared/httpclient"
)

// Memory is the subset of the memory service's record the gateway renders
// into context.
type Memory struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Tier      string    `json:"tier"`
	Content   string    `json:"content"`
	Priority  float64   `json:"priority"`
	Repeats   int       `json:"repeats"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecalledMemory pairs a memory with its fused recall score.
type RecalledMemory struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// ConversationHeader is one row of GET /conversations.
type ConversationHeader struct {
	ThreadID      string    `json:"threadId"`
	Label         string    `json:"label,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	MessageCount  int       `json:"messageCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// MessageEvent mirrors the memory service's ingest payload.
type MessageEvent struct {
	UserID    string `json:"userId"`
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	TokensIn  int    `json:"tokensIn"`
	TokensOut int    `json:"tokensOut"`
}

// SaveInput is the body of POST /memories.
type SaveInput struct {
	UserID   string  `json:"userId"`
	ThreadID string  `json:"threadId"`
	Content  string  `json:"content"`
	Tier     string  `json:"tier,omitempty"`
	Priority float64 `json:"priority,omitempty"`
}

// Client talks to the memory service with the internal service token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    httpclient.NewShort(httpclient.WithTransport(otel.NewPropagatingTransport(nil))),
	}
}

// RecallQuery parameterizes one hybrid recall call. KeywordOnly is the hint
// sent when hybrid recall is flagged off.
type RecallQuery struct {
	ThreadID    string
	Query       string
	MaxItems    int
	KeywordOnly bool
	Deadline    time.Duration
}

// Recall runs hybrid recall under the given deadline. The HTTP timeout rides
// slightly above the engine deadline so the engine's partial results win over
// a transport error.
func (c *Client) Recall(ctx context.Context, userID string, rq RecallQuery) ([]RecalledMemory, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("query", rq.Query)
	if rq.ThreadID != "" {
		q.Set("threadId", rq.ThreadID)
	}
	if rq.MaxItems > 0 {
		q.Set("maxItems", strconv.Itoa(rq.MaxItems))
	}
	if rq.KeywordOnly {
		q.Set("keywordOnly", "true")
	}
	if rq.Deadline >= 0 {
		q.Set("deadlineMs", strconv.FormatInt(rq.Deadline.Milliseconds(), 10))
	}

	callCtx, cancel := context.WithTimeout(ctx, rq.Deadline+200*time.Millisecond)
	defer cancel()

	var out struct {
		Memories []RecalledMemory `json:"memories"`
	}
	if err := c.get(callCtx, userID, "/recall?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Memories, nil
}

// Conversations lists the user's most recent threads, excluding the current
// one.
func (c *Client) Conversations(ctx context.Context, userID, excludeThreadID string, limit int) ([]ConversationHeader, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("limit", strconv.Itoa(limit))
	if excludeThreadID != "" {
		q.Set("exclude", excludeThreadID)
	}

	var out []ConversationHeader
	if err := c.get(ctx, userID, "/conversations?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Profile fetches the distilled user profile JSON.
func (c *Client) Profile(ctx context.Context, userID string) (json.RawMessage, error) {
	var out struct {
		Profile json.RawMessage `json:"profile"`
	}
	if err := c.get(ctx, userID, "/profile?userId="+url.QueryEscape(userID), &out); err != nil {
		return nil, err
	}
	return out.Profile, nil
}

// PostMessageEvent notifies the cadence tracker of one message. Callers fire
// this without waiting for business results; only transport errors surface.
func (c *Client) PostMessageEvent(ctx context.Context, ev MessageEvent) error {
	return c.post(ctx, ev.UserID, "/events/message", ev, nil)
}

// SaveMemory creates an explicit memory, honoring the dedup path on the
// service side.
func (c *Client) SaveMemory(ctx context.Context, in SaveInput) (*Memory, error) {
	var out Memory
	if err := c.post(ctx, in.UserID, "/memories", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, userID, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, userID, out)
}

func (c *Client) post(ctx context.Context, userID, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, userID, out)
}

func (c *Client) do(req *http.Request, userID string, out any) error {
	req.Header.Set("x-internal-service", c.token)
	if userID != "" {
		req.Header.Set("x-user-id", userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("memory service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("memory service %s %s: status %d: %s: %w",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)), domain.ErrUpstream)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode memory service response: %w", err)
	}
	return nil
}
