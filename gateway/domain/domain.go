// Package domain holds the gateway's core types: messages, thread summary
// cache rows, cost records, and the SSE event vocabulary.
package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRateLimited     = errors.New("rate limited")
	ErrBackpressure    = errors.New("too many concurrent streams")
	ErrUpstream        = errors.New("upstream error")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant || role == RoleSystem
}

// Message is one atomic unit of dialogue. Messages are append-only; the
// (ThreadID, CreatedAt, ID) triple is the thread's total order.
type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"threadId"`
	UserID    string         `json:"userId"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	TokensIn  int            `json:"tokensIn,omitempty"`
	TokensOut int            `json:"tokensOut,omitempty"`
	Important bool           `json:"important,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	DeletedAt *time.Time     `json:"deletedAt,omitempty"`
}

// ThreadSummary is the gateway's cached copy of a memory-service summary,
// served as a fallback context source when the memory service is down.
type ThreadSummary struct {
	ThreadID   string     `json:"threadId"`
	UserID     string     `json:"userId"`
	Summary    string     `json:"summary"`
	LastMsgID  string     `json:"lastMsgId,omitempty"`
	TokenCount int        `json:"tokenCount"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
}

// CostRecord tracks the token spend of one turn.
type CostRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ThreadID  string    `json:"threadId"`
	RequestID string    `json:"requestId"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	TokensIn  int       `json:"tokensIn"`
	TokensOut int       `json:"tokensOut"`
	CostUSD   float64   `json:"costUsd"`
	CreatedAt time.Time `json:"createdAt"`
}

// SSE event types. One Go variant per wire event; encoding happens at a
// single boundary in the stream writer.
const (
	EventDelta           = "delta"
	EventResearchCapsule = "research_capsule"
	EventResearchSummary = "research_summary"
	EventSources         = "sources"
	EventThinkingStep    = "thinking_step"
	EventDone            = "done"
	EventError           = "error"
)

// Event is a tagged SSE event. Exactly one payload field is set, matching
// Type.
type Event struct {
	Type     string
	Delta    *DeltaEvent
	Capsule  any
	Research *ResearchSummaryEvent
	Sources  *SourcesEvent
	Thinking *ThinkingStepEvent
	Error    *ErrorEvent
}

type DeltaEvent struct {
	Text string `json:"text"`
}

type ResearchSummaryEvent struct {
	Summary string   `json:"summary"`
	Sources []Source `json:"sources"`
}

type SourcesEvent struct {
	Sources []Source `json:"sources"`
}

// Source mirrors the capsule source shape for UI-facing events.
type Source struct {
	Host string `json:"host"`
	URL  string `json:"url"`
	Date string `json:"date,omitempty"`
}

type ThinkingStepEvent struct {
	Label string `json:"label"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Payload returns the JSON-encodable body for the event's type. Done events
// carry an empty object.
func (e Event) Payload() any {
	switch e.Type {
	case EventDelta:
		return e.Delta
	case EventResearchCapsule:
		return e.Capsule
	case EventResearchSummary:
		return e.Research
	case EventSources:
		return e.Sources
	case EventThinkingStep:
		return e.Thinking
	case EventError:
		return e.Error
	default:
		return struct{}{}
	}
}

func Delta(text string) Event {
	return Event{Type: EventDelta, Delta: &DeltaEvent{Text: text}}
}

func Thinking(label string) Event {
	return Event{Type: EventThinkingStep, Thinking: &ThinkingStepEvent{Label: label}}
}

func Done() Event {
	return Event{Type: EventDone}
}

func StreamError(code, message string) Event {
	return Event{Type: EventError, Error: &ErrorEvent{Code: code, Message: message}}
}
