// Package domain holds the memory service's core types: tiered memories,
// audit records, thread summaries, and user profiles.
package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("duplicate memory")
)

// Memory tiers. T1 holds facts seen across threads recently, T2 holds
// durable preferences and goals, T3 holds everything else.
const (
	TierCrossRecent = "T1"
	TierPrefsGoals  = "T2"
	TierGeneral     = "T3"
)

// MaxContentLength bounds memory content at write time.
const MaxContentLength = 1024

// TierPolicy carries the retention parameters of one tier.
type TierPolicy struct {
	TTL         time.Duration
	WeeklyDecay float64
}

// Policies keyed by tier.
var TierPolicies = map[string]TierPolicy{
	TierCrossRecent: {TTL: 120 * 24 * time.Hour, WeeklyDecay: 0.01},
	TierPrefsGoals:  {TTL: 365 * 24 * time.Hour, WeeklyDecay: 0.005},
	TierGeneral:     {TTL: 90 * 24 * time.Hour, WeeklyDecay: 0.02},
}

func ValidTier(tier string) bool {
	_, ok := TierPolicies[tier]
	return ok
}

// Memory is one compressed durable fact or preference. Content is
// PII-redacted before it is written and never mutated afterwards; re-mentions
// update the bookkeeping fields instead of inserting new rows.
type Memory struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	ThreadID       string            `json:"threadId"`
	SourceThreadID string            `json:"sourceThreadId,omitempty"`
	Tier           string            `json:"tier"`
	Content        string            `json:"content"`
	Keywords       []string          `json:"keywords,omitempty"`
	Entities       []string          `json:"entities,omitempty"`
	RedactionMap   map[string]string `json:"-"`
	Priority       float64           `json:"priority"`
	Confidence     float64           `json:"confidence"`
	Repeats        int               `json:"repeats"`
	ThreadSet      []string          `json:"threadSet,omitempty"`
	LastSeenAt     time.Time         `json:"lastSeenAt"`
	LastDecayAt    time.Time         `json:"-"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	DeletedAt      *time.Time        `json:"deletedAt,omitempty"`
	HasEmbedding   bool              `json:"hasEmbedding"`
}

// Expired reports whether the memory has outlived its tier TTL.
func (m *Memory) Expired(now time.Time) bool {
	policy, ok := TierPolicies[m.Tier]
	if !ok {
		return false
	}
	return now.Sub(m.LastSeenAt) > policy.TTL
}

// MemoryAudit records one run of the audit pipeline over a thread window.
type MemoryAudit struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ThreadID   string    `json:"threadId"`
	StartMsgID string    `json:"startMsgId,omitempty"`
	EndMsgID   string    `json:"endMsgId,omitempty"`
	TokenCount int       `json:"tokenCount"`
	Score      float64   `json:"score"`
	Saved      int       `json:"saved"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Summary length budgets in characters. Important threads get the longer
// budget.
const (
	SummaryMaxChars          = 500
	SummaryMaxCharsImportant = 800
)

// ThreadSummary is the single live summary of a thread, regenerated in place
// when stale.
type ThreadSummary struct {
	ThreadID   string     `json:"threadId"`
	UserID     string     `json:"userId"`
	Summary    string     `json:"summary"`
	LastMsgID  string     `json:"lastMsgId,omitempty"`
	TokenCount int        `json:"tokenCount"`
	Important  bool       `json:"important"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
}

// UserProfile is the distilled per-user attribute block rebuilt by audits.
type UserProfile struct {
	UserID      string    `json:"userId"`
	Profile     []byte    `json:"profile"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// RecallResult is one ranked memory returned by the recall engine.
type RecallResult struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// Recall fusion sources.
const (
	SourceFTS     = "fts"
	SourceVector  = "vector"
	SourceKeyword = "keyword"
)
