// Package recall captures every conversation turn, maintains per-thread
// labels, summaries, and embeddings through background jobs, and loads
// historical context back into live conversations when a trigger fires.
package recall

import (
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNoJob       = errors.New("no claimable job")
	ErrJobConflict = errors.New("job already queued for thread")
)

// ConversationMessage is one captured turn. Capture is idempotent on
// MessageID so gateway retries never double-count a turn.
type ConversationMessage struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"messageId"`
	ThreadID   string    `json:"threadId"`
	UserID     string    `json:"userId"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"tokenCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConversationPackage is the per-thread rollup: a short label, a running
// summary, and the counters that decide when background jobs are due.
type ConversationPackage struct {
	ThreadID         string     `json:"threadId"`
	UserID           string     `json:"userId"`
	Label            string     `json:"label,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	SummaryTokens    int        `json:"summaryTokens"`
	MessageCount     int        `json:"messageCount"`
	TotalTokens      int        `json:"totalTokens"`
	ImportanceScore  float64    `json:"importanceScore"`
	PrimaryTopic     string     `json:"primaryTopic,omitempty"`
	FirstMessageAt   time.Time  `json:"firstMessageAt"`
	LastMessageAt    time.Time  `json:"lastMessageAt"`
	LabelGeneratedAt *time.Time `json:"labelGeneratedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// ConversationEmbedding holds the per-thread vectors, written only once a
// summary exists. The content hash makes regeneration a no-op when the
// summary text has not changed.
type ConversationEmbedding struct {
	ThreadID          string          `json:"threadId"`
	LabelEmbedding    pgvector.Vector `json:"-"`
	SummaryEmbedding  pgvector.Vector `json:"-"`
	CombinedEmbedding pgvector.Vector `json:"-"`
	EmbeddingModel    string          `json:"embeddingModel"`
	Dimensions        int             `json:"embeddingDimensions"`
	ContentHash       string          `json:"contentHash"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Job types processed off the recall queue. Label, summary, and embedding
// jobs belong to the worker; audit and research jobs are claimed by the
// memory service's pools.
const (
	JobTypeLabel     = "label"
	JobTypeSummary   = "summary"
	JobTypeEmbedding = "embedding"
	JobTypeAudit     = "audit"
	JobTypeResearch  = "research"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// MaxJobAttempts bounds retries for a failed job before it is parked as
// failed for good.
const MaxJobAttempts = 3

// ResearchPayload rides on research jobs: the query the planner wanted
// researched for a turn.
type ResearchPayload struct {
	Query       string    `json:"query"`
	MessageID   string    `json:"messageId,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

type RecallJob struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"threadId"`
	UserID      string     `json:"userId"`
	JobType     string     `json:"jobType"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Payload     []byte     `json:"payload,omitempty"`
	RunAfter    time.Time  `json:"runAfter"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Trigger types, ordered from most to least explicit.
const (
	TriggerResume     = "resume"
	TriggerHistorical = "historical"
	TriggerSemantic   = "semantic"
)

// Trigger is a detected request to pull older conversation context into the
// current turn.
type Trigger struct {
	Type       string     `json:"type"`
	Confidence float64    `json:"confidence"`
	Topic      string     `json:"topic,omitempty"`
	Timeframe  *Timeframe `json:"timeframe,omitempty"`
}

// Timeframe is the window a historical trigger points at. The window is
// widened to at least five minutes, or half the distance between Start and
// End when that is larger.
type Timeframe struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Context-loading strategies, picked by archive size.
const (
	StrategyFull         = "full"
	StrategyHierarchical = "hierarchical"
	StrategyCompressed   = "compressed"
	StrategySnippet      = "snippet"
)

// Injection is the assembled historical context handed back to the prompt
// builder, capped at half the model's input budget.
type Injection struct {
	Strategy    string   `json:"strategy"`
	Trigger     Trigger  `json:"trigger"`
	ThreadIDs   []string `json:"threadIds"`
	Text        string   `json:"text"`
	TokensUsed  int      `json:"tokensUsed"`
	TokenBudget int      `json:"tokenBudget"`
	Truncated   bool     `json:"truncated"`
}

// RecallEvent is the audit row written for every injection attempt.
type RecallEvent struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"threadId"`
	UserID         string    `json:"userId"`
	MessageID      string    `json:"messageId,omitempty"`
	TriggerType    string    `json:"triggerType"`
	StrategyUsed   string    `json:"strategyUsed"`
	TokensInjected int       `json:"tokensInjected"`
	RelevanceScore float64   `json:"relevanceScore"`
	LatencyMs      int64     `json:"latencyMs"`
	Success        bool      `json:"success"`
	CreatedAt      time.Time `json:"createdAt"`
}
