// Package pipeline orchestrates one chat turn: query analysis, the context
// gather fan-out, prompt assembly, model routing, upstream streaming, and the
// fire-and-forget persistence that follows.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/nadia-ai/nadia/gateway/analyzer"
	"github.com/nadia-ai/nadia/gateway/config"
	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/gateway/ingest"
	"github.com/nadia-ai/nadia/gateway/memoryclient"
	"github.com/nadia-ai/nadia/gateway/modelrouter"
	"github.com/nadia-ai/nadia/gateway/planner"
	"github.com/nadia-ai/nadia/gateway/prompt"
	"github.com/nadia-ai/nadia/gateway/research"
	"github.com/nadia-ai/nadia/gateway/store"
	gwotel "github.com/nadia-ai/nadia/pkg/otel"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/id"
	"github.com/nadia-ai/nadia/shared/llm"
	"github.com/nadia-ai/nadia/shared/tokens"
)

var tracer = otel.GetTracerProvider().Tracer("gateway/pipeline")

// Pipeline carries the wired collaborators for turn processing.
type Pipeline struct {
	cfg      *config.Config
	store    *store.Store
	memory   *memoryclient.Client
	capture  *recall.Capture
	detector *recall.Detector
	loader   *recall.Loader
	ingest   *ingest.Client
	injector *research.Injector
	jobs     *recall.Store
	router   *modelrouter.Router
	primary  *llm.Client
	fallback *llm.Client
	log      *slog.Logger
}

// Deps lists the pipeline's collaborators. Optional entries (Ingest,
// Injector, Fallback) may be nil.
type Deps struct {
	Store    *store.Store
	Memory   *memoryclient.Client
	Capture  *recall.Capture
	Detector *recall.Detector
	Loader   *recall.Loader
	Ingest   *ingest.Client
	Injector *research.Injector
	Jobs     *recall.Store
	Router   *modelrouter.Router
	Primary  *llm.Client
	Fallback *llm.Client
	Log      *slog.Logger
}

func New(cfg *config.Config, d Deps) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    d.Store,
		memory:   d.Memory,
		capture:  d.Capture,
		detector: d.Detector,
		loader:   d.Loader,
		ingest:   d.Ingest,
		injector: d.Injector,
		jobs:     d.Jobs,
		router:   d.Router,
		primary:  d.Primary,
		fallback: d.Fallback,
		log:      d.Log,
	}
}

// TurnInput is the validated body of POST /chat/stream. UserID never comes
// from the wire; the auth middleware resolves it.
type TurnInput struct {
	UserID      string         `json:"-"`
	ThreadID    string         `json:"threadId"`
	Messages    []InputMessage `json:"messages"`
	Model       string         `json:"model"`
	Provider    string         `json:"provider"`
	MaxTokens   int            `json:"maxTokens"`
	Temperature float32        `json:"temperature"`
}

type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is a prepared request: everything decided before the first upstream
// byte. Message IDs are minted here so capture, research payloads, and
// persistence all agree on them.
type Turn struct {
	RequestID          string
	ThreadID           string
	UserID             string
	UserMessageID      string
	AssistantMessageID string
	Input              TurnInput
	Analysis           analyzer.Analysis
	Plan               planner.Plan
	Gathered           Gathered
	Route              modelrouter.Route
	Request            openai.ChatCompletionRequest
	StartedAt          time.Time
	// InputTokens estimates the assembled prompt size for budgeting and
	// cost rows.
	InputTokens int
}

// LastUserMessage returns the text the turn is about.
func (in TurnInput) LastUserMessage() string {
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if in.Messages[i].Role == domain.RoleUser {
			return in.Messages[i].Content
		}
	}
	return ""
}

// Validate enforces the request contract.
func (in TurnInput) Validate() error {
	if len(in.Messages) == 0 {
		return domain.ErrInvalidInput
	}
	for _, m := range in.Messages {
		if !domain.ValidRole(m.Role) {
			return domain.ErrInvalidInput
		}
	}
	if in.LastUserMessage() == "" {
		return domain.ErrInvalidInput
	}
	return nil
}

// Prepare runs the pre-stream half of the turn: analysis, planning, the
// gather fan-out, context preprocessing, prompt assembly, and routing.
// Failures in optional layers degrade; only a broken request errors.
func (p *Pipeline) Prepare(ctx context.Context, in TurnInput) (*Turn, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "pipeline.prepare")
	defer span.End()

	turn := &Turn{
		RequestID:          id.NewRequest(),
		UserID:             in.UserID,
		ThreadID:           in.ThreadID,
		UserMessageID:      id.NewMessage(),
		AssistantMessageID: id.NewMessage(),
		Input:              in,
		StartedAt:          time.Now().UTC(),
	}
	if turn.ThreadID == "" {
		turn.ThreadID = id.NewThread()
	}
	span.SetAttributes(gwotel.ThreadID(turn.ThreadID), gwotel.RequestID(turn.RequestID))
	ctx = gwotel.WithRequestID(ctx, turn.RequestID)

	lastUser := in.LastUserMessage()
	turn.Analysis = analyzer.Analyze(lastUser, len(in.Messages)-1)
	turn.Plan = planner.Build(turn.Analysis, p.cfg.Flags, p.cfg.IsEmbeddingConfigured())
	p.log.Debug("turn analyzed",
		"request_id", turn.RequestID,
		"query", truncateForLog(lastUser, 120),
		"plan_memory", turn.Plan.Memory,
		"plan_web", turn.Plan.Web,
		"plan_unlimited", turn.Plan.Unlimited)

	turn.Gathered = p.gather(ctx, turn, lastUser)

	p.buildRequest(turn)

	p.log.Info("turn prepared",
		"request_id", turn.RequestID,
		"thread_id", turn.ThreadID,
		"intent", turn.Analysis.Intent,
		"complexity", turn.Analysis.Complexity,
		"profile", turn.Route.Profile,
		"input_tokens", turn.InputTokens)
	return turn, nil
}

// buildRequest assembles the system stack, the dialogue tail, and the routing
// decision into the upstream request.
func (p *Pipeline) buildRequest(turn *Turn) {
	b := prompt.NewBuilder().WithBudget(p.cfg.Router.MaxInputTokens)

	if turn.Analysis.SuggestsFollowUp {
		b.Instruct(prompt.PriorityHigh, "The user is following up on the previous exchange. Answer in at most three sentences and do not restate prior explanations.")
	}
	if turn.Analysis.RequiresDetail {
		b.Instruct(prompt.PriorityMedium, "Give a thorough, structured answer.")
	}
	if turn.Analysis.Intent == analyzer.IntentMemorySave {
		if turn.Gathered.SavedMemory != nil {
			b.Instruct(prompt.PriorityHigh, "The user asked you to remember something and it has been stored. Confirm briefly what was saved, in one sentence.")
		} else {
			b.Instruct(prompt.PriorityHigh, "The user asked you to remember something. Acknowledge the request briefly.")
		}
	}
	if turn.Analysis.Intent == analyzer.IntentMemoryList {
		b.Instruct(prompt.PriorityHigh, "The user wants to know what you remember about them. Answer strictly from the known facts below; do not invent memories.")
	}

	addContextBlocks(b, turn.Gathered)

	tail := dialogueTail(turn.Input.Messages, p.cfg.Router.KeepLastTurns)
	msgs := b.Build()
	for _, m := range tail {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	turn.InputTokens = 0
	for _, m := range msgs {
		turn.InputTokens += tokens.Count(m.Content)
	}

	turn.Route = p.router.Pick(turn.Analysis, turn.InputTokens).Apply(turn.Input.Model, turn.Input.MaxTokens)

	turn.Request = openai.ChatCompletionRequest{
		Model:       turn.Route.Model,
		Messages:    msgs,
		MaxTokens:   turn.Route.MaxTokens,
		Temperature: turn.Input.Temperature,
	}
}

// dialogueTail keeps the last keepTurns user/assistant pairs plus any system
// preamble the client sent.
func dialogueTail(msgs []InputMessage, keepTurns int) []InputMessage {
	if keepTurns <= 0 {
		keepTurns = 10
	}
	limit := keepTurns * 2
	if len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}

// truncateForLog keeps log lines short; content goes to the store, not the
// log.
func truncateForLog(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
