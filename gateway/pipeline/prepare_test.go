package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nadia-ai/nadia/gateway/config"
	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/gateway/modelrouter"
	"github.com/nadia-ai/nadia/gateway/prompt"
)

// newPreparePipeline wires only what the pre-stream half needs. Optional
// context layers are absent and simply contribute nothing.
func newPreparePipeline(cfg *config.Config) *Pipeline {
	return New(cfg, Deps{
		Router: modelrouter.New(cfg.Router, "primary", "gpt-4o-mini"),
		Log:    slog.New(slog.DiscardHandler),
	})
}

func TestPrepare_MintsIdentityAndRoutes(t *testing.T) {
	cfg := config.Load()
	cfg.Router.ReasoningModel = "o4-mini"
	cfg.Router.MaxOutputTokens = 16384
	p := newPreparePipeline(cfg)

	in := TurnInput{
		UserID: "user_1",
		Messages: []InputMessage{{
			Role:    domain.RoleUser,
			Content: "How would you architecture a cache for session storage, and also compare mutex contention against lock-free queues?",
		}},
	}

	turn, err := p.Prepare(context.Background(), in)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if !strings.HasPrefix(turn.RequestID, "req_") {
		t.Errorf("request id %q should carry the req prefix", turn.RequestID)
	}
	if !strings.HasPrefix(turn.ThreadID, "thr_") {
		t.Errorf("empty thread id should be minted, got %q", turn.ThreadID)
	}
	if turn.UserMessageID == turn.AssistantMessageID {
		t.Error("user and assistant message ids must differ")
	}

	// A multi-part technical question lands on the reasoning profile.
	if turn.Route.Profile != modelrouter.ProfileReasoning {
		t.Errorf("profile = %q, want reasoning", turn.Route.Profile)
	}
	if turn.Request.Model != "o4-mini" {
		t.Errorf("request model = %q, want o4-mini", turn.Request.Model)
	}
	if turn.Request.MaxTokens != 8192 {
		t.Errorf("request max tokens = %d, want the reasoning budget", turn.Request.MaxTokens)
	}
	if turn.InputTokens <= 0 {
		t.Error("expected a positive input token estimate")
	}

	msgs := turn.Request.Messages
	if len(msgs) < 2 {
		t.Fatalf("expected system stack plus dialogue, got %d messages", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != prompt.BasePrompt {
		t.Error("first message should be the base system contract")
	}
	last := msgs[len(msgs)-1]
	if last.Role != domain.RoleUser || last.Content != in.Messages[0].Content {
		t.Errorf("dialogue tail should end with the user message, got %+v", last)
	}
}

func TestPrepare_HonorsCallerOverrides(t *testing.T) {
	p := newPreparePipeline(config.Load())

	in := TurnInput{
		UserID:    "user_1",
		ThreadID:  "thr_existing",
		Model:     "gpt-4.1",
		MaxTokens: 64,
		Messages: []InputMessage{{
			Role:    domain.RoleUser,
			Content: "Thanks for the rundown, that helped a lot.",
		}},
	}

	turn, err := p.Prepare(context.Background(), in)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if turn.ThreadID != "thr_existing" {
		t.Errorf("thread id = %q, want the caller's", turn.ThreadID)
	}
	if turn.Request.Model != "gpt-4.1" {
		t.Errorf("model = %q, want the caller's override", turn.Request.Model)
	}
	// Requested budgets can only shrink the profile's.
	if turn.Request.MaxTokens != 64 {
		t.Errorf("max tokens = %d, want 64", turn.Request.MaxTokens)
	}
}

func TestPrepare_RejectsInvalidInput(t *testing.T) {
	p := newPreparePipeline(config.Load())

	if _, err := p.Prepare(context.Background(), TurnInput{UserID: "user_1"}); err == nil {
		t.Fatal("expected an error for an empty turn")
	}
}
