package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/llm"
	"github.com/nadia-ai/nadia/shared/tokens"
)

// SummaryMaxAge is how stale a thread summary may get before an audit
// regenerates it.
const SummaryMaxAge = time.Hour

const summarySystemPrompt = `You summarize a conversation between a user and an assistant.
Write a compact third-person summary of what the user asked about, what was decided, and any facts about the user.
Do not invent details. Plain text only.`

// Summarizer keeps thread summaries fresh after each audit.
type Summarizer struct {
	store *store.Store
	llm   *llm.Client
	log   *slog.Logger
}

func NewSummarizer(st *store.Store, client *llm.Client, log *slog.Logger) *Summarizer {
	return &Summarizer{store: st, llm: client, log: log}
}

// Refresh regenerates the thread summary when it is missing or older than
// SummaryMaxAge. Important threads get the larger length budget.
func (s *Summarizer) Refresh(ctx context.Context, userID, threadID string, msgs []recall.ConversationMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	existing, err := s.store.GetSummary(ctx, threadID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if existing != nil && time.Since(existing.UpdatedAt) < SummaryMaxAge {
		return nil
	}

	memoryCount, hasDurable, err := s.store.ThreadMemoryProfile(ctx, userID, threadID)
	if err != nil {
		return err
	}
	important := memoryCount >= 3 || hasDurable

	budget := domain.SummaryMaxChars
	if important {
		budget = domain.SummaryMaxCharsImportant
	}

	text := s.generate(ctx, msgs, budget)
	if text == "" {
		text = fallbackSummary(msgs, budget)
	}

	sum := &domain.ThreadSummary{
		ThreadID:   threadID,
		UserID:     userID,
		Summary:    text,
		LastMsgID:  msgs[len(msgs)-1].MessageID,
		TokenCount: tokens.Count(text),
		Important:  important,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.store.UpsertSummary(ctx, sum); err != nil {
		return err
	}

	s.log.Info("refreshed thread summary",
		"thread_id", threadID, "important", important, "chars", len(text))
	return nil
}

// generate asks the LLM for the summary. Returns "" on any failure; the
// caller falls back to a deterministic summary.
func (s *Summarizer) generate(ctx context.Context, msgs []recall.ConversationMessage, budget int) string {
	if s.llm == nil {
		return ""
	}

	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	prompt := fmt.Sprintf("Summarize in at most %d characters:\n\n%s", budget, b.String())

	out, err := s.llm.Complete(ctx, summarySystemPrompt, prompt, budget/3)
	if err != nil {
		s.log.Warn("summary generation failed", "error", err)
		return ""
	}
	out = strings.TrimSpace(out)
	if len(out) > budget {
		out = truncateContent(out, budget)
	}
	return out
}

// fallbackSummary is the degraded path: the first user message, truncated.
func fallbackSummary(msgs []recall.ConversationMessage, budget int) string {
	for _, m := range msgs {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return truncateContent(strings.TrimSpace(m.Content), budget)
		}
	}
	return truncateContent(strings.TrimSpace(msgs[0].Content), budget)
}
