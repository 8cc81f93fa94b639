package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/tokens"
)

const summarySystemPrompt = `You summarize a conversation between a user and an assistant.
Write a compact third-person summary of what the user asked about, what was decided, and any stated preferences or facts about the user. At most 120 words. Do not invent details. Plain text only.`

const (
	summaryMaxTokens   = 160
	summaryTailWindow  = 40
	summaryFallbackLen = 500
)

// summarize refreshes the thread's rolling summary and chains the embedding
// job behind it. Refreshes fold the previous summary in, so a thread at
// message 30 is not summarized from message 1 every time.
func (r *Runner) summarize(ctx context.Context, job *recall.RecallJob) error {
	pkg, err := r.jobs.GetPackage(ctx, job.ThreadID)
	if errors.Is(err, recall.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	msgs, err := r.jobs.RecentMessages(ctx, job.ThreadID, summaryTailWindow)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	text := r.generateSummary(ctx, pkg.Summary, msgs)
	if text == "" {
		text = fallbackSummary(msgs)
	}
	if text == "" {
		return nil
	}

	score := importanceScore(pkg, msgs)
	if err := r.jobs.SetSummary(ctx, job.ThreadID, text, tokens.Count(text), score); err != nil {
		return err
	}
	r.log.Info("thread summarized",
		"thread_id", job.ThreadID, "summary_tokens", tokens.Count(text), "importance", score)

	// Vectors follow every fresh summary. A conflict means one is already
	// queued, which serves just as well.
	if r.embedder != nil {
		_, err := r.jobs.EnqueueJob(ctx, job.ThreadID, job.UserID, recall.JobTypeEmbedding, nil, time.Now().UTC())
		if err != nil && !errors.Is(err, recall.ErrJobConflict) {
			return err
		}
	}
	return nil
}

// generateSummary asks the LLM, folding in the previous summary when there is
// one. Returns "" on any failure.
func (r *Runner) generateSummary(ctx context.Context, previous string, msgs []*recall.ConversationMessage) string {
	if r.llm == nil {
		return ""
	}

	var b strings.Builder
	if previous != "" {
		fmt.Fprintf(&b, "Earlier summary of this conversation:\n%s\n\nLatest messages:\n", previous)
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	var out string
	err := llmRetry(ctx, func() error {
		var err error
		out, err = r.llm.Complete(ctx, summarySystemPrompt, b.String(), summaryMaxTokens)
		return err
	})
	if err != nil {
		r.log.Warn("summary generation failed", "error", err)
		return ""
	}
	return strings.TrimSpace(out)
}

// fallbackSummary is the degraded path: the first user message, truncated.
func fallbackSummary(msgs []*recall.ConversationMessage) string {
	for _, m := range msgs {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return truncate(strings.TrimSpace(m.Content), summaryFallbackLen)
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > max/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// importanceScore grades how much a thread likely matters later. Sustained
// length, code, and first-person facts all push it up; the loader uses it to
// rank hierarchical picks and the recall surface exposes it to clients.
func importanceScore(pkg *recall.ConversationPackage, msgs []*recall.ConversationMessage) float64 {
	score := 0.2

	switch {
	case pkg.MessageCount >= 30:
		score += 0.2
	case pkg.MessageCount >= 10:
		score += 0.1
	}
	switch {
	case pkg.TotalTokens >= 4000:
		score += 0.2
	case pkg.TotalTokens >= 1500:
		score += 0.1
	}

	for _, m := range msgs {
		if strings.Contains(m.Content, "```") {
			score += 0.2
			break
		}
	}
	for _, m := range msgs {
		if m.Role == "user" && hasPersonalFact(m.Content) {
			score += 0.2
			break
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

var personalMarkers = []string{"my ", "i am ", "i'm ", "i prefer", "i like", "i work", "i use", "i live", "i need"}

func hasPersonalFact(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range personalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
