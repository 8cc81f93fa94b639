package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nadia-ai/nadia/recall"
)

const labelSystemPrompt = `You name conversations. Reply with only a short topic label of two to six words. No quotes, no trailing punctuation.`

const (
	labelMaxTokens   = 16
	labelMaxMessages = 12
	labelMaxChars    = 80
)

// label names the thread from its opening exchange. A thread that already
// carries a label is a completed job replay; nothing happens.
func (r *Runner) label(ctx context.Context, job *recall.RecallJob) error {
	pkg, err := r.jobs.GetPackage(ctx, job.ThreadID)
	if errors.Is(err, recall.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if pkg.Label != "" {
		return nil
	}

	msgs, err := r.jobs.RecentMessages(ctx, job.ThreadID, labelMaxMessages)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	label := r.generateLabel(ctx, msgs)
	if label == "" {
		label = fallbackLabel(msgs)
	}
	if label == "" {
		return nil
	}

	if err := r.jobs.SetLabel(ctx, job.ThreadID, label, primaryTopic(msgs)); err != nil {
		return err
	}
	r.log.Info("thread labeled", "thread_id", job.ThreadID, "label", label)
	return nil
}

// generateLabel asks the LLM. Returns "" on any failure; the caller falls
// back to a deterministic label.
func (r *Runner) generateLabel(ctx context.Context, msgs []*recall.ConversationMessage) string {
	if r.llm == nil {
		return ""
	}

	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	var out string
	err := llmRetry(ctx, func() error {
		var err error
		out, err = r.llm.Complete(ctx, labelSystemPrompt, "Label this conversation:\n\n"+b.String(), labelMaxTokens)
		return err
	})
	if err != nil {
		r.log.Warn("label generation failed", "error", err)
		return ""
	}
	return sanitizeLabel(out)
}

// sanitizeLabel strips the quoting and punctuation models add despite
// instructions, and bounds the length.
func sanitizeLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimRight(s, ".!:")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > labelMaxChars {
		s = strings.TrimSpace(s[:labelMaxChars])
	}
	return s
}

// fallbackLabel is the degraded path: the first few words of the first user
// message.
func fallbackLabel(msgs []*recall.ConversationMessage) string {
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		words := strings.Fields(m.Content)
		if len(words) == 0 {
			continue
		}
		if len(words) > 6 {
			words = words[:6]
		}
		return sanitizeLabel(strings.Join(words, " "))
	}
	return ""
}

// labelStopWords are too generic to name a topic.
var labelStopWords = map[string]bool{
	"about": true, "after": true, "again": true, "being": true,
	"could": true, "doing": true, "going": true, "having": true, "should": true,
	"there": true, "their": true, "these": true, "thing": true, "things": true,
	"think": true, "value": true, "want": true, "wanted": true, "where": true,
	"which": true, "while": true, "would": true, "your": true, "what": true,
	"when": true, "with": true, "this": true, "that": true, "have": true,
	"from": true, "just": true, "like": true, "know": true, "need": true,
	"please": true, "really": true, "some": true, "tell": true, "then": true,
}

// primaryTopic picks the most repeated content word across the user's
// messages.
func primaryTopic(msgs []*recall.ConversationMessage) string {
	counts := make(map[string]int)
	order := make(map[string]int)
	pos := 0
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		for _, w := range strings.Fields(strings.ToLower(m.Content)) {
			w = strings.Trim(w, `.,!?;:"'()[]`)
			if len(w) < 4 || labelStopWords[w] {
				continue
			}
			if _, seen := counts[w]; !seen {
				order[w] = pos
				pos++
			}
			counts[w]++
		}
	}

	best, bestCount := "", 0
	for w, n := range counts {
		if n > bestCount || (n == bestCount && order[w] < order[best]) {
			best, bestCount = w, n
		}
	}
	return best
}
