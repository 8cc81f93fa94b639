package audit

import (
	"strings"
	"unicode/utf8"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/textproc"
	"github.com/nadia-ai/nadia/recall"
)

// Window is one candidate exchange: a user message and, when the
// conversation kept going, the assistant reply that answered it.
type Window struct {
	User      *recall.ConversationMessage
	Assistant *recall.ConversationMessage
}

// pairWindows walks the transcript oldest-first, opening a window at each
// user message and attaching the assistant message that follows it.
func pairWindows(msgs []recall.ConversationMessage) []Window {
	var out []Window
	for i := range msgs {
		if msgs[i].Role != "user" {
			continue
		}
		w := Window{User: &msgs[i]}
		if i+1 < len(msgs) && msgs[i+1].Role == "assistant" {
			w.Assistant = &msgs[i+1]
		}
		out = append(out, w)
	}
	return out
}

// candidateContent pulls the memorable part of a window: the user's
// first-person sentences. Returns "" when nothing in the window is worth
// keeping.
func candidateContent(w Window) string {
	var kept []string
	for _, sentence := range splitSentences(w.User.Content) {
		if personalSentence(sentence) {
			kept = append(kept, sentence)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	content := strings.Join(kept, " ")
	return truncateContent(content, domain.MaxContentLength)
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func personalSentence(sentence string) bool {
	if textproc.IsQuestion(sentence) {
		return false
	}
	for _, tok := range textproc.Tokenize(sentence) {
		if firstPersonMarkers[tok] {
			return true
		}
	}
	return false
}

// truncateContent cuts to max bytes at a word boundary, never mid-rune.
func truncateContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	if idx := strings.LastIndex(cut, " "); idx > max/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
