// Package tokens provides token counting backed by tiktoken-go. The
// cl100k_base encoding is initialized once at startup; when it is unavailable
// (offline vocabulary fetch), counting falls back to a word/rune heuristic so
// budgets still hold approximately.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func get() *tiktoken.Tiktoken {
	once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	return encoding
}

// Count returns the token count of text under cl100k_base, or an estimate
// when the encoding is unavailable.
func Count(text string) int {
	if enc := get(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Estimate returns max(runes/4, words), minimum 1 for non-empty text.
func Estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	n := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); n < words {
		n = words
	}
	if n == 0 {
		n = 1
	}
	return n
}

// Truncate cuts text down to roughly maxTokens tokens, appending an ellipsis
// when anything was removed.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if enc := get(); enc != nil {
		toks := enc.Encode(text, nil, nil)
		if len(toks) <= maxTokens {
			return text
		}
		return enc.Decode(toks[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}

// CountAll sums Count over the given strings.
func CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += Count(t)
	}
	return total
}
