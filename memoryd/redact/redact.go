// Package redact scrubs PII from memory content before it is persisted.
// Each match is replaced with a numbered placeholder; the mapping back to
// the original text stays server-side and is never logged.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	keyPattern   = regexp.MustCompile(`\b(?:sk|pk|key|token|secret)[-_][A-Za-z0-9_-]{16,}\b|\b[0-9a-fA-F]{32,}\b`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\-\s().]{6,}\d`)
)

// Result carries the scrubbed text and the placeholder map that allows
// reversal.
type Result struct {
	Text string
	Map  map[string]string
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool { return len(r.Map) > 0 }

// Redact replaces emails, card-shaped digit runs, long keys, and phone
// numbers with placeholders. Matching order matters: card runs are taken
// before phone numbers so a 16-digit number is not split across both.
func Redact(text string) Result {
	res := Result{Text: text, Map: map[string]string{}}

	res.apply(emailPattern, "EMAIL", nil)
	res.apply(cardPattern, "CARD", func(m string) bool { return digitCount(m) >= 13 })
	res.apply(keyPattern, "KEY", nil)
	res.apply(phonePattern, "PHONE", func(m string) bool {
		n := digitCount(m)
		return n >= 7 && n <= 15
	})

	return res
}

// Restore substitutes the original values back in. Server-side use only.
func Restore(text string, m map[string]string) string {
	for placeholder, original := range m {
		text = strings.ReplaceAll(text, placeholder, original)
	}
	return text
}

func (r *Result) apply(p *regexp.Regexp, label string, accept func(string) bool) {
	r.Text = p.ReplaceAllStringFunc(r.Text, func(m string) string {
		if accept != nil && !accept(m) {
			return m
		}
		placeholder := fmt.Sprintf("[%s_%d]", label, len(r.Map)+1)
		r.Map[placeholder] = m
		return placeholder
	})
}

func digitCount(s string) int {
	n := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n++
		}
	}
	return n
}
