// Package textproc holds the text normalization, keyword, and similarity
// primitives shared by the memory write path and the recall engine.
package textproc

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`[^a-z0-9\s]+`)

// Stop words stripped aggressively from questions and conservatively from
// statements.
var questionWords = map[string]bool{
	"what": true, "whats": true, "who": true, "whos": true, "where": true,
	"when": true, "why": true, "how": true, "which": true, "do": true,
	"does": true, "did": true, "is": true, "are": true, "was": true,
	"were": true, "can": true, "could": true, "would": true, "should": true,
	"tell": true, "me": true, "about": true, "please": true,
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "and": true, "or": true, "my": true,
	"your": true, "our": true, "their": true, "his": true, "her": true,
	"its": true, "it": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "you": true, "we": true, "they": true,
	"be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "with": true, "as": true, "by": true, "from": true,
}

// A small controlled synonym set used for query expansion. Kept short on
// purpose: recall precision degrades fast with aggressive expansion.
var synonyms = map[string][]string{
	"favorite": {"favourite", "preferred"},
	"job":      {"work", "career"},
	"home":     {"house", "apartment"},
	"car":      {"vehicle"},
	"like":     {"enjoy", "love"},
	"dislike":  {"hate", "avoid"},
}

// Normalize lowercases, strips punctuation, and collapses whitespace.
// Apostrophes are dropped rather than split so "what's" becomes "whats".
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "")
	s = nonWord.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint is the stable per-content hash used for the uniqueness
// constraint on (user, content, tier).
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Tokenize splits normalized text into words.
func Tokenize(s string) []string {
	return strings.Fields(Normalize(s))
}

// IsQuestion reports whether the text reads as a question.
func IsQuestion(s string) bool {
	trimmed := strings.TrimSpace(s)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	toks := Tokenize(trimmed)
	return len(toks) > 0 && questionWords[toks[0]]
}

// Keywords extracts the meaningful terms of the text. Questions lose their
// question scaffolding and stop words; statements only lose stop words, so
// terms that carry meaning in a statement survive.
func Keywords(s string) []string {
	question := IsQuestion(s)
	var out []string
	seen := map[string]bool{}
	for _, tok := range Tokenize(s) {
		if stopWords[tok] {
			continue
		}
		if question && questionWords[tok] {
			continue
		}
		if len(tok) < 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// ExpandQuery returns the keywords plus their controlled synonyms.
func ExpandQuery(s string) []string {
	base := Keywords(s)
	out := make([]string, 0, len(base))
	seen := map[string]bool{}
	add := func(w string) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, w := range base {
		add(w)
		for _, syn := range synonyms[w] {
			add(syn)
		}
	}
	return out
}

// Phrases returns the multi-word runs (2-grams) of the keyword sequence,
// used to prefer phrase matches over bare terms.
func Phrases(s string) []string {
	toks := Keywords(s)
	if len(toks) < 2 {
		return nil
	}
	out := make([]string, 0, len(toks)-1)
	for i := 0; i+1 < len(toks); i++ {
		out = append(out, toks[i]+" "+toks[i+1])
	}
	return out
}

// Jaccard computes set overlap of two keyword slices.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := map[string]bool{}
	for _, w := range a {
		setA[w] = true
	}
	inter := 0
	setB := map[string]bool{}
	for _, w := range b {
		if setB[w] {
			continue
		}
		setB[w] = true
		if setA[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Similarity is a Dice coefficient over character trigrams of the normalized
// strings. Robust to small rewordings, cheap enough for the dedup scan.
func Similarity(a, b string) float64 {
	ta := trigrams(Normalize(a))
	tb := trigrams(Normalize(b))
	if len(ta) == 0 || len(tb) == 0 {
		if Normalize(a) == Normalize(b) && Normalize(a) != "" {
			return 1
		}
		return 0
	}
	inter := 0
	for g, n := range ta {
		if m, ok := tb[g]; ok {
			if m < n {
				inter += m
			} else {
				inter += n
			}
		}
	}
	totalA, totalB := 0, 0
	for _, n := range ta {
		totalA += n
	}
	for _, n := range tb {
		totalB += n
	}
	return 2 * float64(inter) / float64(totalA+totalB)
}

func trigrams(s string) map[string]int {
	out := map[string]int{}
	runes := []rune(s)
	if len(runes) < 3 {
		return out
	}
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])]++
	}
	return out
}

var attributePattern = regexp.MustCompile(`(?:my|the)\s+(?:favorite|favourite|preferred)\s+([a-z0-9 ]{2,30}?)\s+(?:is|are|was)\b`)

// AttributeKey extracts the topic of "my favorite X is Y" style statements,
// so recall can collapse duplicates of the same attribute. Empty when the
// text is not attribute-shaped.
func AttributeKey(s string) string {
	m := attributePattern.FindStringSubmatch(Normalize(s))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
