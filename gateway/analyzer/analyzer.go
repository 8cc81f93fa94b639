// Package analyzer classifies the last user message of a turn: complexity,
// intent, follow-up detection, and the extraction rules for explicit memory
// saves. Everything here is a pure function over the message text and the
// recent history.
package analyzer

import (
	"regexp"
	"strings"
)

// Complexity buckets.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// Intents.
const (
	IntentFactual        = "factual"
	IntentExplanatory    = "explanatory"
	IntentDiscussion     = "discussion"
	IntentAction         = "action"
	IntentMemoryList     = "memory_list"
	IntentMemorySave     = "memory_save"
	IntentFollowUp       = "conversational_followup"
	IntentNeedsWebSearch = "needs_web_search"
)

// Analysis is the classifier output for one user message.
type Analysis struct {
	Complexity       string `json:"complexity"`
	Intent           string `json:"intent"`
	WordCount        int    `json:"wordCount"`
	RequiresDetail   bool   `json:"requiresDetail"`
	SuggestsFollowUp bool   `json:"suggestsFollowUp"`
	IsQuestion       bool   `json:"isQuestion"`
	IsMath           bool   `json:"isMath"`
	// SaveContent carries the extracted memory text when Intent is
	// memory_save. Empty means "take the last assistant message".
	SaveContent string `json:"saveContent,omitempty"`
}

var (
	explainWords = []string{"how", "why", "explain", "analyze", "analyse", "compare", "walk me through", "difference between"}

	technicalVocab = []string{
		"algorithm", "architecture", "async", "authentication", "cache", "compiler",
		"concurrency", "database", "deadlock", "encryption", "endpoint", "kernel",
		"latency", "middleware", "mutex", "protocol", "query", "recursion",
		"refactor", "regression", "schema", "semaphore", "serialization", "throughput",
	}

	memventListPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwhat (?:do you|have you) remember(?:ed)?\b`),
		regexp.MustCompile(`(?i)\b(?:list|show)(?: me)?(?: all)?(?: of)? (?:my|your) memories\b`),
		regexp.MustCompile(`(?i)\bwhat do you know about me\b`),
	}

	memorySavePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*remember\b`),
		regexp.MustCompile(`(?i)\b(?:please )?(?:store|save) (?:this|that)\b`),
		regexp.MustCompile(`(?i)\bmemorize\b`),
		regexp.MustCompile(`(?i)\bdon'?t forget\b`),
		regexp.MustCompile(`(?i)\bkeep in mind\b`),
	}

	rememberThisPattern = regexp.MustCompile(`(?i)^\s*remember\s+(?:this|that)\s*[.!]?\s*$`)
	rememberTailPattern = regexp.MustCompile(`(?i)^\s*remember\s+(?:that\s+)?(.+)$`)
	possessiveTail      = regexp.MustCompile(`(?i)\b(my\s+.+)$`)
	quotedPattern       = regexp.MustCompile(`["'“”]([^"'“”]{2,})["'“”]`)

	webSearchMarkers = []string{
		"latest", "news", "today", "current", "right now", "this week",
		"breaking", "recent", "happening", "stock price", "weather",
	}
	yearPattern = regexp.MustCompile(`\b20[2-9][0-9]\b`)

	followUpPhrases = []string{
		"tell me more", "go on", "continue", "more detail", "what about",
		"and then", "elaborate", "expand on that", "keep going", "why is that",
	}
	anaphoraPattern = regexp.MustCompile(`(?i)^\s*(?:what|why|how|and|but|so|is|does|can|did)?\s*(?:about\s+)?(?:it|that|this|those|these|them|he|she|they)\b`)

	mathPattern = regexp.MustCompile(`^[\s0-9+\-*/%^().=xX]+\??$`)
	mathWords   = regexp.MustCompile(`(?i)\bwhat(?:'s| is)\s+\d+\s*(?:[+\-*/%^]|plus|minus|times|divided by)\s*\d+`)
)

// Analyze classifies the message. history is the preceding dialogue of the
// thread, oldest first; it is only consulted for follow-up detection.
func Analyze(message string, historyLen int) Analysis {
	trimmed := strings.TrimSpace(message)
	words := strings.Fields(trimmed)
	lower := strings.ToLower(trimmed)

	a := Analysis{
		WordCount:  len(words),
		IsQuestion: strings.HasSuffix(trimmed, "?") || startsWithQuestionWord(lower),
		IsMath:     isMath(trimmed),
	}

	a.Complexity = classifyComplexity(lower, len(words))
	a.SuggestsFollowUp = isFollowUp(trimmed, lower, len(words), historyLen)

	switch {
	case matchesAny(trimmed, memventListPatterns):
		a.Intent = IntentMemoryList
	case matchesAny(trimmed, memorySavePatterns):
		a.Intent = IntentMemorySave
		a.SaveContent = extractSaveContent(trimmed)
	case needsWebSearch(lower):
		a.Intent = IntentNeedsWebSearch
	case a.SuggestsFollowUp:
		a.Intent = IntentFollowUp
	case isExplanatory(lower):
		a.Intent = IntentExplanatory
		a.RequiresDetail = true
	case isAction(lower):
		a.Intent = IntentAction
	case a.IsQuestion:
		a.Intent = IntentFactual
	default:
		a.Intent = IntentDiscussion
	}

	if a.Complexity == ComplexityComplex {
		a.RequiresDetail = true
	}
	return a
}

func classifyComplexity(lower string, wordCount int) string {
	score := 0
	switch {
	case wordCount > 50:
		score += 2
	case wordCount > 15:
		score++
	}
	for _, w := range explainWords {
		if strings.Contains(lower, w) {
			score++
			break
		}
	}
	for _, w := range technicalVocab {
		if strings.Contains(lower, w) {
			score++
			break
		}
	}
	// Multi-part questions read as complex regardless of length.
	if strings.Count(lower, "?") > 1 || strings.Contains(lower, " and also ") {
		score += 2
	}

	switch {
	case score >= 3:
		return ComplexityComplex
	case score >= 1:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// extractSaveContent applies the memory_save extraction rules in order:
// quoted span, "my X is Y" tail, full tail after "remember that", and
// finally empty, which tells the caller to save the last assistant message.
func extractSaveContent(text string) string {
	if rememberThisPattern.MatchString(text) {
		return ""
	}
	if m := quotedPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := possessiveTail.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(strings.TrimSpace(m[1]), ".!?")
	}
	if m := rememberTailPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(strings.TrimSpace(m[1]), ".!?")
	}
	return ""
}

func needsWebSearch(lower string) bool {
	if yearPattern.MatchString(lower) {
		return true
	}
	for _, marker := range webSearchMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isFollowUp detects continuation turns: anaphora over a short message,
// canned continuation phrases, or a very short question when there is
// history to follow up on.
func isFollowUp(trimmed, lower string, wordCount, historyLen int) bool {
	if historyLen == 0 {
		return false
	}
	for _, phrase := range followUpPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	if wordCount <= 6 && anaphoraPattern.MatchString(trimmed) {
		return true
	}
	if wordCount <= 3 && strings.HasSuffix(trimmed, "?") {
		return true
	}
	return false
}

func isExplanatory(lower string) bool {
	for _, w := range explainWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

var actionVerbs = []string{"write", "create", "generate", "build", "draft", "make me", "translate", "convert", "summarize", "fix", "refactor", "implement"}

func isAction(lower string) bool {
	for _, v := range actionVerbs {
		if strings.HasPrefix(lower, v) {
			return true
		}
	}
	return false
}

func isMath(trimmed string) bool {
	if mathWords.MatchString(trimmed) {
		return true
	}
	if !strings.ContainsAny(trimmed, "+-*/%^=") {
		return false
	}
	return mathPattern.MatchString(trimmed)
}

func startsWithQuestionWord(lower string) bool {
	for _, w := range []string{"what", "who", "where", "when", "why", "how", "which", "is ", "are ", "do ", "does ", "can ", "could ", "should "} {
		if strings.HasPrefix(lower, w) {
			return true
		}
	}
	return false
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
