package audit

import (
	"strings"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/service"
	"github.com/nadia-ai/nadia/memoryd/textproc"
)

// Save thresholds per tier. Durable tiers demand a higher bar because their
// rows live longer.
const (
	SaveThresholdT1      = 0.65
	SaveThresholdDefault = 0.70
)

// scoreWeights blends the four quality signals into Q.
type scoreWeights struct {
	relevance  float64
	importance float64
	coherence  float64
	recency    float64
}

var (
	baseScoreWeights = scoreWeights{relevance: 0.4, importance: 0.3, coherence: 0.2, recency: 0.1}
	// T1 lives or dies on being about the user right now.
	t1ScoreWeights = scoreWeights{relevance: 0.45, importance: 0.2, coherence: 0.15, recency: 0.2}
	// T2 is about durable preferences; importance dominates.
	t2ScoreWeights = scoreWeights{relevance: 0.3, importance: 0.45, coherence: 0.15, recency: 0.1}
)

func weightsFor(tier string) scoreWeights {
	switch tier {
	case domain.TierCrossRecent:
		return t1ScoreWeights
	case domain.TierPrefsGoals:
		return t2ScoreWeights
	default:
		return baseScoreWeights
	}
}

func saveThreshold(tier string) float64 {
	if tier == domain.TierCrossRecent {
		return SaveThresholdT1
	}
	return SaveThresholdDefault
}

// WindowScore is the quality breakdown for one candidate window.
type WindowScore struct {
	Relevance  float64
	Importance float64
	Coherence  float64
	Recency    float64
	Q          float64
}

var firstPersonMarkers = map[string]bool{
	"i": true, "im": true, "ive": true, "id": true, "ill": true,
	"my": true, "me": true, "mine": true, "myself": true,
}

var durableMarkers = []string{
	"work", "job", "live", "name", "birthday", "allerg", "family",
	"wife", "husband", "partner", "kid", "daughter", "son",
	"project", "deadline", "moving", "studying",
}

// scoreWindow rates one window. position counts from the oldest window in
// the batch; total is the batch size.
func scoreWindow(w Window, position, total int, weights scoreWeights) WindowScore {
	content := w.User.Content

	sc := WindowScore{
		Relevance:  relevanceSignal(content),
		Importance: importanceSignal(content),
		Coherence:  coherenceSignal(w),
		Recency:    recencySignal(position, total),
	}
	sc.Q = weights.relevance*sc.Relevance +
		weights.importance*sc.Importance +
		weights.coherence*sc.Coherence +
		weights.recency*sc.Recency
	return sc
}

// relevanceSignal measures how much the window is about the user: an audit
// has no query, so first-person density stands in for relevance.
func relevanceSignal(content string) float64 {
	count := 0
	for _, tok := range textproc.Tokenize(content) {
		if firstPersonMarkers[tok] {
			count++
		}
	}
	v := 0.35 * float64(count)
	if v > 1 {
		return 1
	}
	return v
}

// importanceSignal is strongest for preference/goal statements, medium for
// durable life facts, and otherwise scales with information density.
func importanceSignal(content string) float64 {
	if service.DetectTier(content, false) == domain.TierPrefsGoals {
		return 1
	}
	lower := strings.ToLower(content)
	for _, marker := range durableMarkers {
		if strings.Contains(lower, marker) {
			return 0.6
		}
	}
	v := float64(len(textproc.Keywords(content))) / 8
	if v > 1 {
		return 1
	}
	return v
}

// coherenceSignal prefers complete exchanges of substance over fragments.
func coherenceSignal(w Window) float64 {
	switch {
	case len(strings.TrimSpace(w.User.Content)) < 20:
		return 0.3
	case w.Assistant == nil:
		return 0.5
	default:
		return 1
	}
}

// recencySignal decays linearly from 1.0 for the newest window to 0.5 for
// the oldest.
func recencySignal(position, total int) float64 {
	if total <= 1 {
		return 1
	}
	return 0.5 + 0.5*float64(position)/float64(total-1)
}
