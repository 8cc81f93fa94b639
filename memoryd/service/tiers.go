package service

import (
	"regexp"

	"github.com/nadia-ai/nadia/memoryd/domain"
)

// Preference, goal, and avoidance statements go to T2 regardless of where
// they were said.
var t2Patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi\s+(?:really\s+)?prefer\b`),
	regexp.MustCompile(`(?i)\bmy\s+(?:main\s+)?goal\s+is\b`),
	regexp.MustCompile(`(?i)\bmy\s+favou?rite\b`),
	regexp.MustCompile(`(?i)\bi\s+always\b`),
	regexp.MustCompile(`(?i)\bi\s+never\b`),
	regexp.MustCompile(`(?i)\bi\s+usually\b`),
	regexp.MustCompile(`(?i)\bi\s+(?:try\s+to\s+)?avoid\b`),
	regexp.MustCompile(`(?i)\bi\s+(?:want|plan|aim|intend)\s+to\b`),
	regexp.MustCompile(`(?i)\bi\s+(?:love|hate|enjoy|dislike)\b`),
	regexp.MustCompile(`(?i)\bi(?:'m| am)\s+(?:allergic|vegetarian|vegan)\b`),
	regexp.MustCompile(`(?i)\bi\s+work\s+(?:as|at|on)\b`),
}

// DetectTier classifies a candidate: preference/goal shapes are T2,
// cross-thread repeats are T1, everything else lands in T3.
func DetectTier(content string, crossThreadHit bool) string {
	for _, p := range t2Patterns {
		if p.MatchString(content) {
			return domain.TierPrefsGoals
		}
	}
	if crossThreadHit {
		return domain.TierCrossRecent
	}
	return domain.TierGeneral
}
