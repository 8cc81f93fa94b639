package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/recall"
)

func userMsg(content string) *recall.ConversationMessage {
	return &recall.ConversationMessage{Role: "user", Content: content}
}

func assistantMsg(content string) *recall.ConversationMessage {
	return &recall.ConversationMessage{Role: "assistant", Content: content}
}

func TestScoreWindow_PreferenceClearsT2Threshold(t *testing.T) {
	w := Window{
		User:      userMsg("I prefer tabs over spaces"),
		Assistant: assistantMsg("Noted, tabs it is."),
	}

	sc := scoreWindow(w, 0, 1, weightsFor(domain.TierPrefsGoals))

	assert.InDelta(t, 0.805, sc.Q, 1e-9)
	assert.GreaterOrEqual(t, sc.Q, saveThreshold(domain.TierPrefsGoals))
}

func TestScoreWindow_SmallTalkStaysBelowThreshold(t *testing.T) {
	w := Window{
		User:      userMsg("what's the weather like today?"),
		Assistant: assistantMsg("Sunny, around 20 degrees."),
	}

	sc := scoreWindow(w, 0, 1, baseScoreWeights)

	assert.InDelta(t, 0.4125, sc.Q, 1e-9)
	assert.Less(t, sc.Q, SaveThresholdT1)
}

func TestScoreWindow_UnansweredFragmentScoresLow(t *testing.T) {
	w := Window{User: userMsg("ok thanks")}

	sc := scoreWindow(w, 0, 1, baseScoreWeights)

	assert.InDelta(t, 0.3, sc.Coherence, 1e-9)
	assert.Less(t, sc.Q, SaveThresholdT1)
}

func TestRecencySignal(t *testing.T) {
	assert.InDelta(t, 1.0, recencySignal(0, 1), 1e-9)
	assert.InDelta(t, 0.5, recencySignal(0, 10), 1e-9)
	assert.InDelta(t, 1.0, recencySignal(9, 10), 1e-9)
	assert.InDelta(t, 0.75, recencySignal(5, 11), 1e-9)
}

func TestSaveThreshold(t *testing.T) {
	assert.Equal(t, SaveThresholdT1, saveThreshold(domain.TierCrossRecent))
	assert.Equal(t, SaveThresholdDefault, saveThreshold(domain.TierPrefsGoals))
	assert.Equal(t, SaveThresholdDefault, saveThreshold(domain.TierGeneral))
}

func TestRelevanceSignal_Caps(t *testing.T) {
	assert.InDelta(t, 0.35, relevanceSignal("I moved to Lisbon"), 1e-9)
	assert.InDelta(t, 1.0, relevanceSignal("I told my manager about my plans and me"), 1e-9)
	assert.Zero(t, relevanceSignal("the server restarted twice"))
}
