package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello,   World! "))
	assert.Equal(t, "whats my favorite color", Normalize("What's my favorite color?"))
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("My favorite color is blue.")
	b := Fingerprint("my   favorite color is BLUE")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint("my favorite color is red"))
}

func TestIsQuestion(t *testing.T) {
	assert.True(t, IsQuestion("what is my favorite color"))
	assert.True(t, IsQuestion("I wonder, is it raining?"))
	assert.False(t, IsQuestion("my favorite color is blue"))
}

func TestKeywords(t *testing.T) {
	t.Run("question loses scaffolding", func(t *testing.T) {
		kws := Keywords("what is my favorite color?")
		assert.Equal(t, []string{"favorite", "color"}, kws)
	})

	t.Run("statement keeps meaningful terms", func(t *testing.T) {
		kws := Keywords("I always do code review on Fridays")
		assert.Contains(t, kws, "code")
		assert.Contains(t, kws, "review")
		assert.Contains(t, kws, "fridays")
		// "do" survives in statements but is dropped from questions.
		assert.Contains(t, kws, "do")
	})

	t.Run("dedupes", func(t *testing.T) {
		kws := Keywords("coffee coffee coffee")
		assert.Equal(t, []string{"coffee"}, kws)
	})
}

func TestExpandQuery(t *testing.T) {
	expanded := ExpandQuery("what is my favorite job")
	assert.Contains(t, expanded, "favorite")
	assert.Contains(t, expanded, "favourite")
	assert.Contains(t, expanded, "job")
	assert.Contains(t, expanded, "work")
}

func TestPhrases(t *testing.T) {
	assert.Equal(t, []string{"favorite color"}, Phrases("what is my favorite color"))
	assert.Nil(t, Phrases("coffee"))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard([]string{"a", "b"}, []string{"b", "a"}), 1e-9)
	assert.InDelta(t, 1.0/3.0, Jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.Zero(t, Jaccard(nil, []string{"a"}))
	assert.Zero(t, Jaccard(nil, nil))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("my favorite color is blue", "My favorite color is blue!"), 1e-9)
	assert.Greater(t, Similarity("favorite color is blue", "favorite colour is blue"), 0.7)
	assert.Less(t, Similarity("favorite color is blue", "deploys happen on tuesdays"), 0.3)
	assert.Equal(t, 1.0, Similarity("ab", "AB"))
	assert.Equal(t, 0.0, Similarity("", "anything"))
}

func TestAttributeKey(t *testing.T) {
	assert.Equal(t, "color", AttributeKey("My favorite color is blue"))
	assert.Equal(t, "color", AttributeKey("my favourite color is green"))
	assert.Equal(t, "text editor", AttributeKey("my preferred text editor is vim"))
	assert.Equal(t, "", AttributeKey("I like blue"))
}
