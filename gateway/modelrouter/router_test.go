package modelrouter

import (
	"testing"

	"github.com/nadia-ai/nadia/gateway/analyzer"
	"github.com/nadia-ai/nadia/gateway/config"
)

func newTestRouter() *Router {
	return New(config.RouterConfig{
		MaxOutputTokens: 4096,
		TinyModel:       "mini-1",
		CostModel:       "standard-1",
		ContextModel:    "longctx-1",
		ReasoningModel:  "reasoner-1",
	}, "primary", "standard-1")
}

func TestPick_Profiles(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name      string
		a         analyzer.Analysis
		input     int
		profile   string
		model     string
		maxTokens int
	}{
		{
			name:    "math gets tiny with 10",
			a:       analyzer.Analysis{IsMath: true, Intent: analyzer.IntentFactual, Complexity: analyzer.ComplexitySimple, WordCount: 1},
			profile: ProfileTiny, model: "mini-1", maxTokens: 10,
		},
		{
			name:    "short factual gets tiny",
			a:       analyzer.Analysis{Intent: analyzer.IntentFactual, Complexity: analyzer.ComplexitySimple, WordCount: 5, IsQuestion: true},
			profile: ProfileTiny, model: "mini-1", maxTokens: 20,
		},
		{
			name:    "follow-up capped at 200",
			a:       analyzer.Analysis{Intent: analyzer.IntentFollowUp, Complexity: analyzer.ComplexitySimple, WordCount: 3},
			profile: ProfileCost, model: "standard-1", maxTokens: 200,
		},
		{
			name:    "large context promotes",
			a:       analyzer.Analysis{Intent: analyzer.IntentExplanatory, Complexity: analyzer.ComplexityModerate, WordCount: 20},
			input:   60_000,
			profile: ProfileContext, model: "longctx-1", maxTokens: 4096,
		},
		{
			name:    "complex reasoning",
			a:       analyzer.Analysis{Intent: analyzer.IntentExplanatory, Complexity: analyzer.ComplexityComplex, WordCount: 30},
			profile: ProfileReasoning, model: "reasoner-1", maxTokens: 4096,
		},
		{
			name:    "default cost profile",
			a:       analyzer.Analysis{Intent: analyzer.IntentDiscussion, Complexity: analyzer.ComplexityModerate, WordCount: 12},
			profile: ProfileCost, model: "standard-1", maxTokens: 4096,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Pick(tt.a, tt.input)
			if got.Profile != tt.profile {
				t.Errorf("Profile = %q, want %q", got.Profile, tt.profile)
			}
			if got.Model != tt.model {
				t.Errorf("Model = %q, want %q", got.Model, tt.model)
			}
			if got.MaxTokens != tt.maxTokens {
				t.Errorf("MaxTokens = %d, want %d", got.MaxTokens, tt.maxTokens)
			}
		})
	}
}

func TestPick_ContextTrumpsReasoning(t *testing.T) {
	r := newTestRouter()
	a := analyzer.Analysis{Intent: analyzer.IntentExplanatory, Complexity: analyzer.ComplexityComplex, WordCount: 40}
	got := r.Pick(a, 80_000)
	if got.Profile != ProfileContext {
		t.Errorf("Profile = %q, want context for oversized input", got.Profile)
	}
}

func TestApply_OverridesOnlyShrink(t *testing.T) {
	route := Route{Profile: ProfileCost, Provider: "primary", Model: "standard-1", MaxTokens: 4096}

	got := route.Apply("", 200)
	if got.MaxTokens != 200 {
		t.Errorf("MaxTokens = %d, want 200", got.MaxTokens)
	}

	got = route.Apply("", 999_999)
	if got.MaxTokens != 4096 {
		t.Errorf("override must not raise the cap, got %d", got.MaxTokens)
	}

	got = route.Apply("custom-model", 0)
	if got.Model != "custom-model" || got.MaxTokens != 4096 {
		t.Errorf("model override failed: %+v", got)
	}
}

func TestPick_MissingProfileModelsFallBack(t *testing.T) {
	r := New(config.RouterConfig{MaxOutputTokens: 2048}, "primary", "default-1")
	a := analyzer.Analysis{IsMath: true, WordCount: 1}
	if got := r.Pick(a, 0); got.Model != "default-1" {
		t.Errorf("Model = %q, want provider default", got.Model)
	}
}
