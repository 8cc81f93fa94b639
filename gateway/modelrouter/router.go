// Package modelrouter picks the provider, model, and output budget for a
// turn from the query analysis and the estimated context size.
package modelrouter

import (
	"github.com/nadia-ai/nadia/gateway/analyzer"
	"github.com/nadia-ai/nadia/gateway/config"
)

// Profile names, used in logs and the /models listing.
const (
	ProfileTiny      = "tiny"
	ProfileCost      = "cost"
	ProfileContext   = "context"
	ProfileReasoning = "reasoning"
)

// contextHeavyTokens is the estimated input size beyond which the
// large-window profile takes over.
const contextHeavyTokens = 50_000

// Output budgets per profile.
const (
	tinyMaxTokens      = 20
	mathMaxTokens      = 10
	followUpMaxTokens  = 200
	reasoningMaxTokens = 8192
)

// Route is the routing decision for one turn.
type Route struct {
	Profile   string `json:"profile"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
}

// Router resolves profiles against the configured model map. Profiles
// without an explicit model fall back to the provider default.
type Router struct {
	cfg          config.RouterConfig
	provider     string
	defaultModel string
	providerCap  int
}

func New(cfg config.RouterConfig, provider, defaultModel string) *Router {
	cap := cfg.MaxOutputTokens
	if cap <= 0 {
		cap = 4096
	}
	return &Router{cfg: cfg, provider: provider, defaultModel: defaultModel, providerCap: cap}
}

// Pick selects the route. estimatedInput is the token size of the assembled
// prompt plus tail; it promotes the context-heavy profile when large.
func (r *Router) Pick(a analyzer.Analysis, estimatedInput int) Route {
	route := Route{Profile: ProfileCost, Provider: r.provider, Model: r.model(r.cfg.CostModel), MaxTokens: r.providerCap}

	switch {
	case a.IsMath:
		route.Profile = ProfileTiny
		route.Model = r.model(r.cfg.TinyModel)
		route.MaxTokens = mathMaxTokens

	case a.Intent == analyzer.IntentFactual && a.Complexity == analyzer.ComplexitySimple && a.WordCount <= 8:
		route.Profile = ProfileTiny
		route.Model = r.model(r.cfg.TinyModel)
		route.MaxTokens = tinyMaxTokens

	case a.Intent == analyzer.IntentFollowUp:
		route.MaxTokens = followUpMaxTokens

	case estimatedInput > contextHeavyTokens:
		route.Profile = ProfileContext
		route.Model = r.model(r.cfg.ContextModel)

	case a.Complexity == analyzer.ComplexityComplex:
		route.Profile = ProfileReasoning
		route.Model = r.model(r.cfg.ReasoningModel)
		route.MaxTokens = reasoningMaxTokens
	}

	// Context size can promote even special intents; large windows trump
	// the reasoning profile when both apply.
	if estimatedInput > contextHeavyTokens && route.Profile != ProfileTiny {
		route.Profile = ProfileContext
		route.Model = r.model(r.cfg.ContextModel)
	}

	if route.MaxTokens > r.providerCap {
		route.MaxTokens = r.providerCap
	}
	return route
}

// Apply clamps the route with the caller's explicit overrides. Requested
// budgets can only shrink the profile's.
func (route Route) Apply(model string, maxTokens int) Route {
	if model != "" {
		route.Model = model
	}
	if maxTokens > 0 && maxTokens < route.MaxTokens {
		route.MaxTokens = maxTokens
	}
	return route
}

// Profiles lists the resolved profile table for the /models endpoint.
func (r *Router) Profiles() []Route {
	return []Route{
		{Profile: ProfileTiny, Provider: r.provider, Model: r.model(r.cfg.TinyModel), MaxTokens: tinyMaxTokens},
		{Profile: ProfileCost, Provider: r.provider, Model: r.model(r.cfg.CostModel), MaxTokens: r.providerCap},
		{Profile: ProfileContext, Provider: r.provider, Model: r.model(r.cfg.ContextModel), MaxTokens: r.providerCap},
		{Profile: ProfileReasoning, Provider: r.provider, Model: r.model(r.cfg.ReasoningModel), MaxTokens: min(reasoningMaxTokens, r.providerCap)},
	}
}

func (r *Router) model(configured string) string {
	if configured != "" {
		return configured
	}
	return r.defaultModel
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
