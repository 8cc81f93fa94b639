// Package planner turns a query analysis into the set of context layers the
// gateway fans out to for the turn.
package planner

import (
	"github.com/nadia-ai/nadia/gateway/analyzer"
	"github.com/nadia-ai/nadia/gateway/config"
)

// Plan lists the layers selected for one turn. Layers not selected return
// immediately from the gather.
type Plan struct {
	Memory        bool
	Vector        bool
	Web           bool
	Unlimited     bool
	Ingestion     bool
	Conversations bool
	Profile       bool
	// KeywordOnly downgrades memory recall to its keyword channel, used
	// when hybrid retrieval is disabled by flag.
	KeywordOnly bool
	// ExpandQuery asks the recall engine to widen vague queries with
	// synonym expansion.
	ExpandQuery bool
}

// Build applies the decision table. Unlimited recall stays trigger-gated: the
// plan only says whether a fired trigger may be honored.
func Build(a analyzer.Analysis, flags config.FlagsConfig, embeddings bool) Plan {
	p := Plan{
		Conversations: true,
		Profile:       true,
		Unlimited:     flags.FR,
	}

	switch a.Intent {
	case analyzer.IntentMemoryList, analyzer.IntentMemorySave:
		// The memory surface is addressed directly; no research layers.
		p.Memory = true
		p.Unlimited = false

	case analyzer.IntentNeedsWebSearch:
		p.Memory = true
		p.Web = true
		p.Ingestion = true
		p.Unlimited = false

	case analyzer.IntentExplanatory:
		p.Memory = true
		p.Vector = embeddings
		p.Ingestion = true

	case analyzer.IntentFollowUp:
		// Follow-ups lean on the live tail; recall stays on for pronoun
		// resolution but nothing heavier runs.
		p.Memory = true
		p.Unlimited = false

	case analyzer.IntentFactual, analyzer.IntentDiscussion, analyzer.IntentAction:
		p.Memory = true
		p.Vector = embeddings

	default:
		p.Memory = true
		p.Vector = embeddings
		p.ExpandQuery = true
	}

	if a.Complexity == analyzer.ComplexityComplex {
		p.Memory = true
		p.Vector = embeddings
		p.Web = true
		p.Ingestion = true
	}

	// Vague one-liners get query expansion instead of extra layers.
	if a.WordCount <= 3 && !a.IsQuestion && a.Intent == analyzer.IntentDiscussion {
		p.ExpandQuery = true
		p.Web = false
		p.Ingestion = false
	}

	// Flags veto layers last.
	if !flags.RAG {
		p.Memory = false
		p.Vector = false
	}
	if !flags.Search {
		p.Web = false
	}
	if !flags.HybridRAG {
		p.Vector = false
		p.KeywordOnly = true
	}

	return p
}
