// Package recallengine answers "what does the user's memory say about this
// query" under a hard soft-deadline: full-text, vector, and keyword channels
// run in parallel, their rankings are fused, and the composite ordering
// decides what survives truncation.
package recallengine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/memoryd/textproc"
	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/shared/embedding"
)

const (
	DefaultDeadline     = 300 * time.Millisecond
	DefaultMaxItems     = 5
	DefaultMinVectorSim = 0.5
	candidateMultiplier = 4
)

// FusionWeights blends the per-channel scores. Which set applies depends on
// which channels returned anything.
type FusionWeights struct {
	FTS     float64
	Vector  float64
	Keyword float64
}

var (
	// All three channels returned results.
	WeightsFull = FusionWeights{FTS: 0.4, Vector: 0.4, Keyword: 0.2}
	// Full-text missed (index lag or no match).
	WeightsNoFTS = FusionWeights{Vector: 0.6, Keyword: 0.4}
	// Keyword matching is all that is left.
	WeightsKeywordOnly = FusionWeights{Keyword: 1.0}
)

// Params is one recall request. KeywordOnly downgrades the pipeline to the
// substring channel, the gateway's hint when hybrid recall is flagged off.
type Params struct {
	UserID      string
	ThreadID    string
	Query       string
	MaxItems    int
	KeywordOnly bool
	Deadline    time.Duration
}

type Engine struct {
	store        *store.Store
	embedder     *embedding.Client
	weights      FusionWeights
	minVectorSim float64
	log          *slog.Logger
}

// New builds the engine. embedder may be nil, which disables the vector
// channel. Zero weights select the defaults.
func New(st *store.Store, embedder *embedding.Client, weights FusionWeights, minVectorSim float64, log *slog.Logger) *Engine {
	if weights == (FusionWeights{}) {
		weights = WeightsFull
	}
	if minVectorSim <= 0 {
		minVectorSim = DefaultMinVectorSim
	}
	return &Engine{store: st, embedder: embedder, weights: weights, minVectorSim: minVectorSim, log: log}
}

// Recall runs the pipeline. A zero deadline means the caller has no budget
// for recall at all: the answer is an empty set, immediately. Channels that
// miss their deadline contribute nothing; recall never fails the turn.
func (e *Engine) Recall(ctx context.Context, p Params) ([]domain.RecallResult, error) {
	if p.Deadline == 0 {
		return nil, nil
	}
	if p.Deadline < 0 {
		p.Deadline = DefaultDeadline
	}
	if p.MaxItems <= 0 {
		p.MaxItems = DefaultMaxItems
	}

	start := time.Now()
	defer func() {
		metrics.RecallDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, p.Deadline)
	defer cancel()

	terms := textproc.ExpandQuery(p.Query)
	if len(terms) == 0 {
		return nil, nil
	}
	ftsQuery := strings.Join(textproc.Keywords(p.Query), " ")
	candidates := p.MaxItems * candidateMultiplier

	var (
		wg      sync.WaitGroup
		ftsHits []store.ScoredMemory
		vecHits []store.ScoredMemory
		kwHits  []*domain.Memory
	)

	if !p.KeywordOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := e.store.SearchFTS(ctx, p.UserID, ftsQuery, candidates)
			if err != nil {
				e.warnChannel(ctx, "fts", err)
				return
			}
			ftsHits = hits
		}()
	}

	if e.embedder != nil && !p.KeywordOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := e.embedder.Embed(ctx, p.Query)
			if err != nil {
				e.warnChannel(ctx, "vector embed", err)
				return
			}
			hits, err := e.store.SearchVector(ctx, p.UserID, pgvector.NewVector(vec), e.minVectorSim, candidates)
			if err != nil {
				e.warnChannel(ctx, "vector", err)
				return
			}
			vecHits = hits
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		patterns := make([]string, len(terms))
		for i, t := range terms {
			patterns[i] = "%" + t + "%"
		}
		hits, err := e.store.SearchKeyword(ctx, p.UserID, patterns, candidates)
		if err != nil {
			e.warnChannel(ctx, "keyword", err)
			return
		}
		kwHits = hits
	}()

	wg.Wait()

	fused := fuse(e.weights, ftsHits, vecHits, scoreKeyword(kwHits, terms))
	rankComposite(fused, p.ThreadID, time.Now().UTC())
	fused = dedupeAttributes(fused)

	if len(fused) > p.MaxItems {
		fused = fused[:p.MaxItems]
	}

	metrics.RecallResults.Observe(float64(len(fused)))
	e.log.Debug("recall completed",
		"user_id", p.UserID,
		"results", len(fused),
		"fts", len(ftsHits),
		"vector", len(vecHits),
		"keyword", len(kwHits),
		"elapsed_ms", time.Since(start).Milliseconds())

	return fused, nil
}

// warnChannel keeps deadline expiry quiet: partial results are the designed
// behavior, not an incident.
func (e *Engine) warnChannel(ctx context.Context, channel string, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.log.Debug("recall channel deadline", "channel", channel)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	e.log.Warn("recall channel failed", "channel", channel, "error", err)
}

// scoreKeyword turns keyword candidates into scored hits: relevance is the
// fraction of query terms the content contains.
func scoreKeyword(hits []*domain.Memory, terms []string) []store.ScoredMemory {
	if len(hits) == 0 || len(terms) == 0 {
		return nil
	}
	out := make([]store.ScoredMemory, 0, len(hits))
	for _, m := range hits {
		content := strings.ToLower(m.Content)
		matched := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out = append(out, store.ScoredMemory{
			Memory: m,
			Score:  float64(matched) / float64(len(terms)),
		})
	}
	return out
}

// fuse blends the channels under the weight set the available channels call
// for, normalizing each channel's scores to [0,1] first.
func fuse(full FusionWeights, fts, vec, kw []store.ScoredMemory) []domain.RecallResult {
	weights := pickWeights(full, len(fts) > 0, len(vec) > 0)

	type entry struct {
		memory *domain.Memory
		score  float64
		source string
	}
	byID := map[string]*entry{}

	add := func(hits []store.ScoredMemory, weight float64, source string) {
		if weight == 0 || len(hits) == 0 {
			return
		}
		max := 0.0
		for _, h := range hits {
			if h.Score > max {
				max = h.Score
			}
		}
		if max == 0 {
			max = 1
		}
		for _, h := range hits {
			e, ok := byID[h.Memory.ID]
			if !ok {
				e = &entry{memory: h.Memory, source: source}
				byID[h.Memory.ID] = e
			}
			e.score += weight * (h.Score / max)
		}
	}

	add(fts, weights.FTS, domain.SourceFTS)
	add(vec, weights.Vector, domain.SourceVector)
	add(kw, weights.Keyword, domain.SourceKeyword)

	out := make([]domain.RecallResult, 0, len(byID))
	for _, e := range byID {
		out = append(out, domain.RecallResult{Memory: e.memory, Score: e.score, Source: e.source})
	}
	return out
}

func pickWeights(full FusionWeights, hasFTS, hasVector bool) FusionWeights {
	switch {
	case hasFTS && hasVector:
		return full
	case hasVector:
		return WeightsNoFTS
	case hasFTS:
		// Unnamed in policy: renormalize the full weights over the two
		// live channels.
		total := full.FTS + full.Keyword
		return FusionWeights{FTS: full.FTS / total, Keyword: full.Keyword / total}
	default:
		return WeightsKeywordOnly
	}
}

// rankComposite orders results by the composite policy: same-thread first,
// then the 24h recency bucket, then tier, then update time, then priority.
func rankComposite(results []domain.RecallResult, threadID string, now time.Time) {
	dayAgo := now.Add(-24 * time.Hour)
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Memory, results[j].Memory

		aThread := inThread(a, threadID)
		bThread := inThread(b, threadID)
		if aThread != bThread {
			return aThread
		}

		aRecent := a.UpdatedAt.After(dayAgo)
		bRecent := b.UpdatedAt.After(dayAgo)
		if aRecent != bRecent {
			return aRecent
		}

		if a.Tier != b.Tier {
			return tierRank(a.Tier) < tierRank(b.Tier)
		}

		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}

		return a.Priority > b.Priority
	})
}

func inThread(m *domain.Memory, threadID string) bool {
	if threadID == "" {
		return false
	}
	if m.ThreadID == threadID {
		return true
	}
	for _, t := range m.ThreadSet {
		if t == threadID {
			return true
		}
	}
	return false
}

func tierRank(tier string) int {
	switch tier {
	case domain.TierCrossRecent:
		return 0
	case domain.TierPrefsGoals:
		return 1
	default:
		return 2
	}
}

// dedupeAttributes collapses memories that state the same attribute ("my
// favorite color is ...") down to the most recently updated variant.
func dedupeAttributes(results []domain.RecallResult) []domain.RecallResult {
	seen := map[string]int{}
	out := results[:0]
	for _, r := range results {
		key := textproc.AttributeKey(r.Memory.Content)
		if key == "" {
			out = append(out, r)
			continue
		}
		if idx, ok := seen[key]; ok {
			if r.Memory.UpdatedAt.After(out[idx].Memory.UpdatedAt) {
				out[idx] = r
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}
	return out
}
