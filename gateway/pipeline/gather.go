package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nadia-ai/nadia/gateway/analyzer"
	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/gateway/ingest"
	"github.com/nadia-ai/nadia/gateway/memoryclient"
	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/capsule"
)

// Gathered is the harvest of the per-turn fan-out. Every field may be empty:
// layers that miss their deadline or fail contribute nothing and never fail
// the turn.
type Gathered struct {
	Memories      []memoryclient.RecalledMemory
	Conversations []memoryclient.ConversationHeader
	Unlimited     *recall.Injection
	Ingestion     []ingest.Chunk
	Profile       json.RawMessage
	// Capsule is research left over from an earlier turn, folded into this
	// prompt instead of an SSE event.
	Capsule     *capsule.Capsule
	SavedMemory *memoryclient.Memory
	ResearchJob *recall.RecallJob
	// SummariesFromCache is set when the conversations layer fell back to
	// the gateway's local summary cache.
	SummariesFromCache bool
}

// gather runs the planned context layers concurrently, each under its own
// deadline. The group context is never cancelled by a layer: every layer
// returns nil so siblings keep their full budget.
func (p *Pipeline) gather(ctx context.Context, turn *Turn, query string) Gathered {
	ctx, span := tracer.Start(ctx, "pipeline.gather")
	defer span.End()

	var out Gathered
	plan := turn.Plan
	g, gctx := errgroup.WithContext(ctx)

	if plan.Memory && p.memory != nil {
		g.Go(p.layer(gctx, "memory", p.cfg.Timeouts.RecallDeadline, func(lctx context.Context) (bool, error) {
			mems, err := p.memory.Recall(lctx, turn.UserID, memoryclient.RecallQuery{
				ThreadID:    turn.ThreadID,
				Query:       query,
				MaxItems:    p.cfg.Recall.MaxItems,
				KeywordOnly: plan.KeywordOnly,
				Deadline:    p.cfg.Timeouts.RecallDeadline,
			})
			out.Memories = mems
			return len(mems) > 0, err
		}))
	}

	if plan.Conversations && p.memory != nil {
		g.Go(p.layer(gctx, "conversations", p.cfg.Timeouts.ConversationsDeadline, func(lctx context.Context) (bool, error) {
			heads, err := p.memory.Conversations(lctx, turn.UserID, turn.ThreadID, p.cfg.Recall.ConversationsN)
			if err != nil {
				if cached := p.cachedSummaries(lctx, turn.UserID, turn.ThreadID); len(cached) > 0 {
					out.Conversations = cached
					out.SummariesFromCache = true
					return true, nil
				}
				return false, err
			}
			out.Conversations = heads
			return len(heads) > 0, nil
		}))
	}

	if plan.Profile && p.memory != nil {
		g.Go(p.layer(gctx, "profile", p.cfg.Timeouts.ConversationsDeadline, func(lctx context.Context) (bool, error) {
			profile, err := p.memory.Profile(lctx, turn.UserID)
			out.Profile = profile
			return len(profile) > 0, err
		}))
	}

	if plan.Unlimited && p.detector != nil && p.loader != nil {
		g.Go(p.layer(gctx, "unlimited", p.cfg.Timeouts.UnlimitedDeadline, func(lctx context.Context) (bool, error) {
			trig, matches, err := p.detector.Detect(lctx, turn.UserID, turn.ThreadID, query)
			if err != nil || trig == nil {
				return false, err
			}
			inj, err := p.loader.Load(lctx, turn.UserID, turn.ThreadID, turn.UserMessageID, trig, matches, p.cfg.Router.MaxInputTokens)
			out.Unlimited = inj
			return inj != nil, err
		}))
	}

	if p.injector != nil && turn.Input.ThreadID != "" {
		g.Go(p.layer(gctx, "capsule_backlog", 500*time.Millisecond, func(lctx context.Context) (bool, error) {
			fact, err := p.injector.Pending(lctx, turn.ThreadID)
			out.Capsule = fact
			return fact != nil, err
		}))
	}

	if plan.Ingestion && p.ingest != nil {
		g.Go(p.layer(gctx, "ingestion", p.cfg.Timeouts.IngestDeadline, func(lctx context.Context) (bool, error) {
			chunks, err := p.ingest.Search(lctx, turn.UserID, query, 3)
			out.Ingestion = chunks
			return len(chunks) > 0, err
		}))
	}

	if plan.Web && p.jobs != nil {
		g.Go(p.layer(gctx, "research_enqueue", 2*time.Second, func(lctx context.Context) (bool, error) {
			payload, err := json.Marshal(recall.ResearchPayload{
				Query:       query,
				MessageID:   turn.UserMessageID,
				RequestedAt: time.Now().UTC(),
			})
			if err != nil {
				return false, err
			}
			job, err := p.jobs.EnqueueJob(lctx, turn.ThreadID, turn.UserID, recall.JobTypeResearch, payload, time.Now().UTC())
			if errors.Is(err, recall.ErrJobConflict) {
				// A research job for this thread is already in flight;
				// its capsule will serve this turn too.
				return true, nil
			}
			out.ResearchJob = job
			return job != nil, err
		}))
	}

	if turn.Analysis.Intent == analyzer.IntentMemorySave && p.memory != nil {
		g.Go(p.layer(gctx, "memory_save", 2*time.Second, func(lctx context.Context) (bool, error) {
			content := p.resolveSaveContent(turn)
			if content == "" {
				return false, nil
			}
			mem, err := p.memory.SaveMemory(lctx, memoryclient.SaveInput{
				UserID:   turn.UserID,
				ThreadID: turn.ThreadID,
				Content:  content,
				Tier:     "T2",
				Priority: 0.9,
			})
			out.SavedMemory = mem
			return mem != nil, err
		}))
	}

	_ = g.Wait()
	return out
}

// layer wraps one gather task with its own deadline, timing metrics, and the
// degrade-to-nothing error policy.
func (p *Pipeline) layer(ctx context.Context, name string, deadline time.Duration, fn func(context.Context) (bool, error)) func() error {
	return func() error {
		lctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		start := time.Now()
		hit, err := fn(lctx)
		metrics.GatherLayerDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		switch {
		case err == nil && hit:
		case err == nil:
			metrics.GatherLayerMisses.WithLabelValues(name, "empty").Inc()
		case errors.Is(err, context.DeadlineExceeded):
			metrics.GatherLayerMisses.WithLabelValues(name, "deadline").Inc()
			p.log.Debug("gather layer deadline", "layer", name, "budget", deadline)
		default:
			metrics.GatherLayerMisses.WithLabelValues(name, "error").Inc()
			p.log.Warn("gather layer failed", "layer", name, "error", err)
		}
		return nil
	}
}

// cachedSummaries serves the gateway's local copy of thread summaries when
// the memory service is unreachable.
func (p *Pipeline) cachedSummaries(ctx context.Context, userID, excludeThreadID string) []memoryclient.ConversationHeader {
	if p.store == nil {
		return nil
	}
	rows, err := p.store.RecentSummaries(ctx, userID, excludeThreadID, p.cfg.Recall.ConversationsN)
	if err != nil {
		p.log.Warn("summary cache read failed", "error", err)
		return nil
	}
	heads := make([]memoryclient.ConversationHeader, 0, len(rows))
	for _, r := range rows {
		heads = append(heads, memoryclient.ConversationHeader{
			ThreadID:      r.ThreadID,
			Summary:       r.Summary,
			LastMessageAt: r.UpdatedAt,
		})
	}
	return heads
}

// resolveSaveContent turns the analyzer's save directive into the text to
// store. An empty directive means "remember this": the previous assistant
// message is the referent.
func (p *Pipeline) resolveSaveContent(turn *Turn) string {
	if turn.Analysis.SaveContent != "" {
		return turn.Analysis.SaveContent
	}
	msgs := turn.Input.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}
