package pipeline

import (
	"context"
	"time"

	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/gateway/memoryclient"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/tokens"
)

// persistBudget caps the detached persistence pass. Writes that cannot finish
// inside it are logged and abandoned; capture idempotency makes retries safe.
const persistBudget = 10 * time.Second

// Persist finishes the turn off the request path: message rows, memory
// events, conversation capture, the cost row, and the summary cache refresh.
// It runs on a context detached from the request so a client disconnect
// cannot lose the write, and it never reports failure to the caller.
func (p *Pipeline) Persist(ctx context.Context, turn *Turn, res *StreamResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistBudget)
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	now := time.Now().UTC()
	userContent := turn.Input.LastUserMessage()
	userTokens := tokens.Count(userContent)

	userMsg := &domain.Message{
		ID:        turn.UserMessageID,
		ThreadID:  turn.ThreadID,
		UserID:    turn.UserID,
		Role:      domain.RoleUser,
		Content:   userContent,
		TokensIn:  userTokens,
		CreatedAt: turn.StartedAt,
	}
	if err := p.store.InsertMessage(ctx, userMsg); err != nil {
		p.log.Error("persist user message failed", "request_id", turn.RequestID, "error", err)
	}

	var asstMsg *domain.Message
	if res.Content != "" {
		asstMsg = &domain.Message{
			ID:        turn.AssistantMessageID,
			ThreadID:  turn.ThreadID,
			UserID:    turn.UserID,
			Role:      domain.RoleAssistant,
			Content:   res.Content,
			Provider:  res.Provider,
			Model:     res.Model,
			TokensIn:  turn.InputTokens,
			TokensOut: res.OutputTokens,
			CreatedAt: now,
		}
		if err := p.store.InsertMessage(ctx, asstMsg); err != nil {
			p.log.Error("persist assistant message failed", "request_id", turn.RequestID, "error", err)
		}
	}

	if p.cfg.Flags.MemoryEvents && p.memory != nil {
		p.postEvent(ctx, turn, memoryclient.MessageEvent{
			UserID:    turn.UserID,
			ThreadID:  turn.ThreadID,
			MessageID: userMsg.ID,
			Role:      domain.RoleUser,
			Content:   userContent,
			TokensIn:  userTokens,
		})
		if asstMsg != nil {
			p.postEvent(ctx, turn, memoryclient.MessageEvent{
				UserID:    turn.UserID,
				ThreadID:  turn.ThreadID,
				MessageID: asstMsg.ID,
				Role:      domain.RoleAssistant,
				Content:   res.Content,
				TokensIn:  turn.InputTokens,
				TokensOut: res.OutputTokens,
			})
		}
	}

	p.captureTurn(ctx, turn, res, userContent, userTokens, now)

	if err := p.store.InsertCost(ctx, &domain.CostRecord{
		UserID:    turn.UserID,
		ThreadID:  turn.ThreadID,
		RequestID: turn.RequestID,
		Provider:  res.Provider,
		Model:     res.Model,
		TokensIn:  turn.InputTokens,
		TokensOut: res.OutputTokens,
		CostUSD:   p.turnCost(turn.InputTokens, res.OutputTokens),
	}); err != nil {
		p.log.Error("persist cost failed", "request_id", turn.RequestID, "error", err)
	}

	p.refreshSummaryCache(ctx, turn)
}

func (p *Pipeline) postEvent(ctx context.Context, turn *Turn, ev memoryclient.MessageEvent) {
	if err := p.memory.PostMessageEvent(ctx, ev); err != nil {
		p.log.Warn("message event post failed",
			"request_id", turn.RequestID, "message_id", ev.MessageID, "error", err)
	}
}

// captureTurn archives both messages for unlimited recall; capture enqueues
// whatever label/summary jobs the new counters make due.
func (p *Pipeline) captureTurn(ctx context.Context, turn *Turn, res *StreamResult, userContent string, userTokens int, now time.Time) {
	if p.capture == nil {
		return
	}
	msgs := []*recall.ConversationMessage{{
		MessageID:  turn.UserMessageID,
		ThreadID:   turn.ThreadID,
		UserID:     turn.UserID,
		Role:       domain.RoleUser,
		Content:    userContent,
		TokenCount: userTokens,
		CreatedAt:  turn.StartedAt,
	}}
	if res.Content != "" {
		msgs = append(msgs, &recall.ConversationMessage{
			MessageID:  turn.AssistantMessageID,
			ThreadID:   turn.ThreadID,
			UserID:     turn.UserID,
			Role:       domain.RoleAssistant,
			Content:    res.Content,
			TokenCount: res.OutputTokens,
			CreatedAt:  now,
		})
	}
	if err := p.capture.Turn(ctx, msgs...); err != nil {
		p.log.Error("conversation capture failed", "request_id", turn.RequestID, "error", err)
	}
}

// refreshSummaryCache mirrors fresh memory-service summaries into the
// gateway's fallback table. Cache-sourced headers are not written back.
func (p *Pipeline) refreshSummaryCache(ctx context.Context, turn *Turn) {
	if turn.Gathered.SummariesFromCache {
		return
	}
	for _, h := range turn.Gathered.Conversations {
		if h.Summary == "" {
			continue
		}
		err := p.store.UpsertSummary(ctx, &domain.ThreadSummary{
			ThreadID:   h.ThreadID,
			UserID:     turn.UserID,
			Summary:    h.Summary,
			TokenCount: tokens.Count(h.Summary),
		})
		if err != nil {
			p.log.Warn("summary cache refresh failed",
				"request_id", turn.RequestID, "thread_id", h.ThreadID, "error", err)
		}
	}
}

func (p *Pipeline) turnCost(in, out int) float64 {
	return float64(in)/1000*p.cfg.Cost.InputPer1K + float64(out)/1000*p.cfg.Cost.OutputPer1K
}
