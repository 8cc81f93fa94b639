package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/recall"
)

// MessageEvent is the fire-and-forget per-message notification posted by the
// gateway.
type MessageEvent struct {
	UserID    string `json:"userId"`
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	TokensIn  int    `json:"tokensIn"`
	TokensOut int    `json:"tokensOut"`
}

// IngestMessage folds the event into the thread's cadence counters and, when
// an audit is due and outside the debounce window, enqueues an audit job.
// Returns whether a job was queued.
func (s *Service) IngestMessage(ctx context.Context, ev MessageEvent) (bool, error) {
	if ev.UserID == "" || ev.ThreadID == "" {
		return false, fmt.Errorf("userId and threadId are required: %w", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	state, err := s.store.BumpCadence(ctx, ev.ThreadID, ev.UserID, ev.TokensIn+ev.TokensOut, now)
	if err != nil {
		return false, err
	}

	if !auditDue(state, s.cfg, now) {
		return false, nil
	}
	if now.Sub(state.LastAuditAt) < s.cfg.Debounce {
		return false, nil
	}
	if s.jobs == nil {
		return false, nil
	}

	_, err = s.jobs.EnqueueJob(ctx, ev.ThreadID, ev.UserID, recall.JobTypeAudit, nil, time.Time{})
	if errors.Is(err, recall.ErrJobConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue audit job: %w", err)
	}

	s.log.Info("audit queued", "thread_id", ev.ThreadID, "messages", state.Messages, "tokens", state.Tokens)
	return true, nil
}

func auditDue(state *store.CadenceState, cfg Config, now time.Time) bool {
	if state.Messages <= 0 {
		return false
	}
	if state.Messages >= cfg.CadenceMessages {
		return true
	}
	if state.Tokens >= cfg.CadenceTokens {
		return true
	}
	return now.Sub(state.LastAuditAt) >= cfg.CadenceInterval
}
