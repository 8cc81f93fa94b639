package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/shared/id"
)

func (s *Store) InsertAudit(ctx context.Context, a *domain.MemoryAudit) error {
	if a.ID == "" {
		a.ID = id.NewAudit()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO memory_audits (id, user_id, thread_id, start_msg_id, end_msg_id, token_count, score, saved, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)`,
		a.ID, a.UserID, a.ThreadID, a.StartMsgID, a.EndMsgID, a.TokenCount, a.Score, a.Saved, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Store) LastAudit(ctx context.Context, threadID string) (*domain.MemoryAudit, error) {
	var a domain.MemoryAudit
	err := s.Conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, thread_id, COALESCE(start_msg_id, ''), COALESCE(end_msg_id, ''), token_count, score, saved, created_at
		FROM memory_audits
		WHERE thread_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, threadID).
		Scan(&a.ID, &a.UserID, &a.ThreadID, &a.StartMsgID, &a.EndMsgID, &a.TokenCount, &a.Score, &a.Saved, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get last audit: %w", err)
	}
	return &a, nil
}

// CadenceState is the per-thread counters that decide when the next audit is
// due.
type CadenceState struct {
	ThreadID    string
	UserID      string
	Messages    int
	Tokens      int
	LastAuditAt time.Time
	LastEventAt time.Time
}

// BumpCadence folds one message event into the thread's cadence counters and
// returns the updated state.
func (s *Store) BumpCadence(ctx context.Context, threadID, userID string, tokens int, at time.Time) (*CadenceState, error) {
	var st CadenceState
	err := s.Conn(ctx).QueryRow(ctx, `
		INSERT INTO audit_cadence (thread_id, user_id, messages, tokens, last_audit_at, last_event_at)
		VALUES ($1, $2, 1, $3, $4, $4)
		ON CONFLICT (thread_id) DO UPDATE SET
			messages      = audit_cadence.messages + 1,
			tokens        = audit_cadence.tokens + EXCLUDED.tokens,
			last_event_at = EXCLUDED.last_event_at
		RETURNING thread_id, user_id, messages, tokens, last_audit_at, last_event_at`,
		threadID, userID, tokens, at).
		Scan(&st.ThreadID, &st.UserID, &st.Messages, &st.Tokens, &st.LastAuditAt, &st.LastEventAt)
	if err != nil {
		return nil, fmt.Errorf("bump cadence: %w", err)
	}
	return &st, nil
}

// ResetCadence zeroes the counters after an audit ran.
func (s *Store) ResetCadence(ctx context.Context, threadID string, auditedAt time.Time) error {
	_, err := s.Conn(ctx).Exec(ctx, `
		UPDATE audit_cadence
		SET messages = 0, tokens = 0, last_audit_at = $2
		WHERE thread_id = $1`, threadID, auditedAt)
	if err != nil {
		return fmt.Errorf("reset cadence: %w", err)
	}
	return nil
}
