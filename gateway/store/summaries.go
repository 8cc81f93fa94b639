package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nadia-ai/nadia/gateway/domain"
)

// UpsertSummary caches a memory-service summary locally. The gateway reads
// the cache when the memory service cannot be reached in time.
func (s *Store) UpsertSummary(ctx context.Context, sum *domain.ThreadSummary) error {
	_, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO thread_summaries (thread_id, user_id, summary, last_msg_id, token_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (thread_id) DO UPDATE SET
			summary     = EXCLUDED.summary,
			last_msg_id = EXCLUDED.last_msg_id,
			token_count = EXCLUDED.token_count,
			updated_at  = now(),
			deleted_at  = NULL`,
		sum.ThreadID, sum.UserID, sum.Summary, nullable(sum.LastMsgID), sum.TokenCount)
	if err != nil {
		return fmt.Errorf("upsert thread summary: %w", err)
	}
	return nil
}

func (s *Store) GetSummary(ctx context.Context, threadID, userID string) (*domain.ThreadSummary, error) {
	var sum domain.ThreadSummary
	err := s.Conn(ctx).QueryRow(ctx, `
		SELECT thread_id, user_id, summary, COALESCE(last_msg_id, ''), token_count, updated_at, deleted_at
		FROM thread_summaries
		WHERE thread_id = $1 AND user_id = $2 AND deleted_at IS NULL`, threadID, userID).
		Scan(&sum.ThreadID, &sum.UserID, &sum.Summary, &sum.LastMsgID, &sum.TokenCount, &sum.UpdatedAt, &sum.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread summary: %w", err)
	}
	return &sum, nil
}

// RecentSummaries lists the user's freshest cached summaries, excluding the
// current thread. This is the degraded-mode source for the conversations
// context layer.
func (s *Store) RecentSummaries(ctx context.Context, userID, excludeThreadID string, limit int) ([]*domain.ThreadSummary, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT thread_id, user_id, summary, COALESCE(last_msg_id, ''), token_count, updated_at, deleted_at
		FROM thread_summaries
		WHERE user_id = $1 AND thread_id <> $2 AND deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $3`, userID, excludeThreadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent summaries: %w", err)
	}
	defer rows.Close()

	var out []*domain.ThreadSummary
	for rows.Next() {
		var sum domain.ThreadSummary
		if err := rows.Scan(&sum.ThreadID, &sum.UserID, &sum.Summary, &sum.LastMsgID,
			&sum.TokenCount, &sum.UpdatedAt, &sum.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan thread summary: %w", err)
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// GetSummaries loads cached summaries for the given threads. Threads without
// a cached summary are simply absent from the result.
func (s *Store) GetSummaries(ctx context.Context, userID string, threadIDs []string) (map[string]*domain.ThreadSummary, error) {
	if len(threadIDs) == 0 {
		return map[string]*domain.ThreadSummary{}, nil
	}
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT thread_id, user_id, summary, COALESCE(last_msg_id, ''), token_count, updated_at, deleted_at
		FROM thread_summaries
		WHERE user_id = $1 AND thread_id = ANY($2) AND deleted_at IS NULL`, userID, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("list thread summaries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.ThreadSummary, len(threadIDs))
	for rows.Next() {
		var sum domain.ThreadSummary
		if err := rows.Scan(&sum.ThreadID, &sum.UserID, &sum.Summary, &sum.LastMsgID,
			&sum.TokenCount, &sum.UpdatedAt, &sum.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan thread summary: %w", err)
		}
		out[sum.ThreadID] = &sum
	}
	return out, rows.Err()
}
