package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nadia-ai/nadia/memoryd/domain"
)

const summaryColumns = `thread_id, user_id, summary, COALESCE(last_msg_id, ''), token_count, important, updated_at, deleted_at`

// UpsertSummary replaces the thread's single live summary.
func (s *Store) UpsertSummary(ctx context.Context, sum *domain.ThreadSummary) error {
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now().UTC()
	}
	_, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO thread_summaries (thread_id, user_id, summary, last_msg_id, token_count, important, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (thread_id) DO UPDATE SET
			summary     = EXCLUDED.summary,
			last_msg_id = EXCLUDED.last_msg_id,
			token_count = EXCLUDED.token_count,
			important   = EXCLUDED.important,
			updated_at  = EXCLUDED.updated_at,
			deleted_at  = NULL`,
		sum.ThreadID, sum.UserID, sum.Summary, sum.LastMsgID, sum.TokenCount, sum.Important, sum.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert thread summary: %w", err)
	}
	return nil
}

func (s *Store) GetSummary(ctx context.Context, threadID string) (*domain.ThreadSummary, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		SELECT `+summaryColumns+`
		FROM thread_summaries
		WHERE thread_id = $1 AND deleted_at IS NULL`, threadID)

	sum, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread summary: %w", err)
	}
	return sum, nil
}

// ListSummaries returns the user's most recently summarized threads.
func (s *Store) ListSummaries(ctx context.Context, userID string, limit int) ([]*domain.ThreadSummary, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+summaryColumns+`
		FROM thread_summaries
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list thread summaries: %w", err)
	}
	defer rows.Close()

	var out []*domain.ThreadSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ThreadMemoryProfile reports how many live memories a thread has produced
// and whether any of them are durable (T1/T2). Drives the "important thread"
// summary budget.
func (s *Store) ThreadMemoryProfile(ctx context.Context, userID, threadID string) (int, bool, error) {
	var (
		count   int
		durable bool
	)
	err := s.Conn(ctx).QueryRow(ctx, `
		SELECT count(*), COALESCE(bool_or(tier IN ('T1', 'T2')), false)
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL
			AND (thread_id = $2 OR $2 = ANY(thread_set))`, userID, threadID).
		Scan(&count, &durable)
	if err != nil {
		return 0, false, fmt.Errorf("thread memory profile: %w", err)
	}
	return count, durable, nil
}

func scanSummary(row pgx.Row) (*domain.ThreadSummary, error) {
	var sum domain.ThreadSummary
	err := row.Scan(&sum.ThreadID, &sum.UserID, &sum.Summary, &sum.LastMsgID,
		&sum.TokenCount, &sum.Important, &sum.UpdatedAt, &sum.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}
