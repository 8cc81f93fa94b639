package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/shared/id"
)

const messageColumns = `id, thread_id, user_id, role, content,
		COALESCE(provider, ''), COALESCE(model, ''), tokens_input, tokens_output,
		important, meta, created_at, deleted_at`

// InsertMessage appends one message to the dialogue log.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = id.NewMessage()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO messages (id, thread_id, user_id, role, content, provider, model, tokens_input, tokens_output, important, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.ThreadID, m.UserID, m.Role, m.Content, nullable(m.Provider), nullable(m.Model),
		m.TokensIn, m.TokensOut, m.Important, m.Meta, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage loads one live message scoped to its owner.
func (s *Store) GetMessage(ctx context.Context, msgID, userID string) (*domain.Message, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, msgID, userID)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ThreadMessages returns the live messages of a thread in dialogue order.
func (s *Store) ThreadMessages(ctx context.Context, threadID, userID string, limit int) ([]*domain.Message, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+messageColumns+`
		FROM (
			SELECT `+messageColumns+`
			FROM messages
			WHERE thread_id = $1 AND user_id = $2 AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) newest
		ORDER BY created_at ASC, id ASC`, threadID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list thread messages: %w", err)
	}
	return collectMessages(rows)
}

// SoftDeleteMessage hides a message from retrieval while keeping the row for
// audit.
func (s *Store) SoftDeleteMessage(ctx context.Context, msgID, userID string) error {
	tag, err := s.Conn(ctx).Exec(ctx, `
		UPDATE messages
		SET deleted_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, msgID, userID)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ThreadExists reports whether the thread has any live message for the user.
func (s *Store) ThreadExists(ctx context.Context, threadID, userID string) (bool, error) {
	var exists bool
	err := s.Conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE thread_id = $1 AND user_id = $2 AND deleted_at IS NULL
		)`, threadID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check thread: %w", err)
	}
	return exists, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content,
		&m.Provider, &m.Model, &m.TokensIn, &m.TokensOut,
		&m.Important, &m.Meta, &m.CreatedAt, &m.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMessages(rows pgx.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
