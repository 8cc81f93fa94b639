package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/shared/id"
)

// InsertCost records the token spend of one turn.
func (s *Store) InsertCost(ctx context.Context, c *domain.CostRecord) error {
	if c.ID == "" {
		c.ID = id.NewCost()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO cost_tracking (id, user_id, thread_id, request_id, provider, model, tokens_input, tokens_output, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.UserID, c.ThreadID, c.RequestID, c.Provider, c.Model,
		c.TokensIn, c.TokensOut, c.CostUSD, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}
	return nil
}

// UserSpend sums a user's cost over the window.
func (s *Store) UserSpend(ctx context.Context, userID string, since time.Time) (float64, error) {
	var total float64
	err := s.Conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(sum(cost_usd), 0)
		FROM cost_tracking
		WHERE user_id = $1 AND created_at >= $2`, userID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum user spend: %w", err)
	}
	return total, nil
}
