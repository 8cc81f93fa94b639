package store

import (
	"context"
	"fmt"
	"time"
)

// ExpireMemories soft-deletes live memories of a tier whose last sighting is
// past the cutoff. Returns the number expired.
func (s *Store) ExpireMemories(ctx context.Context, tier string, cutoff time.Time) (int64, error) {
	tag, err := s.Conn(ctx).Exec(ctx, `
		UPDATE memories
		SET deleted_at = now(), updated_at = now()
		WHERE tier = $1 AND deleted_at IS NULL AND last_seen_at < $2`, tier, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire memories: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DecayMemories applies one week of priority decay to live memories of a
// tier that have not been decayed in the past week. The watermark makes the
// sweep idempotent under restarts.
func (s *Store) DecayMemories(ctx context.Context, tier string, weeklyDecay float64) (int64, error) {
	tag, err := s.Conn(ctx).Exec(ctx, `
		UPDATE memories
		SET priority = GREATEST(0.0, priority * (1 - $2)), last_decay_at = now()
		WHERE tier = $1 AND deleted_at IS NULL AND last_decay_at < now() - interval '7 days'`,
		tier, weeklyDecay)
	if err != nil {
		return 0, fmt.Errorf("decay memories: %w", err)
	}
	return tag.RowsAffected(), nil
}
