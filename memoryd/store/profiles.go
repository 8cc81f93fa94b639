package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nadia-ai/nadia/memoryd/domain"
)

func (s *Store) UpsertProfile(ctx context.Context, p *domain.UserProfile) error {
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	_, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO user_profiles (user_id, profile, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			profile      = EXCLUDED.profile,
			last_updated = EXCLUDED.last_updated`,
		p.UserID, p.Profile, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("upsert user profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := s.Conn(ctx).QueryRow(ctx, `
		SELECT user_id, profile, last_updated
		FROM user_profiles
		WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.Profile, &p.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return &p, nil
}
