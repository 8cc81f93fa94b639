// Package store persists the memory service's data: tiered memories with
// their embeddings and full-text rows, audit records, thread summaries, and
// user profiles.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/shared/id"
	"github.com/nadia-ai/nadia/shared/pgstore"
)

// DedupScanWindow is how many recent memories the dedup path compares a
// candidate against.
const DedupScanWindow = 20

type Store struct {
	*pgstore.DB
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{DB: pgstore.NewDB(pool)}
}

const memoryColumns = `id, user_id, thread_id, COALESCE(source_thread_id, ''), tier, content,
		keywords, entities, redaction_map, priority, confidence, repeats, thread_set,
		last_seen_at, last_decay_at, created_at, updated_at, deleted_at,
		(embedding IS NOT NULL) AS has_embedding`

// CreateMemory inserts a new memory row. A fingerprint collision on
// (user, content, tier) returns domain.ErrDuplicate so the caller can take
// the merge path instead.
func (s *Store) CreateMemory(ctx context.Context, m *domain.Memory, fingerprint string) error {
	if m.ID == "" {
		m.ID = id.NewMemory()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.LastSeenAt.IsZero() {
		m.LastSeenAt = now
	}
	if m.LastDecayAt.IsZero() {
		m.LastDecayAt = now
	}
	if m.Repeats < 1 {
		m.Repeats = 1
	}
	if len(m.ThreadSet) == 0 && m.ThreadID != "" {
		m.ThreadSet = []string{m.ThreadID}
	}

	redactionJSON, err := json.Marshal(m.RedactionMap)
	if err != nil {
		return fmt.Errorf("marshal redaction map: %w", err)
	}

	_, err = s.Conn(ctx).Exec(ctx, `
		INSERT INTO memories (id, user_id, thread_id, source_thread_id, tier, content, content_fingerprint,
			keywords, entities, redaction_map, priority, confidence, repeats, thread_set,
			last_seen_at, last_decay_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		m.ID, m.UserID, m.ThreadID, m.SourceThreadID, m.Tier, m.Content, fingerprint,
		m.Keywords, m.Entities, redactionJSON, m.Priority, m.Confidence, m.Repeats, m.ThreadSet,
		m.LastSeenAt, m.LastDecayAt, m.CreatedAt, m.UpdatedAt)
	if pgstore.UniqueViolation(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, memoryID, userID string) (*domain.Memory, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, memoryID, userID)

	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// GetMemoryByFingerprint resolves the live row behind a fingerprint
// collision so the write path can merge into it.
func (s *Store) GetMemoryByFingerprint(ctx context.Context, userID, fingerprint string) (*domain.Memory, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE user_id = $1 AND content_fingerprint = $2 AND deleted_at IS NULL`, userID, fingerprint)

	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory by fingerprint: %w", err)
	}
	return m, nil
}

// ListMemories pages a user's live memories, optionally filtered to one
// thread (matching either the creation thread or the thread set).
func (s *Store) ListMemories(ctx context.Context, userID, threadID string, limit, offset int) ([]*domain.Memory, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL
			AND ($2 = '' OR thread_id = $2 OR $2 = ANY(thread_set))
		ORDER BY updated_at DESC
		LIMIT $3 OFFSET $4`, userID, threadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return collectMemories(rows)
}

func (s *Store) CountMemories(ctx context.Context, userID, threadID string) (int, error) {
	var n int
	err := s.Conn(ctx).QueryRow(ctx, `
		SELECT count(*)
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL
			AND ($2 = '' OR thread_id = $2 OR $2 = ANY(thread_set))`, userID, threadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// RecentMemories returns the dedup scan window: the user's most recently
// updated live memories, optionally restricted by tier.
func (s *Store) RecentMemories(ctx context.Context, userID, tier string, limit int) ([]*domain.Memory, error) {
	if limit <= 0 {
		limit = DedupScanWindow
	}
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL AND ($2 = '' OR tier = $2)
		ORDER BY updated_at DESC
		LIMIT $3`, userID, tier, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent memories: %w", err)
	}
	return collectMemories(rows)
}

// MergeMemory folds a re-mention into an existing memory: bumps repeats and
// priority, adds the thread to the thread set, refreshes last seen, and
// optionally replaces the content when the newer phrasing is clearer.
func (s *Store) MergeMemory(ctx context.Context, memoryID, threadID string, priorityBump float64, newContent, newFingerprint string) (*domain.Memory, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		UPDATE memories
		SET repeats     = repeats + 1,
			priority    = LEAST(1.0, priority + $3),
			thread_set  = CASE WHEN $2 = ANY(thread_set) THEN thread_set ELSE array_append(thread_set, $2) END,
			content     = CASE WHEN $4 = '' THEN content ELSE $4 END,
			content_fingerprint = CASE WHEN $5 = '' THEN content_fingerprint ELSE $5 END,
			last_seen_at = now(),
			updated_at   = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+memoryColumns, memoryID, threadID, priorityBump, newContent, newFingerprint)

	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("merge memory: %w", err)
	}
	return m, nil
}

// MemoryPatch carries the optional fields of a partial update. Nil means
// leave unchanged.
type MemoryPatch struct {
	Content     *string
	Fingerprint *string
	Keywords    []string
	Priority    *float64
	Tier        *string
}

func (s *Store) UpdateMemory(ctx context.Context, memoryID, userID string, patch MemoryPatch) (*domain.Memory, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		UPDATE memories
		SET content             = COALESCE($3, content),
			content_fingerprint = COALESCE($4, content_fingerprint),
			keywords            = COALESCE($5, keywords),
			priority            = LEAST(1.0, GREATEST(0.0, COALESCE($6, priority))),
			tier                = COALESCE($7, tier),
			updated_at          = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING `+memoryColumns,
		memoryID, userID, patch.Content, patch.Fingerprint, patch.Keywords, patch.Priority, patch.Tier)

	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if pgstore.UniqueViolation(err) {
		return nil, domain.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	return m, nil
}

func (s *Store) SoftDeleteMemory(ctx context.Context, memoryID, userID string) error {
	tag, err := s.Conn(ctx).Exec(ctx, `
		UPDATE memories
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, memoryID, userID)
	if err != nil {
		return fmt.Errorf("soft delete memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AdjustPriority applies a feedback delta, clamped to [0,1].
func (s *Store) AdjustPriority(ctx context.Context, memoryID, userID string, delta float64) (*domain.Memory, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		UPDATE memories
		SET priority = LEAST(1.0, GREATEST(0.0, priority + $3)), updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING `+memoryColumns, memoryID, userID, delta)

	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("adjust memory priority: %w", err)
	}
	return m, nil
}

// TierStats is one row of the per-tier aggregate.
type TierStats struct {
	Tier        string  `json:"tier"`
	Count       int     `json:"count"`
	AvgPriority float64 `json:"avgPriority"`
	AvgRepeats  float64 `json:"avgRepeats"`
}

func (s *Store) MemoryStats(ctx context.Context, userID string) ([]TierStats, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT tier, count(*), COALESCE(avg(priority), 0), COALESCE(avg(repeats), 0)
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL
		GROUP BY tier
		ORDER BY tier`, userID)
	if err != nil {
		return nil, fmt.Errorf("memory stats: %w", err)
	}
	defer rows.Close()

	var out []TierStats
	for rows.Next() {
		var st TierStats
		if err := rows.Scan(&st.Tier, &st.Count, &st.AvgPriority, &st.AvgRepeats); err != nil {
			return nil, fmt.Errorf("scan memory stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanMemory(row pgx.Row) (*domain.Memory, error) {
	var (
		m         domain.Memory
		redaction []byte
	)
	err := row.Scan(&m.ID, &m.UserID, &m.ThreadID, &m.SourceThreadID, &m.Tier, &m.Content,
		&m.Keywords, &m.Entities, &redaction, &m.Priority, &m.Confidence, &m.Repeats, &m.ThreadSet,
		&m.LastSeenAt, &m.LastDecayAt, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt, &m.HasEmbedding)
	if err != nil {
		return nil, err
	}
	if len(redaction) > 0 {
		if err := json.Unmarshal(redaction, &m.RedactionMap); err != nil {
			return nil, fmt.Errorf("unmarshal redaction map: %w", err)
		}
	}
	return &m, nil
}

func collectMemories(rows pgx.Rows) ([]*domain.Memory, error) {
	defer rows.Close()
	var out []*domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
