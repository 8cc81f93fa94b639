package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/nadia-ai/nadia/memoryd/domain"
)

// ScoredMemory pairs a memory with the raw score of one search channel.
type ScoredMemory struct {
	Memory *domain.Memory
	Score  float64
}

// Qualified column list for queries that join memories with another table.
const memoryColumnsQualified = `m.id, m.user_id, m.thread_id, COALESCE(m.source_thread_id, ''), m.tier, m.content,
		m.keywords, m.entities, m.redaction_map, m.priority, m.confidence, m.repeats, m.thread_set,
		m.last_seen_at, m.last_decay_at, m.created_at, m.updated_at, m.deleted_at,
		(m.embedding IS NOT NULL) AS has_embedding`

// SearchFTS runs the full-text channel over the synced memories_fts rows.
// The tsquery is built with websearch syntax so quoted phrases rank above
// bare terms.
func (s *Store) SearchFTS(ctx context.Context, userID, query string, limit int) ([]ScoredMemory, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+memoryColumnsQualified+`, ts_rank_cd(f.tsv, websearch_to_tsquery('english', $2)) AS rank
		FROM memories_fts f
		JOIN memories m ON m.id = f.memory_id
		WHERE f.user_id = $1
			AND f.tsv @@ websearch_to_tsquery('english', $2)
			AND m.deleted_at IS NULL
		ORDER BY rank DESC
		LIMIT $3`, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	return collectScored(rows)
}

// SearchVector runs the embedding channel: cosine similarity against the
// query vector, floored at minSimilarity.
func (s *Store) SearchVector(ctx context.Context, userID string, query pgvector.Vector, minSimilarity float64, limit int) ([]ScoredMemory, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+memoryColumns+`, 1 - (embedding <=> $2) AS similarity
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL AND embedding IS NOT NULL
			AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2
		LIMIT $4`, userID, query, minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return collectScored(rows)
}

// SearchKeyword returns candidates containing any of the patterns. Scoring
// by matched-term count happens in the recall engine.
func (s *Store) SearchKeyword(ctx context.Context, userID string, patterns []string, limit int) ([]*domain.Memory, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL AND content ILIKE ANY($2)
		ORDER BY updated_at DESC
		LIMIT $3`, userID, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return collectMemories(rows)
}

// SetMemoryEmbedding stores the vector for one memory and records which
// model produced it, in one statement so the bookkeeping row can never drift
// from the vector.
func (s *Store) SetMemoryEmbedding(ctx context.Context, memoryID string, vec pgvector.Vector, model string, dims int) error {
	tag, err := s.Conn(ctx).Exec(ctx, `
		WITH updated AS (
			UPDATE memories
			SET embedding = $2
			WHERE id = $1 AND deleted_at IS NULL
			RETURNING id
		)
		INSERT INTO memory_embeddings (memory_id, model, dims, updated_at)
		SELECT id, $3, $4, now() FROM updated
		ON CONFLICT (memory_id) DO UPDATE
		SET model = EXCLUDED.model, dims = EXCLUDED.dims, updated_at = EXCLUDED.updated_at`,
		memoryID, vec, model, dims)
	if err != nil {
		return fmt.Errorf("set memory embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MemoriesNeedingEmbedding lists live memories whose vector is missing or was
// produced by a different model than the one in use.
func (s *Store) MemoriesNeedingEmbedding(ctx context.Context, model string, limit int) ([]*domain.Memory, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+memoryColumnsQualified+`
		FROM memories m
		LEFT JOIN memory_embeddings e ON e.memory_id = m.id
		WHERE m.deleted_at IS NULL AND (m.embedding IS NULL OR e.model IS DISTINCT FROM $1)
		ORDER BY m.updated_at DESC
		LIMIT $2`, model, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories needing embedding: %w", err)
	}
	return collectMemories(rows)
}

// FTSCandidate is one memory whose full-text row is stale.
type FTSCandidate struct {
	MemoryID  string
	UserID    string
	Content   string
	UpdatedAt time.Time
	Deleted   bool
}

// MemoriesNeedingFTSSync tails memory writes the full-text table has not
// caught up with, including soft deletions that must drop their rows.
func (s *Store) MemoriesNeedingFTSSync(ctx context.Context, limit int) ([]FTSCandidate, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT id, user_id, content, updated_at, deleted_at IS NOT NULL
		FROM memories
		WHERE fts_synced_at IS NULL OR fts_synced_at < updated_at
		ORDER BY updated_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories needing fts sync: %w", err)
	}
	defer rows.Close()

	var out []FTSCandidate
	for rows.Next() {
		var c FTSCandidate
		if err := rows.Scan(&c.MemoryID, &c.UserID, &c.Content, &c.UpdatedAt, &c.Deleted); err != nil {
			return nil, fmt.Errorf("scan fts candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertFTSRow(ctx context.Context, memoryID, userID, content string) error {
	_, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO memories_fts (memory_id, user_id, tsv)
		VALUES ($1, $2, to_tsvector('english', $3))
		ON CONFLICT (memory_id) DO UPDATE SET tsv = EXCLUDED.tsv`,
		memoryID, userID, content)
	if err != nil {
		return fmt.Errorf("upsert fts row: %w", err)
	}
	return nil
}

func (s *Store) DeleteFTSRow(ctx context.Context, memoryID string) error {
	_, err := s.Conn(ctx).Exec(ctx, `DELETE FROM memories_fts WHERE memory_id = $1`, memoryID)
	if err != nil {
		return fmt.Errorf("delete fts row: %w", err)
	}
	return nil
}

// MarkFTSSynced stamps the watermark with the updated_at observed at read
// time, so a write racing the sync is picked up again on the next pass.
func (s *Store) MarkFTSSynced(ctx context.Context, memoryID string, seenUpdatedAt time.Time) error {
	_, err := s.Conn(ctx).Exec(ctx, `
		UPDATE memories SET fts_synced_at = $2 WHERE id = $1`, memoryID, seenUpdatedAt)
	if err != nil {
		return fmt.Errorf("mark fts synced: %w", err)
	}
	return nil
}

func collectScored(rows pgx.Rows) ([]ScoredMemory, error) {
	defer rows.Close()
	var out []ScoredMemory
	for rows.Next() {
		var (
			m         domain.Memory
			redaction []byte
			score     float64
		)
		err := rows.Scan(&m.ID, &m.UserID, &m.ThreadID, &m.SourceThreadID, &m.Tier, &m.Content,
			&m.Keywords, &m.Entities, &redaction, &m.Priority, &m.Confidence, &m.Repeats, &m.ThreadSet,
			&m.LastSeenAt, &m.LastDecayAt, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt, &m.HasEmbedding,
			&score)
		if err != nil {
			return nil, fmt.Errorf("scan scored memory: %w", err)
		}
		out = append(out, ScoredMemory{Memory: &m, Score: score})
	}
	return out, rows.Err()
}
