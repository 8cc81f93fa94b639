package recall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/nadia-ai/nadia/shared/id"
	"github.com/nadia-ai/nadia/shared/pgstore"
)

// Store persists captured conversations, per-thread rollups, embeddings, and
// the background job queue.
type Store struct {
	*pgstore.DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{DB: pgstore.NewDB(pool)}
}

// InsertMessage appends one captured turn. Returns false when the message was
// already captured.
func (s *Store) InsertMessage(ctx context.Context, msg *ConversationMessage) (bool, error) {
	if msg.ID == "" {
		msg.ID = id.New("cmsg")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tag, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO conversation_messages (id, message_id, thread_id, user_id, role, content, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) DO NOTHING`,
		msg.ID, msg.MessageID, msg.ThreadID, msg.UserID, msg.Role, msg.Content, msg.TokenCount, msg.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert conversation message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchPackage bumps the thread rollup counters for one captured turn,
// creating the rollup on first contact.
func (s *Store) TouchPackage(ctx context.Context, threadID, userID string, tokenCount int, at time.Time) (*ConversationPackage, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		INSERT INTO conversation_packages (thread_id, user_id, message_count, total_tokens, first_message_at, last_message_at, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $4, $4, $4)
		ON CONFLICT (thread_id) DO UPDATE SET
			message_count   = conversation_packages.message_count + 1,
			total_tokens    = conversation_packages.total_tokens + EXCLUDED.total_tokens,
			last_message_at = EXCLUDED.last_message_at,
			updated_at      = EXCLUDED.updated_at
		RETURNING `+packageColumns,
		threadID, userID, tokenCount, at)

	pkg, err := scanPackage(row)
	if err != nil {
		return nil, fmt.Errorf("touch conversation package: %w", err)
	}
	return pkg, nil
}

func (s *Store) GetPackage(ctx context.Context, threadID string) (*ConversationPackage, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		SELECT `+packageColumns+`
		FROM conversation_packages
		WHERE thread_id = $1`, threadID)

	pkg, err := scanPackage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation package: %w", err)
	}
	return pkg, nil
}

// GetPackages loads rollups for the given threads, most recently active
// first. Unknown thread ids are skipped.
func (s *Store) GetPackages(ctx context.Context, threadIDs []string) ([]*ConversationPackage, error) {
	if len(threadIDs) == 0 {
		return nil, nil
	}
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+packageColumns+`
		FROM conversation_packages
		WHERE thread_id = ANY($1)
		ORDER BY last_message_at DESC`, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("get conversation packages: %w", err)
	}
	return collectPackages(rows)
}

// RecentPackages returns the user's most recently active threads, excluding
// the one the user is currently in.
func (s *Store) RecentPackages(ctx context.Context, userID, excludeThreadID string, limit int) ([]*ConversationPackage, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT `+packageColumns+`
		FROM conversation_packages
		WHERE user_id = $1 AND thread_id <> $2
		ORDER BY last_message_at DESC
		LIMIT $3`, userID, excludeThreadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent packages: %w", err)
	}
	return collectPackages(rows)
}

func (s *Store) SetLabel(ctx context.Context, threadID, label, primaryTopic string) error {
	tag, err := s.Conn(ctx).Exec(ctx, `
		UPDATE conversation_packages
		SET label = $2, primary_topic = $3, label_generated_at = now(), updated_at = now()
		WHERE thread_id = $1`, threadID, label, primaryTopic)
	if err != nil {
		return fmt.Errorf("set package label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSummary installs a fresh summary and the importance score computed
// alongside it.
func (s *Store) SetSummary(ctx context.Context, threadID, summary string, summaryTokens int, importance float64) error {
	tag, err := s.Conn(ctx).Exec(ctx, `
		UPDATE conversation_packages
		SET summary = $2, summary_tokens = $3, importance_score = $4, updated_at = now()
		WHERE thread_id = $1`, threadID, summary, summaryTokens, importance)
	if err != nil {
		return fmt.Errorf("set package summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ThreadMessages returns the full captured transcript of a thread in
// chronological order.
func (s *Store) ThreadMessages(ctx context.Context, threadID string) ([]*ConversationMessage, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT id, message_id, thread_id, user_id, role, content, token_count, created_at
		FROM conversation_messages
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread messages: %w", err)
	}
	return collectMessages(rows)
}

// RecentMessages returns the newest messages of a thread in chronological
// order.
func (s *Store) RecentMessages(ctx context.Context, threadID string, limit int) ([]*ConversationMessage, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT id, message_id, thread_id, user_id, role, content, token_count, created_at
		FROM (
			SELECT id, message_id, thread_id, user_id, role, content, token_count, created_at
			FROM conversation_messages
			WHERE thread_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) newest
		ORDER BY created_at ASC, id ASC`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	return collectMessages(rows)
}

// SearchMessages finds a user's messages containing the term, newest first.
func (s *Store) SearchMessages(ctx context.Context, userID, term string, limit int) ([]*ConversationMessage, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT id, message_id, thread_id, user_id, role, content, token_count, created_at
		FROM conversation_messages
		WHERE user_id = $1 AND content ILIKE '%' || $2 || '%'
		ORDER BY created_at DESC
		LIMIT $3`, userID, term, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return collectMessages(rows)
}

// ThreadsActiveBetween returns thread ids with captured activity inside the
// window, busiest first.
func (s *Store) ThreadsActiveBetween(ctx context.Context, userID string, start, end time.Time, limit int) ([]string, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT thread_id
		FROM conversation_messages
		WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
		GROUP BY thread_id
		ORDER BY count(*) DESC, max(created_at) DESC
		LIMIT $4`, userID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("list active threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var threadID string
		if err := rows.Scan(&threadID); err != nil {
			return nil, fmt.Errorf("scan active thread: %w", err)
		}
		ids = append(ids, threadID)
	}
	return ids, rows.Err()
}

// UpsertEmbedding stores the thread's vectors, replacing any previous row.
func (s *Store) UpsertEmbedding(ctx context.Context, emb *ConversationEmbedding) error {
	_, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO conversation_embeddings (thread_id, label_embedding, summary_embedding, combined_embedding, embedding_model, embedding_dimensions, content_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (thread_id) DO UPDATE SET
			label_embedding      = EXCLUDED.label_embedding,
			summary_embedding    = EXCLUDED.summary_embedding,
			combined_embedding   = EXCLUDED.combined_embedding,
			embedding_model      = EXCLUDED.embedding_model,
			embedding_dimensions = EXCLUDED.embedding_dimensions,
			content_hash         = EXCLUDED.content_hash,
			updated_at           = now()`,
		emb.ThreadID, emb.LabelEmbedding, emb.SummaryEmbedding, emb.CombinedEmbedding,
		emb.EmbeddingModel, emb.Dimensions, emb.ContentHash)
	if err != nil {
		return fmt.Errorf("upsert conversation embedding: %w", err)
	}
	return nil
}

func (s *Store) GetEmbedding(ctx context.Context, threadID string) (*ConversationEmbedding, error) {
	var emb ConversationEmbedding
	err := s.Conn(ctx).QueryRow(ctx, `
		SELECT thread_id, label_embedding, summary_embedding, combined_embedding, embedding_model, embedding_dimensions, content_hash, updated_at
		FROM conversation_embeddings
		WHERE thread_id = $1`, threadID).
		Scan(&emb.ThreadID, &emb.LabelEmbedding, &emb.SummaryEmbedding, &emb.CombinedEmbedding,
			&emb.EmbeddingModel, &emb.Dimensions, &emb.ContentHash, &emb.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation embedding: %w", err)
	}
	return &emb, nil
}

// SemanticMatch is a thread ranked by summary-embedding similarity.
type SemanticMatch struct {
	ThreadID   string
	Similarity float64
}

// SemanticThreads ranks the user's other threads by cosine similarity of
// their combined embeddings against the query vector.
func (s *Store) SemanticThreads(ctx context.Context, userID string, query pgvector.Vector, excludeThreadID string, limit int) ([]SemanticMatch, error) {
	rows, err := s.Conn(ctx).Query(ctx, `
		SELECT e.thread_id, 1 - (e.combined_embedding <=> $1) AS similarity
		FROM conversation_embeddings e
		JOIN conversation_packages p ON p.thread_id = e.thread_id
		WHERE p.user_id = $2 AND e.thread_id <> $3
		ORDER BY e.combined_embedding <=> $1
		LIMIT $4`, query, userID, excludeThreadID, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic thread search: %w", err)
	}
	defer rows.Close()

	var matches []SemanticMatch
	for rows.Next() {
		var m SemanticMatch
		if err := rows.Scan(&m.ThreadID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan semantic match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// EnqueueJob queues a background job for a thread. A thread carries at most
// one pending or running job per type; a duplicate enqueue coalesces into the
// existing job and returns it.
func (s *Store) EnqueueJob(ctx context.Context, threadID, userID, jobType string, payload []byte, runAfter time.Time) (*RecallJob, error) {
	if runAfter.IsZero() {
		runAfter = time.Now().UTC()
	}
	jobID := id.NewJob()

	row := s.Conn(ctx).QueryRow(ctx, `
		INSERT INTO recall_jobs (id, thread_id, user_id, job_type, status, attempts, payload, run_after, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, now(), now())
		ON CONFLICT (thread_id, job_type) WHERE status IN ('pending', 'running') DO NOTHING
		RETURNING id, thread_id, user_id, job_type, status, attempts, payload, run_after,
			claimed_at, completed_at, COALESCE(last_error, ''), created_at, updated_at`,
		jobID, threadID, userID, jobType, payload, runAfter)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.activeJob(ctx, threadID, jobType)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func (s *Store) activeJob(ctx context.Context, threadID, jobType string) (*RecallJob, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		SELECT id, thread_id, user_id, job_type, status, attempts, payload, run_after,
			claimed_at, completed_at, COALESCE(last_error, ''), created_at, updated_at
		FROM recall_jobs
		WHERE thread_id = $1 AND job_type = $2 AND status IN ('pending', 'running')
		ORDER BY created_at DESC
		LIMIT 1`, threadID, jobType)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobConflict
	}
	if err != nil {
		return nil, fmt.Errorf("load active job: %w", err)
	}
	return job, nil
}

// ClaimJob atomically takes the oldest due pending job of one of the given
// types. Concurrent claimers skip each other's locks. Returns ErrNoJob when
// the queue is empty.
func (s *Store) ClaimJob(ctx context.Context, jobTypes []string) (*RecallJob, error) {
	row := s.Conn(ctx).QueryRow(ctx, `
		UPDATE recall_jobs
		SET status = 'running', attempts = attempts + 1, claimed_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM recall_jobs
			WHERE status = 'pending' AND job_type = ANY($1) AND run_after <= now()
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, thread_id, user_id, job_type, status, attempts, payload, run_after,
			claimed_at, completed_at, COALESCE(last_error, ''), created_at, updated_at`, jobTypes)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	tag, err := s.Conn(ctx).Exec(ctx, `
		UPDATE recall_jobs
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'`, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RetryJob returns a running job to the queue with a delay.
func (s *Store) RetryJob(ctx context.Context, jobID, lastError string, runAfter time.Time) error {
	tag, err := s.Conn(ctx).Exec(ctx, `
		UPDATE recall_jobs
		SET status = 'pending', last_error = $2, run_after = $3, claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'running'`, jobID, lastError, runAfter)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob parks a job as failed for good.
func (s *Store) FailJob(ctx context.Context, jobID, lastError string) error {
	tag, err := s.Conn(ctx).Exec(ctx, `
		UPDATE recall_jobs
		SET status = 'failed', last_error = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'`, jobID, lastError)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertEvent records one context injection attempt.
func (s *Store) InsertEvent(ctx context.Context, ev *RecallEvent) error {
	if ev.ID == "" {
		ev.ID = id.NewRecallEvent()
	}
	_, err := s.Conn(ctx).Exec(ctx, `
		INSERT INTO recall_events (id, thread_id, user_id, message_id, trigger_type, strategy_used, tokens_injected, relevance_score, latency_ms, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		ev.ID, ev.ThreadID, ev.UserID, ev.MessageID, ev.TriggerType, ev.StrategyUsed,
		ev.TokensInjected, ev.RelevanceScore, ev.LatencyMs, ev.Success)
	if err != nil {
		return fmt.Errorf("insert recall event: %w", err)
	}
	return nil
}

const packageColumns = `thread_id, user_id, COALESCE(label, ''), COALESCE(summary, ''), summary_tokens,
			message_count, total_tokens, importance_score, COALESCE(primary_topic, ''),
			first_message_at, last_message_at, label_generated_at, created_at, updated_at`

func scanPackage(row pgx.Row) (*ConversationPackage, error) {
	var pkg ConversationPackage
	err := row.Scan(&pkg.ThreadID, &pkg.UserID, &pkg.Label, &pkg.Summary, &pkg.SummaryTokens,
		&pkg.MessageCount, &pkg.TotalTokens, &pkg.ImportanceScore, &pkg.PrimaryTopic,
		&pkg.FirstMessageAt, &pkg.LastMessageAt, &pkg.LabelGeneratedAt, &pkg.CreatedAt, &pkg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func collectPackages(rows pgx.Rows) ([]*ConversationPackage, error) {
	defer rows.Close()
	var pkgs []*ConversationPackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation package: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

func collectMessages(rows pgx.Rows) ([]*ConversationMessage, error) {
	defer rows.Close()
	var msgs []*ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(&m.ID, &m.MessageID, &m.ThreadID, &m.UserID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func scanJob(row pgx.Row) (*RecallJob, error) {
	var job RecallJob
	err := row.Scan(&job.ID, &job.ThreadID, &job.UserID, &job.JobType, &job.Status, &job.Attempts,
		&job.Payload, &job.RunAfter, &job.ClaimedAt, &job.CompletedAt, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
