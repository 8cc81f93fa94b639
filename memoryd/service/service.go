// Package service implements the memory write path: validation, PII
// redaction, tier detection, and the deduplication/superseding policy, with
// writes serialized per user.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/redact"
	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/memoryd/textproc"
	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/recall"
)

const (
	// PriorityDelta is the bump applied when a memory is re-mentioned and
	// the nudge applied by feedback.
	PriorityDelta = 0.05

	DefaultPriority   = 0.5
	DefaultConfidence = 0.75

	// Similarity thresholds of the dedup policy.
	dedupJaccard    = 0.7
	dedupContentSim = 0.85

	dedupWindowT2 = 50
)

// Config carries the cadence and dedup knobs. Zero values select defaults.
type Config struct {
	CadenceMessages int
	CadenceTokens   int
	CadenceInterval time.Duration
	Debounce        time.Duration
}

func (c Config) withDefaults() Config {
	if c.CadenceMessages <= 0 {
		c.CadenceMessages = 6
	}
	if c.CadenceTokens <= 0 {
		c.CadenceTokens = 1500
	}
	if c.CadenceInterval <= 0 {
		c.CadenceInterval = 3 * time.Minute
	}
	if c.Debounce <= 0 {
		c.Debounce = 30 * time.Second
	}
	return c
}

// Service owns memory writes. jobs points at the shared job queue so message
// events can schedule audits; it may be nil in deployments without the audit
// pool.
type Service struct {
	store *store.Store
	jobs  *recall.Store
	cfg   Config
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(st *store.Store, jobs *recall.Store, cfg Config, log *slog.Logger) *Service {
	return &Service{
		store: st,
		jobs:  jobs,
		cfg:   cfg.withDefaults(),
		log:   log,
		locks: map[string]*sync.Mutex{},
	}
}

// userLock returns the mutex serializing writes for one user.
func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// WriteInput is one candidate memory entering the write path.
type WriteInput struct {
	UserID         string
	ThreadID       string
	SourceThreadID string
	Content        string
	Tier           string
	Priority       float64
	Confidence     float64
	Entities       []string

	// CrossThreadHit marks content already seen for this user in another
	// thread; the audit pipeline sets it from its cross-thread cache.
	CrossThreadHit bool
}

// Outcomes of a write.
const (
	OutcomeInserted = "inserted"
	OutcomeMerged   = "merged"
)

// Write runs the full dedup path and returns the resulting memory plus the
// outcome. Content is redacted before it is compared or stored.
func (s *Service) Write(ctx context.Context, in WriteInput) (*domain.Memory, string, error) {
	if err := validateWrite(in); err != nil {
		return nil, "", err
	}

	red := redact.Redact(in.Content)
	content := red.Text

	tier := in.Tier
	if tier == "" {
		tier = DetectTier(content, in.CrossThreadHit)
	} else if !domain.ValidTier(tier) {
		return nil, "", fmt.Errorf("unknown tier %q: %w", tier, domain.ErrInvalidInput)
	}

	fingerprint := textproc.Fingerprint(content)
	keywords := textproc.Keywords(content)

	lock := s.userLock(in.UserID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.findDuplicate(ctx, in.UserID, tier, content, keywords)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		m, err := s.merge(ctx, existing, in.ThreadID, content, fingerprint, keywords)
		if err != nil {
			return nil, "", err
		}
		metrics.MemorySavesTotal.WithLabelValues(m.Tier, OutcomeMerged).Inc()
		s.log.Info("merged memory", "memory_id", m.ID, "user_id", m.UserID, "tier", m.Tier, "repeats", m.Repeats)
		return m, OutcomeMerged, nil
	}

	m := &domain.Memory{
		UserID:         in.UserID,
		ThreadID:       in.ThreadID,
		SourceThreadID: in.SourceThreadID,
		Tier:           tier,
		Content:        content,
		Keywords:       keywords,
		Entities:       in.Entities,
		RedactionMap:   red.Map,
		Priority:       clamp01(orDefault(in.Priority, DefaultPriority)),
		Confidence:     clamp01(orDefault(in.Confidence, DefaultConfidence)),
	}
	err = s.store.CreateMemory(ctx, m, fingerprint)
	if errors.Is(err, domain.ErrDuplicate) {
		// Lost a race with another writer: fold into the row that won.
		winner, gerr := s.store.GetMemoryByFingerprint(ctx, in.UserID, fingerprint)
		if gerr != nil {
			return nil, "", fmt.Errorf("resolve fingerprint collision: %w", gerr)
		}
		merged, merr := s.merge(ctx, winner, in.ThreadID, "", "", nil)
		if merr != nil {
			return nil, "", merr
		}
		metrics.MemorySavesTotal.WithLabelValues(merged.Tier, OutcomeMerged).Inc()
		return merged, OutcomeMerged, nil
	}
	if err != nil {
		return nil, "", err
	}

	metrics.MemorySavesTotal.WithLabelValues(m.Tier, OutcomeInserted).Inc()
	s.log.Info("saved memory", "memory_id", m.ID, "user_id", m.UserID, "tier", m.Tier)
	return m, OutcomeInserted, nil
}

// findDuplicate scans the recent window for a memory that says the same
// thing. T2 widens the window: preferences are long-lived and repeat slowly.
func (s *Service) findDuplicate(ctx context.Context, userID, tier, content string, keywords []string) (*domain.Memory, error) {
	window := store.DedupScanWindow
	if tier == domain.TierPrefsGoals {
		window = dedupWindowT2
	}
	recent, err := s.store.RecentMemories(ctx, userID, "", window)
	if err != nil {
		return nil, err
	}
	for _, cand := range recent {
		if textproc.Jaccard(keywords, cand.Keywords) > dedupJaccard &&
			textproc.Similarity(content, cand.Content) > dedupContentSim {
			return cand, nil
		}
	}
	return nil, nil
}

// merge folds a re-mention into target. The newer content replaces the old
// only when it is clearer: longer and carrying every existing keyword plus
// at least one more.
func (s *Service) merge(ctx context.Context, target *domain.Memory, threadID, content, fingerprint string, keywords []string) (*domain.Memory, error) {
	newContent, newFingerprint := "", ""
	if content != "" && clearer(content, keywords, target) {
		newContent, newFingerprint = content, fingerprint
	}
	return s.store.MergeMemory(ctx, target.ID, threadID, PriorityDelta, newContent, newFingerprint)
}

func clearer(content string, keywords []string, existing *domain.Memory) bool {
	if len(content) <= len(existing.Content) || len(keywords) <= len(existing.Keywords) {
		return false
	}
	have := map[string]bool{}
	for _, k := range keywords {
		have[k] = true
	}
	for _, k := range existing.Keywords {
		if !have[k] {
			return false
		}
	}
	return true
}

func (s *Service) Get(ctx context.Context, memoryID, userID string) (*domain.Memory, error) {
	return s.store.GetMemory(ctx, memoryID, userID)
}

// List pages a user's memories and returns the total count for pagination.
func (s *Service) List(ctx context.Context, userID, threadID string, limit, offset int) ([]*domain.Memory, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.store.ListMemories(ctx, userID, threadID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountMemories(ctx, userID, threadID)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateInput is a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Content  *string
	Priority *float64
	Tier     *string
}

func (s *Service) Update(ctx context.Context, memoryID, userID string, in UpdateInput) (*domain.Memory, error) {
	patch := store.MemoryPatch{Priority: in.Priority}
	if in.Tier != nil {
		if !domain.ValidTier(*in.Tier) {
			return nil, fmt.Errorf("unknown tier %q: %w", *in.Tier, domain.ErrInvalidInput)
		}
		patch.Tier = in.Tier
	}
	if in.Content != nil {
		trimmed := strings.TrimSpace(*in.Content)
		if trimmed == "" {
			return nil, fmt.Errorf("content is empty: %w", domain.ErrInvalidInput)
		}
		if len(trimmed) > domain.MaxContentLength {
			return nil, fmt.Errorf("content exceeds %d chars: %w", domain.MaxContentLength, domain.ErrInvalidInput)
		}
		red := redact.Redact(trimmed)
		fp := textproc.Fingerprint(red.Text)
		patch.Content = &red.Text
		patch.Fingerprint = &fp
		patch.Keywords = textproc.Keywords(red.Text)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return s.store.UpdateMemory(ctx, memoryID, userID, patch)
}

func (s *Service) Delete(ctx context.Context, memoryID, userID string) error {
	return s.store.SoftDeleteMemory(ctx, memoryID, userID)
}

// Feedback nudges priority up or down depending on whether recall of this
// memory was helpful.
func (s *Service) Feedback(ctx context.Context, memoryID, userID string, helpful bool) (*domain.Memory, error) {
	delta := PriorityDelta
	if !helpful {
		delta = -PriorityDelta
	}
	return s.store.AdjustPriority(ctx, memoryID, userID, delta)
}

func (s *Service) Stats(ctx context.Context, userID string) ([]store.TierStats, error) {
	return s.store.MemoryStats(ctx, userID)
}

func validateWrite(in WriteInput) error {
	if in.UserID == "" {
		return fmt.Errorf("userId is required: %w", domain.ErrInvalidInput)
	}
	if in.ThreadID == "" {
		return fmt.Errorf("threadId is required: %w", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("content is empty: %w", domain.ErrInvalidInput)
	}
	if len(in.Content) > domain.MaxContentLength {
		return fmt.Errorf("content exceeds %d chars: %w", domain.MaxContentLength, domain.ErrInvalidInput)
	}
	return nil
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
