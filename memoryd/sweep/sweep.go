// Package sweep runs the memory store's background maintenance: TTL expiry
// and priority decay per tier, plus the catch-up loops that keep the
// full-text table and the embedding column in step with memory writes.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/shared/embedding"
)

const (
	DefaultMaintenanceInterval = time.Hour
	DefaultSyncInterval        = 15 * time.Second
	DefaultBatchSize           = 64
)

type Config struct {
	// MaintenanceInterval paces expiry and decay. Decay itself is weekly;
	// the statement carries a watermark so hourly runs are no-ops in between.
	MaintenanceInterval time.Duration
	// SyncInterval paces FTS sync and embedding backfill.
	SyncInterval time.Duration
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Sweeper owns the maintenance loops. A nil embedder disables backfill;
// recall then runs on its text channels alone.
type Sweeper struct {
	store    *store.Store
	embedder *embedding.Client
	cfg      Config
	log      *slog.Logger
}

func New(st *store.Store, embedder *embedding.Client, cfg Config, log *slog.Logger) *Sweeper {
	return &Sweeper{store: st, embedder: embedder, cfg: cfg.withDefaults(), log: log}
}

// Run blocks until the context ends.
func (s *Sweeper) Run(ctx context.Context) error {
	maintenance := time.NewTicker(s.cfg.MaintenanceInterval)
	defer maintenance.Stop()
	sync := time.NewTicker(s.cfg.SyncInterval)
	defer sync.Stop()

	s.log.Info("sweeper started",
		"maintenance", s.cfg.MaintenanceInterval.String(),
		"sync", s.cfg.SyncInterval.String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-maintenance.C:
			s.maintain(ctx)
		case <-sync.C:
			s.syncFTS(ctx)
			s.backfillEmbeddings(ctx)
		}
	}
}

func (s *Sweeper) maintain(ctx context.Context) {
	now := time.Now().UTC()
	for tier, policy := range domain.TierPolicies {
		expired, err := s.store.ExpireMemories(ctx, tier, now.Add(-policy.TTL))
		if err != nil {
			s.log.Error("expire memories", "tier", tier, "error", err)
		} else if expired > 0 {
			metrics.MemoriesExpiredTotal.WithLabelValues(tier).Add(float64(expired))
			s.log.Info("expired memories", "tier", tier, "count", expired)
		}

		decayed, err := s.store.DecayMemories(ctx, tier, policy.WeeklyDecay)
		if err != nil {
			s.log.Error("decay memories", "tier", tier, "error", err)
		} else if decayed > 0 {
			s.log.Info("decayed memories", "tier", tier, "count", decayed)
		}
	}
}

func (s *Sweeper) syncFTS(ctx context.Context) {
	cands, err := s.store.MemoriesNeedingFTSSync(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("list fts candidates", "error", err)
		return
	}

	for _, c := range cands {
		if c.Deleted {
			err = s.store.DeleteFTSRow(ctx, c.MemoryID)
		} else {
			err = s.store.UpsertFTSRow(ctx, c.MemoryID, c.UserID, c.Content)
		}
		if err != nil {
			s.log.Warn("sync fts row", "memory_id", c.MemoryID, "error", err)
			continue
		}
		if err := s.store.MarkFTSSynced(ctx, c.MemoryID, c.UpdatedAt); err != nil {
			s.log.Warn("mark fts synced", "memory_id", c.MemoryID, "error", err)
		}
	}
}

func (s *Sweeper) backfillEmbeddings(ctx context.Context) {
	if s.embedder == nil {
		return
	}

	mems, err := s.store.MemoriesNeedingEmbedding(ctx, s.embedder.Model(), s.cfg.BatchSize)
	if err != nil {
		s.log.Error("list embedding candidates", "error", err)
		return
	}
	if len(mems) == 0 {
		return
	}

	texts := make([]string, len(mems))
	for i, m := range mems {
		texts[i] = m.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if errors.Is(err, embedding.ErrBreakerOpen) {
			s.log.Debug("embedding backfill paused", "error", err)
		} else {
			s.log.Warn("embed backfill batch", "count", len(mems), "error", err)
		}
		return
	}

	var done int
	for i, m := range mems {
		err := s.store.SetMemoryEmbedding(ctx, m.ID, pgvector.NewVector(vecs[i]), s.embedder.Model(), len(vecs[i]))
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Deleted between listing and write. Nothing to store.
		case err != nil:
			s.log.Warn("store embedding", "memory_id", m.ID, "error", err)
		default:
			done++
		}
	}
	if done > 0 {
		metrics.EmbeddingsBackfilledTotal.Add(float64(done))
		s.log.Debug("backfilled embeddings", "count", done)
	}
}
