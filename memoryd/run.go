// Package memoryd assembles the memory service process: the internal HTTP
// surface plus the audit, research, and sweep loops behind it.
package memoryd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nadia-ai/nadia/memoryd/audit"
	"github.com/nadia-ai/nadia/memoryd/config"
	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/profile"
	"github.com/nadia-ai/nadia/memoryd/recallengine"
	"github.com/nadia-ai/nadia/memoryd/research"
	"github.com/nadia-ai/nadia/memoryd/server"
	"github.com/nadia-ai/nadia/memoryd/service"
	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/memoryd/sweep"
	"github.com/nadia-ai/nadia/pkg/otel"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/capsule"
	"github.com/nadia-ai/nadia/shared/db"
	"github.com/nadia-ai/nadia/shared/embedding"
	"github.com/nadia-ai/nadia/shared/llm"
)

const shutdownGrace = 15 * time.Second

// Run wires the memory service from the environment and serves until ctx
// ends.
func Run(ctx context.Context) error {
	cfg := config.Load()
	applyTierPolicies(cfg.Tiers)

	tel, err := otel.Init(otel.Config{
		ServiceName:  "nadia-memoryd",
		Environment:  cfg.Otel.Environment,
		OTLPEndpoint: cfg.Otel.Endpoint,
		StdoutTraces: cfg.Otel.TraceStdout,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	log := tel.Logger
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()

	memPool, err := db.Connect(ctx, db.Config{URL: cfg.Database.MemoryURL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return fmt.Errorf("connect memory database: %w", err)
	}
	defer memPool.Close()

	// The job queue and conversation capture live beside the gateway's
	// message rows.
	gwPool, err := db.Connect(ctx, db.Config{URL: cfg.Database.GatewayURL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return fmt.Errorf("connect gateway database: %w", err)
	}
	defer gwPool.Close()
	log.Info("databases connected")

	memStore := store.New(memPool)
	jobs := recall.NewStore(gwPool)

	var embedder *embedding.Client
	if cfg.IsEmbeddingConfigured() {
		embLLM := llm.NewClient(cfg.Embedding.URL, cfg.Embedding.APIKey, llm.WithModel(cfg.Embedding.Model))
		embedder = embedding.NewClient(embLLM, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	}

	var llmClient *llm.Client
	if cfg.IsLLMConfigured() {
		llmClient = llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, llm.WithModel(cfg.LLM.Model))
	}

	svc := service.New(memStore, jobs, service.Config{
		CadenceMessages: cfg.Cadence.Messages,
		CadenceTokens:   cfg.Cadence.Tokens,
		CadenceInterval: cfg.Cadence.Interval,
		Debounce:        cfg.Cadence.Debounce,
	}, log)

	engine := recallengine.New(memStore, embedder, recallengine.FusionWeights{
		FTS:     cfg.Fusion.FTS,
		Vector:  cfg.Fusion.Vector,
		Keyword: cfg.Fusion.Keyword,
	}, 0, log)

	profiles := profile.NewBuilder(memStore, log)
	summarizer := audit.NewSummarizer(memStore, llmClient, log)

	auditRunner := audit.NewRunner(jobs, memStore, svc, summarizer, profiles, audit.Config{
		MaxPerAudit:   cfg.Audit.MaxPerAudit,
		HighThreshold: cfg.Audit.HighThreshold,
		Thresholds:    tierThresholds(cfg.Tiers),
	}, log)

	sweeper := sweep.New(memStore, embedder, sweep.Config{}, log)

	// The research pool only spins up with both a search upstream and a
	// capsule cache to publish into.
	var researchRunner *research.Runner
	var cache *capsule.Cache
	if cfg.IsSearchConfigured() {
		cache, err = capsule.NewCache(cfg.Redis.URL)
		if err != nil {
			log.Warn("capsule cache unavailable, research pool disabled", "error", err)
			cache = nil
		} else {
			defer cache.Close()
			upstream := research.NewUpstream(cfg.Search.URL, otel.NewPropagatingTransport(nil))
			researchRunner = research.NewRunner(jobs, upstream, cache, research.Config{}, log)
		}
	}

	pings := map[string]func(context.Context) error{
		"memory_db":  memPool.Ping,
		"gateway_db": gwPool.Ping,
	}
	if cache != nil {
		pings["redis"] = cache.Ping
	}

	srv := server.New(cfg.Server, server.Deps{
		Service:  svc,
		Engine:   engine,
		Profiles: profiles,
		Jobs:     jobs,
		Pings:    pings,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("memoryd listening", "addr", cfg.Server.Addr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("memoryd server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("memoryd shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Stop(sctx)
	})

	for i := 0; i < max(cfg.Audit.Workers, 1); i++ {
		g.Go(func() error { return ignoreCancel(auditRunner.Run(gctx)) })
	}
	if researchRunner != nil {
		for i := 0; i < max(cfg.Research.Workers, 1); i++ {
			g.Go(func() error { return ignoreCancel(researchRunner.Run(gctx)) })
		}
	}
	g.Go(func() error { return ignoreCancel(sweeper.Run(gctx)) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyTierPolicies folds environment overrides into the built-in retention
// policies before any loop reads them.
func applyTierPolicies(tiers map[string]config.TierConfig) {
	for tier, tc := range tiers {
		if !domain.ValidTier(tier) {
			continue
		}
		p := domain.TierPolicies[tier]
		if tc.TTLDays > 0 {
			p.TTL = time.Duration(tc.TTLDays) * 24 * time.Hour
		}
		if tc.DecayPerWeek > 0 {
			p.WeeklyDecay = tc.DecayPerWeek
		}
		domain.TierPolicies[tier] = p
	}
}

func tierThresholds(tiers map[string]config.TierConfig) map[string]float64 {
	out := make(map[string]float64, len(tiers))
	for tier, tc := range tiers {
		if tc.SaveThreshold > 0 {
			out[tier] = tc.SaveThreshold
		}
	}
	return out
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
