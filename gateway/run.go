// Package gateway assembles the chat gateway process: configuration,
// telemetry, storage, upstream clients, the turn pipeline, and the HTTP
// server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nadia-ai/nadia/gateway/config"
	"github.com/nadia-ai/nadia/gateway/ingest"
	"github.com/nadia-ai/nadia/gateway/memoryclient"
	"github.com/nadia-ai/nadia/gateway/modelrouter"
	"github.com/nadia-ai/nadia/gateway/pipeline"
	"github.com/nadia-ai/nadia/gateway/research"
	"github.com/nadia-ai/nadia/gateway/server"
	"github.com/nadia-ai/nadia/gateway/store"
	"github.com/nadia-ai/nadia/pkg/otel"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/capsule"
	"github.com/nadia-ai/nadia/shared/db"
	"github.com/nadia-ai/nadia/shared/embedding"
	"github.com/nadia-ai/nadia/shared/llm"
)

const shutdownGrace = 15 * time.Second

// Run wires the gateway from the environment and serves until ctx ends.
func Run(ctx context.Context) error {
	cfg := config.Load()

	tel, err := otel.Init(otel.Config{
		ServiceName:  "nadia-gateway",
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

	pool, err := db.Connect(ctx, db.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return fmt.Errorf("connect gateway database: %w", err)
	}
	defer pool.Close()
	log.Info("database connected")

	primary := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey,
		llm.WithName(cfg.LLM.Name),
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.Router.MaxOutputTokens))

	var fallback *llm.Client
	if cfg.IsFallbackConfigured() {
		fallback = llm.NewClient(cfg.Fallback.URL, cfg.Fallback.APIKey,
			llm.WithName(cfg.Fallback.Name),
			llm.WithModel(cfg.Fallback.Model),
			llm.WithMaxTokens(cfg.Router.MaxOutputTokens))
		log.Info("fallback provider configured", "name", cfg.Fallback.Name)
	}

	// The embedder drives semantic trigger matching; without it the unlimited
	// layer still works on keywords.
	var embedder *embedding.Client
	if cfg.IsEmbeddingConfigured() {
		embLLM := llm.NewClient(cfg.Embedding.URL, cfg.Embedding.APIKey, llm.WithModel(cfg.Embedding.Model))
		embedder = embedding.NewClient(embLLM, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	}

	gwStore := store.New(pool)
	recallStore := recall.NewStore(pool)
	capture := recall.NewCapture(recallStore, log)
	detector := recall.NewDetector(recallStore, embedder, log)
	loader := recall.NewLoader(recallStore, log)
	memory := memoryclient.New(cfg.Memory.URL, cfg.Memory.Token)

	var ingestClient *ingest.Client
	if cfg.IsIngestConfigured() {
		ingestClient = ingest.New(cfg.Ingest.URL)
	}

	// A missing Redis degrades research injection, never the gateway.
	var injector *research.Injector
	cache, err := capsule.NewCache(cfg.Redis.URL)
	if err != nil {
		log.Warn("capsule cache unavailable, research injection disabled", "error", err)
		cache = nil
	} else {
		defer cache.Close()
		injector = research.New(cache, cfg.Timeouts.ResearchWindow, log)
	}

	router := modelrouter.New(cfg.Router, cfg.LLM.Name, cfg.LLM.Model)

	pipe := pipeline.New(cfg, pipeline.Deps{
		Store:    gwStore,
		Memory:   memory,
		Capture:  capture,
		Detector: detector,
		Loader:   loader,
		Ingest:   ingestClient,
		Injector: injector,
		Jobs:     recallStore,
		Router:   router,
		Primary:  primary,
		Fallback: fallback,
		Log:      log,
	})

	pings := map[string]func(context.Context) error{
		"database": pool.Ping,
	}
	if cache != nil {
		pings["redis"] = cache.Ping
	}

	srv := server.New(cfg, server.Deps{
		Pipeline: pipe,
		Store:    gwStore,
		Router:   router,
		Log:      log,
		Pings:    pings,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.Server.Addr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
	}

	log.Info("gateway shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Stop(sctx)
}
