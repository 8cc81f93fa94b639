// Package worker assembles the unlimited-recall worker process: the job
// pool that turns captured conversations into labels, summaries, and
// embeddings, plus a small ops listener.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nadia-ai/nadia/pkg/otel"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/db"
	"github.com/nadia-ai/nadia/shared/embedding"
	"github.com/nadia-ai/nadia/shared/llm"
	"github.com/nadia-ai/nadia/worker/config"
	"github.com/nadia-ai/nadia/worker/jobs"
)

const shutdownGrace = 15 * time.Second

// Run wires the worker from the environment and drains the queue until ctx
// ends.
func Run(ctx context.Context) error {
	cfg := config.Load()

	tel, err := otel.Init(otel.Config{
		ServiceName:  "nadia-worker",
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

	var llmClient *llm.Client
	if cfg.IsLLMConfigured() {
		llmClient = llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, llm.WithModel(cfg.LLM.Model))
	} else {
		log.Warn("no LLM configured, labels and summaries fall back to extraction")
	}

	var embedder *embedding.Client
	if cfg.IsEmbeddingConfigured() {
		embLLM := llm.NewClient(cfg.Embedding.URL, cfg.Embedding.APIKey, llm.WithModel(cfg.Embedding.Model))
		embedder = embedding.NewClient(embLLM, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	} else {
		log.Warn("no embedder configured, embedding jobs will be skipped")
	}

	runner := jobs.NewRunner(recall.NewStore(pool), llmClient, embedder, jobs.Config{
		PollInterval: cfg.Worker.PollInterval,
		JobBudget:    cfg.Worker.JobBudget,
		Concurrency:  cfg.Worker.Concurrency,
		MaxRetries:   cfg.Worker.MaxRetries,
	}, log)

	srv := opsServer(cfg.Worker.Addr, pool.Ping)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("worker ops listening", "addr", cfg.Worker.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("worker ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("worker shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error { return ignoreCancel(runner.Run(gctx)) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// opsServer serves liveness, readiness, and metrics. The worker has no other
// HTTP surface.
func opsServer(addr string, ping func(context.Context) error) *http.Server {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	return &http.Server{Addr: addr, Handler: router, ReadTimeout: 30 * time.Second}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
