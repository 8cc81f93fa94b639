// Package research drains research jobs: it asks the web-research upstream
// for claims about a query and publishes the result to the capsule cache,
// where the gateway's injector picks it up mid-stream.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/capsule"
	"github.com/nadia-ai/nadia/shared/id"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultJobBudget    = 30 * time.Second
	// MaxClaims caps how many claims one capsule carries.
	MaxClaims = 12
)

type Config struct {
	PollInterval time.Duration
	JobBudget    time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.JobBudget <= 0 {
		c.JobBudget = DefaultJobBudget
	}
	return c
}

type Runner struct {
	jobs     *recall.Store
	upstream *Upstream
	cache    *capsule.Cache
	cfg      Config
	log      *slog.Logger
}

func NewRunner(jobs *recall.Store, upstream *Upstream, cache *capsule.Cache, cfg Config, log *slog.Logger) *Runner {
	return &Runner{jobs: jobs, upstream: upstream, cache: cache, cfg: cfg.withDefaults(), log: log}
}

// Run polls for research jobs until the context ends. Research is latency
// sensitive: the injector only waits ~5s, so the poll interval stays short.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.log.Info("research runner started", "poll", r.cfg.PollInterval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *Runner) drain(ctx context.Context) {
	for {
		job, err := r.jobs.ClaimJob(ctx, []string{recall.JobTypeResearch})
		if errors.Is(err, recall.ErrNoJob) {
			return
		}
		if err != nil {
			r.log.Error("claim research job", "error", err)
			return
		}
		r.process(ctx, job)
	}
}

func (r *Runner) process(ctx context.Context, job *recall.RecallJob) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobBudget)
	defer cancel()

	err := r.research(jobCtx, job)
	metrics.JobDuration.WithLabelValues(recall.JobTypeResearch).Observe(time.Since(start).Seconds())

	if err != nil {
		r.fail(ctx, job, err)
		return
	}
	if err := r.jobs.CompleteJob(ctx, job.ID); err != nil {
		r.log.Error("complete research job", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobsTotal.WithLabelValues(recall.JobTypeResearch, "completed").Inc()
}

func (r *Runner) fail(ctx context.Context, job *recall.RecallJob, cause error) {
	r.log.Warn("research failed", "job_id", job.ID, "thread_id", job.ThreadID, "attempts", job.Attempts, "error", cause)

	if job.Attempts >= recall.MaxJobAttempts {
		if err := r.jobs.FailJob(ctx, job.ID, cause.Error()); err != nil {
			r.log.Error("park research job", "job_id", job.ID, "error", err)
		}
		metrics.JobsTotal.WithLabelValues(recall.JobTypeResearch, "failed").Inc()
		return
	}

	backoff := time.Duration(1<<uint(job.Attempts)) * time.Second
	if err := r.jobs.RetryJob(ctx, job.ID, cause.Error(), time.Now().UTC().Add(backoff)); err != nil {
		r.log.Error("requeue research job", "job_id", job.ID, "error", err)
	}
	metrics.JobsTotal.WithLabelValues(recall.JobTypeResearch, "retried").Inc()
}

func (r *Runner) research(ctx context.Context, job *recall.RecallJob) error {
	var payload recall.ResearchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode research payload: %w", err)
	}
	if payload.Query == "" {
		return fmt.Errorf("research payload has no query")
	}

	result, err := r.upstream.Search(ctx, payload.Query, MaxClaims)
	if err != nil {
		return err
	}

	fact := buildCapsule(job.ThreadID, payload.Query, result)
	if len(fact.Claims) == 0 {
		r.log.Info("research found nothing", "thread_id", job.ThreadID, "query", payload.Query)
		return nil
	}

	if err := r.cache.Publish(ctx, fact); err != nil {
		return err
	}

	metrics.CapsulesPublishedTotal.Inc()
	r.log.Info("published capsule",
		"thread_id", job.ThreadID, "batch_id", fact.BatchID,
		"claims", len(fact.Claims), "ttl_class", fact.TTLClass)
	return nil
}

// buildCapsule shapes the upstream synthesis into a cache-ready capsule:
// claims sorted by confidence, capped, TTL class defaulted to volatile.
func buildCapsule(threadID, query string, result *SearchResult) *capsule.Capsule {
	claims := append([]capsule.Claim(nil), result.Claims...)
	sort.SliceStable(claims, func(i, j int) bool { return claims[i].Confidence > claims[j].Confidence })
	if len(claims) > MaxClaims {
		claims = claims[:MaxClaims]
	}

	ttlClass := result.TTLClass
	switch ttlClass {
	case capsule.TTLBreaking, capsule.TTLVolatile, capsule.TTLStable:
	default:
		ttlClass = capsule.TTLVolatile
	}

	now := time.Now().UTC()
	fact := &capsule.Capsule{
		BatchID:   id.NewBatch(),
		ThreadID:  threadID,
		Query:     query,
		Claims:    claims,
		Sources:   result.Sources,
		Entities:  result.Entities,
		Summary:   result.Summary,
		TTLClass:  ttlClass,
		FetchedAt: now,
	}
	fact.ExpiresAt = now.Add(fact.TTL())
	return fact
}
