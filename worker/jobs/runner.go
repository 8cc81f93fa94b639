// Package jobs drains the unlimited-recall queue: thread labels, rolling
// summaries, and the embeddings generated from them. Audit and research jobs
// stay with the memory service's own pools.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/embedding"
	"github.com/nadia-ai/nadia/shared/llm"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultJobBudget    = 30 * time.Second
	DefaultConcurrency  = 4
)

// workerTypes are the job types this pool claims.
var workerTypes = []string{recall.JobTypeLabel, recall.JobTypeSummary, recall.JobTypeEmbedding}

type Config struct {
	PollInterval time.Duration
	JobBudget    time.Duration
	Concurrency  int
	MaxRetries   int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.JobBudget <= 0 {
		c.JobBudget = DefaultJobBudget
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = recall.MaxJobAttempts
	}
	return c
}

// Runner processes queued jobs with a small pool of claimers. The claim
// statement skips locked rows, so pools on different machines share one queue
// without coordination. A nil LLM degrades labels and summaries to their
// deterministic fallbacks; a nil embedder makes embedding jobs no-ops.
type Runner struct {
	jobs     *recall.Store
	llm      *llm.Client
	embedder *embedding.Client
	cfg      Config
	log      *slog.Logger
}

func NewRunner(jobs *recall.Store, llmClient *llm.Client, embedder *embedding.Client, cfg Config, log *slog.Logger) *Runner {
	return &Runner{jobs: jobs, llm: llmClient, embedder: embedder, cfg: cfg.withDefaults(), log: log}
}

// Run blocks until the context ends.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("recall worker started",
		"poll", r.cfg.PollInterval.String(),
		"concurrency", r.cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error { return r.loop(ctx) })
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain claims jobs until the queue is empty.
func (r *Runner) drain(ctx context.Context) {
	for {
		job, err := r.jobs.ClaimJob(ctx, workerTypes)
		if errors.Is(err, recall.ErrNoJob) {
			return
		}
		if err != nil {
			r.log.Error("claim recall job", "error", err)
			return
		}
		r.process(ctx, job)
	}
}

// process runs one job under its own budget so a slow upstream cannot wedge
// the claimer.
func (r *Runner) process(ctx context.Context, job *recall.RecallJob) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobBudget)
	defer cancel()

	var err error
	switch job.JobType {
	case recall.JobTypeLabel:
		err = r.label(jobCtx, job)
	case recall.JobTypeSummary:
		err = r.summarize(jobCtx, job)
	case recall.JobTypeEmbedding:
		err = r.embed(jobCtx, job)
	default:
		err = fmt.Errorf("unknown job type %q", job.JobType)
	}
	metrics.JobDuration.WithLabelValues(job.JobType).Observe(time.Since(start).Seconds())

	if err != nil {
		r.fail(ctx, job, err)
		return
	}
	if err := r.jobs.CompleteJob(ctx, job.ID); err != nil {
		r.log.Error("complete recall job", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobsTotal.WithLabelValues(job.JobType, "completed").Inc()
}

// fail re-queues the job with exponential backoff until its attempts are
// spent, then parks it as failed. ClaimJob already counted this attempt.
func (r *Runner) fail(ctx context.Context, job *recall.RecallJob, cause error) {
	r.log.Warn("recall job failed",
		"job_id", job.ID, "type", job.JobType, "thread_id", job.ThreadID,
		"attempts", job.Attempts, "error", cause)

	if job.Attempts >= r.cfg.MaxRetries {
		if err := r.jobs.FailJob(ctx, job.ID, cause.Error()); err != nil {
			r.log.Error("park recall job", "job_id", job.ID, "error", err)
		}
		metrics.JobsTotal.WithLabelValues(job.JobType, "failed").Inc()
		return
	}

	backoff := time.Duration(1<<uint(job.Attempts)) * time.Second
	if err := r.jobs.RetryJob(ctx, job.ID, cause.Error(), time.Now().UTC().Add(backoff)); err != nil {
		r.log.Error("requeue recall job", "job_id", job.ID, "error", err)
	}
	metrics.JobsTotal.WithLabelValues(job.JobType, "retried").Inc()
}

// llmRetry bounds the in-job generation attempts the same way the embedding
// client bounds its calls.
func llmRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}
