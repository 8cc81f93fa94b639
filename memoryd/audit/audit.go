// Package audit mines recent conversation for memories worth keeping: it
// claims audit jobs off the shared queue, scores candidate windows, writes
// the survivors through the dedup path, and keeps thread summaries fresh.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/profile"
	"github.com/nadia-ai/nadia/memoryd/service"
	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/memoryd/textproc"
	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/recall"
)

const (
	// MaxAuditMessages bounds how much transcript one audit reads.
	MaxAuditMessages = 50
	// MaxSavesPerAudit caps memory writes per audit run.
	MaxSavesPerAudit = 3

	// DefaultHighThreshold marks saves good enough to start at elevated
	// priority instead of the service default.
	DefaultHighThreshold = 0.80
	highSavePriority     = 0.7

	DefaultPollInterval = 5 * time.Second
	DefaultJobBudget    = 30 * time.Second
)

// Config tunes the audit pool. Zero values select defaults.
type Config struct {
	PollInterval  time.Duration
	JobBudget     time.Duration
	MaxPerAudit   int
	HighThreshold float64
	// Thresholds overrides the per-tier save threshold. Missing tiers use
	// the built-in defaults.
	Thresholds map[string]float64
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.JobBudget <= 0 {
		c.JobBudget = DefaultJobBudget
	}
	if c.MaxPerAudit <= 0 {
		c.MaxPerAudit = MaxSavesPerAudit
	}
	if c.HighThreshold <= 0 {
		c.HighThreshold = DefaultHighThreshold
	}
	return c
}

// Runner drains audit jobs. jobs is the shared queue and transcript source
// on the gateway database; writes land in the memory database.
type Runner struct {
	jobs       *recall.Store
	store      *store.Store
	svc        *service.Service
	summarizer *Summarizer
	profiles   *profile.Builder
	cross      *crossThreadCache
	cfg        Config
	log        *slog.Logger
}

func NewRunner(jobs *recall.Store, st *store.Store, svc *service.Service, summarizer *Summarizer, profiles *profile.Builder, cfg Config, log *slog.Logger) *Runner {
	return &Runner{
		jobs:       jobs,
		store:      st,
		svc:        svc,
		summarizer: summarizer,
		profiles:   profiles,
		cross:      newCrossThreadCache(),
		cfg:        cfg.withDefaults(),
		log:        log,
	}
}

// Run polls the queue until the context ends. Each claimed job runs under
// its own budget; a slow LLM cannot wedge the pool.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.log.Info("audit runner started", "poll", r.cfg.PollInterval.String())
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
		job, err := r.jobs.ClaimJob(ctx, []string{recall.JobTypeAudit})
		if errors.Is(err, recall.ErrNoJob) {
			return
		}
		if err != nil {
			r.log.Error("claim audit job", "error", err)
			return
		}
		r.process(ctx, job)
	}
}

func (r *Runner) process(ctx context.Context, job *recall.RecallJob) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobBudget)
	defer cancel()

	err := r.runAudit(jobCtx, job.UserID, job.ThreadID)
	metrics.JobDuration.WithLabelValues(recall.JobTypeAudit).Observe(time.Since(start).Seconds())

	if err != nil {
		r.fail(ctx, job, err)
		return
	}
	if err := r.jobs.CompleteJob(ctx, job.ID); err != nil {
		r.log.Error("complete audit job", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobsTotal.WithLabelValues(recall.JobTypeAudit, "completed").Inc()
}

func (r *Runner) fail(ctx context.Context, job *recall.RecallJob, cause error) {
	r.log.Warn("audit failed", "job_id", job.ID, "thread_id", job.ThreadID, "attempts", job.Attempts, "error", cause)

	if job.Attempts >= recall.MaxJobAttempts {
		if err := r.jobs.FailJob(ctx, job.ID, cause.Error()); err != nil {
			r.log.Error("park audit job", "job_id", job.ID, "error", err)
		}
		metrics.JobsTotal.WithLabelValues(recall.JobTypeAudit, "failed").Inc()
		return
	}

	backoff := time.Duration(1<<uint(job.Attempts)) * time.Second
	if err := r.jobs.RetryJob(ctx, job.ID, cause.Error(), time.Now().UTC().Add(backoff)); err != nil {
		r.log.Error("requeue audit job", "job_id", job.ID, "error", err)
	}
	metrics.JobsTotal.WithLabelValues(recall.JobTypeAudit, "retried").Inc()
}

// candidate is one extracted memory with its quality breakdown.
type candidate struct {
	content  string
	tier     string
	crossHit bool
	score    WindowScore
}

// runAudit executes the pipeline for one thread.
func (r *Runner) runAudit(ctx context.Context, userID, threadID string) error {
	rows, err := r.jobs.RecentMessages(ctx, threadID, MaxAuditMessages)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	msgs := make([]recall.ConversationMessage, len(rows))
	for i, m := range rows {
		msgs[i] = *m
	}

	now := time.Now().UTC()
	if len(msgs) == 0 {
		if err := r.recordAudit(ctx, userID, threadID, msgs, nil, 0, now); err != nil {
			return err
		}
		metrics.AuditsTotal.WithLabelValues("empty").Inc()
		return nil
	}

	cands := r.extract(userID, threadID, msgs)

	saved := 0
	for _, c := range cands {
		if saved >= r.cfg.MaxPerAudit {
			break
		}
		in := service.WriteInput{
			UserID:         userID,
			ThreadID:       threadID,
			SourceThreadID: threadID,
			Content:        c.content,
			Tier:           c.tier,
			Confidence:     c.score.Q,
			CrossThreadHit: c.crossHit,
		}
		if c.score.Q >= r.cfg.HighThreshold {
			in.Priority = highSavePriority
		}
		_, outcome, err := r.svc.Write(ctx, in)
		if err != nil {
			r.log.Warn("audit write skipped", "thread_id", threadID, "error", err)
			continue
		}
		r.log.Debug("audit saved memory", "thread_id", threadID, "tier", c.tier, "outcome", outcome, "q", c.score.Q)
		saved++
	}

	if err := r.summarizer.Refresh(ctx, userID, threadID, msgs); err != nil {
		r.log.Warn("summary refresh failed", "thread_id", threadID, "error", err)
	}
	if saved > 0 && r.profiles != nil {
		if _, err := r.profiles.Rebuild(ctx, userID); err != nil {
			r.log.Warn("profile rebuild failed", "user_id", userID, "error", err)
		}
	}

	if err := r.recordAudit(ctx, userID, threadID, msgs, cands, saved, now); err != nil {
		return err
	}

	outcome := "saved"
	if saved == 0 {
		outcome = "no_saves"
	}
	metrics.AuditsTotal.WithLabelValues(outcome).Inc()
	r.log.Info("audit completed", "thread_id", threadID, "candidates", len(cands), "saved", saved)
	return nil
}

// extract scores every window and returns the qualifying candidates, best
// first. Every candidate is recorded in the cross-thread cache so a repeat
// in another thread later promotes to T1.
func (r *Runner) extract(userID, threadID string, msgs []recall.ConversationMessage) []candidate {
	windows := pairWindows(msgs)

	var cands []candidate
	for i, w := range windows {
		content := candidateContent(w)
		if content == "" {
			continue
		}

		fingerprint := textproc.Fingerprint(content)
		crossHit := r.cross.hit(userID, fingerprint, threadID)
		tier := service.DetectTier(content, crossHit)
		score := scoreWindow(w, i, len(windows), weightsFor(tier))

		r.cross.record(userID, fingerprint, threadID)

		if score.Q < r.threshold(tier) {
			continue
		}
		cands = append(cands, candidate{content: content, tier: tier, crossHit: crossHit, score: score})
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score.Q > cands[j].score.Q })
	return cands
}

func (r *Runner) threshold(tier string) float64 {
	if t, ok := r.cfg.Thresholds[tier]; ok && t > 0 {
		return t
	}
	return saveThreshold(tier)
}

// recordAudit appends the audits row and resets the cadence counters. The
// score is the mean Q of the qualifying candidates, zero when there were
// none.
func (r *Runner) recordAudit(ctx context.Context, userID, threadID string, msgs []recall.ConversationMessage, cands []candidate, saved int, at time.Time) error {
	audit := &domain.MemoryAudit{
		UserID:   userID,
		ThreadID: threadID,
		Saved:    saved,
	}
	if len(msgs) > 0 {
		audit.StartMsgID = msgs[0].MessageID
		audit.EndMsgID = msgs[len(msgs)-1].MessageID
		for _, m := range msgs {
			audit.TokenCount += m.TokenCount
		}
	}
	if len(cands) > 0 {
		sum := 0.0
		for _, c := range cands {
			sum += c.score.Q
		}
		audit.Score = sum / float64(len(cands))
	}

	if err := r.store.InsertAudit(ctx, audit); err != nil {
		return err
	}
	if err := r.store.ResetCadence(ctx, threadID, at); err != nil {
		return err
	}
	return nil
}
