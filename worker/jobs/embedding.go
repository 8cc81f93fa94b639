package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/pgvector/pgvector-go"

	"github.com/nadia-ai/nadia/recall"
)

// embed regenerates the thread's label, summary, and combined vectors. The
// content hash makes replays of an already-completed job a no-op, and an
// unchanged label+summary pair skips the upstream call entirely.
func (r *Runner) embed(ctx context.Context, job *recall.RecallJob) error {
	if r.embedder == nil {
		return nil
	}

	pkg, err := r.jobs.GetPackage(ctx, job.ThreadID)
	if errors.Is(err, recall.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if pkg.Summary == "" {
		// Embeddings chain off summaries; without one there is nothing
		// worth indexing yet.
		return nil
	}

	hash := contentHash(pkg.Label, pkg.Summary)
	existing, err := r.jobs.GetEmbedding(ctx, job.ThreadID)
	if err != nil && !errors.Is(err, recall.ErrNotFound) {
		return err
	}
	if existing != nil && existing.ContentHash == hash {
		return nil
	}

	labelText := pkg.Label
	if labelText == "" {
		labelText = pkg.Summary
	}
	vecs, err := r.embedder.EmbedBatch(ctx, []string{labelText, pkg.Summary, labelText + "\n" + pkg.Summary})
	if err != nil {
		return err
	}

	if err := r.jobs.UpsertEmbedding(ctx, &recall.ConversationEmbedding{
		ThreadID:          job.ThreadID,
		LabelEmbedding:    pgvector.NewVector(vecs[0]),
		SummaryEmbedding:  pgvector.NewVector(vecs[1]),
		CombinedEmbedding: pgvector.NewVector(vecs[2]),
		EmbeddingModel:    r.embedder.Model(),
		Dimensions:        r.embedder.Dimensions(),
		ContentHash:       hash,
	}); err != nil {
		return err
	}
	r.log.Info("thread embedded", "thread_id", job.ThreadID, "model", r.embedder.Model())
	return nil
}

// contentHash fingerprints the embedded texts. NUL separates the fields so
// ("ab","c") and ("a","bc") never collide.
func contentHash(label, summary string) string {
	h := sha256.Sum256([]byte(label + "\x00" + summary))
	return hex.EncodeToString(h[:])
}
