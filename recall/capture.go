package recall

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Capture thresholds. A thread gets a label once it has a handful of
// messages, a summary once it has ten, and a summary refresh every twenty
// messages after that.
const (
	LabelMinMessages    = 5
	SummaryMinMessages  = 10
	SummaryRefreshEvery = 20
)

// Capture writes conversation turns into the archive and queues the
// background jobs the new counters make due.
type Capture struct {
	store *Store
	log   *slog.Logger
}

func NewCapture(store *Store, log *slog.Logger) *Capture {
	return &Capture{store: store, log: log}
}

// Turn records the messages of one exchange. Already-captured messages are
// skipped, so retries after a gateway crash never inflate the counters.
func (c *Capture) Turn(ctx context.Context, msgs ...*ConversationMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	var pkg *ConversationPackage
	err := c.store.WithTx(ctx, func(ctx context.Context) error {
		for _, msg := range msgs {
			inserted, err := c.store.InsertMessage(ctx, msg)
			if err != nil {
				return err
			}
			if !inserted {
				c.log.Debug("message already captured", "message_id", msg.MessageID)
				continue
			}
			pkg, err = c.store.TouchPackage(ctx, msg.ThreadID, msg.UserID, msg.TokenCount, msg.CreatedAt)
			if err != nil {
				return err
			}
		}
		if pkg == nil {
			return nil
		}
		return c.enqueueDue(ctx, pkg)
	})
	if err != nil {
		return fmt.Errorf("capture turn: %w", err)
	}
	return nil
}

func (c *Capture) enqueueDue(ctx context.Context, pkg *ConversationPackage) error {
	now := time.Now().UTC()

	if pkg.Label == "" && pkg.MessageCount >= LabelMinMessages {
		if _, err := c.store.EnqueueJob(ctx, pkg.ThreadID, pkg.UserID, JobTypeLabel, nil, now); err != nil {
			return err
		}
		c.log.Debug("label job queued", "thread_id", pkg.ThreadID, "message_count", pkg.MessageCount)
	}

	if summaryDue(pkg) {
		if _, err := c.store.EnqueueJob(ctx, pkg.ThreadID, pkg.UserID, JobTypeSummary, nil, now); err != nil {
			return err
		}
		c.log.Debug("summary job queued",
			"thread_id", pkg.ThreadID,
			"message_count", pkg.MessageCount)
	}

	return nil
}

func summaryDue(pkg *ConversationPackage) bool {
	if pkg.MessageCount < SummaryMinMessages {
		return false
	}
	if pkg.Summary == "" {
		return true
	}
	return pkg.MessageCount%SummaryRefreshEvery == 0
}
