// Package research watches the capsule cache during the early window of a
// stream and hands the first fresh capsule to the stream writer.
package research

import (
	"context"
	"log/slog"
	"time"

	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/shared/capsule"
)

const pollInterval = 250 * time.Millisecond

// Injector polls for capsules published after a request started. It emits at
// most one capsule per turn and consumes the latest-pointer so a second turn
// does not replay it.
type Injector struct {
	cache  *capsule.Cache
	window time.Duration
	log    *slog.Logger
}

// New builds an injector. cache may be nil (Redis unconfigured), which makes
// Watch a no-op.
func New(cache *capsule.Cache, window time.Duration, log *slog.Logger) *Injector {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Injector{cache: cache, window: window, log: log}
}

// Pending returns a capsule left over from an earlier turn's research, if
// one is still unconsumed, and consumes it. Used at prepare time so late
// research still reaches the next prompt.
func (i *Injector) Pending(ctx context.Context, threadID string) (*capsule.Capsule, error) {
	if i.cache == nil {
		return nil, nil
	}
	fact, err := i.cache.Latest(ctx, threadID, time.Time{})
	if err != nil || fact == nil {
		return nil, err
	}
	if err := i.cache.Consume(ctx, threadID); err != nil {
		i.log.Warn("capsule consume failed", "thread_id", threadID, "error", err)
	}
	return fact, nil
}

// Watch polls until a capsule published at or after since appears, the window
// closes, or ctx ends. The capsule is delivered on the returned channel,
// which is closed when the watch stops. Callers select it against the
// upstream delta channel so a hit can be emitted before the first token.
func (i *Injector) Watch(ctx context.Context, threadID string, since time.Time) <-chan *capsule.Capsule {
	out := make(chan *capsule.Capsule, 1)
	if i.cache == nil {
		close(out)
		return out
	}

	go func() {
		defer close(out)

		deadline := time.NewTimer(i.window)
		defer deadline.Stop()
		tick := time.NewTicker(pollInterval)
		defer tick.Stop()

		for {
			fact, err := i.cache.Latest(ctx, threadID, since)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				i.log.Warn("capsule poll failed", "thread_id", threadID, "error", err)
			}
			if fact != nil {
				if err := i.cache.Consume(ctx, threadID); err != nil {
					i.log.Warn("capsule consume failed", "thread_id", threadID, "error", err)
				}
				metrics.CapsulesInjectedTotal.Inc()
				out <- fact
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-deadline.C:
				return
			case <-tick.C:
			}
		}
	}()
	return out
}
