package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/nadia-ai/nadia/gateway/analyzer"
	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/shared/capsule"
	"github.com/nadia-ai/nadia/shared/llm"
	"github.com/nadia-ai/nadia/shared/tokens"
)

// Emit delivers one SSE event to the client. A non-nil error means the client
// is gone; the relay stops and upstream is cancelled by the request context.
type Emit func(domain.Event) error

// StreamResult carries what persistence needs from a finished stream.
type StreamResult struct {
	Content      string
	FinishReason string
	Provider     string
	Model        string
	OutputTokens int
	FirstTokenAt time.Time
	FinishedAt   time.Time
	Retried      bool
	ClientGone   bool
	// StreamErr is the terminal upstream error, nil on a clean finish. It is
	// already surfaced to the client as an error event.
	StreamErr error
}

// Stream opens the routed completion and relays it as SSE events. A research
// capsule that lands inside the watch window is emitted at most once, before
// the next delta and never after done. Upstream failure before the first
// token retries once on the fallback provider; after the first token the
// stream ends with an error event.
func (p *Pipeline) Stream(ctx context.Context, turn *Turn, emit Emit) (*StreamResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.stream")
	defer span.End()

	res := &StreamResult{Provider: turn.Route.Provider, Model: turn.Route.Model}

	var watch <-chan *capsule.Capsule
	if turn.Plan.Web && p.injector != nil {
		watch = p.injector.Watch(ctx, turn.ThreadID, turn.StartedAt)
	}

	if turn.Analysis.Complexity == analyzer.ComplexityComplex {
		if err := emit(domain.Thinking("Working through the details")); err != nil {
			res.ClientGone = true
			return res, nil
		}
	}
	if turn.Plan.Web {
		if err := emit(domain.Thinking("Checking fresh sources")); err != nil {
			res.ClientGone = true
			return res, nil
		}
	}

	chunks, err := p.openUpstream(ctx, turn, res)
	if err != nil {
		res.StreamErr = err
		_ = emit(domain.StreamError("upstream_error", "The model is unavailable right now."))
		_ = emit(domain.Done())
		return res, nil
	}

	var sb strings.Builder
	start := time.Now()

relay:
	for {
		// A waiting capsule goes out ahead of the next delta.
		if watch != nil {
			select {
			case fact, ok := <-watch:
				watch = nil
				if ok && fact != nil {
					if err := p.emitCapsule(emit, fact); err != nil {
						res.ClientGone = true
						break relay
					}
				}
			default:
			}
		}

		var chunk llm.StreamChunk
		var open bool
		if watch != nil {
			select {
			case fact, ok := <-watch:
				watch = nil
				if ok && fact != nil {
					if err := p.emitCapsule(emit, fact); err != nil {
						res.ClientGone = true
						break relay
					}
				}
				continue
			case chunk, open = <-chunks:
			}
		} else {
			chunk, open = <-chunks
		}
		if !open {
			break relay
		}

		switch {
		case chunk.Err != nil:
			if ctx.Err() != nil {
				res.ClientGone = true
				break relay
			}
			metrics.LLMRequestsTotal.WithLabelValues(res.Provider, res.Model, "error").Inc()
			// Before the first token the turn can still move to the
			// fallback provider; afterwards the stream is already public.
			if sb.Len() == 0 && !res.Retried && p.fallback != nil {
				retried, rerr := p.reopenOnFallback(ctx, turn, res)
				if rerr == nil {
					chunks = retried
					continue
				}
				res.StreamErr = rerr
			} else {
				res.StreamErr = chunk.Err
			}
			p.log.Error("stream failed",
				"request_id", turn.RequestID,
				"provider", res.Provider,
				"model", res.Model,
				"streamed_chars", sb.Len(),
				"error", res.StreamErr)
			_ = emit(domain.StreamError("upstream_error", "The model connection was interrupted."))
			break relay

		case chunk.Content != "":
			if sb.Len() == 0 {
				res.FirstTokenAt = time.Now()
				metrics.LLMRequestDuration.WithLabelValues(res.Provider, res.Model).Observe(time.Since(start).Seconds())
			}
			sb.WriteString(chunk.Content)
			if err := emit(domain.Delta(chunk.Content)); err != nil {
				res.ClientGone = true
				break relay
			}

		case chunk.Done:
			if chunk.FinishReason != "" {
				res.FinishReason = chunk.FinishReason
			}
			break relay
		}
		if chunk.FinishReason != "" {
			res.FinishReason = chunk.FinishReason
		}
	}

	res.Content = sb.String()
	res.OutputTokens = tokens.Count(res.Content)
	res.FinishedAt = time.Now()

	if res.StreamErr == nil && !res.ClientGone {
		metrics.LLMRequestsTotal.WithLabelValues(res.Provider, res.Model, "ok").Inc()
		metrics.LLMTokensTotal.WithLabelValues(res.Provider, res.Model, "input").Add(float64(turn.InputTokens))
		metrics.LLMTokensTotal.WithLabelValues(res.Provider, res.Model, "output").Add(float64(res.OutputTokens))
	}

	if !res.ClientGone {
		if err := emit(domain.Done()); err != nil {
			res.ClientGone = true
		}
	}
	return res, nil
}

// openUpstream starts the primary stream, falling back once when the primary
// cannot even be opened.
func (p *Pipeline) openUpstream(ctx context.Context, turn *Turn, res *StreamResult) (<-chan llm.StreamChunk, error) {
	chunks, err := p.primary.ChatStream(ctx, turn.Request)
	if err == nil {
		return chunks, nil
	}
	metrics.LLMRequestsTotal.WithLabelValues(res.Provider, res.Model, "error").Inc()
	if p.fallback == nil {
		return nil, err
	}
	p.log.Warn("primary stream open failed, retrying on fallback",
		"request_id", turn.RequestID, "provider", res.Provider, "error", err)
	return p.reopenOnFallback(ctx, turn, res)
}

// reopenOnFallback switches the turn to the fallback provider's default
// model, keeping the already-built prompt.
func (p *Pipeline) reopenOnFallback(ctx context.Context, turn *Turn, res *StreamResult) (<-chan llm.StreamChunk, error) {
	req := turn.Request
	req.Model = p.fallback.Model
	res.Retried = true
	res.Provider = p.fallback.Name
	res.Model = req.Model

	chunks, err := p.fallback.ChatStream(ctx, req)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(res.Provider, res.Model, "error").Inc()
		return nil, err
	}
	return chunks, nil
}

// emitCapsule sends the capsule event plus the synthesis events derived from
// it.
func (p *Pipeline) emitCapsule(emit Emit, fact *capsule.Capsule) error {
	if err := emit(domain.Event{Type: domain.EventResearchCapsule, Capsule: fact}); err != nil {
		return err
	}

	srcs := make([]domain.Source, 0, len(fact.Sources))
	for _, s := range fact.Sources {
		srcs = append(srcs, domain.Source{Host: s.Host, URL: s.URL, Date: s.Date})
	}
	if fact.Summary != "" {
		ev := domain.Event{Type: domain.EventResearchSummary, Research: &domain.ResearchSummaryEvent{
			Summary: fact.Summary,
			Sources: srcs,
		}}
		if err := emit(ev); err != nil {
			return err
		}
	}
	if len(srcs) > 0 {
		ev := domain.Event{Type: domain.EventSources, Sources: &domain.SourcesEvent{Sources: srcs}}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}
