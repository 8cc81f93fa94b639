package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/pkg/metrics"
)

const keepaliveInterval = 15 * time.Second

// SSEWriter frames domain events onto one event-stream response. Sends are
// serialized internally so the keepalive ticker can share the connection with
// the relay.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

// NewSSEWriter takes over the response: headers, status, and the first flush
// happen here. Responses that cannot flush are refused before any byte is
// written.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send frames one event. The write error doubles as the client-gone signal.
func (s *SSEWriter) Send(ev domain.Event) error {
	payload, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if _, err := fmt.Fprintf(s.w, "event: %s\nid: %d\ndata: %s\n\n", ev.Type, s.seq, payload); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	s.flusher.Flush()
	metrics.SSEEventsTotal.WithLabelValues(ev.Type).Inc()
	return nil
}

// StartKeepalive emits comment frames until ctx ends so proxies keep the
// connection open through quiet stretches.
func (s *SSEWriter) StartKeepalive(ctx context.Context) {
	go func() {
		tick := time.NewTicker(keepaliveInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				s.mu.Lock()
				_, err := fmt.Fprint(s.w, ": keepalive\n\n")
				if err == nil {
					s.flusher.Flush()
				}
				s.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
}
