package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nadia-ai/nadia/gateway/pipeline"
	"github.com/nadia-ai/nadia/pkg/otel"
)

// ChatHandler runs one streamed turn end to end: prepare, relay, persist.
type ChatHandler struct {
	pipe *pipeline.Pipeline
	log  *slog.Logger
}

func NewChatHandler(pipe *pipeline.Pipeline, log *slog.Logger) *ChatHandler {
	return &ChatHandler{pipe: pipe, log: log}
}

// Stream handles POST /chat/stream. Failures before the SSE handshake are
// plain JSON errors; after it, everything rides the event stream. Persistence
// runs detached so a slow database never delays the stream close.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in pipeline.TurnInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	in.UserID = UserIDFromContext(ctx)

	turn, err := h.pipe.Prepare(ctx, in)
	if err != nil {
		respondDomainError(w, "failed to prepare turn", err)
		return
	}
	ctx = otel.WithRequestID(ctx, turn.RequestID)

	sse, err := NewSSEWriter(w)
	if err != nil {
		h.log.Error("sse handshake failed", "request_id", turn.RequestID, "error", err)
		respondError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sse.StartKeepalive(ctx)

	res, _ := h.pipe.Stream(ctx, turn, sse.Send)
	if res.ClientGone {
		h.log.Info("client disconnected mid-stream",
			"request_id", turn.RequestID,
			"streamed_tokens", res.OutputTokens)
	}

	go h.pipe.Persist(ctx, turn, res)
}
