package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nadia-ai/nadia/memoryd/service"
)

type EventsHandler struct {
	svc *service.Service
}

func NewEventsHandler(svc *service.Service) *EventsHandler {
	return &EventsHandler{svc: svc}
}

// Ingest serves POST /events/message. The gateway fires these without
// waiting; the cadence bump is cheap enough to run inline.
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var ev service.MessageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if ev.UserID == "" {
		ev.UserID = UserIDFromContext(r.Context())
	}

	queued, err := h.svc.IngestMessage(r.Context(), ev)
	if err != nil {
		respondDomainError(w, "failed to ingest message event", err)
		return
	}

	respondJSON(w, map[string]any{"auditQueued": queued}, http.StatusAccepted)
}
