package handlers

import (
	"net/http"
	"time"

	"github.com/nadia-ai/nadia/recall"
)

type ConversationsHandler struct {
	jobs *recall.Store
}

func NewConversationsHandler(jobs *recall.Store) *ConversationsHandler {
	return &ConversationsHandler{jobs: jobs}
}

type conversationHeader struct {
	ThreadID      string    `json:"threadId"`
	Label         string    `json:"label,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	MessageCount  int       `json:"messageCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// List serves GET /conversations: the user's most recently active threads,
// newest first, read from the conversation rollups.
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, "userId is required", http.StatusBadRequest)
		return
	}
	limit := parseIntQuery(r, "limit", 5)
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	pkgs, err := h.jobs.RecentPackages(r.Context(), userID, r.URL.Query().Get("exclude"), limit)
	if err != nil {
		respondDomainError(w, "failed to list conversations", err)
		return
	}

	headers := make([]conversationHeader, 0, len(pkgs))
	for _, p := range pkgs {
		headers = append(headers, conversationHeader{
			ThreadID:      p.ThreadID,
			Label:         p.Label,
			Summary:       p.Summary,
			MessageCount:  p.MessageCount,
			LastMessageAt: p.LastMessageAt,
		})
	}
	respondJSON(w, headers, http.StatusOK)
}
