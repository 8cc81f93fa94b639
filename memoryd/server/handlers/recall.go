package handlers

import (
	"net/http"
	"time"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/recallengine"
)

type RecallHandler struct {
	engine *recallengine.Engine
}

func NewRecallHandler(engine *recallengine.Engine) *RecallHandler {
	return &RecallHandler{engine: engine}
}

// Recall serves GET /recall. An explicit deadlineMs=0 is the caller saying
// it has no budget left and yields an empty result immediately; an absent
// param selects the default budget.
func (h *RecallHandler) Recall(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, "userId is required", http.StatusBadRequest)
		return
	}

	deadline := -1 * time.Millisecond
	if r.URL.Query().Has("deadlineMs") {
		ms := parseIntQuery(r, "deadlineMs", 0)
		if ms < 0 {
			ms = 0
		}
		deadline = time.Duration(ms) * time.Millisecond
	}

	results, err := h.engine.Recall(r.Context(), recallengine.Params{
		UserID:      userID,
		ThreadID:    r.URL.Query().Get("threadId"),
		Query:       r.URL.Query().Get("query"),
		MaxItems:    parseIntQuery(r, "maxItems", 0),
		KeywordOnly: r.URL.Query().Get("keywordOnly") == "true",
		Deadline:    deadline,
	})
	if err != nil {
		respondDomainError(w, "recall failed", err)
		return
	}
	if results == nil {
		results = []domain.RecallResult{}
	}

	respondJSON(w, map[string]any{"memories": results}, http.StatusOK)
}
