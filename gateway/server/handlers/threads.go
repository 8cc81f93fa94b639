package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nadia-ai/nadia/gateway/store"
)

// ThreadsHandler serves thread history reads, message deletion, and the
// per-user spend rollup.
type ThreadsHandler struct {
	store *store.Store
}

func NewThreadsHandler(s *store.Store) *ThreadsHandler {
	return &ThreadsHandler{store: s}
}

// Messages serves GET /threads/{threadID}/messages: the thread's surviving
// messages in thread order.
func (h *ThreadsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	threadID := chi.URLParam(r, "threadID")

	exists, err := h.store.ThreadExists(r.Context(), threadID, userID)
	if err != nil {
		respondDomainError(w, "failed to load thread", err)
		return
	}
	if !exists {
		respondError(w, "not found", http.StatusNotFound)
		return
	}

	limit := parseIntQuery(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	msgs, err := h.store.ThreadMessages(r.Context(), threadID, userID, limit)
	if err != nil {
		respondDomainError(w, "failed to load messages", err)
		return
	}
	respondJSON(w, map[string]any{"threadId": threadID, "messages": msgs}, http.StatusOK)
}

// DeleteMessage serves DELETE /messages/{messageID}. Deletion is soft; the
// row stays for cost accounting but leaves history reads.
func (h *ThreadsHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	messageID := chi.URLParam(r, "messageID")

	if err := h.store.SoftDeleteMessage(r.Context(), messageID, userID); err != nil {
		respondDomainError(w, "failed to delete message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Usage serves GET /usage: the user's model spend over the trailing window,
// 30 days by default.
func (h *ThreadsHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	days := parseIntQuery(r, "days", 30)
	if days <= 0 || days > 365 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	spend, err := h.store.UserSpend(r.Context(), userID, since)
	if err != nil {
		respondDomainError(w, "failed to load usage", err)
		return
	}
	respondJSON(w, map[string]any{
		"userId":  userID,
		"since":   since,
		"costUsd": spend,
	}, http.StatusOK)
}

func parseIntQuery(r *http.Request, name string, defaultValue int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
