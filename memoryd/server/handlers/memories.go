package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nadia-ai/nadia/memoryd/profile"
	"github.com/nadia-ai/nadia/memoryd/service"
)

type MemoryHandler struct {
	svc      *service.Service
	profiles *profile.Builder
}

func NewMemoryHandler(svc *service.Service, profiles *profile.Builder) *MemoryHandler {
	return &MemoryHandler{svc: svc, profiles: profiles}
}

func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string   `json:"userId"`
		ThreadID string   `json:"threadId"`
		Content  string   `json:"content"`
		Tier     string   `json:"tier"`
		Priority float64  `json:"priority"`
		Entities []string `json:"entities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = UserIDFromContext(r.Context())
	}

	m, outcome, err := h.svc.Write(r.Context(), service.WriteInput{
		UserID:   req.UserID,
		ThreadID: req.ThreadID,
		Content:  req.Content,
		Tier:     req.Tier,
		Priority: req.Priority,
		Entities: req.Entities,
	})
	if err != nil {
		respondDomainError(w, "failed to save memory", err)
		return
	}
	h.profiles.Invalidate(req.UserID)

	status := http.StatusCreated
	if outcome == service.OutcomeMerged {
		status = http.StatusOK
	}
	respondJSON(w, m, status)
}

func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, "userId is required", http.StatusBadRequest)
		return
	}
	limit := parseIntQuery(r, "limit", 20)
	offset := parseIntQuery(r, "offset", 0)
	threadID := r.URL.Query().Get("threadId")

	memories, total, err := h.svc.List(r.Context(), userID, threadID, limit, offset)
	if err != nil {
		respondDomainError(w, "failed to list memories", err)
		return
	}

	respondJSON(w, map[string]any{
		"memories": memories,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	}, http.StatusOK)
}

func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, "userId is required", http.StatusBadRequest)
		return
	}

	m, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		respondDomainError(w, "failed to load memory", err)
		return
	}
	respondJSON(w, m, http.StatusOK)
}

func (h *MemoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, "userId is required", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")

	var req struct {
		Content  *string  `json:"content"`
		Priority *float64 `json:"priority"`
		Tier     *string  `json:"tier"`
		Deleted  bool     `json:"deleted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Deleted {
		if err := h.svc.Delete(r.Context(), id, userID); err != nil {
			respondDomainError(w, "failed to delete memory", err)
			return
		}
		h.profiles.Invalidate(userID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	m, err := h.svc.Update(r.Context(), id, userID, service.UpdateInput{
		Content:  req.Content,
		Priority: req.Priority,
		Tier:     req.Tier,
	})
	if err != nil {
		respondDomainError(w, "failed to update memory", err)
		return
	}
	h.profiles.Invalidate(userID)
	respondJSON(w, m, http.StatusOK)
}

func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, "userId is required", http.StatusBadRequest)
		return
	}

	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		respondDomainError(w, "failed to delete memory", err)
		return
	}
	h.profiles.Invalidate(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *MemoryHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, "userId is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Helpful bool `json:"helpful"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := h.svc.Feedback(r.Context(), chi.URLParam(r, "id"), userID, req.Helpful)
	if err != nil {
		respondDomainError(w, "failed to record feedback", err)
		return
	}
	h.profiles.Invalidate(userID)
	respondJSON(w, m, http.StatusOK)
}

func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, "userId is required", http.StatusBadRequest)
		return
	}

	tiers, err := h.svc.Stats(r.Context(), userID)
	if err != nil {
		respondDomainError(w, "failed to load stats", err)
		return
	}

	total := 0
	for _, t := range tiers {
		total += t.Count
	}
	respondJSON(w, map[string]any{"tiers": tiers, "total": total}, http.StatusOK)
}
