package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nadia-ai/nadia/memoryd/profile"
)

type ProfileHandler struct {
	profiles *profile.Builder
}

func NewProfileHandler(profiles *profile.Builder) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// Get serves GET /profile. Users without a stored profile get one built on
// the spot, so the gateway always has a context block to inject.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		respondError(w, "userId is required", http.StatusBadRequest)
		return
	}

	p, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		respondDomainError(w, "failed to load profile", err)
		return
	}

	respondJSON(w, map[string]any{
		"userId":      p.UserID,
		"profile":     json.RawMessage(p.Profile),
		"lastUpdated": p.LastUpdated,
	}, http.StatusOK)
}
