package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nadia-ai/nadia/memoryd/domain"
)

type contextKey string

const userIDKey contextKey = "user_id"

func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// requestUserID resolves the acting user: explicit userId query param first,
// then the propagated x-user-id header.
func requestUserID(r *http.Request) string {
	if v := r.URL.Query().Get("userId"); v != "" {
		return v
	}
	return UserIDFromContext(r.Context())
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// respondDomainError maps the domain sentinels onto HTTP statuses without
// leaking internals for unexpected failures.
func respondDomainError(w http.ResponseWriter, fallback string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicate):
		respondError(w, "duplicate memory", http.StatusConflict)
	default:
		slog.Error(fallback, "error", err)
		respondError(w, fallback, http.StatusInternalServerError)
	}
}

func parseIntQuery(r *http.Request, name string, defaultValue int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
