// Package handlers implements the gateway's HTTP surface: the chat stream,
// model listing, history reads, and health probes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nadia-ai/nadia/gateway/domain"
)

type contextKey string

const userIDKey contextKey = "userID"

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
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

// respondDomainError maps sentinel errors onto HTTP statuses and hides
// internals behind the fallback message.
func respondDomainError(w http.ResponseWriter, fallback string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrUnauthenticated):
		respondError(w, "unauthenticated", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrUpstream):
		respondError(w, "upstream error", http.StatusBadGateway)
	default:
		slog.Error(fallback, "error", err)
		respondError(w, fallback, http.StatusInternalServerError)
	}
}
