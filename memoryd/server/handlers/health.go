package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler answers liveness and readiness probes. Readiness pings every
// registered dependency under a short timeout.
type HealthHandler struct {
	pings map[string]func(context.Context) error
}

func NewHealthHandler(pings map[string]func(context.Context) error) *HealthHandler {
	return &HealthHandler{pings: pings}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, ping := range h.pings {
		if ping == nil {
			continue
		}
		if err := ping(ctx); err != nil {
			respondJSON(w, map[string]string{"status": "unavailable", "component": name}, http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
