package handlers

import (
	"net/http"

	"github.com/nadia-ai/nadia/gateway/modelrouter"
)

// ModelsHandler publishes the resolved routing table so clients can pin a
// model the router actually serves.
type ModelsHandler struct {
	router    *modelrouter.Router
	providers []string
}

func NewModelsHandler(router *modelrouter.Router, providers []string) *ModelsHandler {
	return &ModelsHandler{router: router, providers: providers}
}

func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"profiles":  h.router.Profiles(),
		"providers": h.providers,
	}, http.StatusOK)
}
