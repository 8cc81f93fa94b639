// Package server exposes the memory service's internal HTTP surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nadia-ai/nadia/memoryd/config"
	"github.com/nadia-ai/nadia/memoryd/profile"
	"github.com/nadia-ai/nadia/memoryd/recallengine"
	"github.com/nadia-ai/nadia/memoryd/server/handlers"
	"github.com/nadia-ai/nadia/memoryd/service"
	"github.com/nadia-ai/nadia/pkg/otel"
	"github.com/nadia-ai/nadia/recall"
)

const readTimeout = 30 * time.Second

// Deps carries the wired components the routes dispatch to.
type Deps struct {
	Service  *service.Service
	Engine   *recallengine.Engine
	Profiles *profile.Builder
	Jobs     *recall.Store
	// Pings are the readiness checks by component name.
	Pings map[string]func(context.Context) error
}

type Server struct {
	cfg    config.ServerConfig
	router *chi.Mux
	server *http.Server
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	router := chi.NewRouter()

	router.Use(otel.Middleware("nadia-memoryd"))
	router.Use(Recovery)
	router.Use(Logger)

	healthH := handlers.NewHealthHandler(deps.Pings)
	router.Get("/healthz", healthH.Liveness)
	router.Get("/readyz", healthH.Readiness)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(InternalAuth(cfg.InternalTokens))

		memH := handlers.NewMemoryHandler(deps.Service, deps.Profiles)
		r.Post("/memories", memH.Create)
		r.Get("/memories", memH.List)
		r.Get("/memories/stats", memH.Stats)
		r.Get("/memories/{id}", memH.Get)
		r.Patch("/memories/{id}", memH.Update)
		r.Delete("/memories/{id}", memH.Delete)
		r.Post("/memories/{id}/feedback", memH.Feedback)

		recallH := handlers.NewRecallHandler(deps.Engine)
		r.Get("/recall", recallH.Recall)

		eventsH := handlers.NewEventsHandler(deps.Service)
		r.Post("/events/message", eventsH.Ingest)

		convH := handlers.NewConversationsHandler(deps.Jobs)
		r.Get("/conversations", convH.List)

		profileH := handlers.NewProfileHandler(deps.Profiles)
		r.Get("/profile", profileH.Get)
	})

	return &Server{cfg: cfg, router: router}
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.router,
		ReadTimeout: readTimeout,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
