// Package server exposes the gateway's public HTTP surface: the chat stream
// plus the read-side endpoints around it.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nadia-ai/nadia/gateway/config"
	"github.com/nadia-ai/nadia/gateway/modelrouter"
	"github.com/nadia-ai/nadia/gateway/pipeline"
	"github.com/nadia-ai/nadia/gateway/server/handlers"
	"github.com/nadia-ai/nadia/gateway/store"
	"github.com/nadia-ai/nadia/pkg/otel"
)

// readTimeout bounds request reads only. Writes stay unbounded; streams hold
// the connection open for as long as the model talks.
const readTimeout = 30 * time.Second

// Deps carries the wired components the routes dispatch to.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Store    *store.Store
	Router   *modelrouter.Router
	Log      *slog.Logger
	// Pings are the readiness checks by component name.
	Pings map[string]func(context.Context) error
}

type Server struct {
	cfg    config.ServerConfig
	router *chi.Mux
	server *http.Server
}

func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	router.Use(otel.Middleware("nadia-gateway"))
	router.Use(Recovery)
	router.Use(Logger)
	router.Use(CORS(cfg.Server.AllowedOrigins))

	healthH := handlers.NewHealthHandler(deps.Pings)
	router.Get("/healthz", healthH.Liveness)
	router.Get("/readyz", healthH.Readiness)
	router.Handle("/metrics", promhttp.Handler())

	limiter := NewLimiter(cfg.Limits)

	router.Group(func(r chi.Router) {
		r.Use(Auth(cfg.Server))

		chatH := handlers.NewChatHandler(deps.Pipeline, deps.Log)
		r.With(limiter.Middleware).Post("/chat/stream", chatH.Stream)

		providers := []string{cfg.LLM.Name}
		if cfg.IsFallbackConfigured() {
			providers = append(providers, cfg.Fallback.Name)
		}
		modelsH := handlers.NewModelsHandler(deps.Router, providers)
		r.Get("/models", modelsH.List)

		threadsH := handlers.NewThreadsHandler(deps.Store)
		r.Get("/threads/{threadID}/messages", threadsH.Messages)
		r.Delete("/messages/{messageID}", threadsH.DeleteMessage)
		r.Get("/usage", threadsH.Usage)
	})

	return &Server{cfg: cfg.Server, router: router}
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
