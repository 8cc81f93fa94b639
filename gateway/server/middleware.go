package server

import (
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nadia-ai/nadia/gateway/config"
	"github.com/nadia-ai/nadia/gateway/server/handlers"
	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/pkg/otel"
)

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.@]+$`)

// Auth resolves the acting user for the request. With RequireAuth a bearer
// token and a well-formed X-User-ID header are both mandatory; without it the
// configured default user serves development traffic.
func Auth(cfg config.ServerConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get("X-User-ID")

			if cfg.RequireAuth {
				authz := r.Header.Get("Authorization")
				if !strings.HasPrefix(authz, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")) == "" {
					http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
					return
				}
				if userID == "" {
					http.Error(w, `{"error":"X-User-ID header is required"}`, http.StatusUnauthorized)
					return
				}
			}
			if userID == "" {
				userID = cfg.DefaultUser
			}
			if !userIDPattern.MatchString(userID) {
				http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
				return
			}

			ctx := handlers.SetUserIDInContext(r.Context(), userID)
			ctx = otel.WithUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CORS answers preflights and stamps the allowed origin. An empty origin list
// reflects any origin, the development default.
func CORS(allowed []string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		allowedSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (len(allowedSet) == 0 || allowedSet[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID")
				h.Set("Access-Control-Max-Age", "300")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues("gateway", r.Method, pattern, strconv.Itoa(sw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues("gateway", r.Method, pattern).Observe(elapsed.Seconds())
		slog.Info("http request", "method", r.Method, "path", r.URL.Path, "status", sw.status, "duration", elapsed)
	})
}

// statusWriter records the status code and keeps http.Flusher reachable for
// the SSE handler underneath.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
