package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nadia-ai/nadia/gateway/config"
	"github.com/nadia-ai/nadia/gateway/server/handlers"
)

// echoUser writes the user the auth middleware resolved, so tests can see
// what landed in the request context.
func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(handlers.UserIDFromContext(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.ServerConfig
		authz      string
		userHeader string
		wantStatus int
		wantUser   string
		wantBody   string
	}{
		{
			name:       "missing bearer token",
			cfg:        config.ServerConfig{RequireAuth: true},
			userHeader: "alice",
			wantStatus: http.StatusUnauthorized,
			wantBody:   "unauthenticated",
		},
		{
			name:       "empty bearer token",
			cfg:        config.ServerConfig{RequireAuth: true},
			authz:      "Bearer ",
			userHeader: "alice",
			wantStatus: http.StatusUnauthorized,
			wantBody:   "unauthenticated",
		},
		{
			name:       "bearer without user header",
			cfg:        config.ServerConfig{RequireAuth: true},
			authz:      "Bearer tok",
			wantStatus: http.StatusUnauthorized,
			wantBody:   "X-User-ID header is required",
		},
		{
			name:       "authenticated",
			cfg:        config.ServerConfig{RequireAuth: true},
			authz:      "Bearer tok",
			userHeader: "alice@example.com",
			wantStatus: http.StatusOK,
			wantUser:   "alice@example.com",
		},
		{
			name:       "development default user",
			cfg:        config.ServerConfig{RequireAuth: false, DefaultUser: "default_user"},
			wantStatus: http.StatusOK,
			wantUser:   "default_user",
		},
		{
			name:       "explicit user without auth",
			cfg:        config.ServerConfig{RequireAuth: false, DefaultUser: "default_user"},
			userHeader: "bob",
			wantStatus: http.StatusOK,
			wantUser:   "bob",
		},
		{
			name:       "malformed user id",
			cfg:        config.ServerConfig{RequireAuth: false, DefaultUser: "default_user"},
			userHeader: "bad user!!",
			wantStatus: http.StatusBadRequest,
			wantBody:   "invalid user id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Auth(tt.cfg)(echoUser())

			req := httptest.NewRequest(http.MethodGet, "/models", nil)
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			if tt.userHeader != "" {
				req.Header.Set("X-User-ID", tt.userHeader)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantUser != "" && rec.Body.String() != tt.wantUser {
				t.Errorf("resolved user = %q, want %q", rec.Body.String(), tt.wantUser)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to mention %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/chat/stream", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q, want reflected origin", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-User-ID") {
		t.Errorf("Allow-Headers = %q, want X-User-ID listed", got)
	}
}

func TestCORS_OriginAllowList(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin must not be stamped, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q, want the listed origin", got)
	}
}
