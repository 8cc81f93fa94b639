package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/gateway/store"
	"github.com/nadia-ai/nadia/shared/pgstore"
)

// newThreadsServer mounts the handler behind a router that resolves the test
// user and routes store calls through the mock pool.
func newThreadsServer(t *testing.T) (*chi.Mux, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)

	h := NewThreadsHandler(store.New(nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := SetUserIDInContext(req.Context(), "user_1")
			ctx = pgstore.WithQuerier(ctx, mock)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/threads/{threadID}/messages", h.Messages)
	r.Delete("/messages/{messageID}", h.DeleteMessage)
	r.Get("/usage", h.Usage)
	return r, mock
}

func threadMessageRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "thread_id", "user_id", "role", "content",
		"provider", "model", "tokens_input", "tokens_output",
		"important", "meta", "created_at", "deleted_at",
	})
}

func TestThreadsHandler_Messages(t *testing.T) {
	r, mock := newThreadsServer(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("thr_1", "user_1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT .+ FROM \(`).
		WithArgs("thr_1", "user_1", 100).
		WillReturnRows(threadMessageRows().
			AddRow("msg_1", "thr_1", "user_1", domain.RoleUser, "hello", "", "", 3, 0, false, nil, now, nil).
			AddRow("msg_2", "thr_1", "user_1", domain.RoleAssistant, "hi there", "primary", "gpt-4o-mini", 3, 5, false, nil, now, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/threads/thr_1/messages", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	var out struct {
		ThreadID string           `json:"threadId"`
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.ThreadID != "thr_1" || len(out.Messages) != 2 {
		t.Fatalf("got thread %q with %d messages", out.ThreadID, len(out.Messages))
	}
	if out.Messages[1].Model != "gpt-4o-mini" {
		t.Errorf("assistant model = %q", out.Messages[1].Model)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestThreadsHandler_MessagesUnknownThread(t *testing.T) {
	r, mock := newThreadsServer(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("thr_ghost", "user_1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/threads/thr_ghost/messages", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestThreadsHandler_DeleteMessage(t *testing.T) {
	r, mock := newThreadsServer(t)

	mock.ExpectExec("UPDATE messages").
		WithArgs("msg_1", "user_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/messages/msg_1", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestThreadsHandler_DeleteMessageNotFound(t *testing.T) {
	r, mock := newThreadsServer(t)

	mock.ExpectExec("UPDATE messages").
		WithArgs("msg_ghost", "user_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/messages/msg_ghost", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not found") {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestThreadsHandler_Usage(t *testing.T) {
	r, mock := newThreadsServer(t)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("user_1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(1.25))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage?days=7", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out struct {
		UserID  string  `json:"userId"`
		CostUSD float64 `json:"costUsd"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.UserID != "user_1" || out.CostUSD != 1.25 {
		t.Errorf("got user %q spend %v", out.UserID, out.CostUSD)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
