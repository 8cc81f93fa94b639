package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/nadia-ai/nadia/gateway/domain"
	"github.com/nadia-ai/nadia/shared/pgstore"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, context.Context) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)
	return New(nil), mock, pgstore.WithQuerier(context.Background(), mock)
}

func messageRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "thread_id", "user_id", "role", "content",
		"provider", "model", "tokens_input", "tokens_output",
		"important", "meta", "created_at", "deleted_at",
	})
}

func summaryRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"thread_id", "user_id", "summary", "last_msg_id", "token_count", "updated_at", "deleted_at",
	})
}

func TestStore_InsertMessage_FillsDefaults(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	msg := &domain.Message{
		ThreadID: "thr_1",
		UserID:   "user_1",
		Role:     domain.RoleUser,
		Content:  "hello",
		TokensIn: 3,
	}

	// Empty provider and model travel as NULL; id and created_at are filled.
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), "thr_1", "user_1", domain.RoleUser, "hello",
			(*string)(nil), (*string)(nil), 3, 0, false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("expected generated message id")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("expected created_at to be filled")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_GetMessage_NotFound(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM messages").
		WithArgs("msg_missing", "user_1").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetMessage(ctx, "msg_missing", "user_1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_ThreadMessages(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM \\(").
		WithArgs("thr_1", "user_1", 50).
		WillReturnRows(messageRows().
			AddRow("msg_1", "thr_1", "user_1", "user", "hello", "", "", 3, 0, false, nil, now, nil).
			AddRow("msg_2", "thr_1", "user_1", "assistant", "hi there", "openai", "gpt-4o-mini", 0, 4, false, nil, now, nil))

	msgs, err := store.ThreadMessages(ctx, "thr_1", "user_1", 50)
	if err != nil {
		t.Fatalf("ThreadMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Model != "gpt-4o-mini" {
		t.Errorf("expected model on assistant message, got %q", msgs[1].Model)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_SoftDeleteMessage_NotFound(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	mock.ExpectExec("UPDATE messages").
		WithArgs("msg_gone", "user_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SoftDeleteMessage(ctx, "msg_gone", "user_1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_ThreadExists(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("thr_1", "user_1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.ThreadExists(ctx, "thr_1", "user_1")
	if err != nil {
		t.Fatalf("ThreadExists failed: %v", err)
	}
	if !ok {
		t.Error("expected thread to exist")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_UpsertSummary(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	sum := &domain.ThreadSummary{
		ThreadID:   "thr_1",
		UserID:     "user_1",
		Summary:    "Planned a Lisbon trip.",
		LastMsgID:  "msg_9",
		TokenCount: 7,
	}

	lastMsg := "msg_9"
	mock.ExpectExec("INSERT INTO thread_summaries").
		WithArgs("thr_1", "user_1", "Planned a Lisbon trip.", &lastMsg, 7).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.UpsertSummary(ctx, sum); err != nil {
		t.Fatalf("UpsertSummary failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_GetSummary_NotFound(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM thread_summaries").
		WithArgs("thr_missing", "user_1").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSummary(ctx, "thr_missing", "user_1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_RecentSummaries(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM thread_summaries").
		WithArgs("user_1", "thr_current", 5).
		WillReturnRows(summaryRows().
			AddRow("thr_a", "user_1", "Postgres tuning notes.", "msg_3", 5, now, nil).
			AddRow("thr_b", "user_1", "Trip planning.", "", 4, now, nil))

	sums, err := store.RecentSummaries(ctx, "user_1", "thr_current", 5)
	if err != nil {
		t.Fatalf("RecentSummaries failed: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	if sums[0].ThreadID != "thr_a" {
		t.Errorf("expected thr_a first, got %s", sums[0].ThreadID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_GetSummaries_EmptyInput(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	// No thread ids means no query at all.
	out, err := store.GetSummaries(ctx, "user_1", nil)
	if err != nil {
		t.Fatalf("GetSummaries failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty map, got %d entries", len(out))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_GetSummaries(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM thread_summaries").
		WithArgs("user_1", []string{"thr_a", "thr_b"}).
		WillReturnRows(summaryRows().
			AddRow("thr_a", "user_1", "Postgres tuning notes.", "", 5, now, nil))

	out, err := store.GetSummaries(ctx, "user_1", []string{"thr_a", "thr_b"})
	if err != nil {
		t.Fatalf("GetSummaries failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(out))
	}
	if _, ok := out["thr_b"]; ok {
		t.Error("threads without summaries must be absent")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_InsertCost_FillsDefaults(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	rec := &domain.CostRecord{
		UserID:    "user_1",
		ThreadID:  "thr_1",
		RequestID: "req_1",
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		TokensIn:  120,
		TokensOut: 80,
		CostUSD:   0.0021,
	}

	mock.ExpectExec("INSERT INTO cost_tracking").
		WithArgs(pgxmock.AnyArg(), "user_1", "thr_1", "req_1", "openai", "gpt-4o-mini",
			120, 80, 0.0021, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.InsertCost(ctx, rec); err != nil {
		t.Fatalf("InsertCost failed: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected generated cost id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_UserSpend(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	since := time.Now().UTC().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("user_1", since).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(1.25))

	total, err := store.UserSpend(ctx, "user_1", since)
	if err != nil {
		t.Fatalf("UserSpend failed: %v", err)
	}
	if total != 1.25 {
		t.Errorf("expected 1.25, got %v", total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
