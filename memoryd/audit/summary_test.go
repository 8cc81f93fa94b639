package audit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/pgstore"
)

func newMockSummarizer(t *testing.T) (*Summarizer, pgxmock.PgxPoolIface, context.Context) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := NewSummarizer(store.New(nil), nil, slog.New(slog.DiscardHandler))
	ctx := pgstore.WithQuerier(context.Background(), mock)
	return s, mock, ctx
}

func summaryRow(threadID, userID, summary string, updatedAt time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"thread_id", "user_id", "summary", "last_msg_id", "token_count", "important", "updated_at", "deleted_at",
	}).AddRow(threadID, userID, summary, "msg_1", 12, false, updatedAt, nil)
}

func TestSummarizer_SkipsFreshSummary(t *testing.T) {
	s, mock, ctx := newMockSummarizer(t)

	mock.ExpectQuery("SELECT(.|\n)*FROM thread_summaries").
		WithArgs("thr_1").
		WillReturnRows(summaryRow("thr_1", "user_1", "already summarized", time.Now().UTC().Add(-10*time.Minute)))

	err := s.Refresh(ctx, "user_1", "thr_1", []recall.ConversationMessage{
		{MessageID: "msg_1", Role: "user", Content: "hello"},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummarizer_FallsBackToFirstUserMessage(t *testing.T) {
	s, mock, ctx := newMockSummarizer(t)

	mock.ExpectQuery("SELECT(.|\n)*FROM thread_summaries").
		WithArgs("thr_1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT count").
		WithArgs("user_1", "thr_1").
		WillReturnRows(pgxmock.NewRows([]string{"count", "durable"}).AddRow(0, false))
	mock.ExpectExec("INSERT INTO thread_summaries").
		WithArgs("thr_1", "user_1", "I started learning woodworking", "msg_2",
			pgxmock.AnyArg(), false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Refresh(ctx, "user_1", "thr_1", []recall.ConversationMessage{
		{MessageID: "msg_1", Role: "user", Content: "I started learning woodworking"},
		{MessageID: "msg_2", Role: "assistant", Content: "Great hobby."},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummarizer_ImportantThreadGetsLargerBudget(t *testing.T) {
	s, mock, ctx := newMockSummarizer(t)
	stale := time.Now().UTC().Add(-2 * time.Hour)

	mock.ExpectQuery("SELECT(.|\n)*FROM thread_summaries").
		WithArgs("thr_1").
		WillReturnRows(summaryRow("thr_1", "user_1", "old summary", stale))
	mock.ExpectQuery("SELECT count").
		WithArgs("user_1", "thr_1").
		WillReturnRows(pgxmock.NewRows([]string{"count", "durable"}).AddRow(5, true))
	mock.ExpectExec("INSERT INTO thread_summaries").
		WithArgs("thr_1", "user_1", pgxmock.AnyArg(), "msg_1", pgxmock.AnyArg(), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Refresh(ctx, "user_1", "thr_1", []recall.ConversationMessage{
		{MessageID: "msg_1", Role: "user", Content: "I keep planning the kitchen remodel"},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
