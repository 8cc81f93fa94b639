package recall

import (
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
)

func TestCapture_Turn_QueuesLabelJob(t *testing.T) {
	store, mock, ctx := newMockStore(t)
	capture := NewCapture(store, slog.New(slog.DiscardHandler))

	at := time.Now().UTC()
	user := &ConversationMessage{
		MessageID: "msg_u1", ThreadID: "thr_1", UserID: "user_1",
		Role: "user", Content: "how do I tune postgres?", TokenCount: 7, CreatedAt: at,
	}
	assistant := &ConversationMessage{
		MessageID: "msg_a1", ThreadID: "thr_1", UserID: "user_1",
		Role: "assistant", Content: "Start with shared_buffers.", TokenCount: 6, CreatedAt: at,
	}

	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs(pgxmock.AnyArg(), "msg_u1", "thr_1", "user_1", "user", user.Content, 7, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO conversation_packages").
		WithArgs("thr_1", "user_1", 7, at).
		WillReturnRows(packageRows().AddRow(
			"thr_1", "user_1", "", "", 0, 4, 100, 0.0, "", at, at, nil, at, at))

	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs(pgxmock.AnyArg(), "msg_a1", "thr_1", "user_1", "assistant", assistant.Content, 6, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO conversation_packages").
		WithArgs("thr_1", "user_1", 6, at).
		WillReturnRows(packageRows().AddRow(
			"thr_1", "user_1", "", "", 0, 5, 106, 0.0, "", at, at, nil, at, at))

	// Fifth message on an unlabeled thread queues the label job.
	mock.ExpectQuery("INSERT INTO recall_jobs").
		WithArgs(pgxmock.AnyArg(), "thr_1", "user_1", JobTypeLabel, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(jobRows().AddRow(
			"job_1", "thr_1", "user_1", JobTypeLabel, JobStatusPending, 0,
			[]byte(nil), at, nil, nil, "", at, at))

	if err := capture.Turn(ctx, user, assistant); err != nil {
		t.Fatalf("Turn failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCapture_Turn_SkipsCountersOnReplay(t *testing.T) {
	store, mock, ctx := newMockStore(t)
	capture := NewCapture(store, slog.New(slog.DiscardHandler))

	at := time.Now().UTC()
	msg := &ConversationMessage{
		MessageID: "msg_u1", ThreadID: "thr_1", UserID: "user_1",
		Role: "user", Content: "hello again", TokenCount: 3, CreatedAt: at,
	}

	// Conflict: no package touch, no job checks.
	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs(pgxmock.AnyArg(), "msg_u1", "thr_1", "user_1", "user", "hello again", 3, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	if err := capture.Turn(ctx, msg); err != nil {
		t.Fatalf("Turn failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSummaryDue(t *testing.T) {
	tests := []struct {
		name string
		pkg  ConversationPackage
		want bool
	}{
		{"too young", ConversationPackage{MessageCount: 9}, false},
		{"first summary", ConversationPackage{MessageCount: 10}, true},
		{"between refreshes", ConversationPackage{MessageCount: 25, Summary: "s"}, false},
		{"refresh at multiple of twenty", ConversationPackage{MessageCount: 40, Summary: "s"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := summaryDue(&tt.pkg); got != tt.want {
				t.Errorf("summaryDue = %v, want %v", got, tt.want)
			}
		})
	}
}
