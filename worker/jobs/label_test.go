package jobs

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/nadia-ai/nadia/recall"
)

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"Postgres partitioning"`, "Postgres partitioning"},
		{"Postgres partitioning.", "Postgres partitioning"},
		{"'Tuning autovacuum!'", "Tuning autovacuum"},
		{"Label: first line\nsecond line", "Label: first line"},
		{"  padded  ", "padded"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeLabel(tt.in); got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeLabel_CapsLength(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "verylongword "
	}
	got := sanitizeLabel(long)
	if len(got) > labelMaxChars {
		t.Errorf("label length %d exceeds cap %d", len(got), labelMaxChars)
	}
}

func TestFallbackLabel(t *testing.T) {
	msgs := []*recall.ConversationMessage{
		{Role: "assistant", Content: "Hello, how can I help?"},
		{Role: "user", Content: "How should I partition the postgres metrics table for pruning?"},
	}
	want := "How should I partition the postgres"
	if got := fallbackLabel(msgs); got != want {
		t.Errorf("fallbackLabel = %q, want %q", got, want)
	}

	if got := fallbackLabel(nil); got != "" {
		t.Errorf("fallbackLabel(nil) = %q, want empty", got)
	}
}

func TestPrimaryTopic(t *testing.T) {
	msgs := []*recall.ConversationMessage{
		{Role: "user", Content: "How should I partition the postgres metrics table?"},
		{Role: "assistant", Content: "Range partition by month, partition, partition."},
		{Role: "user", Content: "Will partition pruning keep postgres fast?"},
	}
	// "partition" and "postgres" both appear twice in user messages;
	// assistant repeats never count, and the first-seen word wins the tie.
	if got := primaryTopic(msgs); got != "partition" {
		t.Errorf("primaryTopic = %q, want %q", got, "partition")
	}

	if got := primaryTopic(nil); got != "" {
		t.Errorf("primaryTopic(nil) = %q, want empty", got)
	}
}

func TestRunner_Label_FallsBackWithoutLLM(t *testing.T) {
	r, mock, ctx := newMockRunner(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM conversation_packages").
		WithArgs("thr_1").
		WillReturnRows(packageRows().AddRow(
			"thr_1", "user_1", "", "", 0, 6, 120, 0.0, "", now, now, nil, now, now))
	mock.ExpectQuery("SELECT .+ FROM conversation_messages").
		WithArgs("thr_1", labelMaxMessages).
		WillReturnRows(messageRows().
			AddRow("cmsg_1", "msg_1", "thr_1", "user_1", "user",
				"How should I partition the postgres metrics table for fast pruning?", 12, now).
			AddRow("cmsg_2", "msg_2", "thr_1", "user_1", "assistant",
				"Range partition by month.", 6, now).
			AddRow("cmsg_3", "msg_3", "thr_1", "user_1", "user",
				"Will partition pruning keep postgres queries fast?", 8, now))
	mock.ExpectExec("UPDATE conversation_packages").
		WithArgs("thr_1", "How should I partition the postgres", "partition").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	job := &recall.RecallJob{ID: "job_1", ThreadID: "thr_1", UserID: "user_1", JobType: recall.JobTypeLabel}
	if err := r.label(ctx, job); err != nil {
		t.Fatalf("label failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRunner_Label_ReplayIsNoop(t *testing.T) {
	r, mock, ctx := newMockRunner(t)
	now := time.Now().UTC()

	// An already-labeled thread means this job completed before; nothing
	// else is read or written.
	mock.ExpectQuery("SELECT .+ FROM conversation_packages").
		WithArgs("thr_1").
		WillReturnRows(packageRows().AddRow(
			"thr_1", "user_1", "Postgres partitioning", "", 0, 6, 120, 0.0, "postgres",
			now, now, &now, now, now))

	job := &recall.RecallJob{ID: "job_1", ThreadID: "thr_1", UserID: "user_1", JobType: recall.JobTypeLabel}
	if err := r.label(ctx, job); err != nil {
		t.Fatalf("label failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRunner_Label_MissingPackageIsNoop(t *testing.T) {
	r, mock, ctx := newMockRunner(t)

	mock.ExpectQuery("SELECT .+ FROM conversation_packages").
		WithArgs("thr_gone").
		WillReturnError(pgx.ErrNoRows)

	job := &recall.RecallJob{ID: "job_1", ThreadID: "thr_gone", UserID: "user_1", JobType: recall.JobTypeLabel}
	if err := r.label(ctx, job); err != nil {
		t.Fatalf("label failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
