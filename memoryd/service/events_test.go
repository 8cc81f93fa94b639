package service

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia-ai/nadia/memoryd/store"
)

func cadenceRow(threadID, userID string, messages, tokens int, lastAuditAt, lastEventAt time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"thread_id", "user_id", "messages", "tokens", "last_audit_at", "last_event_at"}).
		AddRow(threadID, userID, messages, tokens, lastAuditAt, lastEventAt)
}

func jobRow(jobID, threadID, userID, jobType string) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "thread_id", "user_id", "job_type", "status", "attempts", "payload",
		"run_after", "claimed_at", "completed_at", "last_error", "created_at", "updated_at",
	}).AddRow(jobID, threadID, userID, jobType, "pending", 0, []byte(nil), now, nil, nil, "", now, now)
}

func TestIngestMessage_QueuesAuditAtMessageThreshold(t *testing.T) {
	svc, mock, ctx := newMockService(t)
	lastAudit := time.Now().UTC().Add(-10 * time.Minute)

	mock.ExpectQuery("INSERT INTO audit_cadence").
		WithArgs("thr_1", "user_1", 120, pgxmock.AnyArg()).
		WillReturnRows(cadenceRow("thr_1", "user_1", 6, 700, lastAudit, time.Now().UTC()))
	mock.ExpectQuery("INSERT INTO recall_jobs").
		WithArgs(pgxmock.AnyArg(), "thr_1", "user_1", "audit", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(jobRow("job_1", "thr_1", "user_1", "audit"))

	queued, err := svc.IngestMessage(ctx, MessageEvent{
		UserID:    "user_1",
		ThreadID:  "thr_1",
		MessageID: "msg_1",
		Role:      "user",
		TokensIn:  120,
	})

	require.NoError(t, err)
	assert.True(t, queued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestMessage_DebounceSkipsEnqueue(t *testing.T) {
	svc, mock, ctx := newMockService(t)
	justAudited := time.Now().UTC().Add(-5 * time.Second)

	mock.ExpectQuery("INSERT INTO audit_cadence").
		WithArgs("thr_1", "user_1", 40, pgxmock.AnyArg()).
		WillReturnRows(cadenceRow("thr_1", "user_1", 8, 2000, justAudited, time.Now().UTC()))

	queued, err := svc.IngestMessage(ctx, MessageEvent{
		UserID:   "user_1",
		ThreadID: "thr_1",
		Role:     "assistant",
		TokensIn: 40,
	})

	require.NoError(t, err)
	assert.False(t, queued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestMessage_BelowThresholds(t *testing.T) {
	svc, mock, ctx := newMockService(t)

	mock.ExpectQuery("INSERT INTO audit_cadence").
		WithArgs("thr_1", "user_1", 30, pgxmock.AnyArg()).
		WillReturnRows(cadenceRow("thr_1", "user_1", 2, 80, time.Now().UTC(), time.Now().UTC()))

	queued, err := svc.IngestMessage(ctx, MessageEvent{
		UserID:   "user_1",
		ThreadID: "thr_1",
		Role:     "user",
		TokensIn: 30,
	})

	require.NoError(t, err)
	assert.False(t, queued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditDue(t *testing.T) {
	cfg := Config{}.withDefaults()
	now := time.Now().UTC()
	recent := now.Add(-time.Minute)
	stale := now.Add(-5 * time.Minute)

	tests := []struct {
		name  string
		state store.CadenceState
		want  bool
	}{
		{"message threshold", store.CadenceState{Messages: 6, Tokens: 10, LastAuditAt: recent}, true},
		{"token threshold", store.CadenceState{Messages: 2, Tokens: 1500, LastAuditAt: recent}, true},
		{"interval elapsed", store.CadenceState{Messages: 1, Tokens: 10, LastAuditAt: stale}, true},
		{"nothing due", store.CadenceState{Messages: 2, Tokens: 100, LastAuditAt: recent}, false},
		{"no messages", store.CadenceState{Messages: 0, Tokens: 0, LastAuditAt: stale}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auditDue(&tt.state, cfg, now))
		})
	}
}
