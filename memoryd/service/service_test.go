package service

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/pgstore"
)

func newMockService(t *testing.T) (*Service, pgxmock.PgxPoolIface, context.Context) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	svc := New(store.New(nil), recall.NewStore(nil), Config{}, slog.New(slog.DiscardHandler))
	ctx := pgstore.WithQuerier(context.Background(), mock)
	return svc, mock, ctx
}

func memoryRow(id, userID, threadID, tier, content string, keywords []string, repeats int, updatedAt time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "thread_id", "source_thread_id", "tier", "content",
		"keywords", "entities", "redaction_map", "priority", "confidence", "repeats", "thread_set",
		"last_seen_at", "last_decay_at", "created_at", "updated_at", "deleted_at", "has_embedding",
	}).AddRow(
		id, userID, threadID, "", tier, content,
		keywords, []string{}, []byte(`{}`), 0.5, 0.75, repeats, []string{threadID},
		updatedAt, updatedAt, updatedAt, updatedAt, nil, false,
	)
}

func emptyMemoryRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "thread_id", "source_thread_id", "tier", "content",
		"keywords", "entities", "redaction_map", "priority", "confidence", "repeats", "thread_set",
		"last_seen_at", "last_decay_at", "created_at", "updated_at", "deleted_at", "has_embedding",
	})
}

func TestService_Write_InsertsAndRedacts(t *testing.T) {
	svc, mock, ctx := newMockService(t)

	mock.ExpectQuery("SELECT(.|\n)*FROM memories").
		WithArgs("user_1", "", store.DedupScanWindow).
		WillReturnRows(emptyMemoryRows())
	mock.ExpectExec("INSERT INTO memories").
		WithArgs(pgxmock.AnyArg(), "user_1", "thr_1", "", domain.TierGeneral,
			"My email is [EMAIL_1] and I check it daily", pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), 0.5, 0.75, 1, pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	m, outcome, err := svc.Write(ctx, WriteInput{
		UserID:   "user_1",
		ThreadID: "thr_1",
		Content:  "My email is bob@example.com and I check it daily",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, domain.TierGeneral, m.Tier)
	assert.Equal(t, "My email is [EMAIL_1] and I check it daily", m.Content)
	assert.Equal(t, "bob@example.com", m.RedactionMap["[EMAIL_1]"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Write_MergesNearDuplicate(t *testing.T) {
	svc, mock, ctx := newMockService(t)
	updated := time.Now().UTC().Add(-time.Hour)

	existing := memoryRow("mem_1", "user_1", "thr_1", domain.TierGeneral,
		"I ride a blue bike to work", []string{"ride", "blue", "bike", "work"}, 1, updated)
	mock.ExpectQuery("SELECT(.|\n)*FROM memories").
		WithArgs("user_1", "", store.DedupScanWindow).
		WillReturnRows(existing)
	mock.ExpectQuery("UPDATE memories").
		WithArgs("mem_1", "thr_2", PriorityDelta, "", "").
		WillReturnRows(memoryRow("mem_1", "user_1", "thr_1", domain.TierGeneral,
			"I ride a blue bike to work", []string{"ride", "blue", "bike", "work"}, 2, time.Now().UTC()))

	m, outcome, err := svc.Write(ctx, WriteInput{
		UserID:   "user_1",
		ThreadID: "thr_2",
		Content:  "I ride a blue bike to my work",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, outcome)
	assert.Equal(t, 2, m.Repeats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Write_RejectsOversizedContent(t *testing.T) {
	svc, _, ctx := newMockService(t)

	_, _, err := svc.Write(ctx, WriteInput{
		UserID:   "user_1",
		ThreadID: "thr_1",
		Content:  strings.Repeat("x", domain.MaxContentLength+1),
	})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestService_Write_RejectsUnknownTier(t *testing.T) {
	svc, _, ctx := newMockService(t)

	_, _, err := svc.Write(ctx, WriteInput{
		UserID:   "user_1",
		ThreadID: "thr_1",
		Content:  "something worth keeping",
		Tier:     "T9",
	})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClearer(t *testing.T) {
	existing := &domain.Memory{
		Content:  "likes espresso",
		Keywords: []string{"likes", "espresso"},
	}

	tests := []struct {
		name     string
		content  string
		keywords []string
		want     bool
	}{
		{"longer with superset", "likes espresso every single morning", []string{"likes", "espresso", "single", "morning"}, true},
		{"longer but missing a keyword", "drinks espresso every morning", []string{"drinks", "espresso", "morning"}, false},
		{"shorter", "espresso fan", []string{"espresso", "fan"}, false},
		{"same keyword count", "likes espresso!!", []string{"likes", "espresso"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clearer(tt.content, tt.keywords, existing))
		})
	}
}

func TestDetectTier(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		crossHit bool
		want     string
	}{
		{"preference", "I prefer tabs over spaces", false, domain.TierPrefsGoals},
		{"goal", "my goal is to run a marathon", false, domain.TierPrefsGoals},
		{"avoidance", "I avoid caffeine after noon", false, domain.TierPrefsGoals},
		{"favorite", "my favourite season is autumn", false, domain.TierPrefsGoals},
		{"habit", "I always review PRs before standup", false, domain.TierPrefsGoals},
		{"cross thread", "the deploy runs from the release branch", true, domain.TierCrossRecent},
		{"plain fact", "the deploy runs from the release branch", false, domain.TierGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectTier(tt.content, tt.crossHit))
		})
	}
}
