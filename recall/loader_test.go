package recall

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickStrategy(t *testing.T) {
	tests := []struct {
		name string
		trig Trigger
		pkgs []*ConversationPackage
		want string
	}{
		{
			name: "small archive replays in full",
			trig: Trigger{Type: TriggerResume},
			pkgs: []*ConversationPackage{{TotalTokens: 40_000}},
			want: StrategyFull,
		},
		{
			name: "mid archive samples hierarchically",
			trig: Trigger{Type: TriggerResume},
			pkgs: []*ConversationPackage{{TotalTokens: 90_000}, {TotalTokens: 80_000}},
			want: StrategyHierarchical,
		},
		{
			name: "huge archive collapses to summaries",
			trig: Trigger{Type: TriggerResume},
			pkgs: []*ConversationPackage{{TotalTokens: 300_000}},
			want: StrategyCompressed,
		},
		{
			name: "historical trigger gets snippets",
			trig: Trigger{Type: TriggerHistorical},
			pkgs: []*ConversationPackage{{TotalTokens: 10_000}},
			want: StrategySnippet,
		},
		{
			name: "semantic trigger gets snippets",
			trig: Trigger{Type: TriggerSemantic},
			pkgs: []*ConversationPackage{{TotalTokens: 500_000}},
			want: StrategySnippet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickStrategy(&tt.trig, tt.pkgs))
		})
	}
}

func TestSampleHierarchical(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]*ConversationMessage, 100)
	for i := range msgs {
		msgs[i] = &ConversationMessage{
			ID:         fmt.Sprintf("m%03d", i),
			Content:    fmt.Sprintf("message %d", i),
			TokenCount: 5,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
	}
	// A code-fenced turn in the middle must survive sampling even though it
	// is short.
	msgs[50].Content = "```sql\nSELECT 1;\n```"

	out := sampleHierarchical(msgs)

	require.Len(t, out, hierarchicalHead+hierarchicalMiddle+hierarchicalTail)
	assert.Equal(t, "m000", out[0].ID)
	assert.Equal(t, "m099", out[len(out)-1].ID)

	found := false
	for _, m := range out {
		if m.ID == "m050" {
			found = true
		}
	}
	assert.True(t, found, "code-fenced middle message should be kept")

	for i := 1; i < len(out); i++ {
		assert.False(t, out[i].CreatedAt.Before(out[i-1].CreatedAt))
	}
}

func TestSampleHierarchical_ShortThreadUntouched(t *testing.T) {
	msgs := []*ConversationMessage{{ID: "a"}, {ID: "b"}}
	assert.Equal(t, msgs, sampleHierarchical(msgs))
}

func TestSnippetWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]*ConversationMessage, 10)
	for i := range msgs {
		msgs[i] = &ConversationMessage{
			ID:        fmt.Sprintf("m%d", i),
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	msgs[6].Content = "we settled on the retry budget here"

	t.Run("timeframe anchors closest message", func(t *testing.T) {
		trig := &Trigger{
			Type:      TriggerHistorical,
			Timeframe: &Timeframe{Start: base.Add(3 * time.Hour), End: base.Add(5 * time.Hour)},
		}
		window := snippetWindow(msgs, trig)
		require.Len(t, window, 5)
		assert.Equal(t, "m2", window[0].ID)
		assert.Equal(t, "m6", window[4].ID)
	})

	t.Run("topic anchors first mention", func(t *testing.T) {
		trig := &Trigger{Type: TriggerSemantic, Topic: "retry budget"}
		window := snippetWindow(msgs, trig)
		require.Len(t, window, 5)
		assert.Equal(t, "m4", window[0].ID)
		assert.Equal(t, "m8", window[4].ID)
	})

	t.Run("no anchor falls back to thread end", func(t *testing.T) {
		trig := &Trigger{Type: TriggerSemantic}
		window := snippetWindow(msgs, trig)
		require.Len(t, window, 3)
		assert.Equal(t, "m9", window[2].ID)
	})

	t.Run("empty thread", func(t *testing.T) {
		assert.Nil(t, snippetWindow(nil, &Trigger{Type: TriggerSemantic}))
	})
}

func TestLoader_Load_ResumeFullReplay(t *testing.T) {
	store, mock, ctx := newMockStore(t)
	loader := NewLoader(store, slog.New(slog.DiscardHandler))

	at := time.Now().UTC()
	trig := &Trigger{Type: TriggerResume, Confidence: ConfidenceResume}

	mock.ExpectQuery("SELECT .+ FROM conversation_packages").
		WithArgs("user_1", "thr_current", maxThreads).
		WillReturnRows(packageRows().AddRow(
			"thr_old", "user_1", "Postgres tuning", "Tuned shared_buffers.", 5, 4, 60, 0.4, "postgres", at, at, nil, at, at))

	mock.ExpectQuery("SELECT .+ FROM conversation_messages").
		WithArgs("thr_old").
		WillReturnRows(messageRows().
			AddRow("m1", "msg_1", "thr_old", "user_1", "user", "how do I tune postgres?", 7, at).
			AddRow("m2", "msg_2", "thr_old", "user_1", "assistant", "Start with shared_buffers.", 6, at))

	mock.ExpectExec("INSERT INTO recall_events").
		WithArgs(pgxmock.AnyArg(), "thr_current", "user_1", "msg_now", TriggerResume,
			StrategyFull, pgxmock.AnyArg(), ConfidenceResume, pgxmock.AnyArg(), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inj, err := loader.Load(ctx, "user_1", "thr_current", "msg_now", trig, nil, 16_000)
	require.NoError(t, err)
	require.NotNil(t, inj)

	assert.Equal(t, StrategyFull, inj.Strategy)
	assert.Equal(t, []string{"thr_old"}, inj.ThreadIDs)
	assert.Equal(t, 8_000, inj.TokenBudget)
	assert.False(t, inj.Truncated)
	assert.Contains(t, inj.Text, "Postgres tuning")
	assert.Contains(t, inj.Text, "User: how do I tune postgres?")
	assert.Contains(t, inj.Text, "Assistant: Start with shared_buffers.")
	assert.LessOrEqual(t, inj.TokensUsed, inj.TokenBudget)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestLoader_Load_BudgetCap(t *testing.T) {
	store, mock, ctx := newMockStore(t)
	loader := NewLoader(store, slog.New(slog.DiscardHandler))

	at := time.Now().UTC()
	trig := &Trigger{Type: TriggerResume, Confidence: ConfidenceResume}

	long := ""
	for i := 0; i < 400; i++ {
		long += "tokens and more tokens "
	}

	mock.ExpectQuery("SELECT .+ FROM conversation_packages").
		WithArgs("user_1", "thr_current", maxThreads).
		WillReturnRows(packageRows().AddRow(
			"thr_old", "user_1", "Big thread", "", 0, 2, 2_000, 0.0, "", at, at, nil, at, at))

	mock.ExpectQuery("SELECT .+ FROM conversation_messages").
		WithArgs("thr_old").
		WillReturnRows(messageRows().
			AddRow("m1", "msg_1", "thr_old", "user_1", "user", long, 2_000, at))

	mock.ExpectExec("INSERT INTO recall_events").
		WithArgs(pgxmock.AnyArg(), "thr_current", "user_1", "msg_now", TriggerResume,
			StrategyFull, pgxmock.AnyArg(), ConfidenceResume, pgxmock.AnyArg(), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// Half of 1000 leaves a 500 token injection budget, far below the
	// archive size.
	inj, err := loader.Load(ctx, "user_1", "thr_current", "msg_now", trig, nil, 1_000)
	require.NoError(t, err)
	require.NotNil(t, inj)

	assert.True(t, inj.Truncated)
	assert.LessOrEqual(t, inj.TokensUsed, 500)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestLoader_Load_NoTriggerNoWork(t *testing.T) {
	store, _, ctx := newMockStore(t)
	loader := NewLoader(store, slog.New(slog.DiscardHandler))

	inj, err := loader.Load(ctx, "user_1", "thr_1", "msg_1", nil, nil, 16_000)
	require.NoError(t, err)
	assert.Nil(t, inj)

	inj, err = loader.Load(ctx, "user_1", "thr_1", "msg_1",
		&Trigger{Type: TriggerSemantic, Confidence: 0.3}, nil, 16_000)
	require.NoError(t, err)
	assert.Nil(t, inj)
}

func messageRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "message_id", "thread_id", "user_id", "role", "content", "token_count", "created_at",
	})
}
