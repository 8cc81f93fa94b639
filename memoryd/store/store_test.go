package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"

	"github.com/nadia-ai/nadia/memoryd/domain"
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

func memoryRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "thread_id", "source_thread_id", "tier", "content",
		"keywords", "entities", "redaction_map", "priority", "confidence", "repeats", "thread_set",
		"last_seen_at", "last_decay_at", "created_at", "updated_at", "deleted_at", "has_embedding",
	})
}

func TestStore_CreateMemory_DuplicateFingerprint(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	m := &domain.Memory{
		UserID:   "user_1",
		ThreadID: "thr_1",
		Tier:     domain.TierGeneral,
		Content:  "likes dark roast coffee",
		Priority: 0.5,
	}

	mock.ExpectExec("INSERT INTO memories").
		WithArgs(pgxmock.AnyArg(), "user_1", "thr_1", "", domain.TierGeneral,
			"likes dark roast coffee", "fp_abc", pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), 0.5, pgxmock.AnyArg(), 1, pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.CreateMemory(ctx, m, "fp_abc")
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_MergeMemory(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	at := time.Now().UTC()
	mock.ExpectQuery("UPDATE memories").
		WithArgs("mem_1", "thr_2", 0.05, "", "").
		WillReturnRows(memoryRows().AddRow(
			"mem_1", "user_1", "thr_1", "", domain.TierCrossRecent, "likes dark roast coffee",
			[]string{"dark", "roast", "coffee"}, []string(nil), []byte(`{}`), 0.55, 0.8, 2,
			[]string{"thr_1", "thr_2"}, at, at, at, at, nil, false))

	m, err := store.MergeMemory(ctx, "mem_1", "thr_2", 0.05, "", "")
	if err != nil {
		t.Fatalf("MergeMemory failed: %v", err)
	}
	if m.Repeats != 2 {
		t.Errorf("expected repeats 2, got %d", m.Repeats)
	}
	if len(m.ThreadSet) != 2 {
		t.Errorf("expected thread set of 2, got %v", m.ThreadSet)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_SoftDeleteMemory_NotFound(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	mock.ExpectExec("UPDATE memories").
		WithArgs("mem_gone", "user_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SoftDeleteMemory(ctx, "mem_gone", "user_1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_BumpCadence(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	at := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO audit_cadence").
		WithArgs("thr_1", "user_1", 120, at).
		WillReturnRows(pgxmock.NewRows([]string{
			"thread_id", "user_id", "messages", "tokens", "last_audit_at", "last_event_at",
		}).AddRow("thr_1", "user_1", 7, 1620, at.Add(-10*time.Minute), at))

	st, err := store.BumpCadence(ctx, "thr_1", "user_1", 120, at)
	if err != nil {
		t.Fatalf("BumpCadence failed: %v", err)
	}
	if st.Messages != 7 {
		t.Errorf("expected 7 messages, got %d", st.Messages)
	}
	if st.Tokens != 1620 {
		t.Errorf("expected 1620 tokens, got %d", st.Tokens)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_ExpireAndDecay(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	mock.ExpectExec("UPDATE memories").
		WithArgs(domain.TierGeneral, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.ExpireMemories(ctx, domain.TierGeneral, cutoff)
	if err != nil {
		t.Fatalf("ExpireMemories failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 expired, got %d", n)
	}

	mock.ExpectExec("UPDATE memories").
		WithArgs(domain.TierGeneral, 0.02).
		WillReturnResult(pgxmock.NewResult("UPDATE", 12))

	n, err = store.DecayMemories(ctx, domain.TierGeneral, 0.02)
	if err != nil {
		t.Fatalf("DecayMemories failed: %v", err)
	}
	if n != 12 {
		t.Errorf("expected 12 decayed, got %d", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_SetMemoryEmbedding(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	vec := pgvector.NewVector([]float32{0.1, 0.2, 0.3})
	mock.ExpectExec("WITH updated AS").
		WithArgs("mem_1", vec, "text-embedding-3-small", 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.SetMemoryEmbedding(ctx, "mem_1", vec, "text-embedding-3-small", 3); err != nil {
		t.Fatalf("SetMemoryEmbedding failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_SetMemoryEmbedding_GoneMemory(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	vec := pgvector.NewVector([]float32{0.1})
	mock.ExpectExec("WITH updated AS").
		WithArgs("mem_gone", vec, "text-embedding-3-small", 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.SetMemoryEmbedding(ctx, "mem_gone", vec, "text-embedding-3-small", 1)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_MemoriesNeedingEmbedding(t *testing.T) {
	store, mock, ctx := newMockStore(t)

	at := time.Now().UTC()
	mock.ExpectQuery("LEFT JOIN memory_embeddings").
		WithArgs("text-embedding-3-small", 64).
		WillReturnRows(memoryRows().AddRow(
			"mem_1", "user_1", "thr_1", "", domain.TierGeneral, "prefers window seats",
			[]string{"prefers", "window", "seats"}, []string(nil), []byte(`{}`), 0.5, 0.5, 1,
			[]string{"thr_1"}, at, at, at, at, nil, true))

	mems, err := store.MemoriesNeedingEmbedding(ctx, "text-embedding-3-small", 64)
	if err != nil {
		t.Fatalf("MemoriesNeedingEmbedding failed: %v", err)
	}
	if len(mems) != 1 || mems[0].ID != "mem_1" {
		t.Errorf("unexpected candidates: %+v", mems)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
