package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nadia-ai/nadia/recall"
	"github.com/nadia-ai/nadia/shared/embedding"
	"github.com/nadia-ai/nadia/shared/llm"
)

func TestContentHash(t *testing.T) {
	if contentHash("ab", "c") == contentHash("a", "bc") {
		t.Error("moving the field boundary must change the hash")
	}
	if contentHash("label", "summary") != contentHash("label", "summary") {
		t.Error("hash must be stable for identical inputs")
	}
	if contentHash("", "summary") == contentHash("summary", "") {
		t.Error("label and summary must not be interchangeable")
	}
}

func embeddingRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"thread_id", "label_embedding", "summary_embedding", "combined_embedding",
		"embedding_model", "embedding_dimensions", "content_hash", "updated_at",
	})
}

// embeddingServer answers the OpenAI embeddings endpoint with one vector per
// input, dims wide.
func embeddingServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode embedding request: %v", err)
		}
		inputs, _ := req.Input.([]any)
		resp := openai.EmbeddingResponse{Object: "list", Model: req.Model}
		for i := range inputs {
			vec := make([]float32, dims)
			for d := range vec {
				vec[d] = float32(i+1) / 10
			}
			resp.Data = append(resp.Data, openai.Embedding{Object: "embedding", Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRunner_Embed_GeneratesAndStores(t *testing.T) {
	srv := embeddingServer(t, 3)
	defer srv.Close()

	r, mock, ctx := newMockRunner(t)
	r.embedder = embedding.NewClient(llm.NewClient(srv.URL, "test-key"), "test-embed", 3)

	now := time.Now().UTC()
	label, summary := "Lisbon trip", "User planned a Lisbon trip for October."

	mock.ExpectQuery("SELECT .+ FROM conversation_packages").
		WithArgs("thr_1").
		WillReturnRows(packageRows().AddRow(
			"thr_1", "user_1", label, summary, 10, 12, 900, 0.4, "lisbon", now, now, &now, now, now))
	mock.ExpectQuery("SELECT .+ FROM conversation_embeddings").
		WithArgs("thr_1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO conversation_embeddings").
		WithArgs("thr_1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"test-embed", 3, contentHash(label, summary)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job := &recall.RecallJob{ID: "job_1", ThreadID: "thr_1", UserID: "user_1", JobType: recall.JobTypeEmbedding}
	if err := r.embed(ctx, job); err != nil {
		t.Fatalf("embed failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRunner_Embed_NoopWhenHashCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("embedding endpoint must not be called for an unchanged thread")
	}))
	defer srv.Close()

	r, mock, ctx := newMockRunner(t)
	r.embedder = embedding.NewClient(llm.NewClient(srv.URL, "test-key"), "test-embed", 3)

	now := time.Now().UTC()
	label, summary := "Lisbon trip", "User planned a Lisbon trip for October."
	vec := pgvector.NewVector([]float32{0.1, 0.2, 0.3})

	mock.ExpectQuery("SELECT .+ FROM conversation_packages").
		WithArgs("thr_1").
		WillReturnRows(packageRows().AddRow(
			"thr_1", "user_1", label, summary, 10, 12, 900, 0.4, "lisbon", now, now, &now, now, now))
	mock.ExpectQuery("SELECT .+ FROM conversation_embeddings").
		WithArgs("thr_1").
		WillReturnRows(embeddingRows().AddRow(
			"thr_1", vec, vec, vec, "test-embed", 3, contentHash(label, summary), now))

	job := &recall.RecallJob{ID: "job_1", ThreadID: "thr_1", UserID: "user_1", JobType: recall.JobTypeEmbedding}
	if err := r.embed(ctx, job); err != nil {
		t.Fatalf("embed failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRunner_Embed_SkipsUnsummarizedThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("embedding endpoint must not be called before a summary exists")
	}))
	defer srv.Close()

	r, mock, ctx := newMockRunner(t)
	r.embedder = embedding.NewClient(llm.NewClient(srv.URL, "test-key"), "test-embed", 3)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM conversation_packages").
		WithArgs("thr_1").
		WillReturnRows(packageRows().AddRow(
			"thr_1", "user_1", "Lisbon trip", "", 0, 12, 900, 0.0, "lisbon", now, now, &now, now, now))

	job := &recall.RecallJob{ID: "job_1", ThreadID: "thr_1", UserID: "user_1", JobType: recall.JobTypeEmbedding}
	if err := r.embed(ctx, job); err != nil {
		t.Fatalf("embed failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
