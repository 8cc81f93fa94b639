package memoryclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nadia-ai/nadia/gateway/domain"
)

func TestRecall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recall" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-internal-service") != "gateway" {
			t.Errorf("missing internal service token")
		}
		if r.Header.Get("x-user-id") != "user_1" {
			t.Errorf("x-user-id = %q", r.Header.Get("x-user-id"))
		}
		q := r.URL.Query()
		if q.Get("query") != "favorite color" || q.Get("maxItems") != "5" || q.Get("deadlineMs") != "300" {
			t.Errorf("unexpected query params: %v", q)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"memories": []RecalledMemory{
				{Memory: Memory{ID: "mem_1", Tier: "T2", Content: "my favorite color is blue"}, Score: 0.92, Source: "fts"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "gateway")
	got, err := c.Recall(context.Background(), "user_1", RecallQuery{
		ThreadID: "thr_1",
		Query:    "favorite color",
		MaxItems: 5,
		Deadline: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(got) != 1 || got[0].Memory.Content != "my favorite color is blue" {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestPostMessageEvent(t *testing.T) {
	var received MessageEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/events/message" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, "gateway")
	ev := MessageEvent{UserID: "user_1", ThreadID: "thr_1", MessageID: "msg_1", Role: "user", Content: "hi", TokensIn: 3}
	if err := c.PostMessageEvent(context.Background(), ev); err != nil {
		t.Fatalf("PostMessageEvent failed: %v", err)
	}
	if received.MessageID != "msg_1" {
		t.Errorf("server received %+v", received)
	}
}

func TestUpstreamErrorsMapToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "gateway")
	_, err := c.Conversations(context.Background(), "user_1", "", 2)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestSaveMemory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in SaveInput
		json.NewDecoder(r.Body).Decode(&in)
		if in.Content != "my favorite color is blue" || in.Priority != 0.9 {
			t.Errorf("unexpected save input: %+v", in)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Memory{ID: "mem_9", Tier: "T2", Content: in.Content})
	}))
	defer srv.Close()

	c := New(srv.URL, "gateway")
	m, err := c.SaveMemory(context.Background(), SaveInput{
		UserID: "user_1", ThreadID: "thr_1", Content: "my favorite color is blue", Priority: 0.9,
	})
	if err != nil {
		t.Fatalf("SaveMemory failed: %v", err)
	}
	if m.ID != "mem_9" {
		t.Errorf("memory id = %q", m.ID)
	}
}
