package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"slaparena/syncq"
)

func TestSubmitScoreSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ScorePath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get(IdempotencyHeader)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	item := syncq.Item{ID: "item-1", Type: "score", Payload: json.RawMessage(`{"id":"me","score":5}`)}
	if err := c.Handler().Submit(context.Background(), item); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotKey != "item-1" {
		t.Fatalf("idempotency key = %q", gotKey)
	}
	if gotBody != `{"id":"me","score":5}` {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestSubmitScoreStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(srv.URL, time.Second).SubmitScore(context.Background(), syncq.Item{ID: "x", Payload: json.RawMessage(`{}`)})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable || !se.Temporary() {
		t.Fatalf("expected temporary StatusError, got %v", err)
	}
	if errors.Is(err, syncq.ErrRejected) {
		t.Fatalf("5xx must stay retryable")
	}
}

func TestRejectedSubmissionIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid leaderboard entry", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	ctx := context.Background()
	q := syncq.New(syncq.Options{})
	q.Handle("score", New(srv.URL, time.Second).Handler())
	q.SetOnline(true)
	if _, err := q.Enqueue(ctx, syncq.Item{Type: "score", Payload: json.RawMessage(`{"id":"me"}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	rep := q.Drain(ctx)
	if rep.Evicted != 1 || q.Len() != 0 {
		t.Fatalf("422 should evict immediately: %+v len=%d", rep, q.Len())
	}
}

func TestFetchLeaderboard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[{"id":"a","name":"A","score":10},{"id":"b"}]}`))
	}))
	defer srv.Close()

	entries, err := New(srv.URL, time.Second).FetchLeaderboard(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(entries) != 2 || entries[0]["id"] != "a" || entries[0]["score"] != 10.0 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestOfflineClient(t *testing.T) {
	c := New("", 0)
	if _, err := c.FetchLeaderboard(context.Background()); !errors.Is(err, ErrNoBaseURL) {
		t.Fatalf("expected ErrNoBaseURL, got %v", err)
	}
	if err := c.SubmitScore(context.Background(), syncq.Item{}); !errors.Is(err, ErrNoBaseURL) {
		t.Fatalf("expected ErrNoBaseURL, got %v", err)
	}
}
