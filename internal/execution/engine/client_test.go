package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"arenaoj/internal/execution/engine"
	pkgerrors "arenaoj/pkg/errors"
)

func newTestClient(t *testing.T, baseURL string) *engine.Client {
	t.Helper()
	client, err := engine.NewClient(engine.ClientConfig{
		BaseURL:      baseURL,
		HTTPTimeout:  2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}
	return client
}

func sampleBatch(n int) []engine.BatchSubmission {
	batch := make([]engine.BatchSubmission, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, engine.BatchSubmission{
			SourceCode:     "print(input())",
			LanguageID:     71,
			Stdin:          "x",
			ExpectedOutput: "x",
		})
	}
	return batch
}

func TestSubmitBatchReturnsTokensInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req struct {
			Submissions []engine.BatchSubmission `json:"submissions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request failed: %v", err)
		}
		if len(req.Submissions) != 3 {
			t.Errorf("expected 3 submissions, got %d", len(req.Submissions))
		}
		_, _ = w.Write([]byte(`[{"token":"t1"},{"token":"t2"},{"token":"t3"}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	tokens, err := client.SubmitBatch(context.Background(), sampleBatch(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"t1", "t2", "t3"}
	for i, token := range expected {
		if tokens[i] != token {
			t.Fatalf("token %d: expected %q, got %q", i, token, tokens[i])
		}
	}
}

func TestSubmitBatchShortTokenArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"token":"t1"}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.SubmitBatch(context.Background(), sampleBatch(2))
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.EngineBadResponse {
		t.Fatalf("expected EngineBadResponse, got %v", err)
	}
}

func TestSubmitBatchEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"token":"t1"},{"token":""}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.SubmitBatch(context.Background(), sampleBatch(2))
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.EngineBadResponse {
		t.Fatalf("expected EngineBadResponse, got %v", err)
	}
}

func TestSubmitBatchRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"token":"t1"}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	tokens, err := client.SubmitBatch(context.Background(), sampleBatch(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "t1" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSubmitBatchClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.SubmitBatch(context.Background(), sampleBatch(1))
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.EngineBadResponse {
		t.Fatalf("expected EngineBadResponse, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestSubmitBatchTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.SubmitBatch(context.Background(), sampleBatch(1))
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.EngineUnavailable {
		t.Fatalf("expected EngineUnavailable, got %v", err)
	}
}

func TestFetchResultsPreservesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("tokens"); got != "t1,t2" {
			t.Errorf("expected tokens query t1,t2, got %q", got)
		}
		_, _ = w.Write([]byte(`{"submissions":[
			{"token":"t1","stdout":"3","status":{"id":3,"description":"Accepted"}},
			{"token":"t2","stdout":"7","status":{"id":4,"description":"Wrong Answer"}}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	results, err := client.FetchResults(context.Background(), []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Token != "t1" || results[1].Token != "t2" {
		t.Fatalf("result order not preserved: %+v", results)
	}
	if results[1].Status.ID != engine.StatusWrongAnswer {
		t.Fatalf("expected wrong answer status, got %d", results[1].Status.ID)
	}
}

func TestFetchResultsLengthMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"submissions":[{"token":"t1","status":{"id":3}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.FetchResults(context.Background(), []string{"t1", "t2"})
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.EngineBadResponse {
		t.Fatalf("expected EngineBadResponse, got %v", err)
	}
}
