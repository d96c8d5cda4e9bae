package engine_test

import (
	"context"
	"testing"
	"time"

	"arenaoj/internal/execution/engine"
	pkgerrors "arenaoj/pkg/errors"
)

type fakeFetcher struct {
	responses [][]engine.Result
	calls     int
}

func (f *fakeFetcher) FetchResults(ctx context.Context, tokens []string) ([]engine.Result, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func terminalResults(n int) []engine.Result {
	results := make([]engine.Result, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, engine.Result{Status: engine.Status{ID: engine.StatusAccepted}})
	}
	return results
}

func pendingResults(n int) []engine.Result {
	results := make([]engine.Result, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, engine.Result{Status: engine.Status{ID: engine.StatusProcessing}})
	}
	return results
}

func newTestPoller(t *testing.T, fetcher engine.ResultFetcher, maxAttempts int) *engine.Poller {
	t.Helper()
	poller, err := engine.NewPoller(fetcher, engine.PollerConfig{
		Interval:    time.Millisecond,
		MaxAttempts: maxAttempts,
		MaxWait:     time.Second,
	})
	if err != nil {
		t.Fatalf("create poller failed: %v", err)
	}
	return poller
}

func TestWaitForResultsCompletesAfterPending(t *testing.T) {
	fetcher := &fakeFetcher{responses: [][]engine.Result{
		pendingResults(2),
		pendingResults(2),
		terminalResults(2),
	}}
	poller := newTestPoller(t, fetcher, 10)

	results, err := poller.WaitForResults(context.Background(), []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if fetcher.calls != 3 {
		t.Fatalf("expected 3 fetches, got %d", fetcher.calls)
	}
}

func TestWaitForResultsMaxAttempts(t *testing.T) {
	fetcher := &fakeFetcher{responses: [][]engine.Result{pendingResults(1)}}
	poller := newTestPoller(t, fetcher, 3)

	_, err := poller.WaitForResults(context.Background(), []string{"t1"})
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.ExecutionTimeout {
		t.Fatalf("expected ExecutionTimeout, got %v", err)
	}
	if fetcher.calls != 3 {
		t.Fatalf("expected 3 fetches, got %d", fetcher.calls)
	}
}

func TestWaitForResultsContextCancelled(t *testing.T) {
	fetcher := &fakeFetcher{responses: [][]engine.Result{pendingResults(1)}}
	poller, err := engine.NewPoller(fetcher, engine.PollerConfig{
		Interval:    time.Minute,
		MaxAttempts: 100,
		MaxWait:     time.Hour,
	})
	if err != nil {
		t.Fatalf("create poller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = poller.WaitForResults(ctx, []string{"t1"})
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.ExecutionTimeout {
		t.Fatalf("expected ExecutionTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation took too long: %s", elapsed)
	}
}

func TestWaitForResultsLengthMismatch(t *testing.T) {
	fetcher := &fakeFetcher{responses: [][]engine.Result{terminalResults(1)}}
	poller := newTestPoller(t, fetcher, 10)

	_, err := poller.WaitForResults(context.Background(), []string{"t1", "t2"})
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.EngineBadResponse {
		t.Fatalf("expected EngineBadResponse, got %v", err)
	}
}

func TestWaitForResultsEmptyTokens(t *testing.T) {
	fetcher := &fakeFetcher{responses: [][]engine.Result{terminalResults(1)}}
	poller := newTestPoller(t, fetcher, 10)

	_, err := poller.WaitForResults(context.Background(), nil)
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.ValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no fetches, got %d", fetcher.calls)
	}
}
