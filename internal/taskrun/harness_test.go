package taskrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentcore/internal/lanequeue"
	"agentcore/internal/storage"
	"agentcore/internal/taskstore"
	logx "agentcore/pkg/logx"
)

func newHarness(t *testing.T) (*Harness, *taskstore.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	store := taskstore.New(st, nil, logx.Nop())
	queue := lanequeue.New(lanequeue.Config{DefaultCeiling: 2}, logx.Nop())
	h := New(Config{RetryBaseDelay: time.Millisecond}, store, queue, logx.Nop())
	return h, store
}

func TestSubmitSuccess(t *testing.T) {
	t.Parallel()
	h, store := newHarness(t)
	ctx := context.Background()

	rec, err := h.Submit(ctx, taskstore.CreateInput{Description: "summarize", Lane: "main"},
		func(ctx context.Context) (string, error) { return "42", nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := h.Wait(ctx, rec.ID, 5*time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != taskstore.StatusCompleted {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	if got.Result != "42" {
		t.Fatalf("Result = %q, want 42", got.Result)
	}
	states := historyStates(got)
	want := []taskstore.Status{
		taskstore.StatusPending, taskstore.StatusQueued,
		taskstore.StatusRunning, taskstore.StatusCompleted,
	}
	if !equalStates(states, want) {
		t.Fatalf("history = %v, want %v", states, want)
	}
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	h, store := newHarness(t)
	ctx := context.Background()

	attempts := 0
	rec, err := h.Submit(ctx, taskstore.CreateInput{Description: "flaky", Lane: "main", MaxAttempts: 3},
		func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := h.Wait(ctx, rec.ID, 15*time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != taskstore.StatusCompleted {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	if got.Retry.Attempted != 2 {
		t.Fatalf("Retry.Attempted = %d, want 2", got.Retry.Attempted)
	}
	if got.Error != "" {
		t.Fatalf("Error = %q, want cleared", got.Error)
	}
	if n := countState(got, taskstore.StatusRetrying); n != 2 {
		t.Fatalf("retrying entries = %d, want 2", n)
	}
}

func TestSubmitExhaustsRetries(t *testing.T) {
	t.Parallel()
	h, store := newHarness(t)
	ctx := context.Background()

	boom := errors.New("permanent")
	rec, err := h.Submit(ctx, taskstore.CreateInput{Description: "doomed", Lane: "main", MaxAttempts: 1},
		func(ctx context.Context) (string, error) { return "", boom })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := h.Wait(ctx, rec.ID, 15*time.Second); !errors.Is(err, boom) {
		t.Fatalf("Wait err = %v, want boom", err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != taskstore.StatusFailed {
		t.Fatalf("Status = %s, want failed", got.Status)
	}
	if got.Error != "permanent" {
		t.Fatalf("Error = %q", got.Error)
	}
	if got.Retry.Attempted != 1 {
		t.Fatalf("Retry.Attempted = %d, want 1", got.Retry.Attempted)
	}
}

func TestNoRetriesWhenMaxAttemptsZero(t *testing.T) {
	t.Parallel()
	h, store := newHarness(t)
	ctx := context.Background()

	calls := 0
	rec, err := h.Submit(ctx, taskstore.CreateInput{Description: "once", Lane: "main"},
		func(ctx context.Context) (string, error) { calls++; return "", errors.New("nope") })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := h.Wait(ctx, rec.ID, 5*time.Second); err == nil {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	got, _ := store.Get(ctx, rec.ID)
	if got.Status != taskstore.StatusFailed {
		t.Fatalf("Status = %s, want failed", got.Status)
	}
}

func historyStates(r *taskstore.Record) []taskstore.Status {
	out := make([]taskstore.Status, 0, len(r.History))
	for _, h := range r.History {
		out = append(out, h.State)
	}
	return out
}

func equalStates(a, b []taskstore.Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func countState(r *taskstore.Record, s taskstore.Status) int {
	n := 0
	for _, h := range r.History {
		if h.State == s {
			n++
		}
	}
	return n
}
