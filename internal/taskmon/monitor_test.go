package taskmon

import (
	"context"
	"testing"
	"time"

	"agentcore/internal/storage"
	"agentcore/internal/taskstore"
	logx "agentcore/pkg/logx"
)

func newTaskStore(t *testing.T) *taskstore.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return taskstore.New(st, nil, logx.Nop())
}

func startRunning(t *testing.T, store *taskstore.Store, maxDurationMS int64) *taskstore.Record {
	t.Helper()
	ctx := context.Background()
	rec, err := store.Create(ctx, taskstore.CreateInput{Description: "d", MaxDurationMS: maxDurationMS})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, rec.ID, taskstore.StatusQueued, ""); err != nil {
		t.Fatalf("UpdateStatus(queued): %v", err)
	}
	rec, err = store.UpdateStatus(ctx, rec.ID, taskstore.StatusRunning, "")
	if err != nil {
		t.Fatalf("UpdateStatus(running): %v", err)
	}
	return rec
}

func TestTickReportsTimeout(t *testing.T) {
	t.Parallel()
	store := newTaskStore(t)
	rec := startRunning(t, store, 1) // 1ms budget

	var gotID, gotReason string
	m := New(store, Config{}, Hooks{
		OnTimeout: func(r *taskstore.Record, reason string) {
			gotID, gotReason = r.ID, reason
		},
	}, logx.Nop())

	time.Sleep(10 * time.Millisecond)
	m.Tick(context.Background())

	if gotID != rec.ID {
		t.Fatalf("OnTimeout task = %q, want %q", gotID, rec.ID)
	}
	if gotReason != ReasonTimeout {
		t.Fatalf("reason = %q, want %q", gotReason, ReasonTimeout)
	}
}

func TestTickWarnsBeforeExpiry(t *testing.T) {
	t.Parallel()
	store := newTaskStore(t)
	rec := startRunning(t, store, 10_000) // expires in ~10s

	var warned string
	var remaining time.Duration
	timedOut := false
	m := New(store, Config{WarnWindow: 30 * time.Second}, Hooks{
		OnWarning: func(r *taskstore.Record, rem time.Duration) {
			warned, remaining = r.ID, rem
		},
		OnTimeout: func(r *taskstore.Record, reason string) { timedOut = true },
	}, logx.Nop())

	m.Tick(context.Background())

	if warned != rec.ID {
		t.Fatalf("OnWarning task = %q, want %q", warned, rec.ID)
	}
	if remaining <= 0 || remaining > 10*time.Second {
		t.Fatalf("remaining = %v, want (0, 10s]", remaining)
	}
	if timedOut {
		t.Fatal("OnTimeout fired for a live task")
	}
}

func TestTickIgnoresUnarmedAndTerminal(t *testing.T) {
	t.Parallel()
	store := newTaskStore(t)
	ctx := context.Background()

	// Queued with a budget but never started: deadline unarmed.
	rec, err := store.Create(ctx, taskstore.CreateInput{Description: "d", MaxDurationMS: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, rec.ID, taskstore.StatusQueued, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// Expired but already completed: not in the active set.
	done := startRunning(t, store, 1)
	time.Sleep(10 * time.Millisecond)
	if _, err := store.UpdateStatus(ctx, done.ID, taskstore.StatusCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus(completed): %v", err)
	}

	fired := false
	m := New(store, Config{}, Hooks{
		OnTimeout: func(r *taskstore.Record, reason string) { fired = true },
	}, logx.Nop())
	m.Tick(ctx)

	if fired {
		t.Fatal("OnTimeout fired for unarmed or terminal task")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	store := newTaskStore(t)
	m := New(store, Config{Interval: 10 * time.Millisecond}, Hooks{}, logx.Nop())

	ctx := context.Background()
	m.Start(ctx)
	m.Start(ctx) // warns, no second goroutine
	m.Stop()
	m.Stop() // no-op
}
