package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "agentcore/pkg/logx"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "agent.db"),
		BusyTimeout: 2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteTaskRoundtrip(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()

	if _, _, err := st.GetTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask on empty store: err = %v, want ErrNotFound", err)
	}
	if _, ok, err := st.TaskRevision(ctx, "t1"); err != nil || ok {
		t.Fatalf("TaskRevision on empty store = (ok=%v, %v), want (false, nil)", ok, err)
	}

	if err := st.PutTask(ctx, "t1", []byte(`{"id":"t1"}`)); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	data, rev, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if string(data) != `{"id":"t1"}` {
		t.Fatalf("unexpected data: %s", data)
	}
	if rev != 1 {
		t.Fatalf("first revision = %d, want 1", rev)
	}

	got, ok, err := st.TaskRevision(ctx, "t1")
	if err != nil || !ok || got != rev {
		t.Fatalf("TaskRevision = (%d, %v, %v), want (%d, true, nil)", got, ok, err, rev)
	}
}

func TestSQLiteRevisionCounterAdvancesOnWrite(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()

	if err := st.PutTask(ctx, "t1", []byte(`1`)); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	_, rev1, _ := st.GetTask(ctx, "t1")
	// The counter advances immediately, with no dependence on clock or
	// mtime granularity.
	if err := st.PutTask(ctx, "t1", []byte(`2`)); err != nil {
		t.Fatalf("PutTask overwrite: %v", err)
	}
	data, rev2, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if string(data) != `2` {
		t.Fatalf("overwrite not visible: %s", data)
	}
	if rev2 != rev1+1 {
		t.Fatalf("revision = %d after %d, want +1", rev2, rev1)
	}
}

func TestSQLiteDeleteTask(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()

	if err := st.DeleteTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteTask missing: err = %v, want ErrNotFound", err)
	}
	if err := st.PutTask(ctx, "t1", []byte(`{}`)); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	if err := st.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, _, err := st.GetTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask after delete: err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListTasks(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()

	rows, err := st.ListTasks(ctx)
	if err != nil || len(rows) != 0 {
		t.Fatalf("ListTasks empty = (%d, %v)", len(rows), err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := st.PutTask(ctx, id, []byte(`{"id":"`+id+`"}`)); err != nil {
			t.Fatalf("PutTask: %v", err)
		}
	}
	rows, err = st.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("ListTasks = %d rows, want 3", len(rows))
	}
}

func TestSQLiteJobsSnapshot(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()

	if _, err := st.ReadJobs(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadJobs first run: err = %v, want ErrNotFound", err)
	}
	if err := st.WriteJobs(ctx, []byte(`{"version":1,"jobs":[]}`)); err != nil {
		t.Fatalf("WriteJobs: %v", err)
	}
	// Every write replaces the whole snapshot; readers only ever see the
	// latest document.
	if err := st.WriteJobs(ctx, []byte(`{"version":1,"jobs":[{"id":"j1"}]}`)); err != nil {
		t.Fatalf("WriteJobs overwrite: %v", err)
	}
	data, err := st.ReadJobs(ctx)
	if err != nil {
		t.Fatalf("ReadJobs: %v", err)
	}
	if string(data) != `{"version":1,"jobs":[{"id":"j1"}]}` {
		t.Fatalf("unexpected snapshot: %s", data)
	}
}

func TestSQLiteRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}
