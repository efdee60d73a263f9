package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"agentcore/internal/storage"
	logx "agentcore/pkg/logx"
)

func newBackend(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func validJob(name string) JobDefinition {
	return JobDefinition{
		Name:     name,
		Enabled:  true,
		Schedule: "*/5 * * * *",
		Trigger:  Trigger{Type: TriggerAgentAsk, Prompt: "summarize inbox"},
	}
}

func TestAccessorsRequireLoad(t *testing.T) {
	t.Parallel()
	s := New(newBackend(t), logx.Nop())
	if _, err := s.All(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("All: err = %v, want ErrNotLoaded", err)
	}
	if _, _, err := s.Get("x"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Get: err = %v, want ErrNotLoaded", err)
	}
	if _, err := s.Add(context.Background(), validJob("j")); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Add: err = %v, want ErrNotLoaded", err)
	}
}

func TestLoadFirstRunIsEmpty(t *testing.T) {
	t.Parallel()
	s := New(newBackend(t), logx.Nop())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	jobs, err := s.All()
	if err != nil || len(jobs) != 0 {
		t.Fatalf("All = (%d, %v), want (0, nil)", len(jobs), err)
	}
}

func TestAddGetRemove(t *testing.T) {
	t.Parallel()
	st := newBackend(t)
	s := New(st, logx.Nop())
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	job, err := s.Add(ctx, validJob("daily summary"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected generated id")
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps")
	}

	got, ok, err := s.Get(job.ID)
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v)", ok, err)
	}
	if got.Name != "daily summary" {
		t.Fatalf("Name = %q", got.Name)
	}

	// The snapshot survives a fresh store.
	s2 := New(st, logx.Nop())
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	jobs, _ := s2.All()
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("reloaded jobs = %+v", jobs)
	}

	removed, err := s.Remove(ctx, job.ID)
	if err != nil || !removed {
		t.Fatalf("Remove = (%v, %v)", removed, err)
	}
	removed, err = s.Remove(ctx, job.ID)
	if err != nil || removed {
		t.Fatalf("second Remove = (%v, %v), want (false, nil)", removed, err)
	}
}

func TestAddRejectsInvalidCronBeforePersist(t *testing.T) {
	t.Parallel()
	st := newBackend(t)
	s := New(st, logx.Nop())
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	bad := validJob("bad")
	bad.Schedule = "not-a-cron"
	_, err := s.Add(ctx, bad)
	if err == nil || !strings.Contains(err.Error(), "invalid cron expression") {
		t.Fatalf("err = %v, want invalid cron expression", err)
	}

	// Nothing was written.
	if _, err := st.ReadJobs(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("ReadJobs: err = %v, want ErrNotFound (nothing persisted)", err)
	}
}

func TestUpdateRevalidatesMergedResult(t *testing.T) {
	t.Parallel()
	s := New(newBackend(t), logx.Nop())
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	job, err := s.Add(ctx, validJob("j"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := s.Update(ctx, job.ID, func(j *JobDefinition) { j.Schedule = "banana" }); err == nil {
		t.Fatal("expected validation error")
	}
	got, _, _ := s.Get(job.ID)
	if got.Schedule != "*/5 * * * *" {
		t.Fatalf("Schedule = %q, want unchanged", got.Schedule)
	}

	up, err := s.Update(ctx, job.ID, func(j *JobDefinition) {
		j.ID = "forged"
		j.Enabled = false
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.ID != job.ID {
		t.Fatalf("ID = %q, want preserved %q", up.ID, job.ID)
	}
	if up.Enabled {
		t.Fatal("Enabled not updated")
	}
}

func TestUpdateRunResult(t *testing.T) {
	t.Parallel()
	s := New(newBackend(t), logx.Nop())
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	job, err := s.Add(ctx, validJob("j"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	res := RunResult{Success: true, Output: "ok", DurationMS: 12, Attempts: 1}
	if err := s.UpdateRunResult(ctx, job.ID, res); err != nil {
		t.Fatalf("UpdateRunResult: %v", err)
	}
	got, _, _ := s.Get(job.ID)
	if got.LastResult == nil || !got.LastResult.Success || got.LastResult.Attempts != 1 {
		t.Fatalf("LastResult = %+v", got.LastResult)
	}
	if got.LastRunAt == nil || got.LastRunAt.IsZero() {
		t.Fatal("LastRunAt not set")
	}

	if err := s.UpdateRunResult(ctx, "missing", res); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadDropsInvalidDefinitions(t *testing.T) {
	t.Parallel()
	st := newBackend(t)
	ctx := context.Background()

	good := validJob("good")
	good.ID = "good-1"
	good.CreatedAt = time.Now().UTC()
	bad := validJob("bad")
	bad.ID = "bad-1"
	bad.Schedule = "nope"

	data, err := json.Marshal(snapshot{Version: SnapshotVersion, Jobs: []JobDefinition{good, bad}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := st.WriteJobs(ctx, data); err != nil {
		t.Fatalf("WriteJobs: %v", err)
	}

	s := New(st, logx.Nop())
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	jobs, _ := s.All()
	if len(jobs) != 1 || jobs[0].ID != "good-1" {
		t.Fatalf("kept jobs = %+v, want only good-1", jobs)
	}
}

func TestValidateCron(t *testing.T) {
	t.Parallel()
	valid := []string{"*/5 * * * *", "0 0 * * * *", "@hourly", " @daily "}
	for _, expr := range valid {
		if err := ValidateCron(expr); err != nil {
			t.Fatalf("ValidateCron(%q): %v", expr, err)
		}
	}
	invalid := []string{"", "banana", "* * *", "61 * * * *"}
	for _, expr := range invalid {
		if err := ValidateCron(expr); err == nil {
			t.Fatalf("ValidateCron(%q): expected error", expr)
		}
	}
}

func TestTriggerAndActionValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*JobDefinition)
		wantErr string
	}{
		{"empty prompt", func(j *JobDefinition) { j.Trigger.Prompt = " " }, "prompt is required"},
		{"unknown trigger", func(j *JobDefinition) { j.Trigger.Type = "shell" }, "unknown trigger type"},
		{"webhook without url", func(j *JobDefinition) {
			j.Trigger = Trigger{Type: TriggerWebhook}
		}, "url is required"},
		{"webhook bad url", func(j *JobDefinition) {
			j.Trigger = Trigger{Type: TriggerWebhook, URL: "not a url"}
		}, "invalid url"},
		{"tool without name", func(j *JobDefinition) {
			j.Trigger = Trigger{Type: TriggerToolCall}
		}, "tool is required"},
		{"memory action without key", func(j *JobDefinition) {
			j.Actions = []Action{{Type: ActionMemoryUpdate}}
		}, "key is required"},
		{"message action without channel", func(j *JobDefinition) {
			j.Actions = []Action{{Type: ActionSendMessage}}
		}, "channel is required"},
		{"unknown action", func(j *JobDefinition) {
			j.Actions = []Action{{Type: "exec"}}
		}, "unknown action type"},
		{"negative retries", func(j *JobDefinition) { j.MaxRetries = -1 }, "max_retries"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := validJob("j")
			j.ID = "j-1"
			tt.mutate(&j)
			err := j.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
