package sched

import (
	"context"
	"time"

	"agentcore/internal/jobexec"
	"agentcore/internal/jobstore"
)

// EventType enumerates scheduler lifecycle events.
type EventType string

const (
	EventSchedulerStarted EventType = "scheduler_started"
	EventSchedulerStopped EventType = "scheduler_stopped"
	EventJobAdded         EventType = "job_added"
	EventJobRemoved       EventType = "job_removed"
	EventJobRunStarted    EventType = "job_run_started"
	EventJobRunCompleted  EventType = "job_run_completed"
	EventJobRunFailed     EventType = "job_run_failed"
)

// Event is delivered to OnEvent subscribers and mirrored on the process
// event bus.
type Event struct {
	Type  EventType `json:"type"`
	Time  time.Time `json:"time"`
	JobID string    `json:"job_id,omitempty"`
	Data  any       `json:"data,omitempty"`
}

// JobRunner executes one job attempt. Satisfied by *jobexec.Executor.
type JobRunner interface {
	Execute(ctx context.Context, req jobexec.Request) jobexec.Result
}

// JobInfo is a read-only listing entry; NextRun is zero when the trigger
// is not armed.
type JobInfo struct {
	jobstore.JobDefinition
	NextRun time.Time `json:"next_run,omitempty"`
}

// Config tunes the scheduler.
type Config struct {
	// RetryBaseDelay is the base for the executor's backoff formula when
	// arming retry re-fires. Defaults to one second.
	RetryBaseDelay time.Duration
}
