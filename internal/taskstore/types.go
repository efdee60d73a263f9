package taskstore

import (
	"time"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether no further transitions are expected.
// Timeout is deliberately non-terminal: a timed-out task may still be
// retried or manually resolved.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the task is admitted or executing.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusRunning || s == StatusRetrying
}

// legalNext is the expected state machine. Transitions outside this table
// are logged but not rejected: several uncoordinated callers (executor,
// timeout monitor, manual intervention) may legitimately drive the same
// record, and availability wins over strict enforcement here.
var legalNext = map[Status][]Status{
	StatusPending:  {StatusQueued},
	StatusQueued:   {StatusRunning},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusRetrying, StatusTimeout},
	StatusRetrying: {StatusQueued},
	StatusTimeout:  {},
}

func transitionAllowed(from, to Status) bool {
	for _, s := range legalNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HistoryEntry is one element of a record's append-only state history.
type HistoryEntry struct {
	State  Status    `json:"state"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// RetryState is the record's retry snapshot.
type RetryState struct {
	Attempted   int        `json:"attempted"`
	MaxAttempts int        `json:"max_attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	BackoffMS   int64      `json:"backoff_ms,omitempty"`
}

// Deadline describes the record's wall-clock budget.
//
// WillExpireAt is derived as StartedAt + MaxDurationMS the first time the
// record transitions to running, and is never recomputed afterwards.
type Deadline struct {
	StartedAt     time.Time `json:"started_at,omitempty"`
	MaxDurationMS int64     `json:"max_duration_ms"`
	WillExpireAt  time.Time `json:"will_expire_at,omitempty"`
}

// Armed reports whether the deadline has been started.
func (d *Deadline) Armed() bool {
	return d != nil && !d.WillExpireAt.IsZero()
}

// Record is one durably tracked unit of agent work.
//
// ID is opaque, unique and immutable. History always ends with the
// current status.
type Record struct {
	ID           string         `json:"id"`
	ParentTaskID string         `json:"parent_task_id,omitempty"`
	Description  string         `json:"description"`
	Lane         string         `json:"lane"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	Status   Status `json:"status"`
	Phase    string `json:"phase,omitempty"`
	Progress any    `json:"progress,omitempty"`

	Retry    RetryState     `json:"retry"`
	Deadline *Deadline      `json:"deadline,omitempty"`
	History  []HistoryEntry `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// clone returns a deep-enough copy so cached records cannot be mutated by
// callers.
func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.History = append([]HistoryEntry(nil), r.History...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.Deadline != nil {
		d := *r.Deadline
		cp.Deadline = &d
	}
	return &cp
}

// CreateInput carries the caller-supplied fields for a new record.
type CreateInput struct {
	ParentTaskID string
	Description  string
	Lane         string
	Metadata     map[string]any

	MaxAttempts   int
	MaxDurationMS int64
}

// TaskEvent is the bus payload for task lifecycle events.
type TaskEvent struct {
	ID       string `json:"id"`
	Lane     string `json:"lane,omitempty"`
	Status   Status `json:"status,omitempty"`
	Previous Status `json:"previous,omitempty"`
	Phase    string `json:"phase,omitempty"`
	Progress any    `json:"progress,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
