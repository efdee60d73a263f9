package jobstore

import "time"

// SnapshotVersion is bumped on incompatible snapshot schema changes.
const SnapshotVersion = 1

type snapshot struct {
	Version int             `json:"version"`
	Jobs    []JobDefinition `json:"jobs"`
}

// TriggerType is the closed set of operations a job can perform when it
// fires.
type TriggerType string

const (
	TriggerAgentAsk TriggerType = "agent_ask"
	TriggerToolCall TriggerType = "tool_call"
	TriggerWebhook  TriggerType = "webhook"
)

// Trigger is a string-tagged union; only the fields for its Type are
// meaningful. Validate enforces the closed set and per-type requirements.
type Trigger struct {
	Type TriggerType `json:"type"`

	// agent_ask
	Prompt string `json:"prompt,omitempty"`

	// tool_call
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`

	// webhook
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ActionType is the closed set of post-run actions.
type ActionType string

const (
	ActionMemoryUpdate ActionType = "memory_update"
	ActionSendMessage  ActionType = "send_message"
	ActionLogEvent     ActionType = "log_event"
)

// Action is a string-tagged union like Trigger.
type Action struct {
	Type ActionType `json:"type"`

	// memory_update
	Key  string   `json:"key,omitempty"`
	Tags []string `json:"tags,omitempty"`

	// send_message
	Channel   string `json:"channel,omitempty"`
	Recipient string `json:"recipient,omitempty"`

	// log_event
	Level  string `json:"level,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// RunResult is the denormalized outcome of the most recent run, kept on
// the definition for fast status display.
type RunResult struct {
	Success    bool      `json:"success"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Attempts   int       `json:"attempts"`
	At         time.Time `json:"at"`
}

// JobDefinition is a durable, cron-scheduled definition of recurring work.
type JobDefinition struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	Schedule string   `json:"schedule"`
	Trigger  Trigger  `json:"trigger"`
	Actions  []Action `json:"actions,omitempty"`

	RetryOnFailure bool  `json:"retry_on_failure"`
	MaxRetries     int   `json:"max_retries"`
	TimeoutMS      int64 `json:"timeout_ms"`

	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastResult *RunResult `json:"last_result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *JobDefinition) clone() JobDefinition {
	cp := *j
	cp.Actions = append([]Action(nil), j.Actions...)
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		cp.LastRunAt = &t
	}
	if j.LastResult != nil {
		r := *j.LastResult
		cp.LastResult = &r
	}
	if j.Trigger.Args != nil {
		cp.Trigger.Args = make(map[string]any, len(j.Trigger.Args))
		for k, v := range j.Trigger.Args {
			cp.Trigger.Args[k] = v
		}
	}
	if j.Trigger.Headers != nil {
		cp.Trigger.Headers = make(map[string]string, len(j.Trigger.Headers))
		for k, v := range j.Trigger.Headers {
			cp.Trigger.Headers[k] = v
		}
	}
	return cp
}

// Timeout returns the per-attempt wall-clock budget.
func (j *JobDefinition) Timeout() time.Duration {
	return time.Duration(j.TimeoutMS) * time.Millisecond
}
