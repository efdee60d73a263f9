package jobstore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both 5-field and 6-field (with seconds) specs plus
// descriptors like @hourly.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron is a pure syntax check on a cron expression.
func ValidateCron(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("invalid cron expression: empty")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerAgentAsk:
		if strings.TrimSpace(t.Prompt) == "" {
			return fmt.Errorf("trigger agent_ask: prompt is required")
		}
	case TriggerToolCall:
		if strings.TrimSpace(t.Tool) == "" {
			return fmt.Errorf("trigger tool_call: tool is required")
		}
	case TriggerWebhook:
		u := strings.TrimSpace(t.URL)
		if u == "" {
			return fmt.Errorf("trigger webhook: url is required")
		}
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("trigger webhook: invalid url %q", t.URL)
		}
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

func (a Action) Validate() error {
	switch a.Type {
	case ActionMemoryUpdate:
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("action memory_update: key is required")
		}
	case ActionSendMessage:
		if strings.TrimSpace(a.Channel) == "" {
			return fmt.Errorf("action send_message: channel is required")
		}
	case ActionLogEvent:
		// Level defaults to info; prefix may be empty.
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// Validate checks the full definition: cron syntax, trigger and action
// schemas, retry bounds.
func (j *JobDefinition) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("job: id is required")
	}
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job %s: name is required", j.ID)
	}
	if err := ValidateCron(j.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	if err := j.Trigger.Validate(); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	for i, a := range j.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("job %s: action %d: %w", j.ID, i, err)
		}
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("job %s: max_retries must be >= 0", j.ID)
	}
	if j.TimeoutMS < 0 {
		return fmt.Errorf("job %s: timeout_ms must be >= 0", j.ID)
	}
	return nil
}
