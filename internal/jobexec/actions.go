package jobexec

import (
	"context"
	"fmt"
	"strings"

	"agentcore/internal/capability"
	"agentcore/internal/jobstore"
	logx "agentcore/pkg/logx"
)

// runActions executes post-run actions in declared order. A failing
// action is logged and skipped; it never aborts later actions or flips
// the run verdict.
func (e *Executor) runActions(ctx context.Context, job jobstore.JobDefinition, output string) {
	for i, a := range job.Actions {
		if err := e.runAction(ctx, job, a, output); err != nil {
			e.log.Warn("job action failed",
				logx.String("job", job.ID),
				logx.Int("action", i),
				logx.String("type", string(a.Type)),
				logx.Err(err))
		}
	}
}

func (e *Executor) runAction(ctx context.Context, job jobstore.JobDefinition, a jobstore.Action, output string) error {
	switch a.Type {
	case jobstore.ActionMemoryUpdate:
		if e.deps.Memory == nil {
			return fmt.Errorf("memory capability not configured")
		}
		return e.deps.Memory.Update(ctx, capability.MemoryUpdate{
			Key:     a.Key,
			Content: output,
			Tags:    a.Tags,
		})
	case jobstore.ActionSendMessage:
		if e.deps.Sender == nil {
			return fmt.Errorf("message capability not configured")
		}
		return e.deps.Sender.Send(ctx, capability.Message{
			Channel:   a.Channel,
			Recipient: a.Recipient,
			Content:   output,
		})
	case jobstore.ActionLogEvent:
		msg := output
		if a.Prefix != "" {
			msg = a.Prefix + ": " + msg
		}
		const maxLogged = 500
		if len(msg) > maxLogged {
			msg = msg[:maxLogged] + "..."
		}
		switch strings.ToLower(strings.TrimSpace(a.Level)) {
		case "debug":
			e.log.Debug(msg, logx.String("job", job.ID))
		case "warn", "warning":
			e.log.Warn(msg, logx.String("job", job.ID))
		case "error":
			e.log.Error(msg, logx.String("job", job.ID))
		default:
			e.log.Info(msg, logx.String("job", job.ID))
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}
