package jobexec

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"agentcore/internal/capability"
	"agentcore/internal/jobstore"
	logx "agentcore/pkg/logx"
)

const defaultTriggerTimeout = 2 * time.Minute

// Request is one scheduled attempt.
type Request struct {
	Job         jobstore.JobDefinition
	TriggeredAt time.Time
	RetryCount  int
}

// Result is the attempt's outcome. A failed trigger is reported here, not
// returned as an error: the scheduler decides whether to retry.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
}

// Deps are the consumed capabilities. Nil entries make the matching
// trigger/action fail with a "not configured" error instead of crashing.
type Deps struct {
	Agent  capability.AgentRunner
	Tools  capability.ToolRunner
	Sender capability.MessageSender
	Memory capability.MemoryUpdater

	// HTTPClient is used for webhook triggers; defaults to a plain client.
	HTTPClient *http.Client

	// DefaultTimeout bounds a trigger when the job sets none. Defaults to
	// two minutes.
	DefaultTimeout time.Duration
}

type Executor struct {
	deps Deps
	log  logx.Logger
}

func New(deps Deps, log logx.Logger) *Executor {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	if deps.DefaultTimeout <= 0 {
		deps.DefaultTimeout = defaultTriggerTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{deps: deps, log: log}
}

// Execute runs the job's trigger raced against its timeout, then the
// post-run actions on success.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	out, err := e.runTrigger(ctx, req)
	dur := time.Since(start)

	if err != nil {
		e.log.Warn("job trigger failed",
			logx.String("job", req.Job.ID),
			logx.Int("retry", req.RetryCount),
			logx.Duration("dur", dur),
			logx.Err(err))
		return Result{Success: false, Error: err.Error(), Duration: dur}
	}

	e.runActions(ctx, req.Job, out)

	e.log.Debug("job attempt completed",
		logx.String("job", req.Job.ID),
		logx.Int("retry", req.RetryCount),
		logx.Duration("dur", dur))
	return Result{Success: true, Output: out, Duration: dur}
}

type triggerOutcome struct {
	output string
	err    error
}

// runTrigger races the dispatch against the job timeout. The goroutine is
// allowed to finish on its own; a slow call is discarded, not killed.
func (e *Executor) runTrigger(ctx context.Context, req Request) (string, error) {
	timeout := req.Job.Timeout()
	if timeout <= 0 {
		timeout = e.deps.DefaultTimeout
	}

	ch := make(chan triggerOutcome, 1)
	go func() {
		out, err := e.dispatch(ctx, req)
		ch <- triggerOutcome{output: out, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case oc := <-ch:
		return oc.output, oc.err
	case <-timer.C:
		return "", fmt.Errorf("job %s timed out after %s", req.Job.ID, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SessionKey derives the agent session for a job reproducibly from its id.
func SessionKey(jobID string) string { return "job:" + jobID }

func (e *Executor) dispatch(ctx context.Context, req Request) (string, error) {
	job := req.Job
	switch job.Trigger.Type {
	case jobstore.TriggerAgentAsk:
		return e.runAgentAsk(ctx, req)
	case jobstore.TriggerToolCall:
		return e.runToolCall(ctx, job)
	case jobstore.TriggerWebhook:
		return e.runWebhook(ctx, job)
	default:
		// Definitions are validated at write time; this is a guard for
		// hand-edited snapshots.
		return "", fmt.Errorf("unknown trigger type %q", job.Trigger.Type)
	}
}

func (e *Executor) runAgentAsk(ctx context.Context, req Request) (string, error) {
	if e.deps.Agent == nil {
		return "", fmt.Errorf("agent capability not configured")
	}
	resp, err := e.deps.Agent.Execute(ctx, capability.AgentRequest{
		SessionKey: SessionKey(req.Job.ID),
		Query:      req.Job.Trigger.Prompt,
		CronContext: map[string]any{
			"job_id":       req.Job.ID,
			"job_name":     req.Job.Name,
			"triggered_at": req.TriggeredAt,
			"retry_count":  req.RetryCount,
		},
	})
	if err != nil {
		return "", fmt.Errorf("agent: %w", err)
	}
	return resp.Response, nil
}
