package taskrun

import (
	"context"
	"time"

	"agentcore/internal/jobexec"
	"agentcore/internal/lanequeue"
	"agentcore/internal/taskstore"
	logx "agentcore/pkg/logx"
)

// Runner executes one attempt of a task. The result string is stored on
// the record when the attempt succeeds.
type Runner func(ctx context.Context) (result string, err error)

type Config struct {
	// RetryBaseDelay is the base of the retry backoff curve. Defaults to
	// one second.
	RetryBaseDelay time.Duration
}

// Harness submits units of agent work and keeps their records honest.
type Harness struct {
	cfg   Config
	store *taskstore.Store
	queue *lanequeue.Service
	log   logx.Logger
}

func New(cfg Config, store *taskstore.Store, queue *lanequeue.Service, log logx.Logger) *Harness {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Harness{cfg: cfg, store: store, queue: queue, log: log}
}

// Submit creates the record and admits it to its lane. The returned
// record is in "queued"; use Wait to block for the terminal outcome.
func (h *Harness) Submit(ctx context.Context, in taskstore.CreateInput, fn Runner) (*taskstore.Record, error) {
	rec, err := h.store.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	rec, err = h.store.UpdateStatus(ctx, rec.ID, taskstore.StatusQueued, "")
	if err != nil {
		return nil, err
	}
	if err := h.queue.Enqueue(ctx, rec.ID, rec.Lane, h.attempt(rec.ID, rec.Lane, fn)); err != nil {
		return nil, err
	}
	return rec, nil
}

// Wait blocks until the task settles (completed or failed), the timeout
// elapses or ctx is done. Retry cycles do not settle the wait.
func (h *Harness) Wait(ctx context.Context, taskID string, timeout time.Duration) error {
	return h.queue.WaitForCompletion(ctx, taskID, timeout)
}

// attempt wraps one execution of fn with the record's state transitions.
// On a retryable failure it re-enqueues itself after backoff and returns
// ErrRescheduled so the queue keeps the completion open.
func (h *Harness) attempt(taskID, laneName string, fn Runner) lanequeue.Runner {
	return func(ctx context.Context) error {
		if _, err := h.store.UpdateStatus(ctx, taskID, taskstore.StatusRunning, ""); err != nil {
			return err
		}

		out, runErr := fn(ctx)
		if runErr == nil {
			if _, err := h.store.Update(ctx, taskID, func(r *taskstore.Record) {
				r.Result = out
				r.Error = ""
			}); err != nil {
				h.log.Warn("failed to store task result", logx.String("task", taskID), logx.Err(err))
			}
			_, err := h.store.UpdateStatus(ctx, taskID, taskstore.StatusCompleted, "")
			return err
		}

		rec, err := h.store.Get(ctx, taskID)
		if err != nil {
			return runErr
		}

		if rec.Retry.Attempted >= rec.Retry.MaxAttempts {
			if _, err := h.store.Update(ctx, taskID, func(r *taskstore.Record) {
				r.Error = runErr.Error()
			}); err != nil {
				h.log.Warn("failed to store task error", logx.String("task", taskID), logx.Err(err))
			}
			_, _ = h.store.UpdateStatus(ctx, taskID, taskstore.StatusFailed, runErr.Error())
			return runErr
		}

		delay := jobexec.CalculateBackoffDelay(rec.Retry.Attempted, h.cfg.RetryBaseDelay)
		nextAt := time.Now().UTC().Add(delay)
		if _, err := h.store.Update(ctx, taskID, func(r *taskstore.Record) {
			r.Retry.Attempted++
			r.Retry.BackoffMS = delay.Milliseconds()
			r.Retry.NextRetryAt = &nextAt
			r.Error = runErr.Error()
		}); err != nil {
			h.log.Warn("failed to store retry state", logx.String("task", taskID), logx.Err(err))
		}
		_, _ = h.store.UpdateStatus(ctx, taskID, taskstore.StatusRetrying, runErr.Error())
		_, _ = h.store.UpdateStatus(ctx, taskID, taskstore.StatusQueued, "retry")

		h.log.Info("task retry armed",
			logx.String("task", taskID),
			logx.Int("attempt", rec.Retry.Attempted+1),
			logx.Duration("delay", delay))

		if err := h.queue.EnqueueWithDelay(ctx, taskID, laneName, h.attempt(taskID, laneName, fn), delay); err != nil {
			return err
		}
		return lanequeue.ErrRescheduled
	}
}
