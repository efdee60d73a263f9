package lanequeue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "agentcore/pkg/logx"
)

var (
	// ErrWaitTimeout is returned by WaitForCompletion when the caller's
	// timeout elapses before the runner settles.
	ErrWaitTimeout = errors.New("lanequeue: wait timed out")

	// ErrRescheduled may be returned by a Runner that re-enqueued its task
	// (typically with a backoff delay) before returning. The lane slot is
	// released but the completion stays open for the follow-up attempt.
	ErrRescheduled = errors.New("lanequeue: rescheduled")
)

// Runner executes one unit of work. Its error (or nil) settles any
// completion waiters for the task id.
type Runner func(ctx context.Context) error

// Config controls lane admission.
type Config struct {
	// DefaultCeiling applies to lanes without an explicit entry.
	DefaultCeiling int
	// Ceilings maps lane name to its admission ceiling.
	Ceilings map[string]int
	// WarnDepth triggers rate-limited saturation warnings once a lane's
	// pending queue grows past it. 0 disables the warning.
	WarnDepth int
	// CompletionRetention is how long a settled completion stays around
	// for late waiters before it is evicted. Defaults to one minute.
	CompletionRetention time.Duration
}

type queued struct {
	id     string
	ctx    context.Context
	runner Runner
}

// lane = ceiling + active counter + FIFO list. Admission is re-evaluated
// on every enqueue and every completion.
type lane struct {
	name    string
	ceiling int
	active  int
	fifo    []queued
}

// completion is the shared future for one task id. It stays settled for
// the retention window so waiters arriving shortly after the runner
// finished resolve immediately.
type completion struct {
	done chan struct{}
	err  error
}

type Service struct {
	mu          sync.Mutex
	cfg         Config
	log         logx.Logger
	lanes       map[string]*lane
	completions map[string]*completion

	warnLimit *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.DefaultCeiling <= 0 {
		cfg.DefaultCeiling = 2
	}
	if cfg.CompletionRetention <= 0 {
		cfg.CompletionRetention = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		lanes:       map[string]*lane{},
		completions: map[string]*completion{},
		warnLimit:   rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// normalizeLane maps the empty lane name to "default" so every lookup
// path resolves the same lane.
func normalizeLane(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "default"
	}
	return name
}

func (s *Service) laneLocked(name string) *lane {
	name = normalizeLane(name)
	l := s.lanes[name]
	if l == nil {
		ceiling := s.cfg.Ceilings[name]
		if ceiling <= 0 {
			ceiling = s.cfg.DefaultCeiling
		}
		l = &lane{name: name, ceiling: ceiling}
		s.lanes[name] = l
	}
	return l
}

func (s *Service) completionLocked(id string) *completion {
	c := s.completions[id]
	if c == nil {
		c = &completion{done: make(chan struct{})}
		s.completions[id] = c
	}
	return c
}

// Enqueue appends the task to its lane's FIFO and dispatches immediately
// when the lane has headroom.
func (s *Service) Enqueue(ctx context.Context, taskID, laneName string, runner Runner) error {
	if runner == nil {
		return errors.New("lanequeue: runner is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.laneLocked(laneName)
	s.completionLocked(taskID)
	l.fifo = append(l.fifo, queued{id: taskID, ctx: ctx, runner: runner})

	if s.cfg.WarnDepth > 0 && len(l.fifo) > s.cfg.WarnDepth && s.warnLimit.Allow() {
		s.log.Warn("lane saturated; queue growing",
			logx.String("lane", l.name),
			logx.Int("depth", len(l.fifo)),
			logx.Int("ceiling", l.ceiling))
	}

	s.dispatchLocked(l)
	return nil
}

// EnqueueWithDelay defers admission by delay. Waiters can attach to the
// completion immediately.
func (s *Service) EnqueueWithDelay(ctx context.Context, taskID, laneName string, runner Runner, delay time.Duration) error {
	if runner == nil {
		return errors.New("lanequeue: runner is nil")
	}
	if delay <= 0 {
		return s.Enqueue(ctx, taskID, laneName, runner)
	}

	s.mu.Lock()
	s.completionLocked(taskID)
	s.mu.Unlock()

	time.AfterFunc(delay, func() {
		_ = s.Enqueue(ctx, taskID, laneName, runner)
	})
	return nil
}

// dispatchLocked pops queue heads while the lane has headroom. Strict
// FIFO within the lane; active never exceeds the ceiling.
func (s *Service) dispatchLocked(l *lane) {
	for l.active < l.ceiling && len(l.fifo) > 0 {
		head := l.fifo[0]
		l.fifo = l.fifo[1:]
		l.active++
		go s.run(l, head)
	}
}

func (s *Service) run(l *lane, q queued) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("runner panic: %v", r)
				s.log.Error("panic in lane runner",
					logx.String("task", q.id),
					logx.String("lane", l.name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		err = q.runner(q.ctx)
	}()

	if errors.Is(err, ErrRescheduled) {
		s.mu.Lock()
		l.active--
		s.dispatchLocked(l)
		s.mu.Unlock()
		return
	}

	if err != nil {
		// A runner's failure settles its waiters; it never halts the
		// dispatcher or sibling runners.
		s.log.Warn("lane runner failed", logx.String("task", q.id), logx.String("lane", l.name), logx.Err(err))
	}

	s.mu.Lock()
	l.active--
	c := s.completionLocked(q.id)
	select {
	case <-c.done:
		// Already settled (duplicate enqueue of the same id); keep the
		// first result.
	default:
		c.err = err
		close(c.done)
		s.scheduleEvictionLocked(q.id, c)
	}
	s.dispatchLocked(l)
	s.mu.Unlock()
}

// scheduleEvictionLocked drops a settled completion after the retention
// window so ids that are never waited on (or never Forget-ed) do not
// accumulate for the process lifetime. Waiters attached before the
// window closes hold the channel directly and are unaffected.
func (s *Service) scheduleEvictionLocked(id string, c *completion) {
	time.AfterFunc(s.cfg.CompletionRetention, func() {
		s.mu.Lock()
		if s.completions[id] == c {
			delete(s.completions, id)
		}
		s.mu.Unlock()
	})
}

// WaitForCompletion blocks until the runner for taskID settles, the
// timeout elapses, or ctx is done.
//
// All callers share one completion per id. A timeout rejects only this
// caller; a later settle of the runner no longer affects it.
func (s *Service) WaitForCompletion(ctx context.Context, taskID string, timeout time.Duration) error {
	s.mu.Lock()
	c := s.completionLocked(taskID)
	s.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-c.done:
		return c.err
	case <-timer:
		return fmt.Errorf("%w: task %s after %s", ErrWaitTimeout, taskID, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of pending (not yet admitted) tasks in
// the lane.
func (s *Service) QueueDepth(laneName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lanes[normalizeLane(laneName)]
	if l == nil {
		return 0
	}
	return len(l.fifo)
}

// ActiveCount returns the number of currently running tasks in the lane.
func (s *Service) ActiveCount(laneName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lanes[normalizeLane(laneName)]
	if l == nil {
		return 0
	}
	return l.active
}

// Forget drops completion state for a task id. Meant for callers that
// delete task records and do not expect further waiters.
func (s *Service) Forget(taskID string) {
	s.mu.Lock()
	delete(s.completions, taskID)
	s.mu.Unlock()
}
