package sched

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"agentcore/internal/eventbus"
	"agentcore/internal/jobexec"
	"agentcore/internal/jobstore"
	logx "agentcore/pkg/logx"
)

// cronParser mirrors the job store's validation parser: 5- or 6-field
// specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronExpression is a pure syntax check, reused by AddJob and
// exposed for external pre-validation.
func ValidateCronExpression(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("invalid cron expression: empty")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

type Scheduler struct {
	mu sync.Mutex

	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	defs *jobstore.Store
	exec JobRunner

	c       *cron.Cron
	runCtx  context.Context
	entries map[string]cron.EntryID
	retries map[string]*time.Timer

	// Per-job serialization of firings (including the backoff decision).
	runMuMu sync.Mutex
	runMu   map[string]*sync.Mutex

	subMu  sync.Mutex
	subSeq uint64
	subs   map[uint64]func(Event)
}

func New(cfg Config, defs *jobstore.Store, exec JobRunner, bus eventbus.Bus, log logx.Logger) *Scheduler {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		defs:    defs,
		exec:    exec,
		entries: map[string]cron.EntryID{},
		retries: map[string]*time.Timer{},
		runMu:   map[string]*sync.Mutex{},
		subs:    map[uint64]func(Event){},
	}
}

// Start arms a trigger for every enabled job. A second Start is a no-op
// with a logged warning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		s.log.Warn("scheduler already started")
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	jobs, err := s.defs.All()
	if err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}

	s.runCtx = ctx
	s.c = cron.New(cron.WithParser(cronParser))
	armed := 0
	for i := range jobs {
		if !jobs[i].Enabled {
			continue
		}
		if err := s.armLocked(jobs[i]); err != nil {
			s.log.Warn("failed to arm job trigger", logx.String("job", jobs[i].ID), logx.Err(err))
			continue
		}
		armed++
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("armed", armed), logx.Int("jobs", len(jobs)))
	s.emit(Event{Type: EventSchedulerStarted})
	return nil
}

// Stop disarms all triggers. Safe to call when already stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.runCtx = nil
	s.entries = map[string]cron.EntryID{}
	retries := s.retries
	s.retries = map[string]*time.Timer{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	for _, t := range retries {
		t.Stop()
	}
	s.log.Info("scheduler stopped")
	s.emit(Event{Type: EventSchedulerStopped})
}

func (s *Scheduler) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// AddJob validates the cron expression before anything is persisted, then
// stores the definition and arms a trigger if running.
func (s *Scheduler) AddJob(ctx context.Context, tpl jobstore.JobDefinition) (jobstore.JobDefinition, error) {
	if err := ValidateCronExpression(tpl.Schedule); err != nil {
		return jobstore.JobDefinition{}, err
	}
	job, err := s.defs.Add(ctx, tpl)
	if err != nil {
		return jobstore.JobDefinition{}, err
	}

	s.mu.Lock()
	if s.c != nil && job.Enabled {
		if err := s.armLocked(job); err != nil {
			s.log.Warn("failed to arm job trigger", logx.String("job", job.ID), logx.Err(err))
		}
	}
	s.mu.Unlock()

	s.log.Info("job added", logx.String("job", job.ID), logx.String("schedule", job.Schedule))
	s.emit(Event{Type: EventJobAdded, JobID: job.ID, Data: job})
	return job, nil
}

// RemoveJob disarms the trigger (if armed) and deletes the definition.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	s.disarmLocked(id)
	s.mu.Unlock()

	removed, err := s.defs.Remove(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		s.log.Info("job removed", logx.String("job", id))
		s.emit(Event{Type: EventJobRemoved, JobID: id})
	}
	return removed, nil
}

// ListJobs returns every definition with its next fire time when armed.
func (s *Scheduler) ListJobs() ([]JobInfo, error) {
	jobs, err := s.defs.All()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(jobs))
	for i := range jobs {
		info := JobInfo{JobDefinition: jobs[i]}
		if s.c != nil {
			if entryID, ok := s.entries[jobs[i].ID]; ok {
				info.NextRun = s.c.Entry(entryID).Next
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// ActiveJobCount reports how many triggers are currently armed.
func (s *Scheduler) ActiveJobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) armLocked(job jobstore.JobDefinition) error {
	id := job.ID
	entryID, err := s.c.AddFunc(job.Schedule, func() {
		s.fire(id, 0)
	})
	if err != nil {
		return err
	}
	s.entries[id] = entryID
	return nil
}

func (s *Scheduler) disarmLocked(id string) {
	if s.c != nil {
		if entryID, ok := s.entries[id]; ok {
			s.c.Remove(entryID)
		}
	}
	delete(s.entries, id)
	if t, ok := s.retries[id]; ok {
		t.Stop()
		delete(s.retries, id)
	}
}

func (s *Scheduler) jobMutex(id string) *sync.Mutex {
	s.runMuMu.Lock()
	defer s.runMuMu.Unlock()
	m := s.runMu[id]
	if m == nil {
		m = &sync.Mutex{}
		s.runMu[id] = m
	}
	return m
}

// fire runs one attempt for the job. retryCount is 0 for a natural cron
// firing and grows by one per armed retry.
func (s *Scheduler) fire(jobID string, retryCount int) {
	m := s.jobMutex(jobID)
	m.Lock()
	defer m.Unlock()

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		// Stopped between trigger and execution.
		return
	}

	job, ok, err := s.defs.Get(jobID)
	if err != nil || !ok || !job.Enabled {
		return
	}

	now := time.Now().UTC()
	attempted := retryCount + 1
	s.log.Debug("job run started", logx.String("job", jobID), logx.Int("attempt", attempted))
	s.emit(Event{Type: EventJobRunStarted, JobID: jobID, Data: map[string]any{"attempt": attempted}})

	res := s.exec.Execute(ctx, jobexec.Request{Job: job, TriggeredAt: now, RetryCount: retryCount})

	runRes := jobstore.RunResult{
		Success:    res.Success,
		Output:     res.Output,
		Error:      res.Error,
		DurationMS: res.Duration.Milliseconds(),
		Attempts:   attempted,
		At:         now,
	}
	if err := s.defs.UpdateRunResult(ctx, jobID, runRes); err != nil {
		s.log.Warn("failed to persist run result", logx.String("job", jobID), logx.Err(err))
	}

	if res.Success {
		s.log.Info("job run completed", logx.String("job", jobID), logx.Int("attempt", attempted), logx.Duration("dur", res.Duration))
		s.emit(Event{Type: EventJobRunCompleted, JobID: jobID, Data: runRes})
		return
	}

	s.log.Warn("job run failed", logx.String("job", jobID), logx.Int("attempt", attempted), logx.String("err", res.Error))
	s.emit(Event{Type: EventJobRunFailed, JobID: jobID, Data: runRes})

	// Retry within the same cycle while budget remains; otherwise the job
	// waits for its next natural cron boundary.
	if !job.RetryOnFailure || retryCount >= job.MaxRetries {
		return
	}
	delay := jobexec.CalculateBackoffDelay(retryCount, s.cfg.RetryBaseDelay)
	s.log.Info("arming job retry", logx.String("job", jobID), logx.Int("next_attempt", attempted+1), logx.Duration("delay", delay))

	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.retries[jobID]; ok {
		prev.Stop()
	}
	s.retries[jobID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retries, jobID)
		stopped := s.c == nil
		s.mu.Unlock()
		if stopped {
			return
		}
		s.fire(jobID, retryCount+1)
	})
	s.mu.Unlock()
}

// OnEvent registers a subscriber for scheduler lifecycle events. The
// returned function unsubscribes that subscriber only. Subscribers are
// invoked synchronously and must not block.
func (s *Scheduler) OnEvent(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Scheduler) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: eventbus.Topic(ev.Type), Time: ev.Time, Data: ev})
	}
}
