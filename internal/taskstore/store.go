package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentcore/internal/eventbus"
	"agentcore/internal/storage"
	logx "agentcore/pkg/logx"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("taskstore: record not found")

const defaultCacheTTL = 5 * time.Second

type cacheEntry struct {
	rec      *Record
	revision int64
	expires  time.Time
}

// Store is the durable TaskRecord store.
//
// Mutations are serialized on a single mutex, so a record's history
// reflects the store's true processing order even when callers race.
type Store struct {
	st  storage.Store
	bus eventbus.Bus
	log logx.Logger
	ttl time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(st storage.Store, bus eventbus.Bus, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		st:    st,
		bus:   bus,
		log:   log,
		ttl:   defaultCacheTTL,
		cache: map[string]cacheEntry{},
	}
}

// SetCacheTTL overrides the read-cache TTL (mainly for tests).
func (s *Store) SetCacheTTL(ttl time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// Create persists a new record in "pending" and publishes a creation event.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		ID:           uuid.NewString(),
		ParentTaskID: in.ParentTaskID,
		Description:  in.Description,
		Lane:         in.Lane,
		Metadata:     in.Metadata,
		Status:       StatusPending,
		Retry:        RetryState{MaxAttempts: in.MaxAttempts},
		History:      []HistoryEntry{{State: StatusPending, At: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.MaxDurationMS > 0 {
		rec.Deadline = &Deadline{MaxDurationMS: in.MaxDurationMS}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(ctx, rec); err != nil {
		return nil, err
	}
	s.publish(eventbus.TopicTaskCreated, TaskEvent{ID: rec.ID, Lane: rec.Lane, Status: rec.Status})
	s.log.Debug("task created", logx.String("task", rec.ID), logx.String("lane", rec.Lane))
	return rec.clone(), nil
}

// Get returns the record by id.
//
// A cached copy is trusted only while the backing store's revision marker
// is unchanged; otherwise the record is re-read and re-cached.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.clone(), nil
}

func (s *Store) getLocked(ctx context.Context, id string) (*Record, error) {
	if e, ok := s.cache[id]; ok && time.Now().Before(e.expires) {
		rev, exists, err := s.st.TaskRevision(ctx, id)
		if err == nil && exists && rev == e.revision {
			return e.rec, nil
		}
	}

	data, rev, err := s.st.GetTask(ctx, id)
	if err != nil {
		delete(s.cache, id)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	s.cache[id] = cacheEntry{rec: &rec, revision: rev, expires: time.Now().Add(s.ttl)}
	return &rec, nil
}

// List returns all records, newest first.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.st.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(rows))
	for _, data := range rows {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn("skipping undecodable task record", logx.Err(err))
			continue
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ActiveTasks returns records whose status is queued, running or retrying.
func (s *Store) ActiveTasks(ctx context.Context) ([]*Record, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Status.Active() {
			out = append(out, r)
		}
	}
	return out, nil
}

// Update applies a caller mutation to the record and persists it.
//
// The mutate callback must not change ID, Status or History; status moves
// go through UpdateStatus so history and events stay consistent.
func (s *Store) Update(ctx context.Context, id string, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	up := rec.clone()
	mutate(up)
	up.ID = rec.ID
	up.CreatedAt = rec.CreatedAt
	up.Status = rec.Status
	up.History = rec.History

	if err := s.persistLocked(ctx, up); err != nil {
		return nil, err
	}
	return up.clone(), nil
}

// UpdateStatus moves the record to next, appends history and publishes a
// status event.
//
// An illegal transition is logged as a warning but not rejected: task
// state may be driven by several uncoordinated callers.
func (s *Store) UpdateStatus(ctx context.Context, id string, next Status, reason string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := rec.Status
	if !transitionAllowed(prev, next) {
		s.log.Warn("illegal task state transition",
			logx.String("task", id),
			logx.String("from", string(prev)),
			logx.String("to", string(next)),
			logx.String("reason", reason))
	}

	up := rec.clone()
	now := time.Now().UTC()
	up.Status = next
	up.History = append(up.History, HistoryEntry{State: next, At: now, Reason: reason})

	// Arm the deadline the first time the task starts running; the expiry
	// is fixed from that point on.
	if next == StatusRunning && up.Deadline != nil && !up.Deadline.Armed() {
		up.Deadline.StartedAt = now
		up.Deadline.WillExpireAt = now.Add(time.Duration(up.Deadline.MaxDurationMS) * time.Millisecond)
	}

	if err := s.persistLocked(ctx, up); err != nil {
		return nil, err
	}
	s.publish(eventbus.TopicTaskStatus, TaskEvent{ID: id, Lane: up.Lane, Status: next, Previous: prev, Reason: reason})
	return up.clone(), nil
}

// UpdatePhase sets the observability phase side-channel.
func (s *Store) UpdatePhase(ctx context.Context, id, phase string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	up := rec.clone()
	up.Phase = phase
	if err := s.persistLocked(ctx, up); err != nil {
		return nil, err
	}
	s.publish(eventbus.TopicTaskPhase, TaskEvent{ID: id, Lane: up.Lane, Phase: phase})
	return up.clone(), nil
}

// UpdateProgress sets the observability progress side-channel.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	up := rec.clone()
	up.Progress = progress
	if err := s.persistLocked(ctx, up); err != nil {
		return nil, err
	}
	s.publish(eventbus.TopicTaskProgress, TaskEvent{ID: id, Lane: up.Lane, Progress: progress})
	return up.clone(), nil
}

// Delete removes the record. Records are never auto-expired; this is the
// only way one goes away.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
	if err := s.st.DeleteTask(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return nil
}

// persistLocked bumps UpdatedAt (strictly increasing) and writes the
// record.
func (s *Store) persistLocked(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	if !now.After(rec.UpdatedAt) {
		now = rec.UpdatedAt.Add(time.Nanosecond)
	}
	rec.UpdatedAt = now
	return s.writeLocked(ctx, rec)
}

// writeLocked marshals, persists and re-caches the record as-is.
func (s *Store) writeLocked(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.st.PutTask(ctx, rec.ID, data); err != nil {
		return fmt.Errorf("persist task %s: %w", rec.ID, err)
	}
	rev, ok, err := s.st.TaskRevision(ctx, rec.ID)
	if err != nil || !ok {
		// Cache without revision validation; the TTL still bounds staleness.
		rev = -1
	}
	s.cache[rec.ID] = cacheEntry{rec: rec.clone(), revision: rev, expires: time.Now().Add(s.ttl)}
	return nil
}

func (s *Store) publish(topic eventbus.Topic, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Topic: topic, Data: ev})
}
