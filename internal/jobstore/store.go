package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentcore/internal/storage"
	logx "agentcore/pkg/logx"
)

var (
	// ErrNotLoaded is returned by accessors called before Load().
	ErrNotLoaded = errors.New("jobstore: not loaded")
	// ErrNotFound is returned for unknown job ids on read-modify ops.
	ErrNotFound = errors.New("jobstore: job not found")
)

// Store holds the authoritative job definition list.
type Store struct {
	st  storage.Store
	log logx.Logger

	mu     sync.Mutex
	loaded bool
	jobs   []JobDefinition
}

func New(st storage.Store, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{st: st, log: log}
}

// Load reads the persisted snapshot and validates every record. Invalid
// entries are dropped with a warning; the load itself never aborts over a
// bad record.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.st.ReadJobs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// First run: empty list.
			s.jobs = nil
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read job snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode job snapshot: %w", err)
	}

	kept := make([]JobDefinition, 0, len(snap.Jobs))
	for i := range snap.Jobs {
		j := snap.Jobs[i]
		if err := j.Validate(); err != nil {
			s.log.Warn("dropping invalid job definition", logx.String("job", j.ID), logx.Err(err))
			continue
		}
		kept = append(kept, j)
	}
	s.jobs = kept
	s.loaded = true
	s.log.Info("job definitions loaded", logx.Int("jobs", len(kept)), logx.Int("dropped", len(snap.Jobs)-len(kept)))
	return nil
}

// All returns copies of every definition.
func (s *Store) All() ([]JobDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil, ErrNotLoaded
	}
	out := make([]JobDefinition, 0, len(s.jobs))
	for i := range s.jobs {
		out = append(out, s.jobs[i].clone())
	}
	return out, nil
}

// Get returns the definition by id.
func (s *Store) Get(id string) (JobDefinition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return JobDefinition{}, false, ErrNotLoaded
	}
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return s.jobs[i].clone(), true, nil
		}
	}
	return JobDefinition{}, false, nil
}

// Add validates the template, assigns id/timestamps and persists the full
// list. On validation failure nothing is persisted.
func (s *Store) Add(ctx context.Context, tpl JobDefinition) (JobDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return JobDefinition{}, ErrNotLoaded
	}

	now := time.Now().UTC()
	job := tpl.clone()
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	job.LastRunAt = nil
	job.LastResult = nil

	if err := job.Validate(); err != nil {
		return JobDefinition{}, err
	}
	for i := range s.jobs {
		if s.jobs[i].ID == job.ID {
			return JobDefinition{}, fmt.Errorf("job %s already exists", job.ID)
		}
	}

	next := append(append([]JobDefinition(nil), s.jobs...), job)
	if err := s.persistLocked(ctx, next); err != nil {
		return JobDefinition{}, err
	}
	s.jobs = next
	return job.clone(), nil
}

// Update merges the caller's mutation onto the existing record and
// re-validates the merged result; a failed validation writes nothing.
// ID and CreatedAt are preserved, UpdatedAt is bumped.
func (s *Store) Update(ctx context.Context, id string, mutate func(*JobDefinition)) (JobDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return JobDefinition{}, ErrNotLoaded
	}

	idx := -1
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return JobDefinition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	merged := s.jobs[idx].clone()
	mutate(&merged)
	merged.ID = s.jobs[idx].ID
	merged.CreatedAt = s.jobs[idx].CreatedAt
	merged.UpdatedAt = time.Now().UTC()

	if err := merged.Validate(); err != nil {
		return JobDefinition{}, err
	}

	next := make([]JobDefinition, len(s.jobs))
	copy(next, s.jobs)
	next[idx] = merged
	if err := s.persistLocked(ctx, next); err != nil {
		return JobDefinition{}, err
	}
	s.jobs = next
	return merged.clone(), nil
}

// Remove deletes the definition and reports whether it existed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return false, ErrNotLoaded
	}

	next := make([]JobDefinition, 0, len(s.jobs))
	found := false
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			found = true
			continue
		}
		next = append(next, s.jobs[i])
	}
	if !found {
		return false, nil
	}
	if err := s.persistLocked(ctx, next); err != nil {
		return false, err
	}
	s.jobs = next
	return true, nil
}

// UpdateRunResult denormalizes the last run outcome onto the definition
// without re-validating the whole record.
func (s *Store) UpdateRunResult(ctx context.Context, id string, res RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		next := make([]JobDefinition, len(s.jobs))
		copy(next, s.jobs)
		job := next[i].clone()
		at := res.At
		if at.IsZero() {
			at = time.Now().UTC()
			res.At = at
		}
		job.LastRunAt = &at
		job.LastResult = &res
		job.UpdatedAt = time.Now().UTC()
		next[i] = job
		if err := s.persistLocked(ctx, next); err != nil {
			return err
		}
		s.jobs = next
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// persistLocked rewrites the complete snapshot. The storage layer makes
// the write atomic and serialized per path.
func (s *Store) persistLocked(ctx context.Context, jobs []JobDefinition) error {
	data, err := json.MarshalIndent(snapshot{Version: SnapshotVersion, Jobs: jobs}, "", "  ")
	if err != nil {
		return err
	}
	if err := s.st.WriteJobs(ctx, data); err != nil {
		return fmt.Errorf("persist job snapshot: %w", err)
	}
	return nil
}
