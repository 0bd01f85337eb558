// Package memory holds live job state in process memory. Jobs are ephemeral:
// nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwygoda/mediagrab/internal/domain"
)

// Store implements domain.JobStore with a map guarded by a mutex. Every
// mutation holds the write lock, so writes to one job never interleave.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	logSize int
	now     func() time.Time
}

// New creates an empty store whose jobs keep logSize diagnostic lines.
func New(logSize int) *Store {
	return &Store{
		jobs:    make(map[string]*domain.Job),
		logSize: logSize,
		now:     time.Now,
	}
}

// Create inserts a new queued job.
func (s *Store) Create(ctx context.Context, payload domain.Payload) (*domain.Job, error) {
	now := s.now()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.StatusQueued,
		Stage:     domain.StageQueued,
		Payload:   payload,
		Logs:      domain.NewLogRing(s.logSize),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job.Clone(), nil
}

// Get retrieves a copy of a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Update applies fn to a draft of the job and commits it if fn succeeds.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	draft := job.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.ID = job.ID
	draft.UpdatedAt = s.now()
	s.jobs[id] = draft
	return draft.Clone(), nil
}

// AppendLog appends line to the stored job's log ring in place. Readers only
// ever see clones, so the stored ring is never shared.
func (s *Store) AppendLog(ctx context.Context, id, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Logs.Append(line)
	job.UpdatedAt = s.now()
	return nil
}

// Delete removes a job. It is a no-op when the job does not exist.
func (s *Store) Delete(ctx context.Context, id string) (*domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	delete(s.jobs, id)
	return job, true
}

// List returns copies of all jobs, oldest first.
func (s *Store) List(ctx context.Context) []*domain.Job {
	s.mu.RLock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
