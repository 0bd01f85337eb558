package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cwygoda/mediagrab/internal/domain"
	"github.com/cwygoda/mediagrab/internal/logger"
)

// Executor drives one admitted job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, id string)
}

// Options bounds the scheduler.
type Options struct {
	// MaxConcurrency is the number of jobs running at once.
	MaxConcurrency int
	// MaxQueue caps waiting plus running jobs. Submissions beyond it are
	// rejected.
	MaxQueue int
}

// Stats is a snapshot of the scheduler's occupancy.
type Stats struct {
	Waiting        int `json:"waiting"`
	Active         int `json:"active"`
	MaxConcurrency int `json:"max_concurrency"`
	MaxQueue       int `json:"max_queue"`
}

// Scheduler admits jobs in FIFO order, never running more than
// MaxConcurrency at once. Admission is event driven: enqueueing a job or
// finishing one signals the dispatch loop.
type Scheduler struct {
	store domain.JobStore
	exec  Executor
	opts  Options
	log   *slog.Logger

	mu      sync.Mutex
	waiting []string
	active  int

	queueChange chan struct{}
	wg          sync.WaitGroup
}

// New creates a scheduler. Limits below one are raised to one.
func New(store domain.JobStore, exec Executor, opts Options) *Scheduler {
	opts.MaxConcurrency = max(1, opts.MaxConcurrency)
	opts.MaxQueue = max(1, opts.MaxQueue)
	return &Scheduler{
		store:       store,
		exec:        exec,
		opts:        opts,
		log:         logger.Get("Scheduler"),
		queueChange: make(chan struct{}, 1),
	}
}

// Enqueue creates a job and queues it. When waiting plus running jobs have
// reached MaxQueue it returns domain.ErrQueueFull and creates nothing.
func (s *Scheduler) Enqueue(ctx context.Context, payload domain.Payload) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(ctx)
	if len(s.waiting)+s.active >= s.opts.MaxQueue {
		return nil, domain.ErrQueueFull
	}
	job, err := s.store.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	s.waiting = append(s.waiting, job.ID)
	s.log.Info("job queued", "job", job.ID, "platform", payload.Platform, "media", payload.Media, "position", len(s.waiting))

	s.notify()
	return job, nil
}

// Run is the dispatch loop. It returns once ctx is cancelled and every
// in-flight job has finished.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "max_concurrency", s.opts.MaxConcurrency, "max_queue", s.opts.MaxQueue)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping, waiting for running jobs")
			s.wg.Wait()
			return
		case <-s.queueChange:
			s.admit(ctx)
		}
	}
}

// Stats returns current occupancy.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(context.Background())
	return Stats{
		Waiting:        len(s.waiting),
		Active:         s.active,
		MaxConcurrency: s.opts.MaxConcurrency,
		MaxQueue:       s.opts.MaxQueue,
	}
}

func (s *Scheduler) admit(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.active < s.opts.MaxConcurrency && len(s.waiting) > 0 {
		id := s.waiting[0]
		s.waiting = s.waiting[1:]

		_, err := s.store.Update(ctx, id, func(j *domain.Job) error {
			if err := j.Transition(domain.StatusRunning); err != nil {
				return err
			}
			j.Stage = domain.StageStarting
			return nil
		})
		if err != nil {
			// Swept while waiting.
			s.log.Debug("skipping job", "job", id, "error", err)
			continue
		}

		s.active++
		s.wg.Add(1)
		go s.execute(ctx, id)
	}
}

// pruneLocked drops waiting ids whose jobs were deleted from the store.
// Callers hold s.mu.
func (s *Scheduler) pruneLocked(ctx context.Context) {
	kept := s.waiting[:0]
	for _, id := range s.waiting {
		if _, err := s.store.Get(ctx, id); errors.Is(err, domain.ErrJobNotFound) {
			s.log.Debug("dropping deleted job from queue", "job", id)
			continue
		}
		kept = append(kept, id)
	}
	s.waiting = kept
}

func (s *Scheduler) execute(ctx context.Context, id string) {
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		s.wg.Done()
		s.notify()
	}()
	s.exec.Execute(ctx, id)
}

func (s *Scheduler) notify() {
	select {
	case s.queueChange <- struct{}{}:
	default:
	}
}
