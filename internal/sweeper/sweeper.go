// Package sweeper reclaims jobs nobody came back for.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwygoda/mediagrab/internal/domain"
	"github.com/cwygoda/mediagrab/internal/logger"
)

// Reclaimer deletes a job together with its working directory.
type Reclaimer interface {
	Reclaim(ctx context.Context, id string) (bool, error)
}

// Lister enumerates live jobs.
type Lister interface {
	List(ctx context.Context) []*domain.Job
}

// Sweeper periodically reclaims jobs idle for longer than the TTL,
// whatever their status.
type Sweeper struct {
	jobs      Lister
	reclaimer Reclaimer
	ttl       time.Duration
	interval  time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// New creates a sweeper.
func New(jobs Lister, reclaimer Reclaimer, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		jobs:      jobs,
		reclaimer: reclaimer,
		ttl:       ttl,
		interval:  interval,
		now:       time.Now,
		log:       logger.Get("Sweeper"),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("sweeper started", "ttl", s.ttl, "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper shutting down")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep reclaims expired jobs and returns how many it removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for _, job := range s.jobs.List(ctx) {
		if !job.UpdatedAt.Before(cutoff) {
			continue
		}
		ok, err := s.reclaimer.Reclaim(ctx, job.ID)
		if err != nil {
			s.log.Warn("reclaim failed", "job", job.ID, "error", err)
		}
		if ok {
			removed++
			s.log.Info("expired job reclaimed", "job", job.ID, "status", job.Status, "idle", s.now().Sub(job.UpdatedAt).Round(time.Second))
		}
	}
	return removed
}
