package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/mediagrab/internal/domain"
)

func TestStore_CreateAndGet(t *testing.T) {
	s := New(10)
	ctx := context.Background()

	job, err := s.Create(ctx, domain.Payload{URL: "https://vimeo.com/1", Media: domain.MediaVideo})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, domain.StageQueued, job.Stage)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "https://vimeo.com/1", got.Payload.URL)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_UniqueIDs(t *testing.T) {
	s := New(10)
	seen := make(map[string]bool)
	for range 100 {
		job, err := s.Create(context.Background(), domain.Payload{})
		require.NoError(t, err)
		require.False(t, seen[job.ID], "duplicate id %s", job.ID)
		seen[job.ID] = true
	}
	assert.Equal(t, 100, s.Len())
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New(10)
	ctx := context.Background()
	job, _ := s.Create(ctx, domain.Payload{})

	got, _ := s.Get(ctx, job.ID)
	got.Status = domain.StatusDone
	got.Logs.Append("leak")

	again, _ := s.Get(ctx, job.ID)
	assert.Equal(t, domain.StatusQueued, again.Status)
	assert.Zero(t, again.Logs.Len())
}

func TestStore_Update(t *testing.T) {
	s := New(10)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	job, _ := s.Create(ctx, domain.Payload{})

	clock = clock.Add(time.Minute)
	updated, err := s.Update(ctx, job.ID, func(j *domain.Job) error {
		return j.Transition(domain.StatusRunning)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, updated.Status)
	assert.Equal(t, clock, updated.UpdatedAt)

	clock = clock.Add(time.Minute)
	_, err = s.Update(ctx, job.ID, func(j *domain.Job) error {
		j.Progress = 50
		return errors.New("rejected")
	})
	assert.EqualError(t, err, "rejected")

	got, _ := s.Get(ctx, job.ID)
	assert.Zero(t, got.Progress, "failed update must not be applied")
	assert.Equal(t, updated.UpdatedAt, got.UpdatedAt, "failed update must not touch updated_at")

	_, err = s.Update(ctx, "missing", func(*domain.Job) error { return nil })
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_ConcurrentUpdatesSerialize(t *testing.T) {
	s := New(500)
	ctx := context.Background()
	job, _ := s.Create(ctx, domain.Payload{})
	_, err := s.Update(ctx, job.ID, func(j *domain.Job) error { return j.Transition(domain.StatusRunning) })
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, job.ID, func(j *domain.Job) error {
				j.Logs.Append("line")
				j.SetProgress(float64(i % 100))
				return nil
			})
		}()
	}
	// A terminal transition racing the progress writers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Update(ctx, job.ID, func(j *domain.Job) error { return j.Fail("timed out") })
	}()
	wg.Wait()

	got, _ := s.Get(ctx, job.ID)
	assert.Equal(t, 200, got.Logs.Len())
	assert.Equal(t, domain.StatusError, got.Status)
	assert.LessOrEqual(t, got.Progress, 99)
}

func TestStore_AppendLog(t *testing.T) {
	s := New(3)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	job, _ := s.Create(ctx, domain.Payload{})
	before, _ := s.Get(ctx, job.ID)

	clock = clock.Add(time.Minute)
	for _, line := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.AppendLog(ctx, job.ID, line))
	}

	got, _ := s.Get(ctx, job.ID)
	assert.Equal(t, []string{"b", "c", "d"}, got.Logs.Lines())
	assert.Equal(t, clock, got.UpdatedAt)
	assert.Zero(t, before.Logs.Len(), "earlier copies are not affected")

	assert.ErrorIs(t, s.AppendLog(ctx, "missing", "x"), domain.ErrJobNotFound)
}

func TestStore_AppendLogConcurrentWithUpdate(t *testing.T) {
	s := New(500)
	ctx := context.Background()
	job, _ := s.Create(ctx, domain.Payload{})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.AppendLog(ctx, job.ID, "line")
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, job.ID, func(j *domain.Job) error {
				j.Logs.Append("update")
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, job.ID)
	assert.Equal(t, 200, got.Logs.Len())
}

func TestStore_Delete(t *testing.T) {
	s := New(10)
	ctx := context.Background()
	job, _ := s.Create(ctx, domain.Payload{})

	removed, ok := s.Delete(ctx, job.ID)
	require.True(t, ok)
	assert.Equal(t, job.ID, removed.ID)

	_, ok = s.Delete(ctx, job.ID)
	assert.False(t, ok, "delete is idempotent")
	assert.Zero(t, s.Len())
}

func TestStore_ListOrdered(t *testing.T) {
	s := New(10)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	first, _ := s.Create(ctx, domain.Payload{})
	second, _ := s.Create(ctx, domain.Payload{})

	jobs := s.List(ctx)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}
