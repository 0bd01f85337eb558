package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cwygoda/mediagrab/internal/credential"
	"github.com/cwygoda/mediagrab/internal/domain"
	"github.com/cwygoda/mediagrab/internal/logger"
	"github.com/cwygoda/mediagrab/internal/resolver"
	"github.com/cwygoda/mediagrab/internal/strategy"
)

// Chain runs the fallback attempts for one job.
type Chain interface {
	Run(ctx context.Context, req strategy.Request) (*strategy.Outcome, error)
	ProbeTitle(ctx context.Context, req strategy.Request) string
}

// JobDirs creates and removes job working directories.
type JobDirs interface {
	CreateJobDir(id string) (string, error)
	Remove(path string) error
}

// ExecutorOptions configures job execution.
type ExecutorOptions struct {
	// JobTimeout bounds probe and attempts together. Zero disables it.
	JobTimeout time.Duration
	// ServerCookies is a cookie jar used when a job brings none.
	ServerCookies []byte
}

var errUnchanged = errors.New("unchanged")

// JobExecutor runs admitted jobs through the probe, the fallback chain and
// the resolver, then records the outcome.
type JobExecutor struct {
	store   domain.JobStore
	dirs    JobDirs
	chain   Chain
	history domain.HistoryRecorder
	opts    ExecutorOptions
	log     *slog.Logger
	now     func() time.Time
}

// NewExecutor creates an executor. history may be nil.
func NewExecutor(store domain.JobStore, dirs JobDirs, chain Chain, history domain.HistoryRecorder, opts ExecutorOptions) *JobExecutor {
	return &JobExecutor{
		store:   store,
		dirs:    dirs,
		chain:   chain,
		history: history,
		opts:    opts,
		log:     logger.Get("Executor"),
		now:     time.Now,
	}
}

// Execute drives a running job to done or error. A job deleted while it runs
// is abandoned and its directory removed.
func (e *JobExecutor) Execute(ctx context.Context, id string) {
	job, err := e.store.Get(ctx, id)
	if err != nil {
		e.log.Warn("job vanished before start", "job", id, "error", err)
		return
	}
	log := e.log.With("job", id)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dir, err := e.dirs.CreateJobDir(id)
	if err != nil {
		e.finish(ctx, log, id, "", nil, domain.NewJobError(domain.FailureInternal, domain.MsgInternal, err))
		return
	}
	if !e.update(ctx, id, cancel, func(j *domain.Job) error {
		j.WorkDir = dir
		j.Stage = domain.StagePreparing
		return nil
	}) {
		e.abandon(log, dir)
		return
	}

	cookieFile, err := credential.Install(dir, job.Payload.Credential, e.opts.ServerCookies)
	if err != nil {
		e.finish(ctx, log, id, dir, nil, domain.NewJobError(domain.FailureInternal, domain.MsgInternal, err))
		return
	}

	req := strategy.Request{
		Payload:    job.Payload,
		WorkDir:    dir,
		CookieFile: cookieFile,
		OnLine: func(line string) {
			if errors.Is(e.store.AppendLog(ctx, id, line), domain.ErrJobNotFound) {
				cancel()
			}
		},
		OnProgress: func(pct float64) {
			e.update(ctx, id, cancel, func(j *domain.Job) error {
				if !j.SetProgress(pct) {
					return errUnchanged
				}
				return nil
			})
		},
		OnAttempt: func(n int, a strategy.Attempt) {
			log.Info("starting attempt", "attempt", n, "name", a.Name)
			e.update(ctx, id, cancel, func(j *domain.Job) error {
				j.Attempt = n
				j.Stage = domain.StageDownloading
				return nil
			})
		},
	}
	if e.opts.JobTimeout > 0 {
		req.Deadline = e.now().Add(e.opts.JobTimeout)
	}

	title := e.chain.ProbeTitle(jobCtx, req)
	if !e.update(ctx, id, cancel, func(j *domain.Job) error {
		j.Title = title
		return nil
	}) {
		e.abandon(log, dir)
		return
	}
	log.Info("running fallback chain", "url", job.Payload.URL, "title", title)

	out, err := e.chain.Run(jobCtx, req)
	if jobCtx.Err() != nil && ctx.Err() == nil {
		e.abandon(log, dir)
		return
	}
	if err != nil {
		e.finish(ctx, log, id, dir, nil, domain.AsJobError(err))
		return
	}

	if !e.update(ctx, id, cancel, func(j *domain.Job) error {
		j.Stage = domain.StageFinalizing
		return nil
	}) {
		e.abandon(log, dir)
		return
	}

	artifact, err := resolver.Resolve(out.Dir, job.Payload.Media, title, job.Payload.Playlist)
	switch {
	case errors.Is(err, resolver.ErrNoArtifact):
		e.finish(ctx, log, id, dir, nil, domain.NewJobError(domain.FailureOutputMissing, domain.MsgNoArtifact,
			fmt.Errorf("attempt %d (%s): %w", out.Attempt, out.Name, err)))
		return
	case err != nil:
		e.finish(ctx, log, id, dir, nil, domain.NewJobError(domain.FailureInternal, domain.MsgInternal, err))
		return
	}
	e.finish(ctx, log, id, dir, artifact, nil)
}

// update applies fn and reports whether the job still exists. A missing job
// cancels the run.
func (e *JobExecutor) update(ctx context.Context, id string, cancel context.CancelFunc, fn func(*domain.Job) error) bool {
	_, err := e.store.Update(context.WithoutCancel(ctx), id, fn)
	if errors.Is(err, domain.ErrJobNotFound) {
		cancel()
		return false
	}
	return true
}

func (e *JobExecutor) abandon(log *slog.Logger, dir string) {
	log.Info("job removed while running, abandoning")
	if err := e.dirs.Remove(dir); err != nil {
		log.Warn("failed to remove abandoned job dir", "dir", dir, "error", err)
	}
}

func (e *JobExecutor) finish(ctx context.Context, log *slog.Logger, id, dir string, artifact *domain.Artifact, jerr *domain.JobError) {
	ctx = context.WithoutCancel(ctx)
	job, err := e.store.Update(ctx, id, func(j *domain.Job) error {
		if jerr != nil {
			return j.Fail(jerr.Message)
		}
		return j.Complete(*artifact)
	})
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			if dir != "" {
				e.abandon(log, dir)
			}
			return
		}
		log.Error("failed to record job result", "error", err)
		return
	}

	if jerr != nil {
		log.Warn("job failed", "kind", jerr.Kind, "message", jerr.Message, "cause", jerr.Err, "attempt", job.Attempt)
	} else {
		log.Info("job done", "file", artifact.Name, "size", humanize.Bytes(uint64(artifact.Size)), "attempt", job.Attempt)
	}
	e.record(ctx, log, job, jerr)
}

func (e *JobExecutor) record(ctx context.Context, log *slog.Logger, job *domain.Job, jerr *domain.JobError) {
	if e.history == nil {
		return
	}
	o := domain.Outcome{
		JobID:      job.ID,
		URL:        job.Payload.URL,
		Platform:   job.Payload.Platform,
		Media:      job.Payload.Media,
		Status:     job.Status,
		Error:      job.Error,
		Attempts:   job.Attempt,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.UpdatedAt,
	}
	if jerr != nil {
		o.Kind = jerr.Kind
	}
	if job.Artifact != nil {
		o.Filename = job.Artifact.Name
		o.Size = job.Artifact.Size
	}
	if err := e.history.Record(ctx, o); err != nil {
		log.Warn("failed to record history", "error", err)
	}
}

// RunNow executes a payload synchronously outside any scheduler and returns
// the terminal job.
func (e *JobExecutor) RunNow(ctx context.Context, payload domain.Payload) (*domain.Job, error) {
	job, err := e.store.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.Update(ctx, job.ID, func(j *domain.Job) error {
		return j.Transition(domain.StatusRunning)
	}); err != nil {
		return nil, err
	}
	e.Execute(ctx, job.ID)
	return e.store.Get(ctx, job.ID)
}
