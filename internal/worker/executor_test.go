package worker

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/mediagrab/internal/adapter/memory"
	"github.com/cwygoda/mediagrab/internal/adapter/process"
	"github.com/cwygoda/mediagrab/internal/domain"
	"github.com/cwygoda/mediagrab/internal/storage"
	"github.com/cwygoda/mediagrab/internal/strategy"
)

// fakeChain answers the probe with title and delegates Run to run.
type fakeChain struct {
	title string
	run   func(req strategy.Request) (*strategy.Outcome, error)

	mu   sync.Mutex
	reqs []strategy.Request
	ctx  context.Context
}

func (c *fakeChain) ProbeTitle(ctx context.Context, req strategy.Request) string {
	return c.title
}

func (c *fakeChain) Run(ctx context.Context, req strategy.Request) (*strategy.Outcome, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.ctx = ctx
	c.mu.Unlock()
	return c.run(req)
}

// memHistory records outcomes in memory.
type memHistory struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
}

func (h *memHistory) Record(ctx context.Context, o domain.Outcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, o)
	return nil
}

func (h *memHistory) Recent(ctx context.Context, limit int) ([]domain.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.outcomes), nil
}

// funcRunner adapts a function to strategy.Runner.
type funcRunner func(cmd process.Command) (*process.Result, error)

func (f funcRunner) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	return f(cmd)
}

func isProbe(cmd process.Command) bool {
	return slices.Contains(cmd.Args, "--skip-download")
}

type executorFixture struct {
	store   *memory.Store
	ws      *storage.Workspace
	history *memHistory
}

func newFixture(t *testing.T) *executorFixture {
	t.Helper()
	ws := storage.New(t.TempDir())
	require.NoError(t, ws.Init())
	return &executorFixture{store: memory.New(50), ws: ws, history: &memHistory{}}
}

func (f *executorFixture) executor(chain Chain, opts ExecutorOptions) *JobExecutor {
	return NewExecutor(f.store, f.ws, chain, f.history, opts)
}

func (f *executorFixture) running(t *testing.T, p domain.Payload) string {
	t.Helper()
	job, err := f.store.Create(context.Background(), p)
	require.NoError(t, err)
	_, err = f.store.Update(context.Background(), job.ID, func(j *domain.Job) error {
		return j.Transition(domain.StatusRunning)
	})
	require.NoError(t, err)
	return job.ID
}

func (f *executorFixture) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func writeOutput(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

func TestExecutor_Success(t *testing.T) {
	f := newFixture(t)
	chain := &fakeChain{title: "My Clip", run: func(req strategy.Request) (*strategy.Outcome, error) {
		dir := filepath.Join(req.WorkDir, "attempt-1")
		writeOutput(t, dir, "clip.webm", "clip.mp4", "clip.mp4.part")
		req.OnAttempt(1, strategy.Attempt{Name: "best"})
		req.OnLine("[download]  42.7% of 10.00MiB")
		req.OnProgress(42.7)
		return &strategy.Outcome{Dir: dir, Attempt: 1, Name: "best"}, nil
	}}
	id := f.running(t, payload())

	f.executor(chain, ExecutorOptions{}).Execute(context.Background(), id)

	job := f.job(t, id)
	assert.Equal(t, domain.StatusDone, job.Status)
	assert.Equal(t, domain.StageReady, job.Stage)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, "My Clip", job.Title)
	assert.Equal(t, f.ws.JobDir(id), job.WorkDir)
	require.NotNil(t, job.Artifact)
	assert.Equal(t, "My Clip.mp4", job.Artifact.Name)
	assert.Equal(t, filepath.Join(job.WorkDir, "attempt-1", "clip.mp4"), job.Artifact.Path)
	assert.Contains(t, job.Logs.Lines(), "[download]  42.7% of 10.00MiB")

	require.Len(t, f.history.outcomes, 1)
	o := f.history.outcomes[0]
	assert.Equal(t, domain.StatusDone, o.Status)
	assert.Equal(t, "My Clip.mp4", o.Filename)
	assert.EqualValues(t, len("clip.mp4"), o.Size)
	assert.Equal(t, 1, o.Attempts)
}

func TestExecutor_FallbackSelectsOnlySuccessfulAttempt(t *testing.T) {
	f := newFixture(t)
	policy, err := strategy.DefaultPolicy()
	require.NoError(t, err)

	var attempts int
	runner := funcRunner(func(cmd process.Command) (*process.Result, error) {
		if isProbe(cmd) {
			return &process.Result{Stdout: "Title\n"}, nil
		}
		attempts++
		if attempts < 3 {
			// A failed attempt may still leave files behind.
			writeOutput(t, cmd.Dir, "stale.mp4")
			line := "ERROR: [youtube] abc: Requested format is not available"
			return &process.Result{Stderr: line + "\n"}, &process.ExitError{Code: 1, LastLine: line}
		}
		writeOutput(t, cmd.Dir, "final.webm")
		return &process.Result{}, nil
	})
	chain, err := strategy.NewChainFromPolicy(runner, policy, nil, strategy.EngineOptions{AttemptTimeout: time.Minute})
	require.NoError(t, err)

	id := f.running(t, payload())
	f.executor(chain, ExecutorOptions{JobTimeout: time.Hour}).Execute(context.Background(), id)

	job := f.job(t, id)
	require.Equal(t, domain.StatusDone, job.Status, job.Error)
	assert.Equal(t, 3, job.Attempt)
	assert.Equal(t, filepath.Join(job.WorkDir, "attempt-3", "final.webm"), job.Artifact.Path)
	assert.Equal(t, "Title.webm", job.Artifact.Name)
}

func TestExecutor_Failures(t *testing.T) {
	tests := []struct {
		name    string
		runner  funcRunner
		kind    domain.FailureKind
		message string
	}{
		{
			name: "every attempt times out",
			runner: func(cmd process.Command) (*process.Result, error) {
				return &process.Result{}, &process.TimeoutError{After: cmd.Timeout}
			},
			kind:    domain.FailureTimeout,
			message: domain.MsgTimeout,
		},
		{
			name: "engine missing",
			runner: func(cmd process.Command) (*process.Result, error) {
				return nil, process.ErrExecutableNotFound
			},
			kind:    domain.FailureSpawn,
			message: domain.MsgSpawn,
		},
		{
			name: "success without output",
			runner: func(cmd process.Command) (*process.Result, error) {
				if !isProbe(cmd) {
					writeOutput(t, cmd.Dir, "clip.mp4.part", "clip.info.json")
				}
				return &process.Result{}, nil
			},
			kind:    domain.FailureOutputMissing,
			message: domain.MsgNoArtifact,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			policy, err := strategy.DefaultPolicy()
			require.NoError(t, err)
			chain, err := strategy.NewChainFromPolicy(tt.runner, policy, nil, strategy.EngineOptions{AttemptTimeout: time.Second})
			require.NoError(t, err)

			id := f.running(t, payload())
			f.executor(chain, ExecutorOptions{}).Execute(context.Background(), id)

			job := f.job(t, id)
			assert.Equal(t, domain.StatusError, job.Status)
			assert.Equal(t, domain.StageFailed, job.Stage)
			assert.Equal(t, tt.message, job.Error)
			assert.Nil(t, job.Artifact)

			require.Len(t, f.history.outcomes, 1)
			assert.Equal(t, tt.kind, f.history.outcomes[0].Kind)
			assert.Equal(t, domain.StatusError, f.history.outcomes[0].Status)
		})
	}
}

func TestExecutor_ContentAccessMessageIsNormalized(t *testing.T) {
	f := newFixture(t)
	chain := &fakeChain{run: func(req strategy.Request) (*strategy.Outcome, error) {
		return nil, domain.NewJobError(domain.FailureContentAccess, "this video is private", assert.AnError)
	}}
	id := f.running(t, payload())

	f.executor(chain, ExecutorOptions{}).Execute(context.Background(), id)

	job := f.job(t, id)
	assert.Equal(t, domain.StatusError, job.Status)
	assert.Equal(t, "this video is private", job.Error)
	assert.NotContains(t, job.Error, assert.AnError.Error())
}

func TestExecutor_JobRemovedWhileRunning(t *testing.T) {
	f := newFixture(t)
	var id string
	chain := &fakeChain{run: func(req strategy.Request) (*strategy.Outcome, error) {
		dir := filepath.Join(req.WorkDir, "attempt-1")
		writeOutput(t, dir, "clip.mp4")
		f.store.Delete(context.Background(), id)
		return &strategy.Outcome{Dir: dir, Attempt: 1}, nil
	}}
	id = f.running(t, payload())

	f.executor(chain, ExecutorOptions{}).Execute(context.Background(), id)

	assert.NoDirExists(t, f.ws.JobDir(id))
	assert.Empty(t, f.history.outcomes)
}

func TestExecutor_JobRemovedCancelsRun(t *testing.T) {
	f := newFixture(t)
	var id string
	chain := &fakeChain{run: func(req strategy.Request) (*strategy.Outcome, error) {
		f.store.Delete(context.Background(), id)
		req.OnProgress(10)
		return nil, domain.NewJobError(domain.FailureInternal, domain.MsgInternal, context.Canceled)
	}}
	id = f.running(t, payload())

	f.executor(chain, ExecutorOptions{}).Execute(context.Background(), id)

	assert.NoDirExists(t, f.ws.JobDir(id))
	assert.Empty(t, f.history.outcomes)
}

func TestExecutor_LogLineForRemovedJobCancelsRun(t *testing.T) {
	f := newFixture(t)
	var id string
	var runErr error
	chain := &fakeChain{}
	chain.run = func(req strategy.Request) (*strategy.Outcome, error) {
		req.OnLine("[youtube] abc: Downloading webpage")
		chain.mu.Lock()
		ctx := chain.ctx
		chain.mu.Unlock()
		require.NoError(t, ctx.Err())

		f.store.Delete(context.Background(), id)
		req.OnLine("[download]  10.0% of 1MiB")
		runErr = ctx.Err()
		return nil, domain.NewJobError(domain.FailureInternal, domain.MsgInternal, context.Canceled)
	}
	id = f.running(t, payload())

	f.executor(chain, ExecutorOptions{}).Execute(context.Background(), id)

	assert.ErrorIs(t, runErr, context.Canceled)
	assert.NoDirExists(t, f.ws.JobDir(id))
	assert.Empty(t, f.history.outcomes)
}

func TestExecutor_InstallsUploadedCookies(t *testing.T) {
	f := newFixture(t)
	upload := filepath.Join(f.ws.UploadsDir(), "upload.txt")
	require.NoError(t, os.WriteFile(upload, []byte(".example.com\tTRUE\t/\tFALSE\t0\tk\tv\n"), 0o600))

	var cookieExisted bool
	chain := &fakeChain{run: func(req strategy.Request) (*strategy.Outcome, error) {
		_, err := os.Stat(req.CookieFile)
		cookieExisted = err == nil
		dir := filepath.Join(req.WorkDir, "attempt-1")
		writeOutput(t, dir, "clip.mp4")
		return &strategy.Outcome{Dir: dir, Attempt: 1}, nil
	}}

	p := payload()
	p.Credential = domain.Credential{Mode: domain.CredentialCookieFile, CookiePath: upload}
	id := f.running(t, p)

	f.executor(chain, ExecutorOptions{JobTimeout: time.Minute}).Execute(context.Background(), id)

	require.Len(t, chain.reqs, 1)
	req := chain.reqs[0]
	assert.Equal(t, filepath.Join(f.ws.JobDir(id), ".credentials", "cookies.txt"), req.CookieFile)
	assert.True(t, cookieExisted)
	assert.NoFileExists(t, upload)
	assert.False(t, req.Deadline.IsZero(), "job timeout sets a deadline")
	assert.Equal(t, domain.StatusDone, f.job(t, id).Status)
}

func TestExecutor_RunNow(t *testing.T) {
	f := newFixture(t)
	chain := &fakeChain{title: "Song", run: func(req strategy.Request) (*strategy.Outcome, error) {
		dir := filepath.Join(req.WorkDir, "attempt-1")
		writeOutput(t, dir, "song.mp3")
		return &strategy.Outcome{Dir: dir, Attempt: 1}, nil
	}}

	p := payload()
	p.Media = domain.MediaAudio
	job, err := f.executor(chain, ExecutorOptions{}).RunNow(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, job.Status)
	assert.Equal(t, "Song.mp3", job.Artifact.Name)
}
