package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/mediagrab/internal/adapter/process"
	"github.com/cwygoda/mediagrab/internal/domain"
)

// scriptedRunner answers each call with the next scripted step.
type scriptedRunner struct {
	mu    sync.Mutex
	steps []func(cmd process.Command) (*process.Result, error)
	calls []process.Command
}

func (r *scriptedRunner) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	r.mu.Lock()
	n := len(r.calls)
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()
	if n >= len(r.steps) {
		return &process.Result{}, nil
	}
	return r.steps[n](cmd)
}

func fail(lastLine string) func(process.Command) (*process.Result, error) {
	return func(cmd process.Command) (*process.Result, error) {
		return &process.Result{Stderr: lastLine + "\n"}, &process.ExitError{Code: 1, LastLine: lastLine}
	}
}

func succeed(file string) func(process.Command) (*process.Result, error) {
	return func(cmd process.Command) (*process.Result, error) {
		if err := os.WriteFile(filepath.Join(cmd.Dir, file), []byte("media"), 0o644); err != nil {
			return nil, err
		}
		return &process.Result{}, nil
	}
}

type staticHints map[string][]string

func (h staticHints) ExtractorArgs(p string) []string { return h[p] }

func threeTierChain(t *testing.T, runner Runner, opts EngineOptions) *Chain {
	t.Helper()
	table := NewTable([]AttemptSpec{
		{Name: "strict", Media: "video", Platform: AnyPlatform, Args: []string{"-f", "strict"}},
		{Name: "relaxed", Media: "video", Platform: AnyPlatform, Args: []string{"-f", "relaxed"}},
		{Name: "anything", Media: "video", Platform: AnyPlatform, Args: []string{"-f", "b"}},
	})
	return NewChain(runner, table, defaultClassifier(t), staticHints{"youtube": {"--extractor-args", "youtube:x"}}, opts)
}

func videoRequest(t *testing.T) Request {
	return Request{
		Payload: domain.Payload{URL: "https://www.youtube.com/watch?v=abc", Platform: "youtube", Media: domain.MediaVideo},
		WorkDir: t.TempDir(),
	}
}

const formatUnavailable = "ERROR: [youtube] abc: Requested format is not available"

func TestChain_FallsThroughFormatUnavailable(t *testing.T) {
	runner := &scriptedRunner{steps: []func(process.Command) (*process.Result, error){
		fail(formatUnavailable),
		fail(formatUnavailable),
		succeed("clip.mp4"),
	}}
	chain := threeTierChain(t, runner, EngineOptions{AttemptTimeout: time.Minute})
	req := videoRequest(t)

	var seen []string
	req.OnAttempt = func(n int, a Attempt) { seen = append(seen, a.Name) }

	out, err := chain.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Attempt)
	assert.Equal(t, "anything", out.Name)
	assert.Equal(t, filepath.Join(req.WorkDir, "attempt-3"), out.Dir)
	assert.FileExists(t, filepath.Join(out.Dir, "clip.mp4"))
	assert.Equal(t, []string{"strict", "relaxed", "anything"}, seen)

	require.Len(t, runner.calls, 3)
	for i, call := range runner.calls {
		assert.Equal(t, filepath.Join(req.WorkDir, fmt.Sprintf("attempt-%d", i+1)), call.Dir, "each attempt gets its own directory")
		assert.Equal(t, "https://www.youtube.com/watch?v=abc", call.Args[len(call.Args)-1])
	}
}

func TestChain_NonRecoverableAborts(t *testing.T) {
	runner := &scriptedRunner{steps: []func(process.Command) (*process.Result, error){
		fail("ERROR: [youtube] abc: Sign in to confirm you're not a bot"),
		succeed("never.mp4"),
	}}
	chain := threeTierChain(t, runner, EngineOptions{})

	_, err := chain.Run(context.Background(), videoRequest(t))

	je := domain.AsJobError(err)
	assert.Equal(t, domain.FailureContentAccess, je.Kind)
	assert.NotContains(t, je.Message, "ERROR")
	assert.Len(t, runner.calls, 1, "remaining attempts must not run")
}

func TestChain_ExhaustionReturnsLastRecoverable(t *testing.T) {
	runner := &scriptedRunner{steps: []func(process.Command) (*process.Result, error){
		fail(formatUnavailable),
		fail(formatUnavailable),
		fail("ERROR: unable to download video data: HTTP Error 403: Forbidden"),
	}}
	chain := threeTierChain(t, runner, EngineOptions{})

	_, err := chain.Run(context.Background(), videoRequest(t))

	je := domain.AsJobError(err)
	assert.Equal(t, domain.FailureTransient, je.Kind)
	assert.Equal(t, "the platform blocked access to this media (HTTP 403)", je.Message)
	assert.Len(t, runner.calls, 3)
}

func TestChain_TimeoutIsRecoverable(t *testing.T) {
	runner := &scriptedRunner{steps: []func(process.Command) (*process.Result, error){
		func(cmd process.Command) (*process.Result, error) {
			return &process.Result{}, &process.TimeoutError{After: cmd.Timeout}
		},
		succeed("clip.mp4"),
	}}
	chain := threeTierChain(t, runner, EngineOptions{AttemptTimeout: 42 * time.Second})

	out, err := chain.Run(context.Background(), videoRequest(t))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempt)
	assert.Equal(t, 42*time.Second, runner.calls[0].Timeout)
}

func TestChain_AllTimeoutsReportTimeout(t *testing.T) {
	timeout := func(cmd process.Command) (*process.Result, error) {
		return &process.Result{}, &process.TimeoutError{After: cmd.Timeout}
	}
	runner := &scriptedRunner{steps: []func(process.Command) (*process.Result, error){timeout, timeout, timeout}}
	chain := threeTierChain(t, runner, EngineOptions{AttemptTimeout: time.Second})

	_, err := chain.Run(context.Background(), videoRequest(t))
	je := domain.AsJobError(err)
	assert.Equal(t, domain.FailureTimeout, je.Kind)
	assert.Equal(t, domain.MsgTimeout, je.Message)
}

func TestChain_JobDeadlineBoundsAttempts(t *testing.T) {
	runner := &scriptedRunner{steps: []func(process.Command) (*process.Result, error){
		func(cmd process.Command) (*process.Result, error) {
			time.Sleep(cmd.Timeout)
			return &process.Result{}, &process.TimeoutError{After: cmd.Timeout}
		},
		succeed("late.mp4"),
	}}
	chain := threeTierChain(t, runner, EngineOptions{AttemptTimeout: time.Hour})
	req := videoRequest(t)
	req.Deadline = time.Now().Add(150 * time.Millisecond)

	_, err := chain.Run(context.Background(), req)

	je := domain.AsJobError(err)
	assert.Equal(t, domain.FailureTimeout, je.Kind)
	require.Len(t, runner.calls, 1, "no attempt starts after the job deadline")
	assert.LessOrEqual(t, runner.calls[0].Timeout, 150*time.Millisecond)
}

func TestChain_SpawnFailureAborts(t *testing.T) {
	runner := &scriptedRunner{steps: []func(process.Command) (*process.Result, error){
		func(process.Command) (*process.Result, error) { return nil, process.ErrExecutableNotFound },
	}}
	chain := threeTierChain(t, runner, EngineOptions{})

	_, err := chain.Run(context.Background(), videoRequest(t))
	je := domain.AsJobError(err)
	assert.Equal(t, domain.FailureSpawn, je.Kind)
	assert.Equal(t, domain.MsgSpawn, je.Message)
	assert.Len(t, runner.calls, 1)
}

func TestChain_NoAttempts(t *testing.T) {
	chain := NewChain(&scriptedRunner{}, NewTable(nil), defaultClassifier(t), nil, EngineOptions{})
	_, err := chain.Run(context.Background(), videoRequest(t))
	assert.Equal(t, domain.FailureInternal, domain.AsJobError(err).Kind)
}

func TestChain_EngineArguments(t *testing.T) {
	runner := &scriptedRunner{}
	chain := threeTierChain(t, runner, EngineOptions{FFmpegLocation: "/opt/ffmpeg"})
	req := videoRequest(t)
	req.CookieFile = filepath.Join(req.WorkDir, ".credentials", "cookies.txt")

	_, err := chain.Run(context.Background(), req)
	require.NoError(t, err)

	args := runner.calls[0].Args
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--no-playlist")
	assert.Contains(t, joined, "--retries 10")
	assert.Contains(t, joined, "--extractor-args youtube:x")
	assert.Contains(t, joined, "--ffmpeg-location /opt/ffmpeg")
	assert.Contains(t, joined, "--cookies "+req.CookieFile)
	assert.Contains(t, joined, "User-Agent:"+DefaultUserAgent)

	o := slices.Index(args, "-o")
	require.GreaterOrEqual(t, o, 0)
	assert.Equal(t, filepath.Join(req.WorkDir, "attempt-1", "%(title).180B.%(ext)s"), args[o+1])
	assert.Equal(t, []string{"-f", "strict", req.Payload.URL}, args[len(args)-3:])
}

func TestChain_BrowserCookiesAndPlaylist(t *testing.T) {
	runner := &scriptedRunner{}
	chain := threeTierChain(t, runner, EngineOptions{})
	req := videoRequest(t)
	req.Payload.Playlist = true
	req.Payload.Credential = domain.Credential{Mode: domain.CredentialBrowser, Browser: "firefox"}

	_, err := chain.Run(context.Background(), req)
	require.NoError(t, err)

	joined := strings.Join(runner.calls[0].Args, " ")
	assert.Contains(t, joined, "--yes-playlist")
	assert.Contains(t, joined, "--cookies-from-browser firefox")
	assert.NotContains(t, joined, "--ffmpeg-location")
}

func TestChain_ProbeTitle(t *testing.T) {
	runner := &scriptedRunner{steps: []func(process.Command) (*process.Result, error){
		func(process.Command) (*process.Result, error) {
			return &process.Result{Stdout: "WARNING: noise\nMy Great Video\n"}, nil
		},
		fail("ERROR: boom"),
	}}
	chain := threeTierChain(t, runner, EngineOptions{ProbeTimeout: 5 * time.Second})
	req := videoRequest(t)

	assert.Equal(t, "My Great Video", chain.ProbeTitle(context.Background(), req))
	assert.Equal(t, 5*time.Second, runner.calls[0].Timeout)
	assert.Contains(t, runner.calls[0].Args, "--skip-download")

	assert.Empty(t, chain.ProbeTitle(context.Background(), req), "probe failures are not fatal")
}
