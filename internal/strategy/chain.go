package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cwygoda/mediagrab/internal/adapter/process"
	"github.com/cwygoda/mediagrab/internal/domain"
	"github.com/cwygoda/mediagrab/internal/logger"
)

// Engine defaults sent with every invocation.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
)

// Runner executes one engine invocation.
type Runner interface {
	Run(ctx context.Context, cmd process.Command) (*process.Result, error)
}

// HintProvider supplies platform specific engine arguments.
type HintProvider interface {
	ExtractorArgs(platform string) []string
}

// EngineOptions configures how the extraction engine is invoked.
type EngineOptions struct {
	FFmpegLocation string
	AttemptTimeout time.Duration
	ProbeTimeout   time.Duration
	UserAgent      string
	AcceptLanguage string
}

// Request describes one job's run through the chain.
type Request struct {
	Payload domain.Payload
	WorkDir string
	// CookieFile is a cookie jar inside WorkDir, or "".
	CookieFile string
	// Deadline bounds the whole chain; zero means no job-level limit.
	Deadline   time.Time
	OnLine     func(line string)
	OnProgress func(pct float64)
	OnAttempt  func(n int, a Attempt)
}

// Outcome is a successful attempt. Dir holds only that attempt's output.
type Outcome struct {
	Dir     string
	Attempt int
	Name    string
}

// Chain runs attempts sequentially until one succeeds or a non-recoverable
// failure stops it.
type Chain struct {
	runner     Runner
	table      *Table
	classifier *Classifier
	hints      HintProvider
	opts       EngineOptions
	log        *slog.Logger
}

// NewChain creates a chain.
func NewChain(runner Runner, table *Table, classifier *Classifier, hints HintProvider, opts EngineOptions) *Chain {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = DefaultAcceptLanguage
	}
	return &Chain{
		runner:     runner,
		table:      table,
		classifier: classifier,
		hints:      hints,
		opts:       opts,
		log:        logger.Get("Strategy"),
	}
}

// NewChainFromPolicy builds the table and classifier from a policy.
func NewChainFromPolicy(runner Runner, policy *Policy, hints HintProvider, opts EngineOptions) (*Chain, error) {
	classifier, err := NewClassifier(policy.Rules)
	if err != nil {
		return nil, err
	}
	return NewChain(runner, NewTable(policy.Attempts), classifier, hints, opts), nil
}

// Run executes the fallback chain. On exhaustion the last recoverable error
// is returned.
func (c *Chain) Run(ctx context.Context, req Request) (*Outcome, error) {
	attempts := c.table.Attempts(req.Payload)
	if len(attempts) == 0 {
		return nil, domain.NewJobError(domain.FailureInternal, domain.MsgInternal,
			fmt.Errorf("no attempts for %s on %s", req.Payload.Media, req.Payload.Platform))
	}

	var last *domain.JobError
	for i, a := range attempts {
		n := i + 1
		timeout, ok := c.budget(c.opts.AttemptTimeout, req.Deadline)
		if !ok {
			return nil, domain.NewJobError(domain.FailureTimeout, domain.MsgTimeout,
				fmt.Errorf("job deadline reached before attempt %d", n))
		}

		dir := filepath.Join(req.WorkDir, fmt.Sprintf("attempt-%d", n))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.NewJobError(domain.FailureInternal, domain.MsgInternal, fmt.Errorf("create attempt dir: %w", err))
		}
		if req.OnAttempt != nil {
			req.OnAttempt(n, a)
		}

		args := append(c.baseArgs(req, dir), a.Args...)
		args = append(args, req.Payload.URL)
		res, err := c.runner.Run(ctx, process.Command{
			Args:       args,
			Dir:        dir,
			Timeout:    timeout,
			OnLine:     req.OnLine,
			OnProgress: req.OnProgress,
		})
		if err == nil {
			return &Outcome{Dir: dir, Attempt: n, Name: a.Name}, nil
		}
		if ctx.Err() != nil {
			return nil, domain.NewJobError(domain.FailureInternal, domain.MsgInternal, ctx.Err())
		}

		jerr := c.classify(err, res)
		if !jerr.Kind.Recoverable() {
			c.log.Warn("attempt failed, aborting chain", "attempt", n, "name", a.Name, "kind", jerr.Kind, "error", err)
			return nil, jerr
		}
		c.log.Info("attempt failed, trying next", "attempt", n, "name", a.Name, "kind", jerr.Kind, "error", err)
		last = jerr
	}
	return nil, last
}

// ProbeTitle asks the engine for the media title. Failures yield "".
func (c *Chain) ProbeTitle(ctx context.Context, req Request) string {
	timeout, ok := c.budget(c.opts.ProbeTimeout, req.Deadline)
	if !ok {
		return ""
	}
	args := append(c.baseArgs(req, req.WorkDir), "--skip-download", "--print", "%(title)s", req.Payload.URL)
	res, err := c.runner.Run(ctx, process.Command{Args: args, Dir: req.WorkDir, Timeout: timeout})
	if err != nil {
		c.log.Debug("title probe failed", "error", err)
		return ""
	}
	return process.LastLine(res.Stdout)
}

// budget returns the timeout for the next invocation given the job deadline,
// or false when the deadline has passed.
func (c *Chain) budget(limit time.Duration, deadline time.Time) (time.Duration, bool) {
	if deadline.IsZero() {
		return limit, true
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, false
	}
	if limit <= 0 || remaining < limit {
		return remaining, true
	}
	return limit, true
}

func (c *Chain) baseArgs(req Request, outDir string) []string {
	args := []string{
		"--newline",
		"--retries", "10",
		"--fragment-retries", "10",
		"--extractor-retries", "5",
		"--retry-sleep", "http:2",
		"--add-header", "User-Agent:" + c.opts.UserAgent,
		"--add-header", "Accept-Language:" + c.opts.AcceptLanguage,
	}

	template := "%(title).180B.%(ext)s"
	if req.Payload.Playlist {
		args = append(args, "--yes-playlist")
		template = "%(title).170B [%(id)s].%(ext)s"
	} else {
		args = append(args, "--no-playlist")
	}

	if c.hints != nil {
		args = append(args, c.hints.ExtractorArgs(req.Payload.Platform)...)
	}
	if c.opts.FFmpegLocation != "" {
		args = append(args, "--ffmpeg-location", c.opts.FFmpegLocation)
	}

	switch {
	case req.CookieFile != "":
		args = append(args, "--cookies", req.CookieFile)
	case req.Payload.Credential.Mode == domain.CredentialBrowser:
		args = append(args, "--cookies-from-browser", req.Payload.Credential.Browser)
	}

	return append(args, "-o", filepath.Join(outDir, template))
}

func (c *Chain) classify(err error, res *process.Result) *domain.JobError {
	var (
		timeoutErr *process.TimeoutError
		spawnErr   *process.SpawnError
		exitErr    *process.ExitError
	)
	switch {
	case errors.Is(err, process.ErrExecutableNotFound), errors.As(err, &spawnErr):
		return domain.NewJobError(domain.FailureSpawn, domain.MsgSpawn, err)
	case errors.As(err, &timeoutErr):
		return domain.NewJobError(domain.FailureTimeout, domain.MsgTimeout, err)
	}

	text := res.Combined()
	if errors.As(err, &exitErr) {
		text += "\n" + exitErr.LastLine
	}
	cl := c.classifier.Classify(text)
	return domain.NewJobError(cl.Kind, cl.Message, err)
}
