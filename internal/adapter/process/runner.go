// Package process supervises external tool invocations: executable
// resolution, incremental output capture, progress parsing and hard timeouts.
package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cwygoda/mediagrab/internal/logger"
)

// waitDelay bounds how long Wait keeps draining output after the process
// has been killed.
const waitDelay = 5 * time.Second

var progressPattern = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// ParseProgress extracts the percentage from an extraction engine progress line.
func ParseProgress(line string) (float64, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// ErrExecutableNotFound is returned when no candidate executable exists.
var ErrExecutableNotFound = errors.New("executable not found")

// TimeoutError reports that a process was killed after exceeding its budget.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timeout after %s", e.After)
}

// ExitError reports a non-zero exit. LastLine is the last non-empty output
// line, which usually carries the tool's own error message.
type ExitError struct {
	Code     int
	LastLine string
}

func (e *ExitError) Error() string {
	if e.LastLine == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.LastLine)
}

// SpawnError reports a failure to start an executable that does exist.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Command describes one invocation.
type Command struct {
	Args    []string
	Dir     string
	Timeout time.Duration
	// OnLine receives every complete, non-empty output line from both streams.
	OnLine func(line string)
	// OnProgress receives percentages parsed from progress lines.
	OnProgress func(pct float64)
}

// Result holds the captured output of a finished invocation.
type Result struct {
	Executable string
	Stdout     string
	Stderr     string
}

// Combined returns stderr followed by stdout.
func (r *Result) Combined() string {
	if r == nil {
		return ""
	}
	return r.Stderr + "\n" + r.Stdout
}

// Runner runs commands against the first available candidate executable.
type Runner struct {
	candidates []Candidate
	log        *slog.Logger
}

// NewRunner creates a runner trying candidates in order.
func NewRunner(candidates []Candidate) *Runner {
	return &Runner{
		candidates: candidates,
		log:        logger.Get("Runner"),
	}
}

// Candidates returns the configured candidate list.
func (r *Runner) Candidates() []Candidate {
	return r.candidates
}

// Run executes cmd. A candidate that does not exist is skipped; any other
// start failure is returned without trying further candidates.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Dir != "" {
		if info, err := os.Stat(cmd.Dir); err != nil || !info.IsDir() {
			return nil, &SpawnError{Path: cmd.Dir, Err: fmt.Errorf("working directory unavailable: %w", err)}
		}
	}

	for _, c := range r.candidates {
		res, err := r.run(ctx, c, cmd)
		if isNotFound(err) {
			r.log.Debug("candidate unavailable", "executable", c.String())
			continue
		}
		return res, err
	}
	return nil, ErrExecutableNotFound
}

func (r *Runner) run(ctx context.Context, c Candidate, cmd Command) (*Result, error) {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
	}
	defer cancel()

	args := make([]string, 0, len(c.Args)+len(cmd.Args))
	args = append(args, c.Args...)
	args = append(args, cmd.Args...)

	handle := func(line string) {
		if cmd.OnLine != nil {
			cmd.OnLine(line)
		}
		if cmd.OnProgress != nil {
			if pct, ok := ParseProgress(line); ok {
				cmd.OnProgress(pct)
			}
		}
	}
	stdout := newLineWriter(handle)
	stderr := newLineWriter(handle)

	ec := exec.CommandContext(runCtx, c.Path, args...)
	ec.Dir = cmd.Dir
	ec.Stdout = stdout
	ec.Stderr = stderr
	ec.WaitDelay = waitDelay
	configureProcessGroup(ec)

	if err := ec.Start(); err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, &SpawnError{Path: c.Path, Err: err}
	}

	r.log.Debug("process started", "executable", c.String(), "pid", ec.Process.Pid, "dir", cmd.Dir)
	err := ec.Wait()
	stdout.Flush()
	stderr.Flush()

	res := &Result{Executable: c.String(), Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, &TimeoutError{After: cmd.Timeout}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		last := stderr.LastLine()
		if last == "" {
			last = stdout.LastLine()
		}
		return res, &ExitError{Code: exitErr.ExitCode(), LastLine: last}
	}
	return res, err
}

func isNotFound(err error) bool {
	return err != nil && (errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist))
}

// LastLine returns the last non-empty line of s.
func LastLine(s string) string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
