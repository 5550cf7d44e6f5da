package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrExecutionTimeout marks results whose command was killed at the wall
// bound. Exposed so callers can test for it with errors.Is on Err().
var ErrExecutionTimeout = errors.New("command execution timed out")

// DefaultExecTimeout is the wall bound applied to every execution.
const DefaultExecTimeout = 30 * time.Second

// ExecutionResult reports one command run. Every failure mode lands here as
// data rather than an error return: the gate records and renders results, it
// never unwinds on a bad command.
type ExecutionResult struct {
	// Command is the text that ran.
	Command string `json:"command"`
	// Succeeded means the command ran to completion, even with a non-zero
	// exit code. False only for launch failures and timeouts.
	Succeeded bool `json:"succeeded"`
	// ExitCode is the process exit status; -1 when no status exists.
	ExitCode int `json:"exit_code"`
	// Stdout and Stderr are captured separately, best-effort text.
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	// ErrorMessage is set for launch failures and timeouts.
	ErrorMessage string `json:"error,omitempty"`
	// TimedOut is true when the wall bound killed the command.
	TimedOut bool `json:"timed_out,omitempty"`
	// Duration is how long the run took, including a timed-out run.
	Duration time.Duration `json:"duration"`
}

// Err maps the result back to an error value for errors.Is checks. Normal
// completion returns nil regardless of exit code.
func (r *ExecutionResult) Err() error {
	switch {
	case r.TimedOut:
		return ErrExecutionTimeout
	case r.ErrorMessage != "":
		return errors.New(r.ErrorMessage)
	default:
		return nil
	}
}

// Runner executes command text through a shell with a hard wall bound.
type Runner struct {
	shell   string
	timeout time.Duration
	workdir string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithShell overrides the shell binary used for execution.
func WithShell(shell string) RunnerOption {
	return func(r *Runner) {
		if shell != "" {
			r.shell = shell
		}
	}
}

// WithTimeout overrides the wall bound. Non-positive values keep the default.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithWorkdir sets the working directory for executed commands.
func WithWorkdir(dir string) RunnerOption {
	return func(r *Runner) {
		r.workdir = dir
	}
}

// NewRunner creates a Runner with the default 30s bound and the user's
// shell, falling back to /bin/sh.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{timeout: DefaultExecTimeout}
	for _, opt := range opts {
		opt(r)
	}
	if r.shell == "" {
		r.shell = os.Getenv("SHELL")
		if r.shell == "" {
			r.shell = "/bin/sh"
		}
	}
	return r
}

// Timeout reports the configured wall bound.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes command text and waits for completion or the wall bound,
// whichever comes first. The bound is enforced here, inside the primitive:
// callers cannot accidentally launch an unbounded command.
func (r *Runner) Run(ctx context.Context, command string) *ExecutionResult {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.shell, "-c", command)
	if r.workdir != "" {
		cmd.Dir = r.workdir
	}
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecutionResult{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		result.Succeeded = true

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
		result.ErrorMessage = fmt.Sprintf("command timed out after %s", r.timeout)

	case runCtx.Err() != nil:
		// Parent context canceled (shutdown), not a timeout.
		result.ExitCode = -1
		result.ErrorMessage = "execution canceled"

	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Ran to completion with a non-zero exit. Still a successful
			// execution; the exit code speaks for itself.
			result.Succeeded = true
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.ErrorMessage = err.Error()
		}
	}

	return result
}
