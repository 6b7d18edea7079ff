// Package runner executes backend command-line tools with a per-call timeout,
// captured output and process-group cleanup.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"
)

// DefaultTimeout bounds a command when neither the runner nor the command
// sets a timeout.
const DefaultTimeout = 2 * time.Minute

// waitDelay is how long Wait keeps reading pipes after the process is killed.
const waitDelay = 2 * time.Second

const (
	redacted       = "********"
	stderrLogLimit = 512
)

// Sentinel errors.
var (
	ErrExit     = errors.New("command exited with non-zero status")
	ErrTimeout  = errors.New("command timed out")
	ErrNotFound = errors.New("executable not found")
)

// Command describes one subprocess invocation.
type Command struct {
	Name  string
	Args  []string
	Env   []string
	Dir   string
	Stdin io.Reader
	// Timeout overrides the runner timeout when positive.
	Timeout time.Duration
	// Secrets are argument values masked in logs.
	Secrets []string
}

// String renders the command line shell-quoted with secrets masked.
func (c Command) String() string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Name)

	for _, arg := range c.Args {
		for _, secret := range c.Secrets {
			if secret != "" {
				arg = strings.ReplaceAll(arg, secret, redacted)
			}
		}

		argv = append(argv, arg)
	}

	return shellquote.Join(argv...)
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  []byte
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(string(e.Stderr))
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}

	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, msg)
}

// Is matches ErrExit.
func (e *ExitError) Is(target error) bool { return target == ErrExit }

// Executor runs commands. Backends depend on this interface so tests can
// substitute a fake.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Runner is the os/exec backed Executor.
type Runner struct {
	timeout time.Duration
	env     []string
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithEnv appends KEY=VALUE pairs to every command's environment.
func WithEnv(env ...string) Option {
	return func(r *Runner) {
		r.env = append(r.env, env...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run executes cmd and waits for it. On timeout or cancellation the whole
// process group is killed. A non-zero exit returns the captured Result along
// with an *ExitError.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	timeout := r.timeout
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	proc := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	proc.Dir = cmd.Dir
	proc.Stdin = cmd.Stdin
	proc.Stdout = &stdout
	proc.Stderr = &stderr
	proc.WaitDelay = waitDelay

	if len(r.env) > 0 || len(cmd.Env) > 0 {
		proc.Env = append(append(os.Environ(), r.env...), cmd.Env...)
	}

	setProcessGroup(proc)

	proc.Cancel = func() error { return killProcessGroup(proc) }

	line := cmd.String()
	r.logger.DebugContext(ctx, "exec", "cmd", line, "dir", cmd.Dir)

	start := time.Now()
	err := proc.Run()

	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cmd.Name)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.logger.WarnContext(ctx, "exec interrupted", "cmd", line, "elapsed", res.Duration, "error", ctxErr)

		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, line)
		}

		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()

		r.logger.WarnContext(ctx, "exec failed",
			"cmd", line, "exit_code", res.ExitCode, "stderr", truncate(res.Stderr, stderrLogLimit))

		return res, &ExitError{Command: line, Code: res.ExitCode, Stderr: res.Stderr}
	}

	return nil, fmt.Errorf("run %s: %w", line, err)
}

func truncate(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}

	return s
}

// Output returns the text to translate into an error for a failed command:
// stderr when present, stdout otherwise.
func Output(res *Result) string {
	if res == nil {
		return ""
	}

	if msg := strings.TrimSpace(string(res.Stderr)); msg != "" {
		return msg
	}

	return strings.TrimSpace(string(res.Stdout))
}
