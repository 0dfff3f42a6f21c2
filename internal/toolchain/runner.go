// Package toolchain runs the project's native build, test and lint commands
// as subprocesses with stdout/stderr/exit-code contracts.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/randalmurphal/mend/internal/util"
)

// DefaultTimeout bounds a single command when the caller sets none.
const DefaultTimeout = 30 * time.Minute

// DefaultOutputLimit caps each of stdout and stderr. Output past the cap is
// discarded and the result is marked Truncated.
const DefaultOutputLimit = 16 << 20

// Command is one shell command line to run in Dir.
type Command struct {
	Name    string // step label for logs: build, test, lint, lint-json
	Line    string
	Dir     string
	Timeout time.Duration
}

// Result holds the outcome of a command.
// A non-zero exit is an outcome, not an error; Err is set only when the
// process could not be started or was killed by timeout/cancellation.
type Result struct {
	Name      string
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	TimedOut  bool
	Truncated bool // stdout or stderr hit the output limit
	Err       error
}

// OK reports whether the command ran and exited zero.
func (r *Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Output returns stderr and stdout combined, stderr first since native
// compilers report there.
func (r *Result) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stderr + "\n" + r.Stdout
	}
}

// Runner executes toolchain commands.
// This interface allows scripting command outcomes in tests.
type Runner interface {
	Run(ctx context.Context, cmd Command) *Result
}

// ShellRunner runs command lines through bash or sh, each in its own
// process group so cancellation kills the whole tree.
type ShellRunner struct {
	logger   *slog.Logger
	shell    string
	maxBytes int
}

// ShellRunnerOption configures a ShellRunner.
type ShellRunnerOption func(*ShellRunner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ShellRunnerOption {
	return func(r *ShellRunner) {
		r.logger = l
	}
}

// WithShell overrides shell detection.
func WithShell(shell string) ShellRunnerOption {
	return func(r *ShellRunner) {
		r.shell = shell
	}
}

// WithMaxOutput caps each output stream at n bytes. n <= 0 keeps
// DefaultOutputLimit.
func WithMaxOutput(n int) ShellRunnerOption {
	return func(r *ShellRunner) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// NewShellRunner creates a ShellRunner.
func NewShellRunner(opts ...ShellRunnerOption) *ShellRunner {
	r := &ShellRunner{
		logger:   slog.Default(),
		shell:    detectShell(),
		maxBytes: DefaultOutputLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// detectShell prefers bash for consistent behavior.
func detectShell() string {
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash"
	}
	if _, err := exec.LookPath("sh"); err == nil {
		return "sh"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "sh"
}

// Run executes cmd and waits for it.
func (r *ShellRunner) Run(ctx context.Context, cmd Command) *Result {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &Result{Name: cmd.Name}
	if strings.TrimSpace(cmd.Line) == "" {
		result.Err = fmt.Errorf("%s: empty command", cmd.Name)
		result.ExitCode = -1
		return result
	}

	c := exec.CommandContext(ctx, r.shell, "-c", cmd.Line)
	c.Dir = cmd.Dir
	util.SetProcessGroup(c)
	// Kill the process group, not just the shell, so compilers and test
	// binaries it spawned do not outlive us.
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return util.KillProcessGroup(c.Process.Pid)
	}
	c.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	outW := &limitedWriter{w: &stdout, max: r.maxBytes}
	errW := &limitedWriter{w: &stderr, max: r.maxBytes}
	c.Stdout = outW
	c.Stderr = errW

	r.logger.Debug("running toolchain command", "step", cmd.Name, "command", cmd.Line, "dir", cmd.Dir)

	start := time.Now()
	err := c.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = outW.dropped || errW.dropped
	if result.Truncated {
		r.logger.Warn("toolchain output truncated", "step", cmd.Name, "limit_bytes", r.maxBytes)
	}

	if err != nil {
		// Context cancellation/timeout takes priority over the exit status
		// the signal produced.
		if ctx.Err() != nil {
			result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
			result.ExitCode = -1
			result.Err = fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
			return result
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result
		}
		result.ExitCode = -1
		result.Err = fmt.Errorf("%s: %w", cmd.Name, err)
	}

	r.logger.Debug("toolchain command finished",
		"step", cmd.Name,
		"exit_code", result.ExitCode,
		"duration", result.Duration.Round(time.Millisecond))
	return result
}

// limitedWriter keeps the first max bytes written to it and discards the
// rest while still reporting full writes, so the child never blocks.
type limitedWriter struct {
	w       *bytes.Buffer
	max     int
	written int
	dropped bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.dropped = lw.dropped || len(p) > 0
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
		lw.dropped = true
	}
	n, err := lw.w.Write(toWrite)
	lw.written += n
	if err != nil {
		return n, err
	}
	return len(p), nil
}
