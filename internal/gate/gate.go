// Package gate is the validation gate: it runs the project's build, test and
// lint steps and, when they fail, asks the generator to repair the tree.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/config"
	"github.com/randalmurphal/mend/internal/llm"
	"github.com/randalmurphal/mend/internal/prompt"
	"github.com/randalmurphal/mend/internal/toolchain"
)

// Stage labels used in logs, prompts and diagnostics dumps.
const (
	StagePreChange  = "PRE-CHANGE"
	StagePostChange = "POST-CHANGE"
	StageManual     = "MANUAL"
)

// DefaultFixAttempts is the repair budget when the caller passes a negative
// count. Zero validates without repairing.
const DefaultFixAttempts = 3

// Step is one validation command.
type Step struct {
	Name    string
	Command string
}

// StepsFromConfig returns the configured validation steps in order,
// skipping empty commands.
func StepsFromConfig(tc config.ToolchainConfig) []Step {
	var steps []Step
	for _, s := range []Step{
		{Name: "build", Command: tc.Build},
		{Name: "test", Command: tc.Test},
		{Name: "lint", Command: tc.Lint},
	} {
		if strings.TrimSpace(s.Command) == "" {
			continue
		}
		if s.Name == "lint" && tc.SkipLint {
			continue
		}
		steps = append(steps, s)
	}
	return steps
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Passed   bool
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
	Err      error
}

// Report collects the steps that ran. Validation stops at the first failure,
// so Failed is always the last entry when set.
type Report struct {
	Steps  []StepResult
	Failed *StepResult
}

// Passed reports whether every step passed.
func (r *Report) Passed() bool {
	return r.Failed == nil
}

// Summary is a one-line description for logs.
func (r *Report) Summary() string {
	if r.Failed == nil {
		return fmt.Sprintf("%d steps passed", len(r.Steps))
	}
	switch {
	case r.Failed.TimedOut:
		return fmt.Sprintf("%s timed out", r.Failed.Name)
	case r.Failed.Err != nil:
		return fmt.Sprintf("%s could not run: %v", r.Failed.Name, r.Failed.Err)
	default:
		return fmt.Sprintf("%s failed with exit code %d", r.Failed.Name, r.Failed.ExitCode)
	}
}

// Gate runs validation steps and the repair loop.
type Gate struct {
	root     string
	runner   toolchain.Runner
	steps    []Step
	timeout  time.Duration
	gen      llm.Generator
	renderer *prompt.Renderer
	project  string
	diagDir  string
	logger   *slog.Logger

	maxOutput  int
	maxContext int

	// fixes snapshots every file the repair loop writes.
	fixes *apply.Applier
}

// New creates a Gate for root.
func New(root string, runner toolchain.Runner, steps []Step, opts ...Option) *Gate {
	g := &Gate{
		root:       root,
		runner:     runner,
		steps:      steps,
		timeout:    toolchain.DefaultTimeout,
		logger:     slog.Default(),
		project:    "software",
		maxOutput:  20000,
		maxContext: 120000,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.fixes = apply.NewApplier(root, apply.WithLogger(g.logger))
	return g
}

// Steps returns the configured steps.
func (g *Gate) Steps() []Step {
	return g.steps
}

// RunValidation runs every step in order and stops at the first failure.
// Timeouts and spawn errors are failures, never panics or returned errors.
func (g *Gate) RunValidation(ctx context.Context) (*Report, bool) {
	report := &Report{}
	for _, step := range g.steps {
		res := g.runner.Run(ctx, toolchain.Command{
			Name:    step.Name,
			Line:    step.Command,
			Dir:     g.root,
			Timeout: g.timeout,
		})
		sr := StepResult{
			Name:     step.Name,
			Passed:   res.OK(),
			ExitCode: res.ExitCode,
			Output:   res.Output(),
			Duration: res.Duration,
			TimedOut: res.TimedOut,
			Err:      res.Err,
		}
		report.Steps = append(report.Steps, sr)
		if !sr.Passed {
			report.Failed = &report.Steps[len(report.Steps)-1]
			g.logger.Info("validation failed", "step", step.Name, "exit_code", sr.ExitCode, "timed_out", sr.TimedOut)
			return report, false
		}
		g.logger.Debug("validation step passed", "step", step.Name, "duration", sr.Duration.Round(time.Millisecond))
	}
	return report, true
}

// Fixed returns every file the repair loop has written since the last
// AcceptFixes or RollbackFixes.
func (g *Gate) Fixed() []string {
	return g.fixes.Touched()
}

// AcceptFixes keeps the repair loop's writes and forgets their snapshots.
func (g *Gate) AcceptFixes() {
	g.fixes.Forget()
}

// RollbackFixes restores every file the repair loop wrote.
func (g *Gate) RollbackFixes() error {
	return g.fixes.Rollback()
}
