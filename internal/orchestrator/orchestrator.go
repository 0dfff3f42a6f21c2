// Package orchestrator runs the phase state machine: one call to
// RunSingleImprovement performs at most one real change and persists
// everything the next invocation needs.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/randalmurphal/mend/internal/analyzer"
	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/config"
	"github.com/randalmurphal/mend/internal/diff"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/executor"
	"github.com/randalmurphal/mend/internal/finalize"
	"github.com/randalmurphal/mend/internal/gate"
	"github.com/randalmurphal/mend/internal/git"
	"github.com/randalmurphal/mend/internal/journal"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/llm"
	"github.com/randalmurphal/mend/internal/prompt"
	"github.com/randalmurphal/mend/internal/state"
	"github.com/randalmurphal/mend/internal/toolchain"
)

// maxTransitions bounds phase changes in one call. A full pass has six.
const maxTransitions = 16

// Analyzer proposes work items for one ledger.
type Analyzer interface {
	Analyze(ctx context.Context) (int, error)
}

// Executor runs one work item.
type Executor interface {
	Execute(ctx context.Context, itemID string) (executor.Outcome, error)
}

// VCS is the git surface the state machine needs. *git.Git implements it.
type VCS interface {
	ChangedFiles(ctx context.Context) ([]string, error)
	CreateCheckpoint(ctx context.Context, itemID, phase, message string, files []string) (*git.Checkpoint, error)
	CommitStats(ctx context.Context, rev string) (diff.Stats, error)
}

// Recorder receives run history. *journal.Journal implements it.
type Recorder interface {
	Start(ctx context.Context, id, phase string, at time.Time) error
	Finish(ctx context.Context, r journal.Run) error
}

// AnalyzerFactory builds the analyzer for a ledger.
type AnalyzerFactory func(category ledger.Category) Analyzer

// ExecutorFactory builds the executor for a ledger; phase labels the
// change record.
type ExecutorFactory func(category ledger.Category, phase state.Phase) Executor

// Orchestrator drives the workflow for one repository.
type Orchestrator struct {
	root        string
	cfg         *config.Config
	vcs         VCS
	newAnalyzer AnalyzerFactory
	newExecutor ExecutorFactory
	recorder    Recorder
	ledgerOpts  ledger.Options
	excludes    []string
	now         func() time.Time
	newRunID    func() string
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithAnalyzerFactory replaces analyzer construction.
func WithAnalyzerFactory(fn AnalyzerFactory) Option {
	return func(o *Orchestrator) {
		o.newAnalyzer = fn
	}
}

// WithExecutorFactory replaces executor construction.
func WithExecutorFactory(fn ExecutorFactory) Option {
	return func(o *Orchestrator) {
		o.newExecutor = fn
	}
}

// WithRecorder records every run, typically in the journal.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newRunID = fn
	}
}

// Components are the collaborators the default factories build on.
type Components struct {
	Generator llm.Generator
	Renderer  *prompt.Renderer
	Runner    toolchain.Runner
	Project   string
}

// WithComponents installs analyzer and executor factories backed by the
// real analyzer, validation gate and executor.
func WithComponents(c Components) Option {
	return func(o *Orchestrator) {
		o.newAnalyzer = func(cat ledger.Category) Analyzer {
			opts := []analyzer.Option{
				analyzer.WithLogger(o.logger),
				analyzer.WithLedgerOptions(o.ledgerOpts),
			}
			if c.Runner != nil {
				opts = append(opts, analyzer.WithRunner(c.Runner))
			}
			if c.Project != "" {
				opts = append(opts, analyzer.WithProject(c.Project))
			}
			return analyzer.New(o.root, cat, o.cfg, c.Generator, c.Renderer, opts...)
		}
		o.newExecutor = func(cat ledger.Category, phase state.Phase) Executor {
			return NewExecutor(o.root, cat, phase, o.cfg, c, o.vcs, o.ledgerOpts, o.logger)
		}
	}
}

// NewExecutor wires an executor with its validation gate. vcs is used for
// patch application when it supports it.
func NewExecutor(root string, cat ledger.Category, phase state.Phase, cfg *config.Config, c Components, vcs any, ledgerOpts ledger.Options, logger *slog.Logger) *executor.Executor {
	runner := c.Runner
	if runner == nil {
		runner = toolchain.NewShellRunner(toolchain.WithLogger(logger))
	}
	gateOpts := []gate.Option{
		gate.WithLogger(logger),
		gate.WithTimeout(cfg.Toolchain.Timeout),
		gate.WithFixer(c.Generator, c.Renderer),
		gate.WithDiagnosticsDir(cfg.Log.DiagnosticsDirIn(root)),
	}
	if c.Project != "" {
		gateOpts = append(gateOpts, gate.WithProject(c.Project))
	}
	validator := gate.New(root, runner, gate.StepsFromConfig(cfg.Toolchain), gateOpts...)

	opts := []executor.Option{
		executor.WithLogger(logger),
		executor.WithRunner(runner),
		executor.WithPhase(string(phase)),
		executor.WithLedgerOptions(ledgerOpts),
	}
	if p, ok := vcs.(apply.PatchApplier); ok {
		opts = append(opts, executor.WithPatcher(p))
	}
	if c.Project != "" {
		opts = append(opts, executor.WithProject(c.Project))
	}
	return executor.New(root, cat, cfg, c.Generator, c.Renderer, validator, opts...)
}

// New creates an orchestrator for the repository at root. Analyzer and
// executor factories must be installed with WithComponents or the
// With*Factory options.
func New(root string, cfg *config.Config, vcs VCS, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		root:     root,
		cfg:      cfg,
		vcs:      vcs,
		now:      time.Now,
		newRunID: uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.ledgerOpts = ledger.Options{PruneCompleted: cfg.Ledger.PruneCompleted, Logger: o.logger, Now: o.now}
	o.excludes = bookkeepingPatterns(root, cfg)
	return o
}

// bookkeepingPatterns matches files mend writes for itself. Changes to
// them alone do not make a real change.
func bookkeepingPatterns(root string, cfg *config.Config) []string {
	patterns := []string{
		config.MendDir + "/**",
		apply.ChangeRecordFile,
		"**/.todo_*.json",
		"**/TODO_*.md",
	}
	for _, p := range []string{cfg.Log.FileIn(root), cfg.Log.DiagnosticsDirIn(root)} {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		patterns = append(patterns, rel, rel+"/**")
	}
	return patterns
}

// isBookkeeping reports whether a repository-relative path is one of mend's
// own files.
func (o *Orchestrator) isBookkeeping(rel string) bool {
	if ledger.IsLedgerFile(rel) {
		return true
	}
	for _, p := range o.excludes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// report accumulates what one invocation did for the journal.
type report struct {
	phase   state.Phase
	itemID  string
	outcome string
	changed bool
	detail  string
}

// RunSingleImprovement advances the workflow by at most one real change.
// It returns true when a checkpoint commit was created. Per-item failures
// are recorded in the ledgers and reported as false; only fatal
// configuration problems and I/O faults are returned as errors.
func (o *Orchestrator) RunSingleImprovement(ctx context.Context) (bool, error) {
	st, err := state.Load(o.root, o.now())
	if err != nil {
		return false, err
	}
	runID := o.newRunID()
	st.RunCount++
	st.LastRunID = runID
	if err := st.Save(o.root); err != nil {
		return false, err
	}

	logger := o.logger.With("run_id", runID)
	logger.Info("run started", "phase", st.CurrentPhase, "run_count", st.RunCount)
	started := o.now()
	o.recordStart(ctx, logger, runID, st.CurrentPhase, started)

	rep := &report{phase: st.CurrentPhase}
	changed, err := o.dispatch(ctx, logger, st, rep)
	if err != nil {
		rep.outcome = journal.OutcomeError
		rep.detail = err.Error()
	}
	o.recordFinish(ctx, logger, journal.Run{
		ID:        runID,
		StartedAt: started,
		Phase:     string(rep.phase),
		ItemID:    rep.itemID,
		Outcome:   rep.outcome,
		Changed:   changed,
		Detail:    rep.detail,
	})
	logger.Info("run finished", "phase", st.CurrentPhase, "outcome", rep.outcome, "changed", changed)
	return changed, err
}

// Status loads the persisted state without modifying it.
func (o *Orchestrator) Status() (*state.State, error) {
	return state.Load(o.root, o.now())
}

// dispatch runs phase handlers, cascading through exhausted phases until a
// change is attempted or the workflow is done.
func (o *Orchestrator) dispatch(ctx context.Context, logger *slog.Logger, st *state.State, rep *report) (bool, error) {
	for i := 0; i < maxTransitions; i++ {
		rep.phase = st.CurrentPhase
		if st.Done() {
			logger.Info("workflow complete")
			rep.outcome = journal.OutcomeDone
			return false, nil
		}

		changed, exhausted, err := o.runPhase(ctx, logger.With("phase", st.CurrentPhase), st, rep)
		if err != nil || !exhausted {
			return changed, err
		}

		from := st.CurrentPhase
		to := st.Advance(o.now())
		if err := st.Save(o.root); err != nil {
			return false, err
		}
		logger.Info("phase advanced", "from", from, "to", to, "resume", st.ResumePhase)
	}
	return false, fmt.Errorf("phase cascade did not settle after %d transitions", maxTransitions)
}

// runPhase handles the current phase. exhausted reports that the phase has
// no more work and the caller should advance.
func (o *Orchestrator) runPhase(ctx context.Context, logger *slog.Logger, st *state.State, rep *report) (changed, exhausted bool, err error) {
	phase := st.CurrentPhase
	cat, ok := phase.Category()
	if !ok {
		return false, true, nil
	}

	if phase == state.PhaseFeature && st.FeaturesCompleted >= o.cfg.Workflow.MaxFeatures {
		logger.Info("feature cap reached", "features_completed", st.FeaturesCompleted, "max", o.cfg.Workflow.MaxFeatures)
		return false, true, nil
	}

	if !st.AnalysisDone {
		if err := o.analyze(ctx, logger, cat, true); err != nil {
			return false, false, err
		}
		st.AnalysisDone = true
		if err := st.Save(o.root); err != nil {
			return false, false, err
		}
	}

	if err := o.recoverInProgress(cat); err != nil {
		return false, false, err
	}

	for {
		l, err := ledger.Load(o.root, cat, o.ledgerOpts)
		if err != nil {
			return false, false, err
		}
		item, reason := l.NextItem()
		if item == nil {
			if phase == state.PhaseCleanup && !st.CleanupReanalyzed && l.CountByStatus(ledger.StatusNotStarted) == 0 {
				logger.Info("cleanup ledger exhausted, re-analyzing once")
				st.CleanupReanalyzed = true
				if err := o.analyze(ctx, logger, cat, false); err != nil {
					return false, false, err
				}
				if err := st.Save(o.root); err != nil {
					return false, false, err
				}
				continue
			}
			logger.Info("ledger exhausted", "reason", reason)
			return false, true, nil
		}

		rep.itemID = item.ID
		out, err := o.newExecutor(cat, phase).Execute(ctx, item.ID)
		if err != nil {
			return false, false, err
		}

		if !out.Succeeded() {
			rep.outcome = journal.OutcomeFailed
			if out.Result == executor.NoOp {
				rep.outcome = journal.OutcomeNoOp
			}
			rep.detail = out.Reason
			logger.Info("item not completed", "item", item.ID, "outcome", out.Result, "reason", out.Reason)
			return false, false, st.Save(o.root)
		}

		files, err := o.realChanges(ctx)
		if err != nil {
			return false, false, err
		}
		if len(files) == 0 {
			logger.Info("item completed without a code change, moving on", "item", item.ID)
			rep.outcome = journal.OutcomeIdle
			if err := apply.ClearChange(o.root); err != nil {
				return false, false, err
			}
			continue
		}

		if err := o.checkpoint(ctx, logger, st, phase, item, files, rep); err != nil {
			return false, false, err
		}
		return true, false, nil
	}
}

// analyze runs the phase's analyzer. Previously no-op items become
// eligible again when revive is set.
func (o *Orchestrator) analyze(ctx context.Context, logger *slog.Logger, cat ledger.Category, revive bool) error {
	if revive {
		l, err := ledger.Load(o.root, cat, o.ledgerOpts)
		if err != nil {
			return err
		}
		if l.ReviveNoOps() > 0 {
			if err := l.Save(); err != nil {
				return err
			}
		}
	}
	added, err := o.newAnalyzer(cat).Analyze(ctx)
	if err != nil {
		return err
	}
	logger.Info("analysis finished", "category", cat, "added", added)
	return nil
}

// recoverInProgress returns items left in-progress by a crashed run to
// the queue. Only one invocation runs at a time, so none can be live.
func (o *Orchestrator) recoverInProgress(cat ledger.Category) error {
	l, err := ledger.Load(o.root, cat, o.ledgerOpts)
	if err != nil {
		return err
	}
	if l.ResetInProgress() == 0 {
		return nil
	}
	return l.Save()
}

// realChanges lists changed files that are not mend bookkeeping.
func (o *Orchestrator) realChanges(ctx context.Context) ([]string, error) {
	changed, err := o.vcs.ChangedFiles(ctx)
	if err != nil {
		return nil, mendErrors.ErrGitFailed("diff", err)
	}
	var files []string
	for _, f := range changed {
		if !o.isBookkeeping(f) {
			files = append(files, f)
		}
	}
	return files, nil
}

// checkpoint commits the change and applies the feature rules.
func (o *Orchestrator) checkpoint(ctx context.Context, logger *slog.Logger, st *state.State, phase state.Phase, item *ledger.Item, files []string, rep *report) error {
	msg := git.CommitMessage(finalize.LabelForPhase(string(phase)), item.ID, item.Title)
	cp, err := o.vcs.CreateCheckpoint(ctx, item.ID, string(phase), msg, files)
	if err != nil {
		return mendErrors.ErrGitFailed("commit", err)
	}
	if err := apply.ClearChange(o.root); err != nil {
		return err
	}
	rep.outcome = journal.OutcomeCommitted
	rep.changed = true
	rep.detail = cp.CommitSHA
	logger.Info("checkpoint created", "item", item.ID, "sha", cp.CommitSHA, "files", len(files))

	if phase == state.PhaseFeature {
		st.FeaturesCompleted++
		stats, err := o.vcs.CommitStats(ctx, cp.CommitSHA)
		if err != nil {
			logger.Warn("could not size feature commit", "error", err)
		} else if total := stats.Total(); total > o.cfg.Workflow.LargeDiffThreshold {
			logger.Info("large feature diff, restarting from refactor",
				"lines", total, "threshold", o.cfg.Workflow.LargeDiffThreshold)
			st.RestartFromRefactor(o.now())
		}
	}
	return st.Save(o.root)
}

func (o *Orchestrator) recordStart(ctx context.Context, logger *slog.Logger, id string, phase state.Phase, at time.Time) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Start(ctx, id, string(phase), at); err != nil {
		logger.Warn("journal start failed", "error", err)
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, logger *slog.Logger, r journal.Run) {
	if o.recorder == nil {
		return
	}
	finished := o.now()
	r.FinishedAt = &finished
	if r.Outcome == "" {
		r.Outcome = journal.OutcomeIdle
	}
	if err := o.recorder.Finish(context.WithoutCancel(ctx), r); err != nil {
		logger.Warn("journal finish failed", "error", err)
	}
}
