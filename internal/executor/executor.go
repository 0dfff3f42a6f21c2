// Package executor implements one planned work item end to end: validate
// the base, generate the change, apply it, validate again and record the
// result, rolling back on any failure.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/config"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/gate"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/lint"
	"github.com/randalmurphal/mend/internal/llm"
	"github.com/randalmurphal/mend/internal/prompt"
	"github.com/randalmurphal/mend/internal/toolchain"
)

// Validator is the validation gate as the executor uses it.
// *gate.Gate implements it.
type Validator interface {
	EnsureBuildsOrFix(ctx context.Context, stage string, maxAttempts int) bool
	Fixed() []string
	AcceptFixes()
	RollbackFixes() error
}

// Executor runs work items of one category.
type Executor struct {
	root       string
	category   ledger.Category
	phase      string
	cfg        *config.Config
	gen        llm.Generator
	renderer   *prompt.Renderer
	validator  Validator
	runner     toolchain.Runner
	patcher    apply.PatchApplier
	project    string
	ledgerOpts ledger.Options
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithRunner sets the toolchain runner used for the lint re-check.
func WithRunner(r toolchain.Runner) Option {
	return func(e *Executor) {
		e.runner = r
	}
}

// WithPatcher enables unified-diff responses, applied through p.
func WithPatcher(p apply.PatchApplier) Option {
	return func(e *Executor) {
		e.patcher = p
	}
}

// WithPhase sets the phase name written to the change record.
func WithPhase(phase string) Option {
	return func(e *Executor) {
		e.phase = phase
	}
}

// WithProject sets the project description used in prompts.
func WithProject(description string) Option {
	return func(e *Executor) {
		if description != "" {
			e.project = description
		}
	}
}

// WithLedgerOptions sets the options used to load the ledger.
func WithLedgerOptions(opts ledger.Options) Option {
	return func(e *Executor) {
		e.ledgerOpts = opts
	}
}

// New creates an Executor for category.
func New(root string, category ledger.Category, cfg *config.Config, gen llm.Generator, renderer *prompt.Renderer, validator Validator, opts ...Option) *Executor {
	e := &Executor{
		root:      root,
		category:  category,
		phase:     string(category),
		cfg:       cfg,
		gen:       gen,
		renderer:  renderer,
		validator: validator,
		project:   "software",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("category", string(category))
	if e.runner == nil {
		e.runner = toolchain.NewShellRunner(toolchain.WithLogger(e.logger))
	}
	if e.ledgerOpts.Logger == nil {
		e.ledgerOpts.Logger = e.logger
	}
	return e
}

// run carries one execution's state.
type run struct {
	ledger   *ledger.Ledger
	item     *ledger.Item
	applier  *apply.Applier
	preFixed []string
	logger   *slog.Logger
}

// Execute runs the item with itemID. Per-item problems are reported in the
// Outcome; the error is reserved for ledger I/O faults and fatal
// configuration problems.
func (e *Executor) Execute(ctx context.Context, itemID string) (Outcome, error) {
	l, err := ledger.Load(e.root, e.category, e.ledgerOpts)
	if err != nil {
		return Outcome{}, err
	}
	it, err := l.Get(itemID)
	if err != nil {
		e.logger.Warn("item not found", "item", itemID)
		return Outcome{Result: Failure, Reason: "item not found", ItemID: itemID, Category: e.category}, nil
	}

	out := Outcome{ItemID: it.ID, Title: it.Title, Category: e.category}
	logger := e.logger.With("item", it.ID)
	if it.Status == ledger.StatusCompleted {
		logger.Info("item already completed")
		out.Result, out.Reason = Success, "already completed"
		return out, nil
	}

	if err := l.MarkInProgress(it.ID); err != nil {
		return out, err
	}
	if err := l.Save(); err != nil {
		return out, err
	}
	logger.Info("executing item", "title", it.Title, "priority", it.Priority)

	r := &run{
		ledger:  l,
		item:    it,
		applier: apply.NewApplier(e.root, apply.WithLogger(logger)),
		logger:  logger,
	}

	if !e.validator.EnsureBuildsOrFix(ctx, gate.StagePreChange, e.cfg.Workflow.FixAttempts) {
		if err := e.validator.RollbackFixes(); err != nil {
			logger.Error("could not roll back repair attempts", "error", err)
		}
		return e.fail(r, out, "baseline does not build", true)
	}
	r.preFixed = e.validator.Fixed()
	e.validator.AcceptFixes()

	return e.change(ctx, r, out)
}

// change covers generation through completion. Every failure here rolls
// back what was written and records a strike.
func (e *Executor) change(ctx context.Context, r *run, out Outcome) (Outcome, error) {
	logger := r.logger

	system, user, err := e.prompts(r)
	if err != nil {
		return e.abort(r, out, err)
	}

	response, err := e.gen.Generate(ctx, llm.Request{System: system, User: user, Role: llm.RoleExecutor})
	if err != nil {
		if mendErrors.IsFatal(err) {
			return e.abort(r, out, err)
		}
		logger.Warn("generation failed", "error", err)
		return e.fail(r, out, fmt.Sprintf("generation failed: %v", err), false)
	}

	res, err := e.strategy(r.applier).Apply(ctx, r.item, response)
	if err != nil {
		if !errors.Is(err, apply.ErrNothingUsable) {
			e.rollback(r)
			return e.fail(r, out, fmt.Sprintf("apply failed: %v", err), false)
		}
		res, err = e.fallbackToSuggestions(r, response, err)
		if err != nil {
			e.rollback(r)
			return e.fail(r, out, err.Error(), false)
		}
	}

	if res.NoOp {
		logger.Info("generated change is identical to the current files")
		if err := r.ledger.MarkNoOp(r.item.ID); err != nil {
			return out, err
		}
		if err := r.ledger.Save(); err != nil {
			return out, err
		}
		out.Result, out.Reason = NoOp, "change already present"
		return out, nil
	}
	logger.Info("applied change", "files", res.Files)

	if !e.validator.EnsureBuildsOrFix(ctx, gate.StagePostChange, e.cfg.Workflow.FixAttempts) {
		e.rollback(r)
		return e.fail(r, out, "change does not build", false)
	}

	if reason := e.recheck(ctx, r); reason != "" {
		e.rollback(r)
		return e.fail(r, out, reason, false)
	}

	files := union(res.Files, r.applier.Touched(), e.validator.Fixed(), r.preFixed)
	if err := r.ledger.MarkCompleted(r.item.ID); err != nil {
		return out, err
	}
	if err := r.ledger.Save(); err != nil {
		return out, err
	}
	if err := apply.RecordChange(e.root, apply.ChangeRecord{
		Phase:  e.phase,
		ItemID: r.item.ID,
		Title:  r.item.Title,
		Files:  files,
	}); err != nil {
		return out, err
	}
	e.validator.AcceptFixes()

	logger.Info("item completed", "files", files)
	out.Result, out.Reason, out.Files = Success, "completed", files
	return out, nil
}

func (e *Executor) prompts(r *run) (system, user string, err error) {
	ctxText, err := e.buildContext(r.applier, r.item)
	if err != nil {
		return "", "", err
	}
	data := promptData{
		Project:  e.project,
		Category: string(e.category),
		Item:     viewOf(r.item),
		Context:  ctxText,
	}
	if system, err = e.renderer.Render(prompt.SystemExecutor, data); err != nil {
		return "", "", err
	}
	if user, err = e.renderer.Render(prompt.ExecutorPrompt(string(e.category)), data); err != nil {
		return "", "", err
	}
	return system, user, nil
}

func (e *Executor) strategy(a *apply.Applier) apply.Strategy {
	chain := apply.Chain{apply.NewFullFileStrategy(a, e.logger)}
	if e.patcher != nil {
		chain = append(chain, apply.NewPatchStrategy(a, e.patcher, e.logger))
	}
	return chain
}

// fallbackToSuggestions applies the linter's own suggested replacements
// when the response held nothing usable.
func (e *Executor) fallbackToSuggestions(r *run, response string, cause error) (apply.Result, error) {
	e.dump(r, response)
	suggestions := apply.SuggestionsFromMetadata(r.item.Metadata[ledger.MetaSuggestions])
	file := r.item.MetaString(ledger.MetaFile)
	if len(suggestions) == 0 || file == "" {
		return apply.Result{}, fmt.Errorf("unusable response: %v", cause)
	}
	n, err := apply.ApplySuggestions(r.applier, file, suggestions)
	if err != nil {
		return apply.Result{}, fmt.Errorf("apply suggestions: %w", err)
	}
	if n == 0 {
		return apply.Result{}, fmt.Errorf("unusable response and no suggestion matched %s", file)
	}
	r.logger.Info("applied linter suggestions", "file", file, "count", n)
	return apply.Result{Files: []string{file}}, nil
}

// recheck confirms a lint item's diagnostic is gone. It returns a failure
// reason, or "" when the item passes.
func (e *Executor) recheck(ctx context.Context, r *run) string {
	if e.category != ledger.Clippy {
		return ""
	}
	code, file := r.item.MetaString(ledger.MetaCode), r.item.MetaString(ledger.MetaFile)
	if code == "" || file == "" || e.cfg.Lint.Command == "" {
		return ""
	}
	diags, err := lint.Run(ctx, e.runner, toolchain.Command{
		Name:    "lint-json",
		Line:    e.cfg.Lint.Command,
		Dir:     e.root,
		Timeout: e.cfg.Toolchain.Timeout,
	}, e.cfg.Lint.CodePrefix)
	if err != nil {
		return fmt.Sprintf("lint re-check failed: %v", err)
	}
	line := r.item.MetaInt(ledger.MetaLine)
	if !lint.Persists(diags, code, file, line) {
		return ""
	}
	if line <= 0 {
		return fmt.Sprintf("%s still reported in %s", code, file)
	}
	return fmt.Sprintf("%s still reported at %s:%d", code, file, line)
}

// rollback restores the repair loop's writes first, since they may sit on
// top of the applier's, then the applier's.
func (e *Executor) rollback(r *run) {
	if err := e.validator.RollbackFixes(); err != nil {
		r.logger.Error("could not roll back repairs", "error", err)
	}
	if err := r.applier.Rollback(); err != nil {
		r.logger.Error("could not roll back change", "error", err)
		return
	}
	r.logger.Info("rolled back change")
}

// fail records a strike (or permanent failure) and reports it.
func (e *Executor) fail(r *run, out Outcome, reason string, permanent bool) (Outcome, error) {
	r.logger.Warn("item failed", "reason", reason, "permanent", permanent)
	if err := r.ledger.MarkFailed(r.item.ID, permanent); err != nil {
		return out, err
	}
	if err := r.ledger.Save(); err != nil {
		return out, err
	}
	out.Result, out.Reason = Failure, reason
	return out, nil
}

// abort stops on an error that is not the item's fault. The item returns
// to not-started without a strike and the error propagates.
func (e *Executor) abort(r *run, out Outcome, cause error) (Outcome, error) {
	e.rollback(r)
	r.ledger.ResetInProgress()
	if err := r.ledger.Save(); err != nil {
		r.logger.Error("could not save ledger", "error", err)
	}
	out.Result, out.Reason = Failure, cause.Error()
	return out, cause
}

func (e *Executor) dump(r *run, response string) {
	path, err := llm.DumpDiagnostics(e.cfg.Log.DiagnosticsDirIn(e.root), "execute_"+r.item.ID, response)
	if err != nil {
		r.logger.Warn("could not save executor response", "error", err)
		return
	}
	r.logger.Info("saved unusable executor response", "path", path)
}

func union(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
