// Package analyzer asks the generator for improvement work items in one
// category and merges them into that category's ledger.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/mend/internal/config"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/lint"
	"github.com/randalmurphal/mend/internal/llm"
	"github.com/randalmurphal/mend/internal/llmutil"
	"github.com/randalmurphal/mend/internal/prompt"
	"github.com/randalmurphal/mend/internal/toolchain"
)

// DefaultMaxItems caps the items requested per analysis.
const DefaultMaxItems = 10

// KnownItem is an existing item listed in the prompt to discourage repeats.
type KnownItem struct {
	ID     string
	Title  string
	Status string
}

// promptData is the analyzer prompt's template data.
type promptData struct {
	Project  string
	Category string
	MaxItems int
	Known    []KnownItem
	Context  string
}

// Analyzer proposes work items for one category.
type Analyzer struct {
	root       string
	category   ledger.Category
	cfg        *config.Config
	gen        llm.Generator
	renderer   *prompt.Renderer
	runner     toolchain.Runner
	project    string
	maxItems   int
	ledgerOpts ledger.Options
	logger     *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

// WithRunner sets the toolchain runner used for the lint category.
func WithRunner(r toolchain.Runner) Option {
	return func(a *Analyzer) {
		a.runner = r
	}
}

// WithProject sets the project description used in prompts.
func WithProject(description string) Option {
	return func(a *Analyzer) {
		if description != "" {
			a.project = description
		}
	}
}

// WithMaxItems caps the items requested.
func WithMaxItems(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxItems = n
		}
	}
}

// WithLedgerOptions sets the options used to load the ledger.
func WithLedgerOptions(opts ledger.Options) Option {
	return func(a *Analyzer) {
		a.ledgerOpts = opts
	}
}

// New creates an Analyzer for category.
func New(root string, category ledger.Category, cfg *config.Config, gen llm.Generator, renderer *prompt.Renderer, opts ...Option) *Analyzer {
	a := &Analyzer{
		root:     root,
		category: category,
		cfg:      cfg,
		gen:      gen,
		renderer: renderer,
		project:  "software",
		maxItems: DefaultMaxItems,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("category", string(category))
	if a.runner == nil {
		a.runner = toolchain.NewShellRunner(toolchain.WithLogger(a.logger))
	}
	if a.ledgerOpts.Logger == nil {
		a.ledgerOpts.Logger = a.logger
	}
	return a
}

// Analyze gathers context, asks the generator for items and adds the new
// ones to the ledger. It returns how many were added. Generation and parse
// failures are logged and yield zero; only fatal configuration problems and
// disk faults are returned.
func (a *Analyzer) Analyze(ctx context.Context) (int, error) {
	l, err := ledger.Load(a.root, a.category, a.ledgerOpts)
	if err != nil {
		return 0, err
	}

	var diags []lint.Diagnostic
	var contextText string
	if a.category == ledger.Clippy {
		diags, err = a.lintDiagnostics(ctx)
		if err != nil {
			a.logger.Warn("could not collect lint diagnostics", "error", err)
			return 0, nil
		}
		if len(diags) == 0 {
			a.logger.Info("no lint diagnostics, nothing to analyze")
			return 0, nil
		}
		contextText = formatDiagnostics(diags)
	} else {
		contextText, err = a.sourceContext()
		if err != nil {
			return 0, err
		}
		if contextText == "" {
			a.logger.Warn("no source files matched the context globs")
			return 0, nil
		}
	}

	data := promptData{
		Project:  a.project,
		Category: string(a.category),
		MaxItems: a.maxItems,
		Known:    knownItems(l),
		Context:  contextText,
	}
	system, err := a.renderer.Render(prompt.SystemAnalyzer, data)
	if err != nil {
		return 0, err
	}
	user, err := a.renderer.Render(prompt.AnalyzerPrompt(string(a.category)), data)
	if err != nil {
		return 0, err
	}

	a.logger.Info("running analysis", "known_items", len(data.Known), "context_bytes", len(contextText))
	result, err := llmutil.GenerateObjects(ctx, a.gen, llm.Request{System: system, User: user, Role: llm.RoleAnalyzer})
	if err != nil {
		if mendErrors.IsFatal(err) {
			return 0, err
		}
		a.logger.Warn("analysis produced no usable items", "error", err)
		if result != nil {
			a.dump(result.Raw)
		}
		return 0, nil
	}

	candidates := decodeItems(result.Objects, a.logger)
	if a.category == ledger.Clippy {
		for i := range candidates {
			enrichFromDiagnostics(&candidates[i], diags)
		}
	}

	added := l.AddItems(candidates, true)
	if err := l.Save(); err != nil {
		return added, err
	}
	a.logger.Info("analysis complete", "proposed", len(candidates), "added", added)
	return added, nil
}

// sourceContext bundles source files; docs come first for features and hot
// paths first for performance.
func (a *Analyzer) sourceContext() (string, error) {
	cc := a.cfg.Context
	sel := Selector{Include: cc.Include, Exclude: cc.Exclude}
	if a.category == ledger.Performance {
		sel.First = cc.HotPaths
	}
	files, err := sel.Collect(a.root)
	if err != nil {
		return "", err
	}

	if a.category == ledger.Features && len(cc.Docs) > 0 {
		docs, err := Selector{Include: cc.Docs, Exclude: cc.Exclude}.Collect(a.root)
		if err != nil {
			return "", err
		}
		files = append(docs, files...)
	}

	text, included := Bundle(a.root, files, Budget{MaxBytes: cc.MaxBytes, MaxFileBytes: cc.MaxFileBytes})
	a.logger.Debug("gathered source context", "candidates", len(files), "included", len(included))
	return text, nil
}

func (a *Analyzer) lintDiagnostics(ctx context.Context) ([]lint.Diagnostic, error) {
	if strings.TrimSpace(a.cfg.Lint.Command) == "" {
		return nil, fmt.Errorf("lint.command is not configured")
	}
	diags, err := lint.Run(ctx, a.runner, toolchain.Command{
		Name:    "lint-json",
		Line:    a.cfg.Lint.Command,
		Dir:     a.root,
		Timeout: a.cfg.Toolchain.Timeout,
	}, a.cfg.Lint.CodePrefix)
	if err != nil {
		return nil, err
	}
	sampled := lint.Sample(lint.Dedupe(diags), a.cfg.Lint.SampleSize)
	a.logger.Info("collected lint diagnostics", "total", len(diags), "sampled", len(sampled))
	return sampled, nil
}

func (a *Analyzer) dump(raw string) {
	path, err := llm.DumpDiagnostics(a.cfg.Log.DiagnosticsDirIn(a.root), "analyze_"+string(a.category), raw)
	if err != nil {
		a.logger.Warn("could not save analyzer response", "error", err)
		return
	}
	a.logger.Info("saved unparseable analyzer response", "path", path)
}

func knownItems(l *ledger.Ledger) []KnownItem {
	items := l.Items()
	out := make([]KnownItem, 0, len(items))
	for _, it := range items {
		out = append(out, KnownItem{ID: it.ID, Title: it.Title, Status: string(it.Status)})
	}
	return out
}

// decodeItems turns model objects into candidate items. Objects that do not
// decode are dropped.
func decodeItems(objects []json.RawMessage, logger *slog.Logger) []ledger.Item {
	out := make([]ledger.Item, 0, len(objects))
	for _, raw := range objects {
		var it ledger.Item
		if err := json.Unmarshal(raw, &it); err != nil {
			logger.Debug("dropping undecodable item", "error", err)
			continue
		}
		// Lifecycle fields are owned by the ledger, not the model.
		it.Status = ""
		it.ConsecutiveFailures = 0
		it.CompletedAt = nil
		out = append(out, it)
	}
	return out
}

func formatDiagnostics(diags []lint.Diagnostic) string {
	var b strings.Builder
	for i, d := range diags {
		fmt.Fprintf(&b, "%d. %s: %s:%d:%d\n   %s\n", i+1, d.Code, d.File, d.Line, d.Column, d.Message)
		if d.Rendered != "" {
			for _, line := range strings.Split(strings.TrimRight(d.Rendered, "\n"), "\n") {
				b.WriteString("   ")
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// enrichFromDiagnostics attaches the matching diagnostic's location, text
// and suggestions to a lint item so the executor can re-check and apply it.
func enrichFromDiagnostics(it *ledger.Item, diags []lint.Diagnostic) {
	d, ok := matchDiagnostic(it, diags)
	if !ok {
		return
	}
	it.SetMeta(ledger.MetaCode, d.Code)
	it.SetMeta(ledger.MetaFile, d.File)
	it.SetMeta(ledger.MetaLine, d.Line)
	it.SetMeta(ledger.MetaColumn, d.Column)
	if d.Rendered != "" {
		it.SetMeta(ledger.MetaRendered, d.Rendered)
	}
	if len(d.Suggestions) > 0 {
		it.SetMeta(ledger.MetaSuggestions, d.Suggestions)
	}
	if len(it.FilesAffected) == 0 {
		it.FilesAffected = []string{d.File}
	}
}

func matchDiagnostic(it *ledger.Item, diags []lint.Diagnostic) (lint.Diagnostic, bool) {
	if code, file := it.MetaString(ledger.MetaCode), it.MetaString(ledger.MetaFile); code != "" && file != "" {
		if d, ok := lint.Find(diags, code, file, it.MetaInt(ledger.MetaLine)); ok {
			return d, true
		}
	}

	text := it.Title + "\n" + it.Description
	files := map[string]bool{}
	for _, f := range it.FilesAffected {
		files[f] = true
	}
	var codeOnly *lint.Diagnostic
	for i, d := range diags {
		short := d.Code[strings.LastIndex(d.Code, ":")+1:]
		if !strings.Contains(text, d.Code) && !strings.Contains(text, short) {
			continue
		}
		if files[d.File] {
			return d, true
		}
		if len(files) == 0 && codeOnly == nil {
			codeOnly = &diags[i]
		}
	}
	if codeOnly != nil {
		return *codeOnly, true
	}
	return lint.Diagnostic{}, false
}
