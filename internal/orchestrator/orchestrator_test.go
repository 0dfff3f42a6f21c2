package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/config"
	"github.com/randalmurphal/mend/internal/diff"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/executor"
	"github.com/randalmurphal/mend/internal/git"
	"github.com/randalmurphal/mend/internal/journal"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/llm"
	"github.com/randalmurphal/mend/internal/prompt"
	"github.com/randalmurphal/mend/internal/state"
	"github.com/randalmurphal/mend/internal/testutil"
	"github.com/randalmurphal/mend/internal/toolchain"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var ledgerOpts = ledger.Options{Now: func() time.Time { return fixedNow }}

// Item behaviours for fakeExecutor.
const (
	change     = "change"
	noop       = "noop"
	fail       = "fail"
	ledgerOnly = "ledger-only"
)

// fakeVCS is an in-memory working tree: executors append to changed and a
// checkpoint commits whatever it is given.
type fakeVCS struct {
	changed  []string
	commits  []fakeCommit
	stats    diff.Stats
	diffErr  error
	statsErr error
}

type fakeCommit struct {
	message string
	files   []string
}

func (v *fakeVCS) ChangedFiles(context.Context) ([]string, error) {
	if v.diffErr != nil {
		return nil, v.diffErr
	}
	return append([]string(nil), v.changed...), nil
}

func (v *fakeVCS) CreateCheckpoint(_ context.Context, itemID, phase, message string, files []string) (*git.Checkpoint, error) {
	v.commits = append(v.commits, fakeCommit{message: message, files: append([]string(nil), files...)})
	v.changed = nil
	return &git.Checkpoint{ItemID: itemID, Phase: phase, CommitSHA: fmt.Sprintf("sha%d", len(v.commits)), Message: message}, nil
}

func (v *fakeVCS) CommitStats(context.Context, string) (diff.Stats, error) {
	return v.stats, v.statsErr
}

// world wires an orchestrator to fakes backed by real ledgers on disk.
type world struct {
	t          *testing.T
	root       string
	cfg        *config.Config
	vcs        *fakeVCS
	proposed   map[ledger.Category][][]ledger.Item
	analyzed   []ledger.Category
	analyzeErr error
	behavior   map[string]string
	executed   []string
}

func newWorld(t *testing.T) *world {
	t.Helper()
	return &world{
		t:        t,
		root:     t.TempDir(),
		cfg:      config.Default(),
		vcs:      &fakeVCS{},
		proposed: make(map[ledger.Category][][]ledger.Item),
		behavior: make(map[string]string),
	}
}

// propose queues the items returned by the next analysis of category.
func (w *world) propose(cat ledger.Category, items ...ledger.Item) {
	w.proposed[cat] = append(w.proposed[cat], items)
}

func (w *world) seed(cat ledger.Category, items ...ledger.Item) {
	w.t.Helper()
	l, err := ledger.Load(w.root, cat, ledgerOpts)
	require.NoError(w.t, err)
	require.Equal(w.t, len(items), l.AddItems(items, false))
	require.NoError(w.t, l.Save())
}

func (w *world) setState(s *state.State) {
	w.t.Helper()
	require.NoError(w.t, s.Save(w.root))
}

func (w *world) state() *state.State {
	w.t.Helper()
	s, err := state.Load(w.root, fixedNow)
	require.NoError(w.t, err)
	return s
}

func (w *world) item(cat ledger.Category, id string) *ledger.Item {
	w.t.Helper()
	l, err := ledger.Load(w.root, cat, ledgerOpts)
	require.NoError(w.t, err)
	it, err := l.Get(id)
	require.NoError(w.t, err)
	return it
}

func (w *world) orchestrator(opts ...Option) *Orchestrator {
	runs := 0
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithRunIDs(func() string { runs++; return fmt.Sprintf("run-%d", runs) }),
		WithAnalyzerFactory(func(cat ledger.Category) Analyzer { return &fakeAnalyzer{w: w, cat: cat} }),
		WithExecutorFactory(func(cat ledger.Category, phase state.Phase) Executor {
			return &fakeExecutor{w: w, cat: cat, phase: phase}
		}),
	}, opts...)
	return New(w.root, w.cfg, w.vcs, opts...)
}

func (w *world) run() bool {
	w.t.Helper()
	changed, err := w.orchestrator().RunSingleImprovement(context.Background())
	require.NoError(w.t, err)
	return changed
}

type fakeAnalyzer struct {
	w   *world
	cat ledger.Category
}

func (a *fakeAnalyzer) Analyze(context.Context) (int, error) {
	w := a.w
	w.analyzed = append(w.analyzed, a.cat)
	if w.analyzeErr != nil {
		return 0, w.analyzeErr
	}
	queue := w.proposed[a.cat]
	if len(queue) == 0 {
		return 0, nil
	}
	w.proposed[a.cat] = queue[1:]
	l, err := ledger.Load(w.root, a.cat, ledgerOpts)
	if err != nil {
		return 0, err
	}
	added := l.AddItems(queue[0], true)
	return added, l.Save()
}

// fakeExecutor applies the scripted behaviour for an item through the real
// ledger, the way the executor does.
type fakeExecutor struct {
	w     *world
	cat   ledger.Category
	phase state.Phase
}

func (e *fakeExecutor) Execute(_ context.Context, id string) (executor.Outcome, error) {
	w := e.w
	w.executed = append(w.executed, id)
	l, err := ledger.Load(w.root, e.cat, ledgerOpts)
	if err != nil {
		return executor.Outcome{}, err
	}
	it, err := l.Get(id)
	if err != nil {
		return executor.Outcome{}, err
	}
	out := executor.Outcome{ItemID: id, Title: it.Title, Category: e.cat}
	jsonRel := filepath.Base(ledger.JSONPath(w.root, e.cat))
	mdRel := filepath.Base(ledger.MarkdownPath(w.root, e.cat))

	switch w.behavior[id] {
	case noop:
		err = l.MarkNoOp(id)
		out.Result = executor.NoOp
	case fail:
		err = l.MarkFailed(id, false)
		out.Result, out.Reason = executor.Failure, "post-change validation failed"
	case ledgerOnly:
		err = l.MarkCompleted(id)
		out.Result = executor.Success
		w.vcs.changed = append(w.vcs.changed, jsonRel, mdRel)
	default:
		err = l.MarkCompleted(id)
		out.Result = executor.Success
		src := "src/" + strings.ToLower(id) + ".rs"
		out.Files = []string{src}
		w.vcs.changed = append(w.vcs.changed, jsonRel, mdRel, src, apply.ChangeRecordFile, ".mend/orchestrator_state.json")
		if err == nil {
			err = apply.RecordChange(w.root, apply.ChangeRecord{Phase: string(e.phase), ItemID: id, Title: it.Title, Files: out.Files})
		}
	}
	if err != nil {
		return out, err
	}
	return out, l.Save()
}

func refItem(title, priority string) ledger.Item {
	return ledger.Item{Title: title, Priority: priority, Category: ledger.Refactoring}
}

func featItem(title string) ledger.Item {
	return ledger.Item{Title: title, Priority: "medium", Category: ledger.Features}
}

func analyzedPhase(p state.Phase) *state.State {
	s := state.New(fixedNow)
	s.CurrentPhase = p
	s.AnalysisDone = true
	return s
}

func TestRun_FreshStateAnalyzesAndCommits(t *testing.T) {
	w := newWorld(t)
	w.propose(ledger.Refactoring, refItem("Minor rename", "low"), refItem("Extract parser", "high"))

	assert.True(t, w.run())

	s := w.state()
	assert.Equal(t, state.PhaseRefactor, s.CurrentPhase)
	assert.True(t, s.AnalysisDone)
	assert.Equal(t, 1, s.RunCount)
	assert.Equal(t, "run-1", s.LastRunID)

	assert.Equal(t, []string{"REF-002"}, w.executed, "highest priority first")
	require.Len(t, w.vcs.commits, 1)
	assert.Equal(t, "Refactor: REF-002 Extract parser", w.vcs.commits[0].message)
	assert.Equal(t, []string{"src/ref-002.rs"}, w.vcs.commits[0].files, "bookkeeping files are not committed")
	assert.NoFileExists(t, apply.RecordPath(w.root))
}

func TestRun_AnalyzesOncePerPhaseOccurrence(t *testing.T) {
	w := newWorld(t)
	w.propose(ledger.Refactoring, refItem("One", "high"), refItem("Two", "medium"))

	assert.True(t, w.run())
	assert.True(t, w.run())

	assert.Equal(t, []ledger.Category{ledger.Refactoring}, w.analyzed)
	assert.Equal(t, []string{"REF-001", "REF-002"}, w.executed)
	assert.Equal(t, 2, w.state().RunCount)
}

func TestRun_PhaseCascadeStopsAtFirstFeature(t *testing.T) {
	w := newWorld(t)
	w.setState(analyzedPhase(state.PhaseRefactor))
	w.seed(ledger.Refactoring, refItem("Done already", "high"))
	l, err := ledger.Load(w.root, ledger.Refactoring, ledgerOpts)
	require.NoError(t, err)
	require.NoError(t, l.MarkCompleted("REF-001"))
	require.NoError(t, l.Save())
	w.seed(ledger.Features, featItem("Add opening book"), featItem("Add endgame tables"))

	assert.True(t, w.run())

	assert.Equal(t, []string{"FEAT-001"}, w.executed, "one feature per call")
	require.Len(t, w.vcs.commits, 1)
	assert.Equal(t, "Feature: FEAT-001 Add opening book", w.vcs.commits[0].message)

	s := w.state()
	assert.Equal(t, state.PhaseFeature, s.CurrentPhase)
	assert.Equal(t, 1, s.FeaturesCompleted)
	assert.Empty(t, s.ResumePhase)
	assert.Equal(t, []ledger.Category{
		ledger.Clippy, ledger.Clippy,
		ledger.Performance,
		ledger.Clippy, ledger.Clippy,
		ledger.Features,
	}, w.analyzed, "each cleanup re-analyzes once before concluding")
	assert.Equal(t, ledger.StatusNotStarted, w.item(ledger.Features, "FEAT-002").Status)
}

func TestRun_FailureKeepsPhase(t *testing.T) {
	w := newWorld(t)
	w.setState(analyzedPhase(state.PhaseRefactor))
	w.seed(ledger.Refactoring, refItem("Risky", "high"), refItem("Safe", "low"))
	w.behavior["REF-001"] = fail

	assert.False(t, w.run())

	s := w.state()
	assert.Equal(t, state.PhaseRefactor, s.CurrentPhase)
	assert.True(t, s.AnalysisDone)
	assert.Empty(t, w.vcs.commits)
	it := w.item(ledger.Refactoring, "REF-001")
	assert.Equal(t, 1, it.ConsecutiveFailures)

	// Second strike makes it permanent; the next run moves to the other item.
	assert.False(t, w.run())
	assert.Equal(t, ledger.StatusFailed, w.item(ledger.Refactoring, "REF-001").Status)
	assert.True(t, w.run())
	assert.Equal(t, []string{"REF-001", "REF-001", "REF-002"}, w.executed)
}

func TestRun_NoOpIsNotCommittedOrStruck(t *testing.T) {
	w := newWorld(t)
	w.setState(analyzedPhase(state.PhaseRefactor))
	w.seed(ledger.Refactoring, refItem("Already tidy", "high"))
	w.behavior["REF-001"] = noop

	assert.False(t, w.run())

	it := w.item(ledger.Refactoring, "REF-001")
	assert.Equal(t, ledger.StatusNoOp, it.Status)
	assert.Equal(t, 0, it.ConsecutiveFailures)
	assert.Empty(t, w.vcs.commits)
	assert.Equal(t, state.PhaseRefactor, w.state().CurrentPhase)
}

func TestRun_NoOpRevivedOnNextAnalysis(t *testing.T) {
	w := newWorld(t)
	w.seed(ledger.Refactoring, refItem("Retry me", "high"))
	l, err := ledger.Load(w.root, ledger.Refactoring, ledgerOpts)
	require.NoError(t, err)
	require.NoError(t, l.MarkNoOp("REF-001"))
	require.NoError(t, l.Save())

	assert.True(t, w.run())

	assert.Equal(t, []ledger.Category{ledger.Refactoring}, w.analyzed)
	assert.Equal(t, []string{"REF-001"}, w.executed)
	assert.Equal(t, ledger.StatusCompleted, w.item(ledger.Refactoring, "REF-001").Status)
}

func TestRun_LedgerOnlyChangeMovesToNextItem(t *testing.T) {
	w := newWorld(t)
	w.setState(analyzedPhase(state.PhaseRefactor))
	w.seed(ledger.Refactoring, refItem("Nothing tangible", "high"), refItem("Real work", "low"))
	w.behavior["REF-001"] = ledgerOnly

	assert.True(t, w.run())

	assert.Equal(t, []string{"REF-001", "REF-002"}, w.executed)
	require.Len(t, w.vcs.commits, 1)
	assert.Equal(t, "Refactor: REF-002 Real work", w.vcs.commits[0].message)
}

func TestRun_FeatureCapAdvancesToDone(t *testing.T) {
	w := newWorld(t)
	s := analyzedPhase(state.PhaseFeature)
	s.FeaturesCompleted = 3
	w.setState(s)
	w.seed(ledger.Features, featItem("One too many"))

	assert.False(t, w.run())

	got := w.state()
	assert.Equal(t, state.PhaseDone, got.CurrentPhase)
	assert.Empty(t, w.executed)
	assert.Equal(t, []ledger.Category{ledger.Clippy, ledger.Clippy}, w.analyzed)
}

func TestRun_LargeFeatureRestartsFromRefactor(t *testing.T) {
	w := newWorld(t)
	w.setState(analyzedPhase(state.PhaseFeature))
	w.seed(ledger.Features, featItem("Big one"))
	w.vcs.stats = diff.Stats{FilesChanged: 4, Additions: 90, Deletions: 30}

	assert.True(t, w.run())

	s := w.state()
	assert.Equal(t, state.PhaseRefactor, s.CurrentPhase)
	assert.False(t, s.AnalysisDone)
	assert.Empty(t, s.ResumePhase)
	assert.Equal(t, 1, s.FeaturesCompleted)
}

func TestRun_SmallFeatureStaysInPhase(t *testing.T) {
	w := newWorld(t)
	w.setState(analyzedPhase(state.PhaseFeature))
	w.seed(ledger.Features, featItem("Small one"))
	w.vcs.stats = diff.Stats{FilesChanged: 1, Additions: 60, Deletions: 40}

	assert.True(t, w.run())

	s := w.state()
	assert.Equal(t, state.PhaseFeature, s.CurrentPhase)
	assert.True(t, s.AnalysisDone)
}

func TestRun_CleanupReanalysisFindsNewDiagnostics(t *testing.T) {
	w := newWorld(t)
	s := analyzedPhase(state.PhaseCleanup)
	s.ResumePhase = state.PhasePerformance
	w.setState(s)
	w.propose(ledger.Clippy, ledger.Item{Title: "Remove needless borrow", Category: ledger.Clippy})

	assert.True(t, w.run())

	got := w.state()
	assert.Equal(t, state.PhaseCleanup, got.CurrentPhase)
	assert.True(t, got.CleanupReanalyzed)
	assert.Equal(t, state.PhasePerformance, got.ResumePhase)
	assert.Equal(t, []string{"CLIP-001"}, w.executed)
	assert.Equal(t, "Clippy: CLIP-001 Remove needless borrow", w.vcs.commits[0].message)

	// Exhausted again: no second re-analysis, cleanup resumes performance.
	w.analyzed = nil
	assert.False(t, w.run())
	assert.Equal(t, []ledger.Category{ledger.Performance, ledger.Clippy, ledger.Clippy, ledger.Features, ledger.Clippy, ledger.Clippy}, w.analyzed)
	assert.Equal(t, state.PhaseDone, w.state().CurrentPhase)
}

func TestRun_DoneDoesNothing(t *testing.T) {
	w := newWorld(t)
	w.setState(analyzedPhase(state.PhaseDone))

	assert.False(t, w.run())

	assert.Empty(t, w.analyzed)
	assert.Empty(t, w.executed)
	assert.Equal(t, 1, w.state().RunCount)
}

func TestRun_RecoversItemsLeftInProgress(t *testing.T) {
	w := newWorld(t)
	w.setState(analyzedPhase(state.PhaseRefactor))
	w.seed(ledger.Refactoring, refItem("Interrupted", "high"))
	l, err := ledger.Load(w.root, ledger.Refactoring, ledgerOpts)
	require.NoError(t, err)
	require.NoError(t, l.MarkInProgress("REF-001"))
	require.NoError(t, l.Save())

	assert.True(t, w.run())
	assert.Equal(t, []string{"REF-001"}, w.executed)
}

func TestRun_FatalAnalyzerErrorPropagates(t *testing.T) {
	w := newWorld(t)
	w.analyzeErr = mendErrors.ErrGeneratorUnavailable("OPENAI_API_KEY is not set")

	changed, err := w.orchestrator().RunSingleImprovement(context.Background())

	require.Error(t, err)
	assert.False(t, changed)
	assert.True(t, mendErrors.IsFatal(err))
	s := w.state()
	assert.False(t, s.AnalysisDone, "analysis is retried next time")
	assert.Equal(t, 1, s.RunCount)
}

func TestRun_GitFailureIsReported(t *testing.T) {
	w := newWorld(t)
	w.setState(analyzedPhase(state.PhaseRefactor))
	w.seed(ledger.Refactoring, refItem("Anything", "high"))
	w.vcs.diffErr = fmt.Errorf("not a git repository")

	_, err := w.orchestrator().RunSingleImprovement(context.Background())

	require.Error(t, err)
	assert.Equal(t, mendErrors.CodeGitFailed, mendErrors.AsMendError(err).Code)
}

func TestRun_RecordsJournal(t *testing.T) {
	w := newWorld(t)
	j, err := journal.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	w.setState(analyzedPhase(state.PhaseRefactor))
	w.seed(ledger.Refactoring, refItem("Journal me", "high"), refItem("Then fail", "low"))
	w.behavior["REF-002"] = fail

	tick := 0
	clock := func() time.Time {
		tick++
		return fixedNow.Add(time.Duration(tick) * time.Second)
	}
	o := w.orchestrator(WithRecorder(j), WithClock(clock))
	changed, err := o.RunSingleImprovement(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = o.RunSingleImprovement(context.Background())
	require.NoError(t, err)
	require.False(t, changed)

	runs, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, journal.OutcomeFailed, runs[0].Outcome)
	assert.Equal(t, "REF-002", runs[0].ItemID)
	assert.Equal(t, journal.OutcomeCommitted, runs[1].Outcome)
	assert.Equal(t, "REF-001", runs[1].ItemID)
	assert.Equal(t, "sha1", runs[1].Detail)
	assert.True(t, runs[1].Changed)
	assert.NotNil(t, runs[1].FinishedAt)
}

func TestIsBookkeeping(t *testing.T) {
	o := New(t.TempDir(), config.Default(), &fakeVCS{})
	tests := map[string]bool{
		".todo_refactoring.json":        true,
		"TODO_FEATURES.md":              true,
		".last_executor_change.json":    true,
		".mend/orchestrator_state.json": true,
		".mend/history.db":              true,
		"orchestrator.log":              true,
		".orchestrator_logs/x_fix.txt":  true,
		"src/main.rs":                   false,
		"docs/TODO.md":                  false,
		"src/orchestrator.log.rs":       false,
	}
	for path, want := range tests {
		assert.Equal(t, want, o.isBookkeeping(path), path)
	}
}

// TestRun_EndToEnd drives the real analyzer, gate and executor against a
// git repository with a scripted generator and toolchain.
func TestRun_EndToEnd(t *testing.T) {
	repo := testutil.SetupGitRepo(t, map[string]string{
		"src/lib.rs": "pub fn add(a: i32, b: i32) -> i32 { a + b }\n",
	})
	root := repo.RootDir
	gitRun := repo.Git

	cfg := config.Default()
	cfg.Toolchain.Build = "cargo build"
	cfg.Toolchain.Test = "cargo test"
	cfg.Workflow.FixAttempts = 0

	gen := llm.NewScripted(
		"```json\n"+`[{"title": "Format add", "priority": "high", "files_affected": ["src/lib.rs"], "description": "one statement per line"}]`+"\n```",
		"```rust\n// src/lib.rs\npub fn add(a: i32, b: i32) -> i32 {\n    a + b\n}\n```\n",
	)
	runner := toolchain.NewScriptedRunner(nil)
	vcs := git.New(root)
	o := New(root, cfg, vcs,
		WithClock(func() time.Time { return fixedNow }),
		WithComponents(Components{
			Generator: gen,
			Renderer:  prompt.NewRenderer(prompt.NewResolver()),
			Runner:    runner,
		}))

	changed, err := o.RunSingleImprovement(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, "Refactor: REF-001 Format add", gitRun("log", "-1", "--format=%s"))
	assert.Equal(t, "src/lib.rs", gitRun("show", "--name-only", "--format=", "HEAD"))

	s, err := state.Load(root, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseRefactor, s.CurrentPhase)
	assert.True(t, s.AnalysisDone)

	l, err := ledger.Load(root, ledger.Refactoring, ledgerOpts)
	require.NoError(t, err)
	it, err := l.Get("REF-001")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, it.Status)
	assert.NoFileExists(t, apply.RecordPath(root))
	assert.Equal(t, 2, gen.CallCount())
	assert.Positive(t, runner.CallCount())
}
