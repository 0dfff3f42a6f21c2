package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mend/internal/config"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/lint"
	"github.com/randalmurphal/mend/internal/llm"
	"github.com/randalmurphal/mend/internal/prompt"
	"github.com/randalmurphal/mend/internal/toolchain"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Toolchain.Build = "cargo build"
	cfg.Lint.Command = "cargo clippy --message-format=json"
	return cfg
}

func newAnalyzer(root string, category ledger.Category, gen llm.Generator, opts ...Option) *Analyzer {
	opts = append(opts, WithLedgerOptions(ledger.Options{Now: func() time.Time {
		return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	}}))
	return New(root, category, testConfig(), gen, prompt.NewRenderer(prompt.NewResolver()), opts...)
}

func rustRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/main.rs", "fn main() {}\n")
	writeFile(t, root, "src/search/engine.rs", "pub fn search() {}\n")
	writeFile(t, root, "target/debug/build.rs", "generated\n")
	writeFile(t, root, "README.md", "# Engine\n")
	return root
}

const twoItems = "```json\n" + `[
  {"title": "Extract move ordering", "priority": "high", "files_affected": ["src/search/engine.rs"], "description": "split it"},
  {"title": "Name magic numbers", "priority": "low", "status": "completed", "consecutive_failures": 5}
]` + "\n```"

func TestAnalyze_AddsItemsWithIDs(t *testing.T) {
	root := rustRepo(t)
	gen := llm.NewScripted(twoItems)

	added, err := newAnalyzer(root, ledger.Refactoring, gen).Analyze(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, added)

	l, err := ledger.Load(root, ledger.Refactoring, ledger.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"REF-001", "REF-002"}, l.IDs())
	second, _ := l.Get("REF-002")
	assert.Equal(t, ledger.StatusNotStarted, second.Status, "model cannot set lifecycle fields")
	assert.Equal(t, 0, second.ConsecutiveFailures)
	assert.FileExists(t, ledger.MarkdownPath(root, ledger.Refactoring))

	call := gen.Calls()[0]
	assert.Equal(t, llm.RoleAnalyzer, call.Role)
	assert.Contains(t, call.User, "// ========== FILE: src/search/engine.rs ==========")
	assert.NotContains(t, call.User, "target/debug", "excluded globs are pruned")
}

func TestAnalyze_PromptListsKnownItemsAndSkipsDuplicates(t *testing.T) {
	root := rustRepo(t)
	l, err := ledger.Load(root, ledger.Refactoring, ledger.Options{})
	require.NoError(t, err)
	l.AddItems([]ledger.Item{{Title: "Extract move ordering"}}, true)
	require.NoError(t, l.MarkCompleted("REF-001"))
	require.NoError(t, l.Save())

	gen := llm.NewScripted(twoItems)
	added, err := newAnalyzer(root, ledger.Refactoring, gen).Analyze(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, added, "completed title is suppressed")
	assert.Contains(t, gen.Calls()[0].User, "REF-001: Extract move ordering [completed]")
}

func TestAnalyze_UnparseableResponseIsDumped(t *testing.T) {
	root := rustRepo(t)
	gen := llm.NewScripted("Sorry, the code looks perfect to me.")

	added, err := newAnalyzer(root, ledger.Performance, gen).Analyze(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, added)
	entries, err := os.ReadDir(filepath.Join(root, ".orchestrator_logs"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "analyze_performance")
}

func TestAnalyze_GeneratorFailureDegrades(t *testing.T) {
	root := rustRepo(t)
	gen := llm.NewScripted()
	gen.Push(llm.ScriptedResponse{Err: errors.New("503 service unavailable")})

	added, err := newAnalyzer(root, ledger.Features, gen).Analyze(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestAnalyze_FatalGeneratorErrorPropagates(t *testing.T) {
	root := rustRepo(t)
	gen := llm.NewScripted()
	gen.Push(llm.ScriptedResponse{Err: mendErrors.ErrGeneratorUnavailable("invalid API key")})

	_, err := newAnalyzer(root, ledger.Features, gen).Analyze(context.Background())

	require.Error(t, err)
	assert.True(t, mendErrors.IsFatal(err))
}

func TestAnalyze_FeaturesIncludeDocsFirst(t *testing.T) {
	root := rustRepo(t)
	gen := llm.NewScripted("[]")

	added, err := newAnalyzer(root, ledger.Features, gen).Analyze(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, added)
	user := gen.Calls()[0].User
	assert.Less(t, strings.Index(user, "FILE: README.md"), strings.Index(user, "FILE: src/main.rs"))
}

func TestAnalyze_NoSourceFiles(t *testing.T) {
	gen := llm.NewScripted()

	added, err := newAnalyzer(t.TempDir(), ledger.Refactoring, gen).Analyze(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, gen.CallCount())
}

const clippyStream = `{"reason":"compiler-message","message":{"code":{"code":"clippy::needless_borrow"},"level":"warning","message":"this expression creates a reference which is immediately dereferenced","rendered":"warning: needless borrow","spans":[{"file_name":"src/search/engine.rs","is_primary":true,"line_start":7,"line_end":7,"column_start":12,"column_end":16,"text":[{"text":"    search(&pos);","highlight_start":12,"highlight_end":16}],"suggested_replacement":"pos"}],"children":[]}}
{"reason":"compiler-message","message":{"code":{"code":"clippy::needless_borrow"},"level":"warning","message":"again","rendered":"r","spans":[{"file_name":"src/search/engine.rs","is_primary":true,"line_start":9,"line_end":9,"column_start":1,"column_end":2,"text":[]}],"children":[]}}
{"reason":"compiler-message","message":{"code":{"code":"clippy::redundant_clone"},"level":"warning","message":"redundant clone","rendered":"r2","spans":[{"file_name":"src/main.rs","is_primary":true,"line_start":3,"line_end":3,"column_start":5,"column_end":9,"text":[]}],"children":[]}}`

func TestAnalyze_ClippyEnrichesMetadata(t *testing.T) {
	root := rustRepo(t)
	runner := toolchain.NewScriptedRunner(func(cmd toolchain.Command) *toolchain.Result {
		return &toolchain.Result{ExitCode: 1, Stdout: clippyStream}
	})
	gen := llm.NewScripted("```json\n" + `[
  {"title": "Fix clippy::needless_borrow in engine", "files_affected": ["src/search/engine.rs"]},
  {"title": "Remove redundant_clone", "files_affected": []},
  {"title": "Something unrelated"}
]` + "\n```")

	added, err := newAnalyzer(root, ledger.Clippy, gen, WithRunner(runner)).Analyze(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, added)
	require.Equal(t, 1, runner.CallCount())
	assert.Equal(t, "lint-json", runner.Calls()[0].Name)

	user := gen.Calls()[0].User
	assert.Equal(t, 1, strings.Count(user, "clippy::needless_borrow: src/search/engine.rs"), "deduped by code and file")

	l, err := ledger.Load(root, ledger.Clippy, ledger.Options{})
	require.NoError(t, err)

	first, _ := l.Get("CLIP-001")
	assert.Equal(t, "clippy::needless_borrow", first.MetaString(ledger.MetaCode))
	assert.Equal(t, "src/search/engine.rs", first.MetaString(ledger.MetaFile))
	assert.Equal(t, 7, first.MetaInt(ledger.MetaLine))
	assert.Equal(t, 12, first.MetaInt(ledger.MetaColumn))
	assert.Len(t, first.Metadata[ledger.MetaSuggestions], 1)

	second, _ := l.Get("CLIP-002")
	assert.Equal(t, "clippy::redundant_clone", second.MetaString(ledger.MetaCode), "short code name matches")
	assert.Equal(t, []string{"src/main.rs"}, second.FilesAffected)

	third, _ := l.Get("CLIP-003")
	assert.Empty(t, third.MetaString(ledger.MetaCode))
}

func TestAnalyze_ClippyClean(t *testing.T) {
	root := rustRepo(t)
	runner := toolchain.NewScriptedRunner(nil)
	gen := llm.NewScripted()

	added, err := newAnalyzer(root, ledger.Clippy, gen, WithRunner(runner)).Analyze(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, gen.CallCount())
}

func TestSelectorCollect(t *testing.T) {
	root := rustRepo(t)
	writeFile(t, root, "src/eval/hot.rs", "fn hot() {}\n")

	files, err := Selector{
		Include: []string{"**/*.rs"},
		Exclude: []string{"target/**"},
		First:   []string{"src/eval/**"},
	}.Collect(root)

	require.NoError(t, err)
	assert.Equal(t, []string{"src/eval/hot.rs", "src/main.rs", "src/search/engine.rs"}, files)
}

func TestBundle_Budget(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.rs", strings.Repeat("a", 100))
	writeFile(t, root, "big.rs", strings.Repeat("b", 5000))
	writeFile(t, root, "c.rs", strings.Repeat("c", 100))
	writeFile(t, root, "d.rs", strings.Repeat("d", 100))

	text, included := Bundle(root, []string{"a.rs", "big.rs", "c.rs", "d.rs"}, Budget{MaxBytes: 350, MaxFileBytes: 1000})

	assert.Equal(t, []string{"a.rs", "c.rs"}, included, "oversized file skipped, budget stops the rest")
	assert.Contains(t, text, FileHeader("a.rs"))
	assert.NotContains(t, text, "bbbb")
}

func TestMatchDiagnostic_UsesExistingMetadata(t *testing.T) {
	diags := []lint.Diagnostic{
		{Code: "clippy::a", File: "x.rs", Line: 1},
		{Code: "clippy::a", File: "x.rs", Line: 5},
	}
	it := &ledger.Item{Title: "whatever"}
	it.SetMeta(ledger.MetaCode, "clippy::a")
	it.SetMeta(ledger.MetaFile, "x.rs")
	it.SetMeta(ledger.MetaLine, 5)

	d, ok := matchDiagnostic(it, diags)
	require.True(t, ok)
	assert.Equal(t, 5, d.Line)
}
