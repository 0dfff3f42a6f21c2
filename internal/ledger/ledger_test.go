package ledger

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mendErrors "github.com/randalmurphal/mend/internal/errors"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testOpts() Options {
	return Options{Now: func() time.Time { return fixedNow }}
}

func newLedger(t *testing.T, category Category) (*Ledger, string) {
	t.Helper()
	root := t.TempDir()
	l, err := Load(root, category, testOpts())
	require.NoError(t, err)
	return l, root
}

func reload(t *testing.T, root string, category Category) *Ledger {
	t.Helper()
	l, err := Load(root, category, testOpts())
	require.NoError(t, err)
	return l
}

func TestLoad_MissingAndCorrupt(t *testing.T) {
	l, root := newLedger(t, Refactoring)
	assert.Equal(t, 0, l.Len())

	require.NoError(t, os.WriteFile(JSONPath(root, Refactoring), []byte("{not json"), 0o644))
	l = reload(t, root, Refactoring)
	assert.Equal(t, 0, l.Len())
}

func TestAddItems_AssignsSequentialIDs(t *testing.T) {
	l, _ := newLedger(t, Performance)

	added := l.AddItems([]Item{{Title: "Cache move generation"}, {Title: "Avoid clone in search"}}, true)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"PERF-001", "PERF-002"}, l.IDs())

	items := l.Items()
	assert.Equal(t, StatusNotStarted, items[0].Status)
	assert.Equal(t, PriorityMedium, items[0].Priority)
	assert.Equal(t, fixedNow, items[0].CreatedAt)
	assert.Equal(t, Performance, items[0].Category)
}

func TestAddItems_ContinuesFromMaxAndReassignsCollisions(t *testing.T) {
	l, _ := newLedger(t, Refactoring)
	l.AddItems([]Item{{ID: "REF-007", Title: "Existing"}}, true)

	l.AddItems([]Item{{ID: "REF-007", Title: "Collides"}, {Title: "Fresh"}}, true)

	assert.Equal(t, []string{"REF-007", "REF-008", "REF-009"}, l.IDs())
}

func TestAddItems_SkipsUntitledAndNormalizesStatus(t *testing.T) {
	l, _ := newLedger(t, Features)

	added := l.AddItems([]Item{{Title: "  "}, {Title: "Export PGN", Status: "in-progress"}, {Title: "UCI ponder", Status: "bogus"}}, true)
	assert.Equal(t, 2, added)
	for _, it := range l.Items() {
		assert.Equal(t, StatusNotStarted, it.Status)
	}
}

// Duplicates are only suppressed against completed items; a failed item's
// title can be proposed again.
func TestAddItems_DuplicateSuppression(t *testing.T) {
	l, _ := newLedger(t, Refactoring)
	l.AddItems([]Item{
		{Title: "Extract Move Ordering", FilesAffected: []string{"src/search/engine.rs"}},
		{Title: "Split position module", FilesAffected: []string{"src/core/position.rs"}},
	}, true)
	require.NoError(t, l.MarkCompleted("REF-001"))
	require.NoError(t, l.MarkFailed("REF-002", true))

	assert.Equal(t, 0, l.AddItems([]Item{{Title: "extract move ordering"}}, true), "title match vs completed")
	assert.Equal(t, 0, l.AddItems([]Item{{Title: "Other wording", FilesAffected: []string{"src/search/engine.rs"}}}, true), "same file set vs completed")
	assert.Equal(t, 1, l.AddItems([]Item{{Title: "Split position module"}}, true), "failed items do not suppress")

	assert.Equal(t, 1, l.AddItems([]Item{{Title: "extract move ordering"}}, false), "check disabled")
}

func TestIsDuplicateOf(t *testing.T) {
	a := &Item{Title: "A", Category: Clippy, FilesAffected: []string{"x.rs", "y.rs"}}
	tests := []struct {
		name  string
		other *Item
		want  bool
	}{
		{"same title different case", &Item{Title: "a"}, true},
		{"same file set reordered", &Item{Title: "B", Category: Clippy, FilesAffected: []string{"y.rs", "x.rs"}}, true},
		{"same files other category", &Item{Title: "B", Category: Features, FilesAffected: []string{"x.rs", "y.rs"}}, false},
		{"subset", &Item{Title: "B", Category: Clippy, FilesAffected: []string{"x.rs"}}, false},
		{"both unscoped", &Item{Title: "B", Category: Clippy}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.IsDuplicateOf(tt.other))
		})
	}
}

func TestNextItem_PriorityDependenciesAndOrder(t *testing.T) {
	l, _ := newLedger(t, Refactoring)
	l.AddItems([]Item{
		{Title: "low one", Priority: "low"},
		{Title: "high first", Priority: "high"},
		{Title: "high second", Priority: "high"},
		{Title: "critical blocked", Priority: "critical", Dependencies: []string{"REF-001"}},
		{Title: "weird priority", Priority: "urgent-ish"},
	}, true)

	next, reason := l.NextItem()
	require.NotNil(t, next)
	assert.Equal(t, ReasonFound, reason)
	assert.Equal(t, "REF-002", next.ID, "critical item is blocked, first high wins on insertion order")

	require.NoError(t, l.MarkCompleted("REF-001"))
	next, _ = l.NextItem()
	assert.Equal(t, "REF-004", next.ID, "dependency met")
}

func TestNextItem_EmptyVsBlocked(t *testing.T) {
	l, _ := newLedger(t, Features)
	next, reason := l.NextItem()
	assert.Nil(t, next)
	assert.Equal(t, ReasonEmpty, reason)

	l.AddItems([]Item{{Title: "needs missing", Dependencies: []string{"FEAT-999"}}}, true)
	next, reason = l.NextItem()
	assert.Nil(t, next)
	assert.Equal(t, ReasonBlocked, reason)
}

func TestNextItem_ReturnsCopy(t *testing.T) {
	l, _ := newLedger(t, Features)
	l.AddItems([]Item{{Title: "x"}}, true)

	next, _ := l.NextItem()
	next.Status = StatusCompleted
	got, err := l.Get(next.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotStarted, got.Status)
}

// Two strikes make an item permanently ineligible, and that survives a
// reload.
func TestMarkFailed_TwoStrikesPersist(t *testing.T) {
	l, root := newLedger(t, Refactoring)
	l.AddItems([]Item{{Title: "flaky"}}, true)

	require.NoError(t, l.MarkFailed("REF-001", false))
	it, _ := l.Get("REF-001")
	assert.Equal(t, StatusNotStarted, it.Status)
	assert.Equal(t, 1, it.ConsecutiveFailures)
	assert.Nil(t, it.CompletedAt)

	require.NoError(t, l.MarkFailed("REF-001", false))
	require.NoError(t, l.Save())

	l = reload(t, root, Refactoring)
	it, _ = l.Get("REF-001")
	assert.Equal(t, StatusFailed, it.Status)
	assert.Equal(t, 2, it.ConsecutiveFailures)
	assert.NotNil(t, it.CompletedAt)

	next, _ := l.NextItem()
	assert.Nil(t, next)
}

func TestMarkFailed_Permanent(t *testing.T) {
	l, _ := newLedger(t, Refactoring)
	l.AddItems([]Item{{Title: "broken base"}}, true)

	require.NoError(t, l.MarkFailed("REF-001", true))
	it, _ := l.Get("REF-001")
	assert.Equal(t, StatusFailed, it.Status)
	assert.Equal(t, 1, it.ConsecutiveFailures)
}

func TestMarkCompleted_ResetsStrikes(t *testing.T) {
	l, _ := newLedger(t, Refactoring)
	l.AddItems([]Item{{Title: "x"}}, true)
	require.NoError(t, l.MarkFailed("REF-001", false))

	require.NoError(t, l.MarkCompleted("REF-001"))
	it, _ := l.Get("REF-001")
	assert.Equal(t, 0, it.ConsecutiveFailures)
	require.NotNil(t, it.CompletedAt)
	assert.Equal(t, fixedNow, *it.CompletedAt)
}

// A crashed run leaves an item in-progress; recovery makes it eligible again
// without touching its strike count.
func TestResetInProgress_CrashRecovery(t *testing.T) {
	l, root := newLedger(t, Performance)
	l.AddItems([]Item{{Title: "interrupted"}}, true)
	require.NoError(t, l.MarkFailed("PERF-001", false))
	require.NoError(t, l.MarkInProgress("PERF-001"))
	require.NoError(t, l.Save())

	l = reload(t, root, Performance)
	next, _ := l.NextItem()
	assert.Nil(t, next, "stuck item is not eligible before recovery")

	assert.Equal(t, 1, l.ResetInProgress())
	next, _ = l.NextItem()
	require.NotNil(t, next)
	assert.Equal(t, "PERF-001", next.ID)
	assert.Equal(t, 1, next.ConsecutiveFailures)
}

func TestNoOpLifecycle(t *testing.T) {
	l, _ := newLedger(t, Clippy)
	l.AddItems([]Item{{Title: "already clean"}}, true)

	require.NoError(t, l.MarkNoOp("CLIP-001"))
	it, _ := l.Get("CLIP-001")
	assert.Equal(t, StatusNoOp, it.Status)
	assert.Equal(t, 0, it.ConsecutiveFailures)
	assert.Nil(t, it.CompletedAt)

	next, _ := l.NextItem()
	assert.Nil(t, next, "no-op items wait for the next analysis")

	assert.Equal(t, 1, l.ReviveNoOps())
	next, _ = l.NextItem()
	require.NotNil(t, next)
}

func TestMark_UnknownID(t *testing.T) {
	l, _ := newLedger(t, Clippy)

	for _, err := range []error{
		l.MarkInProgress("CLIP-404"),
		l.MarkCompleted("CLIP-404"),
		l.MarkFailed("CLIP-404", false),
		l.MarkNoOp("CLIP-404"),
	} {
		require.Error(t, err)
		assert.Equal(t, mendErrors.CodeItemNotFound, mendErrors.AsMendError(err).Code)
	}
	_, err := l.Get("CLIP-404")
	assert.Error(t, err)
}

func TestCountByStatus(t *testing.T) {
	l, _ := newLedger(t, Refactoring)
	l.AddItems([]Item{{Title: "a"}, {Title: "b"}, {Title: "c"}}, true)
	require.NoError(t, l.MarkCompleted("REF-001"))
	require.NoError(t, l.MarkInProgress("REF-002"))

	assert.Equal(t, 1, l.CountByStatus(StatusCompleted))
	assert.Equal(t, 1, l.CountByStatus(StatusInProgress))
	assert.Equal(t, 1, l.CountByStatus(StatusNotStarted))
}

func TestSave_PruneCompleted(t *testing.T) {
	root := t.TempDir()
	opts := testOpts()
	opts.PruneCompleted = true
	l, err := Load(root, Refactoring, opts)
	require.NoError(t, err)

	l.AddItems([]Item{{Title: "done soon"}, {Title: "still open"}}, true)
	require.NoError(t, l.MarkCompleted("REF-001"))
	require.NoError(t, l.Save())

	l, err = Load(root, Refactoring, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"REF-002"}, l.IDs())
	// With the completed item gone, its title is no longer suppressed
	assert.Equal(t, 1, l.AddItems([]Item{{Title: "done soon"}}, true))
	assert.Equal(t, []string{"REF-002", "REF-003"}, l.IDs())
}

func TestSave_PruneCompletedKeepsDependenciesAndSequence(t *testing.T) {
	root := t.TempDir()
	opts := testOpts()
	opts.PruneCompleted = true
	l, err := Load(root, Refactoring, opts)
	require.NoError(t, err)

	l.AddItems([]Item{
		{Title: "extract parser"},
		{Title: "use parser", Dependencies: []string{"REF-001"}},
	}, true)
	require.NoError(t, l.MarkCompleted("REF-001"))
	require.NoError(t, l.Save())
	assert.FileExists(t, PrunedPath(root, Refactoring))

	l, err = Load(root, Refactoring, opts)
	require.NoError(t, err)
	next, reason := l.NextItem()
	require.NotNil(t, next, "a pruned completed dependency is satisfied")
	assert.Equal(t, ReasonFound, reason)
	assert.Equal(t, "REF-002", next.ID)

	// Prune the item holding the highest number; its id is never reused
	require.NoError(t, l.MarkCompleted("REF-002"))
	require.NoError(t, l.Save())

	l, err = Load(root, Refactoring, opts)
	require.NoError(t, err)
	assert.Empty(t, l.IDs())
	assert.Equal(t, 2, l.AddItems([]Item{{Title: "inline helper"}, {ID: "REF-001", Title: "reuses an old id"}}, true))
	assert.Equal(t, []string{"REF-003", "REF-004"}, l.IDs())
}

func TestLoad_CorruptPruneRecordIsIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(PrunedPath(root, Refactoring), []byte("{oops"), 0o644))

	l := reload(t, root, Refactoring)
	l.AddItems([]Item{{Title: "first"}}, true)
	assert.Equal(t, []string{"REF-001"}, l.IDs())
}

func TestSave_RoundTripKeepsMetadata(t *testing.T) {
	l, root := newLedger(t, Clippy)
	l.AddItems([]Item{{
		Title:         "needless_borrow in engine",
		FilesAffected: []string{"src/search/engine.rs"},
		Metadata: map[string]any{
			MetaCode: "clippy::needless_borrow",
			MetaLine: 42,
			MetaSuggestions: []any{
				map[string]any{"suggestion": "&x", "replacement": "x"},
			},
		},
	}}, true)
	require.NoError(t, l.Save())

	raw, err := os.ReadFile(JSONPath(root, Clippy))
	require.NoError(t, err)
	var generic []map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Len(t, generic, 1)
	assert.Equal(t, "clippy::needless_borrow", generic[0]["code"], "metadata is flattened to top-level keys")
	assert.Equal(t, float64(0), generic[0]["consecutive_failures"])

	l = reload(t, root, Clippy)
	it, err := l.Get("CLIP-001")
	require.NoError(t, err)
	assert.Equal(t, "clippy::needless_borrow", it.MetaString(MetaCode))
	assert.Equal(t, 42, it.MetaInt(MetaLine))
	assert.Len(t, it.Metadata[MetaSuggestions], 1)
}

func TestLoad_LenientForeignLedger(t *testing.T) {
	root := t.TempDir()
	foreign := `[
  {"id": "REF-003", "title": "Old style", "priority": "HIGH", "status": "completed",
   "created_at": "2025-01-02T03:04:05.123456", "completed_at": null,
   "files_affected": "src/a.rs, src/b.rs", "extra_note": "keep me"},
  {"id": "REF-004", "title": "Struck out", "consecutive_failures": 3}
]`
	require.NoError(t, os.WriteFile(JSONPath(root, Refactoring), []byte(foreign), 0o644))

	l := reload(t, root, Refactoring)
	require.Equal(t, 2, l.Len())

	old, _ := l.Get("REF-003")
	assert.Equal(t, "high", old.Priority)
	assert.Equal(t, []string{"src/a.rs", "src/b.rs"}, old.FilesAffected)
	assert.Equal(t, 2025, old.CreatedAt.Year())
	assert.NotNil(t, old.CompletedAt, "completed items always carry completed_at")
	assert.Equal(t, "keep me", old.MetaString("extra_note"))

	struck, _ := l.Get("REF-004")
	assert.Equal(t, StatusFailed, struck.Status)
	assert.NotNil(t, struck.CompletedAt)
}

func TestMarkdownSummary(t *testing.T) {
	l, root := newLedger(t, Refactoring)
	l.AddItems([]Item{
		{Title: "Done thing", Description: "did it", FilesAffected: []string{"a.rs"}},
		{Title: "Open thing", Dependencies: []string{"REF-001"}, EstimatedComplexity: "low"},
	}, true)
	require.NoError(t, l.MarkCompleted("REF-001"))
	require.NoError(t, l.Save())

	md, err := os.ReadFile(MarkdownPath(root, Refactoring))
	require.NoError(t, err)
	text := string(md)

	assert.True(t, strings.HasPrefix(text, "# TODO List: Refactoring\n"))
	assert.Contains(t, text, "Generated: 2026-03-01 12:00:00")
	assert.Contains(t, text, "**Stats**: 2 total | 1 not started | 0 in progress | 1 completed")
	assert.Contains(t, text, "### [x] REF-001: Done thing")
	assert.Contains(t, text, "### [ ] REF-002: Open thing")
	assert.Contains(t, text, "- **Dependencies**: REF-001")
	assert.Less(t, strings.Index(text, "## Not Started"), strings.Index(text, "## Completed"))
}

func TestIsLedgerFile(t *testing.T) {
	assert.True(t, IsLedgerFile(".todo_clippy.json"))
	assert.True(t, IsLedgerFile(".todo_clippy.pruned.json"))
	assert.True(t, IsLedgerFile("TODO_FEATURES.md"))
	assert.False(t, IsLedgerFile("src/todo.rs"))
	assert.False(t, IsLedgerFile("README.md"))
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("Performance")
	require.NoError(t, err)
	assert.Equal(t, Performance, c)
	assert.Equal(t, "PERF", c.Prefix())

	_, err = ParseCategory("docs")
	assert.Error(t, err)
}

func TestCommitLabel(t *testing.T) {
	assert.Equal(t, "Refactor", Refactoring.CommitLabel())
	assert.Equal(t, "Perf", Performance.CommitLabel())
	assert.Equal(t, "Clippy", Clippy.CommitLabel())
	assert.Equal(t, "Feature", Features.CommitLabel())
}
