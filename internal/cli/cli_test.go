package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/config"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/journal"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/lock"
	"github.com/randalmurphal/mend/internal/state"
	"github.com/randalmurphal/mend/internal/testutil"
)

type cliResult struct {
	out  string
	err  string
	code int
}

// newRepo creates a Rust-looking repository so toolchain detection succeeds.
func newRepo(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return testutil.NewRepo(t, map[string]string{"Cargo.toml": "[package]\nname = \"demo\"\n"}).RootDir
}

// resetFlags restores every flag to its default so tests do not leak
// values into each other through the shared command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, repo, stdin string, args ...string) cliResult {
	t.Helper()
	resetFlags(rootCmd)
	cfgFile, repoDir, verbose, quiet, jsonOut = "", "", false, false, false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--repo", repo}, args...))
	err := rootCmd.Execute()
	return cliResult{out: out.String(), err: errOut.String(), code: ExitCode(err)}
}

func seedLedger(t *testing.T, repo string, cat ledger.Category, inProgress bool) {
	t.Helper()
	l, err := ledger.Load(repo, cat, ledger.Options{})
	require.NoError(t, err)
	l.AddItems([]ledger.Item{{Title: "Split parser", Priority: ledger.PriorityHigh}}, false)
	if inProgress {
		require.NoError(t, l.MarkInProgress(l.IDs()[0]))
	}
	require.NoError(t, l.Save())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, mendErrors.ExitOK},
		{"nothing merged", errNothingMerged, mendErrors.ExitStep},
		{"plain error", os.ErrNotExist, mendErrors.ExitStep},
		{"fatal", mendErrors.ErrConfigMissing("model.base_url"), mendErrors.ExitFatal},
		{"done", mendErrors.ErrWorkflowDone(), mendErrors.ExitComplete},
		{"busy", mendErrors.ErrAlreadyRunning("me@host", 42), mendErrors.ExitBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestVersion(t *testing.T) {
	res := runCLI(t, t.TempDir(), "", "version")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.out, "mend version")
}

func TestStatus_FreshRepository(t *testing.T) {
	repo := newRepo(t)
	seedLedger(t, repo, ledger.Refactoring, false)

	res := runCLI(t, repo, "", "--json", "status")
	require.Equal(t, 0, res.code, res.err)

	var report struct {
		State struct {
			CurrentPhase string `json:"current_phase"`
		} `json:"state"`
		MaxFeatures int `json:"max_features"`
		Ledgers     []struct {
			Category string         `json:"category"`
			Total    int            `json:"total"`
			Counts   map[string]int `json:"counts"`
		} `json:"ledgers"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.out), &report))
	assert.Equal(t, "refactor", report.State.CurrentPhase)
	assert.Equal(t, 3, report.MaxFeatures)
	require.Len(t, report.Ledgers, len(ledger.AllCategories))
	assert.Equal(t, "refactoring", report.Ledgers[0].Category)
	assert.Equal(t, 1, report.Ledgers[0].Counts["not-started"])

	assert.False(t, state.Exists(repo), "status must not create state")
}

func TestStatus_HumanOutput(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, apply.RecordChange(repo, apply.ChangeRecord{Phase: "refactor", ItemID: "REF-001", Title: "Split parser", Files: []string{"src/lib.rs"}}))

	res := runCLI(t, repo, "", "status")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "refactor")
	assert.Contains(t, res.out, "clippy")
	assert.Contains(t, res.out, "REF-001")
}

func TestRecover(t *testing.T) {
	repo := newRepo(t)
	seedLedger(t, repo, ledger.Refactoring, true)
	seedLedger(t, repo, ledger.Features, false)

	res := runCLI(t, repo, "", "recover")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "refactoring: 1 item(s) reset")
	assert.NotContains(t, res.out, "features")

	l, err := ledger.Load(repo, ledger.Refactoring, ledger.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, l.CountByStatus(ledger.StatusInProgress))
	assert.Equal(t, 1, l.CountByStatus(ledger.StatusNotStarted))

	res = runCLI(t, repo, "", "recover")
	assert.Contains(t, res.out, "No items were in progress.")
	assert.NoFileExists(t, filepath.Join(repo, config.MendDir, lock.FileName), "lock released")
}

func TestReset(t *testing.T) {
	repo := newRepo(t)
	seedLedger(t, repo, ledger.Performance, false)
	st := state.New(time.Now())
	st.Advance(time.Now())
	require.NoError(t, st.Save(repo))

	res := runCLI(t, repo, "n\n", "reset")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Aborted.")
	assert.True(t, state.Exists(repo))

	res = runCLI(t, repo, "y\n", "reset")
	require.Equal(t, 0, res.code, res.err)
	assert.False(t, state.Exists(repo))
	assert.FileExists(t, ledger.JSONPath(repo, ledger.Performance), "ledgers kept without --ledgers")

	res = runCLI(t, repo, "", "reset", "--ledgers", "--force")
	require.Equal(t, 0, res.code, res.err)
	assert.NoFileExists(t, ledger.JSONPath(repo, ledger.Performance))
	assert.NoFileExists(t, ledger.MarkdownPath(repo, ledger.Performance))
}

func TestInit(t *testing.T) {
	repo := newRepo(t)

	res := runCLI(t, repo, "", "init")
	require.Equal(t, 0, res.code, res.err)
	path := config.ProjectPath(repo)
	assert.Contains(t, res.out, path)

	cfg, err := config.LoadProject(repo)
	require.NoError(t, err)
	assert.Contains(t, cfg.Toolchain.Build, "cargo")
	assert.Contains(t, cfg.Toolchain.Test, "cargo")

	res = runCLI(t, repo, "", "init")
	assert.Equal(t, mendErrors.ExitStep, res.code, "refuses to overwrite")

	res = runCLI(t, repo, "", "init", "--force")
	assert.Equal(t, 0, res.code, res.err)
}

func TestConfigSetGet(t *testing.T) {
	repo := newRepo(t)

	res := runCLI(t, repo, "", "config", "set", "workflow.max_features", "5")
	require.Equal(t, 0, res.code, res.err)

	res = runCLI(t, repo, "", "config", "get", "workflow.max_features")
	require.Equal(t, 0, res.code, res.err)
	assert.Equal(t, "5", strings.TrimSpace(res.out))

	res = runCLI(t, repo, "", "config", "set", "workflow.max_features", "many")
	assert.NotEqual(t, 0, res.code)

	res = runCLI(t, repo, "", "config", "list")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "workflow.large_diff_threshold")
}

func TestRun_WorkflowDone(t *testing.T) {
	repo := newRepo(t)
	st := state.New(time.Now())
	st.CurrentPhase = state.PhaseDone
	require.NoError(t, st.Save(repo))

	res := runCLI(t, repo, "", "run")
	assert.Equal(t, mendErrors.ExitComplete, res.code)
}

func TestRun_MissingCredentialIsFatal(t *testing.T) {
	repo := newRepo(t)
	t.Setenv("OPENAI_API_KEY", "")

	res := runCLI(t, repo, "", "run")
	assert.Equal(t, mendErrors.ExitFatal, res.code)
	assert.NoFileExists(t, filepath.Join(repo, config.MendDir, lock.FileName), "lock released on error")
}

func TestRun_Busy(t *testing.T) {
	repo := newRepo(t)
	now := time.Now().UTC()
	data, err := yaml.Marshal(lock.Lock{
		Owner:     "someone@elsewhere",
		Acquired:  now,
		Heartbeat: now,
		TTL:       lock.DefaultTTL.String(),
		PID:       os.Getppid(),
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(repo, config.MendDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, config.MendDir, lock.FileName), data, 0o644))

	res := runCLI(t, repo, "", "run")
	assert.Equal(t, mendErrors.ExitBusy, res.code)
}

func TestExecute_UnknownItem(t *testing.T) {
	repo := newRepo(t)
	seedLedger(t, repo, ledger.Refactoring, false)

	res := runCLI(t, repo, "", "execute", "refactoring", "REF-999")
	assert.Equal(t, mendErrors.ExitStep, res.code)

	res = runCLI(t, repo, "", "execute", "bogus", "next")
	assert.Equal(t, mendErrors.ExitStep, res.code)
}

func TestExecute_NextOnEmptyLedger(t *testing.T) {
	repo := newRepo(t)

	res := runCLI(t, repo, "", "execute", "clippy", "next")
	assert.Equal(t, mendErrors.ExitStep, res.code)
	assert.Contains(t, res.out, "No eligible item in clippy")
}

func TestFinalize_NoRecord(t *testing.T) {
	repo := newRepo(t)

	res := runCLI(t, repo, "", "finalize")
	assert.Equal(t, mendErrors.ExitStep, res.code)
}

func TestHistory_JournalDisabled(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	repo := testutil.NewRepo(t, map[string]string{"Cargo.toml": "[package]\n"})
	repo.SetConfig("journal.enabled", false)

	res := runCLI(t, repo.RootDir, "", "history")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "journal is disabled")
}

func TestHistory(t *testing.T) {
	repo := newRepo(t)

	res := runCLI(t, repo, "", "history")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "No runs recorded yet.")

	cfg := config.Default()
	j, err := journal.Open(cfg.Journal.PathIn(repo))
	require.NoError(t, err)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	require.NoError(t, j.Start(t.Context(), "run-1", "refactor", started))
	require.NoError(t, j.Finish(t.Context(), journal.Run{
		ID: "run-1", StartedAt: started, FinishedAt: &finished, Phase: "refactor",
		ItemID: "REF-001", Outcome: journal.OutcomeCommitted, Changed: true, Detail: "sha1",
	}))
	require.NoError(t, j.Close())

	res = runCLI(t, repo, "", "--json", "history")
	require.Equal(t, 0, res.code, res.err)
	var runs []journal.Run
	require.NoError(t, json.Unmarshal([]byte(res.out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "REF-001", runs[0].ItemID)
	assert.True(t, runs[0].Changed)

	res = runCLI(t, repo, "", "history")
	assert.Contains(t, res.out, "REF-001")
	assert.Contains(t, res.out, "1m30s")
}
