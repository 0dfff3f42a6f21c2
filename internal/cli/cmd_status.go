package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/config"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/lock"
	"github.com/randalmurphal/mend/internal/state"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show phase, ledger counts and lock holder",
		Long: `Show where the workflow stands without changing anything.

Reports the current phase, feature count, the items in each ledger by
status, any uncommitted change left by 'mend execute', and the process
holding the run lock.

Examples:
  mend status
  mend status --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := collectStatus(a)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(a.out, report)
			}
			printStatus(a, report)
			return nil
		},
	}
	return cmd
}

type ledgerCounts struct {
	Category ledger.Category       `json:"category"`
	Total    int                   `json:"total"`
	Counts   map[ledger.Status]int `json:"counts"`
}

type lockInfo struct {
	Owner     string    `json:"owner"`
	PID       int       `json:"pid"`
	Heartbeat time.Time `json:"heartbeat"`
	Live      bool      `json:"live"`
}

type statusReport struct {
	State         *state.State        `json:"state"`
	MaxFeatures   int                 `json:"max_features"`
	Ledgers       []ledgerCounts      `json:"ledgers"`
	PendingChange *apply.ChangeRecord `json:"pending_change,omitempty"`
	Lock          *lockInfo           `json:"lock,omitempty"`
}

func collectStatus(a *app) (*statusReport, error) {
	st, err := state.Load(a.root, time.Now())
	if err != nil {
		return nil, err
	}
	report := &statusReport{State: st, MaxFeatures: a.cfg.Workflow.MaxFeatures}

	for _, cat := range ledger.AllCategories {
		l, err := ledger.Load(a.root, cat, a.ledgerOptions())
		if err != nil {
			return nil, err
		}
		lc := ledgerCounts{Category: cat, Total: l.Len(), Counts: make(map[ledger.Status]int)}
		for _, s := range ledger.AllStatuses {
			if n := l.CountByStatus(s); n > 0 {
				lc.Counts[s] = n
			}
		}
		report.Ledgers = append(report.Ledgers, lc)
	}

	if rec, err := apply.LoadChange(a.root); err == nil {
		report.PendingChange = rec
	}

	lk, live, err := lock.New(filepath.Join(a.root, config.MendDir)).Inspect()
	if err != nil {
		a.logger.Warn("could not read run lock", "error", err)
	} else if lk != nil {
		report.Lock = &lockInfo{Owner: lk.Owner, PID: lk.PID, Heartbeat: lk.Heartbeat, Live: live}
	}
	return report, nil
}

func printStatus(a *app, r *statusReport) {
	st := defaultStyles()
	w := a.out
	row := func(label, value string) {
		_, _ = fmt.Fprintf(w, "%s%s\n", st.Label.Render(label), value)
	}

	_, _ = fmt.Fprintln(w, st.Title.Render("mend "+filepath.Base(a.root)))
	phase := string(r.State.CurrentPhase)
	if r.State.CurrentPhase == state.PhaseCleanup && r.State.ResumePhase != "" {
		phase += st.Subtle.Render(" (then " + string(r.State.ResumePhase) + ")")
	}
	if r.State.Done() {
		phase = st.Success.Render(phase)
	}
	row("Phase", phase)
	row("Analyzed", fmt.Sprintf("%t", r.State.AnalysisDone))
	row("Features", fmt.Sprintf("%d/%d", r.State.FeaturesCompleted, r.MaxFeatures))
	row("Runs", fmt.Sprintf("%d", r.State.RunCount))

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, ledgerTable(r.Ledgers))

	if r.PendingChange != nil {
		_, _ = fmt.Fprintln(w)
		row("Uncommitted", st.Warn.Render(fmt.Sprintf("%s %s (%d files)", r.PendingChange.ItemID, r.PendingChange.Title, len(r.PendingChange.Files))))
	}
	if r.Lock != nil {
		holder := fmt.Sprintf("%s pid %d, heartbeat %s ago", r.Lock.Owner, r.Lock.PID, time.Since(r.Lock.Heartbeat).Round(time.Second))
		if r.Lock.Live {
			holder = st.Warn.Render("running: " + holder)
		} else {
			holder = st.Subtle.Render("stale: " + holder)
		}
		row("Lock", holder)
	}
}

func ledgerTable(ledgers []ledgerCounts) string {
	headers := []string{"LEDGER"}
	for _, s := range ledger.AllStatuses {
		headers = append(headers, strings.ToUpper(string(s)))
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true)
			}
			if col > 0 {
				return style.Align(lipgloss.Right)
			}
			return style
		})
	for _, lc := range ledgers {
		cells := []string{string(lc.Category)}
		for _, s := range ledger.AllStatuses {
			cells = append(cells, fmt.Sprintf("%d", lc.Counts[s]))
		}
		t.Row(cells...)
	}
	return t.String()
}
