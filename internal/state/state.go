// Package state persists the orchestration state machine between
// invocations.
package state

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/randalmurphal/mend/internal/config"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/util"
)

const (
	// StateFileName is the filename of the orchestrator state inside .mend.
	StateFileName = "orchestrator_state.json"
)

// Phase is a stage of the workflow.
type Phase string

const (
	PhaseRefactor    Phase = "refactor"
	PhasePerformance Phase = "performance"
	PhaseCleanup     Phase = "cleanup"
	PhaseFeature     Phase = "feature"
	PhaseDone        Phase = "done"
)

// MainPhases lists the phases that are followed by a cleanup, in order.
var MainPhases = []Phase{PhaseRefactor, PhasePerformance, PhaseFeature}

var phaseCategories = map[Phase]ledger.Category{
	PhaseRefactor:    ledger.Refactoring,
	PhasePerformance: ledger.Performance,
	PhaseCleanup:     ledger.Clippy,
	PhaseFeature:     ledger.Features,
}

// Category returns the ledger a phase works from. Done has none.
func (p Phase) Category() (ledger.Category, bool) {
	c, ok := phaseCategories[p]
	return c, ok
}

// PhaseFor returns the phase that works from category.
func PhaseFor(c ledger.Category) Phase {
	for p, pc := range phaseCategories {
		if pc == c {
			return p
		}
	}
	return ""
}

// IsMain reports whether p is followed by a cleanup phase.
func (p Phase) IsMain() bool {
	for _, m := range MainPhases {
		if m == p {
			return true
		}
	}
	return false
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if p == PhaseDone || p == PhaseCleanup || p.IsMain() {
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// nextMain returns the main phase after p, or "" after the last one.
func nextMain(p Phase) Phase {
	for i, m := range MainPhases {
		if m == p && i+1 < len(MainPhases) {
			return MainPhases[i+1]
		}
	}
	return ""
}

// State is the persisted orchestrator record.
type State struct {
	CurrentPhase      Phase     `json:"current_phase"`
	PhaseStarted      time.Time `json:"phase_started"`
	AnalysisDone      bool      `json:"analysis_done"`
	FeaturesCompleted int       `json:"features_completed"`
	// ResumePhase is the main phase entered when the current cleanup ends.
	// Empty outside cleanup, and empty in the final cleanup.
	ResumePhase       Phase  `json:"resume_phase"`
	RunCount          int    `json:"run_count"`
	CleanupReanalyzed bool   `json:"cleanup_reanalyzed"`
	LastRunID         string `json:"last_run_id,omitempty"`
}

// New returns the state of a fresh workflow.
func New(now time.Time) *State {
	return &State{
		CurrentPhase: PhaseRefactor,
		PhaseStarted: now,
	}
}

// Path returns the state file location under root.
func Path(root string) string {
	return filepath.Join(root, config.MendDir, StateFileName)
}

// Load reads the state for the repository at root. A missing file yields a
// fresh workflow.
func Load(root string, now time.Time) (*State, error) {
	var s State
	found, err := util.ReadJSON(Path(root), &s)
	if err != nil {
		return nil, fmt.Errorf("load orchestrator state: %w", err)
	}
	if !found {
		return New(now), nil
	}
	if _, err := ParsePhase(string(s.CurrentPhase)); err != nil {
		return nil, fmt.Errorf("load orchestrator state: %w", err)
	}
	if s.CurrentPhase != PhaseCleanup {
		s.ResumePhase = ""
	}
	return &s, nil
}

// Exists reports whether a state file has been written.
func Exists(root string) bool {
	return util.FileExists(Path(root))
}

// Save writes the state atomically.
func (s *State) Save(root string) error {
	if err := util.AtomicWriteJSON(Path(root), s); err != nil {
		return fmt.Errorf("save orchestrator state: %w", err)
	}
	return nil
}

// Remove deletes the state file so the next run starts a fresh workflow.
func Remove(root string) error {
	return util.RemoveIfExists(Path(root))
}

// enter switches to phase p and clears per-occurrence flags.
func (s *State) enter(p Phase, now time.Time) {
	s.CurrentPhase = p
	s.PhaseStarted = now
	s.AnalysisDone = false
	s.CleanupReanalyzed = false
	if p != PhaseCleanup {
		s.ResumePhase = ""
	}
}

// Advance moves past the current phase. A main phase is followed by
// cleanup, which resumes the next main phase or, after the last one,
// finishes the workflow.
func (s *State) Advance(now time.Time) Phase {
	switch {
	case s.CurrentPhase.IsMain():
		resume := nextMain(s.CurrentPhase)
		s.enter(PhaseCleanup, now)
		s.ResumePhase = resume
	case s.CurrentPhase == PhaseCleanup && s.ResumePhase != "":
		s.enter(s.ResumePhase, now)
	default:
		s.enter(PhaseDone, now)
	}
	return s.CurrentPhase
}

// RestartFromRefactor sends the workflow back to the first main phase,
// keeping run and feature counters.
func (s *State) RestartFromRefactor(now time.Time) {
	s.enter(MainPhases[0], now)
}

// Done reports whether the workflow has finished.
func (s *State) Done() bool {
	return s.CurrentPhase == PhaseDone
}
