// Package pipeline models the translation project lifecycle: the phase
// enum reported by the job backend and the state machine that decides
// which transitions and user actions are legal in each phase.
package pipeline

import "fmt"

// Phase is a named stage in the project lifecycle. The string values are
// the wire values used by the job backend and stored on the project row.
type Phase string

const (
	PhaseUploaded           Phase = "uploaded"
	PhaseAnalyzing          Phase = "analyzing"
	PhaseAnalyzed           Phase = "analyzed"
	PhaseGeneratingStrategy Phase = "generating_strategy"
	PhaseStrategyGenerated  Phase = "strategy_generated"
	PhaseTranslatingSample  Phase = "translating_sample"
	PhaseSampleReady        Phase = "sample_ready"
	PhaseTranslating        Phase = "translating"
	PhaseStopped            Phase = "stopped"
	PhaseCompleted          Phase = "completed"
	PhaseError              Phase = "error"
)

var allPhases = map[Phase]struct{}{
	PhaseUploaded:           {},
	PhaseAnalyzing:          {},
	PhaseAnalyzed:           {},
	PhaseGeneratingStrategy: {},
	PhaseStrategyGenerated:  {},
	PhaseTranslatingSample:  {},
	PhaseSampleReady:        {},
	PhaseTranslating:        {},
	PhaseStopped:            {},
	PhaseCompleted:          {},
	PhaseError:              {},
}

// Parse validates a wire value coming from the backend or the database.
func Parse(raw string) (Phase, error) {
	phase := Phase(raw)
	if _, ok := allPhases[phase]; !ok {
		return "", fmt.Errorf("unknown phase %q", raw)
	}
	return phase, nil
}

// IsRunning reports whether the phase represents an in-flight backend job.
// Running phases are entered only by successfully starting a job and left
// only when the backend reports a terminal outcome for it.
func (p Phase) IsRunning() bool {
	switch p {
	case PhaseAnalyzing, PhaseGeneratingStrategy, PhaseTranslatingSample, PhaseTranslating:
		return true
	}
	return false
}

// IsTerminal reports whether no further backend work can follow without an
// explicit user action. Error is terminal but recoverable (see Machine).
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// RequiresPolling reports whether a poller should keep watching the backend
// while the project sits in this phase.
func (p Phase) RequiresPolling() bool {
	return p.IsRunning()
}

// AwaitsInput reports whether the phase parks the pipeline until the user
// triggers the next action (review analysis, approve strategy, ...).
func (p Phase) AwaitsInput() bool {
	switch p {
	case PhaseUploaded, PhaseAnalyzed, PhaseStrategyGenerated, PhaseSampleReady, PhaseStopped:
		return true
	}
	return false
}

// Valid reports whether p is one of the enumerated phases.
func (p Phase) Valid() bool {
	_, ok := allPhases[p]
	return ok
}
