package pipeline

import "fmt"

// Machine validates phase transitions for a single project. It is a pure
// value: it never mutates state itself, so a failed transition leaves the
// caller's phase untouched. Callers must serialize transitions for one
// project; the poller is the single writer in practice.
type Machine struct{}

// legal maps a phase to the set of phases a project may move to next.
// Running phases additionally accept themselves, because the backend keeps
// reporting the running status on every poll until the job settles.
var legal = map[Phase][]Phase{
	PhaseUploaded:  {PhaseAnalyzing},
	PhaseAnalyzing: {PhaseAnalyzed, PhaseError},
	// Analysis can be refined after review, and strategy generation can be
	// re-run with feedback, so the review phases loop back into the
	// preceding running phase as well as forward.
	PhaseAnalyzed:           {PhaseAnalyzing, PhaseGeneratingStrategy},
	PhaseGeneratingStrategy: {PhaseStrategyGenerated, PhaseError},
	PhaseStrategyGenerated:  {PhaseGeneratingStrategy, PhaseTranslatingSample, PhaseTranslating},
	PhaseTranslatingSample:  {PhaseSampleReady, PhaseError},
	PhaseSampleReady:        {PhaseGeneratingStrategy, PhaseTranslatingSample, PhaseTranslating},
	PhaseTranslating:        {PhaseStopped, PhaseCompleted, PhaseError},
	// Stopped and completed both expose resume/continue over the
	// remaining chapter range.
	PhaseStopped:   {PhaseTranslating},
	PhaseCompleted: {PhaseTranslating},
	// Error recovers into the last known safe phase (see RecoveryTarget).
	PhaseError: {PhaseAnalyzing, PhaseAnalyzed, PhaseGeneratingStrategy, PhaseStrategyGenerated, PhaseTranslatingSample, PhaseSampleReady, PhaseTranslating},
}

// Transition reports whether moving from one phase to another is legal.
// Self-transitions are allowed for running phases only (repeated polls).
func (Machine) Transition(from, to Phase) error {
	if !from.Valid() {
		return fmt.Errorf("invalid source phase %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("invalid target phase %q", to)
	}
	if from == to {
		if from.IsRunning() {
			return nil
		}
		return fmt.Errorf("phase %q cannot re-enter itself", from)
	}
	for _, next := range legal[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("illegal transition %q -> %q", from, to)
}

// RecoveryTarget returns the phase a project in Error should return to,
// given the last phase it safely reached. Analyzed is the floor: a project
// that errored before completing analysis restarts analysis from there.
func (Machine) RecoveryTarget(lastSafe Phase) Phase {
	switch lastSafe {
	case PhaseAnalyzed, PhaseStrategyGenerated, PhaseSampleReady, PhaseStopped, PhaseCompleted:
		return lastSafe
	default:
		return PhaseAnalyzed
	}
}

// Pausable reports whether the running job honors a cooperative stop
// request. Only full translation does; the shorter jobs run to completion.
func (Machine) Pausable(p Phase) bool {
	return p == PhaseTranslating
}

// Resumable reports whether a resume/continue action over the remaining
// chapter range is available.
func (Machine) Resumable(p Phase) bool {
	return p == PhaseStopped || p == PhaseCompleted
}

// CanNavigateForward reports whether the user may jump ahead to the review
// view regardless of the current phase. Once any chapter has ever been
// translated there is reviewable content, so the strictly linear gating is
// relaxed; the flag is derived from chapter state, not part of the phase.
func (Machine) CanNavigateForward(p Phase, hasTranslatedChapters bool) bool {
	if hasTranslatedChapters {
		return true
	}
	switch p {
	case PhaseTranslating, PhaseStopped, PhaseCompleted:
		return true
	}
	return false
}
