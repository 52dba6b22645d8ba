// Package ooda runs the tactical Observe/Orient/Decide/Act loop inside each
// phase and detects stagnation.
package ooda

import (
	"errors"
	"fmt"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

const (
	// StagnationLimit is the number of consecutive non-progressing iterations
	// in one phase that raises an escalation.
	StagnationLimit = 3

	// MaxIterationHistory bounds the persisted iteration log.
	MaxIterationHistory = 50
)

var (
	// ErrOutOfOrder is returned when a sub-step is completed before its
	// predecessor.
	ErrOutOfOrder = errors.New("ooda step completed out of order")
	// ErrIncomplete is returned when an iteration is finished before all
	// four sub-steps are done.
	ErrIncomplete = errors.New("ooda iteration incomplete")
	// ErrInactive is returned when the loop is driven while deactivated.
	ErrInactive = errors.New("ooda loop is not active")
)

// EscalationListener is notified when the loop detects stagnation.
type EscalationListener interface {
	OnEscalation(inv *investigation.Investigation, e investigation.Escalation)
}

// ListenerFunc adapts a function to EscalationListener.
type ListenerFunc func(inv *investigation.Investigation, e investigation.Escalation)

// OnEscalation calls f.
func (f ListenerFunc) OnEscalation(inv *investigation.Investigation, e investigation.Escalation) {
	f(inv, e)
}

// Loop drives the tactical state stored in an investigation. A Loop holds
// no investigation state of its own; it is built per turn with the
// listeners interested in that turn's escalations.
type Loop struct {
	listeners []EscalationListener
}

// New returns a loop that notifies the given listeners in order.
func New(listeners ...EscalationListener) *Loop {
	return &Loop{listeners: listeners}
}

// Activate turns the loop on for the given phase. Called on entering Phase 1.
func Activate(inv *investigation.Investigation, phase investigation.Phase) {
	inv.OODAActive = true
	Enter(inv, phase)
}

// Deactivate turns the loop off. Called on entering Phase 6.
func Deactivate(inv *investigation.Investigation) {
	inv.OODAActive = false
	inv.OODA.StepsDone = []investigation.OODAStep{}
}

// Enter resets the per-phase counters when the investigation changes phase.
func Enter(inv *investigation.Investigation, phase investigation.Phase) {
	if inv.OODA.Phase == phase && inv.OODA.Iteration > 0 {
		return
	}
	inv.OODA.Phase = phase
	inv.OODA.Iteration = 0
	inv.OODA.ConsecutiveNoProgress = 0
	inv.OODA.StepsDone = []investigation.OODAStep{}
}

// Begin starts a new iteration in the current phase.
func (l *Loop) Begin(inv *investigation.Investigation) error {
	if !inv.OODAActive {
		return ErrInactive
	}
	if inv.OODA.Phase != inv.CurrentPhase {
		Enter(inv, inv.CurrentPhase)
	}
	inv.OODA.Iteration++
	inv.OODA.StepsDone = []investigation.OODAStep{}
	return nil
}

// Complete marks the next sub-step done. Steps must be completed in order.
func (l *Loop) Complete(inv *investigation.Investigation, step investigation.OODAStep) error {
	if !inv.OODAActive {
		return ErrInactive
	}
	done := len(inv.OODA.StepsDone)
	if done >= len(investigation.OODASteps) || investigation.OODASteps[done] != step {
		return fmt.Errorf("%w: got %s after %v", ErrOutOfOrder, step, inv.OODA.StepsDone)
	}
	inv.OODA.StepsDone = append(inv.OODA.StepsDone, step)
	return nil
}

// Finish closes the iteration, records whether it made progress and
// notifies listeners once StagnationLimit consecutive iterations in the
// phase made none. The escalation is returned as well.
func (l *Loop) Finish(inv *investigation.Investigation, turn int, progress bool) (*investigation.Escalation, error) {
	if !inv.OODAActive {
		return nil, ErrInactive
	}
	if len(inv.OODA.StepsDone) != len(investigation.OODASteps) {
		return nil, fmt.Errorf("%w: %d of %d steps done", ErrIncomplete, len(inv.OODA.StepsDone), len(investigation.OODASteps))
	}

	st := &inv.OODA
	st.Iterations = append(st.Iterations, investigation.IterationRecord{
		Phase:        st.Phase,
		Number:       st.Iteration,
		Turn:         turn,
		MadeProgress: progress,
	})
	if n := len(st.Iterations); n > MaxIterationHistory {
		st.Iterations = append([]investigation.IterationRecord(nil), st.Iterations[n-MaxIterationHistory:]...)
	}

	if progress {
		st.ConsecutiveNoProgress = 0
		return nil, nil
	}
	st.ConsecutiveNoProgress++
	if st.ConsecutiveNoProgress < StagnationLimit {
		return nil, nil
	}

	e := investigation.Escalation{
		Source:    investigation.EscalationStagnation,
		Phase:     st.Phase,
		Turn:      turn,
		Iteration: st.Iteration,
		Reason:    fmt.Sprintf("%d consecutive iterations without progress in %s", st.ConsecutiveNoProgress, st.Phase),
	}
	for _, lis := range l.listeners {
		lis.OnEscalation(inv, e)
	}
	return &e, nil
}

// Snapshot captures the values the progress predicates compare.
type Snapshot struct {
	Phase                 investigation.Phase
	ProblemConfirmed      bool
	ProblemStatement      string
	ScopeVerified         bool
	ScopeConfidence       float64
	Urgency               investigation.UrgencyLevel
	Events                int
	CorrelationConfidence float64
	Hypotheses            int
	Statuses              map[string]investigation.HypothesisStatus
	Completeness          map[string]float64
	Solution              investigation.SolutionState
}

// Take records a snapshot of inv.
func Take(inv *investigation.Investigation) Snapshot {
	s := Snapshot{
		Phase:                 inv.CurrentPhase,
		Urgency:               inv.Urgency,
		Events:                len(inv.Timeline.Events),
		CorrelationConfidence: inv.Timeline.CorrelationConfidence,
		Hypotheses:            len(inv.Hypotheses),
		Statuses:              make(map[string]investigation.HypothesisStatus, len(inv.Hypotheses)),
		Completeness:          map[string]float64{},
		Solution:              inv.Solution,
	}
	if p := inv.Problem; p != nil {
		s.ProblemConfirmed = p.Confirmed
		s.ProblemStatement = p.Statement
	}
	if sc := inv.Scope; sc != nil {
		s.ScopeVerified = sc.Verified
		s.ScopeConfidence = sc.Confidence
	}
	for _, h := range inv.Hypotheses {
		s.Statuses[h.ID] = h.Status
		for _, r := range h.Requirements {
			s.Completeness[r.ID] = r.Completeness
		}
	}
	return s
}

// Progressed applies the phase-specific progress predicate of the phase the
// turn started in. Any phase change counts as progress.
func Progressed(before, after Snapshot) bool {
	if before.Phase != after.Phase {
		return true
	}
	switch before.Phase {
	case investigation.PhaseIntake:
		return before.ProblemStatement != after.ProblemStatement || before.ProblemConfirmed != after.ProblemConfirmed
	case investigation.PhaseTriage:
		return (!before.ScopeVerified && after.ScopeVerified) ||
			after.ScopeConfidence > before.ScopeConfidence ||
			(before.Urgency == investigation.UrgencyUnknown && after.Urgency != investigation.UrgencyUnknown)
	case investigation.PhaseTimeline:
		return after.Events > before.Events || after.CorrelationConfidence != before.CorrelationConfidence
	case investigation.PhaseHypothesis:
		return after.Hypotheses > before.Hypotheses
	case investigation.PhaseDiagnosis:
		return StatusChanged(before, after) || completenessIncreased(before, after)
	case investigation.PhaseSolution:
		return before.Solution != after.Solution
	}
	return false
}

// StatusChanged reports whether any hypothesis changed status or a new one
// appeared.
func StatusChanged(before, after Snapshot) bool {
	for id, st := range after.Statuses {
		if prev, ok := before.Statuses[id]; !ok || prev != st {
			return true
		}
	}
	return false
}

func completenessIncreased(before, after Snapshot) bool {
	for id, c := range after.Completeness {
		if c > before.Completeness[id] {
			return true
		}
	}
	return false
}
