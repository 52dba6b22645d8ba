package lifecycle

import (
	"fmt"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

const (
	// MaxLoopBacks is the number of loop-backs allowed before a further one
	// is turned into an escalation.
	MaxLoopBacks = 3

	// ScopeConfidenceRequired gates 1→2.
	ScopeConfidenceRequired = 0.6

	// MinTimelineEvents gates 2→3.
	MinTimelineEvents = 2
)

type edge struct {
	from, to investigation.Phase
}

// edges is the complete transition table. Force-close into Phase 6 is
// handled separately and bypasses it.
var edges = map[edge]bool{
	{investigation.PhaseIntake, investigation.PhaseTriage}:           true,
	{investigation.PhaseTriage, investigation.PhaseTimeline}:         true,
	{investigation.PhaseTimeline, investigation.PhaseHypothesis}:     true,
	{investigation.PhaseTimeline, investigation.PhaseSolution}:       true,
	{investigation.PhaseHypothesis, investigation.PhaseDiagnosis}:    true,
	{investigation.PhaseDiagnosis, investigation.PhaseSolution}:      true,
	{investigation.PhaseDiagnosis, investigation.PhaseDocumentation}: true,
	{investigation.PhaseDiagnosis, investigation.PhaseHypothesis}:    true,
	{investigation.PhaseDiagnosis, investigation.PhaseTimeline}:      true,
	{investigation.PhaseDiagnosis, investigation.PhaseTriage}:        true,
	{investigation.PhaseSolution, investigation.PhaseDocumentation}:  true,
}

// ValidEdge reports whether from→to is in the transition table.
func ValidEdge(from, to investigation.Phase) bool {
	return edges[edge{from, to}]
}

// IsLoopBack reports whether from→to is a backward edge out of Phase 4.
func IsLoopBack(from, to investigation.Phase) bool {
	return from == investigation.PhaseDiagnosis && to < from && ValidEdge(from, to)
}

// check evaluates the guard of a single edge against the investigation and
// the decisions carried by the current turn. It returns nil when the guard
// holds.
func check(inv *investigation.Investigation, d investigation.Decisions, to investigation.Phase) *investigation.GuardError {
	from := inv.CurrentPhase
	fail := func(code investigation.GuardCode, format string, args ...any) *investigation.GuardError {
		return &investigation.GuardError{From: from, To: to, Code: code, Reason: fmt.Sprintf(format, args...)}
	}

	if from == investigation.PhaseDocumentation {
		return fail(investigation.GuardTerminalPhase, "investigation is closed; open a new investigation")
	}
	if !to.Valid() || !ValidEdge(from, to) {
		return fail(investigation.GuardInvalidEdge, "no transition from %s to %s", from, to)
	}
	if (to == investigation.PhaseHypothesis || to == investigation.PhaseDiagnosis) &&
		strategyFor(inv) == investigation.StrategyUrgent {
		return fail(investigation.GuardUrgentContract, "%s cannot be entered under the URGENT strategy", to)
	}

	switch {
	case from == investigation.PhaseIntake && to == investigation.PhaseTriage:
		if inv.Problem == nil || !inv.Problem.Confirmed {
			return fail(investigation.GuardUnmet, "problem statement has not been confirmed")
		}
		if inv.EngagementMode != investigation.ModeDirective {
			return fail(investigation.GuardUnmet, "user has not opted into a formal investigation")
		}

	case from == investigation.PhaseTriage && to == investigation.PhaseTimeline:
		sc := inv.Scope
		switch {
		case sc == nil:
			return fail(investigation.GuardUnmet, "no scope and impact frame")
		case !sc.Verified:
			return fail(investigation.GuardUnmet, "scope frame is not verified")
		case sc.Confidence < ScopeConfidenceRequired:
			return fail(investigation.GuardUnmet, "scope confidence %.2f is below %.2f", sc.Confidence, ScopeConfidenceRequired)
		case inv.Urgency == investigation.UrgencyUnknown || inv.Urgency == "":
			return fail(investigation.GuardUnmet, "urgency level is unresolved")
		}

	case from == investigation.PhaseTimeline && to == investigation.PhaseSolution:
		if strategyFor(inv) != investigation.StrategyUrgent {
			return fail(investigation.GuardUnmet, "strategy resolves to NON_URGENT (urgency %s, correlation %.2f)",
				inv.Urgency, inv.Timeline.CorrelationConfidence)
		}
		if !d.ConfirmUrgentPath {
			return fail(investigation.GuardConfirmationRequired, "the urgent path needs explicit user confirmation")
		}

	case from == investigation.PhaseTimeline && to == investigation.PhaseHypothesis:
		if n := len(inv.Timeline.Events); n < MinTimelineEvents {
			return fail(investigation.GuardUnmet, "timeline has %d events, needs %d", n, MinTimelineEvents)
		}

	case from == investigation.PhaseHypothesis && to == investigation.PhaseDiagnosis:
		if countUsable(inv) == 0 {
			return fail(investigation.GuardUnmet, "no hypothesis to investigate")
		}

	case from == investigation.PhaseDiagnosis && to == investigation.PhaseSolution:
		if inv.RootCause == nil && len(inv.HypothesesWithStatus(investigation.HypothesisValidated)) == 0 {
			return fail(investigation.GuardUnmet, "no validated hypothesis or root-cause conclusion")
		}

	case from == investigation.PhaseDiagnosis && to == investigation.PhaseDocumentation:
		if inv.RootCause == nil {
			return fail(investigation.GuardUnmet, "no root-cause conclusion to document")
		}
		if !d.DeclineSolution && !inv.Solution.DeclinedByUser {
			return fail(investigation.GuardUnmet, "user has not declined implementing a solution")
		}

	case from == investigation.PhaseSolution && to == investigation.PhaseDocumentation:
		if !inv.Solution.Applied {
			return fail(investigation.GuardUnmet, "solution has not been applied")
		}
		if strategyFor(inv) == investigation.StrategyNonUrgent && !inv.Solution.Verified {
			return fail(investigation.GuardUnmet, "solution has not been verified")
		}

	case IsLoopBack(from, to):
		if inv.LoopBackCount >= MaxLoopBacks {
			return fail(investigation.GuardLoopBackLimit, "loop-back limit of %d reached; escalate instead", MaxLoopBacks)
		}
		if !loopBackHolds(inv, to) {
			return fail(investigation.GuardUnmet, "loop-back condition for %s does not hold", to)
		}
	}
	return nil
}

// loopBackHolds evaluates the condition behind each Phase 4 loop-back.
func loopBackHolds(inv *investigation.Investigation, to investigation.Phase) bool {
	switch to {
	case investigation.PhaseHypothesis:
		return hypothesesExhausted(inv)
	case investigation.PhaseTimeline:
		return inv.TimelineChallenged
	case investigation.PhaseTriage:
		return inv.ScopeChallenged
	}
	return false
}

// hypothesesExhausted is true when hypotheses exist but none is ACTIVE or
// VALIDATED and no root cause has been concluded.
func hypothesesExhausted(inv *investigation.Investigation) bool {
	if inv.RootCause != nil || len(inv.Hypotheses) == 0 {
		return false
	}
	for _, h := range inv.Hypotheses {
		if h.Status == investigation.HypothesisActive || h.Status == investigation.HypothesisValidated {
			return false
		}
	}
	return true
}

func countUsable(inv *investigation.Investigation) int {
	n := 0
	for _, h := range inv.Hypotheses {
		if !h.Status.Terminal() {
			n++
		}
	}
	return n
}

// forwardTargets lists the forward edges evaluated automatically from a
// phase, in priority order.
func forwardTargets(inv *investigation.Investigation) []investigation.Phase {
	switch inv.CurrentPhase {
	case investigation.PhaseIntake:
		return []investigation.Phase{investigation.PhaseTriage}
	case investigation.PhaseTriage:
		return []investigation.Phase{investigation.PhaseTimeline}
	case investigation.PhaseTimeline:
		if strategyFor(inv) == investigation.StrategyUrgent {
			return []investigation.Phase{investigation.PhaseSolution}
		}
		return []investigation.Phase{investigation.PhaseHypothesis}
	case investigation.PhaseHypothesis:
		return []investigation.Phase{investigation.PhaseDiagnosis}
	case investigation.PhaseDiagnosis:
		return []investigation.Phase{investigation.PhaseDocumentation, investigation.PhaseSolution}
	case investigation.PhaseSolution:
		return []investigation.Phase{investigation.PhaseDocumentation}
	}
	return nil
}
