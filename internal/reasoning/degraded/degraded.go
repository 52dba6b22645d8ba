// Package degraded detects when an investigation is blocked and applies a
// capped, transparent fallback until the blocking condition clears.
package degraded

import (
	"fmt"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/graph"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

// UserBlockedAfter is the number of consecutive BLOCKED-momentum turns that
// opens USER_BLOCKED.
const UserBlockedAfter = 5

// Policy is the fixed behaviour of one degraded-mode type.
type Policy struct {
	Cap           *float64
	Fallback      string
	ExitCriterion investigation.ExitCriterion
}

func capOf(v float64) *float64 { return &v }

// PolicyFor returns the policy of a mode type. Unknown types report false.
func PolicyFor(t investigation.DegradedType) (Policy, bool) {
	switch t {
	case investigation.DegradedLimitedData:
		return Policy{
			Cap:           capOf(0.5),
			Fallback:      "proceed with the available evidence and document the gaps",
			ExitCriterion: investigation.ExitNewEvidence,
		}, true
	case investigation.DegradedExternalDependency:
		return Policy{
			Fallback:      "park the blocked line of inquiry and continue with parallel work",
			ExitCriterion: investigation.ExitExternalAnswer,
		}, true
	case investigation.DegradedHypothesisDeadlock:
		return Policy{
			Cap:           capOf(0.0),
			Fallback:      "stop generating new theories; escalate or accept a probabilistic best guess",
			ExitCriterion: investigation.ExitNewHypothesis,
		}, true
	case investigation.DegradedUserBlocked:
		return Policy{
			Cap:           capOf(0.5),
			Fallback:      "offer alternative evidence sources",
			ExitCriterion: investigation.ExitNewEvidence,
		}, true
	case investigation.DegradedSystemLimitation:
		return Policy{
			Fallback:      "offer a manual workaround",
			ExitCriterion: investigation.ExitWorkaroundApplied,
		}, true
	}
	return Policy{}, false
}

// ExitEvents are the things that happened in a turn that may end a mode.
type ExitEvents struct {
	NewEvidence       bool
	ExternalAnswer    bool
	NewHypothesis     bool
	WorkaroundApplied bool
}

func (e ExitEvents) satisfies(c investigation.ExitCriterion) bool {
	switch c {
	case investigation.ExitNewEvidence:
		return e.NewEvidence
	case investigation.ExitExternalAnswer:
		return e.ExternalAnswer
	case investigation.ExitNewHypothesis:
		return e.NewHypothesis
	case investigation.ExitWorkaroundApplied:
		return e.WorkaroundApplied
	}
	return false
}

// Manager opens and closes degraded-mode records. It keeps no state; every
// decision is made from the investigation passed in.
type Manager struct{}

// NewManager returns a Manager.
func NewManager() *Manager { return &Manager{} }

// Enter opens a degraded mode of type t unless one is already active. It
// returns the new record, or nil when nothing was opened.
func (m *Manager) Enter(inv *investigation.Investigation, t investigation.DegradedType, reason string, turn int) *investigation.DegradedMode {
	if inv.Degraded != nil {
		return nil
	}
	p, ok := PolicyFor(t)
	if !ok {
		return nil
	}
	d := &investigation.DegradedMode{
		Type:             t,
		EnteredTurn:      turn,
		Reason:           reason,
		FallbackStrategy: p.Fallback,
		ConfidenceCap:    p.Cap,
		ExitCriterion:    p.ExitCriterion,
	}
	inv.Degraded = d
	return d
}

// OnEscalation reacts to tactical stagnation: a deadlocked hypothesis space
// opens HYPOTHESIS_DEADLOCK, otherwise unanswered evidence requests open
// LIMITED_DATA.
func (m *Manager) OnEscalation(inv *investigation.Investigation, e investigation.Escalation) {
	if e.Source != investigation.EscalationStagnation || inv.Degraded != nil {
		return
	}
	if Deadlocked(inv) {
		m.Enter(inv, investigation.DegradedHypothesisDeadlock, "every remaining hypothesis is inconclusive", e.Turn)
		return
	}
	if graph.AllRequestsUnfulfilled(inv) {
		m.Enter(inv, investigation.DegradedLimitedData,
			fmt.Sprintf("%d iterations without progress and no evidence request answered", inv.OODA.ConsecutiveNoProgress), e.Turn)
	}
}

// Evaluate checks the per-turn entry triggers: explicit signals, a
// deadlocked hypothesis space in Phase 4 and a user blocked for
// UserBlockedAfter consecutive turns. The first trigger that fires wins.
func (m *Manager) Evaluate(inv *investigation.Investigation, signals []investigation.DegradedSignal, turn int) *investigation.DegradedMode {
	if inv.Degraded != nil {
		return nil
	}
	for _, s := range signals {
		if s.Type != investigation.DegradedExternalDependency && s.Type != investigation.DegradedSystemLimitation {
			continue
		}
		if d := m.Enter(inv, s.Type, s.Reason, turn); d != nil {
			return d
		}
	}
	if inv.CurrentPhase == investigation.PhaseDiagnosis && Deadlocked(inv) {
		return m.Enter(inv, investigation.DegradedHypothesisDeadlock, "every remaining hypothesis is inconclusive", turn)
	}
	if inv.Progress.ConsecutiveBlockedTurns >= UserBlockedAfter {
		return m.Enter(inv, investigation.DegradedUserBlocked,
			fmt.Sprintf("no progress for %d consecutive turns", inv.Progress.ConsecutiveBlockedTurns), turn)
	}
	return nil
}

// TryExit closes the active mode when its exit criterion is satisfied. The
// closed record moves to the history and momentum and blocked-reason state
// are reset.
func (m *Manager) TryExit(inv *investigation.Investigation, ev ExitEvents, turn int) *investigation.DegradedMode {
	d := inv.Degraded
	if d == nil || !ev.satisfies(d.ExitCriterion) {
		return nil
	}
	closed := *d
	closed.ExitedTurn = turn
	inv.DegradedHistory = append(inv.DegradedHistory, closed)
	inv.Degraded = nil

	inv.Progress.Momentum = investigation.MomentumModerate
	inv.Progress.ConsecutiveBlockedTurns = 0
	inv.Progress.TurnsWithoutProgress = 0
	inv.Progress.BlockedReasons = []string{}
	inv.OODA.ConsecutiveNoProgress = 0
	return &closed
}

// Deadlocked reports whether at least one hypothesis is live and all live
// hypotheses are INCONCLUSIVE.
func Deadlocked(inv *investigation.Investigation) bool {
	live := inv.LiveHypotheses()
	if len(live) == 0 {
		return false
	}
	for _, h := range live {
		if h.Status != investigation.HypothesisInconclusive {
			return false
		}
	}
	return true
}

// AlternateRoute reports whether degraded mode lets the hypothesis count as
// validated: the mode must carry a positive cap and the likelihood must have
// reached it. A zero cap never unblocks by itself.
func AlternateRoute(inv *investigation.Investigation, h *investigation.Hypothesis) bool {
	d := inv.Degraded
	if d == nil || d.ConfidenceCap == nil || *d.ConfidenceCap <= 0 || h == nil {
		return false
	}
	return h.Likelihood >= *d.ConfidenceCap
}
