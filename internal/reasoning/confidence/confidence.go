// Package confidence maintains hypothesis likelihoods and the working
// conclusion derived from them.
//
// Likelihood is a bounded random walk over [0,1]: every stance link moves it
// by a fixed delta, and hypotheses that stop making progress in Phase 4 decay
// geometrically from the likelihood they last progressed at.
package confidence

import (
	"fmt"
	"math"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/graph"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

const (
	// DecayFactor is applied once per turn without progress.
	DecayFactor = 0.85
	// RetireBelow retires a decayed hypothesis.
	RetireBelow = 0.3
	// ReadyConfidence and ReadyCompleteness must both hold for a solution
	// to be proposed.
	ReadyConfidence   = 0.7
	ReadyCompleteness = 0.6
	// AlternativeFloor is the likelihood a live hypothesis needs to be
	// listed as an alternative explanation.
	AlternativeFloor = 0.3

	// DecayReason is recorded on hypotheses retired by stagnation.
	DecayReason = "confidence decay"

	precision = 1e9
)

// Delta returns the likelihood change for a stance.
func Delta(s investigation.Stance) float64 {
	switch s {
	case investigation.StanceStronglySupports:
		return 0.15
	case investigation.StanceSupports:
		return 0.10
	case investigation.StanceRefutes:
		return -0.10
	case investigation.StanceStronglyContradicts:
		return -0.20
	}
	return 0
}

// Clamp bounds v to [0,1] and rounds away floating-point drift so that
// threshold comparisons are exact.
func Clamp(v float64) float64 {
	v = math.Round(v*precision) / precision
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Level maps a numeric confidence to its category.
func Level(c float64) investigation.ConfidenceLevel {
	switch {
	case c < 0.3:
		return investigation.LevelSpeculation
	case c < 0.6:
		return investigation.LevelProbable
	case c < 0.8:
		return investigation.LevelConfident
	default:
		return investigation.LevelVerified
	}
}

// Ready reports solution readiness. Both conditions are required.
func Ready(confidence, completeness float64) bool {
	return confidence >= ReadyConfidence && completeness >= ReadyCompleteness
}

// DecayedLikelihood is anchor × 0.85^turnsWithoutProgress.
func DecayedLikelihood(anchor float64, turnsWithoutProgress int) float64 {
	return Clamp(anchor * math.Pow(DecayFactor, float64(turnsWithoutProgress)))
}

// ApplyLinks moves likelihoods for this turn's stance links. IRRELEVANT and
// NEUTRAL links leave the likelihood where it is.
func ApplyLinks(inv *investigation.Investigation, links []investigation.EvidenceLink, turn int) {
	for _, l := range links {
		d := Delta(l.Stance)
		if d == 0 {
			continue
		}
		h := inv.Hypothesis(l.HypothesisID)
		if h == nil || h.Status.Terminal() {
			continue
		}
		h.Likelihood = Clamp(h.Likelihood + d)
		h.Trajectory = append(h.Trajectory, investigation.LikelihoodPoint{
			Turn:   turn,
			Value:  h.Likelihood,
			Reason: fmt.Sprintf("%s from %s", l.Stance, l.EvidenceID),
		})
	}
}

// Stagnate updates progress counters for ACTIVE hypotheses. Progressed
// hypotheses re-anchor at their current likelihood. The rest count another
// turn without progress and, when decay is on, fall to
// anchor × 0.85^n. The ids of hypotheses that fell below RetireBelow are
// returned; the caller retires them.
func Stagnate(inv *investigation.Investigation, progressed map[string]bool, turn int, decay bool) []string {
	var retire []string
	for _, h := range inv.Hypotheses {
		if h.Status != investigation.HypothesisActive {
			continue
		}
		if progressed[h.ID] || h.CreatedTurn == turn {
			h.TurnsWithoutProgress = 0
			h.AnchorLikelihood = h.Likelihood
			h.LastProgressTurn = turn
			continue
		}
		if !decay {
			continue
		}
		h.TurnsWithoutProgress++
		next := DecayedLikelihood(h.AnchorLikelihood, h.TurnsWithoutProgress)
		if next != h.Likelihood {
			h.Likelihood = next
			h.Trajectory = append(h.Trajectory, investigation.LikelihoodPoint{
				Turn:   turn,
				Value:  next,
				Reason: fmt.Sprintf("stagnation decay after %d turns", h.TurnsWithoutProgress),
			})
		}
		if h.Likelihood < RetireBelow {
			retire = append(retire, h.ID)
		}
	}
	return retire
}

// Best returns the hypothesis the working conclusion should describe: the
// VALIDATED one if any, otherwise the most likely live hypothesis. Ties go
// to the earlier hypothesis.
func Best(inv *investigation.Investigation) *investigation.Hypothesis {
	var best *investigation.Hypothesis
	for _, h := range inv.Hypotheses {
		if h.Status == investigation.HypothesisValidated {
			if best == nil || best.Status != investigation.HypothesisValidated || h.Likelihood > best.Likelihood {
				best = h
			}
		}
	}
	if best != nil {
		return best
	}
	for _, h := range inv.LiveHypotheses() {
		if best == nil || h.Likelihood > best.Likelihood {
			best = h
		}
	}
	return best
}

// Cap returns the active degraded-mode confidence cap, if any.
func Cap(inv *investigation.Investigation) (float64, bool) {
	if inv.Degraded == nil || inv.Degraded.ConfidenceCap == nil {
		return 0, false
	}
	return *inv.Degraded.ConfidenceCap, true
}

func capped(inv *investigation.Investigation, c float64) float64 {
	if limit, ok := Cap(inv); ok && c > limit {
		return limit
	}
	return c
}

// PromoteRootCause records h as the root cause and mirrors it into the
// working conclusion in the same update. A previous conclusion about a
// different hypothesis is superseded, and that hypothesis with it.
func PromoteRootCause(inv *investigation.Investigation, g *graph.Graph, h *investigation.Hypothesis, basis investigation.RootCauseBasis, turn int) {
	prev := inv.RootCause
	if prev != nil && prev.HypothesisID == h.ID && prev.Basis == basis {
		return
	}
	rc := &investigation.RootCauseConclusion{
		HypothesisID: h.ID,
		Statement:    h.Statement,
		Confidence:   capped(inv, h.Likelihood),
		Basis:        basis,
		Turn:         turn,
	}
	rc.Level = Level(rc.Confidence)
	switch basis {
	case investigation.BasisAsValidated:
		rc.Caveats = append(rc.Caveats, "concluded under degraded mode at its confidence cap")
	case investigation.BasisDegradedAccepted:
		rc.Caveats = append(rc.Caveats, "best guess accepted by the user without validation")
	}
	if prev != nil {
		rc.Supersedes = prev.HypothesisID
		if prev.HypothesisID != h.ID {
			g.Supersede(prev.HypothesisID, h.ID)
		}
	}
	inv.RootCause = rc
	Update(inv, turn)
}

// Update recomputes the working conclusion. It is a no-op in Phase 0 and
// once the conclusion is frozen.
func Update(inv *investigation.Investigation, turn int) {
	if inv.CurrentPhase == investigation.PhaseIntake {
		return
	}
	wc := inv.WorkingConclusion
	if wc == nil {
		wc = &investigation.WorkingConclusion{}
		inv.WorkingConclusion = wc
	}
	if wc.Frozen {
		return
	}

	best := Best(inv)
	wc.Caveats = []string{}
	wc.AlternativeExplanations = []string{}
	wc.TotalEvidenceCount = len(inv.Evidence)
	wc.UpdatedTurn = turn
	wc.ValidatedHypothesisID = ""

	if rc := inv.RootCause; rc != nil {
		if h := inv.Hypothesis(rc.HypothesisID); h != nil {
			best = h
		}
	}

	switch {
	case best != nil:
		wc.Statement = best.Statement
		wc.HypothesisID = best.ID
		wc.Confidence = capped(inv, best.Likelihood)
		wc.SupportingEvidenceCount = len(best.SupportingEvidence)
		wc.EvidenceCompleteness = Clamp(graph.Completeness(best))
		if best.Status == investigation.HypothesisValidated {
			wc.ValidatedHypothesisID = best.ID
		}
		for _, r := range best.Requirements {
			if r.Priority == investigation.PriorityCritical && r.Status.Open() {
				wc.Caveats = append(wc.Caveats, "missing critical evidence: "+r.Description)
			}
		}
		for _, h := range inv.LiveHypotheses() {
			if h.ID != best.ID && h.Likelihood >= AlternativeFloor {
				wc.AlternativeExplanations = append(wc.AlternativeExplanations, h.Statement)
			}
		}
	case inv.Scope != nil && inv.Scope.Statement != "":
		wc.Statement = inv.Scope.Statement
		wc.HypothesisID = ""
		wc.Confidence = capped(inv, inv.Scope.Confidence)
		wc.SupportingEvidenceCount = 0
		wc.EvidenceCompleteness = 0
	case inv.Problem != nil:
		wc.Statement = inv.Problem.Statement
		wc.HypothesisID = ""
		wc.Confidence = 0
		wc.SupportingEvidenceCount = 0
		wc.EvidenceCompleteness = 0
	}

	// The root cause is the single source of truth for the statement.
	if rc := inv.RootCause; rc != nil {
		wc.Statement = rc.Statement
		wc.HypothesisID = rc.HypothesisID
		wc.ValidatedHypothesisID = rc.HypothesisID
		wc.Confidence = capped(inv, rc.Confidence)
		if best != nil && best.ID == rc.HypothesisID && best.Likelihood > rc.Confidence && rc.Basis == investigation.BasisValidated {
			rc.Confidence = best.Likelihood
			rc.Level = Level(rc.Confidence)
			wc.Confidence = capped(inv, rc.Confidence)
		}
		if best != nil && best.Status == investigation.HypothesisRefuted {
			wc.Caveats = append(wc.Caveats, "root-cause hypothesis was later refuted")
		}
		wc.Caveats = append(wc.Caveats, rc.Caveats...)
	}

	if d := inv.Degraded; d != nil {
		wc.Caveats = append(wc.Caveats, fmt.Sprintf("degraded mode %s: %s", d.Type, d.Reason))
	}

	wc.Confidence = Clamp(wc.Confidence)
	wc.Level = Level(wc.Confidence)
	wc.ReadyForSolution = Ready(wc.Confidence, wc.EvidenceCompleteness)
}

// Freeze makes the working conclusion read-only. Called on entering Phase 6.
func Freeze(inv *investigation.Investigation, turn int) {
	if inv.WorkingConclusion == nil {
		Update(inv, turn)
	}
	if inv.WorkingConclusion != nil {
		inv.WorkingConclusion.Frozen = true
	}
}
