package lifecycle

import (
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

// UrgentCorrelationAbove is the correlation confidence the URGENT strategy
// must exceed.
const UrgentCorrelationAbove = 0.9

// ClassifyUrgency maps the three Phase 0 hints to an urgency level. Missing
// hints count as UNKNOWN. Precedence, first match wins:
//
//	all three unknown          → UNKNOWN
//	HIGH ∧ ACTIVE ∧ TOTAL      → CRITICAL
//	HIGH ∧ (ACTIVE ∨ TOTAL)    → HIGH
//	HIGH ∨ MEDIUM ∨ (ACTIVE ∧ TOTAL) → MEDIUM
//	otherwise                  → LOW
func ClassifyUrgency(s investigation.UrgencySignals) investigation.UrgencyLevel {
	urgency := s.Urgency
	if urgency == "" {
		urgency = investigation.UrgencyHintUnknown
	}
	temporal := s.Temporal
	if temporal == "" {
		temporal = investigation.TemporalUnknown
	}
	scope := s.Scope
	if scope == "" {
		scope = investigation.ScopeUnknown
	}

	if urgency == investigation.UrgencyHintUnknown && temporal == investigation.TemporalUnknown && scope == investigation.ScopeUnknown {
		return investigation.UrgencyUnknown
	}

	high := urgency == investigation.UrgencyHintHigh
	active := temporal == investigation.TemporalActive
	total := scope == investigation.ScopeTotal

	switch {
	case high && active && total:
		return investigation.UrgencyCritical
	case high && (active || total):
		return investigation.UrgencyHigh
	case high || urgency == investigation.UrgencyHintMedium || (active && total):
		return investigation.UrgencyMedium
	default:
		return investigation.UrgencyLow
	}
}

// ResolveStrategy picks URGENT only for CRITICAL urgency backed by a
// correlation confidence above UrgentCorrelationAbove.
func ResolveStrategy(urgency investigation.UrgencyLevel, correlationConfidence float64) investigation.Strategy {
	if urgency == investigation.UrgencyCritical && correlationConfidence > UrgentCorrelationAbove {
		return investigation.StrategyUrgent
	}
	return investigation.StrategyNonUrgent
}

// strategyFor returns the strategy in force: the recorded one once set,
// otherwise what Phase 2 would resolve to right now.
func strategyFor(inv *investigation.Investigation) investigation.Strategy {
	if inv.Strategy != nil {
		return *inv.Strategy
	}
	if inv.UrgentPathDeclined {
		return investigation.StrategyNonUrgent
	}
	return ResolveStrategy(inv.Urgency, inv.Timeline.CorrelationConfidence)
}

// resolveUrgency recomputes the urgency level from the problem signals. The
// scope frame's assessment may lower a classified level, or fill in an
// UNKNOWN one up to HIGH; only the three signals together reach CRITICAL.
// The level is frozen once a strategy is recorded.
func resolveUrgency(inv *investigation.Investigation) {
	if inv.Strategy != nil {
		return
	}
	level := investigation.UrgencyUnknown
	if inv.Problem != nil {
		level = ClassifyUrgency(inv.Problem.Signals)
	}
	if sc := inv.Scope; sc != nil && urgencyRank(sc.Urgency) > 0 {
		switch {
		case level == investigation.UrgencyUnknown:
			level = sc.Urgency
			if level == investigation.UrgencyCritical {
				level = investigation.UrgencyHigh
			}
		case urgencyRank(sc.Urgency) < urgencyRank(level):
			level = sc.Urgency
		}
	}
	inv.Urgency = level
}

// urgencyRank orders the known levels from LOW (1) to CRITICAL (4). UNKNOWN
// and unrecognised values rank 0.
func urgencyRank(l investigation.UrgencyLevel) int {
	switch l {
	case investigation.UrgencyLow:
		return 1
	case investigation.UrgencyMedium:
		return 2
	case investigation.UrgencyHigh:
		return 3
	case investigation.UrgencyCritical:
		return 4
	}
	return 0
}
