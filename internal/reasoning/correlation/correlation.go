// Package correlation scores how strongly timeline events are linked. The
// result feeds strategy selection at the end of Phase 2.
package correlation

import (
	"math"
	"time"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

// ProximityWindow is the gap at which a CAUSAL or TEMPORAL correlation
// loses half its weight.
const ProximityWindow = 300 * time.Second

// BaseWeight returns the fixed weight of a correlation type.
func BaseWeight(t investigation.CorrelationType) float64 {
	switch t {
	case investigation.CorrelationCausal:
		return 1.0
	case investigation.CorrelationTemporal:
		return 0.7
	case investigation.CorrelationSpatial:
		return 0.5
	}
	return 0
}

// Proximity is 1 / (1 + gap/300s). Negative gaps are treated as their
// absolute value.
func Proximity(gap time.Duration) float64 {
	secs := math.Abs(gap.Seconds())
	return 1 / (1 + secs/ProximityWindow.Seconds())
}

// Score returns the adjusted score of one correlation given the gap between
// its two events.
func Score(t investigation.CorrelationType, gap time.Duration) float64 {
	w := BaseWeight(t)
	if t == investigation.CorrelationSpatial {
		return w
	}
	return w * Proximity(gap)
}

// Confidence returns the maximum adjusted score across all correlations.
// Correlations that reference an unknown event are skipped; an empty set
// yields 0.
func Confidence(events []investigation.TimelineEvent, correlations []investigation.Correlation) float64 {
	at := make(map[string]time.Time, len(events))
	for _, e := range events {
		at[e.ID] = e.OccurredAt
	}

	best := 0.0
	for _, c := range correlations {
		from, okFrom := at[c.FromEventID]
		to, okTo := at[c.ToEventID]
		if !okFrom || !okTo {
			continue
		}
		if s := Score(c.Type, to.Sub(from)); s > best {
			best = s
		}
	}
	return best
}

// Recompute refreshes the timeline's correlation confidence in place and
// reports whether it changed.
func Recompute(tl *investigation.Timeline) bool {
	next := Confidence(tl.Events, tl.Correlations)
	if next == tl.CorrelationConfidence {
		return false
	}
	tl.CorrelationConfidence = next
	return true
}
