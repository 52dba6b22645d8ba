package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func events(gap time.Duration) []investigation.TimelineEvent {
	return []investigation.TimelineEvent{
		{ID: "E1", Description: "deploy v2.3", OccurredAt: base},
		{ID: "E2", Description: "error rate spike", OccurredAt: base.Add(gap)},
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name string
		typ  investigation.CorrelationType
		gap  time.Duration
		want float64
	}{
		{"causal zero gap", investigation.CorrelationCausal, 0, 1.0},
		{"causal 300s gap", investigation.CorrelationCausal, 300 * time.Second, 0.5},
		{"temporal zero gap", investigation.CorrelationTemporal, 0, 0.7},
		{"temporal 300s gap", investigation.CorrelationTemporal, 300 * time.Second, 0.35},
		{"spatial ignores gap", investigation.CorrelationSpatial, time.Hour, 0.5},
		{"causal reversed order", investigation.CorrelationCausal, -300 * time.Second, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(events(tt.gap), []investigation.Correlation{
				{FromEventID: "E1", ToEventID: "E2", Type: tt.typ},
			})
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestConfidence_Empty(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(events(0), nil))
	assert.Equal(t, 0.0, Confidence(nil, nil))
}

func TestConfidence_MaxAcrossCorrelations(t *testing.T) {
	evs := append(events(600*time.Second), investigation.TimelineEvent{ID: "E3", OccurredAt: base.Add(610 * time.Second)})
	got := Confidence(evs, []investigation.Correlation{
		{FromEventID: "E1", ToEventID: "E2", Type: investigation.CorrelationCausal},
		{FromEventID: "E2", ToEventID: "E3", Type: investigation.CorrelationTemporal},
		{FromEventID: "E1", ToEventID: "E3", Type: investigation.CorrelationSpatial},
	})
	// E2→E3 temporal: 0.7 / (1 + 10/300)
	assert.InDelta(t, 0.7/(1+10.0/300), got, 1e-9)
}

func TestConfidence_SkipsUnknownEvents(t *testing.T) {
	got := Confidence(events(0), []investigation.Correlation{
		{FromEventID: "E1", ToEventID: "missing", Type: investigation.CorrelationCausal},
	})
	assert.Equal(t, 0.0, got)
}

func TestRecompute(t *testing.T) {
	tl := &investigation.Timeline{Events: events(0)}
	assert.False(t, Recompute(tl))

	tl.Correlations = []investigation.Correlation{{FromEventID: "E1", ToEventID: "E2", Type: investigation.CorrelationCausal}}
	assert.True(t, Recompute(tl))
	assert.Equal(t, 1.0, tl.CorrelationConfidence)
	assert.False(t, Recompute(tl))
}
