package investigation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew_Defaults(t *testing.T) {
	inv := New("inv-1", "checkout returns 502", t0)

	assert.Equal(t, PhaseIntake, inv.CurrentPhase)
	assert.Equal(t, ModeReactive, inv.EngagementMode)
	assert.Equal(t, StatusConsulting, inv.Status)
	assert.Equal(t, UrgencyUnknown, inv.Urgency)
	assert.Nil(t, inv.Strategy)
	assert.Nil(t, inv.WorkingConclusion)
	require.NotNil(t, inv.Problem)
	assert.Equal(t, "checkout returns 502", inv.Problem.Statement)
	assert.False(t, inv.Problem.Confirmed)
	assert.False(t, inv.IsTerminal())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "intake", PhaseIntake.String())
	assert.Equal(t, "documentation", PhaseDocumentation.String())
	assert.Equal(t, "unknown", Phase(9).String())
	assert.False(t, Phase(-1).Valid())
}

func TestClone_IsDeep(t *testing.T) {
	inv := New("inv-1", "disk full", t0)
	inv.Hypotheses = append(inv.Hypotheses, &Hypothesis{
		ID:           "H1",
		Status:       HypothesisActive,
		Likelihood:   0.5,
		Requirements: []EvidenceRequirement{{ID: "R1", Status: RequirementPending}},
	})
	s := StrategyNonUrgent
	inv.Strategy = &s

	clone := inv.Clone()
	clone.Hypotheses[0].Likelihood = 0.9
	clone.Hypotheses[0].Requirements[0].Completeness = 1
	*clone.Strategy = StrategyUrgent

	assert.Equal(t, 0.5, inv.Hypotheses[0].Likelihood)
	assert.Zero(t, inv.Hypotheses[0].Requirements[0].Completeness)
	assert.Equal(t, StrategyNonUrgent, *inv.Strategy)
}

func TestMarshal_Deterministic(t *testing.T) {
	inv := New("inv-1", "disk full", t0)
	a, err := Marshal(inv)
	require.NoError(t, err)
	b, err := Marshal(inv.Clone())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Contains(t, string(a), `"created_at":"2026-03-01T12:00:00Z"`)
	assert.Contains(t, string(a), `"status":"CONSULTING"`)
}

func TestGuardError_Is(t *testing.T) {
	err := fmt.Errorf("advance: %w", &GuardError{From: PhaseTimeline, To: PhaseHypothesis, Code: GuardUrgentContract})
	assert.True(t, errors.Is(err, ErrGuardViolation))
	assert.False(t, errors.Is(err, ErrTerminal))

	var ge *GuardError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, GuardUrgentContract, ge.Code)

	terminal := &GuardError{From: PhaseDocumentation, To: PhaseDiagnosis, Code: GuardTerminalPhase}
	assert.True(t, errors.Is(terminal, ErrTerminal))
	assert.Contains(t, terminal.Error(), "documentation")
}

func TestAcquisitionGuidance_Bounded(t *testing.T) {
	g := AcquisitionGuidance{
		Commands:       []string{"a", "b", "c", "d"},
		FilePaths:      []string{"/var/log/app.log"},
		ExpectedOutput: "stack trace",
	}
	b := g.Bounded()
	assert.Equal(t, []string{"a", "b", "c"}, b.Commands)
	assert.Equal(t, []string{"/var/log/app.log"}, b.FilePaths)
	assert.Nil(t, b.UIPaths)
	assert.Equal(t, "stack trace", b.ExpectedOutput)
	assert.Len(t, g.Commands, 4)
}

func TestTurnInput_HasDiagnosticWork(t *testing.T) {
	assert.False(t, TurnInput{TurnID: "t1"}.HasDiagnosticWork())
	assert.True(t, TurnInput{Evidence: []EvidenceSubmission{{Text: "x"}}}.HasDiagnosticWork())
	assert.True(t, TurnInput{Decisions: Decisions{ForceClose: true}}.HasDiagnosticWork())
}

func TestTurnResult_RecommendDeduplicates(t *testing.T) {
	var r TurnResult
	r.Recommend(Recommendation{Kind: RecommendLoopBack, Target: PhasePtr(PhaseHypothesis)})
	r.Recommend(Recommendation{Kind: RecommendLoopBack, Target: PhasePtr(PhaseHypothesis)})
	r.Recommend(Recommendation{Kind: RecommendLoopBack, Target: PhasePtr(PhaseTriage)})
	r.Recommend(Recommendation{Kind: RecommendEscalate})
	assert.Len(t, r.Recommendations, 3)
}

func TestLiveHypotheses(t *testing.T) {
	inv := New("inv-1", "", t0)
	assert.Nil(t, inv.Problem)
	inv.Hypotheses = []*Hypothesis{
		{ID: "H1", Status: HypothesisActive},
		{ID: "H2", Status: HypothesisRefuted},
		{ID: "H3", Status: HypothesisInconclusive},
		{ID: "H4", Status: HypothesisCaptured},
	}
	live := inv.LiveHypotheses()
	require.Len(t, live, 2)
	assert.Equal(t, "H1", live[0].ID)
	assert.Equal(t, "H3", live[1].ID)
	assert.True(t, HypothesisSuperseded.Terminal())
	assert.False(t, HypothesisInconclusive.Terminal())
}

func TestEnumValid(t *testing.T) {
	assert.True(t, StanceStronglyContradicts.Valid())
	assert.False(t, Stance("").Valid())
	assert.False(t, Stance("supports").Valid())
	assert.True(t, IntentOffTopic.Valid())
	assert.False(t, EvidenceIntent("GOSSIP").Valid())
	assert.True(t, EvidenceEnvironment.Valid())
	assert.False(t, EvidenceCategory("VIBES").Valid())
	assert.True(t, FormDocument.Valid())
	assert.False(t, EvidenceForm("FAX").Valid())
}

func TestClassification_Validate(t *testing.T) {
	tests := []struct {
		name    string
		c       Classification
		wantErr bool
	}{
		{"empty defaults", Classification{}, false},
		{"known values", Classification{
			Form: FormDocument, Intent: IntentAskingQuestion, Category: EvidenceMetrics,
			Stances: []HypothesisStance{{HypothesisID: "H1", Stance: StanceNeutral}},
		}, false},
		{"unknown form", Classification{Form: "FAX"}, true},
		{"unknown intent", Classification{Intent: "GOSSIP"}, true},
		{"unknown category", Classification{Category: "VIBES"}, true},
		{"unknown stance", Classification{Stances: []HypothesisStance{{HypothesisID: "H1", Stance: "MAYBE"}}}, true},
		{"missing stance", Classification{Stances: []HypothesisStance{{HypothesisID: "H1"}}}, true},
		{"missing hypothesis", Classification{Stances: []HypothesisStance{{Stance: StanceSupports}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
