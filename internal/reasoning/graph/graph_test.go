package graph

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

func newInv(phase investigation.Phase) *investigation.Investigation {
	inv := investigation.New("inv-1", "api latency", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	inv.CurrentPhase = phase
	return inv
}

func proposal(statement string, cat investigation.HypothesisCategory, reqs ...string) investigation.HypothesisProposal {
	p := investigation.HypothesisProposal{Statement: statement, Category: cat, Likelihood: 0.5}
	for _, r := range reqs {
		p.Requirements = append(p.Requirements, investigation.RequirementSpec{Description: r, Priority: investigation.PriorityCritical})
	}
	return p
}

func classified(c investigation.Classification) investigation.EvidenceSubmission {
	return investigation.EvidenceSubmission{Text: "evidence", Classification: &c}
}

func TestPropose_CapturedBeforeHypothesisPhase(t *testing.T) {
	inv := newInv(investigation.PhaseTimeline)
	g := New(inv, 1)

	h := g.Propose(proposal("bad deploy", investigation.CategoryCode, "deploy log"))
	assert.Equal(t, "H1", h.ID)
	assert.Equal(t, investigation.HypothesisCaptured, h.Status)
	assert.Equal(t, investigation.GenerationOpportunistic, h.GenerationMode)
	assert.Empty(t, h.Requirements)
	assert.Len(t, h.ProposedRequirements, 1)

	inv.CurrentPhase = investigation.PhaseHypothesis
	activated := New(inv, 2).ActivateCaptured()
	assert.Equal(t, []string{"H1"}, activated)
	assert.Equal(t, investigation.HypothesisActive, h.Status)
	require.Len(t, h.Requirements, 1)
	assert.Equal(t, "R1", h.Requirements[0].ID)
	assert.Equal(t, investigation.RequirementPending, h.Requirements[0].Status)
	assert.Nil(t, h.ProposedRequirements)
}

func TestPropose_DefaultsAndForcedAlternative(t *testing.T) {
	inv := newInv(investigation.PhaseHypothesis)
	inv.ForceAlternative = true
	g := New(inv, 1)

	h := g.Propose(investigation.HypothesisProposal{Statement: "x", Category: "NONSENSE"})
	assert.Equal(t, investigation.GenerationForcedAlternative, h.GenerationMode)
	assert.Equal(t, investigation.CategoryOther, h.Category)
	assert.Equal(t, DefaultLikelihood, h.Likelihood)
	assert.False(t, inv.ForceAlternative)

	h2 := g.Propose(proposal("y", investigation.CategoryNetwork))
	assert.Equal(t, investigation.GenerationSystematic, h2.GenerationMode)
	assert.Equal(t, []string{"H1", "H2"}, g.Changes().NewHypotheses)
}

func TestIngest_CompletenessIsMonotonic(t *testing.T) {
	inv := newInv(investigation.PhaseDiagnosis)
	h := New(inv, 1).Propose(proposal("pool exhausted", investigation.CategoryCapacity, "pool metrics"))
	reqID := h.Requirements[0].ID

	g := New(inv, 2)
	g.Ingest(classified(investigation.Classification{MatchedRequirements: []string{reqID}, Completeness: 0.6}))
	assert.Equal(t, 0.6, h.Requirements[0].Completeness)
	assert.Equal(t, investigation.RequirementPartial, h.Requirements[0].Status)
	assert.True(t, g.Changes().Progressed[h.ID])

	g = New(inv, 3)
	g.Ingest(classified(investigation.Classification{MatchedRequirements: []string{reqID}, Completeness: 0.2}))
	assert.Equal(t, 0.6, h.Requirements[0].Completeness)
	assert.False(t, g.Changes().CompletenessIncreased)
	assert.False(t, g.Changes().Progressed[h.ID])

	g = New(inv, 4)
	ev := g.Ingest(classified(investigation.Classification{MatchedRequirements: []string{reqID}, Completeness: 0.9}))
	assert.Equal(t, 0.9, h.Requirements[0].Completeness)
	assert.Equal(t, investigation.RequirementComplete, h.Requirements[0].Status)
	assert.Equal(t, []string{reqID}, ev.Fulfills)
	assert.Equal(t, []string{"E1", "E2", "E3"}, h.Requirements[0].FulfilledBy)
}

func TestIngest_RequestLifecycle(t *testing.T) {
	inv := newInv(investigation.PhaseDiagnosis)
	h := New(inv, 1).Propose(proposal("dns", investigation.CategoryNetwork, "resolv.conf", "dig output"))
	require.Len(t, inv.Requests, 2)
	assert.Len(t, inv.OpenRequests(), 2)
	assert.True(t, AllRequestsUnfulfilled(inv))

	g := New(inv, 2)
	g.Ingest(classified(investigation.Classification{MatchedRequirements: []string{h.Requirements[0].ID}, Completeness: 1}))
	assert.Equal(t, investigation.RequestFulfilled, inv.Requests[0].Status)
	assert.Equal(t, investigation.RequestOpen, inv.Requests[1].Status)
	assert.False(t, AllRequestsUnfulfilled(inv))
}

func TestAllRequestsUnfulfilled_CurrentDiagnosisEntry(t *testing.T) {
	inv := newInv(investigation.PhaseDiagnosis)
	New(inv, 1).Propose(proposal("dns", investigation.CategoryNetwork, "resolv.conf", "dig output"))
	require.Len(t, inv.Requests, 2)
	inv.Requests[0].Status = investigation.RequestFulfilled
	assert.False(t, AllRequestsUnfulfilled(inv))

	// Requests answered before a later re-entry into Phase 4 no longer count.
	inv.Transitions = append(inv.Transitions, investigation.PhaseTransition{
		From: investigation.PhaseHypothesis, To: investigation.PhaseDiagnosis, Turn: 5,
	})
	assert.True(t, AllRequestsUnfulfilled(inv))

	inv.Requests[1].Status = investigation.RequestCancelled
	assert.False(t, AllRequestsUnfulfilled(inv), "nothing is pending")
}

func TestIngest_ReportingUnavailableBlocks(t *testing.T) {
	inv := newInv(investigation.PhaseDiagnosis)
	h := New(inv, 1).Propose(proposal("kernel", investigation.CategoryInfrastructure, "dmesg"))

	g := New(inv, 2)
	ev := g.Ingest(classified(investigation.Classification{
		MatchedRequirements: []string{h.Requirements[0].ID},
		Intent:              investigation.IntentReportingUnavailable,
	}))
	assert.Equal(t, investigation.RequirementBlocked, h.Requirements[0].Status)
	assert.Empty(t, ev.Fulfills)
	assert.Equal(t, []string{h.Requirements[0].ID}, g.Changes().BlockedRequirements)
}

func TestIngest_DefaultsWithoutClassification(t *testing.T) {
	inv := newInv(investigation.PhaseTriage)
	g := New(inv, 1)
	ev := g.Ingest(investigation.EvidenceSubmission{Text: "  screenshot of dashboard  ", ContentRef: "sha256:abc"})
	assert.Equal(t, investigation.FormDocument, ev.Form)
	assert.Equal(t, investigation.IntentProvidingEvidence, ev.Intent)
	assert.Equal(t, investigation.EvidenceOther, ev.Category)
	assert.Equal(t, "screenshot of dashboard", ev.Summary)
	assert.Equal(t, "sha256:abc", ev.ContentRef)
}

func TestIngest_SummaryKeepsRunesWhole(t *testing.T) {
	inv := newInv(investigation.PhaseTriage)
	text := strings.Repeat("ж", maxSummary+40)
	ev := New(inv, 1).Ingest(investigation.EvidenceSubmission{Text: text})
	assert.True(t, utf8.ValidString(ev.Summary))
	assert.Equal(t, strings.Repeat("ж", maxSummary)+"…", ev.Summary)
}

func TestIngest_UnknownEnumsFallBackToDefaults(t *testing.T) {
	inv := newInv(investigation.PhaseDiagnosis)
	h := New(inv, 1).Propose(proposal("leak", investigation.CategoryCode))

	g := New(inv, 2)
	ev := g.Ingest(classified(investigation.Classification{
		Intent:   "GOSSIP",
		Category: "VIBES",
		Form:     "FAX",
		Stances:  []investigation.HypothesisStance{{HypothesisID: h.ID, Stance: "MAYBE"}},
	}))
	assert.Equal(t, investigation.IntentProvidingEvidence, ev.Intent)
	assert.Equal(t, investigation.EvidenceOther, ev.Category)
	assert.Equal(t, investigation.FormUserInput, ev.Form)
	assert.Empty(t, inv.Links, "an unknown stance is not linked")
	assert.False(t, g.Changes().Progressed[h.ID])
}

func TestLinks_StanceBookkeeping(t *testing.T) {
	inv := newInv(investigation.PhaseDiagnosis)
	h := New(inv, 1).Propose(proposal("leak", investigation.CategoryCode))

	g := New(inv, 2)
	g.Ingest(classified(investigation.Classification{Stances: []investigation.HypothesisStance{
		{HypothesisID: h.ID, Stance: investigation.StanceSupports},
		{HypothesisID: h.ID, Stance: investigation.StanceRefutes},
		{HypothesisID: "H404", Stance: investigation.StanceSupports},
	}}))
	g.Ingest(classified(investigation.Classification{Stances: []investigation.HypothesisStance{
		{HypothesisID: h.ID, Stance: investigation.StanceRefutes},
	}}))
	g.Ingest(classified(investigation.Classification{Stances: []investigation.HypothesisStance{
		{HypothesisID: h.ID, Stance: investigation.StanceIrrelevant},
	}}))

	require.Len(t, inv.Links, 3)
	assert.Equal(t, []string{"E1"}, h.SupportingEvidence)
	assert.Equal(t, []string{"E2"}, h.RefutingEvidence)
}

func TestLinks_IrrelevantIsNotProgress(t *testing.T) {
	inv := newInv(investigation.PhaseDiagnosis)
	h := New(inv, 1).Propose(proposal("leak", investigation.CategoryCode))

	g := New(inv, 2)
	g.Ingest(classified(investigation.Classification{Stances: []investigation.HypothesisStance{
		{HypothesisID: h.ID, Stance: investigation.StanceIrrelevant},
	}}))
	assert.Len(t, g.Changes().NewLinks, 1)
	assert.False(t, g.Changes().Progressed[h.ID])
}

func TestEvaluate_Rules(t *testing.T) {
	t.Run("strong contradiction with complete test refutes", func(t *testing.T) {
		inv := newInv(investigation.PhaseDiagnosis)
		h := New(inv, 1).Propose(proposal("cache", investigation.CategoryData))
		g := New(inv, 2)
		g.Ingest(classified(investigation.Classification{Stances: []investigation.HypothesisStance{
			{HypothesisID: h.ID, Stance: investigation.StanceStronglyContradicts, Completeness: 0.9},
		}}))
		g.Evaluate()
		assert.Equal(t, investigation.HypothesisRefuted, h.Status)
	})

	t.Run("low likelihood after refutation refutes", func(t *testing.T) {
		inv := newInv(investigation.PhaseDiagnosis)
		h := New(inv, 1).Propose(proposal("cache", investigation.CategoryData))
		h.Likelihood = 0.1
		g := New(inv, 2)
		g.Ingest(classified(investigation.Classification{Stances: []investigation.HypothesisStance{
			{HypothesisID: h.ID, Stance: investigation.StanceRefutes},
		}}))
		g.Evaluate()
		assert.Equal(t, investigation.HypothesisRefuted, h.Status)
	})

	t.Run("validated needs support", func(t *testing.T) {
		inv := newInv(investigation.PhaseDiagnosis)
		h := New(inv, 1).Propose(proposal("cert expiry", investigation.CategorySecurity))
		h.Likelihood = 0.85
		g := New(inv, 2)
		g.Evaluate()
		assert.Equal(t, investigation.HypothesisActive, h.Status)

		g.Ingest(classified(investigation.Classification{Stances: []investigation.HypothesisStance{
			{HypothesisID: h.ID, Stance: investigation.StanceSupports},
		}}))
		g.Evaluate()
		assert.Equal(t, investigation.HypothesisValidated, h.Status)
		require.Len(t, g.Changes().StatusChanges, 1)
		assert.Equal(t, investigation.HypothesisActive, g.Changes().StatusChanges[0].From)
	})

	t.Run("resolved requirements without validation is inconclusive", func(t *testing.T) {
		inv := newInv(investigation.PhaseDiagnosis)
		h := New(inv, 1).Propose(proposal("quota", investigation.CategoryCapacity, "quota dump"))
		g := New(inv, 2)
		require.NoError(t, g.Block(investigation.RequirementBlock{RequirementID: h.Requirements[0].ID, Reason: "no access"}))
		g.Evaluate()
		assert.Equal(t, investigation.HypothesisInconclusive, h.Status)
	})
}

func TestRetire_ObsoletesRequirements(t *testing.T) {
	inv := newInv(investigation.PhaseDiagnosis)
	h := New(inv, 1).Propose(proposal("gc pauses", investigation.CategoryCode, "gc log", "heap dump"))
	g := New(inv, 2)
	g.Ingest(classified(investigation.Classification{MatchedRequirements: []string{h.Requirements[0].ID}, Completeness: 0.4}))

	require.NoError(t, g.Retire(h.ID, "confidence decay"))
	assert.Equal(t, investigation.HypothesisRetired, h.Status)
	assert.Equal(t, "confidence decay", h.StatusReason)
	for _, r := range h.Requirements {
		assert.Equal(t, investigation.RequirementObsolete, r.Status)
	}
	assert.Equal(t, 0.4, h.Requirements[0].Completeness)
	assert.Empty(t, inv.OpenRequests())

	assert.Error(t, g.Retire("H99", "x"))
}

func TestOpenRequests_OnEnteringDiagnosis(t *testing.T) {
	inv := newInv(investigation.PhaseHypothesis)
	g := New(inv, 1)
	h1 := g.Propose(proposal("a", investigation.CategoryCode, "r1", "r2"))
	g.Propose(proposal("b", investigation.CategoryNetwork, "r3"))
	assert.Empty(t, inv.Requests)

	h1.Requirements[1].Status = investigation.RequirementComplete
	inv.CurrentPhase = investigation.PhaseDiagnosis
	ids := New(inv, 2).OpenRequests()
	assert.Equal(t, []string{"Q1", "Q2"}, ids)
	assert.Empty(t, New(inv, 3).OpenRequests())
}

func TestAnchored(t *testing.T) {
	inv := newInv(investigation.PhaseHypothesis)
	g := New(inv, 1)
	g.Propose(proposal("a", investigation.CategoryConfiguration))
	g.Propose(proposal("b", investigation.CategoryConfiguration))
	_, ok := Anchored(inv)
	assert.False(t, ok)

	g.Propose(proposal("c", investigation.CategoryConfiguration))
	cat, ok := Anchored(inv)
	assert.True(t, ok)
	assert.Equal(t, investigation.CategoryConfiguration, cat)

	g.Propose(proposal("d", investigation.CategoryNetwork))
	_, ok = Anchored(inv)
	assert.False(t, ok)
}

func TestCompleteness(t *testing.T) {
	h := &investigation.Hypothesis{Requirements: []investigation.EvidenceRequirement{
		{Completeness: 1, Status: investigation.RequirementComplete},
		{Completeness: 0.2, Status: investigation.RequirementPartial},
		{Completeness: 0.9, Status: investigation.RequirementObsolete},
	}}
	assert.InDelta(t, 0.6, Completeness(h), 1e-9)
	assert.Equal(t, 0.0, Completeness(&investigation.Hypothesis{}))
}
