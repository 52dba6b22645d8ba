// Package graph owns the many-to-many relation between hypotheses and
// evidence, and the lifecycle of evidence requirements and requests.
//
// A Graph is a short-lived view over one Investigation for the duration of a
// single turn. It mutates the aggregate in place and accumulates a Changes
// record that the confidence tracker and the lifecycle controller read.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

const (
	// DefaultLikelihood seeds a proposal that carries no usable likelihood.
	DefaultLikelihood = 0.5

	// RequirementCompleteAt is the completeness at which a requirement is
	// considered satisfied.
	RequirementCompleteAt = 0.8

	// ValidatedAt is the likelihood at which a supported hypothesis is
	// promoted to VALIDATED.
	ValidatedAt = 0.8

	// RefutedAt is the likelihood at or under which a refuting link marks
	// the hypothesis REFUTED.
	RefutedAt = 0.1

	// AnchoringThreshold is the number of same-category live hypotheses that
	// counts as anchoring when no other category is live.
	AnchoringThreshold = 3

	maxSummary = 160
)

// StatusChange records one hypothesis status transition.
type StatusChange struct {
	HypothesisID string
	From         investigation.HypothesisStatus
	To           investigation.HypothesisStatus
	Reason       string
}

// Changes is what the graph did during the current turn.
type Changes struct {
	NewHypotheses []string
	NewEvidence   []string
	NewLinks      []investigation.EvidenceLink
	// Progressed holds ids of hypotheses that received a stance link (other
	// than IRRELEVANT) or a completeness increase.
	Progressed            map[string]bool
	CompletenessIncreased bool
	StatusChanges         []StatusChange
	BlockedRequirements   []string
	NewRequests           []string
	Signals               []investigation.DegradedSignal
	ScopeChanged          bool
	TimelineContradicted  bool
}

// Graph is a per-turn view over an investigation.
type Graph struct {
	inv     *investigation.Investigation
	turn    int
	changes Changes
}

// New opens a graph view for the given turn.
func New(inv *investigation.Investigation, turn int) *Graph {
	return &Graph{
		inv:  inv,
		turn: turn,
		changes: Changes{
			Progressed: map[string]bool{},
		},
	}
}

// Changes returns the accumulated changes of this turn.
func (g *Graph) Changes() *Changes { return &g.changes }

// Propose adds a new hypothesis. Proposals made before Phase 3 are CAPTURED
// opportunistically; from Phase 3 on they are ACTIVE straight away.
func (g *Graph) Propose(p investigation.HypothesisProposal) *investigation.Hypothesis {
	inv := g.inv
	inv.Seq.Hypothesis++

	likelihood := p.Likelihood
	if likelihood <= 0 || likelihood > 1 {
		likelihood = DefaultLikelihood
	}
	category := p.Category
	if !investigation.ValidCategory(category) {
		category = investigation.CategoryOther
	}

	h := &investigation.Hypothesis{
		ID:                 fmt.Sprintf("H%d", inv.Seq.Hypothesis),
		Statement:          p.Statement,
		Category:           category,
		Likelihood:         likelihood,
		InitialLikelihood:  likelihood,
		AnchorLikelihood:   likelihood,
		Trajectory:         []investigation.LikelihoodPoint{{Turn: g.turn, Value: likelihood, Reason: "seeded"}},
		Requirements:       []investigation.EvidenceRequirement{},
		SupportingEvidence: []string{},
		RefutingEvidence:   []string{},
		CreatedTurn:        g.turn,
		LastProgressTurn:   g.turn,
	}

	switch {
	case inv.ForceAlternative:
		h.GenerationMode = investigation.GenerationForcedAlternative
		inv.ForceAlternative = false
	case inv.CurrentPhase < investigation.PhaseHypothesis:
		h.GenerationMode = investigation.GenerationOpportunistic
	default:
		h.GenerationMode = investigation.GenerationSystematic
	}

	inv.Hypotheses = append(inv.Hypotheses, h)
	g.changes.NewHypotheses = append(g.changes.NewHypotheses, h.ID)

	if inv.CurrentPhase < investigation.PhaseHypothesis {
		h.Status = investigation.HypothesisCaptured
		h.ProposedRequirements = p.Requirements
		return h
	}
	h.Status = investigation.HypothesisActive
	g.materialize(h, p.Requirements)
	return h
}

// ActivateCaptured turns every CAPTURED hypothesis ACTIVE and materializes
// its proposed requirements. Called on entering Phase 3.
func (g *Graph) ActivateCaptured() []string {
	var activated []string
	for _, h := range g.inv.Hypotheses {
		if h.Status != investigation.HypothesisCaptured {
			continue
		}
		g.setStatus(h, investigation.HypothesisActive, "activated on entering hypothesis phase")
		g.materialize(h, h.ProposedRequirements)
		h.ProposedRequirements = nil
		activated = append(activated, h.ID)
	}
	return activated
}

func (g *Graph) materialize(h *investigation.Hypothesis, specs []investigation.RequirementSpec) {
	for _, spec := range specs {
		g.inv.Seq.Requirement++
		priority := spec.Priority
		if priority == "" {
			priority = investigation.PriorityImportant
		}
		req := investigation.EvidenceRequirement{
			ID:           fmt.Sprintf("R%d", g.inv.Seq.Requirement),
			HypothesisID: h.ID,
			Description:  spec.Description,
			Tests:        spec.Tests,
			Priority:     priority,
			Guidance:     spec.Guidance.Bounded(),
			Status:       investigation.RequirementPending,
			FulfilledBy:  []string{},
		}
		h.Requirements = append(h.Requirements, req)
		if g.inv.CurrentPhase == investigation.PhaseDiagnosis {
			g.openRequest(h, req)
		}
	}
}

// Ingest appends one evidence item, records its stance links and updates
// the requirements it matches.
func (g *Graph) Ingest(sub investigation.EvidenceSubmission) *investigation.Evidence {
	inv := g.inv
	inv.Seq.Evidence++

	c := classificationFor(sub)
	ev := &investigation.Evidence{
		ID:         fmt.Sprintf("E%d", inv.Seq.Evidence),
		Category:   c.Category,
		Form:       c.Form,
		Summary:    c.Summary,
		ContentRef: sub.ContentRef,
		Fulfills:   []string{},
		Intent:     c.Intent,
		Turn:       g.turn,
	}
	inv.Evidence = append(inv.Evidence, ev)
	g.changes.NewEvidence = append(g.changes.NewEvidence, ev.ID)

	for _, reqID := range c.MatchedRequirements {
		h, req := inv.Requirement(reqID)
		if req == nil || h.Status.Terminal() || req.Status == investigation.RequirementObsolete {
			continue
		}
		if c.Intent == investigation.IntentReportingUnavailable {
			g.block(req, "user reported the evidence is unavailable")
			continue
		}
		ev.Fulfills = append(ev.Fulfills, req.ID)
		req.FulfilledBy = append(req.FulfilledBy, ev.ID)
		if g.raiseCompleteness(req, c.Completeness) {
			g.changes.Progressed[h.ID] = true
		}
	}

	for _, st := range c.Stances {
		g.link(ev, st)
	}

	if c.Signal != nil {
		g.changes.Signals = append(g.changes.Signals, *c.Signal)
	}
	g.changes.ScopeChanged = g.changes.ScopeChanged || c.ScopeChanged
	g.changes.TimelineContradicted = g.changes.TimelineContradicted || c.TimelineContradicted
	return ev
}

func classificationFor(sub investigation.EvidenceSubmission) investigation.Classification {
	var c investigation.Classification
	if sub.Classification != nil {
		c = *sub.Classification
	}
	if !c.Intent.Valid() {
		c.Intent = investigation.IntentProvidingEvidence
	}
	if !c.Category.Valid() {
		c.Category = investigation.EvidenceOther
	}
	if !c.Form.Valid() {
		c.Form = investigation.FormUserInput
		if sub.ContentRef != "" {
			c.Form = investigation.FormDocument
		}
	}
	if c.Summary == "" {
		c.Summary = summarize(sub.Text)
	}
	return c
}

// summarize keeps at most maxSummary runes.
func summarize(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxSummary {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:maxSummary])) + "…"
}

func (g *Graph) link(ev *investigation.Evidence, st investigation.HypothesisStance) {
	if !st.Stance.Valid() {
		return
	}
	h := g.inv.Hypothesis(st.HypothesisID)
	if h == nil || h.Status.Terminal() || h.Status == investigation.HypothesisCaptured {
		return
	}
	for _, l := range g.inv.Links {
		if l.HypothesisID == h.ID && l.EvidenceID == ev.ID {
			return
		}
	}
	l := investigation.EvidenceLink{
		HypothesisID: h.ID,
		EvidenceID:   ev.ID,
		Stance:       st.Stance,
		Reasoning:    st.Reasoning,
		Completeness: clamp01(st.Completeness),
		Turn:         g.turn,
	}
	g.inv.Links = append(g.inv.Links, l)
	g.changes.NewLinks = append(g.changes.NewLinks, l)

	switch {
	case st.Stance.Supporting():
		h.SupportingEvidence = insertSorted(h.SupportingEvidence, ev.ID)
	case st.Stance.Refuting():
		h.RefutingEvidence = insertSorted(h.RefutingEvidence, ev.ID)
	}
	if st.Stance != investigation.StanceIrrelevant {
		g.changes.Progressed[h.ID] = true
	}
}

// Block marks a requirement BLOCKED on the user's report.
func (g *Graph) Block(b investigation.RequirementBlock) error {
	h, req := g.inv.Requirement(b.RequirementID)
	if req == nil {
		return fmt.Errorf("requirement %q not found", b.RequirementID)
	}
	if h.Status.Terminal() || !req.Status.Open() {
		return nil
	}
	g.block(req, b.Reason)
	return nil
}

func (g *Graph) block(req *investigation.EvidenceRequirement, reason string) {
	if !req.Status.Open() {
		return
	}
	req.Status = investigation.RequirementBlocked
	req.BlockReason = reason
	g.changes.BlockedRequirements = append(g.changes.BlockedRequirements, req.ID)
}

// raiseCompleteness applies max(old, new) and re-derives the status. It
// reports whether completeness increased.
func (g *Graph) raiseCompleteness(req *investigation.EvidenceRequirement, score float64) bool {
	score = clamp01(score)
	if score <= req.Completeness {
		return false
	}
	req.Completeness = score
	g.changes.CompletenessIncreased = true
	if req.Status == investigation.RequirementBlocked {
		req.BlockReason = ""
	}
	switch {
	case score >= RequirementCompleteAt:
		req.Status = investigation.RequirementComplete
		g.closeRequest(req.ID, investigation.RequestFulfilled)
	default:
		req.Status = investigation.RequirementPartial
	}
	return true
}

// Evaluate applies the hypothesis status rules to every live hypothesis
// after the confidence tracker has moved likelihoods for this turn's links.
func (g *Graph) Evaluate() {
	for _, h := range g.inv.Hypotheses {
		if h.Status != investigation.HypothesisActive && h.Status != investigation.HypothesisInconclusive {
			continue
		}
		if reason, ok := g.refuted(h); ok {
			g.setStatus(h, investigation.HypothesisRefuted, reason)
			continue
		}
		if h.Likelihood >= ValidatedAt && len(h.SupportingEvidence) > 0 {
			g.setStatus(h, investigation.HypothesisValidated, "likelihood reached validation threshold with supporting evidence")
			continue
		}
		if h.Status == investigation.HypothesisActive && len(h.Requirements) > 0 && !hasOpenRequirement(h) {
			g.setStatus(h, investigation.HypothesisInconclusive, "all evidence requirements resolved without validation")
		}
	}
}

func (g *Graph) refuted(h *investigation.Hypothesis) (string, bool) {
	refutedThisTurn := false
	for _, l := range g.changes.NewLinks {
		if l.HypothesisID != h.ID {
			continue
		}
		if l.Stance == investigation.StanceStronglyContradicts && l.Completeness >= RequirementCompleteAt {
			return fmt.Sprintf("strongly contradicted by %s", l.EvidenceID), true
		}
		if l.Stance.Refuting() {
			refutedThisTurn = true
		}
	}
	if refutedThisTurn && h.Likelihood <= RefutedAt {
		return "likelihood collapsed under refuting evidence", true
	}
	return "", false
}

func hasOpenRequirement(h *investigation.Hypothesis) bool {
	for _, r := range h.Requirements {
		if r.Status.Open() {
			return true
		}
	}
	return false
}

// Retire moves a hypothesis to RETIRED. Terminal hypotheses are left alone.
func (g *Graph) Retire(id, reason string) error {
	h := g.inv.Hypothesis(id)
	if h == nil {
		return fmt.Errorf("hypothesis %q not found", id)
	}
	if h.Status.Terminal() {
		return nil
	}
	g.setStatus(h, investigation.HypothesisRetired, reason)
	return nil
}

// Supersede marks a previously concluded hypothesis SUPERSEDED.
func (g *Graph) Supersede(id, by string) {
	h := g.inv.Hypothesis(id)
	if h == nil || h.Status.Terminal() {
		return
	}
	g.setStatus(h, investigation.HypothesisSuperseded, "superseded by "+by)
}

func (g *Graph) setStatus(h *investigation.Hypothesis, to investigation.HypothesisStatus, reason string) {
	if h.Status == to {
		return
	}
	g.changes.StatusChanges = append(g.changes.StatusChanges, StatusChange{
		HypothesisID: h.ID,
		From:         h.Status,
		To:           to,
		Reason:       reason,
	})
	h.Status = to
	h.StatusReason = reason
	if to.Terminal() {
		g.obsolete(h)
	}
}

// obsolete retires the open requirements of a terminal hypothesis and
// cancels their requests. Completeness is left untouched.
func (g *Graph) obsolete(h *investigation.Hypothesis) {
	for i := range h.Requirements {
		req := &h.Requirements[i]
		if req.Status == investigation.RequirementComplete {
			continue
		}
		req.Status = investigation.RequirementObsolete
		g.closeRequest(req.ID, investigation.RequestCancelled)
	}
}

// OpenRequests creates evidence requests for every non-fulfilled requirement
// of every ACTIVE hypothesis that does not already have one. Called on
// entering Phase 4 from Phase 3.
func (g *Graph) OpenRequests() []string {
	start := len(g.changes.NewRequests)
	for _, h := range g.inv.Hypotheses {
		if h.Status != investigation.HypothesisActive {
			continue
		}
		for _, req := range h.Requirements {
			if req.Status == investigation.RequirementComplete || req.Status == investigation.RequirementObsolete {
				continue
			}
			if g.hasRequest(req.ID) {
				continue
			}
			g.openRequest(h, req)
		}
	}
	return g.changes.NewRequests[start:]
}

func (g *Graph) hasRequest(reqID string) bool {
	for _, r := range g.inv.Requests {
		if r.RequirementID == reqID && r.Status == investigation.RequestOpen {
			return true
		}
	}
	return false
}

func (g *Graph) openRequest(h *investigation.Hypothesis, req investigation.EvidenceRequirement) {
	g.inv.Seq.Request++
	r := investigation.EvidenceRequest{
		ID:            fmt.Sprintf("Q%d", g.inv.Seq.Request),
		RequirementID: req.ID,
		HypothesisID:  h.ID,
		Description:   req.Description,
		Priority:      req.Priority,
		Status:        investigation.RequestOpen,
		CreatedTurn:   g.turn,
	}
	g.inv.Requests = append(g.inv.Requests, r)
	g.changes.NewRequests = append(g.changes.NewRequests, r.ID)
}

func (g *Graph) closeRequest(reqID string, status investigation.RequestStatus) {
	for i := range g.inv.Requests {
		r := &g.inv.Requests[i]
		if r.RequirementID == reqID && r.Status == investigation.RequestOpen {
			r.Status = status
		}
	}
}

// Anchored reports whether at least AnchoringThreshold live hypotheses share
// one category while no other category is live.
func Anchored(inv *investigation.Investigation) (investigation.HypothesisCategory, bool) {
	live := inv.LiveHypotheses()
	if len(live) < AnchoringThreshold {
		return "", false
	}
	cat := live[0].Category
	for _, h := range live[1:] {
		if h.Category != cat {
			return "", false
		}
	}
	return cat, true
}

// Completeness is the mean completeness over the hypothesis's non-obsolete
// requirements, or 0 when it has none.
func Completeness(h *investigation.Hypothesis) float64 {
	total, n := 0.0, 0
	for _, r := range h.Requirements {
		if r.Status == investigation.RequirementObsolete {
			continue
		}
		total += r.Completeness
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// AllRequestsUnfulfilled reports whether evidence requests are pending and
// none of the current Phase 4 entry has been answered: at least one request
// is open, no open request's requirement has any completeness, and no
// request opened since the last entry into Phase 4 was fulfilled.
func AllRequestsUnfulfilled(inv *investigation.Investigation) bool {
	since := diagnosisEntryTurn(inv)
	open := 0
	for _, r := range inv.Requests {
		switch r.Status {
		case investigation.RequestFulfilled:
			if r.CreatedTurn >= since {
				return false
			}
		case investigation.RequestOpen:
			if _, req := inv.Requirement(r.RequirementID); req != nil && req.Completeness > 0 {
				return false
			}
			open++
		}
	}
	return open > 0
}

// diagnosisEntryTurn is the turn of the last transition into Phase 4, or 0.
func diagnosisEntryTurn(inv *investigation.Investigation) int {
	for i := len(inv.Transitions) - 1; i >= 0; i-- {
		if inv.Transitions[i].To == investigation.PhaseDiagnosis {
			return inv.Transitions[i].Turn
		}
	}
	return 0
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
