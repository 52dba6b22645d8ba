// Package lifecycle is the Phase Lifecycle Controller: the single entry point
// that applies one turn to an investigation.
//
// Advance composes the other reasoning components in a fixed order, wrapped in
// one tactical OODA iteration:
//
//	Observe  ingest problem, scope, timeline, hypotheses, evidence, decisions
//	Orient   move likelihoods, apply status rules, decay, root cause,
//	         degraded exit, working conclusion
//	Decide   pick at most one transition (explicit request, force close, or
//	         the first forward edge whose guard holds)
//	Act      apply it and its entry effects
//
// Advance never mutates its argument. It works on a clone and returns it, so
// a rejected turn leaves the caller's aggregate exactly as it was.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/confidence"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/correlation"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/degraded"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/graph"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/ooda"
)

// ErrInvalidTurn is returned for malformed turn input, such as a reference to
// an unknown requirement or hypothesis.
var ErrInvalidTurn = errors.New("invalid turn input")

// Controller applies turns. It is stateless and safe for concurrent use
// across different investigations.
type Controller struct {
	degraded *degraded.Manager
}

// NewController returns a Controller.
func NewController() *Controller {
	return &Controller{degraded: degraded.NewManager()}
}

// Advance applies one turn and returns the updated aggregate. The input
// aggregate is never modified.
//
// Replaying the id of the last applied turn returns inv itself with
// Replayed set. Diagnostic work in Phase 6 is rejected with an error that
// matches investigation.ErrTerminal; the result then carries an
// OPEN_NEW_INVESTIGATION recommendation. Any other error means the turn was
// rejected as a whole and the returned aggregate and result are nil.
func (c *Controller) Advance(inv *investigation.Investigation, in investigation.TurnInput) (*investigation.Investigation, *investigation.TurnResult, error) {
	if inv == nil {
		return nil, nil, fmt.Errorf("%w: nil investigation", ErrInvalidTurn)
	}
	if in.TurnID == "" {
		return nil, nil, fmt.Errorf("%w: turn id is required", ErrInvalidTurn)
	}
	if in.TurnID == inv.LastTurnID {
		return inv, &investigation.TurnResult{TurnID: in.TurnID, Turn: inv.Turn, Replayed: true}, nil
	}
	if inv.IsTerminal() {
		return c.terminal(inv, in)
	}

	work := inv.Clone()
	work.Turn++
	at := in.At.UTC()
	if in.At.IsZero() {
		at = inv.UpdatedAt
	}
	work.UpdatedAt = at

	r := &run{
		ctl:  c,
		inv:  work,
		in:   in,
		at:   at,
		turn: work.Turn,
		g:    graph.New(work, work.Turn),
		res:  newResult(in.TurnID, work.Turn),
	}
	if err := r.execute(); err != nil {
		return nil, nil, err
	}
	work.LastTurnID = in.TurnID
	return work, r.res, nil
}

func (c *Controller) terminal(inv *investigation.Investigation, in investigation.TurnInput) (*investigation.Investigation, *investigation.TurnResult, error) {
	res := newResult(in.TurnID, inv.Turn)
	res.Recommend(investigation.Recommendation{
		Kind:   investigation.RecommendOpenNewInvestigation,
		Reason: "this investigation is closed; open a new investigation to continue diagnosing",
	})
	if !in.HasDiagnosticWork() {
		return inv, res, nil
	}
	to := investigation.PhaseDocumentation
	if in.Transition != nil {
		to = in.Transition.To
	}
	return inv, res, &investigation.GuardError{
		From:   investigation.PhaseDocumentation,
		To:     to,
		Code:   investigation.GuardTerminalPhase,
		Reason: "investigation is closed; open a new investigation to continue diagnosing",
	}
}

func newResult(turnID string, turn int) *investigation.TurnResult {
	return &investigation.TurnResult{
		TurnID:            turnID,
		Turn:              turn,
		Transitions:       []investigation.PhaseTransition{},
		GuardFailures:     []investigation.GuardFailure{},
		Recommendations:   []investigation.Recommendation{},
		RetiredHypotheses: []string{},
	}
}

// run holds the state of one Advance call.
type run struct {
	ctl  *Controller
	inv  *investigation.Investigation
	in   investigation.TurnInput
	at   time.Time
	turn int
	g    *graph.Graph
	res  *investigation.TurnResult

	startPhase     investigation.Phase
	before         ooda.Snapshot
	degradedBefore bool
	signals        []investigation.DegradedSignal
}

// OnEscalation records a tactical escalation on the turn result.
func (r *run) OnEscalation(_ *investigation.Investigation, e investigation.Escalation) {
	esc := e
	r.res.Escalation = &esc
	r.res.Recommend(investigation.Recommendation{
		Kind:   investigation.RecommendEscalate,
		Reason: e.Reason,
	})
}

func (r *run) execute() error {
	inv := r.inv
	r.startPhase = inv.CurrentPhase
	r.before = ooda.Take(inv)
	r.degradedBefore = inv.Degraded != nil

	loop := ooda.New(r.ctl.degraded, r)
	iterating := inv.OODAActive
	if iterating {
		if err := loop.Begin(inv); err != nil {
			return err
		}
	}
	step := func(s investigation.OODAStep) error {
		if !iterating {
			return nil
		}
		return loop.Complete(inv, s)
	}

	if err := r.observe(); err != nil {
		return err
	}
	if err := step(investigation.StepObserve); err != nil {
		return err
	}

	if err := r.orient(); err != nil {
		return err
	}
	if err := step(investigation.StepOrient); err != nil {
		return err
	}

	target, trigger, err := r.decide()
	if err != nil {
		return err
	}
	if err := step(investigation.StepDecide); err != nil {
		return err
	}

	if target != nil {
		r.transition(*target, trigger)
	}
	confidence.Update(inv, r.turn)
	if err := step(investigation.StepAct); err != nil {
		return err
	}

	progress := ooda.Progressed(r.before, ooda.Take(inv))
	r.res.MadeProgress = progress
	r.updateProgress(progress)

	if iterating && inv.OODAActive {
		if _, err := loop.Finish(inv, r.turn, progress); err != nil {
			return err
		}
	}
	// The finished iteration belongs to the phase the turn started in; the
	// loop moves to the new phase only after it is recorded.
	if inv.OODAActive && !inv.IsTerminal() {
		ooda.Enter(inv, inv.CurrentPhase)
	}

	if inv.IsTerminal() {
		r.close()
		return nil
	}

	r.ctl.degraded.Evaluate(inv, r.signals, r.turn)
	if !r.degradedBefore && inv.Degraded != nil {
		entered := *inv.Degraded
		r.res.DegradedEntered = &entered
		confidence.Update(inv, r.turn)
	}
	r.recommend()
	return nil
}

// observe ingests everything the turn carries.
func (r *run) observe() error {
	inv, in := r.inv, r.in

	if p := in.Problem; p != nil {
		if inv.Problem == nil {
			inv.Problem = &investigation.ProblemConfirmation{}
		}
		if p.Statement != "" {
			inv.Problem.Statement = p.Statement
		}
		inv.Problem.Confirmed = inv.Problem.Confirmed || p.Confirmed
		inv.Problem.Signals = mergeSignals(inv.Problem.Signals, p.Signals)
	}
	if in.Decisions.OptIntoInvestigation && inv.CurrentPhase == investigation.PhaseIntake {
		inv.EngagementMode = investigation.ModeDirective
	}
	if s := in.Scope; s != nil {
		frame := *s
		frame.Confidence = confidence.Clamp(frame.Confidence)
		inv.Scope = &frame
	}
	resolveUrgency(inv)

	if len(in.TimelineEvents) > 0 || len(in.Correlations) > 0 {
		r.ingestTimeline()
	}

	for _, p := range in.Hypotheses {
		if p.Statement == "" {
			return fmt.Errorf("%w: hypothesis statement is required", ErrInvalidTurn)
		}
		r.g.Propose(p)
	}
	for _, ev := range in.Evidence {
		if ev.Text == "" && ev.ContentRef == "" && ev.Classification == nil {
			return fmt.Errorf("%w: empty evidence submission", ErrInvalidTurn)
		}
		if ev.Classification != nil {
			if err := ev.Classification.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidTurn, err)
			}
		}
		r.g.Ingest(ev)
	}
	for _, b := range in.Blocked {
		if err := r.g.Block(b); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTurn, err)
		}
	}
	for _, id := range in.Decisions.RetireHypotheses {
		if err := r.g.Retire(id, "retired by user"); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTurn, err)
		}
		r.res.RetiredHypotheses = append(r.res.RetiredHypotheses, id)
	}

	changes := r.g.Changes()
	if inv.CurrentPhase == investigation.PhaseDiagnosis {
		inv.ScopeChallenged = inv.ScopeChallenged || changes.ScopeChanged
		inv.TimelineChallenged = inv.TimelineChallenged || changes.TimelineContradicted
	}
	r.signals = append(append([]investigation.DegradedSignal{}, in.Signals...), changes.Signals...)

	d := in.Decisions
	sol := &inv.Solution
	if d.SolutionProposed != "" {
		sol.Description = d.SolutionProposed
		sol.Proposed = true
	}
	sol.Applied = sol.Applied || d.SolutionApplied
	sol.Verified = sol.Verified || d.SolutionVerified
	if d.DeclineSolution {
		sol.DeclinedByUser = true
	}
	if d.DeclineUrgentPath && inv.CurrentPhase == investigation.PhaseTimeline && inv.Strategy == nil {
		inv.UrgentPathDeclined = true
		inv.PendingUrgentConfirmation = false
	}
	return nil
}

func mergeSignals(cur, next investigation.UrgencySignals) investigation.UrgencySignals {
	if next.Urgency != "" {
		cur.Urgency = next.Urgency
	}
	if next.Temporal != "" {
		cur.Temporal = next.Temporal
	}
	if next.Scope != "" {
		cur.Scope = next.Scope
	}
	return cur
}

func (r *run) ingestTimeline() {
	tl := &r.inv.Timeline
	known := make(map[string]bool, len(tl.Events))
	for _, e := range tl.Events {
		known[e.ID] = true
	}
	for _, e := range r.in.TimelineEvents {
		if e.ID == "" {
			r.inv.Seq.Event++
			e.ID = fmt.Sprintf("T%d", r.inv.Seq.Event)
		}
		if known[e.ID] {
			continue
		}
		e.OccurredAt = e.OccurredAt.UTC()
		known[e.ID] = true
		tl.Events = append(tl.Events, e)
	}
	sort.SliceStable(tl.Events, func(i, j int) bool {
		return tl.Events[i].OccurredAt.Before(tl.Events[j].OccurredAt)
	})
	tl.Correlations = append(tl.Correlations, r.in.Correlations...)
	correlation.Recompute(tl)
}

// orient updates likelihoods, statuses, the root cause and the working
// conclusion from what was observed.
func (r *run) orient() error {
	inv, g := r.inv, r.g
	changes := g.Changes()

	confidence.ApplyLinks(inv, changes.NewLinks, r.turn)
	g.Evaluate()

	// Likelihoods do not decay while a degraded mode explains the stall.
	decay := r.startPhase == investigation.PhaseDiagnosis && inv.Degraded == nil
	for _, id := range confidence.Stagnate(inv, changes.Progressed, r.turn, decay) {
		if err := g.Retire(id, confidence.DecayReason); err != nil {
			return err
		}
		r.res.RetiredHypotheses = append(r.res.RetiredHypotheses, id)
	}

	if h := bestValidated(inv); h != nil {
		if inv.RootCause == nil || inv.RootCause.HypothesisID != h.ID || inv.RootCause.Basis != investigation.BasisValidated {
			confidence.PromoteRootCause(inv, g, h, investigation.BasisValidated, r.turn)
			r.res.RootCauseSet = true
		}
	}

	hasNewEvidence := false
	for _, id := range changes.NewEvidence {
		if ev := inv.EvidenceByID(id); ev != nil && ev.Intent == investigation.IntentProvidingEvidence {
			hasNewEvidence = true
		}
	}
	exit := degraded.ExitEvents{
		NewEvidence:       hasNewEvidence,
		ExternalAnswer:    r.in.Decisions.ExternalAnswerReceived,
		NewHypothesis:     len(changes.NewHypotheses) > 0,
		WorkaroundApplied: r.in.Decisions.WorkaroundApplied,
	}
	if closed := r.ctl.degraded.TryExit(inv, exit, r.turn); closed != nil {
		r.res.DegradedExited = closed
	}

	if inv.RootCause == nil && inv.CurrentPhase == investigation.PhaseDiagnosis {
		if best := confidence.Best(inv); best != nil && degraded.AlternateRoute(inv, best) {
			confidence.PromoteRootCause(inv, g, best, investigation.BasisAsValidated, r.turn)
			r.res.RootCauseSet = true
		}
	}

	if r.in.Decisions.AcceptDegradedResult {
		if inv.Degraded == nil {
			return fmt.Errorf("%w: no degraded mode is active", ErrInvalidTurn)
		}
		best := confidence.Best(inv)
		if best == nil {
			return fmt.Errorf("%w: no hypothesis to accept", ErrInvalidTurn)
		}
		confidence.PromoteRootCause(inv, g, best, investigation.BasisDegradedAccepted, r.turn)
		r.res.RootCauseSet = true
	}

	confidence.Update(inv, r.turn)

	if inv.CurrentPhase == investigation.PhaseHypothesis || inv.CurrentPhase == investigation.PhaseDiagnosis {
		if cat, ok := graph.Anchored(inv); ok {
			inv.ForceAlternative = true
			r.res.Recommend(investigation.Recommendation{
				Kind:   investigation.RecommendGenerateAlternative,
				Reason: fmt.Sprintf("every live hypothesis is in category %s; propose an alternative", cat),
			})
		}
	}
	return nil
}

func bestValidated(inv *investigation.Investigation) *investigation.Hypothesis {
	var best *investigation.Hypothesis
	for _, h := range inv.HypothesesWithStatus(investigation.HypothesisValidated) {
		if best == nil || h.Likelihood > best.Likelihood {
			best = h
		}
	}
	return best
}

// decide picks at most one transition for this turn. An explicit request
// whose guard fails rejects the turn.
func (r *run) decide() (*investigation.Phase, string, error) {
	inv, in := r.inv, r.in

	if in.Transition != nil {
		to := in.Transition.To
		if ge := check(inv, in.Decisions, to); ge != nil {
			return nil, "", ge
		}
		trigger := in.Transition.Reason
		if trigger == "" {
			trigger = "requested"
		}
		return &to, trigger, nil
	}

	if in.Decisions.ForceClose {
		to := investigation.PhaseDocumentation
		reason := "forced close"
		if in.Decisions.CloseReason != "" {
			reason += ": " + in.Decisions.CloseReason
		}
		return &to, reason, nil
	}

	if inv.CurrentPhase == investigation.PhaseTimeline {
		inv.PendingUrgentConfirmation = false
	}
	targets := forwardTargets(inv)
	for i, to := range targets {
		ge := check(inv, in.Decisions, to)
		if ge == nil {
			return &to, "guards satisfied", nil
		}
		// 4→6 only matters when the user declined a fix.
		if len(targets) > 1 && i == 0 && !in.Decisions.DeclineSolution {
			continue
		}
		r.res.GuardFailures = append(r.res.GuardFailures, investigation.GuardFailure{From: ge.From, To: ge.To, Reason: ge.Reason})
		if ge.Code == investigation.GuardConfirmationRequired {
			inv.PendingUrgentConfirmation = true
		}
	}
	return nil, "", nil
}

// transition applies one edge and its entry effects. Phase 6 effects that
// depend on the finished iteration run later, in close.
func (r *run) transition(to investigation.Phase, trigger string) {
	inv, g := r.inv, r.g
	from := inv.CurrentPhase
	loopBack := IsLoopBack(from, to)

	pt := investigation.PhaseTransition{
		From:     from,
		To:       to,
		Trigger:  trigger,
		Turn:     r.turn,
		At:       r.at,
		LoopBack: loopBack,
	}
	inv.Transitions = append(inv.Transitions, pt)
	r.res.Transitions = append(r.res.Transitions, pt)
	inv.CurrentPhase = to
	inv.Progress.TurnsInPhase = 0

	if loopBack {
		inv.LoopBackCount++
		switch to {
		case investigation.PhaseTriage:
			inv.ScopeChallenged = false
			if inv.Scope != nil {
				inv.Scope.Verified = false
			}
		case investigation.PhaseTimeline:
			inv.TimelineChallenged = false
		}
	}

	switch to {
	case investigation.PhaseTriage:
		inv.EngagementMode = investigation.ModeDirective
		inv.Status = investigation.StatusInvestigating
		if !inv.OODAActive {
			ooda.Activate(inv, to)
		}
	case investigation.PhaseHypothesis:
		if inv.Strategy == nil {
			s := investigation.StrategyNonUrgent
			inv.Strategy = &s
		}
		g.ActivateCaptured()
	case investigation.PhaseDiagnosis:
		g.OpenRequests()
	case investigation.PhaseSolution:
		if from == investigation.PhaseTimeline && inv.Strategy == nil {
			s := investigation.StrategyUrgent
			inv.Strategy = &s
			inv.PendingUrgentConfirmation = false
		}
	case investigation.PhaseDocumentation:
		if r.in.Decisions.ForceClose {
			inv.Status = investigation.StatusClosed
			inv.Solution.CloseReason = r.in.Decisions.CloseReason
		} else {
			inv.Status = investigation.StatusResolved
		}
	}
}

// close finalises Phase 6: the tactical loop stops and the working
// conclusion and progress metrics become read-only.
func (r *run) close() {
	inv := r.inv
	ooda.Deactivate(inv)
	confidence.Freeze(inv, r.turn)
	inv.Progress.Frozen = true
	inv.PendingUrgentConfirmation = false
}

// updateProgress classifies momentum for the turn.
func (r *run) updateProgress(progress bool) {
	p := &r.inv.Progress
	if p.Frozen {
		return
	}
	if len(r.res.Transitions) == 0 {
		p.TurnsInPhase++
	}
	p.EvidenceCollected = len(r.inv.Evidence)

	changes := r.g.Changes()
	if progress {
		p.TurnsWithoutProgress = 0
		p.ConsecutiveBlockedTurns = 0
		p.LastProgressTurn = r.turn
		p.BlockedReasons = []string{}
		p.Momentum = investigation.MomentumModerate
		if len(changes.NewEvidence) >= 2 || len(changes.StatusChanges) > 0 {
			p.Momentum = investigation.MomentumHigh
		}
		return
	}

	p.TurnsWithoutProgress++
	if p.TurnsWithoutProgress <= 2 {
		p.Momentum = investigation.MomentumLow
		return
	}
	p.Momentum = investigation.MomentumBlocked
	p.ConsecutiveBlockedTurns++
	p.BlockedReasons = blockedReasons(r.inv, r.res.GuardFailures)
}

func blockedReasons(inv *investigation.Investigation, failures []investigation.GuardFailure) []string {
	reasons := []string{}
	for _, f := range failures {
		reasons = append(reasons, f.Reason)
	}
	for _, h := range inv.Hypotheses {
		for _, req := range h.Requirements {
			if req.Status == investigation.RequirementBlocked {
				reasons = append(reasons, fmt.Sprintf("requirement %s blocked: %s", req.ID, req.BlockReason))
			}
		}
	}
	return reasons
}

// recommend surfaces the options the caller may act on next turn.
func (r *run) recommend() {
	inv, res := r.inv, r.res

	if inv.CurrentPhase == investigation.PhaseTimeline && inv.PendingUrgentConfirmation {
		res.Recommend(investigation.Recommendation{
			Kind:   investigation.RecommendConfirmUrgentPath,
			Target: investigation.PhasePtr(investigation.PhaseSolution),
			Reason: fmt.Sprintf("urgency %s with correlation confidence %.2f qualifies for the urgent path",
				inv.Urgency, inv.Timeline.CorrelationConfidence),
		})
	}

	if inv.CurrentPhase == investigation.PhaseDiagnosis {
		for _, to := range []investigation.Phase{investigation.PhaseHypothesis, investigation.PhaseTimeline, investigation.PhaseTriage} {
			if !loopBackHolds(inv, to) {
				continue
			}
			if inv.LoopBackCount >= MaxLoopBacks {
				if res.Escalation == nil {
					res.Escalation = &investigation.Escalation{
						Source: investigation.EscalationLoopBackLimit,
						Phase:  inv.CurrentPhase,
						Turn:   r.turn,
						Reason: fmt.Sprintf("loop-back limit of %d reached", MaxLoopBacks),
					}
				}
				res.Recommend(investigation.Recommendation{
					Kind:   investigation.RecommendEscalate,
					Reason: fmt.Sprintf("loop-back to %s needed but the limit of %d is reached", to, MaxLoopBacks),
				})
				continue
			}
			res.Recommend(investigation.Recommendation{
				Kind:   investigation.RecommendLoopBack,
				Target: investigation.PhasePtr(to),
				Reason: loopBackReason(to),
			})
		}
	}

	if wc := inv.WorkingConclusion; wc != nil && wc.ReadyForSolution && !inv.Solution.Proposed &&
		(inv.CurrentPhase == investigation.PhaseDiagnosis || inv.CurrentPhase == investigation.PhaseSolution) {
		res.Recommend(investigation.Recommendation{
			Kind:   investigation.RecommendProposeSolution,
			Reason: fmt.Sprintf("confidence %.2f with evidence completeness %.2f", wc.Confidence, wc.EvidenceCompleteness),
		})
	}

	if d := inv.Degraded; d != nil {
		if d.Type == investigation.DegradedUserBlocked {
			res.Recommend(investigation.Recommendation{
				Kind:   investigation.RecommendProvideAlternateInput,
				Reason: d.FallbackStrategy,
			})
		}
		if inv.RootCause == nil && confidence.Best(inv) != nil {
			res.Recommend(investigation.Recommendation{
				Kind:   investigation.RecommendAcceptDegradedResult,
				Reason: fmt.Sprintf("degraded mode %s: %s", d.Type, d.FallbackStrategy),
			})
		}
	}
}

func loopBackReason(to investigation.Phase) string {
	switch to {
	case investigation.PhaseHypothesis:
		return "every hypothesis is refuted, inconclusive or retired"
	case investigation.PhaseTimeline:
		return "evidence contradicts the recorded timeline"
	default:
		return "evidence reveals a larger or different scope"
	}
}
