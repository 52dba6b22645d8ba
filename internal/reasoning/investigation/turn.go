package investigation

import "time"

// TurnInput is everything one externally-driven update cycle brings in.
// All fields are optional except TurnID. A zero At stamps the turn with the
// aggregate's previous UpdatedAt, so the outcome never depends on when the
// turn happens to run.
type TurnInput struct {
	TurnID string    `json:"turn_id"`
	At     time.Time `json:"at"`

	Problem        *ProblemConfirmation `json:"problem,omitempty"`
	Scope          *ScopeFrame          `json:"scope,omitempty"`
	TimelineEvents []TimelineEvent      `json:"timeline_events,omitempty"`
	Correlations   []Correlation        `json:"correlations,omitempty"`
	Hypotheses     []HypothesisProposal `json:"hypotheses,omitempty"`
	Evidence       []EvidenceSubmission `json:"evidence,omitempty"`
	Blocked        []RequirementBlock   `json:"blocked,omitempty"`
	Signals        []DegradedSignal     `json:"signals,omitempty"`
	Decisions      Decisions            `json:"decisions"`

	// Transition requests an explicit edge, e.g. a loop-back. An invalid
	// request rejects the whole turn.
	Transition *TransitionRequest `json:"transition,omitempty"`
}

// HasDiagnosticWork reports whether the input tries to change the diagnosis.
func (in TurnInput) HasDiagnosticWork() bool {
	return in.Problem != nil || in.Scope != nil || len(in.TimelineEvents) > 0 ||
		len(in.Correlations) > 0 || len(in.Hypotheses) > 0 || len(in.Evidence) > 0 ||
		len(in.Blocked) > 0 || len(in.Signals) > 0 || in.Transition != nil ||
		in.Decisions.any()
}

// Decisions are explicit user choices carried by a turn.
type Decisions struct {
	OptIntoInvestigation   bool     `json:"opt_into_investigation,omitempty"`
	ConfirmUrgentPath      bool     `json:"confirm_urgent_path,omitempty"`
	DeclineUrgentPath      bool     `json:"decline_urgent_path,omitempty"`
	SolutionProposed       string   `json:"solution_proposed,omitempty"`
	SolutionApplied        bool     `json:"solution_applied,omitempty"`
	SolutionVerified       bool     `json:"solution_verified,omitempty"`
	DeclineSolution        bool     `json:"decline_solution,omitempty"`
	AcceptDegradedResult   bool     `json:"accept_degraded_result,omitempty"`
	ExternalAnswerReceived bool     `json:"external_answer_received,omitempty"`
	WorkaroundApplied      bool     `json:"workaround_applied,omitempty"`
	RetireHypotheses       []string `json:"retire_hypotheses,omitempty"`
	ForceClose             bool     `json:"force_close,omitempty"`
	CloseReason            string   `json:"close_reason,omitempty"`
}

func (d Decisions) any() bool {
	return d.OptIntoInvestigation || d.ConfirmUrgentPath || d.DeclineUrgentPath ||
		d.SolutionProposed != "" || d.SolutionApplied || d.SolutionVerified ||
		d.DeclineSolution || d.AcceptDegradedResult || d.ExternalAnswerReceived ||
		d.WorkaroundApplied || len(d.RetireHypotheses) > 0 || d.ForceClose
}

// HypothesisProposal is a new theory offered by the caller.
type HypothesisProposal struct {
	Statement    string             `json:"statement"`
	Category     HypothesisCategory `json:"category"`
	Likelihood   float64            `json:"likelihood"`
	Requirements []RequirementSpec  `json:"requirements,omitempty"`
}

// EvidenceSubmission is one classified evidence item. The engine fills
// Classification from the reasoning service before the turn reaches the
// controller; ContentRef comes from the artifact store.
type EvidenceSubmission struct {
	Text           string          `json:"text,omitempty"`
	ContentRef     string          `json:"content_ref,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
}

// RequirementBlock reports a requirement the user cannot satisfy.
type RequirementBlock struct {
	RequirementID string `json:"requirement_id"`
	Reason        string `json:"reason"`
}

// TransitionRequest asks for an explicit edge.
type TransitionRequest struct {
	To     Phase  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// GuardFailure explains why the next forward edge was not taken this turn.
type GuardFailure struct {
	From   Phase  `json:"from"`
	To     Phase  `json:"to"`
	Reason string `json:"reason"`
}

// TurnResult is what a turn produced besides the updated aggregate.
type TurnResult struct {
	TurnID            string            `json:"turn_id"`
	Turn              int               `json:"turn"`
	Replayed          bool              `json:"replayed"`
	Transitions       []PhaseTransition `json:"transitions"`
	GuardFailures     []GuardFailure    `json:"guard_failures"`
	Recommendations   []Recommendation  `json:"recommendations"`
	Escalation        *Escalation       `json:"escalation,omitempty"`
	DegradedEntered   *DegradedMode     `json:"degraded_entered,omitempty"`
	DegradedExited    *DegradedMode     `json:"degraded_exited,omitempty"`
	RetiredHypotheses []string          `json:"retired_hypotheses"`
	RootCauseSet      bool              `json:"root_cause_set"`
	MadeProgress      bool              `json:"made_progress"`
}

// Recommend appends a recommendation unless an identical one is present.
func (r *TurnResult) Recommend(rec Recommendation) {
	for _, existing := range r.Recommendations {
		if existing.Kind == rec.Kind && samePhase(existing.Target, rec.Target) {
			return
		}
	}
	r.Recommendations = append(r.Recommendations, rec)
}

func samePhase(a, b *Phase) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// PhasePtr is a convenience for Recommendation.Target.
func PhasePtr(p Phase) *Phase { return &p }
