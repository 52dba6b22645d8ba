package investigation

// Package investigation defines the Investigation aggregate and every record it
// owns. The aggregate is the unit of persistence and the only thing passed in
// and out of the lifecycle controller; no component keeps investigation state
// of its own between turns.
//
// Investigation State Machine (phases):
//
//   0 Intake → 1 Triage → 2 Timeline ─┬─→ 3 Hypothesis → 4 Diagnosis → 5 Solution → 6 Documentation
//                                     └─→ 5 Solution (URGENT strategy)
//
//   4 Diagnosis may loop back to 3, 2 or 1, and may short-cut to 6 when the
//   user declines implementing a fix. Any phase may be force-closed into 6.
//   Phase 6 is terminal.
//
// Serialization:
//   - Field order is declaration order (encoding/json), so the persisted form
//     is stable across runs.
//   - Every status and mode is an explicit string enum; Phase is its integer.
//   - Timestamps are time.Time and encode as RFC 3339 (ISO-8601).

import "time"

// Phase is one of the seven ordered investigation stages.
type Phase int

const (
	PhaseIntake Phase = iota
	PhaseTriage
	PhaseTimeline
	PhaseHypothesis
	PhaseDiagnosis
	PhaseSolution
	PhaseDocumentation
)

var phaseNames = [...]string{"intake", "triage", "timeline", "hypothesis", "diagnosis", "solution", "documentation"}

func (p Phase) String() string {
	if !p.Valid() {
		return "unknown"
	}
	return phaseNames[p]
}

// Valid reports whether p is one of the seven phases.
func (p Phase) Valid() bool {
	return p >= PhaseIntake && p <= PhaseDocumentation
}

// EngagementMode distinguishes consulting from a formal investigation.
type EngagementMode string

const (
	ModeReactive  EngagementMode = "REACTIVE"
	ModeDirective EngagementMode = "DIRECTIVE"
)

// Strategy is chosen once, when Phase 2 completes.
type Strategy string

const (
	StrategyUrgent    Strategy = "URGENT"
	StrategyNonUrgent Strategy = "NON_URGENT"
)

// CaseStatus is the host-facing lifecycle status of the case.
type CaseStatus string

const (
	StatusConsulting    CaseStatus = "CONSULTING"
	StatusInvestigating CaseStatus = "INVESTIGATING"
	StatusResolved      CaseStatus = "RESOLVED"
	StatusClosed        CaseStatus = "CLOSED"
)

// Investigation is the root aggregate, one per case.
type Investigation struct {
	ID             string         `json:"id"`
	CurrentPhase   Phase          `json:"current_phase"`
	EngagementMode EngagementMode `json:"engagement_mode"`
	Strategy       *Strategy      `json:"strategy"`
	Status         CaseStatus     `json:"status"`
	Turn           int            `json:"turn"`
	LoopBackCount  int            `json:"loop_back_count"`
	OODAActive     bool           `json:"ooda_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// LastTurnID is the id of the most recently applied turn; replaying it
	// is a no-op.
	LastTurnID string `json:"last_turn_id"`

	Problem  *ProblemConfirmation `json:"problem"`
	Scope    *ScopeFrame          `json:"scope"`
	Urgency  UrgencyLevel         `json:"urgency"`
	Timeline Timeline             `json:"timeline"`

	Transitions []PhaseTransition `json:"transitions"`
	Hypotheses  []*Hypothesis     `json:"hypotheses"`
	Evidence    []*Evidence       `json:"evidence"`
	Links       []EvidenceLink    `json:"links"`
	Requests    []EvidenceRequest `json:"requests"`

	WorkingConclusion *WorkingConclusion   `json:"working_conclusion"`
	RootCause         *RootCauseConclusion `json:"root_cause"`
	Solution          SolutionState        `json:"solution"`
	Progress          ProgressMetrics      `json:"progress"`
	OODA              OODAState            `json:"ooda"`

	Degraded        *DegradedMode  `json:"degraded"`
	DegradedHistory []DegradedMode `json:"degraded_history"`

	// PendingUrgentConfirmation is set while the controller waits for the
	// user to confirm the URGENT fast path out of Phase 2.
	PendingUrgentConfirmation bool `json:"pending_urgent_confirmation"`
	// UrgentPathDeclined keeps the full diagnostic path after the user turned
	// the fast path down.
	UrgentPathDeclined bool `json:"urgent_path_declined"`
	// ForceAlternative tags the next proposed hypothesis FORCED_ALTERNATIVE.
	ForceAlternative bool `json:"force_alternative"`

	// ScopeChallenged and TimelineChallenged hold Phase 4 evidence against
	// the recorded scope or timeline until a loop-back consumes them.
	ScopeChallenged    bool `json:"scope_challenged"`
	TimelineChallenged bool `json:"timeline_challenged"`

	Seq Sequences `json:"seq"`
}

// Sequences hands out deterministic ids inside the aggregate so a replayed
// turn produces identical ids.
type Sequences struct {
	Hypothesis  int `json:"hypothesis"`
	Evidence    int `json:"evidence"`
	Requirement int `json:"requirement"`
	Request     int `json:"request"`
	Event       int `json:"event"`
}

// New returns a fresh investigation in Phase 0.
func New(id, statement string, at time.Time) *Investigation {
	inv := &Investigation{
		ID:             id,
		CurrentPhase:   PhaseIntake,
		EngagementMode: ModeReactive,
		Status:         StatusConsulting,
		Urgency:        UrgencyUnknown,
		CreatedAt:      at.UTC(),
		UpdatedAt:      at.UTC(),
		Transitions:    []PhaseTransition{},
		Hypotheses:     []*Hypothesis{},
		Evidence:       []*Evidence{},
		Links:          []EvidenceLink{},
		Requests:       []EvidenceRequest{},
		Timeline: Timeline{
			Events:       []TimelineEvent{},
			Correlations: []Correlation{},
		},
		DegradedHistory: []DegradedMode{},
	}
	if statement != "" {
		inv.Problem = &ProblemConfirmation{Statement: statement}
	}
	inv.Progress.Momentum = MomentumModerate
	return inv
}

// IsTerminal reports whether the investigation reached Phase 6.
func (inv *Investigation) IsTerminal() bool {
	return inv.CurrentPhase == PhaseDocumentation
}

// StrategyValue returns the chosen strategy or "" when unset.
func (inv *Investigation) StrategyValue() Strategy {
	if inv.Strategy == nil {
		return ""
	}
	return *inv.Strategy
}

// Hypothesis looks up a hypothesis by id.
func (inv *Investigation) Hypothesis(id string) *Hypothesis {
	for _, h := range inv.Hypotheses {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// EvidenceByID looks up an evidence item by id.
func (inv *Investigation) EvidenceByID(id string) *Evidence {
	for _, e := range inv.Evidence {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Requirement finds a requirement and its owning hypothesis.
func (inv *Investigation) Requirement(id string) (*Hypothesis, *EvidenceRequirement) {
	for _, h := range inv.Hypotheses {
		for i := range h.Requirements {
			if h.Requirements[i].ID == id {
				return h, &h.Requirements[i]
			}
		}
	}
	return nil, nil
}

// LiveHypotheses returns hypotheses still under consideration (ACTIVE or
// INCONCLUSIVE), in creation order.
func (inv *Investigation) LiveHypotheses() []*Hypothesis {
	var out []*Hypothesis
	for _, h := range inv.Hypotheses {
		if h.Status == HypothesisActive || h.Status == HypothesisInconclusive {
			out = append(out, h)
		}
	}
	return out
}

// HypothesesWithStatus returns hypotheses in the given status.
func (inv *Investigation) HypothesesWithStatus(s HypothesisStatus) []*Hypothesis {
	var out []*Hypothesis
	for _, h := range inv.Hypotheses {
		if h.Status == s {
			out = append(out, h)
		}
	}
	return out
}

// OpenRequests returns evidence requests that are still active.
func (inv *Investigation) OpenRequests() []EvidenceRequest {
	var out []EvidenceRequest
	for _, r := range inv.Requests {
		if r.Status == RequestOpen {
			out = append(out, r)
		}
	}
	return out
}

// PhaseTransition is one append-only entry of the transition history.
type PhaseTransition struct {
	From     Phase     `json:"from"`
	To       Phase     `json:"to"`
	Trigger  string    `json:"trigger"`
	Turn     int       `json:"turn"`
	At       time.Time `json:"at"`
	LoopBack bool      `json:"loop_back"`
}

// ProblemConfirmation is the Phase 0 record of what the user is experiencing.
type ProblemConfirmation struct {
	Statement string         `json:"statement"`
	Confirmed bool           `json:"confirmed"`
	Signals   UrgencySignals `json:"signals"`
}

// ScopeFrame is the Phase 1 scope and impact frame.
type ScopeFrame struct {
	Statement     string       `json:"statement"`
	AffectedScope string       `json:"affected_scope"`
	Verified      bool         `json:"verified"`
	Confidence    float64      `json:"confidence"`
	Urgency       UrgencyLevel `json:"urgency"`
}

// SolutionState tracks Phase 5 progress and the post-mortem shortcut.
type SolutionState struct {
	Description    string `json:"description"`
	Proposed       bool   `json:"proposed"`
	Applied        bool   `json:"applied"`
	Verified       bool   `json:"verified"`
	DeclinedByUser bool   `json:"declined_by_user"`
	CloseReason    string `json:"close_reason,omitempty"`
}
