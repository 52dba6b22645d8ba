package investigation

import "time"

// UrgencyLevel is the Phase 0 urgency classification.
type UrgencyLevel string

const (
	UrgencyCritical UrgencyLevel = "CRITICAL"
	UrgencyHigh     UrgencyLevel = "HIGH"
	UrgencyMedium   UrgencyLevel = "MEDIUM"
	UrgencyLow      UrgencyLevel = "LOW"
	UrgencyUnknown  UrgencyLevel = "UNKNOWN"
)

// UrgencyHint is the user's expressed urgency.
type UrgencyHint string

const (
	UrgencyHintHigh    UrgencyHint = "HIGH"
	UrgencyHintMedium  UrgencyHint = "MEDIUM"
	UrgencyHintLow     UrgencyHint = "LOW"
	UrgencyHintUnknown UrgencyHint = "UNKNOWN"
)

// TemporalHint says whether the problem is happening now.
type TemporalHint string

const (
	TemporalActive     TemporalHint = "ACTIVE"
	TemporalRecent     TemporalHint = "RECENT"
	TemporalHistorical TemporalHint = "HISTORICAL"
	TemporalUnknown    TemporalHint = "UNKNOWN"
)

// ScopeHint says how much of the system is affected.
type ScopeHint string

const (
	ScopeTotal    ScopeHint = "TOTAL"
	ScopePartial  ScopeHint = "PARTIAL"
	ScopeIsolated ScopeHint = "ISOLATED"
	ScopeUnknown  ScopeHint = "UNKNOWN"
)

// UrgencySignals are the three hints collected during Phase 0.
type UrgencySignals struct {
	Urgency  UrgencyHint  `json:"urgency"`
	Temporal TemporalHint `json:"temporal"`
	Scope    ScopeHint    `json:"scope"`
}

// CorrelationType tags a detected correlation between two timeline events.
type CorrelationType string

const (
	CorrelationCausal   CorrelationType = "CAUSAL"
	CorrelationTemporal CorrelationType = "TEMPORAL"
	CorrelationSpatial  CorrelationType = "SPATIAL"
)

// TimelineEvent is one dated occurrence relevant to the incident.
type TimelineEvent struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
	Kind        string    `json:"kind,omitempty"`
}

// Correlation links two timeline events.
type Correlation struct {
	FromEventID string          `json:"from_event_id"`
	ToEventID   string          `json:"to_event_id"`
	Type        CorrelationType `json:"type"`
	Description string          `json:"description,omitempty"`
}

// Timeline holds ordered events, detected correlations and their score.
type Timeline struct {
	Events                []TimelineEvent `json:"events"`
	Correlations          []Correlation   `json:"correlations"`
	CorrelationConfidence float64         `json:"correlation_confidence"`
}

// ConfidenceLevel is the categorical view of a numeric confidence.
type ConfidenceLevel string

const (
	LevelSpeculation ConfidenceLevel = "SPECULATION"
	LevelProbable    ConfidenceLevel = "PROBABLE"
	LevelConfident   ConfidenceLevel = "CONFIDENT"
	LevelVerified    ConfidenceLevel = "VERIFIED"
)

// WorkingConclusion is the single current best understanding.
type WorkingConclusion struct {
	Statement               string          `json:"statement"`
	Confidence              float64         `json:"confidence"`
	Level                   ConfidenceLevel `json:"level"`
	SupportingEvidenceCount int             `json:"supporting_evidence_count"`
	TotalEvidenceCount      int             `json:"total_evidence_count"`
	EvidenceCompleteness    float64         `json:"evidence_completeness"`
	Caveats                 []string        `json:"caveats"`
	AlternativeExplanations []string        `json:"alternative_explanations"`
	ReadyForSolution        bool            `json:"ready_for_solution"`
	HypothesisID            string          `json:"hypothesis_id,omitempty"`
	ValidatedHypothesisID   string          `json:"validated_hypothesis_id,omitempty"`
	UpdatedTurn             int             `json:"updated_turn"`
	Frozen                  bool            `json:"frozen"`
}

// RootCauseBasis explains how a root cause was concluded.
type RootCauseBasis string

const (
	BasisValidated        RootCauseBasis = "VALIDATED"
	BasisAsValidated      RootCauseBasis = "AS_VALIDATED"
	BasisDegradedAccepted RootCauseBasis = "DEGRADED_ACCEPTED"
)

// RootCauseConclusion is set once and afterwards only superseded.
type RootCauseConclusion struct {
	HypothesisID string          `json:"hypothesis_id"`
	Statement    string          `json:"statement"`
	Confidence   float64         `json:"confidence"`
	Level        ConfidenceLevel `json:"level"`
	Basis        RootCauseBasis  `json:"basis"`
	Caveats      []string        `json:"caveats,omitempty"`
	Turn         int             `json:"turn"`
	Supersedes   string          `json:"supersedes,omitempty"`
}

// Momentum classifies recent progress.
type Momentum string

const (
	MomentumHigh     Momentum = "HIGH"
	MomentumModerate Momentum = "MODERATE"
	MomentumLow      Momentum = "LOW"
	MomentumBlocked  Momentum = "BLOCKED"
)

// ProgressMetrics are updated every turn and frozen in Phase 6.
type ProgressMetrics struct {
	Momentum                Momentum `json:"momentum"`
	TurnsInPhase            int      `json:"turns_in_phase"`
	TurnsWithoutProgress    int      `json:"turns_without_progress"`
	ConsecutiveBlockedTurns int      `json:"consecutive_blocked_turns"`
	LastProgressTurn        int      `json:"last_progress_turn"`
	EvidenceCollected       int      `json:"evidence_collected"`
	BlockedReasons          []string `json:"blocked_reasons"`
	Frozen                  bool     `json:"frozen"`
}

// OODAStep is one sub-step of a tactical iteration.
type OODAStep string

const (
	StepObserve OODAStep = "OBSERVE"
	StepOrient  OODAStep = "ORIENT"
	StepDecide  OODAStep = "DECIDE"
	StepAct     OODAStep = "ACT"
)

// OODASteps lists the sub-steps in their required order.
var OODASteps = []OODAStep{StepObserve, StepOrient, StepDecide, StepAct}

// IterationRecord is a completed tactical iteration.
type IterationRecord struct {
	Phase        Phase `json:"phase"`
	Number       int   `json:"number"`
	Turn         int   `json:"turn"`
	MadeProgress bool  `json:"made_progress"`
}

// OODAState is the tactical loop's persisted position.
type OODAState struct {
	Phase                 Phase             `json:"phase"`
	Iteration             int               `json:"iteration"`
	StepsDone             []OODAStep        `json:"steps_done"`
	ConsecutiveNoProgress int               `json:"consecutive_no_progress"`
	Iterations            []IterationRecord `json:"iterations"`
}

// DegradedType is one of the five mutually exclusive degraded modes.
type DegradedType string

const (
	DegradedLimitedData        DegradedType = "LIMITED_DATA"
	DegradedExternalDependency DegradedType = "EXTERNAL_DEPENDENCY"
	DegradedHypothesisDeadlock DegradedType = "HYPOTHESIS_DEADLOCK"
	DegradedUserBlocked        DegradedType = "USER_BLOCKED"
	DegradedSystemLimitation   DegradedType = "SYSTEM_LIMITATION"
)

// ExitCriterion names the event that ends a degraded mode.
type ExitCriterion string

const (
	ExitNewEvidence       ExitCriterion = "NEW_EVIDENCE"
	ExitExternalAnswer    ExitCriterion = "EXTERNAL_ANSWER"
	ExitNewHypothesis     ExitCriterion = "NEW_HYPOTHESIS"
	ExitWorkaroundApplied ExitCriterion = "WORKAROUND_APPLIED"
)

// DegradedMode is a capped, transparent fallback operating mode.
type DegradedMode struct {
	Type             DegradedType  `json:"type"`
	EnteredTurn      int           `json:"entered_turn"`
	Reason           string        `json:"reason"`
	FallbackStrategy string        `json:"fallback_strategy"`
	ConfidenceCap    *float64      `json:"confidence_cap"`
	ExitCriterion    ExitCriterion `json:"exit_criterion"`
	ExitedTurn       int           `json:"exited_turn,omitempty"`
}

// DegradedSignal is an explicit report from the classifier or upload
// pipeline that the investigation is blocked on something outside it.
type DegradedSignal struct {
	Type   DegradedType `json:"type"`
	Reason string       `json:"reason"`
}

// EscalationSource identifies what raised an escalation.
type EscalationSource string

const (
	EscalationStagnation    EscalationSource = "TACTICAL_STAGNATION"
	EscalationLoopBackLimit EscalationSource = "LOOP_BACK_LIMIT"
)

// Escalation is a first-class, user-visible signal.
type Escalation struct {
	Source    EscalationSource `json:"source"`
	Phase     Phase            `json:"phase"`
	Turn      int              `json:"turn"`
	Reason    string           `json:"reason"`
	Iteration int              `json:"iteration,omitempty"`
}

// RecommendationKind enumerates the options the core offers the caller.
type RecommendationKind string

const (
	RecommendConfirmUrgentPath     RecommendationKind = "CONFIRM_URGENT_PATH"
	RecommendLoopBack              RecommendationKind = "LOOP_BACK"
	RecommendEscalate              RecommendationKind = "ESCALATE"
	RecommendAcceptDegradedResult  RecommendationKind = "ACCEPT_DEGRADED_RESULT"
	RecommendGenerateAlternative   RecommendationKind = "GENERATE_ALTERNATIVE"
	RecommendProposeSolution       RecommendationKind = "PROPOSE_SOLUTION"
	RecommendOpenNewInvestigation  RecommendationKind = "OPEN_NEW_INVESTIGATION"
	RecommendProvideAlternateInput RecommendationKind = "PROVIDE_ALTERNATE_EVIDENCE"
)

// Recommendation is one structured option for the caller; the core never
// acts on it by itself.
type Recommendation struct {
	Kind   RecommendationKind `json:"kind"`
	Target *Phase             `json:"target,omitempty"`
	Reason string             `json:"reason"`
}
