package investigation

import "fmt"

// EvidenceCategory classifies what an evidence item is about.
type EvidenceCategory string

const (
	EvidenceSymptoms      EvidenceCategory = "SYMPTOMS"
	EvidenceTimeline      EvidenceCategory = "TIMELINE"
	EvidenceChanges       EvidenceCategory = "CHANGES"
	EvidenceConfiguration EvidenceCategory = "CONFIGURATION"
	EvidenceScope         EvidenceCategory = "SCOPE"
	EvidenceMetrics       EvidenceCategory = "METRICS"
	EvidenceEnvironment   EvidenceCategory = "ENVIRONMENT"
	EvidenceOther         EvidenceCategory = "OTHER"
)

// Valid reports whether c is one of the known categories.
func (c EvidenceCategory) Valid() bool {
	switch c {
	case EvidenceSymptoms, EvidenceTimeline, EvidenceChanges, EvidenceConfiguration,
		EvidenceScope, EvidenceMetrics, EvidenceEnvironment, EvidenceOther:
		return true
	}
	return false
}

// EvidenceForm distinguishes free-text input from an uploaded artifact.
type EvidenceForm string

const (
	FormUserInput EvidenceForm = "USER_INPUT"
	FormDocument  EvidenceForm = "DOCUMENT"
)

// Valid reports whether f is a known form.
func (f EvidenceForm) Valid() bool {
	return f == FormUserInput || f == FormDocument
}

// Stance is how an evidence item bears on one hypothesis.
type Stance string

const (
	StanceStronglySupports    Stance = "STRONGLY_SUPPORTS"
	StanceSupports            Stance = "SUPPORTS"
	StanceNeutral             Stance = "NEUTRAL"
	StanceRefutes             Stance = "REFUTES"
	StanceStronglyContradicts Stance = "STRONGLY_CONTRADICTS"
	StanceIrrelevant          Stance = "IRRELEVANT"
)

// Valid reports whether s is one of the six stances.
func (s Stance) Valid() bool {
	switch s {
	case StanceStronglySupports, StanceSupports, StanceNeutral,
		StanceRefutes, StanceStronglyContradicts, StanceIrrelevant:
		return true
	}
	return false
}

// Supporting reports whether the stance counts as support.
func (s Stance) Supporting() bool {
	return s == StanceStronglySupports || s == StanceSupports
}

// Refuting reports whether the stance counts against the hypothesis.
func (s Stance) Refuting() bool {
	return s == StanceRefutes || s == StanceStronglyContradicts
}

// Evidence is an immutable fact record.
type Evidence struct {
	ID         string           `json:"id"`
	Category   EvidenceCategory `json:"category"`
	Form       EvidenceForm     `json:"form"`
	Summary    string           `json:"summary"`
	ContentRef string           `json:"content_ref,omitempty"`
	Fulfills   []string         `json:"fulfills"`
	Intent     EvidenceIntent   `json:"intent"`
	Turn       int              `json:"turn"`
}

// EvidenceLink is the explicit record of one (hypothesis, evidence) stance.
// Links are appended, never edited.
type EvidenceLink struct {
	HypothesisID string  `json:"hypothesis_id"`
	EvidenceID   string  `json:"evidence_id"`
	Stance       Stance  `json:"stance"`
	Reasoning    string  `json:"reasoning"`
	Completeness float64 `json:"completeness"`
	Turn         int     `json:"turn"`
}

// EvidenceIntent is what the user meant by submitting the input.
type EvidenceIntent string

const (
	IntentProvidingEvidence    EvidenceIntent = "PROVIDING_EVIDENCE"
	IntentReportingUnavailable EvidenceIntent = "REPORTING_UNAVAILABLE"
	IntentReportingAction      EvidenceIntent = "REPORTING_ACTION_TAKEN"
	IntentAskingQuestion       EvidenceIntent = "ASKING_QUESTION"
	IntentOffTopic             EvidenceIntent = "OFF_TOPIC"
)

// Valid reports whether i is a known intent.
func (i EvidenceIntent) Valid() bool {
	switch i {
	case IntentProvidingEvidence, IntentReportingUnavailable, IntentReportingAction,
		IntentAskingQuestion, IntentOffTopic:
		return true
	}
	return false
}

// Classification is the typed verdict returned by the reasoning service for
// one evidence submission.
type Classification struct {
	MatchedRequirements []string           `json:"matched_requirements"`
	Stances             []HypothesisStance `json:"stances"`
	Completeness        float64            `json:"completeness"`
	Form                EvidenceForm       `json:"form"`
	Intent              EvidenceIntent     `json:"intent"`
	Category            EvidenceCategory   `json:"category"`
	Summary             string             `json:"summary"`

	// ScopeChanged and TimelineContradicted feed the Phase 4 loop-back rules.
	ScopeChanged         bool `json:"scope_changed"`
	TimelineContradicted bool `json:"timeline_contradicted"`

	// Signal is set when the classifier detects an external dependency or a
	// system limitation.
	Signal *DegradedSignal `json:"signal,omitempty"`
}

// HypothesisStance is the classifier's verdict for one hypothesis.
type HypothesisStance struct {
	HypothesisID string  `json:"hypothesis_id"`
	Stance       Stance  `json:"stance"`
	Reasoning    string  `json:"reasoning"`
	Completeness float64 `json:"completeness"`
}

// Validate checks the enumerated fields. Empty form, intent and category are
// accepted and defaulted at ingestion; every stance must name a hypothesis
// and carry a known stance.
func (c *Classification) Validate() error {
	if c.Form != "" && !c.Form.Valid() {
		return fmt.Errorf("unknown evidence form %q", c.Form)
	}
	if c.Intent != "" && !c.Intent.Valid() {
		return fmt.Errorf("unknown evidence intent %q", c.Intent)
	}
	if c.Category != "" && !c.Category.Valid() {
		return fmt.Errorf("unknown evidence category %q", c.Category)
	}
	for _, st := range c.Stances {
		if st.HypothesisID == "" {
			return fmt.Errorf("stance without hypothesis id")
		}
		if !st.Stance.Valid() {
			return fmt.Errorf("unknown stance %q for hypothesis %s", st.Stance, st.HypothesisID)
		}
	}
	return nil
}
