package investigation

// HypothesisStatus is the qualitative lifecycle of a root-cause theory.
type HypothesisStatus string

const (
	HypothesisCaptured     HypothesisStatus = "CAPTURED"
	HypothesisActive       HypothesisStatus = "ACTIVE"
	HypothesisValidated    HypothesisStatus = "VALIDATED"
	HypothesisRefuted      HypothesisStatus = "REFUTED"
	HypothesisInconclusive HypothesisStatus = "INCONCLUSIVE"
	HypothesisRetired      HypothesisStatus = "RETIRED"
	HypothesisSuperseded   HypothesisStatus = "SUPERSEDED"
)

// Terminal reports whether no further evidence can move the hypothesis.
func (s HypothesisStatus) Terminal() bool {
	switch s {
	case HypothesisRefuted, HypothesisRetired, HypothesisSuperseded:
		return true
	}
	return false
}

// GenerationMode records how a hypothesis came to exist.
type GenerationMode string

const (
	GenerationOpportunistic     GenerationMode = "OPPORTUNISTIC"
	GenerationSystematic        GenerationMode = "SYSTEMATIC"
	GenerationForcedAlternative GenerationMode = "FORCED_ALTERNATIVE"
)

// HypothesisCategory is the closed set used for anchoring detection.
type HypothesisCategory string

const (
	CategoryCode           HypothesisCategory = "CODE"
	CategoryConfiguration  HypothesisCategory = "CONFIGURATION"
	CategoryInfrastructure HypothesisCategory = "INFRASTRUCTURE"
	CategoryNetwork        HypothesisCategory = "NETWORK"
	CategoryData           HypothesisCategory = "DATA"
	CategoryDependency     HypothesisCategory = "DEPENDENCY"
	CategoryCapacity       HypothesisCategory = "CAPACITY"
	CategorySecurity       HypothesisCategory = "SECURITY"
	CategoryOther          HypothesisCategory = "OTHER"
)

// ValidCategory reports whether c belongs to the closed category set.
func ValidCategory(c HypothesisCategory) bool {
	switch c {
	case CategoryCode, CategoryConfiguration, CategoryInfrastructure, CategoryNetwork,
		CategoryData, CategoryDependency, CategoryCapacity, CategorySecurity, CategoryOther:
		return true
	}
	return false
}

// Hypothesis is a candidate root-cause theory carrying both a qualitative
// status and a numeric likelihood.
type Hypothesis struct {
	ID                string             `json:"id"`
	Statement         string             `json:"statement"`
	Category          HypothesisCategory `json:"category"`
	Status            HypothesisStatus   `json:"status"`
	GenerationMode    GenerationMode     `json:"generation_mode"`
	Likelihood        float64            `json:"likelihood"`
	InitialLikelihood float64            `json:"initial_likelihood"`
	// AnchorLikelihood is the likelihood at the last turn the hypothesis made
	// progress; stagnation decay is computed from it.
	AnchorLikelihood float64           `json:"anchor_likelihood"`
	Trajectory       []LikelihoodPoint `json:"trajectory"`

	Requirements         []EvidenceRequirement `json:"requirements"`
	ProposedRequirements []RequirementSpec     `json:"proposed_requirements,omitempty"`

	SupportingEvidence []string `json:"supporting_evidence"`
	RefutingEvidence   []string `json:"refuting_evidence"`

	TurnsWithoutProgress int    `json:"turns_without_progress"`
	CreatedTurn          int    `json:"created_turn"`
	LastProgressTurn     int    `json:"last_progress_turn"`
	StatusReason         string `json:"status_reason,omitempty"`
}

// LikelihoodPoint is one entry of a hypothesis's likelihood trajectory.
type LikelihoodPoint struct {
	Turn   int     `json:"turn"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason"`
}

// RequirementPriority orders evidence requirements.
type RequirementPriority string

const (
	PriorityCritical  RequirementPriority = "CRITICAL"
	PriorityImportant RequirementPriority = "IMPORTANT"
	PriorityOptional  RequirementPriority = "OPTIONAL"
)

// RequirementStatus is the lifecycle of an evidence requirement.
type RequirementStatus string

const (
	RequirementPending  RequirementStatus = "PENDING"
	RequirementPartial  RequirementStatus = "PARTIAL"
	RequirementComplete RequirementStatus = "COMPLETE"
	RequirementBlocked  RequirementStatus = "BLOCKED"
	RequirementObsolete RequirementStatus = "OBSOLETE"
)

// Open reports whether the requirement still awaits evidence.
func (s RequirementStatus) Open() bool {
	return s == RequirementPending || s == RequirementPartial
}

// MaxGuidanceEntries caps every acquisition-guidance list.
const MaxGuidanceEntries = 3

// AcquisitionGuidance tells the user how to obtain a piece of evidence.
type AcquisitionGuidance struct {
	Commands       []string `json:"commands,omitempty"`
	FilePaths      []string `json:"file_paths,omitempty"`
	UIPaths        []string `json:"ui_paths,omitempty"`
	Alternatives   []string `json:"alternatives,omitempty"`
	Prerequisites  []string `json:"prerequisites,omitempty"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
}

// Bounded returns a copy with every list truncated to MaxGuidanceEntries.
func (g AcquisitionGuidance) Bounded() AcquisitionGuidance {
	return AcquisitionGuidance{
		Commands:       capList(g.Commands),
		FilePaths:      capList(g.FilePaths),
		UIPaths:        capList(g.UIPaths),
		Alternatives:   capList(g.Alternatives),
		Prerequisites:  capList(g.Prerequisites),
		ExpectedOutput: g.ExpectedOutput,
	}
}

func capList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	if len(in) > MaxGuidanceEntries {
		in = in[:MaxGuidanceEntries]
	}
	return append([]string(nil), in...)
}

// RequirementSpec is the caller-supplied shape of a requirement before the
// hypothesis is active.
type RequirementSpec struct {
	Description string              `json:"description"`
	Tests       string              `json:"tests"`
	Priority    RequirementPriority `json:"priority"`
	Guidance    AcquisitionGuidance `json:"guidance"`
}

// EvidenceRequirement is a structured ask tied to exactly one hypothesis.
type EvidenceRequirement struct {
	ID           string              `json:"id"`
	HypothesisID string              `json:"hypothesis_id"`
	Description  string              `json:"description"`
	Tests        string              `json:"tests"`
	Priority     RequirementPriority `json:"priority"`
	Guidance     AcquisitionGuidance `json:"guidance"`
	Status       RequirementStatus   `json:"status"`
	Completeness float64             `json:"completeness"`
	FulfilledBy  []string            `json:"fulfilled_by"`
	BlockReason  string              `json:"block_reason,omitempty"`
}

// RequestStatus is the state of an outstanding evidence request.
type RequestStatus string

const (
	RequestOpen      RequestStatus = "OPEN"
	RequestFulfilled RequestStatus = "FULFILLED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// EvidenceRequest is an active ask surfaced to the user in Phase 4.
type EvidenceRequest struct {
	ID            string              `json:"id"`
	RequirementID string              `json:"requirement_id"`
	HypothesisID  string              `json:"hypothesis_id"`
	Description   string              `json:"description"`
	Priority      RequirementPriority `json:"priority"`
	Status        RequestStatus       `json:"status"`
	CreatedTurn   int                 `json:"created_turn"`
}
