package model

import "time"

// RiskTier drives organizational gates and execution priority. The set is
// closed: T1 is most critical, T3 least.
type RiskTier int

const (
	RiskTierT1 RiskTier = iota + 1 // Critical
	RiskTierT2                     // High
	RiskTierT3                     // Standard
)

func (t RiskTier) String() string {
	switch t {
	case RiskTierT1:
		return "T1"
	case RiskTierT2:
		return "T2"
	case RiskTierT3:
		return "T3"
	default:
		return "unknown"
	}
}

// JudgeType is the closed set of judge specializations. Instances are not
// closed — any number of judges may share a type.
type JudgeType string

const (
	JudgeTypeQuality      JudgeType = "quality"
	JudgeTypeSecurity     JudgeType = "security"
	JudgeTypeArchitecture JudgeType = "architecture"
	JudgeTypeEthics       JudgeType = "ethics"
	JudgeTypePerformance  JudgeType = "performance"
	JudgeTypeTesting      JudgeType = "testing"
	JudgeTypeCompliance   JudgeType = "compliance"
	JudgeTypeDomainExpert JudgeType = "domain-expert"
)

// WorkingSpec is the structured form of a task — the single input to a
// council review. Immutable once submitted to the core.
type WorkingSpec struct {
	ID                 string
	Title              string
	Description        string
	RiskTier           RiskTier
	AcceptanceCriteria []string
}

// ContentHash derives a stable identity for idempotency purposes
// (spec.id, content-hash) submit_review.
func (w WorkingSpec) ContentHash() string {
	return contentHash(w.ID, w.Title, w.Description, w.RiskTier.String(), w.AcceptanceCriteria)
}

// OrganizationalHints carries optional advisory context a caller may attach
// to a review — e.g. team capacity or budget signals — read-only to judges.
type OrganizationalHints struct {
	AvailableDevelopmentHours *float64
	BudgetMaxCost             *float64
	BudgetCurrency            string
}

// ReviewContext bundles the WorkingSpec with the requesting risk tier and
// any organizational hints. Passed read-only to every judge.
type ReviewContext struct {
	WorkingSpec WorkingSpec
	RiskTier    RiskTier
	Hints       OrganizationalHints
}

// RiskLevel is the closed set of risk levels a judge or aggregator may
// report, ordered from least to most severe for comparison purposes.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota + 1
	RiskLevelMedium
	RiskLevelHigh
	RiskLevelCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	case RiskLevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RiskAssessment accompanies an Approve verdict or an aggregated Approve
// decision.
type RiskAssessment struct {
	OverallRisk             RiskLevel
	RiskFactors             []string
	MitigationSuggestions   []string
	Confidence              float64
}

// ChangeCategory is the closed set of categories a RequiredChange may fall
// into.
type ChangeCategory string

const (
	ChangeCategoryCorrectness   ChangeCategory = "correctness"
	ChangeCategorySecurity      ChangeCategory = "security"
	ChangeCategoryPerformance   ChangeCategory = "performance"
	ChangeCategoryMaintainability ChangeCategory = "maintainability"
	ChangeCategoryTesting       ChangeCategory = "testing"
	ChangeCategoryCompliance    ChangeCategory = "compliance"
	ChangeCategoryOther         ChangeCategory = "other"
)

// ChangeImpact is the closed set of impact levels for a RequiredChange.
type ChangeImpact string

const (
	ChangeImpactBreaking ChangeImpact = "breaking"
	ChangeImpactMajor    ChangeImpact = "major"
	ChangeImpactModerate ChangeImpact = "moderate"
	ChangeImpactMinor    ChangeImpact = "minor"
)

// ChangePriority is the closed set of priorities a required change (or a
// Refine decision as a whole) may carry.
type ChangePriority string

const (
	ChangePriorityCritical ChangePriority = "critical"
	ChangePriorityHigh     ChangePriority = "high"
	ChangePriorityMedium   ChangePriority = "medium"
	ChangePriorityLow      ChangePriority = "low"
)

// ImpactToPriority maps a RequiredChange's impact to a priority.
func ImpactToPriority(impact ChangeImpact) ChangePriority {
	switch impact {
	case ChangeImpactBreaking:
		return ChangePriorityCritical
	case ChangeImpactMajor:
		return ChangePriorityHigh
	case ChangeImpactModerate:
		return ChangePriorityMedium
	default:
		return ChangePriorityLow
	}
}

// RequiredChange is produced by a judge's Refine verdict. AcceptanceCriteria
// is deliberately absent here — it is *derived*, not stored
// on the change as produced by a judge (see internal/decision).
type RequiredChange struct {
	Category    ChangeCategory
	Description string
	Rationale   string
	Impact      ChangeImpact
}

// EstimatedEffort accompanies a single judge's Refine verdict; the
// aggregated Refine decision carries an AggregatedEffort instead.
type EstimatedEffort struct {
	PersonHours float64
	Complexity  ComplexityLevel
	Dependencies []string
}

// ComplexityLevel is the closed set of implementation-complexity levels.
type ComplexityLevel string

const (
	ComplexityTrivial  ComplexityLevel = "trivial"
	ComplexitySimple   ComplexityLevel = "simple"
	ComplexityModerate ComplexityLevel = "moderate"
	ComplexityComplex  ComplexityLevel = "complex"
)

// IssueSeverity is the closed set of severities a CriticalIssue may carry.
type IssueSeverity string

const (
	IssueSeverityCritical IssueSeverity = "critical"
	IssueSeverityMajor    IssueSeverity = "major"
	IssueSeverityMinor    IssueSeverity = "minor"
	IssueSeverityWarning  IssueSeverity = "warning"
)

// CriticalIssue is produced by a judge's Reject verdict.
type CriticalIssue struct {
	Category    string
	Severity    IssueSeverity
	Description string
	Evidence    []string
}

// VerdictKind tags the three shapes a JudgeVerdict may take.
type VerdictKind string

const (
	VerdictApprove VerdictKind = "approve"
	VerdictRefine  VerdictKind = "refine"
	VerdictReject  VerdictKind = "reject"
)

// JudgeVerdict is a tagged variant with exactly three shapes. Exactly one
// of the payload fields is populated, matching Kind.
type JudgeVerdict struct {
	Kind VerdictKind

	// Common to all three shapes.
	Confidence float64
	Reasoning  string

	// Approve-only.
	QualityScore   float64
	RiskAssessment RiskAssessment

	// Refine-only.
	RequiredChanges []RequiredChange
	EstimatedEffort EstimatedEffort

	// Reject-only.
	CriticalIssues []CriticalIssue
}

// IsWellFormed reports whether the verdict's invariants hold — non-empty
// reasoning and, where applicable, non-empty change/issue lists — matching
// JudgeContribution.IsWellFormed's precondition.
func (v JudgeVerdict) IsWellFormed() bool {
	if v.Confidence < 0 || v.Confidence > 1 {
		return false
	}
	if v.Reasoning == "" {
		return false
	}
	switch v.Kind {
	case VerdictApprove:
		return true
	case VerdictRefine:
		return len(v.RequiredChanges) > 0
	case VerdictReject:
		return len(v.CriticalIssues) > 0
	default:
		return false
	}
}

// TokenUsage is optional metadata a judge may attach to its contribution.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// JudgeContribution augments a verdict with identifying and timing
// metadata. A contribution is well-formed iff its verdict's invariants hold
// and ProcessingTime is strictly positive.
type JudgeContribution struct {
	JudgeID         string
	JudgeType       JudgeType
	Verdict         JudgeVerdict
	ProcessingTime  time.Duration
	ModelVersion    string
	TokenUsage      *TokenUsage
	Metadata        map[string]string
}

// IsWellFormed reports whether the contribution satisfies its
// well-formedness invariant.
func (c JudgeContribution) IsWellFormed() bool {
	return c.Verdict.IsWellFormed() && c.ProcessingTime > 0
}

// AgreementLevel partitions consensus strength into named bands.
type AgreementLevel string

const (
	AgreementUnanimous     AgreementLevel = "unanimous"
	AgreementStrongMajority AgreementLevel = "strong_majority"
	AgreementMajority      AgreementLevel = "majority"
	AgreementPlurality     AgreementLevel = "plurality"
	AgreementSplit         AgreementLevel = "split"
	AgreementNoConsensus   AgreementLevel = "no_consensus"
)

// AgreementLevelFor classifies a consensus strength into its band: >=0.9
// Unanimous, >=0.8 StrongMajority, >=0.7 Majority, >=0.6 Plurality, >=0.4
// Split, else NoConsensus.
func AgreementLevelFor(consensusStrength float64) AgreementLevel {
	switch {
	case consensusStrength >= 0.9:
		return AgreementUnanimous
	case consensusStrength >= 0.8:
		return AgreementStrongMajority
	case consensusStrength >= 0.7:
		return AgreementMajority
	case consensusStrength >= 0.6:
		return AgreementPlurality
	case consensusStrength >= 0.4:
		return AgreementSplit
	default:
		return AgreementNoConsensus
	}
}

// CouncilDecisionKind tags the four CouncilDecision shapes.
type CouncilDecisionKind string

const (
	CouncilApprove     CouncilDecisionKind = "approve"
	CouncilRefine      CouncilDecisionKind = "refine"
	CouncilReject      CouncilDecisionKind = "reject"
	CouncilInconclusive CouncilDecisionKind = "inconclusive"
)

// AggregatedEffort summarizes effort across all Refine contributions.
// Invariant: Min <= Average <= Max.
type AggregatedEffort struct {
	MinPersonHours     float64
	MaxPersonHours     float64
	AveragePersonHours float64
	ComplexityHistogram map[ComplexityLevel]int
	Dependencies        []string
}

// IssueSummary groups critical issues by (category, severity).
type IssueSummary struct {
	Category    string
	Severity    IssueSeverity
	Frequency   int
	Descriptions []string
}

// DissentingOpinion is a contribution whose verdict class differs from the
// winning class.
type DissentingOpinion struct {
	JudgeID           string
	DissentingVerdict JudgeVerdict
	Rationale         string
}

// CouncilDecision is the aggregated outcome across judges, a sum type over
// {Approve, Refine, Reject, Inconclusive}.
type CouncilDecision struct {
	Kind CouncilDecisionKind

	Confidence float64

	// Approve-only.
	QualityScore   float64
	RiskAssessment RiskAssessment

	// Refine-only.
	RequiredChanges []RequiredChange
	Priority        ChangePriority
	EstimatedEffort AggregatedEffort

	// Reject-only.
	CriticalIssues        []CriticalIssue
	AlternativeApproaches []string

	// Inconclusive-only.
	Reason             string
	ConflictingFactors []string
}

// FinalDecisionKind tags the four FinalDecision shapes.
type FinalDecisionKind string

const (
	FinalProceed  FinalDecisionKind = "proceed"
	FinalRefine   FinalDecisionKind = "refine"
	FinalReject   FinalDecisionKind = "reject"
	FinalEscalate FinalDecisionKind = "escalate"
)

// TaskPriority ranks execution priority for a Proceed directive's
// ExecutionPlan.
type TaskPriority string

const (
	TaskPriorityLow      TaskPriority = "low"
	TaskPriorityNormal   TaskPriority = "normal"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityCritical TaskPriority = "critical"
)

// QualityGate is a standing checkpoint attached to an ExecutionPlan.
type QualityGate struct {
	Name               string
	Criteria           string
	ResponsibleParty   string
	DeadlineRelative   string
}

// ExecutionPlan accompanies a Proceed directive.
type ExecutionPlan struct {
	Priority               TaskPriority
	EstimatedDurationHours float64
	EngineerCount          int
	QualityGates           []QualityGate
	RiskMitigations        []string
}

// RefinementDirective accompanies a Refine directive.
type RefinementDirective struct {
	RequiredChanges    []RequiredChange
	ChangePriority     ChangePriority
	EstimatedEffort    AggregatedEffort
	AcceptanceCriteria []string
	MaxIterations      int
}

// EscalationPath is the closed set of human-review routes for a Reject
// directive.
type EscalationPath string

const (
	EscalationProductManager        EscalationPath = "product_manager"
	EscalationEngineeringLead       EscalationPath = "engineering_lead"
	EscalationArchitectureReviewBoard EscalationPath = "architecture_review_board"
	EscalationExecutiveStakeholders EscalationPath = "executive_stakeholders"
)

// FinalDecision is the policy-resolved directive, a sum type over
// {Proceed, Refine, Reject, Escalate}.
type FinalDecision struct {
	Kind FinalDecisionKind

	Confidence float64

	// Proceed-only.
	ExecutionPlan          ExecutionPlan
	MonitoringRequirements []string
	RollbackTriggers       []string

	// Refine-only.
	RefinementDirective RefinementDirective
	TimelineExtension   *time.Duration
	ResourceAllocation  *ResourceAllocation

	// Reject-only.
	Reason                string
	AlternativeSolutions  []string
	EscalationPath        EscalationPath

	// Escalate-only.
	RequiredStakeholders []string
	Deadline             *time.Time
	SupportingData       []string
}

// ResourceAllocation accompanies a Refine directive when additional
// resources are granted.
type ResourceAllocation struct {
	AdditionalEngineers    int
	BudgetIncrease         *float64
	TimelineExtensionHours uint64
}

// ComplianceStatus is the closed set of compliance states a provenance
// record may report query_provenance.
type ComplianceStatus string

const (
	ComplianceCompliant        ComplianceStatus = "compliant"
	ComplianceNonCompliant     ComplianceStatus = "non_compliant"
	CompliancePartial          ComplianceStatus = "partial_compliance"
)

// ComplianceSummary accompanies every provenance record.
type ComplianceSummary struct {
	IsCompliant      bool
	ComplianceScore  float64
	Violations       []string
	WaiversUsed      []string
	BudgetAdherence  float64
}

// ProvenanceRecord is the signed, append-only audit entry for one verdict,
// and the on-wire layout.
type ProvenanceRecord struct {
	ID               string
	VerdictID        string
	TaskID           string
	Timestamp        time.Time
	Decision         FinalDecision
	ConsensusScore   float32
	JudgeVerdicts    map[string]JudgeVerdict
	CAWSCompliance   ComplianceSummary
	ClaimVerification *string
	GitTrailer       string
	GitCommitHash    *string
	Signature        []byte
	KeyID            string
	Metadata         map[string]string
}
