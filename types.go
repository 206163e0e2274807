package council

import "time"

// RiskTier classifies how much scrutiny a change requires.
type RiskTier string

const (
	RiskTierT1 RiskTier = "T1" // critical: highest scrutiny, escalated for human review
	RiskTierT2 RiskTier = "T2" // high
	RiskTierT3 RiskTier = "T3" // standard
)

// Decision is the public representation of a completed council verdict. It
// is a curated view of internal/model.FinalDecision for use in extension
// interfaces — no internal package imports, safe to use outside the module.
type Decision struct {
	SessionID         string
	Kind              string // proceed | refine | reject | escalate
	ConsensusStrength float32
	Summary           string
	CreatedAt         time.Time
}

// Violation is an organizational-gate or policy violation surfaced during
// decision making.
type Violation struct {
	Gate     string
	Severity string
	Message  string
}

// ReviewRequest is the public submission shape for a change under review.
type ReviewRequest struct {
	SpecID      string
	Title       string
	Description string
	Diff        string
	RiskTier    RiskTier
	Metadata    map[string]any
}

// ReviewResult is the public result of a completed or partially completed
// council session.
type ReviewResult struct {
	SessionID  string
	Status     string
	Decision   *Decision
	VerdictID  string
	Signature  string
	Violations []Violation
}
