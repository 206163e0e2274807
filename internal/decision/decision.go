// Package decision implements the Decision Engine (C7): a pure function
// from an aggregation result and a decision context to a FinalDecision.
// It models an AlgorithmicDecisionEngine and its five ConsensusStrategy
// variants.
package decision

import (
	"strings"
	"time"

	"github.com/ashita-ai/council/internal/aggregator"
	"github.com/ashita-ai/council/internal/model"
)

// ConsensusStrategy is the closed set of decision strategies the engine
// supports.
type ConsensusStrategy int

const (
	StrategyMajority ConsensusStrategy = iota
	StrategyWeightedExpertise
	StrategyRiskBased
	StrategyLearningBased
	StrategyConservative
)

// OrganizationalConstraints bounds acceptable decisions via the
// organizational gates below.
type OrganizationalConstraints struct {
	MaxRiskLevel              model.RiskLevel
	AvailableDevelopmentHours float64
	BudgetMaxCost             float64
	HourlyRate                float64
}

// HistoricalDecision is one prior outcome for a similar precedent, input
// to the LearningBased strategy.
type HistoricalDecision struct {
	Proceeded bool
}

// Context bundles everything the engine needs beyond the aggregation
// result.
type Context struct {
	RiskTier               model.RiskTier
	Constraints            OrganizationalConstraints
	HistoricalPrecedents   []HistoricalDecision
	RefinementsAllowed     bool
}

// HumanReviewTrigger names one organizational gate.
type HumanReviewTrigger string

const (
	TriggerHighRiskTier        HumanReviewTrigger = "high_risk_tier"
	TriggerUnresolvedDissent   HumanReviewTrigger = "unresolved_dissent"
	TriggerComplexRefinement   HumanReviewTrigger = "complex_refinement"
	TriggerBudgetExceeded      HumanReviewTrigger = "budget_exceeded"
	TriggerTimelineExceeded    HumanReviewTrigger = "timeline_exceeded"
)

// Engine is the Decision Engine. It holds no mutable state; Decide is a
// pure function of its arguments.
type Engine struct {
	Strategy ConsensusStrategy
}

// New constructs an Engine configured with strategy.
func New(strategy ConsensusStrategy) *Engine {
	return &Engine{Strategy: strategy}
}

// Decide resolves agg into a FinalDecision under the engine's configured
// strategy, consulting the organizational gates before ever returning
// Proceed.
func (e *Engine) Decide(agg aggregator.Result, dc Context) model.FinalDecision {
	switch agg.Decision.Kind {
	case model.CouncilReject:
		return e.rejectDecision(agg)
	case model.CouncilInconclusive:
		return e.escalate(agg.Decision, "inconclusive council decision")
	case model.CouncilRefine:
		return e.refineDecision(agg, dc)
	default: // CouncilApprove
		return e.approveDecision(agg, dc)
	}
}

func (e *Engine) approveDecision(agg aggregator.Result, dc Context) model.FinalDecision {
	triggers := e.organizationalGates(agg, dc, model.CouncilApprove)
	if len(triggers) > 0 {
		return e.escalateForGates(agg.Decision, triggers)
	}

	proceed, confidence := e.strategyApprove(agg, dc)
	if !proceed {
		return e.escalate(agg.Decision, "strategy declined to proceed on approve")
	}

	return model.FinalDecision{
		Kind:                   model.FinalProceed,
		Confidence:             confidence,
		ExecutionPlan:          buildExecutionPlan(dc.RiskTier, agg.Decision.EstimatedEffort.AveragePersonHours),
		MonitoringRequirements: []string{"track rollout error rate", "confirm acceptance criteria met"},
		RollbackTriggers:       []string{"error rate exceeds baseline", "critical regression reported"},
	}
}

func (e *Engine) strategyApprove(agg aggregator.Result, dc Context) (proceed bool, confidence float64) {
	confidence = agg.Decision.Confidence
	switch e.Strategy {
	case StrategyWeightedExpertise:
		confidence = weightedConfidence(agg)
		return confidence >= 0.7, confidence
	case StrategyRiskBased:
		risk := agg.Decision.RiskAssessment.OverallRisk
		return risk <= dc.Constraints.MaxRiskLevel, confidence
	case StrategyLearningBased:
		rate := historicalSuccessRate(dc.HistoricalPrecedents)
		adjusted := confidence * rate
		return adjusted >= 0.6, adjusted
	case StrategyConservative:
		if len(agg.DissentingOpinions) > 0 || agg.ConsensusStrength < 0.8 || confidence < 0.9 {
			return false, confidence
		}
		return true, confidence
	default: // StrategyMajority
		return confidence >= 0.5, confidence
	}
}

func weightedConfidence(agg aggregator.Result) float64 {
	var sumW, sumWC float64
	for id, w := range agg.Weights {
		sumW += w
		if isApprover(agg, id) {
			sumWC += w
		}
	}
	if sumW == 0 {
		return 0
	}
	return sumWC / sumW
}

func isApprover(agg aggregator.Result, judgeID string) bool {
	for _, d := range agg.DissentingOpinions {
		if d.JudgeID == judgeID {
			return false
		}
	}
	return true
}

func historicalSuccessRate(precedents []HistoricalDecision) float64 {
	if len(precedents) == 0 {
		return 1.0
	}
	var succ int
	for _, p := range precedents {
		if p.Proceeded {
			succ++
		}
	}
	return float64(succ) / float64(len(precedents))
}

func (e *Engine) refineDecision(agg aggregator.Result, dc Context) model.FinalDecision {
	triggers := e.organizationalGates(agg, dc, model.CouncilRefine)
	if len(triggers) > 0 {
		return e.escalateForGates(agg.Decision, triggers)
	}

	allowed := dc.RefinementsAllowed && agg.Decision.Confidence >= 0.4
	if e.Strategy == StrategyConservative {
		allowed = false
	}
	if !allowed {
		return e.escalate(agg.Decision, "refinement not permitted under current strategy or confidence")
	}

	criteria := deriveAcceptanceCriteria(agg.Decision.RequiredChanges)
	return model.FinalDecision{
		Kind:       model.FinalRefine,
		Confidence: agg.Decision.Confidence,
		RefinementDirective: model.RefinementDirective{
			RequiredChanges:    agg.Decision.RequiredChanges,
			ChangePriority:     agg.Decision.Priority,
			EstimatedEffort:    agg.Decision.EstimatedEffort,
			AcceptanceCriteria: criteria,
			MaxIterations:      3,
		},
	}
}

// rejectDecision resolves a council-level Reject. Under
// StrategyConservative a Reject never finalizes on its own — it escalates
// to a human reviewer, with the reason naming whichever condition (weak
// consensus, unresolved dissent) makes the council's rejection untrustworthy
// enough to need a second look. Every other strategy finalizes the reject.
func (e *Engine) rejectDecision(agg aggregator.Result) model.FinalDecision {
	cd := agg.Decision
	if e.Strategy == StrategyConservative {
		reason := "council rejected under conservative strategy"
		switch {
		case agg.ConsensusStrength < 0.8:
			reason = "consensus strength below 0.8"
		case len(agg.DissentingOpinions) > 0:
			reason = "unresolved dissent in council decision"
		}
		return e.escalate(cd, reason)
	}

	return model.FinalDecision{
		Kind:                 model.FinalReject,
		Confidence:           cd.Confidence,
		Reason:               rejectReason(cd),
		AlternativeSolutions: cd.AlternativeApproaches,
		EscalationPath:       model.EscalationEngineeringLead,
	}
}

func rejectReason(cd model.CouncilDecision) string {
	if len(cd.CriticalIssues) == 0 {
		return "council rejected the working specification"
	}
	return "council rejected: " + cd.CriticalIssues[0].Description
}

func (e *Engine) escalate(cd model.CouncilDecision, reason string) model.FinalDecision {
	return model.FinalDecision{
		Kind:                 model.FinalEscalate,
		Confidence:           cd.Confidence,
		RequiredStakeholders: []string{"engineering_lead"},
		SupportingData:       []string{reason},
	}
}

func (e *Engine) escalateForGates(cd model.CouncilDecision, triggers []HumanReviewTrigger) model.FinalDecision {
	data := make([]string, 0, len(triggers))
	for _, t := range triggers {
		data = append(data, string(t))
	}
	return model.FinalDecision{
		Kind:                 model.FinalEscalate,
		Confidence:           cd.Confidence,
		RequiredStakeholders: []string{"engineering_lead", "product_manager"},
		SupportingData:       data,
	}
}

// organizationalGates implements five human-review
// triggers. Which gates apply depends on the winning decision kind: the
// refine-specific effort/budget gates only make sense for a Refine
// decision.
func (e *Engine) organizationalGates(agg aggregator.Result, dc Context, kind model.CouncilDecisionKind) []HumanReviewTrigger {
	var triggers []HumanReviewTrigger

	if dc.RiskTier == model.RiskTierT1 {
		triggers = append(triggers, TriggerHighRiskTier)
	}
	if len(agg.DissentingOpinions) > 0 {
		triggers = append(triggers, TriggerUnresolvedDissent)
	}

	if kind == model.CouncilRefine {
		eff := agg.Decision.EstimatedEffort
		if eff.AveragePersonHours > 40 {
			triggers = append(triggers, TriggerComplexRefinement)
		}
		if dc.Constraints.HourlyRate > 0 {
			cost := eff.AveragePersonHours * dc.Constraints.HourlyRate
			if dc.Constraints.BudgetMaxCost > 0 && cost > dc.Constraints.BudgetMaxCost {
				triggers = append(triggers, TriggerBudgetExceeded)
			}
		}
		if dc.Constraints.AvailableDevelopmentHours > 0 && eff.MaxPersonHours > dc.Constraints.AvailableDevelopmentHours {
			triggers = append(triggers, TriggerTimelineExceeded)
		}
	}

	return triggers
}

// deriveAcceptanceCriteria implements keyword-triggered
// rule set, deduplicating fragments that fire more than once across
// changes.
func deriveAcceptanceCriteria(changes []model.RequiredChange) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, c := range changes {
		text := strings.ToLower(c.Description + " " + c.Rationale)
		switch {
		case containsAny(text, "add", "implement"):
			add("new functionality is implemented and callable")
		case containsAny(text, "fix", "resolve"):
			add("the reported defect no longer reproduces")
		}
		if strings.Contains(text, "test") {
			add("automated test coverage added for the change")
		}
		if strings.Contains(text, "api") {
			add("API contract documented and backward compatible unless explicitly versioned")
		}
		if strings.Contains(text, "security") {
			add("security review sign-off obtained")
		}
		if strings.Contains(text, "performance") {
			add("performance benchmarks meet or exceed baseline")
		}
		if containsAny(text, "backward", "compatibility") {
			add("no breaking changes to existing consumers")
		}
		if strings.Contains(text, "user") {
			add("user-facing behavior validated against the working specification")
		}
	}

	if len(out) == 0 {
		return []string{
			"implemented to specification",
			"no regressions introduced",
			"code-quality standards maintained",
		}
	}
	return out
}

func containsAny(text string, substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// buildExecutionPlan implements execution-plan
// construction rules.
func buildExecutionPlan(tier model.RiskTier, averagePersonHours float64) model.ExecutionPlan {
	priority := model.TaskPriorityNormal
	engineerCount := 1
	switch tier {
	case model.RiskTierT1:
		priority = model.TaskPriorityCritical
		engineerCount = 2
	case model.RiskTierT2:
		priority = model.TaskPriorityHigh
		engineerCount = 1
	}

	duration := averagePersonHours
	if duration <= 0 {
		duration = 16
	}

	return model.ExecutionPlan{
		Priority:               priority,
		EstimatedDurationHours: duration,
		EngineerCount:          engineerCount,
		QualityGates: []model.QualityGate{
			{Name: "Code Review", Criteria: "at least one approving review", ResponsibleParty: "engineering_lead", DeadlineRelative: "before merge"},
			{Name: "Testing", Criteria: "automated suite green", ResponsibleParty: "assigned engineer", DeadlineRelative: "before merge"},
		},
		RiskMitigations: []string{"staged rollout", "monitoring dashboards reviewed before full release"},
	}
}

// Deadline is a convenience constructor for FinalDecision.Escalate's
// Deadline field, kept here rather than on model so the decision engine
// is the single place that computes relative deadlines.
func Deadline(from time.Time, d time.Duration) *time.Time {
	t := from.Add(d)
	return &t
}
