// Package aggregator implements the Verdict Aggregator (C6): it reduces a
// slice of JudgeContributions down to one CouncilDecision through the
// calculateWeights → tally → consensusMetrics → dissentingOpinions →
// synthesize pipeline run by Aggregate.
package aggregator

import (
	"sort"
	"strconv"
	"time"

	"github.com/ashita-ai/council/internal/model"
)

// DissentHandling is the closed set of dissent-gating policies applied
// after consensus metrics are computed.
type DissentHandling struct {
	Kind      DissentKind
	Threshold float64 // used by Weighted and Majority
}

type DissentKind int

const (
	DissentStrict DissentKind = iota
	DissentWeighted
	DissentMajority
)

// RiskAggregationStrategy is the closed set of strategies for combining
// RiskAssessments on an Approve decision step 5.
type RiskAggregationStrategy int

const (
	RiskMostConservative RiskAggregationStrategy = iota
	RiskWeightedAverage
	RiskFactorFrequency
)

// Config parameterizes one aggregation run.
type Config struct {
	WeightBySpecialization bool
	Dissent                DissentHandling
	RiskStrategy           RiskAggregationStrategy
}

// processingTargetLow and processingTargetHigh bound the "target band" a
// contribution's processing time is compared against in quality scoring,
// step 1.
const (
	processingTargetLow  = 1 * time.Second
	processingTargetHigh = 5 * time.Second
)

// Result is everything the aggregation pipeline produces: the decision
// itself plus the metadata the Decision Engine and provenance layer need
// downstream.
type Result struct {
	Decision          model.CouncilDecision
	ConsensusStrength float64
	Agreement         model.AgreementLevel
	DissentingOpinions []model.DissentingOpinion
	Weights           map[string]float64
}

// Aggregate runs the five-step pipeline over
// contributions for the given context.
func Aggregate(cfg Config, rc model.ReviewContext, contributions []model.JudgeContribution) Result {
	weights := calculateWeights(cfg, rc, contributions)

	approveWeight, refineWeight, rejectWeight, total := tally(contributions, weights)

	consensusStrength, winningKind := consensusMetrics(approveWeight, refineWeight, rejectWeight, total)
	agreement := model.AgreementLevelFor(consensusStrength)

	dissenting := dissentingOpinions(contributions, winningKind)

	if gateInconclusive(cfg.Dissent, len(dissenting), len(contributions), consensusStrength) {
		return Result{
			Decision:           inconclusiveDecision(dissenting, consensusStrength),
			ConsensusStrength:  consensusStrength,
			Agreement:          agreement,
			DissentingOpinions: dissenting,
			Weights:            weights,
		}
	}

	decision := synthesize(cfg, winningKind, contributions, weights, consensusStrength)
	return Result{
		Decision:           decision,
		ConsensusStrength:  consensusStrength,
		Agreement:          agreement,
		DissentingOpinions: dissenting,
		Weights:            weights,
	}
}

// calculateWeights implements step 1:
// weight = specialization*0.7 + quality*0.3, or 1.0 when weighting is
// disabled. specialization_score is supplied by the caller via the
// contribution's recorded metadata key "specialization_score" when
// available (set by the session orchestrator when it records each
// contribution); contributions missing it default to 0.5, matching
// KeywordJudge's base specialization score.
func calculateWeights(cfg Config, rc model.ReviewContext, contributions []model.JudgeContribution) map[string]float64 {
	weights := make(map[string]float64, len(contributions))
	for _, c := range contributions {
		if !cfg.WeightBySpecialization {
			weights[c.JudgeID] = 1.0
			continue
		}
		specialization := 0.5
		if raw, ok := c.Metadata["specialization_score"]; ok {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				specialization = v
			}
		}
		quality := contributionQuality(c)
		weights[c.JudgeID] = specialization*0.7 + quality*0.3
	}
	return weights
}

// contributionQuality scores [0,1]: well-formedness is the floor, then a
// mild penalty for sub-second responses (suggests a templated or
// unreasoned answer) and a mild bonus for >5s responses (suggests
// deliberation) step 1.
func contributionQuality(c model.JudgeContribution) float64 {
	if !c.IsWellFormed() {
		return 0.0
	}
	score := 0.7
	switch {
	case c.ProcessingTime < processingTargetLow:
		score -= 0.2
	case c.ProcessingTime > processingTargetHigh:
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

func tally(contributions []model.JudgeContribution, weights map[string]float64) (approve, refine, reject, total float64) {
	for _, c := range contributions {
		w := weights[c.JudgeID]
		total += w
		switch c.Verdict.Kind {
		case model.VerdictApprove:
			approve += w
		case model.VerdictRefine:
			refine += w
		case model.VerdictReject:
			reject += w
		}
	}
	return
}

// consensusMetrics implements step 3:
// consensus_strength = max(bucket) / total. Ties are broken
// Reject > Refine > Approve (conservative bias)
// tie-break rule — evaluated least-to-most-preferred with >= so the most
// preferred class wins any exact tie.
func consensusMetrics(approve, refine, reject, total float64) (strength float64, winner model.VerdictKind) {
	if total == 0 {
		return 0, model.VerdictReject
	}
	max := approve
	winner = model.VerdictApprove
	if refine >= max {
		max, winner = refine, model.VerdictRefine
	}
	if reject >= max {
		max, winner = reject, model.VerdictReject
	}
	return max / total, winner
}

// dissentingOpinions collects every contribution whose verdict class
// differs from the winning class DissentingOpinion.
func dissentingOpinions(contributions []model.JudgeContribution, winner model.VerdictKind) []model.DissentingOpinion {
	var out []model.DissentingOpinion
	for _, c := range contributions {
		if c.Verdict.Kind == winner {
			continue
		}
		out = append(out, model.DissentingOpinion{
			JudgeID:           c.JudgeID,
			DissentingVerdict: c.Verdict,
			Rationale:         c.Verdict.Reasoning,
		})
	}
	return out
}

// gateInconclusive implements step 4's three dissent
// policies.
func gateInconclusive(d DissentHandling, dissentCount, n int, consensusStrength float64) bool {
	switch d.Kind {
	case DissentStrict:
		return dissentCount > 0
	case DissentWeighted:
		if n == 0 {
			return false
		}
		return float64(dissentCount)/float64(n) > d.Threshold
	case DissentMajority:
		return consensusStrength < d.Threshold
	default:
		return false
	}
}

func inconclusiveDecision(dissenting []model.DissentingOpinion, consensusStrength float64) model.CouncilDecision {
	factors := make([]string, 0, len(dissenting))
	for _, d := range dissenting {
		factors = append(factors, d.JudgeID+":"+string(d.DissentingVerdict.Kind))
	}
	return model.CouncilDecision{
		Kind:               model.CouncilInconclusive,
		Confidence:         consensusStrength,
		Reason:             "dissent policy gate triggered",
		ConflictingFactors: factors,
	}
}

// synthesize implements step 5 for the winning bucket.
func synthesize(cfg Config, winner model.VerdictKind, contributions []model.JudgeContribution, weights map[string]float64, consensusStrength float64) model.CouncilDecision {
	switch winner {
	case model.VerdictApprove:
		return aggregateApprove(cfg, contributions, weights, consensusStrength)
	case model.VerdictRefine:
		return aggregateRefine(contributions, weights, consensusStrength)
	default:
		return aggregateReject(contributions, consensusStrength)
	}
}

func aggregateApprove(cfg Config, contributions []model.JudgeContribution, weights map[string]float64, consensusStrength float64) model.CouncilDecision {
	var approvers []model.JudgeContribution
	for _, c := range contributions {
		if c.Verdict.Kind == model.VerdictApprove {
			approvers = append(approvers, c)
		}
	}

	return model.CouncilDecision{
		Kind:           model.CouncilApprove,
		Confidence:     consensusStrength,
		QualityScore:   weightedAverageQuality(approvers, weights),
		RiskAssessment: aggregateRisk(cfg.RiskStrategy, approvers, weights),
	}
}

func weightedAverageQuality(contributions []model.JudgeContribution, weights map[string]float64) float64 {
	var sumW, sumWQ float64
	for _, c := range contributions {
		w := weights[c.JudgeID]
		sumW += w
		sumWQ += w * c.Verdict.QualityScore
	}
	if sumW == 0 {
		return 0
	}
	return sumWQ / sumW
}

// aggregateRisk implements step 5's three risk strategies.
func aggregateRisk(strategy RiskAggregationStrategy, contributions []model.JudgeContribution, weights map[string]float64) model.RiskAssessment {
	if len(contributions) == 0 {
		return model.RiskAssessment{OverallRisk: model.RiskLevelLow, Confidence: 1.0}
	}

	switch strategy {
	case RiskFactorFrequency:
		return riskByFactorFrequency(contributions)
	case RiskWeightedAverage:
		return riskByWeightedAverage(contributions, weights)
	default: // RiskMostConservative
		return riskMostConservative(contributions)
	}
}

func riskMostConservative(contributions []model.JudgeContribution) model.RiskAssessment {
	worst := contributions[0].Verdict.RiskAssessment
	var factors, mitigations []string
	for _, c := range contributions {
		ra := c.Verdict.RiskAssessment
		if ra.OverallRisk > worst.OverallRisk {
			worst = ra
		}
		factors = append(factors, ra.RiskFactors...)
		mitigations = append(mitigations, ra.MitigationSuggestions...)
	}
	worst.RiskFactors = dedupeStrings(factors)
	worst.MitigationSuggestions = dedupeStrings(mitigations)
	return worst
}

func riskByWeightedAverage(contributions []model.JudgeContribution, weights map[string]float64) model.RiskAssessment {
	var sumW, sumWLevel, sumWConfidence float64
	var factors, mitigations []string
	for _, c := range contributions {
		w := weights[c.JudgeID]
		ra := c.Verdict.RiskAssessment
		sumW += w
		sumWLevel += w * float64(ra.OverallRisk)
		sumWConfidence += w * ra.Confidence
		factors = append(factors, ra.RiskFactors...)
		mitigations = append(mitigations, ra.MitigationSuggestions...)
	}
	level := model.RiskLevelLow
	confidence := 1.0
	if sumW > 0 {
		level = model.RiskLevel(roundNearest(sumWLevel / sumW))
		confidence = sumWConfidence / sumW
	}
	return model.RiskAssessment{
		OverallRisk:           level,
		RiskFactors:           dedupeStrings(factors),
		MitigationSuggestions: dedupeStrings(mitigations),
		Confidence:            confidence,
	}
}

func riskByFactorFrequency(contributions []model.JudgeContribution) model.RiskAssessment {
	counts := make(map[string]int)
	var mitigations []string
	var sumConfidence float64
	for _, c := range contributions {
		ra := c.Verdict.RiskAssessment
		for _, f := range ra.RiskFactors {
			counts[f]++
		}
		mitigations = append(mitigations, ra.MitigationSuggestions...)
		sumConfidence += ra.Confidence
	}

	var factors []string
	majority := len(contributions)/2 + 1
	for f, n := range counts {
		if n >= majority {
			factors = append(factors, f)
		}
	}
	sort.Strings(factors)

	level := model.RiskLevelLow
	if len(factors) >= 3 {
		level = model.RiskLevelCritical
	} else if len(factors) == 2 {
		level = model.RiskLevelHigh
	} else if len(factors) == 1 {
		level = model.RiskLevelMedium
	}

	return model.RiskAssessment{
		OverallRisk:           level,
		RiskFactors:           factors,
		MitigationSuggestions: dedupeStrings(mitigations),
		Confidence:            sumConfidence / float64(len(contributions)),
	}
}

func aggregateRefine(contributions []model.JudgeContribution, weights map[string]float64, consensusStrength float64) model.CouncilDecision {
	var refiners []model.JudgeContribution
	for _, c := range contributions {
		if c.Verdict.Kind == model.VerdictRefine {
			refiners = append(refiners, c)
		}
	}

	changes := dedupeChanges(refiners)
	effort := aggregateEffort(refiners, weights)
	priority := highestPriority(changes)

	return model.CouncilDecision{
		Kind:            model.CouncilRefine,
		Confidence:      consensusStrength,
		RequiredChanges: changes,
		Priority:        priority,
		EstimatedEffort: effort,
	}
}

// dedupeChanges deduplicates RequiredChanges by (category, description),
// step 5.
func dedupeChanges(contributions []model.JudgeContribution) []model.RequiredChange {
	seen := make(map[string]bool)
	var out []model.RequiredChange
	for _, c := range contributions {
		for _, rc := range c.Verdict.RequiredChanges {
			key := string(rc.Category) + "|" + rc.Description
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, rc)
		}
	}
	return out
}

// aggregateEffort implements step 5's effort formula:
// min/max across contributions, weighted average by contribution weight,
// union of dependencies, and a complexity histogram.
func aggregateEffort(contributions []model.JudgeContribution, weights map[string]float64) model.AggregatedEffort {
	if len(contributions) == 0 {
		return model.AggregatedEffort{ComplexityHistogram: map[model.ComplexityLevel]int{}}
	}

	min := contributions[0].Verdict.EstimatedEffort.PersonHours
	max := min
	var sumW, sumWH float64
	histogram := make(map[model.ComplexityLevel]int)
	var deps []string

	for _, c := range contributions {
		eff := c.Verdict.EstimatedEffort
		if eff.PersonHours < min {
			min = eff.PersonHours
		}
		if eff.PersonHours > max {
			max = eff.PersonHours
		}
		w := weights[c.JudgeID]
		sumW += w
		sumWH += w * eff.PersonHours
		histogram[eff.Complexity]++
		deps = append(deps, eff.Dependencies...)
	}

	avg := min
	if sumW > 0 {
		avg = sumWH / sumW
	}

	return model.AggregatedEffort{
		MinPersonHours:      min,
		MaxPersonHours:      max,
		AveragePersonHours:  avg,
		ComplexityHistogram: histogram,
		Dependencies:        dedupeStrings(deps),
	}
}

// highestPriority maps each change's impact to a priority and returns the
// most severe step 5's impact→priority table.
func highestPriority(changes []model.RequiredChange) model.ChangePriority {
	best := model.ChangePriorityLow
	rank := map[model.ChangePriority]int{
		model.ChangePriorityCritical: 4,
		model.ChangePriorityHigh:     3,
		model.ChangePriorityMedium:   2,
		model.ChangePriorityLow:      1,
	}
	for _, c := range changes {
		p := model.ImpactToPriority(c.Impact)
		if rank[p] > rank[best] {
			best = p
		}
	}
	return best
}

func aggregateReject(contributions []model.JudgeContribution, consensusStrength float64) model.CouncilDecision {
	var rejecters []model.JudgeContribution
	for _, c := range contributions {
		if c.Verdict.Kind == model.VerdictReject {
			rejecters = append(rejecters, c)
		}
	}

	summaries := groupCriticalIssues(rejecters)
	return model.CouncilDecision{
		Kind:           model.CouncilReject,
		Confidence:     consensusStrength,
		CriticalIssues: flattenIssues(rejecters),
		AlternativeApproaches: summariesToApproaches(summaries),
	}
}

// groupCriticalIssues groups by (category, severity) into IssueSummary,
// step 5.
func groupCriticalIssues(contributions []model.JudgeContribution) []model.IssueSummary {
	type key struct {
		category string
		severity model.IssueSeverity
	}
	grouped := make(map[key]*model.IssueSummary)
	var order []key

	for _, c := range contributions {
		for _, issue := range c.Verdict.CriticalIssues {
			k := key{issue.Category, issue.Severity}
			s, ok := grouped[k]
			if !ok {
				s = &model.IssueSummary{Category: issue.Category, Severity: issue.Severity}
				grouped[k] = s
				order = append(order, k)
			}
			s.Frequency++
			s.Descriptions = append(s.Descriptions, issue.Description)
		}
	}

	out := make([]model.IssueSummary, 0, len(order))
	for _, k := range order {
		out = append(out, *grouped[k])
	}
	return out
}

func flattenIssues(contributions []model.JudgeContribution) []model.CriticalIssue {
	var out []model.CriticalIssue
	for _, c := range contributions {
		out = append(out, c.Verdict.CriticalIssues...)
	}
	return out
}

// summariesToApproaches renders each issue group as a human-readable
// alternative-approach suggestion. Prose generation is normally a
// downstream LLM call, which is out of scope here, so we render a
// deterministic summary line per group instead.
func summariesToApproaches(summaries []model.IssueSummary) []string {
	out := make([]string, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, "address "+string(s.Severity)+" "+s.Category+" issues ("+strconv.Itoa(s.Frequency)+" reports)")
	}
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func roundNearest(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

