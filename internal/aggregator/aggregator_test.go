package aggregator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/aggregator"
	"github.com/ashita-ai/council/internal/model"
)

func approveContribution(id string, processingTime time.Duration) model.JudgeContribution {
	return model.JudgeContribution{
		JudgeID:        id,
		JudgeType:      model.JudgeTypeQuality,
		ProcessingTime: processingTime,
		Verdict: model.JudgeVerdict{
			Kind:         model.VerdictApprove,
			Confidence:   0.9,
			Reasoning:    "looks fine",
			QualityScore: 0.8,
			RiskAssessment: model.RiskAssessment{
				OverallRisk: model.RiskLevelLow,
			},
		},
	}
}

func rejectContribution(id string, category string) model.JudgeContribution {
	return model.JudgeContribution{
		JudgeID:        id,
		JudgeType:      model.JudgeTypeSecurity,
		ProcessingTime: 2 * time.Second,
		Verdict: model.JudgeVerdict{
			Kind:       model.VerdictReject,
			Confidence: 0.95,
			Reasoning:  "disallowed pattern",
			CriticalIssues: []model.CriticalIssue{{
				Category:    category,
				Severity:    model.IssueSeverityCritical,
				Description: "found a disallowed pattern",
			}},
		},
	}
}

func refineContribution(id string) model.JudgeContribution {
	return model.JudgeContribution{
		JudgeID:        id,
		JudgeType:      model.JudgeTypeArchitecture,
		ProcessingTime: 2 * time.Second,
		Verdict: model.JudgeVerdict{
			Kind:       model.VerdictRefine,
			Confidence: 0.6,
			Reasoning:  "needs work",
			RequiredChanges: []model.RequiredChange{{
				Category:    model.ChangeCategoryMaintainability,
				Description: "extract helper",
				Impact:      model.ChangeImpactMinor,
			}},
			EstimatedEffort: model.EstimatedEffort{PersonHours: 4, Complexity: model.ComplexitySimple},
		},
	}
}

func TestAggregate_UnanimousApprove(t *testing.T) {
	rc := model.ReviewContext{}
	contributions := []model.JudgeContribution{
		approveContribution("j1", 2*time.Second),
		approveContribution("j2", 2*time.Second),
	}

	result := aggregator.Aggregate(aggregator.Config{}, rc, contributions)

	require.Equal(t, model.CouncilApprove, result.Decision.Kind)
	assert.Equal(t, 1.0, result.ConsensusStrength)
	assert.Equal(t, model.AgreementUnanimous, result.Agreement)
	assert.Empty(t, result.DissentingOpinions)
}

// Testable property: consensus tie-break favors Reject over Refine over
// Approve — an exact split resolves to the most conservative class.
func TestAggregate_TieBreaksConservative(t *testing.T) {
	rc := model.ReviewContext{}
	contributions := []model.JudgeContribution{
		approveContribution("j1", 2*time.Second),
		rejectContribution("j2", "security"),
	}

	cfg := aggregator.Config{Dissent: aggregator.DissentHandling{Kind: aggregator.DissentMajority, Threshold: 0}}
	result := aggregator.Aggregate(cfg, rc, contributions)

	assert.Equal(t, model.CouncilReject, result.Decision.Kind)
	assert.Equal(t, 0.5, result.ConsensusStrength)
	assert.Len(t, result.DissentingOpinions, 1)
	assert.Equal(t, "j1", result.DissentingOpinions[0].JudgeID)
}

func TestAggregate_RefineBeatsApproveOnTie(t *testing.T) {
	rc := model.ReviewContext{}
	contributions := []model.JudgeContribution{
		approveContribution("j1", 2*time.Second),
		refineContribution("j2"),
	}

	cfg := aggregator.Config{Dissent: aggregator.DissentHandling{Kind: aggregator.DissentMajority, Threshold: 0}}
	result := aggregator.Aggregate(cfg, rc, contributions)

	assert.Equal(t, model.CouncilRefine, result.Decision.Kind)
}

func TestAggregate_DissentStrictGatesToInconclusive(t *testing.T) {
	rc := model.ReviewContext{}
	contributions := []model.JudgeContribution{
		approveContribution("j1", 2*time.Second),
		approveContribution("j2", 2*time.Second),
		rejectContribution("j3", "security"),
	}

	cfg := aggregator.Config{Dissent: aggregator.DissentHandling{Kind: aggregator.DissentStrict}}
	result := aggregator.Aggregate(cfg, rc, contributions)

	assert.Equal(t, model.CouncilInconclusive, result.Decision.Kind)
	assert.NotEmpty(t, result.Decision.ConflictingFactors)
}

func TestAggregate_DissentMajorityThresholdGate(t *testing.T) {
	rc := model.ReviewContext{}
	contributions := []model.JudgeContribution{
		approveContribution("j1", 2*time.Second),
		rejectContribution("j2", "security"),
	}

	cfg := aggregator.Config{Dissent: aggregator.DissentHandling{Kind: aggregator.DissentMajority, Threshold: 0.8}}
	result := aggregator.Aggregate(cfg, rc, contributions)

	assert.Equal(t, model.CouncilInconclusive, result.Decision.Kind)
}

func TestAggregate_WeightBySpecializationFavorsHigherWeight(t *testing.T) {
	rc := model.ReviewContext{}
	approver := approveContribution("j1", 2*time.Second)
	approver.Metadata = map[string]string{"specialization_score": "0.9"}
	rejecter := rejectContribution("j2", "security")
	rejecter.Metadata = map[string]string{"specialization_score": "0.1"}

	cfg := aggregator.Config{
		WeightBySpecialization: true,
		Dissent:                aggregator.DissentHandling{Kind: aggregator.DissentMajority, Threshold: 0},
	}
	result := aggregator.Aggregate(cfg, rc, []model.JudgeContribution{approver, rejecter})

	require.Equal(t, model.CouncilApprove, result.Decision.Kind)
	assert.Greater(t, result.Weights["j1"], result.Weights["j2"])
}

func TestAggregate_RejectGroupsCriticalIssuesByCategoryAndSeverity(t *testing.T) {
	rc := model.ReviewContext{}
	contributions := []model.JudgeContribution{
		rejectContribution("j1", "security"),
		rejectContribution("j2", "security"),
	}

	result := aggregator.Aggregate(aggregator.Config{}, rc, contributions)

	require.Equal(t, model.CouncilReject, result.Decision.Kind)
	assert.Len(t, result.Decision.CriticalIssues, 2)
	require.Len(t, result.Decision.AlternativeApproaches, 1)
	assert.Contains(t, result.Decision.AlternativeApproaches[0], "2 reports")
}

func TestAggregate_RefineEffortRespectsMinMaxAverageInvariant(t *testing.T) {
	rc := model.ReviewContext{}
	low := refineContribution("j1")
	low.Verdict.EstimatedEffort = model.EstimatedEffort{PersonHours: 2, Complexity: model.ComplexityTrivial}
	high := refineContribution("j2")
	high.Verdict.EstimatedEffort = model.EstimatedEffort{PersonHours: 10, Complexity: model.ComplexityComplex}

	result := aggregator.Aggregate(aggregator.Config{}, rc, []model.JudgeContribution{low, high})

	require.Equal(t, model.CouncilRefine, result.Decision.Kind)
	eff := result.Decision.EstimatedEffort
	assert.LessOrEqual(t, eff.MinPersonHours, eff.AveragePersonHours)
	assert.LessOrEqual(t, eff.AveragePersonHours, eff.MaxPersonHours)
}

func TestAggregate_NoContributionsYieldsReject(t *testing.T) {
	result := aggregator.Aggregate(aggregator.Config{}, model.ReviewContext{}, nil)
	assert.Equal(t, model.CouncilReject, result.Decision.Kind)
	assert.Zero(t, result.ConsensusStrength)
}

func TestAggregate_PoorlyFormedContributionGetsZeroQuality(t *testing.T) {
	malformed := approveContribution("j1", 2*time.Second)
	malformed.Verdict.Confidence = 2 // out of [0,1], not well-formed
	wellFormed := approveContribution("j2", 2*time.Second)

	cfg := aggregator.Config{WeightBySpecialization: true}
	result := aggregator.Aggregate(cfg, model.ReviewContext{}, []model.JudgeContribution{malformed, wellFormed})

	require.Equal(t, model.CouncilApprove, result.Decision.Kind)
	assert.Less(t, result.Weights["j1"], result.Weights["j2"])
}
