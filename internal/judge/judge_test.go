package judge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/judge"
	"github.com/ashita-ai/council/internal/model"
)

func reviewContext(title, description string, tier model.RiskTier) model.ReviewContext {
	return model.ReviewContext{
		WorkingSpec: model.WorkingSpec{Title: title, Description: description, RiskTier: tier},
		RiskTier:    tier,
	}
}

func TestKeywordJudge_SpecializationScoreBaseIsOneHalf(t *testing.T) {
	j := judge.NewKeywordJudge("j1", model.JudgeTypeQuality, nil)
	score := j.SpecializationScore(reviewContext("add a feature", "nothing special", model.RiskTierT3))
	assert.Equal(t, 0.5, score)
}

func TestKeywordJudge_SpecializationScoreKeywordHitAddsBonus(t *testing.T) {
	j := judge.NewKeywordJudge("j1", model.JudgeTypeSecurity, nil)
	score := j.SpecializationScore(reviewContext("rotate credential", "update the auth flow", model.RiskTierT3))
	assert.InDelta(t, 0.8, score, 1e-9)
}

func TestKeywordJudge_ComplianceScoreRisesOnlyForT1(t *testing.T) {
	j := judge.NewKeywordJudge("j1", model.JudgeTypeCompliance, nil)
	t1 := j.SpecializationScore(reviewContext("x", "y", model.RiskTierT1))
	t3 := j.SpecializationScore(reviewContext("x", "y", model.RiskTierT3))
	assert.InDelta(t, 0.9, t1, 1e-9)
	assert.InDelta(t, 0.5, t3, 1e-9)
}

func TestKeywordJudge_DomainExpertScoreRisesForT1AndT2(t *testing.T) {
	j := judge.NewKeywordJudge("j1", model.JudgeTypeDomainExpert, nil)
	t2 := j.SpecializationScore(reviewContext("x", "y", model.RiskTierT2))
	t3 := j.SpecializationScore(reviewContext("x", "y", model.RiskTierT3))
	assert.InDelta(t, 0.7, t2, 1e-9)
	assert.InDelta(t, 0.5, t3, 1e-9)
}

func TestKeywordJudge_ReviewDelegatesAndTracksHealthMetrics(t *testing.T) {
	wantVerdict := model.JudgeVerdict{Kind: model.VerdictApprove, Confidence: 0.8}
	j := judge.NewKeywordJudge("j1", model.JudgeTypeQuality, func(context.Context, model.ReviewContext) (model.JudgeVerdict, error) {
		return wantVerdict, nil
	})

	got, err := j.Review(context.Background(), model.ReviewContext{})
	require.NoError(t, err)
	assert.Equal(t, wantVerdict, got)

	metrics := j.HealthMetrics()
	assert.Equal(t, uint64(1), metrics.TotalReviews)
	assert.Zero(t, metrics.TotalFailures)
	assert.Zero(t, metrics.ErrorRate)
}

func TestKeywordJudge_ReviewTracksFailuresAndErrorRate(t *testing.T) {
	wantErr := errors.New("reviewer exploded")
	j := judge.NewKeywordJudge("j1", model.JudgeTypeQuality, func(context.Context, model.ReviewContext) (model.JudgeVerdict, error) {
		return model.JudgeVerdict{}, wantErr
	})

	_, err := j.Review(context.Background(), model.ReviewContext{})
	require.ErrorIs(t, err, wantErr)

	metrics := j.HealthMetrics()
	assert.Equal(t, uint64(1), metrics.TotalReviews)
	assert.Equal(t, uint64(1), metrics.TotalFailures)
	assert.Equal(t, 1.0, metrics.ErrorRate)
}

func TestKeywordJudge_ReviewFailsFastWhenUnavailable(t *testing.T) {
	called := false
	j := judge.NewKeywordJudge("j1", model.JudgeTypeQuality, func(context.Context, model.ReviewContext) (model.JudgeVerdict, error) {
		called = true
		return model.JudgeVerdict{}, nil
	})
	j.SetAvailable(false)

	_, err := j.Review(context.Background(), model.ReviewContext{})
	require.Error(t, err)
	assert.False(t, called, "an unavailable judge must never invoke its reviewer")
	assert.False(t, j.IsAvailable())
}

func TestHeuristicReviewer_RejectsDisallowedPattern(t *testing.T) {
	reviewer := judge.HeuristicReviewer(model.JudgeTypeSecurity)
	verdict, err := reviewer(context.Background(), reviewContext("cleanup", "this will drop table users when done", model.RiskTierT3))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictReject, verdict.Kind)
	require.Len(t, verdict.CriticalIssues, 1)
}

func TestHeuristicReviewer_RefinesOnUnderspecifiedMarker(t *testing.T) {
	reviewer := judge.HeuristicReviewer(model.JudgeTypeArchitecture)
	verdict, err := reviewer(context.Background(), reviewContext("add endpoint", "TODO: figure out pagination", model.RiskTierT3))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictRefine, verdict.Kind)
	require.Len(t, verdict.RequiredChanges, 1)
}

func TestHeuristicReviewer_ApprovesCleanSpecWithRiskFromTier(t *testing.T) {
	reviewer := judge.HeuristicReviewer(model.JudgeTypeQuality)

	low, err := reviewer(context.Background(), reviewContext("add endpoint", "straightforward change", model.RiskTierT1))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictApprove, low.Kind)
	assert.Equal(t, model.RiskLevelLow, low.RiskAssessment.OverallRisk)

	medium, err := reviewer(context.Background(), reviewContext("add endpoint", "straightforward change", model.RiskTierT3))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictApprove, medium.Kind)
	assert.Equal(t, model.RiskLevelMedium, medium.RiskAssessment.OverallRisk)
}

func TestHeuristicReviewer_RejectCheckedBeforeRefine(t *testing.T) {
	reviewer := judge.HeuristicReviewer(model.JudgeTypeSecurity)
	verdict, err := reviewer(context.Background(), reviewContext("todo", "TODO: but also disable auth for now", model.RiskTierT3))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictReject, verdict.Kind)
}
