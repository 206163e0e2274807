package judge

import (
	"context"
	"strings"

	"github.com/ashita-ai/council/internal/model"
)

// rejectKeywords flag terms a reviewer-less deployment should never wave
// through automatically — the heuristic reviewer reaches Reject only for
// these, everything else is Approve or Refine.
var rejectKeywords = []string{"drop table", "rm -rf", "disable auth", "hardcoded credential", "skip tests"}

// refineKeywords mark specs the heuristic reviewer considers underspecified.
var refineKeywords = []string{"todo", "tbd", "fixme", "placeholder"}

// HeuristicReviewer is the Reviewer behind the default judge pool, which is
// always present alongside any judges a host adds via WithJudge. It makes no external
// calls — it is a deterministic, keyword-driven stand-in so the council can
// run end-to-end out of the box, matching the orchestrator's
// noop-provider-first boot philosophy. Production deployments are expected
// to register real LLM- or static-analysis-backed judges.
func HeuristicReviewer(judgeType model.JudgeType) Reviewer {
	return func(_ context.Context, rc model.ReviewContext) (model.JudgeVerdict, error) {
		text := strings.ToLower(rc.WorkingSpec.Title + " " + rc.WorkingSpec.Description)

		for _, kw := range rejectKeywords {
			if strings.Contains(text, kw) {
				return model.JudgeVerdict{
					Kind:       model.VerdictReject,
					Confidence: 0.9,
					Reasoning:  "heuristic reviewer flagged a disallowed pattern: " + kw,
					CriticalIssues: []model.CriticalIssue{{
						Category:    string(judgeType),
						Severity:    model.IssueSeverityCritical,
						Description: "spec text contains a disallowed pattern: " + kw,
					}},
				}, nil
			}
		}

		for _, kw := range refineKeywords {
			if strings.Contains(text, kw) {
				return model.JudgeVerdict{
					Kind:       model.VerdictRefine,
					Confidence: 0.6,
					Reasoning:  "heuristic reviewer found an underspecified marker: " + kw,
					RequiredChanges: []model.RequiredChange{{
						Category:    model.ChangeCategoryOther,
						Description: "resolve outstanding marker before review: " + kw,
						Impact:      model.ChangeImpactMinor,
					}},
					EstimatedEffort: model.EstimatedEffort{PersonHours: 1, Complexity: model.ComplexitySimple},
				}, nil
			}
		}

		risk := model.RiskLevelLow
		if rc.RiskTier == model.RiskTierT3 {
			risk = model.RiskLevelMedium
		}
		return model.JudgeVerdict{
			Kind:       model.VerdictApprove,
			Confidence: 0.55,
			Reasoning:  "heuristic reviewer found no disqualifying patterns",
			QualityScore: 0.6,
			RiskAssessment: model.RiskAssessment{
				OverallRisk: risk,
			},
		}, nil
	}
}
