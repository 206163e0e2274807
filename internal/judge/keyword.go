package judge

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ashita-ai/council/internal/model"
)

// Reviewer performs the actual review work for a KeywordJudge — typically a
// call to an LLM or a static-analysis tool. It is the seam a host
// implementation plugs into; KeywordJudge itself only supplies the
// specialization-scoring and availability bookkeeping the Judge contract
// requires of every judge type.
type Reviewer func(ctx context.Context, rc model.ReviewContext) (model.JudgeVerdict, error)

// specializationKeywords lists, per judge type, the terms whose presence in
// a spec's title/description earns that type a score bonus. Compliance and
// DomainExpert have no entry: their bonus comes from the risk tier instead.
var specializationKeywords = map[model.JudgeType][]string{
	model.JudgeTypeQuality:      {"quality", "test", "coverage"},
	model.JudgeTypeSecurity:     {"security", "auth", "password", "encrypt", "credential"},
	model.JudgeTypePerformance:  {"performance", "speed", "optimize", "latency"},
	model.JudgeTypeArchitecture: {"architecture", "design", "structure"},
	model.JudgeTypeTesting:      {"test", "coverage"},
	model.JudgeTypeEthics:       {"privacy", "tracking", "profiling", "track user"},
}

// KeywordJudge is a concrete Judge implementation whose specialization
// score is a deterministic keyword-match rule over the working spec's
// title and description, and whose actual review work is delegated to a
// Reviewer (an LLM call, a static analyzer, or — for tests — a canned
// response).
type KeywordJudge struct {
	id        string
	judgeType model.JudgeType
	reviewer  Reviewer
	available atomic.Bool

	totalReviews  atomic.Uint64
	totalFailures atomic.Uint64
	lastLatencyMs atomic.Uint64
}

// NewKeywordJudge constructs a KeywordJudge. The judge starts available.
func NewKeywordJudge(id string, judgeType model.JudgeType, reviewer Reviewer) *KeywordJudge {
	j := &KeywordJudge{id: id, judgeType: judgeType, reviewer: reviewer}
	j.available.Store(true)
	return j
}

func (j *KeywordJudge) ID() string             { return j.id }
func (j *KeywordJudge) Type() model.JudgeType  { return j.judgeType }
func (j *KeywordJudge) IsAvailable() bool      { return j.available.Load() }

// SetAvailable allows administrative enable/disable of the judge
// ("retired by administrative action").
func (j *KeywordJudge) SetAvailable(available bool) { j.available.Store(available) }

// SpecializationScore encodes domain fit. Base score is
// 0.5; keyword hits and (for Compliance/DomainExpert) risk tier raise it,
// capped at 1.0.
func (j *KeywordJudge) SpecializationScore(rc model.ReviewContext) float64 {
	score := 0.5
	text := strings.ToLower(rc.WorkingSpec.Title + " " + rc.WorkingSpec.Description)

	switch j.judgeType {
	case model.JudgeTypeCompliance:
		if rc.RiskTier == model.RiskTierT1 {
			score += 0.4
		}
	case model.JudgeTypeDomainExpert:
		if rc.RiskTier == model.RiskTierT1 || rc.RiskTier == model.RiskTierT2 {
			score += 0.2
		}
	default:
		for _, kw := range specializationKeywords[j.judgeType] {
			if strings.Contains(text, kw) {
				score += 0.3
				break
			}
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Review delegates to the configured Reviewer, recording latency and
// failure counters into the judge's rolling HealthMetrics. The judge
// itself never retries on failure.
func (j *KeywordJudge) Review(ctx context.Context, rc model.ReviewContext) (model.JudgeVerdict, error) {
	if !j.IsAvailable() {
		return model.JudgeVerdict{}, Failure(model.ErrorKindJudgeUnavailable, j.id, "judge is not available")
	}

	start := time.Now()
	verdict, err := j.reviewer(ctx, rc)
	elapsed := time.Since(start)

	j.totalReviews.Add(1)
	j.lastLatencyMs.Store(uint64(elapsed.Milliseconds())) //nolint:gosec // latency is always non-negative
	if err != nil {
		j.totalFailures.Add(1)
		return model.JudgeVerdict{}, err
	}
	return verdict, nil
}

// HealthMetrics reports rolling counters for this judge. ResponseTimeP95Ms
// carries the latency of the most recent review; no percentile is computed.
func (j *KeywordJudge) HealthMetrics() HealthMetrics {
	total := j.totalReviews.Load()
	failures := j.totalFailures.Load()
	var errRate float64
	if total > 0 {
		errRate = float64(failures) / float64(total)
	}
	return HealthMetrics{
		ResponseTimeP95Ms: j.lastLatencyMs.Load(),
		ErrorRate:         errRate,
		TotalReviews:      total,
		TotalFailures:     failures,
	}
}
