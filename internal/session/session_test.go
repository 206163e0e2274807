package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/breaker"
	"github.com/ashita-ai/council/internal/decision"
	"github.com/ashita-ai/council/internal/degradation"
	"github.com/ashita-ai/council/internal/judge"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/provenance"
	"github.com/ashita-ai/council/internal/session"
	"github.com/ashita-ai/council/internal/signing"
)

type fakeJudge struct {
	id        string
	jType     model.JudgeType
	available atomic.Bool
	calls     atomic.Int64
	review    func(ctx context.Context) (model.JudgeVerdict, error)
}

func newFakeJudge(id string, review func(ctx context.Context) (model.JudgeVerdict, error)) *fakeJudge {
	f := &fakeJudge{id: id, jType: model.JudgeTypeQuality, review: review}
	f.available.Store(true)
	return f
}

func (f *fakeJudge) ID() string                            { return f.id }
func (f *fakeJudge) Type() model.JudgeType                  { return f.jType }
func (f *fakeJudge) IsAvailable() bool                      { return f.available.Load() }
func (f *fakeJudge) SpecializationScore(model.ReviewContext) float64 { return 0.5 }
func (f *fakeJudge) HealthMetrics() judge.HealthMetrics     { return judge.HealthMetrics{} }
func (f *fakeJudge) Review(ctx context.Context, _ model.ReviewContext) (model.JudgeVerdict, error) {
	f.calls.Add(1)
	return f.review(ctx)
}

func approvingJudge(id string) *fakeJudge {
	return newFakeJudge(id, func(context.Context) (model.JudgeVerdict, error) {
		return model.JudgeVerdict{Kind: model.VerdictApprove, Confidence: 0.9, QualityScore: 0.8}, nil
	})
}

func failingJudge(id string) *fakeJudge {
	return newFakeJudge(id, func(context.Context) (model.JudgeVerdict, error) {
		return model.JudgeVerdict{}, errors.New("judge exploded")
	})
}

func blockingJudge(id string) *fakeJudge {
	return newFakeJudge(id, func(ctx context.Context) (model.JudgeVerdict, error) {
		<-ctx.Done()
		return model.JudgeVerdict{}, ctx.Err()
	})
}

func newOrchestrator(t *testing.T, cfg session.Config, judges map[string]judge.Judge, breakers *breaker.Registry) *session.Orchestrator {
	t.Helper()
	signer, err := signing.NewEdDSASigner("test-key", "", "")
	require.NoError(t, err)
	store, err := provenance.NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return session.New(cfg, judges, breakers, degradation.NewTable(), signer, store, nil)
}

func baseConfig() session.Config {
	return session.Config{
		SessionTimeout:      2 * time.Second,
		JudgeTimeout:        time.Second,
		MinJudgesRequired:   2,
		MaxJudgesPerSession: 5,
		Engine:              decision.StrategyMajority,
	}
}

func reviewContext(id string) model.ReviewContext {
	return model.ReviewContext{WorkingSpec: model.WorkingSpec{ID: id, Title: "add a feature", Description: "straightforward"}, RiskTier: model.RiskTierT3}
}

func TestSubmit_HappyPathProducesProceedDecision(t *testing.T) {
	cfg := baseConfig()
	judges := map[string]judge.Judge{"j1": approvingJudge("j1"), "j2": approvingJudge("j2")}
	o := newOrchestrator(t, cfg, judges, nil)

	sess := o.Submit(context.Background(), "sess-1", reviewContext("spec-1"), decision.Context{RiskTier: model.RiskTierT3})

	require.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, model.FinalProceed, sess.FinalDecision.Kind)
	assert.NotEmpty(t, sess.ProvenanceID)
	require.NoError(t, sess.Err)
}

func TestSubmit_IdempotentResubmissionSkipsReReview(t *testing.T) {
	cfg := baseConfig()
	j1, j2 := approvingJudge("j1"), approvingJudge("j2")
	judges := map[string]judge.Judge{"j1": j1, "j2": j2}
	o := newOrchestrator(t, cfg, judges, nil)
	rc := reviewContext("spec-1")

	first := o.Submit(context.Background(), "sess-1", rc, decision.Context{RiskTier: model.RiskTierT3})
	second := o.Submit(context.Background(), "sess-2", rc, decision.Context{RiskTier: model.RiskTierT3})

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), j1.calls.Load())
	assert.Equal(t, int64(1), j2.calls.Load())
}

func TestSubmit_QuorumFailureWhenTooFewJudgesAvailable(t *testing.T) {
	cfg := baseConfig()
	cfg.MinJudgesRequired = 2
	judges := map[string]judge.Judge{"j1": approvingJudge("j1")}
	o := newOrchestrator(t, cfg, judges, nil)

	sess := o.Submit(context.Background(), "sess-1", reviewContext("spec-1"), decision.Context{RiskTier: model.RiskTierT3})

	require.Equal(t, session.StatusFailed, sess.Status)
	require.Error(t, sess.Err)
	var qf *model.QuorumFailureError
	assert.ErrorAs(t, sess.Err, &qf)
	assert.Equal(t, model.FinalEscalate, sess.FinalDecision.Kind)
}

func TestSubmit_QuorumFailureAfterJudgeDropsStillProducesProvenance(t *testing.T) {
	cfg := baseConfig()
	cfg.MinJudgesRequired = 2
	judges := map[string]judge.Judge{"j1": approvingJudge("j1"), "j2": failingJudge("j2")}
	o := newOrchestrator(t, cfg, judges, nil)

	sess := o.Submit(context.Background(), "sess-1", reviewContext("spec-1"), decision.Context{RiskTier: model.RiskTierT3})

	require.Equal(t, session.StatusFailed, sess.Status)
	assert.NotEmpty(t, sess.ProvenanceID)
}

func TestSubmit_SessionTimeoutWhenJudgeNeverReturnsInTime(t *testing.T) {
	cfg := baseConfig()
	cfg.SessionTimeout = 30 * time.Millisecond
	cfg.JudgeTimeout = 5 * time.Second
	cfg.MinJudgesRequired = 1
	judges := map[string]judge.Judge{"j1": blockingJudge("j1")}
	o := newOrchestrator(t, cfg, judges, nil)

	sess := o.Submit(context.Background(), "sess-1", reviewContext("spec-1"), decision.Context{RiskTier: model.RiskTierT3})

	require.Equal(t, session.StatusTimeout, sess.Status)
	var te *model.SessionTimeoutError
	require.ErrorAs(t, sess.Err, &te)
}

// Fix-targeted: repeated judge failures, guarded through a shared breaker
// registry across independent sessions, must eventually open the breaker —
// the breaker can only do its job if failures are actually recorded against
// it on the non-recovery guarded-call path.
func TestSubmit_RepeatedJudgeFailuresOpenTheCircuitBreaker(t *testing.T) {
	cfg := baseConfig()
	cfg.MinJudgesRequired = 1
	cfg.EnableCircuitBreakers = true
	breakerCfg := breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  time.Minute,
		MonitoringWindow: time.Minute,
		RequestTimeout:   time.Second,
	}
	registry := breaker.NewRegistry(breakerCfg)
	judges := map[string]judge.Judge{"j1": failingJudge("j1")}
	o := newOrchestrator(t, cfg, judges, registry)

	for i := 0; i < breakerCfg.FailureThreshold; i++ {
		rc := reviewContext("spec-" + string(rune('a'+i)))
		sess := o.Submit(context.Background(), "sess-"+string(rune('a'+i)), rc, decision.Context{RiskTier: model.RiskTierT3})
		require.Equal(t, session.StatusFailed, sess.Status)
	}

	assert.Equal(t, breaker.StateOpen, registry.GetOrCreate("llm_service").Stats().State)
}

func TestSubmit_CircuitBreakerWiredThroughErrorRecoveryPath(t *testing.T) {
	cfg := baseConfig()
	cfg.MinJudgesRequired = 1
	cfg.EnableCircuitBreakers = true
	cfg.EnableErrorRecovery = true
	breakerCfg := breaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		RecoveryTimeout:  time.Minute,
		MonitoringWindow: time.Minute,
		RequestTimeout:   time.Second,
	}
	registry := breaker.NewRegistry(breakerCfg)
	judges := map[string]judge.Judge{"j1": failingJudge("j1")}
	o := newOrchestrator(t, cfg, judges, registry)

	for i := 0; i < breakerCfg.FailureThreshold; i++ {
		rc := reviewContext("spec-recovery-" + string(rune('a'+i)))
		o.Submit(context.Background(), "sess-recovery-"+string(rune('a'+i)), rc, decision.Context{RiskTier: model.RiskTierT3})
	}

	assert.Equal(t, breaker.StateOpen, registry.GetOrCreate("llm_service").Stats().State)
}
