package recovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/breaker"
	"github.com/ashita-ai/council/internal/degradation"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/recovery"
)

func TestDecide_NeverRecoverableKinds(t *testing.T) {
	kinds := []model.ErrorKind{
		model.ErrorKindValidation,
		model.ErrorKindSignature,
		model.ErrorKindIntegrityViolation,
		model.ErrorKindPolicyViolation,
		model.ErrorKindQuorumFailure,
		model.ErrorKindSessionTimeout,
	}
	for _, k := range kinds {
		dec := recovery.Decide(k, 1, true)
		assert.Equal(t, recovery.ActionGiveUp, dec.Action, "kind %v should never recover", k)
	}
}

func TestDecide_CircuitBreakerOpen(t *testing.T) {
	withPolicy := recovery.Decide(model.ErrorKindCircuitBreakerOpen, 1, true)
	assert.Equal(t, recovery.ActionDegrade, withPolicy.Action)

	withoutPolicy := recovery.Decide(model.ErrorKindCircuitBreakerOpen, 1, false)
	assert.Equal(t, recovery.ActionGiveUp, withoutPolicy.Action)
}

func TestDecide_TransientRetriesThenDegradesOrGivesUp(t *testing.T) {
	kinds := []model.ErrorKind{
		model.ErrorKindJudgeUnavailable,
		model.ErrorKindJudgeTimeout,
		model.ErrorKindExternalService,
		model.ErrorKindStorage,
	}
	for _, k := range kinds {
		first := recovery.Decide(k, 1, true)
		require.Equal(t, recovery.ActionRetry, first.Action, "kind %v attempt 1", k)
		assert.Greater(t, first.Backoff, time.Duration(0))

		exhaustedWithPolicy := recovery.Decide(k, recovery.MaxAttempts, true)
		assert.Equal(t, recovery.ActionDegrade, exhaustedWithPolicy.Action, "kind %v exhausted with policy", k)

		exhaustedNoPolicy := recovery.Decide(k, recovery.MaxAttempts, false)
		assert.Equal(t, recovery.ActionGiveUp, exhaustedNoPolicy.Action, "kind %v exhausted without policy", k)
	}
}

func breakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		RecoveryTimeout:  time.Minute,
		MonitoringWindow: 5 * time.Minute,
		RequestTimeout:   time.Second,
	}
}

var errJudgeUnavailable = model.NewError(model.ErrorKindJudgeUnavailable, "judge:test", "judge unavailable")

// Scenario S5 / testable property #7: a failed guarded call records
// against the breaker, so repeated failures eventually open it.
func TestAttempt_RecordsFailureAgainstBreaker(t *testing.T) {
	b := breaker.New("llm_service", breakerConfig())

	for i := 0; i < breakerConfig().FailureThreshold; i++ {
		err := recovery.Attempt(context.Background(), b, nil, func(context.Context) error {
			return errJudgeUnavailable
		})
		require.Error(t, err)
	}

	assert.Equal(t, breaker.StateOpen, b.Stats().State)
}

func TestAttempt_SuccessNeverRecordsFailure(t *testing.T) {
	b := breaker.New("llm_service", breakerConfig())

	err := recovery.Attempt(context.Background(), b, nil, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, b.Stats().State)
	assert.Zero(t, b.Stats().FailuresInWindow)
}

func TestAttempt_RetriesOnceBeforeGivingUp(t *testing.T) {
	b := breaker.New("llm_service", breakerConfig())
	attempts := 0

	err := recovery.Attempt(context.Background(), b, nil, func(context.Context) error {
		attempts++
		return errJudgeUnavailable
	})

	require.Error(t, err)
	assert.Equal(t, recovery.MaxAttempts, attempts)
}

func TestAttempt_DegradesWhenPolicyAvailable(t *testing.T) {
	b := breaker.New("llm_service", breakerConfig())
	pol := degradation.NewPolicy("llm_service_judge",
		degradation.Level{Name: "reduced", Description: "skip optional checks"},
		degradation.Level{Name: "minimal", Description: "mandatory checks only"},
	)

	err := recovery.Attempt(context.Background(), b, pol, func(context.Context) error {
		return errJudgeUnavailable
	})

	require.Error(t, err)
	level, ok := pol.Current()
	require.True(t, ok)
	assert.Equal(t, "reduced", level.Name)
}

func TestAttempt_OpenBreakerShortCircuits(t *testing.T) {
	cfg := breakerConfig()
	cfg.FailureThreshold = 1
	b := breaker.New("llm_service", cfg)
	b.RecordFailure()
	require.Equal(t, breaker.StateOpen, b.Stats().State)

	calls := 0
	err := recovery.Attempt(context.Background(), b, nil, func(context.Context) error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.Zero(t, calls, "fn must never run while the breaker is open")
}
