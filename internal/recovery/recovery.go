// Package recovery implements the Recovery Orchestrator (C4): given an
// ErrorKind, an attempt number, and whether a degradation policy exists, it
// decides whether to retry, degrade, or give up, following an "attempt
// recovery, then retry exactly once more before giving up" shape.
package recovery

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ashita-ai/council/internal/breaker"
	"github.com/ashita-ai/council/internal/degradation"
	"github.com/ashita-ai/council/internal/model"
)

// Action is the recovery decision for one failed attempt.
type Action int

const (
	// ActionGiveUp means no further recovery is possible; the caller
	// should surface the failure (and, for a judge, proceed without its
	// contribution if quorum allows).
	ActionGiveUp Action = iota
	// ActionRetry means the same call should be attempted again after
	// Backoff elapses.
	ActionRetry
	// ActionDegrade means the component's degradation.Policy should step
	// down one level; Attempt does so and then returns the error without
	// another call.
	ActionDegrade
)

// Decision is the pure output of Decide: what to do and how long to wait
// before doing it.
type Decision struct {
	Action  Action
	Backoff time.Duration
}

// MaxAttempts bounds the retry-then-give-up shape: one retry after the
// first failure, per the single-retry policy.
const MaxAttempts = 2

// Decide is a pure function of (error kind, attempt number, whether a
// degradation policy exists for this component): no I/O, no clock reads
// beyond the jitter source, so it is trivially unit-testable. Validation,
// signature, and integrity-violation errors are never recoverable — they
// indicate a malformed request or tampering, not transient failure.
func Decide(kind model.ErrorKind, attempt int, hasDegradationPolicy bool) Decision {
	switch kind {
	case model.ErrorKindValidation, model.ErrorKindSignature, model.ErrorKindIntegrityViolation,
		model.ErrorKindPolicyViolation, model.ErrorKindQuorumFailure, model.ErrorKindSessionTimeout:
		return Decision{Action: ActionGiveUp}
	case model.ErrorKindCircuitBreakerOpen:
		if hasDegradationPolicy {
			return Decision{Action: ActionDegrade}
		}
		return Decision{Action: ActionGiveUp}
	case model.ErrorKindJudgeUnavailable, model.ErrorKindJudgeTimeout, model.ErrorKindExternalService, model.ErrorKindStorage:
		if attempt >= MaxAttempts {
			if hasDegradationPolicy {
				return Decision{Action: ActionDegrade}
			}
			return Decision{Action: ActionGiveUp}
		}
		return Decision{Action: ActionRetry, Backoff: backoffFor(attempt)}
	default:
		return Decision{Action: ActionGiveUp}
	}
}

func backoffFor(attempt int) time.Duration {
	base := 200 * time.Millisecond * time.Duration(1<<uint(attempt-1)) //nolint:gosec // attempt is bounded by MaxAttempts
	jitter := time.Duration(rand.Int64N(int64(base)))
	return base + jitter
}

// Attempt is the imperative wrapper Decide is built for: it runs fn,
// consulting a per-downstream Breaker before each call and an optional
// Policy when Decide says to degrade. Attempt records every failed call
// against br; a final success is left for the caller to record, since
// the caller also guards non-recovery calls through the same breaker.
func Attempt(ctx context.Context, br *breaker.Breaker, pol *degradation.Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if br != nil && !br.Allow() {
			lastErr = br.OpenError()
		} else {
			lastErr = fn(ctx)
			if lastErr == nil {
				return nil
			}
			if br != nil {
				br.RecordFailure()
			}
		}

		dec := Decide(model.KindOf(lastErr), attempt, pol != nil)
		switch dec.Action {
		case ActionRetry:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(dec.Backoff):
			}
		case ActionDegrade:
			if pol != nil {
				pol.StepDown()
			}
			return lastErr
		case ActionGiveUp:
			return lastErr
		}
	}
	return lastErr
}
