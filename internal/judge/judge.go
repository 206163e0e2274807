// Package judge defines the Judge contract (C1): a long-lived actor that
// produces one verdict for one working specification under a timeout.
package judge

import (
	"context"

	"github.com/ashita-ai/council/internal/model"
)

// HealthMetrics are the rolling health counters a Judge reports back to
// the selector and the outbound Judge facade.
type HealthMetrics struct {
	ResponseTimeP95Ms uint64
	ErrorRate         float64
	TotalReviews      uint64
	TotalFailures      uint64
}

// Judge is the outbound facade a host implementation must satisfy. A
// judge never mutates shared state and must produce
// deterministic specialization scores given a context. It never retries
// internally — retries are the orchestrator's concern.
type Judge interface {
	ID() string
	Type() model.JudgeType
	IsAvailable() bool
	SpecializationScore(ctx model.ReviewContext) float64
	Review(ctx context.Context, rc model.ReviewContext) (model.JudgeVerdict, error)
	HealthMetrics() HealthMetrics
}

// Failure classifies why Review failed three error
// kinds: the judge itself never retries, but the orchestrator needs to
// know which of {unavailable, external-service, internal} it is dealing
// with in order to decide whether recovery applies.
func Failure(kind model.ErrorKind, judgeID, message string) error {
	return model.NewError(kind, "judge:"+judgeID, message)
}
