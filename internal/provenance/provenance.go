// Package provenance implements the Provenance Store (C9): an
// append-only, queryable, integrity-checkable record of every council
// verdict. The store is backend-agnostic; Backend is
// the seam a Postgres or SQLite implementation plugs into.
package provenance

import (
	"context"
	"time"

	"github.com/ashita-ai/council/internal/model"
)

// Filter bounds a Query call's result set.
type Filter struct {
	TaskID           string
	VerdictID        string
	DecisionKind     *model.FinalDecisionKind
	Since            *time.Time
	Until            *time.Time
	JudgeID          string
	ComplianceStatus *model.ComplianceStatus
	Limit            int
	Offset           int
}

// Stats summarizes a population of provenance records.
type Stats struct {
	TotalRecords              int
	TotalVerdicts             int
	AcceptanceRate            float64
	AverageConsensusScore     float64
	AverageComplianceScore    float64
	AverageVerificationQuality float64
	MostActiveJudge           string
	TopViolations             []ViolationFrequency
	CoveredFrom               time.Time
	CoveredUntil              time.Time
}

// ViolationFrequency is one entry in Stats.TopViolations.
type ViolationFrequency struct {
	Violation string
	Count     int
	Severity  string
}

// Backend is the outbound facade a storage implementation must satisfy:
// append, update the commit hash, fetch by ID, query by filter, compute
// stats over a time range, and delete by ID.
type Backend interface {
	Append(ctx context.Context, record model.ProvenanceRecord) error
	UpdateCommitHash(ctx context.Context, id, commitHash string) error
	GetByID(ctx context.Context, id string) (model.ProvenanceRecord, error)
	Query(ctx context.Context, filter Filter) ([]model.ProvenanceRecord, error)
	Stats(ctx context.Context, since, until time.Time) (Stats, error)
	DeleteByID(ctx context.Context, id string) error
}
