package provenance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/provenance"
	"github.com/ashita-ai/council/internal/signing"
)

func sampleRecord(id string) model.ProvenanceRecord {
	return model.ProvenanceRecord{
		ID:        id,
		VerdictID: "verdict-" + id,
		TaskID:    "task-1",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Decision:  model.FinalDecision{Kind: model.FinalProceed, Confidence: 0.9},
		ConsensusScore: 0.85,
		JudgeVerdicts: map[string]model.JudgeVerdict{
			"j1": {Kind: model.VerdictApprove, Confidence: 0.9},
		},
		CAWSCompliance: model.ComplianceSummary{IsCompliant: true, ComplianceScore: 1},
		GitTrailer:     "",
		Metadata:       map[string]string{"source": "test"},
	}
}

func newBackend(t *testing.T) *provenance.SQLiteBackend {
	t.Helper()
	b, err := provenance.NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteBackend_AppendAndGetByID(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	rec := sampleRecord("rec-1")

	require.NoError(t, b.Append(ctx, rec))

	got, err := b.GetByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.VerdictID, got.VerdictID)
	assert.Equal(t, rec.Decision.Kind, got.Decision.Kind)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp))
}

func TestSQLiteBackend_GetByIDNotFound(t *testing.T) {
	b := newBackend(t)
	_, err := b.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, provenance.ErrNotFound)
}

func TestSQLiteBackend_UpdateCommitHash(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Append(ctx, sampleRecord("rec-1")))

	require.NoError(t, b.UpdateCommitHash(ctx, "rec-1", "abc123"))

	got, err := b.GetByID(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got.GitCommitHash)
	assert.Equal(t, "abc123", *got.GitCommitHash)
}

func TestSQLiteBackend_UpdateCommitHashNotFound(t *testing.T) {
	b := newBackend(t)
	err := b.UpdateCommitHash(context.Background(), "missing", "abc123")
	require.ErrorIs(t, err, provenance.ErrNotFound)
}

func TestSQLiteBackend_QueryFiltersByTaskAndOrdersByTimeDesc(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	older := sampleRecord("rec-1")
	older.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := sampleRecord("rec-2")
	newer.Timestamp = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	other := sampleRecord("rec-3")
	other.TaskID = "task-2"

	require.NoError(t, b.Append(ctx, older))
	require.NoError(t, b.Append(ctx, newer))
	require.NoError(t, b.Append(ctx, other))

	results, err := b.Query(ctx, provenance.Filter{TaskID: "task-1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "rec-2", results[0].ID)
	assert.Equal(t, "rec-1", results[1].ID)
}

func TestSQLiteBackend_DeleteByID(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Append(ctx, sampleRecord("rec-1")))

	require.NoError(t, b.DeleteByID(ctx, "rec-1"))

	_, err := b.GetByID(ctx, "rec-1")
	require.ErrorIs(t, err, provenance.ErrNotFound)
}

func TestSQLiteBackend_DeleteByIDNotFound(t *testing.T) {
	b := newBackend(t)
	err := b.DeleteByID(context.Background(), "missing")
	require.ErrorIs(t, err, provenance.ErrNotFound)
}

func TestSQLiteBackend_StatsComputesAcceptanceRateAndAverages(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	proceed := sampleRecord("rec-1")
	proceed.ConsensusScore = 0.8
	proceed.CAWSCompliance.ComplianceScore = 0.9

	rejected := sampleRecord("rec-2")
	rejected.Decision = model.FinalDecision{Kind: model.FinalReject}
	rejected.ConsensusScore = 0.4
	rejected.CAWSCompliance.ComplianceScore = 0.5

	require.NoError(t, b.Append(ctx, proceed))
	require.NoError(t, b.Append(ctx, rejected))

	stats, err := b.Stats(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 1, stats.TotalVerdicts)
	assert.InDelta(t, 0.5, stats.AcceptanceRate, 1e-9)
	// ConsensusScore is a float32, so the average is taken over the float32
	// values of 0.8 and 0.4, not over the exact decimals.
	assert.InDelta(t, (float64(float32(0.8))+float64(float32(0.4)))/2, stats.AverageConsensusScore, 1e-9)
}

// CanonicalBytes is the round-trip law underlying every signature: the
// same logical record always produces identical bytes, and signature or
// git_commit_hash never leak into what gets signed.
func TestCanonicalBytes_DeterministicAndExcludesSignatureFields(t *testing.T) {
	rec := sampleRecord("rec-1")
	rec.Signature = []byte("ignore-me")
	commitHash := "should-not-appear"
	rec.GitCommitHash = &commitHash

	first, err := provenance.CanonicalBytes(rec)
	require.NoError(t, err)
	second, err := provenance.CanonicalBytes(rec)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotContains(t, string(first), "ignore-me")
	assert.NotContains(t, string(first), "should-not-appear")
}

type fakeTrailerVerifier struct {
	ok  bool
	err error
}

func (f fakeTrailerVerifier) VerifyTrailer(context.Context, string, string) (bool, error) {
	return f.ok, f.err
}

func TestCheckIntegrity_ValidSignedRecordProducesCleanReport(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	signer, err := signing.NewEdDSASigner("key-1", "", "")
	require.NoError(t, err)

	rec := sampleRecord("rec-1")
	rec.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	canonical, err := provenance.CanonicalBytes(rec)
	require.NoError(t, err)
	sig, err := signer.Sign(canonical)
	require.NoError(t, err)
	rec.Signature = sig

	require.NoError(t, b.Append(ctx, rec))

	report, err := provenance.CheckIntegrity(ctx, b, signer, nil, rec.Timestamp)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, 1, report.CheckedRecords)
	for _, issue := range report.Issues {
		assert.NotEqual(t, provenance.IssueSignatureInvalid, issue.Kind)
	}
}

func TestCheckIntegrity_FlagsInvalidSignatureAsCritical(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	signer, err := signing.NewEdDSASigner("key-1", "", "")
	require.NoError(t, err)

	rec := sampleRecord("rec-1")
	rec.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec.Signature = []byte("not-a-real-signature")
	require.NoError(t, b.Append(ctx, rec))

	report, err := provenance.CheckIntegrity(ctx, b, signer, nil, rec.Timestamp)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, provenance.IssueSignatureInvalid, report.Issues[0].Kind)
	assert.Equal(t, provenance.SeverityCritical, report.Issues[0].Severity)
}

func TestCheckIntegrity_FlagsTimestampSkewAsWarning(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	signer, err := signing.NewEdDSASigner("key-1", "", "")
	require.NoError(t, err)

	rec := sampleRecord("rec-1")
	rec.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	canonical, err := provenance.CanonicalBytes(rec)
	require.NoError(t, err)
	sig, err := signer.Sign(canonical)
	require.NoError(t, err)
	rec.Signature = sig
	require.NoError(t, b.Append(ctx, rec))

	checkedAt := rec.Timestamp.Add(3 * time.Hour)
	report, err := provenance.CheckIntegrity(ctx, b, signer, nil, checkedAt)
	require.NoError(t, err)

	var found bool
	for _, issue := range report.Issues {
		if issue.Kind == provenance.IssueTimestampInconsistent {
			found = true
			assert.Equal(t, provenance.SeverityWarning, issue.Severity)
		}
	}
	assert.True(t, found, "expected a timestamp-inconsistent issue")
	assert.True(t, report.IsValid, "a warning-severity issue alone must not invalidate the report")
}

func TestCheckIntegrity_FlagsGitTrailerMismatch(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	signer, err := signing.NewEdDSASigner("key-1", "", "")
	require.NoError(t, err)

	rec := sampleRecord("rec-1")
	rec.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	commitHash := "abc123"
	rec.GitCommitHash = &commitHash
	rec.GitTrailer = "Council-Verdict: rec-1"
	canonical, err := provenance.CanonicalBytes(rec)
	require.NoError(t, err)
	sig, err := signer.Sign(canonical)
	require.NoError(t, err)
	rec.Signature = sig
	require.NoError(t, b.Append(ctx, rec))

	report, err := provenance.CheckIntegrity(ctx, b, signer, fakeTrailerVerifier{ok: false}, rec.Timestamp)
	require.NoError(t, err)

	var found bool
	for _, issue := range report.Issues {
		if issue.Kind == provenance.IssueGitTrailerCorrupted {
			found = true
		}
	}
	assert.True(t, found, "expected a git-trailer-corrupted issue when the verifier rejects the trailer")
}

func TestCheckIntegrity_FlagsGitTrailerWithoutCommitHash(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	signer, err := signing.NewEdDSASigner("key-1", "", "")
	require.NoError(t, err)

	rec := sampleRecord("rec-1")
	rec.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec.GitTrailer = "Council-Verdict: rec-1"
	canonical, err := provenance.CanonicalBytes(rec)
	require.NoError(t, err)
	sig, err := signer.Sign(canonical)
	require.NoError(t, err)
	rec.Signature = sig
	require.NoError(t, b.Append(ctx, rec))

	report, err := provenance.CheckIntegrity(ctx, b, signer, nil, rec.Timestamp)
	require.NoError(t, err)

	var found bool
	for _, issue := range report.Issues {
		if issue.Kind == provenance.IssueGitCommitMissing {
			found = true
			assert.Equal(t, provenance.SeverityMinor, issue.Severity)
		}
	}
	assert.True(t, found, "expected a git-commit-missing issue")
}
