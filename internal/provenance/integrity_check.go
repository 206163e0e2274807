package provenance

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/signing"
)

// IssueKind is the closed set of integrity issue tags.
type IssueKind string

const (
	IssueSignatureInvalid    IssueKind = "SignatureInvalid"
	IssueGitTrailerCorrupted IssueKind = "GitTrailerCorrupted"
	IssueGitCommitMissing    IssueKind = "GitCommitMissing"
	IssueTimestampInconsistent IssueKind = "TimestampInconsistent"
)

// IssueSeverity mirrors each IssueKind's fixed severity:
// SignatureInvalid=Critical, GitTrailerCorrupted=Major,
// GitCommitMissing=Minor, TimestampInconsistent=Warning.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityMajor    IssueSeverity = "major"
	SeverityMinor    IssueSeverity = "minor"
	SeverityWarning  IssueSeverity = "warning"
)

var issueSeverities = map[IssueKind]IssueSeverity{
	IssueSignatureInvalid:      SeverityCritical,
	IssueGitTrailerCorrupted:   SeverityMajor,
	IssueGitCommitMissing:      SeverityMinor,
	IssueTimestampInconsistent: SeverityWarning,
}

// Issue is one finding from an integrity check pass.
type Issue struct {
	RecordID string
	Kind     IssueKind
	Severity IssueSeverity
	Detail   string
}

// Report is the result of a full integrity check pass over a backend.
type Report struct {
	IsValid        bool
	Issues         []Issue
	CheckedRecords int
	CheckedAt      time.Time
}

// TrailerVerifier is the subset of the Git Trailer Bridge facade (C10)
// the integrity checker needs: confirming a commit's trailer matches an
// expected value.
type TrailerVerifier interface {
	VerifyTrailer(ctx context.Context, commitHash, expectedTrailer string) (bool, error)
}

// BatchSize is the default page size for an integrity check pass.
const BatchSize = 1000

// CheckIntegrity iterates every record in backend in batches of
// BatchSize, verifying each one's signature, git trailer (if present),
// and timestamp freshness.
func CheckIntegrity(ctx context.Context, backend Backend, signer *signing.Signer, trailers TrailerVerifier, checkedAt time.Time) (Report, error) {
	report := Report{IsValid: true, CheckedAt: checkedAt}

	offset := 0
	for {
		batch, err := backend.Query(ctx, Filter{Limit: BatchSize, Offset: offset})
		if err != nil {
			return Report{}, fmt.Errorf("provenance: integrity check query: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, record := range batch {
			report.CheckedRecords++
			issues := checkRecord(ctx, record, signer, trailers, checkedAt)
			report.Issues = append(report.Issues, issues...)
		}

		if len(batch) < BatchSize {
			break
		}
		offset += BatchSize
	}

	for _, issue := range report.Issues {
		if issue.Severity == SeverityCritical {
			report.IsValid = false
			break
		}
	}
	return report, nil
}

func checkRecord(ctx context.Context, record model.ProvenanceRecord, signer *signing.Signer, trailers TrailerVerifier, checkedAt time.Time) []Issue {
	var issues []Issue

	canonical, err := CanonicalBytes(record)
	if err != nil || signer == nil || !signer.Verify(canonical, record.Signature) {
		issues = append(issues, newIssue(record.ID, IssueSignatureInvalid, "signature does not verify against canonical bytes"))
	}

	if record.GitCommitHash != nil {
		if trailers == nil {
			issues = append(issues, newIssue(record.ID, IssueGitTrailerCorrupted, "no trailer verifier configured to confirm recorded commit"))
		} else {
			ok, err := trailers.VerifyTrailer(ctx, *record.GitCommitHash, record.GitTrailer)
			if err != nil || !ok {
				issues = append(issues, newIssue(record.ID, IssueGitTrailerCorrupted, "git trailer does not match recorded commit"))
			}
		}
	} else if record.GitTrailer != "" {
		issues = append(issues, newIssue(record.ID, IssueGitCommitMissing, "git trailer recorded without a commit hash"))
	}

	skew := checkedAt.Sub(record.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > time.Hour {
		issues = append(issues, newIssue(record.ID, IssueTimestampInconsistent, "record timestamp skew exceeds one hour"))
	}

	return issues
}

func newIssue(recordID string, kind IssueKind, detail string) Issue {
	return Issue{RecordID: recordID, Kind: kind, Severity: issueSeverities[kind], Detail: detail}
}
