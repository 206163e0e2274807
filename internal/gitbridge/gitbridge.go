// Package gitbridge implements the Git Trailer Bridge (C10): an optional
// component that commits a CAWS trailer encoding verdict metadata into
// the enclosing repository. Failure here is never
// fatal to a session.
package gitbridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/ashita-ai/council/internal/model"
)

// TrailerKey is the commit-message trailer key used to encode verdict
// metadata, following the "Key: value" git trailer convention.
const TrailerKey = "CAWS-Verdict"

// Bridge commits provenance trailers into a target repository.
type Bridge struct {
	repo       *git.Repository
	authorName string
	authorMail string
}

// Open opens the git repository rooted at path. If no repository is
// present, Open returns an error; callers should treat a missing
// repository as "bridge unavailable" and proceed without it, per the
// bridge's "optional" designation.
func Open(path, authorName, authorMail string) (*Bridge, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("gitbridge: open repository: %w", err)
	}
	return &Bridge{repo: repo, authorName: authorName, authorMail: authorMail}, nil
}

// BuildTrailer encodes the fields requires: verdict id
// consensus and compliance scores, and a decision summary.
func BuildTrailer(record model.ProvenanceRecord, summary string) string {
	return fmt.Sprintf("%s: verdict=%s consensus=%s compliance=%s summary=%q",
		TrailerKey, record.VerdictID,
		strconv.FormatFloat(float64(record.ConsensusScore), 'f', 3, 32),
		strconv.FormatFloat(record.CAWSCompliance.ComplianceScore, 'f', 3, 64),
		summary)
}

// CreateProvenanceCommit creates a commit on the repository's current
// HEAD whose message carries message plus the CAWS trailer, returning
// the new commit's hash. It commits the working tree as-is (an empty
// commit if nothing changed) since the bridge's purpose is to anchor
// provenance into git history, not to record a code change.
func (b *Bridge) CreateProvenanceCommit(ctx context.Context, message, trailer string) (string, error) {
	wt, err := b.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("gitbridge: worktree: %w", err)
	}

	fullMessage := message + "\n\n" + trailer + "\n"
	hash, err := wt.Commit(fullMessage, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  b.authorName,
			Email: b.authorMail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("gitbridge: commit: %w", err)
	}
	return hash.String(), nil
}

// VerifyTrailer reports whether the commit at commitHash carries a
// message containing expectedTrailer, satisfying the integrity checker's
// GitTrailerCorrupted check.
func (b *Bridge) VerifyTrailer(ctx context.Context, commitHash, expectedTrailer string) (bool, error) {
	commit, err := b.repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		return false, fmt.Errorf("gitbridge: lookup commit %s: %w", commitHash, err)
	}
	return strings.Contains(commit.Message, expectedTrailer), nil
}
