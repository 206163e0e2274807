package provenance

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/council/internal/model"
)

// wireRecord mirrors the normative on-wire field list and order.
// signature and git_commit_hash are intentionally excluded, and KeyID is
// not part of the list: the signature covers the canonical JSON
// serialization of the fields below.
type wireRecord struct {
	ID                string                          `json:"id"`
	VerdictID         string                          `json:"verdict_id"`
	TaskID            string                          `json:"task_id"`
	Timestamp         string                          `json:"timestamp"`
	Decision          model.FinalDecision             `json:"decision"`
	ConsensusScore    float32                         `json:"consensus_score"`
	JudgeVerdicts     map[string]model.JudgeVerdict   `json:"judge_verdicts"`
	CAWSCompliance    model.ComplianceSummary          `json:"caws_compliance"`
	ClaimVerification *string                          `json:"claim_verification"`
	GitTrailer        string                          `json:"git_trailer"`
	Metadata          map[string]string               `json:"metadata"`
}

// CanonicalBytes produces the exact byte sequence the Signer signs and
// verifies: deterministic field order (Go's encoding/json preserves
// struct field order) and the signature/git_commit_hash fields omitted.
func CanonicalBytes(record model.ProvenanceRecord) ([]byte, error) {
	wire := wireRecord{
		ID:                record.ID,
		VerdictID:         record.VerdictID,
		TaskID:            record.TaskID,
		Timestamp:         record.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		Decision:          record.Decision,
		ConsensusScore:    record.ConsensusScore,
		JudgeVerdicts:     record.JudgeVerdicts,
		CAWSCompliance:    record.CAWSCompliance,
		ClaimVerification: record.ClaimVerification,
		GitTrailer:        record.GitTrailer,
		Metadata:          record.Metadata,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wire); err != nil {
		return nil, fmt.Errorf("provenance: encode canonical bytes: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
