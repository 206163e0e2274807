package provenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/ashita-ai/council/internal/model"
)

// SQLiteBackend is the embeddable Backend used for local development and
// integration tests where standing up Postgres is overkill. It stores
// each record as a JSON blob alongside the indexed columns the Filter
// predicates need, trading query sophistication for zero operational
// footprint.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and creates, if absent) the schema at path —
// pass ":memory:" for a purely in-process store.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("provenance: open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS provenance_records (
		id TEXT PRIMARY KEY,
		verdict_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		decision_kind TEXT NOT NULL,
		consensus_score REAL NOT NULL,
		compliance_score REAL NOT NULL,
		payload TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("provenance: create schema: %w", err)
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_provenance_records_task_id ON provenance_records (task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_provenance_records_verdict_id ON provenance_records (verdict_id)`,
		`CREATE INDEX IF NOT EXISTS idx_provenance_records_decision_kind ON provenance_records (decision_kind)`,
		`CREATE INDEX IF NOT EXISTS idx_provenance_records_ts ON provenance_records (ts)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("provenance: create index: %w", err)
		}
	}
	return &SQLiteBackend{db: db}, nil
}

// Close releases the underlying database handle.
func (b *SQLiteBackend) Close() error { return b.db.Close() }

func (b *SQLiteBackend) Append(ctx context.Context, r model.ProvenanceRecord) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("provenance: marshal record: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO provenance_records (id, verdict_id, task_id, ts, decision_kind, consensus_score, compliance_score, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.VerdictID, r.TaskID, r.Timestamp.UTC().Format(time.RFC3339Nano), string(r.Decision.Kind),
		r.ConsensusScore, r.CAWSCompliance.ComplianceScore, string(payload))
	if err != nil {
		return fmt.Errorf("provenance: append record: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) UpdateCommitHash(ctx context.Context, id, commitHash string) error {
	rec, err := b.GetByID(ctx, id)
	if err != nil {
		return err
	}
	rec.GitCommitHash = &commitHash
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("provenance: marshal updated record: %w", err)
	}
	res, err := b.db.ExecContext(ctx, `UPDATE provenance_records SET payload = ? WHERE id = ?`, string(payload), id)
	if err != nil {
		return fmt.Errorf("provenance: update commit hash: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("provenance: update commit hash %s: %w", id, ErrNotFound)
	}
	return nil
}

func (b *SQLiteBackend) GetByID(ctx context.Context, id string) (model.ProvenanceRecord, error) {
	var payload string
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM provenance_records WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return model.ProvenanceRecord{}, fmt.Errorf("provenance: get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ProvenanceRecord{}, fmt.Errorf("provenance: get by id: %w", err)
	}
	var r model.ProvenanceRecord
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return model.ProvenanceRecord{}, fmt.Errorf("provenance: unmarshal record: %w", err)
	}
	return r, nil
}

// Query applies the portion of Filter that maps onto indexed columns
// (task, verdict, decision kind, time range) in SQL, then applies the
// remaining predicates (judge participation, compliance status) and
// pagination in memory — acceptable for a dev-scale backend.
func (b *SQLiteBackend) Query(ctx context.Context, filter Filter) ([]model.ProvenanceRecord, error) {
	query := `SELECT payload FROM provenance_records WHERE 1=1`
	var args []any

	if filter.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, filter.TaskID)
	}
	if filter.VerdictID != "" {
		query += " AND verdict_id = ?"
		args = append(args, filter.VerdictID)
	}
	if filter.DecisionKind != nil {
		query += " AND decision_kind = ?"
		args = append(args, string(*filter.DecisionKind))
	}
	if filter.Since != nil {
		query += " AND ts >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if filter.Until != nil {
		query += " AND ts <= ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY ts DESC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("provenance: query: %w", err)
	}
	defer rows.Close()

	var all []model.ProvenanceRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("provenance: scan query row: %w", err)
		}
		var r model.ProvenanceRecord
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("provenance: unmarshal query row: %w", err)
		}
		if filter.JudgeID != "" {
			if _, ok := r.JudgeVerdicts[filter.JudgeID]; !ok {
				continue
			}
		}
		if filter.ComplianceStatus != nil && complianceToBool(*filter.ComplianceStatus) != r.CAWSCompliance.IsCompliant {
			continue
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := filter.Offset
	if offset > len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (b *SQLiteBackend) Stats(ctx context.Context, since, until time.Time) (Stats, error) {
	records, err := b.Query(ctx, Filter{Since: &since, Until: &until, Limit: 1000})
	if err != nil {
		return Stats{}, err
	}

	s := Stats{CoveredFrom: since, CoveredUntil: until}
	if len(records) == 0 {
		return s, nil
	}

	judgeCounts := make(map[string]int)
	var sumConsensus, sumCompliance float64
	for _, r := range records {
		s.TotalRecords++
		if r.Decision.Kind == model.FinalProceed {
			s.TotalVerdicts++
		}
		sumConsensus += float64(r.ConsensusScore)
		sumCompliance += r.CAWSCompliance.ComplianceScore
		for judgeID := range r.JudgeVerdicts {
			judgeCounts[judgeID]++
		}
	}
	s.AcceptanceRate = float64(s.TotalVerdicts) / float64(s.TotalRecords)
	s.AverageConsensusScore = sumConsensus / float64(s.TotalRecords)
	s.AverageComplianceScore = sumCompliance / float64(s.TotalRecords)

	var best string
	var bestCount int
	for judgeID, n := range judgeCounts {
		if n > bestCount {
			best, bestCount = judgeID, n
		}
	}
	s.MostActiveJudge = best

	return s, nil
}

func (b *SQLiteBackend) DeleteByID(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM provenance_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("provenance: delete by id: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("provenance: delete %s: %w", id, ErrNotFound)
	}
	return nil
}
