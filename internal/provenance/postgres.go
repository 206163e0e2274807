package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/migrations"
)

// ErrNotFound is returned by GetByID when no record exists for the given ID.
var ErrNotFound = errors.New("provenance: not found")

// PostgresBackend is the Backend implementation for production use. It
// wraps a pgxpool.Pool and carries no LISTEN/NOTIFY machinery because the
// council has no live-subscription feature — every council consumer
// polls query_provenance or integrity_check.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pool against dsn and verifies connectivity.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("provenance: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("provenance: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("provenance: ping pool: %w", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresBackend{pool: pool}, nil
}

// applyMigrations runs every embedded *.sql file once, in filename order.
// Each statement uses CREATE TABLE/INDEX IF NOT EXISTS, so re-running this
// against an already-migrated database is a no-op.
func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("provenance: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sqlBytes, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("provenance: read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("provenance: apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Close releases the underlying pool.
func (b *PostgresBackend) Close() { b.pool.Close() }

// Append inserts a new provenance record. The store is append-only: a
// duplicate ID is a programming error, not a conflict to resolve.
func (b *PostgresBackend) Append(ctx context.Context, r model.ProvenanceRecord) error {
	judgeVerdicts, err := json.Marshal(r.JudgeVerdicts)
	if err != nil {
		return fmt.Errorf("provenance: marshal judge verdicts: %w", err)
	}
	decision, err := json.Marshal(r.Decision)
	if err != nil {
		return fmt.Errorf("provenance: marshal decision: %w", err)
	}
	compliance, err := json.Marshal(r.CAWSCompliance)
	if err != nil {
		return fmt.Errorf("provenance: marshal compliance: %w", err)
	}

	_, err = b.pool.Exec(ctx,
		`INSERT INTO provenance_records
		 (id, verdict_id, task_id, ts, decision_kind, decision, consensus_score,
		  judge_verdicts, caws_compliance, claim_verification, git_trailer,
		  git_commit_hash, signature, key_id, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.VerdictID, r.TaskID, r.Timestamp, string(r.Decision.Kind), decision, r.ConsensusScore,
		judgeVerdicts, compliance, r.ClaimVerification, r.GitTrailer,
		r.GitCommitHash, r.Signature, r.KeyID, r.Metadata,
	)
	if err != nil {
		return fmt.Errorf("provenance: append record: %w", err)
	}
	return nil
}

// UpdateCommitHash is the store's one permitted mutation of an existing
// record: attaching the git commit hash post-signing.
func (b *PostgresBackend) UpdateCommitHash(ctx context.Context, id, commitHash string) error {
	tag, err := b.pool.Exec(ctx,
		`UPDATE provenance_records SET git_commit_hash = $1 WHERE id = $2`, commitHash, id)
	if err != nil {
		return fmt.Errorf("provenance: update commit hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("provenance: update commit hash %s: %w", id, ErrNotFound)
	}
	return nil
}

func (b *PostgresBackend) GetByID(ctx context.Context, id string) (model.ProvenanceRecord, error) {
	row := b.pool.QueryRow(ctx,
		`SELECT id, verdict_id, task_id, ts, decision, consensus_score,
		        judge_verdicts, caws_compliance, claim_verification, git_trailer,
		        git_commit_hash, signature, key_id, metadata
		 FROM provenance_records WHERE id = $1`, id)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ProvenanceRecord{}, fmt.Errorf("provenance: get %s: %w", id, ErrNotFound)
		}
		return model.ProvenanceRecord{}, fmt.Errorf("provenance: get by id: %w", err)
	}
	return r, nil
}

// Query implements the query_provenance filter set with offset/limit
// pagination, building the WHERE clause incrementally per filter field.
func (b *PostgresBackend) Query(ctx context.Context, filter Filter) ([]model.ProvenanceRecord, error) {
	query := `SELECT id, verdict_id, task_id, ts, decision, consensus_score,
	                 judge_verdicts, caws_compliance, claim_verification, git_trailer,
	                 git_commit_hash, signature, key_id, metadata
	          FROM provenance_records WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TaskID != "" {
		query += " AND task_id = " + arg(filter.TaskID)
	}
	if filter.VerdictID != "" {
		query += " AND verdict_id = " + arg(filter.VerdictID)
	}
	if filter.DecisionKind != nil {
		query += " AND decision_kind = " + arg(string(*filter.DecisionKind))
	}
	if filter.Since != nil {
		query += " AND ts >= " + arg(*filter.Since)
	}
	if filter.Until != nil {
		query += " AND ts <= " + arg(*filter.Until)
	}
	if filter.JudgeID != "" {
		query += " AND judge_verdicts ? " + arg(filter.JudgeID)
	}
	if filter.ComplianceStatus != nil {
		query += " AND (caws_compliance->>'is_compliant')::boolean = " + arg(complianceToBool(*filter.ComplianceStatus))
	}

	query += " ORDER BY ts DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT " + arg(limit) + " OFFSET " + arg(filter.Offset)

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("provenance: query: %w", err)
	}
	defer rows.Close()

	var out []model.ProvenanceRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("provenance: scan query row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func complianceToBool(status model.ComplianceStatus) bool {
	return status == model.ComplianceCompliant
}

// Stats implements statistics summary over a time range.
func (b *PostgresBackend) Stats(ctx context.Context, since, until time.Time) (Stats, error) {
	var s Stats
	err := b.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE decision_kind = 'proceed'),
		        coalesce(avg(consensus_score), 0),
		        coalesce(avg((caws_compliance->>'compliance_score')::float8), 0),
		        coalesce(min(ts), now()), coalesce(max(ts), now())
		 FROM provenance_records WHERE ts >= $1 AND ts <= $2`,
		since, until,
	).Scan(&s.TotalRecords, &s.TotalVerdicts, &s.AverageConsensusScore, &s.AverageComplianceScore, &s.CoveredFrom, &s.CoveredUntil)
	if err != nil {
		return Stats{}, fmt.Errorf("provenance: stats: %w", err)
	}
	if s.TotalRecords > 0 {
		s.AcceptanceRate = float64(s.TotalVerdicts) / float64(s.TotalRecords)
	}

	rows, err := b.pool.Query(ctx,
		`SELECT jv.key, count(*) FROM provenance_records, jsonb_each(judge_verdicts) AS jv(key, value)
		 WHERE ts >= $1 AND ts <= $2 GROUP BY jv.key ORDER BY count(*) DESC LIMIT 1`,
		since, until)
	if err == nil {
		defer rows.Close()
		if rows.Next() {
			var judgeID string
			var n int
			if err := rows.Scan(&judgeID, &n); err == nil {
				s.MostActiveJudge = judgeID
			}
		}
	}

	return s, nil
}

func (b *PostgresBackend) DeleteByID(ctx context.Context, id string) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM provenance_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("provenance: delete by id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("provenance: delete %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.ProvenanceRecord, error) {
	var r model.ProvenanceRecord
	var decision, judgeVerdicts, compliance []byte

	err := row.Scan(&r.ID, &r.VerdictID, &r.TaskID, &r.Timestamp, &decision, &r.ConsensusScore,
		&judgeVerdicts, &compliance, &r.ClaimVerification, &r.GitTrailer,
		&r.GitCommitHash, &r.Signature, &r.KeyID, &r.Metadata)
	if err != nil {
		return model.ProvenanceRecord{}, err
	}

	if err := json.Unmarshal(decision, &r.Decision); err != nil {
		return model.ProvenanceRecord{}, fmt.Errorf("provenance: unmarshal decision: %w", err)
	}
	if err := json.Unmarshal(judgeVerdicts, &r.JudgeVerdicts); err != nil {
		return model.ProvenanceRecord{}, fmt.Errorf("provenance: unmarshal judge verdicts: %w", err)
	}
	if err := json.Unmarshal(compliance, &r.CAWSCompliance); err != nil {
		return model.ProvenanceRecord{}, fmt.Errorf("provenance: unmarshal compliance: %w", err)
	}
	return r, nil
}
