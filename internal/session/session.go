// Package session implements the Council Session (C11): the
// orchestration loop that drives one WorkingSpec from submission through
// judge selection, parallel review, aggregation, decision, and signed
// provenance.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/council/internal/aggregator"
	"github.com/ashita-ai/council/internal/breaker"
	"github.com/ashita-ai/council/internal/decision"
	"github.com/ashita-ai/council/internal/degradation"
	"github.com/ashita-ai/council/internal/gitbridge"
	"github.com/ashita-ai/council/internal/judge"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/provenance"
	"github.com/ashita-ai/council/internal/recovery"
	"github.com/ashita-ai/council/internal/selector"
	"github.com/ashita-ai/council/internal/signing"
)

// Status is the closed set of session states.
type Status string

const (
	StatusInitialized           Status = "initialized"
	StatusJudgeSelection        Status = "judge_selection"
	StatusReviewInProgress      Status = "review_in_progress"
	StatusAggregationInProgress Status = "aggregation_in_progress"
	StatusDecisionMaking        Status = "decision_making"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusTimeout               Status = "timeout"
)

// Config parameterizes one Orchestrator, drawn from the closed
// configuration surface.
type Config struct {
	SessionTimeout            time.Duration
	JudgeTimeout              time.Duration
	MinJudgesRequired         int
	MaxJudgesPerSession       int
	SelectionStrategy         selector.Strategy
	EnableParallelReviews     bool
	EnableCircuitBreakers     bool
	EnableGracefulDegradation bool
	EnableErrorRecovery       bool
	AutoCommitToGit           bool
	Aggregation               aggregator.Config
	Engine                    decision.ConsensusStrategy
}

// Orchestrator runs review sessions. It holds the wiring to every other
// component — judge pool, selector, aggregator, decision engine, signer,
// provenance store, and (optionally) a git bridge — and is safe for
// concurrent use by multiple sessions, which execute in parallel. The
// Orchestrator itself places no limit on how many sessions run at once.
type Orchestrator struct {
	cfg       Config
	judges    map[string]judge.Judge
	selector  *selector.Selector
	breakers  *breaker.Registry
	degrades  *degradation.Table
	signer    *signing.Signer
	store     provenance.Backend
	gitBridge *gitbridge.Bridge // nil if unavailable

	mu          sync.RWMutex
	idempotency sync.Map // map[string]idempotencyEntry, scoped to this Orchestrator
}

// New constructs an Orchestrator. gitBridge may be nil: git anchoring is
// optional and its absence is never fatal to a session.
func New(cfg Config, judges map[string]judge.Judge, breakers *breaker.Registry, degrades *degradation.Table, signer *signing.Signer, store provenance.Backend, gitBridge *gitbridge.Bridge) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		judges:    judges,
		selector:  selector.New(),
		breakers:  breakers,
		degrades:  degrades,
		signer:    signer,
		store:     store,
		gitBridge: gitBridge,
	}
}

// Session is the return value of Submit: the terminal state of one
// review, with its embedded FinalDecision on success.
type Session struct {
	ID             string
	Status         Status
	Spec           model.WorkingSpec
	FinalDecision  model.FinalDecision
	ProvenanceID   string
	Err            error
}

// idempotencyEntry caches a terminal session keyed by (spec.id,
// content-hash) submit_review idempotency rule.
type idempotencyEntry struct {
	session Session
}

// idempotencyKey derives the (spec.id, content-hash) key
// submit_review resubmission matches against.
func idempotencyKey(spec model.WorkingSpec) string {
	return spec.ID + ":" + spec.ContentHash()
}

// Submit runs one session to completion (or timeout), per the
// orchestration loop. A resubmission of the same spec
// (same id, same content-hash) returns the cached terminal session
// instead of re-running review. The cache is scoped to this Orchestrator,
// not process-global: distinct Orchestrators (and tests) never see each
// other's idempotency entries.
func (o *Orchestrator) Submit(ctx context.Context, sessionID string, rc model.ReviewContext, dc decision.Context) Session {
	key := idempotencyKey(rc.WorkingSpec)
	if cached, ok := o.idempotency.Load(key); ok {
		return cached.(idempotencyEntry).session
	}

	timeout := o.cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	sessCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess := o.run(sessCtx, sessionID, rc, dc)
	o.idempotency.Store(key, idempotencyEntry{session: sess})
	return sess
}

func (o *Orchestrator) run(ctx context.Context, sessionID string, rc model.ReviewContext, dc decision.Context) Session {
	sess := Session{ID: sessionID, Status: StatusInitialized, Spec: rc.WorkingSpec}

	judges := o.judgePool()
	sess.Status = StatusJudgeSelection
	o.mu.Lock() // the selector's round-robin cursor is shared across sessions
	selected, err := o.selector.Select(o.cfg.SelectionStrategy, judges, rc, o.cfg.MinJudgesRequired, o.cfg.MaxJudgesPerSession)
	o.mu.Unlock()
	if err != nil {
		return o.fail(ctx, sess, dc, err)
	}

	sess.Status = StatusReviewInProgress
	contributions := o.reviewAll(ctx, selected, rc)
	if len(contributions) < o.cfg.MinJudgesRequired {
		err := &model.QuorumFailureError{Available: len(contributions), Required: o.cfg.MinJudgesRequired}
		if ctx.Err() != nil {
			return o.timeout(ctx, sess, dc, contributions)
		}
		return o.fail(ctx, sess, dc, err)
	}

	sess.Status = StatusAggregationInProgress
	agg := aggregator.Aggregate(o.cfg.Aggregation, rc, contributions)

	sess.Status = StatusDecisionMaking
	engine := decision.New(o.cfg.Engine)
	final := engine.Decide(agg, dc)

	record := o.buildProvenance(sessionID, rc, agg, final, contributions)
	if err := o.signAndStore(ctx, &record); err != nil {
		slog.Error("session: store provenance failed", "session_id", sessionID, "error", err)
		sess.Status = StatusFailed
		sess.Err = err
		return sess
	}

	if o.cfg.AutoCommitToGit && o.gitBridge != nil {
		o.attachGitCommit(ctx, &record)
	}

	sess.Status = StatusCompleted
	sess.FinalDecision = final
	sess.ProvenanceID = record.ID
	return sess
}

func (o *Orchestrator) judgePool() []judge.Judge {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]judge.Judge, 0, len(o.judges))
	for _, j := range o.judges {
		out = append(out, j)
	}
	return out
}

// reviewAll is the "parallel_for judges with per-judge timeout" step
// pseudocode, bounded by max_judges_per_session via
// errgroup.SetLimit. A judge that errors (after RecoveryOrchestrator's
// retry-once policy) is dropped — logged, not fatal — matching "record
// contribution or drop (log)".
func (o *Orchestrator) reviewAll(ctx context.Context, judges []judge.Judge, rc model.ReviewContext) []model.JudgeContribution {
	limit := o.cfg.MaxJudgesPerSession
	if limit <= 0 {
		limit = len(judges)
	}

	var mu sync.Mutex
	var contributions []model.JudgeContribution

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, j := range judges {
		j := j
		g.Go(func() error {
			contribution, ok := o.reviewOne(gCtx, j, rc)
			if ok {
				mu.Lock()
				contributions = append(contributions, contribution)
				mu.Unlock()
			}
			return nil // a dropped judge never fails the group
		})
	}
	_ = g.Wait()

	return contributions
}

// reviewOne guards one judge call behind the llm_service breaker and the
// RecoveryOrchestrator's retry-then-degrade-then-give-up policy.
func (o *Orchestrator) reviewOne(ctx context.Context, j judge.Judge, rc model.ReviewContext) (model.JudgeContribution, bool) {
	timeout := o.cfg.JudgeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	judgeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var br *breaker.Breaker
	if o.cfg.EnableCircuitBreakers && o.breakers != nil {
		br = o.breakers.GetOrCreate("llm_service")
	}
	var pol *degradation.Policy
	if o.cfg.EnableGracefulDegradation && o.degrades != nil {
		pol = o.degrades.Get(string(j.Type()) + "_judge")
	}

	start := time.Now()
	var verdict model.JudgeVerdict
	call := func(ctx context.Context) error {
		v, err := j.Review(ctx, rc)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	}

	var err error
	switch {
	case o.cfg.EnableErrorRecovery:
		err = recovery.Attempt(judgeCtx, br, pol, call)
	case br != nil && !br.Allow():
		err = br.OpenError()
	default:
		err = call(judgeCtx)
		if err != nil && br != nil {
			br.RecordFailure()
		}
	}

	if err != nil {
		slog.Warn("session: judge review dropped", "judge_id", j.ID(), "error", err)
		return model.JudgeContribution{}, false
	}
	if br != nil {
		br.RecordSuccess()
	}

	return model.JudgeContribution{
		JudgeID:        j.ID(),
		JudgeType:      j.Type(),
		Verdict:        verdict,
		ProcessingTime: time.Since(start),
		Metadata: map[string]string{
			"specialization_score": fmt.Sprintf("%.4f", j.SpecializationScore(rc)),
		},
	}, true
}

func (o *Orchestrator) fail(ctx context.Context, sess Session, dc decision.Context, cause error) Session {
	agg := aggregator.Result{
		Decision: model.CouncilDecision{
			Kind:   model.CouncilInconclusive,
			Reason: cause.Error(),
		},
	}
	final := decision.New(o.cfg.Engine).Decide(agg, dc)
	record := o.buildProvenance(sess.ID, model.ReviewContext{WorkingSpec: sess.Spec}, agg, final, nil)
	_ = o.signAndStore(ctx, &record)

	sess.Status = StatusFailed
	sess.Err = cause
	sess.FinalDecision = final
	sess.ProvenanceID = record.ID
	return sess
}

// timeout implements session-timeout override: still
// emits a partial provenance record carrying an Inconclusive decision and
// a "session-timeout" reason, built from whatever contributions arrived
// before the deadline.
func (o *Orchestrator) timeout(ctx context.Context, sess Session, dc decision.Context, partial []model.JudgeContribution) Session {
	agg := aggregator.Aggregate(o.cfg.Aggregation, model.ReviewContext{WorkingSpec: sess.Spec}, partial)
	agg.Decision.Kind = model.CouncilInconclusive
	agg.Decision.Reason = "session-timeout"

	final := decision.New(o.cfg.Engine).Decide(agg, dc)

	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record := o.buildProvenance(sess.ID, model.ReviewContext{WorkingSpec: sess.Spec}, agg, final, partial)
	_ = o.signAndStore(storeCtx, &record)

	sess.Status = StatusTimeout
	sess.Err = &model.SessionTimeoutError{SessionID: sess.ID, TimeoutSeconds: int(o.cfg.SessionTimeout.Seconds())}
	sess.FinalDecision = final
	sess.ProvenanceID = record.ID
	return sess
}

func (o *Orchestrator) buildProvenance(sessionID string, rc model.ReviewContext, agg aggregator.Result, final model.FinalDecision, contributions []model.JudgeContribution) model.ProvenanceRecord {
	verdicts := make(map[string]model.JudgeVerdict, len(contributions))
	for _, c := range contributions {
		verdicts[c.JudgeID] = c.Verdict
	}

	return model.ProvenanceRecord{
		ID:             sessionID + "-provenance",
		VerdictID:      sessionID,
		TaskID:         rc.WorkingSpec.ID,
		Timestamp:      time.Now().UTC(),
		Decision:       final,
		ConsensusScore: float32(agg.ConsensusStrength),
		JudgeVerdicts:  verdicts,
		CAWSCompliance: model.ComplianceSummary{
			IsCompliant:     final.Kind == model.FinalProceed,
			ComplianceScore: agg.ConsensusStrength,
		},
		Metadata: map[string]string{"agreement_level": string(agg.Agreement)},
	}
}

func (o *Orchestrator) signAndStore(ctx context.Context, record *model.ProvenanceRecord) error {
	canonical, err := provenance.CanonicalBytes(*record)
	if err != nil {
		return fmt.Errorf("session: canonicalize record: %w", err)
	}
	sig, err := o.signer.Sign(canonical)
	if err != nil {
		return fmt.Errorf("session: sign record: %w", err)
	}
	record.Signature = sig
	record.KeyID = o.signer.KeyID()

	if err := o.store.Append(ctx, *record); err != nil {
		return fmt.Errorf("session: append record: %w", err)
	}
	return nil
}

// attachGitCommit implements optional git-anchoring step.
// Failure here is logged and swallowed: "failure here
// is non-fatal to the session."
func (o *Orchestrator) attachGitCommit(ctx context.Context, record *model.ProvenanceRecord) {
	summary := fmt.Sprintf("%s decision for task %s", record.Decision.Kind, record.TaskID)
	trailer := gitbridge.BuildTrailer(*record, summary)
	record.GitTrailer = trailer

	hash, err := o.gitBridge.CreateProvenanceCommit(ctx, summary, trailer)
	if err != nil {
		slog.Warn("session: git anchoring failed, continuing without commit", "record_id", record.ID, "error", err)
		return
	}
	record.GitCommitHash = &hash
	if err := o.store.UpdateCommitHash(ctx, record.ID, hash); err != nil {
		slog.Warn("session: persist git commit hash failed", "record_id", record.ID, "error", err)
	}
}
