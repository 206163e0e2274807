package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/council/internal/decision"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/provenance"
	"github.com/ashita-ai/council/internal/session"
	"github.com/ashita-ai/council/internal/signing"
)

// Handlers holds the dependencies the three inbound operations need.
type Handlers struct {
	orchestrator *session.Orchestrator
	store        provenance.Backend
	signer       *signing.Signer
	trailers     provenance.TrailerVerifier // nil disables git-trailer verification in integrity checks
	maxBodyBytes int64
	version      string
	hooks        []func(context.Context, session.Session)
	logger       interface {
		Error(msg string, args ...any)
	}
}

// HandlersDeps are the constructor arguments for NewHandlers.
type HandlersDeps struct {
	Orchestrator *session.Orchestrator
	Store        provenance.Backend
	Signer       *signing.Signer
	Trailers     provenance.TrailerVerifier
	MaxBodyBytes int64
	Version      string
	// Hooks run in a detached goroutine once a session reaches a terminal
	// state. A slow or failing hook never blocks or fails the originating
	// request.
	Hooks  []func(context.Context, session.Session)
	Logger interface {
		Error(msg string, args ...any)
	}
}

// NewHandlers constructs the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
		signer:       deps.Signer,
		trailers:     deps.Trailers,
		maxBodyBytes: deps.MaxBodyBytes,
		version:      deps.Version,
		hooks:        deps.Hooks,
		logger:       deps.Logger,
	}
}

// submitReviewRequest is the wire shape for POST /v1/reviews.
type submitReviewRequest struct {
	SpecID             string   `json:"spec_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	RiskTier           string   `json:"risk_tier"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`

	MaxRiskLevel              string  `json:"max_risk_level,omitempty"`
	AvailableDevelopmentHours float64 `json:"available_development_hours,omitempty"`
	BudgetMaxCost             float64 `json:"budget_max_cost,omitempty"`
	BudgetCurrency            string  `json:"budget_currency,omitempty"`
}

// HandleSubmitReview implements the submit_review facade: accepts a
// working spec for review, runs (or rejoins, if idempotent) a council
// session, and returns the terminal session state.
func (h *Handlers) HandleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req submitReviewRequest
	if err := decodeJSON(r, &req, h.maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return
	}
	if req.SpecID == "" || req.Title == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "spec_id and title are required")
		return
	}

	var riskTier model.RiskTier
	switch req.RiskTier {
	case "T1":
		riskTier = model.RiskTierT1
	case "T2":
		riskTier = model.RiskTierT2
	case "T3":
		riskTier = model.RiskTierT3
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_request", "risk_tier must be T1, T2, or T3")
		return
	}

	rc := model.ReviewContext{
		WorkingSpec: model.WorkingSpec{
			ID:                 req.SpecID,
			Title:              req.Title,
			Description:        req.Description,
			RiskTier:           riskTier,
			AcceptanceCriteria: req.AcceptanceCriteria,
		},
		RiskTier: riskTier,
		Hints: model.OrganizationalHints{
			BudgetCurrency: req.BudgetCurrency,
		},
	}
	if req.AvailableDevelopmentHours > 0 {
		rc.Hints.AvailableDevelopmentHours = &req.AvailableDevelopmentHours
	}
	if req.BudgetMaxCost > 0 {
		rc.Hints.BudgetMaxCost = &req.BudgetMaxCost
	}

	dc := decision.Context{
		RiskTier:           riskTier,
		RefinementsAllowed: true,
		Constraints: decision.OrganizationalConstraints{
			AvailableDevelopmentHours: req.AvailableDevelopmentHours,
			BudgetMaxCost:             req.BudgetMaxCost,
		},
	}

	sessionID := uuid.New().String()
	sess := h.orchestrator.Submit(r.Context(), sessionID, rc, dc)
	h.fireHooks(sess)

	writeJSON(w, r, http.StatusOK, sessionResponse(sess))
}

func (h *Handlers) fireHooks(sess session.Session) {
	if len(h.hooks) == 0 {
		return
	}
	hooks := h.hooks
	go func() {
		hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, hook := range hooks {
			hook(hookCtx, sess)
		}
	}()
}

func sessionResponse(sess session.Session) map[string]any {
	resp := map[string]any{
		"session_id":    sess.ID,
		"status":        string(sess.Status),
		"provenance_id": sess.ProvenanceID,
		"decision_kind": string(sess.FinalDecision.Kind),
		"confidence":    sess.FinalDecision.Confidence,
	}
	if sess.Err != nil {
		resp["error"] = sess.Err.Error()
	}
	return resp
}

// HandleQueryProvenance implements the query_provenance facade: filtered
// listing of signed provenance records.
func (h *Handlers) HandleQueryProvenance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := provenance.Filter{
		TaskID:    q.Get("task_id"),
		VerdictID: q.Get("verdict_id"),
		JudgeID:   q.Get("judge_id"),
		Limit:     100,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Until = &t
		}
	}
	if v := q.Get("decision_kind"); v != "" {
		kind := model.FinalDecisionKind(v)
		filter.DecisionKind = &kind
	}

	records, err := h.store.Query(r.Context(), filter)
	if err != nil {
		h.writeInternalError(w, r, "query provenance failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, records)
}

// HandleGetProvenance returns a single provenance record by ID.
func (h *Handlers) HandleGetProvenance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, provenance.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "provenance record not found")
			return
		}
		h.writeInternalError(w, r, "get provenance failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, record)
}

// HandleIntegrityCheck implements the integrity_check facade: a batched
// scan across the provenance store flagging signature, trailer, and
// timestamp issues.
func (h *Handlers) HandleIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	report, err := provenance.CheckIntegrity(r.Context(), h.store, h.signer, h.trailers, time.Now().UTC())
	if err != nil {
		h.writeInternalError(w, r, "integrity check failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleStats returns aggregate provenance statistics for a time window.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	until := time.Now().UTC()
	since := until.Add(-30 * 24 * time.Hour)
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			until = t
		}
	}

	stats, err := h.store.Stats(r.Context(), since, until)
	if err != nil {
		h.writeInternalError(w, r, "stats query failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleHealth reports process liveness for load balancers and the
// health check facade.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"status": "ok", "version": h.version})
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
	}
	writeError(w, r, http.StatusInternalServerError, "internal_error", msg)
}
