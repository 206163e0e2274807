package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashita-ai/council/internal/aggregator"
	"github.com/ashita-ai/council/internal/decision"
	"github.com/ashita-ai/council/internal/judge"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/provenance"
	"github.com/ashita-ai/council/internal/session"
	"github.com/ashita-ai/council/internal/signing"
)

func newTestHandlers(t *testing.T) (*Handlers, provenance.Backend) {
	t.Helper()

	store, err := provenance.NewSQLiteBackend(":memory:")
	if err != nil {
		t.Fatalf("open sqlite backend: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	signer, err := signing.NewEdDSASigner("test-key", "", "")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	judges := map[string]judge.Judge{
		"quality-1": judge.NewKeywordJudge("quality-1", model.JudgeTypeQuality, judge.HeuristicReviewer(model.JudgeTypeQuality)),
	}

	orchestrator := session.New(session.Config{
		SessionTimeout:      5 * time.Second,
		JudgeTimeout:        2 * time.Second,
		MinJudgesRequired:   1,
		MaxJudgesPerSession: 1,
		Aggregation:         aggregator.Config{},
		Engine:              decision.StrategyMajority,
	}, judges, nil, nil, signer, store, nil)

	return NewHandlers(HandlersDeps{
		Orchestrator: orchestrator,
		Store:        store,
		Signer:       signer,
		MaxBodyBytes: 1 << 20,
		Version:      "test",
	}), store
}

func TestHandleSubmitReview_Success(t *testing.T) {
	h, _ := newTestHandlers(t)

	body, _ := json.Marshal(map[string]any{
		"spec_id":   "spec-1",
		"title":     "add rate limiter",
		"risk_tier": "T1",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/reviews", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleSubmitReview(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data["session_id"] == "" {
		t.Error("expected a session_id in the response")
	}
}

func TestHandleSubmitReview_MissingRequiredFields(t *testing.T) {
	h, _ := newTestHandlers(t)

	body, _ := json.Marshal(map[string]any{"risk_tier": "T1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/reviews", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleSubmitReview(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleSubmitReview_InvalidRiskTier(t *testing.T) {
	h, _ := newTestHandlers(t)

	body, _ := json.Marshal(map[string]any{"spec_id": "spec-1", "title": "x", "risk_tier": "T9"})
	req := httptest.NewRequest(http.MethodPost, "/v1/reviews", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleSubmitReview(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleQueryProvenance_AfterSubmit(t *testing.T) {
	h, _ := newTestHandlers(t)

	body, _ := json.Marshal(map[string]any{"spec_id": "spec-2", "title": "x", "risk_tier": "T2"})
	submitReq := httptest.NewRequest(http.MethodPost, "/v1/reviews", bytes.NewReader(body))
	submitRec := httptest.NewRecorder()
	h.HandleSubmitReview(submitRec, submitReq)
	if submitRec.Code != http.StatusOK {
		t.Fatalf("submit failed: %s", submitRec.Body.String())
	}

	queryReq := httptest.NewRequest(http.MethodGet, "/v1/provenance?task_id=spec-2", nil)
	queryRec := httptest.NewRecorder()
	h.HandleQueryProvenance(queryRec, queryReq)

	if queryRec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", queryRec.Code, queryRec.Body.String())
	}
	var resp struct {
		Data []model.ProvenanceRecord `json:"data"`
	}
	if err := json.Unmarshal(queryRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("got %d records, want 1", len(resp.Data))
	}
	if resp.Data[0].TaskID != "spec-2" {
		t.Errorf("got task_id %q, want spec-2", resp.Data[0].TaskID)
	}
}

func TestHandleGetProvenance_NotFound(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/provenance/does-not-exist", nil)
	req.SetPathValue("id", "does-not-exist")
	rec := httptest.NewRecorder()

	h.HandleGetProvenance(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleIntegrityCheck_CleanStore(t *testing.T) {
	h, _ := newTestHandlers(t)

	body, _ := json.Marshal(map[string]any{"spec_id": "spec-3", "title": "x", "risk_tier": "T1"})
	submitReq := httptest.NewRequest(http.MethodPost, "/v1/reviews", bytes.NewReader(body))
	submitRec := httptest.NewRecorder()
	h.HandleSubmitReview(submitRec, submitReq)

	req := httptest.NewRequest(http.MethodPost, "/v1/integrity-check", nil)
	rec := httptest.NewRecorder()
	h.HandleIntegrityCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestFireHooks_RunsRegisteredHooks(t *testing.T) {
	done := make(chan struct{})
	h := NewHandlers(HandlersDeps{
		Hooks: []func(context.Context, session.Session){
			func(_ context.Context, sess session.Session) {
				if sess.ID == "hook-test" {
					close(done)
				}
			},
		},
	})

	h.fireHooks(session.Session{ID: "hook-test"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hook did not run within timeout")
	}
}
