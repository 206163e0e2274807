package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/council/internal/decision"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/provenance"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("council_submit_review",
			mcplib.WithDescription(`Submit a working spec for council review.

Runs a full multi-judge council session synchronously: selects judges, collects
verdicts in parallel, aggregates them into a consensus decision, signs and
records the provenance trail, and returns the terminal outcome. A session
always reaches a terminal status — proceed, refine, escalate, or reject —
unless every judge and fallback path is exhausted, in which case an error is
returned instead.`),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("spec_id", mcplib.Description("Stable identifier for the work being reviewed."), mcplib.Required()),
			mcplib.WithString("title", mcplib.Description("Short title of the working spec."), mcplib.Required()),
			mcplib.WithString("description", mcplib.Description("Full description of what was built and why.")),
			mcplib.WithString("risk_tier", mcplib.Description(`Risk tier: "T1" (critical, always escalated for human review), "T2" (high), or "T3" (standard).`), mcplib.Required()),
			mcplib.WithString("acceptance_criteria",
				mcplib.Description("Acceptance criteria the submitted work claims to satisfy, one per line."),
			),
			mcplib.WithNumber("available_development_hours", mcplib.Description("Optional organizational hint: remaining development budget in hours.")),
			mcplib.WithNumber("budget_max_cost", mcplib.Description("Optional organizational hint: maximum acceptable cost for the remaining work.")),
		),
		s.handleSubmitReview,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("council_query_provenance",
			mcplib.WithDescription(`Query the signed provenance trail left by past council sessions.

Filters by task, verdict, judge, decision kind, or time range. Use this to
check whether a given spec was already reviewed, or to audit a judge's
recent verdict history.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("task_id", mcplib.Description("Filter to provenance records for this spec/task ID.")),
			mcplib.WithString("verdict_id", mcplib.Description("Filter to a single verdict by ID.")),
			mcplib.WithString("judge_id", mcplib.Description("Filter to records a given judge participated in.")),
			mcplib.WithString("decision_kind", mcplib.Description(`Filter by final decision kind: "proceed", "refine", "escalate", or "reject".`)),
			mcplib.WithString("since", mcplib.Description("RFC3339 timestamp; only records at or after this time.")),
			mcplib.WithString("until", mcplib.Description("RFC3339 timestamp; only records at or before this time.")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum records to return."), mcplib.Min(1), mcplib.Max(1000), mcplib.DefaultNumber(100)),
		),
		s.handleQueryProvenance,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("council_integrity_check",
			mcplib.WithDescription(`Verify the integrity of the signed provenance trail.

Re-verifies every record's signature against the configured signing keys and,
where a git trailer is attached, cross-checks it against the commit it claims
to be attached to. Returns a report of any records that fail verification.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleIntegrityCheck,
	)
}

func (s *Server) handleSubmitReview(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	specID := request.GetString("spec_id", "")
	title := request.GetString("title", "")
	if specID == "" || title == "" {
		return errorResult("spec_id and title are required"), nil
	}

	var riskTier model.RiskTier
	switch request.GetString("risk_tier", "") {
	case "T1":
		riskTier = model.RiskTierT1
	case "T2":
		riskTier = model.RiskTierT2
	case "T3":
		riskTier = model.RiskTierT3
	default:
		return errorResult("risk_tier must be T1, T2, or T3"), nil
	}

	criteria := splitLines(request.GetString("acceptance_criteria", ""))

	hours := request.GetFloat("available_development_hours", 0)
	cost := request.GetFloat("budget_max_cost", 0)

	rc := model.ReviewContext{
		WorkingSpec: model.WorkingSpec{
			ID:                 specID,
			Title:              title,
			Description:        request.GetString("description", ""),
			RiskTier:           riskTier,
			AcceptanceCriteria: criteria,
		},
		RiskTier: riskTier,
	}
	if hours > 0 {
		rc.Hints.AvailableDevelopmentHours = &hours
	}
	if cost > 0 {
		rc.Hints.BudgetMaxCost = &cost
	}

	dc := decision.Context{
		RiskTier:           riskTier,
		RefinementsAllowed: true,
		Constraints: decision.OrganizationalConstraints{
			AvailableDevelopmentHours: hours,
			BudgetMaxCost:             cost,
		},
	}

	sess := s.orchestrator.Submit(ctx, uuid.New().String(), rc, dc)

	result := map[string]any{
		"session_id":    sess.ID,
		"status":        string(sess.Status),
		"provenance_id": sess.ProvenanceID,
		"decision_kind": string(sess.FinalDecision.Kind),
		"confidence":    sess.FinalDecision.Confidence,
	}
	if sess.Err != nil {
		result["error"] = sess.Err.Error()
	}

	return textResult(result), nil
}

func (s *Server) handleQueryProvenance(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	filter := provenance.Filter{
		TaskID:    request.GetString("task_id", ""),
		VerdictID: request.GetString("verdict_id", ""),
		JudgeID:   request.GetString("judge_id", ""),
		Limit:     request.GetInt("limit", 100),
	}
	if dk := request.GetString("decision_kind", ""); dk != "" {
		kind := model.FinalDecisionKind(dk)
		filter.DecisionKind = &kind
	}
	if v := request.GetString("since", ""); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = &t
		}
	}
	if v := request.GetString("until", ""); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Until = &t
		}
	}

	records, err := s.store.Query(ctx, filter)
	if err != nil {
		return errorResult(fmt.Sprintf("query provenance failed: %v", err)), nil
	}
	return textResult(records), nil
}

func (s *Server) handleIntegrityCheck(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	report, err := provenance.CheckIntegrity(ctx, s.store, s.signer, s.trailers, time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("integrity check failed: %v", err)), nil
	}
	return textResult(report), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func textResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
