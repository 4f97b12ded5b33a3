package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	// cortex_route: answer a question from the document corpus.
	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_route",
			mcplib.WithDescription(`Answer a question from the indexed document corpus using multi-expert retrieval.

WHEN TO USE: For factual questions the corpus can answer directly. Fast and
deterministic: no LLM call is made on this path, the answer quotes the
top-ranked sources verbatim.

WHAT YOU GET BACK:
- answer: a framed answer quoting up to three sources
- sources: the fused, ranked documents with their contributing experts
- query_type: how the query was classified (factual, conceptual, recent, default)
- fusion_weights: the per-expert weights used for ranking

For open-ended questions needing synthesis, use cortex_vote instead.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("The question, in natural language"),
				mcplib.Required(),
			),
			mcplib.WithNumber("k",
				mcplib.Description("Maximum number of sources to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleRoute,
	)

	// cortex_vote: run a committee vote and synthesize an answer.
	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_vote",
			mcplib.WithDescription(`Ask the model committee and get a synthesized consensus answer.

WHEN TO USE: For open-ended or high-stakes questions where one model's
answer is not enough. The prompt fans out to a committee of models, their
answers are synthesized by a conductor model, and the outcome carries a
confidence score.

MODES:
- "interactive" (default): light models, answers within seconds
- "precision": includes a heavy model behind an exclusive gate; slower,
  and may return status="timeout" if the heavy model cannot answer in time

WHAT YOU GET BACK:
- final_answer: the synthesized answer
- votes: each committee member's contribution
- confidence: 0.0-1.0; timeout outcomes score 0.0`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("prompt",
				mcplib.Description("The question or task for the committee"),
				mcplib.Required(),
			),
			mcplib.WithString("context",
				mcplib.Description("Optional extra context grounding the committee's answers"),
			),
			mcplib.WithString("mode",
				mcplib.Description("Voting mode: interactive (fast, light models) or precision (heavy model, slower)"),
				mcplib.DefaultString("interactive"),
			),
		),
		s.handleVote,
	)

	// cortex_schedule_predict: inspect the capacity plan.
	s.mcpServer.AddTool(
		mcplib.NewTool("cortex_schedule_predict",
			mcplib.WithDescription(`Get the orchestrator's capacity plan for the current hour.

WHEN TO USE: Before deciding between interactive and precision mode.
During peak windows the heavy committee is preloaded and precision votes
resolve faster; off-peak a precision vote may pay model-load latency.

Returns the committee slot allocation, the models scheduled for preload,
and the inputs behind the prediction (hour, peak flag, predicted QPS).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleSchedulePredict,
	)
}

func (s *Server) handleRoute(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	k := request.GetInt("k", 0)

	resp, err := s.router.Route(ctx, query, k)
	if err != nil {
		return errorResult(fmt.Sprintf("route failed: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleVote(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	prompt := request.GetString("prompt", "")
	if prompt == "" {
		return errorResult("prompt is required"), nil
	}
	userContext := request.GetString("context", "")
	mode := request.GetString("mode", "interactive")

	outcome, err := s.votes.Vote(ctx, prompt, userContext, mode)
	if err != nil {
		return errorResult(fmt.Sprintf("vote failed: %v", err)), nil
	}
	return jsonResult(outcome)
}

func (s *Server) handleSchedulePredict(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(s.scheduler.Predict())
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
