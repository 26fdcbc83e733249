package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/atlasgtm/gtmbrain/internal/brain"
)

// Default result limits for the query tools.
const (
	defaultICPRuleLimit  = 10
	defaultResearchLimit = 5
)

func registerQueryICPRulesTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("query_icp_rules",
		mcp.WithDescription("Semantically search a brain's ICP scoring rules. Returns scored rules with weights and knockout flags."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("brain_id",
			mcp.Required(),
			mcp.Description("Brain to query"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for, e.g. 'rules about company size'"),
		),
		mcp.WithString("category",
			mcp.Description("Restrict to one rule category"),
			mcp.Enum("firmographic", "technographic", "behavioral", "intent"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of rules (default: 10, max: 50)"),
		),
	)

	s.AddTool(tool, h.instrument("query_icp_rules", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brainID, err := req.RequireString("brain_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
		}
		query, err := req.RequireString("query")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: query is required", brain.ErrInvalidInput)
		}
		args := req.GetArguments()
		limit := defaultICPRuleLimit
		if l, err := req.RequireFloat("limit"); err == nil && l != 0 {
			limit = int(l)
		}

		rules, err := h.search.QueryICPRules(ctx, brainID, query, stringArg(args, "category"), limit)
		if err != nil {
			return nil, 0, err
		}
		return map[string]any{"rules": rules, "count": len(rules)}, len(rules), nil
	}))
}

func registerGetResponseTemplateTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("get_response_template",
		mcp.WithDescription("Fetch response templates for a reply type, optionally restricted to one tier. auto_send_only returns only tier-1 templates, which are safe to send without review."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("brain_id",
			mcp.Required(),
			mcp.Description("Brain to query"),
		),
		mcp.WithString("reply_type",
			mcp.Required(),
			mcp.Description("Inbound message classification"),
			mcp.Enum("positive_interest", "pricing_question", "timeline_question",
				"feature_question", "integration_question", "timing_objection",
				"budget_objection", "competitor_mention", "referral", "unsubscribe", "negative"),
		),
		mcp.WithNumber("tier",
			mcp.Description("Restrict to one tier (1-3)"),
		),
		mcp.WithBoolean("auto_send_only",
			mcp.Description("Only return tier-1 templates. Overrides tier."),
		),
	)

	s.AddTool(tool, h.instrument("get_response_template", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brainID, err := req.RequireString("brain_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
		}
		replyType, err := req.RequireString("reply_type")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: reply_type is required", brain.ErrInvalidInput)
		}
		tier := 0
		if t, err := req.RequireFloat("tier"); err == nil {
			tier = int(t)
		}
		autoSendOnly, _ := req.GetArguments()["auto_send_only"].(bool)

		templates, err := h.search.GetResponseTemplates(ctx, brainID, replyType, tier, autoSendOnly)
		if err != nil {
			return nil, 0, err
		}
		return map[string]any{"templates": templates, "count": len(templates)}, len(templates), nil
	}))
}

func registerFindObjectionHandlerTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("find_objection_handler",
		mcp.WithDescription("Find the single best handler for a prospect objection. Returns no match when nothing is similar enough; a wrong handler is worse than none."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("brain_id",
			mcp.Required(),
			mcp.Description("Brain to query"),
		),
		mcp.WithString("objection_text",
			mcp.Required(),
			mcp.Description("The objection as the prospect phrased it, up to 2000 characters"),
		),
	)

	s.AddTool(tool, h.instrument("find_objection_handler", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brainID, err := req.RequireString("brain_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
		}
		objection, err := req.RequireString("objection_text")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: objection_text is required", brain.ErrInvalidInput)
		}

		handler, err := h.search.FindObjectionHandler(ctx, brainID, objection)
		if err != nil {
			return nil, 0, err
		}
		if handler == nil {
			return map[string]any{
				"found":   false,
				"message": "No handler matched with sufficient confidence",
			}, 0, nil
		}
		return map[string]any{"found": true, "handler": handler}, 1, nil
	}))
}

func registerSearchMarketResearchTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("search_market_research",
		mcp.WithDescription("Semantically search a brain's market research library, optionally restricted to one content type."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("brain_id",
			mcp.Required(),
			mcp.Description("Brain to query"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for"),
		),
		mcp.WithString("content_type",
			mcp.Description("Restrict to one research type"),
			mcp.Enum("market_overview", "competitor_analysis", "buyer_persona",
				"pain_points", "trends", "case_study"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of documents (default: 5, max: 20)"),
		),
	)

	s.AddTool(tool, h.instrument("search_market_research", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brainID, err := req.RequireString("brain_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
		}
		query, err := req.RequireString("query")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: query is required", brain.ErrInvalidInput)
		}
		args := req.GetArguments()
		limit := defaultResearchLimit
		if l, err := req.RequireFloat("limit"); err == nil && l != 0 {
			limit = int(l)
		}

		docs, err := h.search.SearchMarketResearch(ctx, brainID, query, stringArg(args, "content_type"), limit)
		if err != nil {
			return nil, 0, err
		}
		return map[string]any{"documents": docs, "count": len(docs)}, len(docs), nil
	}))
}
