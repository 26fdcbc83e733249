// Package mcp exposes the GTM knowledge base as a Model Context Protocol
// server.
//
// It registers the brain lifecycle tools (create, status, seed, insight
// intake, delete, reporting) and the agent-facing query tools, plus a
// resource listing all brains. Transport is stdio; stdout carries only
// JSON-RPC, so all logging goes to stderr and every invocation is also
// recorded in the local audit log.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/atlasgtm/gtmbrain/internal/brain"
	"github.com/atlasgtm/gtmbrain/internal/embed"
	"github.com/atlasgtm/gtmbrain/internal/lifecycle"
	"github.com/atlasgtm/gtmbrain/internal/logging"
	"github.com/atlasgtm/gtmbrain/internal/search"
	"github.com/atlasgtm/gtmbrain/internal/toollog"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

// ServerConfig wires the MCP server's dependencies.
type ServerConfig struct {
	Manager *lifecycle.Manager
	Search  *search.Engine
	Audit   *toollog.Log // optional, nil disables invocation logging
	Log     *logging.Logger
	Version string // version string for MCP server info
}

// handlers bundles the dependencies tool handlers close over.
type handlers struct {
	mgr    *lifecycle.Manager
	search *search.Engine
	audit  *toollog.Log
	log    *logging.Logger
}

// NewServer creates a configured MCP server with all GTM Brain tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	log := cfg.Log
	if log == nil {
		log = logging.NewNop()
	}

	s := server.NewMCPServer(
		"GTM Brain",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	h := &handlers{
		mgr:    cfg.Manager,
		search: cfg.Search,
		audit:  cfg.Audit,
		log:    log.With("component", "mcp"),
	}

	// Lifecycle tools
	registerCreateBrainTool(s, h)
	registerUpdateStatusTool(s, h)
	registerDeleteBrainTool(s, h)
	registerSeedTools(s, h)
	registerAddInsightTool(s, h)

	// Query tools
	registerQueryICPRulesTool(s, h)
	registerGetResponseTemplateTool(s, h)
	registerFindObjectionHandlerTool(s, h)
	registerSearchMarketResearchTool(s, h)

	// Introspection tools
	registerGetBrainTool(s, h)
	registerListBrainsTool(s, h)
	registerBrainStatsTool(s, h)
	registerBrainReportTool(s, h)

	// Resources
	registerBrainsResource(s, h)

	return s
}

// toolFunc is a tool body: it returns the JSON-serializable result and how
// many domain objects it produced, for the audit log.
type toolFunc func(ctx context.Context, req mcp.CallToolRequest) (any, int, error)

// instrument wraps a tool body with audit logging, timing, and uniform
// error rendering.
func (h *handlers) instrument(name string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		out, count, err := fn(ctx, req)
		elapsed := time.Since(start)

		if h.audit != nil {
			if logErr := h.audit.Record(ctx, name, req.GetArguments(), count, elapsed, err); logErr != nil {
				h.log.Warn("audit record failed", "tool", name, "error", logErr.Error())
			}
		}

		if err != nil {
			h.log.Warn("tool failed", "tool", name, "duration_ms", elapsed.Milliseconds(), "error", err.Error())
			return mcp.NewToolResultError(userMessage(err)), nil
		}

		h.log.Debug("tool completed", "tool", name, "duration_ms", elapsed.Milliseconds(), "results", count)
		data, merr := json.MarshalIndent(out, "", "  ")
		if merr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", merr)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// userMessage renders an error for the MCP client. Infrastructure faults
// get a stable retryable message instead of leaking transport detail.
func userMessage(err error) string {
	switch {
	case errors.Is(err, vector.ErrUnavailable):
		return "Knowledge base is temporarily unavailable. Please retry."
	case errors.Is(err, embed.ErrRateLimited):
		return "Embedding service is rate limited. Please retry later."
	default:
		return err.Error()
	}
}

// --- Lifecycle tools ---

func registerCreateBrainTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("create_brain",
		mcp.WithDescription("Create a new brain for a vertical. Starts in draft status; seed content and activate it before agents use it."),
		mcp.WithString("vertical",
			mcp.Required(),
			mcp.Description("Vertical the brain serves (e.g. 'fintech', 'healthcare'). Lowercase, 2-50 characters."),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Human-readable brain name, 3-100 characters"),
		),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("What this brain covers, 10-500 characters"),
		),
		mcp.WithObject("config",
			mcp.Description("Optional brain configuration: default_tier_thresholds, auto_response_enabled, learning_enabled, quality_gate_threshold"),
		),
	)

	s.AddTool(tool, h.instrument("create_brain", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		vertical, err := req.RequireString("vertical")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: vertical is required", brain.ErrInvalidInput)
		}
		name, err := req.RequireString("name")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: name is required", brain.ErrInvalidInput)
		}
		description, err := req.RequireString("description")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: description is required", brain.ErrInvalidInput)
		}

		in := lifecycle.CreateBrainInput{
			Vertical:    vertical,
			Name:        name,
			Description: description,
		}
		if raw, ok := req.GetArguments()["config"].(map[string]any); ok {
			cfg, err := decodeConfig(raw)
			if err != nil {
				return nil, 0, err
			}
			in.Config = cfg
		}

		result, err := h.mgr.CreateBrain(ctx, in)
		if err != nil {
			return nil, 0, err
		}
		return result, 1, nil
	}))
}

func registerUpdateStatusTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("update_brain_status",
		mcp.WithDescription("Transition a brain between draft, active, and archived. Activating a brain archives any other active brain in the same vertical."),
		mcp.WithString("brain_id",
			mcp.Required(),
			mcp.Description("Brain to transition"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("Target status"),
			mcp.Enum("draft", "active", "archived"),
		),
	)

	s.AddTool(tool, h.instrument("update_brain_status", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brainID, err := req.RequireString("brain_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
		}
		status, err := req.RequireString("status")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: status is required", brain.ErrInvalidInput)
		}

		result, err := h.mgr.UpdateStatus(ctx, brainID, status)
		if err != nil {
			return nil, 0, err
		}
		return result, 1, nil
	}))
}

func registerDeleteBrainTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("delete_brain",
		mcp.WithDescription("Permanently delete a brain and all of its content. Refuses active brains; archive first. Requires confirm=true."),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("brain_id",
			mcp.Required(),
			mcp.Description("Brain to delete"),
		),
		mcp.WithBoolean("confirm",
			mcp.Required(),
			mcp.Description("Must be true. Deletion cannot be undone."),
		),
	)

	s.AddTool(tool, h.instrument("delete_brain", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brainID, err := req.RequireString("brain_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
		}
		confirm, _ := req.GetArguments()["confirm"].(bool)

		result, err := h.mgr.DeleteBrain(ctx, brainID, confirm)
		if err != nil {
			return nil, 0, err
		}
		total := 0
		for _, n := range result.DeletedContent {
			total += n
		}
		return result, total, nil
	}))
}

// seedToolSpec defines one of the four seeding tools, which differ only in
// target collection and payload field names.
type seedToolSpec struct {
	name        string
	argName     string
	collection  string
	description string
	itemHint    string
}

var seedToolSpecs = []seedToolSpec{
	{
		name:        "seed_icp_rules",
		argName:     "rules",
		collection:  brain.CollectionICPRules,
		description: "Seed ICP scoring rules into a brain. Each rule needs 'criteria' (text that gets embedded) and 'name' (upsert key); re-seeding the same name updates in place.",
		itemHint:    "Rule objects with criteria, name, category, score_weight, is_knockout, condition, reasoning",
	},
	{
		name:        "seed_templates",
		argName:     "templates",
		collection:  brain.CollectionTemplates,
		description: "Seed response templates into a brain. Each template needs 'template_text' and 'name'; re-seeding the same name updates in place.",
		itemHint:    "Template objects with template_text, name, reply_type, tier, variables, personalization_instructions",
	},
	{
		name:        "seed_handlers",
		argName:     "handlers",
		collection:  brain.CollectionHandlers,
		description: "Seed objection handlers into a brain. Each handler needs 'objection_text', which is both the embedded text and the upsert key.",
		itemHint:    "Handler objects with objection_text, objection_type, handler_strategy, handler_response, variables, follow_up_actions",
	},
	{
		name:        "seed_research",
		argName:     "documents",
		collection:  brain.CollectionResearch,
		description: "Seed market research documents into a brain. Each document needs 'content' (embedded) and 'topic' (upsert key).",
		itemHint:    "Document objects with content, topic, content_type, title, key_facts, source_url",
	},
}

func registerSeedTools(s *server.MCPServer, h *handlers) {
	for _, spec := range seedToolSpecs {
		spec := spec
		tool := mcp.NewTool(spec.name,
			mcp.WithDescription(spec.description),
			mcp.WithString("brain_id",
				mcp.Required(),
				mcp.Description("Brain to seed. Must be draft or active; archived brains refuse content."),
			),
			mcp.WithArray(spec.argName,
				mcp.Required(),
				mcp.Description(spec.itemHint),
			),
		)

		s.AddTool(tool, h.instrument(spec.name, func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
			brainID, err := req.RequireString("brain_id")
			if err != nil {
				return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
			}
			items, err := decodeItems(req.GetArguments()[spec.argName], spec.argName)
			if err != nil {
				return nil, 0, err
			}

			result, err := h.mgr.SeedItems(ctx, brainID, spec.collection, items)
			if err != nil {
				return nil, 0, err
			}
			return result, result.SeededCount, nil
		}))
	}
}

func registerAddInsightTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("add_insight",
		mcp.WithDescription("Add a learned insight to a brain. The insight passes through a quality gate: low-confidence submissions are rejected and near-duplicates are reported, not stored."),
		mcp.WithString("brain_id",
			mcp.Required(),
			mcp.Description("Brain the insight belongs to"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The insight text, 10-5000 characters"),
		),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Insight category"),
			mcp.Enum("buying_process", "pain_point", "objection", "competitive_intel", "messaging_effectiveness", "icp_signal"),
		),
		mcp.WithString("importance",
			mcp.Description("Importance weight (default: medium)"),
			mcp.Enum("low", "medium", "high"),
		),
		mcp.WithString("source_type",
			mcp.Required(),
			mcp.Description("Where the insight came from"),
			mcp.Enum("call_transcript", "email_reply", "linkedin_message", "manual_entry"),
		),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Identifier of the source artifact (call ID, message ID, ...)"),
		),
		mcp.WithString("lead_id",
			mcp.Description("Lead the insight relates to"),
		),
		mcp.WithString("company_name",
			mcp.Description("Company the insight relates to. Raises gate confidence."),
		),
		mcp.WithString("extracted_quote",
			mcp.Description("Verbatim supporting quote. Raises gate confidence."),
		),
	)

	s.AddTool(tool, h.instrument("add_insight", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brainID, err := req.RequireString("brain_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
		}
		content, err := req.RequireString("content")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: content is required", brain.ErrInvalidInput)
		}
		categoryStr, err := req.RequireString("category")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: category is required", brain.ErrInvalidInput)
		}
		category, err := brain.ParseCategory(categoryStr)
		if err != nil {
			return nil, 0, err
		}
		importance := brain.ImportanceMedium
		if impStr, err := req.RequireString("importance"); err == nil && impStr != "" {
			importance, err = brain.ParseImportance(impStr)
			if err != nil {
				return nil, 0, err
			}
		}
		sourceType, err := req.RequireString("source_type")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: source_type is required", brain.ErrInvalidInput)
		}
		sourceID, err := req.RequireString("source_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: source_id is required", brain.ErrInvalidInput)
		}

		args := req.GetArguments()
		result, err := h.mgr.AddInsight(ctx, lifecycle.AddInsightInput{
			BrainID:    brainID,
			Content:    content,
			Category:   category,
			Importance: importance,
			Source: brain.Source{
				Type:           brain.SourceType(sourceType),
				ID:             sourceID,
				LeadID:         stringArg(args, "lead_id"),
				CompanyName:    stringArg(args, "company_name"),
				ExtractedQuote: stringArg(args, "extracted_quote"),
			},
		})
		if err != nil {
			return nil, 0, err
		}
		created := 0
		if result.Status == lifecycle.InsightCreated {
			created = 1
		}
		return result, created, nil
	}))
}

// --- Introspection tools ---

func registerGetBrainTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("get_brain",
		mcp.WithDescription("Look up a brain by ID, by a vertical's active brain, or (with no arguments) the default active brain."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("brain_id",
			mcp.Description("Explicit brain ID"),
		),
		mcp.WithString("vertical",
			mcp.Description("Vertical whose active brain to return"),
		),
	)

	s.AddTool(tool, h.instrument("get_brain", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		args := req.GetArguments()
		b, err := h.mgr.GetBrain(ctx, stringArg(args, "brain_id"), stringArg(args, "vertical"))
		if err != nil {
			return nil, 0, err
		}
		if b == nil {
			return map[string]any{
				"found":   false,
				"message": "No matching brain found",
			}, 0, nil
		}
		return map[string]any{"found": true, "brain": b}, 1, nil
	}))
}

func registerListBrainsTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("list_brains",
		mcp.WithDescription("List every brain with its vertical, status, and version."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, h.instrument("list_brains", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brains, err := h.mgr.ListBrains(ctx)
		if err != nil {
			return nil, 0, err
		}
		return map[string]any{"brains": brains, "count": len(brains)}, len(brains), nil
	}))
}

func registerBrainStatsTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("get_brain_stats",
		mcp.WithDescription("Per-collection content counts for a brain, recomputed from the store."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("brain_id",
			mcp.Required(),
			mcp.Description("Brain to count"),
		),
	)

	s.AddTool(tool, h.instrument("get_brain_stats", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brainID, err := req.RequireString("brain_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
		}
		result, err := h.mgr.Stats(ctx, brainID)
		if err != nil {
			return nil, 0, err
		}
		return result, 1, nil
	}))
}

func registerBrainReportTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("get_brain_report",
		mcp.WithDescription("Seeding-progress report for a brain: per-collection counts, last-updated timestamps, and content completeness."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("brain_id",
			mcp.Required(),
			mcp.Description("Brain to report on"),
		),
	)

	s.AddTool(tool, h.instrument("get_brain_report", func(ctx context.Context, req mcp.CallToolRequest) (any, int, error) {
		brainID, err := req.RequireString("brain_id")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: brain_id is required", brain.ErrInvalidInput)
		}
		result, err := h.mgr.Report(ctx, brainID)
		if err != nil {
			return nil, 0, err
		}
		return result, 1, nil
	}))
}

// --- argument helpers ---

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// decodeConfig converts a raw config object into a brain.Config via its
// JSON field names.
func decodeConfig(raw map[string]any) (*brain.Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: config: %v", brain.ErrInvalidInput, err)
	}
	var cfg brain.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: config: %v", brain.ErrInvalidInput, err)
	}
	return &cfg, nil
}

// decodeItems converts a raw array argument into seedable item maps.
func decodeItems(raw any, argName string) ([]map[string]any, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array of objects", brain.ErrInvalidInput, argName)
	}
	items := make([]map[string]any, 0, len(list))
	for i, entry := range list {
		item, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an object", brain.ErrInvalidInput, argName, i)
		}
		items = append(items, item)
	}
	return items, nil
}
