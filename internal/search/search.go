// Package search implements the read side of the knowledge base: the
// query tools agents call against seeded content. Every query is scoped
// to one brain; semantic searches embed the query text and rank by
// similarity, template lookup is a plain filtered scroll.
package search

import (
	"context"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/atlasgtm/gtmbrain/internal/brain"
	"github.com/atlasgtm/gtmbrain/internal/embed"
	"github.com/atlasgtm/gtmbrain/internal/logging"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

// ObjectionConfidenceFloor is the minimum similarity for an objection
// handler match. Below it, no handler is returned at all: a wrong
// handler is worse than none.
const ObjectionConfidenceFloor = 0.70

const (
	maxQueryLen     = 1000
	maxObjectionLen = 2000
)

// Engine answers queries over seeded content.
type Engine struct {
	store    vector.Store
	embedder embed.Embedder
	log      *logging.Logger
}

// NewEngine wires an Engine.
func NewEngine(store vector.Store, embedder embed.Embedder, log *logging.Logger) *Engine {
	return &Engine{store: store, embedder: embedder, log: log.With("component", "search")}
}

// ICPRule is one query_icp_rules hit.
type ICPRule struct {
	ID          string  `json:"id"`
	Score       float64 `json:"score"`
	Category    any     `json:"category"`
	Attribute   any     `json:"attribute"`
	DisplayName any     `json:"display_name"`
	Condition   any     `json:"condition"`
	ScoreWeight any     `json:"score_weight"`
	IsKnockout  any     `json:"is_knockout"`
	Reasoning   any     `json:"reasoning"`
}

// QueryICPRules semantically searches a brain's ICP rules, optionally
// filtered to one category. Limit is 1-50.
func (e *Engine) QueryICPRules(ctx context.Context, brainID, query, category string, limit int) ([]ICPRule, error) {
	if err := brain.CheckBrainID(brainID); err != nil {
		return nil, err
	}
	if err := checkQuery(query); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 50 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 50", brain.ErrInvalidInput)
	}
	filter := vector.ByBrain(brainID)
	if category != "" {
		if _, err := brain.ParseICPCategory(category); err != nil {
			return nil, err
		}
		filter = filter.And("category", category)
	}

	hits, err := e.semanticSearch(ctx, brain.CollectionICPRules, query, filter, limit, 0)
	if err != nil {
		return nil, err
	}
	out := make([]ICPRule, 0, len(hits))
	for _, h := range hits {
		out = append(out, ICPRule{
			ID:          h.ID,
			Score:       round3(h.Score),
			Category:    h.Payload["category"],
			Attribute:   h.Payload["attribute"],
			DisplayName: fallback(h.Payload, "display_name", "attribute"),
			Condition:   orDefault(h.Payload["condition"], map[string]any{}),
			ScoreWeight: orDefault(h.Payload["score_weight"], 0),
			IsKnockout:  orDefault(h.Payload["is_knockout"], false),
			Reasoning:   orDefault(h.Payload["reasoning"], ""),
		})
	}
	e.log.Debug("icp rules queried", "brain_id", brainID, "results", len(out))
	return out, nil
}

// Template is one get_response_template hit.
type Template struct {
	ID                          string `json:"id"`
	ReplyType                   any    `json:"reply_type"`
	Tier                        any    `json:"tier"`
	TemplateText                any    `json:"template_text"`
	Variables                   any    `json:"variables"`
	PersonalizationInstructions any    `json:"personalization_instructions"`
}

// GetResponseTemplates returns templates for a reply type, optionally
// filtered by tier. autoSendOnly forces tier 1 regardless of tier. This
// is a filtered scroll, not a ranked search: templates are exact-matched
// by type, never by similarity.
func (e *Engine) GetResponseTemplates(ctx context.Context, brainID, replyType string, tier int, autoSendOnly bool) ([]Template, error) {
	if err := brain.CheckBrainID(brainID); err != nil {
		return nil, err
	}
	if _, err := brain.ParseReplyType(replyType); err != nil {
		return nil, err
	}
	if tier != 0 && (tier < 1 || tier > 3) {
		return nil, fmt.Errorf("%w: tier must be 1, 2, or 3", brain.ErrInvalidInput)
	}

	filter := vector.ByBrain(brainID).And("reply_type", replyType)
	effectiveTier := tier
	if autoSendOnly {
		effectiveTier = 1
	}
	if effectiveTier != 0 {
		filter = filter.And("tier", effectiveTier)
	}

	points, err := e.store.Scroll(ctx, brain.CollectionTemplates, filter, 10)
	if err != nil {
		return nil, err
	}
	out := make([]Template, 0, len(points))
	for _, p := range points {
		out = append(out, Template{
			ID:                          p.ID,
			ReplyType:                   p.Payload["reply_type"],
			Tier:                        p.Payload["tier"],
			TemplateText:                orDefault(p.Payload["template_text"], ""),
			Variables:                   orDefault(p.Payload["variables"], []any{}),
			PersonalizationInstructions: p.Payload["personalization_instructions"],
		})
	}
	return out, nil
}

// Handler is the find_objection_handler result.
type Handler struct {
	ID              string  `json:"id"`
	Confidence      float64 `json:"confidence"`
	ObjectionType   any     `json:"objection_type"`
	HandlerStrategy any     `json:"handler_strategy"`
	HandlerResponse any     `json:"handler_response"`
	Variables       any     `json:"variables"`
	FollowUpActions any     `json:"follow_up_actions"`
}

// FindObjectionHandler returns the single best handler for an objection,
// or nil when nothing reaches the confidence floor.
func (e *Engine) FindObjectionHandler(ctx context.Context, brainID, objectionText string) (*Handler, error) {
	if err := brain.CheckBrainID(brainID); err != nil {
		return nil, err
	}
	if objectionText == "" {
		return nil, fmt.Errorf("%w: objection text cannot be empty", brain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(objectionText) > maxObjectionLen {
		return nil, fmt.Errorf("%w: objection text exceeds %d characters", brain.ErrInvalidInput, maxObjectionLen)
	}

	hits, err := e.semanticSearch(ctx, brain.CollectionHandlers, objectionText,
		vector.ByBrain(brainID), 1, ObjectionConfidenceFloor)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		e.log.Debug("no objection handler above floor", "brain_id", brainID)
		return nil, nil
	}

	h := hits[0]
	response := h.Payload["handler_response"]
	if response == nil {
		response = orDefault(h.Payload["handler_template"], "")
	}
	return &Handler{
		ID:              h.ID,
		Confidence:      round3(h.Score),
		ObjectionType:   h.Payload["objection_type"],
		HandlerStrategy: orDefault(h.Payload["handler_strategy"], ""),
		HandlerResponse: response,
		Variables:       orDefault(h.Payload["variables"], []any{}),
		FollowUpActions: orDefault(h.Payload["follow_up_actions"], []any{}),
	}, nil
}

// ResearchDoc is one search_market_research hit.
type ResearchDoc struct {
	ID          string  `json:"id"`
	Score       float64 `json:"score"`
	ContentType any     `json:"content_type"`
	Title       any     `json:"title"`
	Content     any     `json:"content"`
	KeyFacts    any     `json:"key_facts"`
	SourceURL   any     `json:"source_url"`
}

// SearchMarketResearch semantically searches a brain's research library,
// optionally filtered by content type. Limit is 1-20.
func (e *Engine) SearchMarketResearch(ctx context.Context, brainID, query, contentType string, limit int) ([]ResearchDoc, error) {
	if err := brain.CheckBrainID(brainID); err != nil {
		return nil, err
	}
	if err := checkQuery(query); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 20 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 20", brain.ErrInvalidInput)
	}
	filter := vector.ByBrain(brainID)
	if contentType != "" {
		if _, err := brain.ParseResearchType(contentType); err != nil {
			return nil, err
		}
		filter = filter.And("content_type", contentType)
	}

	hits, err := e.semanticSearch(ctx, brain.CollectionResearch, query, filter, limit, 0)
	if err != nil {
		return nil, err
	}
	out := make([]ResearchDoc, 0, len(hits))
	for _, h := range hits {
		out = append(out, ResearchDoc{
			ID:          h.ID,
			Score:       round3(h.Score),
			ContentType: h.Payload["content_type"],
			Title:       orDefault(h.Payload["title"], ""),
			Content:     orDefault(h.Payload["content"], ""),
			KeyFacts:    orDefault(h.Payload["key_facts"], []any{}),
			SourceURL:   h.Payload["source_url"],
		})
	}
	return out, nil
}

func (e *Engine) semanticSearch(ctx context.Context, collection, query string, filter vector.Filter, limit int, threshold float64) ([]vector.ScoredPoint, error) {
	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.store.Search(ctx, collection, vector.SearchRequest{
		Vector:         vec,
		Limit:          limit,
		Filter:         filter,
		ScoreThreshold: threshold,
	})
}

func checkQuery(query string) error {
	if query == "" {
		return fmt.Errorf("%w: query cannot be empty", brain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(query) > maxQueryLen {
		return fmt.Errorf("%w: query exceeds %d characters", brain.ErrInvalidInput, maxQueryLen)
	}
	return nil
}

// fallback reads the first present key from a payload.
func fallback(payload map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func orDefault(v, def any) any {
	if v == nil {
		return def
	}
	return v
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
