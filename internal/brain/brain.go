// Package brain holds the domain model for the GTM knowledge base:
// brain records, the status state machine, the enums accepted at the tool
// boundary, and deterministic identity derivation for upserts.
//
// Parsing is strict: enum values arrive as strings from MCP clients and are
// converted exactly once, at the boundary, via the Parse* constructors.
// Anything unrecognized fails with ErrInvalidInput instead of being
// normalized somewhere deep in the write path.
package brain

import (
	"fmt"
	"strings"
)

// Collection names in the vector store. Every payload in a child collection
// carries a brain_id field; reads always filter on it.
const (
	CollectionBrains    = "brains"
	CollectionICPRules  = "icp_rules"
	CollectionTemplates = "response_templates"
	CollectionHandlers  = "objection_handlers"
	CollectionResearch  = "market_research"
	CollectionInsights  = "insights"
)

// ContentCollections are the seedable collections that count toward
// completeness. Insights are excluded: they accumulate on their own.
var ContentCollections = []string{
	CollectionICPRules,
	CollectionTemplates,
	CollectionHandlers,
	CollectionResearch,
}

// Status is the lifecycle state of a brain.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ParseStatus converts a raw status string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusDraft, StatusActive, StatusArchived:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: status %q (valid: draft, active, archived)", ErrInvalidInput, s)
}

// Category classifies an insight.
type Category string

const (
	CategoryBuyingProcess          Category = "buying_process"
	CategoryPainPoint              Category = "pain_point"
	CategoryObjection              Category = "objection"
	CategoryCompetitiveIntel       Category = "competitive_intel"
	CategoryMessagingEffectiveness Category = "messaging_effectiveness"
	CategoryICPSignal              Category = "icp_signal"
)

var allCategories = []Category{
	CategoryBuyingProcess,
	CategoryPainPoint,
	CategoryObjection,
	CategoryCompetitiveIntel,
	CategoryMessagingEffectiveness,
	CategoryICPSignal,
}

// ParseCategory converts a raw category string into a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range allCategories {
		if Category(s) == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: category %q (valid: %s)", ErrInvalidInput, s, joinCategories())
}

func joinCategories() string {
	parts := make([]string, len(allCategories))
	for i, c := range allCategories {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

// Importance is the operator-assigned weight of an insight.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// ParseImportance converts a raw importance string into an Importance.
func ParseImportance(s string) (Importance, error) {
	switch Importance(s) {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return Importance(s), nil
	}
	return "", fmt.Errorf("%w: importance %q (valid: low, medium, high)", ErrInvalidInput, s)
}

// SourceType identifies where an insight came from.
type SourceType string

const (
	SourceCallTranscript  SourceType = "call_transcript"
	SourceEmailReply      SourceType = "email_reply"
	SourceLinkedInMessage SourceType = "linkedin_message"
	SourceManualEntry     SourceType = "manual_entry"
)

// ValidationStatus tracks the human-review state of an insight.
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
)

// ICPCategory classifies ICP scoring rules.
type ICPCategory string

const (
	ICPFirmographic  ICPCategory = "firmographic"
	ICPTechnographic ICPCategory = "technographic"
	ICPBehavioral    ICPCategory = "behavioral"
	ICPIntent        ICPCategory = "intent"
)

// ParseICPCategory converts a raw ICP category string.
func ParseICPCategory(s string) (ICPCategory, error) {
	switch ICPCategory(s) {
	case ICPFirmographic, ICPTechnographic, ICPBehavioral, ICPIntent:
		return ICPCategory(s), nil
	}
	return "", fmt.Errorf("%w: ICP category %q (valid: firmographic, technographic, behavioral, intent)", ErrInvalidInput, s)
}

// ReplyType classifies response templates by the inbound message they answer.
type ReplyType string

const (
	ReplyPositiveInterest    ReplyType = "positive_interest"
	ReplyPricingQuestion     ReplyType = "pricing_question"
	ReplyTimelineQuestion    ReplyType = "timeline_question"
	ReplyFeatureQuestion     ReplyType = "feature_question"
	ReplyIntegrationQuestion ReplyType = "integration_question"
	ReplyTimingObjection     ReplyType = "timing_objection"
	ReplyBudgetObjection     ReplyType = "budget_objection"
	ReplyCompetitorMention   ReplyType = "competitor_mention"
	ReplyReferral            ReplyType = "referral"
	ReplyUnsubscribe         ReplyType = "unsubscribe"
	ReplyNegative            ReplyType = "negative"
)

var allReplyTypes = []ReplyType{
	ReplyPositiveInterest, ReplyPricingQuestion, ReplyTimelineQuestion,
	ReplyFeatureQuestion, ReplyIntegrationQuestion, ReplyTimingObjection,
	ReplyBudgetObjection, ReplyCompetitorMention, ReplyReferral,
	ReplyUnsubscribe, ReplyNegative,
}

// ParseReplyType converts a raw reply type string.
func ParseReplyType(s string) (ReplyType, error) {
	for _, r := range allReplyTypes {
		if ReplyType(s) == r {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: reply_type %q", ErrInvalidInput, s)
}

// ResearchType classifies market research documents.
type ResearchType string

const (
	ResearchMarketOverview     ResearchType = "market_overview"
	ResearchCompetitorAnalysis ResearchType = "competitor_analysis"
	ResearchBuyerPersona       ResearchType = "buyer_persona"
	ResearchPainPoints         ResearchType = "pain_points"
	ResearchTrends             ResearchType = "trends"
	ResearchCaseStudy          ResearchType = "case_study"
)

// ParseResearchType converts a raw research content type string.
func ParseResearchType(s string) (ResearchType, error) {
	switch ResearchType(s) {
	case ResearchMarketOverview, ResearchCompetitorAnalysis, ResearchBuyerPersona,
		ResearchPainPoints, ResearchTrends, ResearchCaseStudy:
		return ResearchType(s), nil
	}
	return "", fmt.Errorf("%w: content_type %q", ErrInvalidInput, s)
}

// Source is the provenance record attached to an insight.
type Source struct {
	Type           SourceType `json:"type"`
	ID             string     `json:"id"`
	LeadID         string     `json:"lead_id,omitempty"`
	CompanyName    string     `json:"company_name,omitempty"`
	ExtractedQuote string     `json:"extracted_quote,omitempty"`
}

// Config is the per-brain behavior configuration.
type Config struct {
	TierThresholds       map[string]int `json:"default_tier_thresholds"`
	AutoResponseEnabled  bool           `json:"auto_response_enabled"`
	LearningEnabled      bool           `json:"learning_enabled"`
	QualityGateThreshold float64        `json:"quality_gate_threshold"`
}

// DefaultConfig returns the configuration applied when create_brain is
// called without one.
func DefaultConfig() Config {
	return Config{
		TierThresholds:       map[string]int{"tier1": 90, "tier2": 70, "tier3": 50},
		AutoResponseEnabled:  false,
		LearningEnabled:      true,
		QualityGateThreshold: 0.7,
	}
}

// Stats holds denormalized per-collection counts. Advisory only: recomputed
// on demand from the store, never treated as authoritative.
type Stats struct {
	ICPRules     int `json:"icp_rules_count"`
	Templates    int `json:"templates_count"`
	Handlers     int `json:"handlers_count"`
	ResearchDocs int `json:"research_docs_count"`
	Insights     int `json:"insights_count"`
}

// Completeness is the fraction of the four seedable content types with at
// least one item (0, 0.25, 0.5, 0.75, or 1.0). Insights don't count.
func (s Stats) Completeness() float64 {
	counts := []int{s.ICPRules, s.Templates, s.Handlers, s.ResearchDocs}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	return float64(present) / float64(len(counts))
}

// Brain is a versioned, per-vertical configuration bundle.
type Brain struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Vertical    string `json:"vertical"`
	Version     string `json:"version"`
	Status      Status `json:"status"`
	Description string `json:"description"`
	Config      Config `json:"config"`
	Stats       Stats  `json:"stats"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}
