package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atlasgtm/gtmbrain/internal/brain"
	"github.com/atlasgtm/gtmbrain/internal/gate"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

// Insight statuses in the add_insight response.
const (
	InsightCreated   = "created"
	InsightDuplicate = "duplicate"
	InsightRejected  = "rejected"
)

// AddInsightInput carries add_insight parameters after boundary parsing.
type AddInsightInput struct {
	BrainID    string
	Content    string
	Category   brain.Category
	Importance brain.Importance
	Source     brain.Source
}

// AddInsightResult is the add_insight response. Fields are populated
// according to Status: created fills ID/Confidence/NeedsValidation,
// duplicate fills ExistingID/Reason, rejected fills Reason.
type AddInsightResult struct {
	Status          string  `json:"status"`
	ID              string  `json:"id,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	NeedsValidation bool    `json:"needs_validation"`
	ExistingID      string  `json:"existing_id,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

// AddInsight runs the quality gate and persists passes. Rejections and
// duplicates are reported, never stored, and leave no trace in the
// insights collection.
func (m *Manager) AddInsight(ctx context.Context, in AddInsightInput) (AddInsightResult, error) {
	if in.Source.Type == "" {
		return AddInsightResult{}, fmt.Errorf("%w: source type is required", brain.ErrInvalidInput)
	}
	if in.Source.ID == "" {
		return AddInsightResult{}, fmt.Errorf("%w: source id is required", brain.ErrInvalidInput)
	}

	b, err := m.requireBrain(ctx, in.BrainID)
	if err != nil {
		return AddInsightResult{}, err
	}

	g := m.gate
	if t := b.Config.QualityGateThreshold; t > 0 {
		g = g.WithMinConfidence(t)
	}
	verdict, err := g.Evaluate(ctx, gate.Insight{
		BrainID:    in.BrainID,
		Content:    in.Content,
		Category:   in.Category,
		Importance: in.Importance,
		Source:     in.Source,
	})
	if err != nil {
		return AddInsightResult{}, err
	}

	switch verdict.Outcome {
	case gate.OutcomeRejected:
		return AddInsightResult{Status: InsightRejected, Reason: verdict.Reason}, nil
	case gate.OutcomeDuplicate:
		return AddInsightResult{
			Status:     InsightDuplicate,
			ExistingID: verdict.DuplicateID,
			Reason: fmt.Sprintf("Similar insight already exists (similarity: %.3f)",
				verdict.Similarity),
		}, nil
	}

	insightID := m.newID()
	vecs, err := m.embedder.EmbedDocuments(ctx, []string{in.Content})
	if err != nil {
		return AddInsightResult{}, fmt.Errorf("embed insight: %w", err)
	}

	sourcePayload, err := toMap(in.Source)
	if err != nil {
		return AddInsightResult{}, err
	}
	payload := map[string]any{
		"brain_id":   in.BrainID,
		"content":    in.Content,
		"category":   string(in.Category),
		"importance": string(in.Importance),
		"source":     sourcePayload,
		"confidence": verdict.Confidence,
		"validation": map[string]any{
			"status":           string(brain.ValidationPending),
			"needs_validation": verdict.NeedsValidation,
		},
		"created_at": m.timestamp(),
	}
	err = m.store.Upsert(ctx, brain.CollectionInsights, []vector.Point{{
		ID:      insightID,
		Vector:  vecs[0],
		Payload: payload,
	}})
	if err != nil {
		return AddInsightResult{}, err
	}

	m.log.Info("insight created",
		"brain_id", in.BrainID, "insight_id", insightID,
		"confidence", verdict.Confidence, "needs_validation", verdict.NeedsValidation)
	return AddInsightResult{
		Status:          InsightCreated,
		ID:              insightID,
		Confidence:      verdict.Confidence,
		NeedsValidation: verdict.NeedsValidation,
	}, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return out, nil
}
