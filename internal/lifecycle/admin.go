package lifecycle

import (
	"context"
	"fmt"

	"github.com/atlasgtm/gtmbrain/internal/brain"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

// DeleteResult is the delete_brain response.
type DeleteResult struct {
	BrainID        string         `json:"brain_id"`
	DeletedContent map[string]int `json:"deleted_content"`
	Message        string         `json:"message"`
}

// DeleteBrain cascade-deletes a brain and all of its content. Active
// brains cannot be deleted, and the confirm flag is mandatory. Missing
// or failing content collections count as zero rather than aborting the
// cascade.
func (m *Manager) DeleteBrain(ctx context.Context, brainID string, confirm bool) (DeleteResult, error) {
	if !confirm {
		return DeleteResult{}, fmt.Errorf("%w: deletion requires confirm=true, this action cannot be undone",
			brain.ErrInvalidInput)
	}

	b, err := m.requireBrain(ctx, brainID)
	if err != nil {
		return DeleteResult{}, err
	}
	if b.Status == brain.StatusActive {
		return DeleteResult{}, fmt.Errorf("%w: cannot delete active brain %s, archive it first",
			brain.ErrInvalidInput, brainID)
	}

	cascade := append([]string{}, brain.ContentCollections...)
	cascade = append(cascade, brain.CollectionInsights)

	deleted := make(map[string]int, len(cascade))
	total := 0
	for _, collection := range cascade {
		scope := vector.ByBrain(brainID)
		n, err := m.store.Count(ctx, collection, scope)
		if err != nil {
			m.log.Warn("cascade count failed, skipping collection",
				"brain_id", brainID, "collection", collection, "error", err.Error())
			deleted[collection] = 0
			continue
		}
		if n > 0 {
			if err := m.store.DeleteByFilter(ctx, collection, scope); err != nil {
				return DeleteResult{}, fmt.Errorf("cascade delete %s: %w", collection, err)
			}
		}
		deleted[collection] = n
		total += n
	}

	if err := m.store.DeletePoints(ctx, brain.CollectionBrains, []string{brain.PointID(brainID, brainID)}); err != nil {
		return DeleteResult{}, fmt.Errorf("delete brain record: %w", err)
	}

	m.log.Info("brain deleted", "brain_id", brainID, "content_items", total)
	return DeleteResult{
		BrainID:        brainID,
		DeletedContent: deleted,
		Message:        fmt.Sprintf("Brain '%s' and %d content items deleted successfully", brainID, total),
	}, nil
}

// StatsResult is the get_brain_stats response.
type StatsResult struct {
	BrainID string `json:"brain_id"`
	brain.Stats
}

// Stats recomputes per-collection counts from the store. Collections
// that fail to count report zero.
func (m *Manager) Stats(ctx context.Context, brainID string) (StatsResult, error) {
	if _, err := m.requireBrain(ctx, brainID); err != nil {
		return StatsResult{}, err
	}

	out := StatsResult{BrainID: brainID}
	targets := []struct {
		collection string
		dest       *int
	}{
		{brain.CollectionICPRules, &out.ICPRules},
		{brain.CollectionTemplates, &out.Templates},
		{brain.CollectionHandlers, &out.Handlers},
		{brain.CollectionResearch, &out.ResearchDocs},
		{brain.CollectionInsights, &out.Insights},
	}
	for _, t := range targets {
		n, err := m.store.Count(ctx, t.collection, vector.ByBrain(brainID))
		if err != nil {
			m.log.Warn("stats count failed",
				"brain_id", brainID, "collection", t.collection, "error", err.Error())
			continue
		}
		*t.dest = n
	}
	return out, nil
}

// ContentDetail is one collection's slice of a brain report.
type ContentDetail struct {
	Collection  string `json:"collection"`
	LastUpdated string `json:"last_updated,omitempty"`
	Count       int    `json:"count"`
}

// ReportResult is the get_brain_report response.
type ReportResult struct {
	BrainID        string          `json:"brain_id"`
	Name           string          `json:"name"`
	Vertical       string          `json:"vertical"`
	Status         string          `json:"status"`
	Completeness   float64         `json:"completeness"`
	ContentDetails []ContentDetail `json:"content_details"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
	Message        string          `json:"message"`
}

// Report builds the seeding-progress report: per-collection counts with
// last-updated timestamps and the completeness fraction over the four
// seedable content types.
func (m *Manager) Report(ctx context.Context, brainID string) (ReportResult, error) {
	b, err := m.requireBrain(ctx, brainID)
	if err != nil {
		return ReportResult{}, err
	}

	var stats brain.Stats
	statDest := map[string]*int{
		brain.CollectionICPRules:  &stats.ICPRules,
		brain.CollectionTemplates: &stats.Templates,
		brain.CollectionHandlers:  &stats.Handlers,
		brain.CollectionResearch:  &stats.ResearchDocs,
	}

	details := make([]ContentDetail, 0, len(brain.ContentCollections))
	for _, collection := range brain.ContentCollections {
		detail := ContentDetail{Collection: collection}
		n, err := m.store.Count(ctx, collection, vector.ByBrain(brainID))
		if err != nil {
			m.log.Warn("report count failed",
				"brain_id", brainID, "collection", collection, "error", err.Error())
			details = append(details, detail)
			continue
		}
		detail.Count = n

		// The scroll only feeds last_updated; its page size does not
		// bound the count above.
		points, err := m.store.Scroll(ctx, collection, vector.ByBrain(brainID), 1000)
		if err != nil {
			m.log.Warn("report scroll failed",
				"brain_id", brainID, "collection", collection, "error", err.Error())
		}
		for _, p := range points {
			if updated := stringValue(p.Payload["updated_at"]); updated > detail.LastUpdated {
				detail.LastUpdated = updated
			}
		}
		details = append(details, detail)
		*statDest[collection] = detail.Count
	}

	completeness := stats.Completeness()
	return ReportResult{
		BrainID:        brainID,
		Name:           b.Name,
		Vertical:       b.Vertical,
		Status:         string(b.Status),
		Completeness:   completeness,
		ContentDetails: details,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		Message:        fmt.Sprintf("Brain report generated with %.0f%% content completeness", completeness*100),
	}, nil
}
