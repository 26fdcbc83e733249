package lifecycle

import (
	"context"
	"fmt"

	"github.com/atlasgtm/gtmbrain/internal/brain"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

// seedSpec names the item field that gets embedded and the field that,
// combined with the brain ID, forms the upsert key.
type seedSpec struct {
	embedField string
	keyField   string
}

var seedSpecs = map[string]seedSpec{
	brain.CollectionICPRules:  {embedField: "criteria", keyField: "name"},
	brain.CollectionTemplates: {embedField: "template_text", keyField: "name"},
	brain.CollectionHandlers:  {embedField: "objection_text", keyField: "objection_text"},
	brain.CollectionResearch:  {embedField: "content", keyField: "topic"},
}

// SeedError describes one item that could not be seeded.
type SeedError struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// SeedResult reports a seeding call, including partial failures.
type SeedResult struct {
	BrainID     string      `json:"brain_id"`
	Collection  string      `json:"collection"`
	SeededCount int         `json:"seeded_count"`
	Errors      []SeedError `json:"errors"`
	Message     string      `json:"message"`
}

// SeedItems writes items into one of the seedable collections. Items
// missing their embed or key field are skipped and reported; the valid
// remainder is batch-embedded and upserted. Point IDs derive from
// (brain_id, key), so re-seeding the same key updates in place.
func (m *Manager) SeedItems(ctx context.Context, brainID, collection string, items []map[string]any) (SeedResult, error) {
	spec, ok := seedSpecs[collection]
	if !ok {
		return SeedResult{}, fmt.Errorf("%w: collection %q is not seedable", brain.ErrInvalidInput, collection)
	}

	if len(items) == 0 {
		return SeedResult{
			BrainID:    brainID,
			Collection: collection,
			Errors:     []SeedError{},
			Message:    "No items to seed",
		}, nil
	}

	if _, err := m.requireSeedable(ctx, brainID); err != nil {
		return SeedResult{}, err
	}

	errs := []SeedError{}
	type validItem struct {
		index int
		item  map[string]any
		text  string
		key   string
	}
	valid := make([]validItem, 0, len(items))

	for i, item := range items {
		name := itemName(item, i)
		text, _ := item[spec.embedField].(string)
		if text == "" {
			errs = append(errs, SeedError{Index: i, Name: name,
				Error: fmt.Sprintf("Missing required field: %s", spec.embedField)})
			continue
		}
		key := stringValue(item[spec.keyField])
		if key == "" {
			errs = append(errs, SeedError{Index: i, Name: name,
				Error: fmt.Sprintf("Missing required field: %s", spec.keyField)})
			continue
		}
		valid = append(valid, validItem{index: i, item: item, text: text, key: key})
	}

	if len(valid) == 0 {
		return SeedResult{
			BrainID:    brainID,
			Collection: collection,
			Errors:     errs,
			Message:    fmt.Sprintf("No valid items to seed. %d errors.", len(errs)),
		}, nil
	}

	texts := make([]string, len(valid))
	for i, v := range valid {
		texts[i] = v.text
	}
	vecs, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return SeedResult{}, fmt.Errorf("embedding failed: %w", err)
	}

	ts := m.timestamp()
	points := make([]vector.Point, len(valid))
	for i, v := range valid {
		payload := make(map[string]any, len(v.item)+3)
		for k, val := range v.item {
			payload[k] = val
		}
		payload["brain_id"] = brainID
		payload["created_at"] = ts
		payload["updated_at"] = ts
		points[i] = vector.Point{
			ID:      brain.PointID(brainID, v.key),
			Vector:  vecs[i],
			Payload: payload,
		}
	}
	if err := m.store.Upsert(ctx, collection, points); err != nil {
		return SeedResult{}, err
	}

	msg := fmt.Sprintf("Successfully seeded %d items", len(points))
	if len(errs) > 0 {
		msg = fmt.Sprintf("Seeded %d items with %d errors", len(points), len(errs))
	}
	m.log.Info("seeded items",
		"brain_id", brainID, "collection", collection, "seeded", len(points), "errors", len(errs))
	return SeedResult{
		BrainID:     brainID,
		Collection:  collection,
		SeededCount: len(points),
		Errors:      errs,
		Message:     msg,
	}, nil
}

// itemName picks a display name for error reporting from whichever
// naming field the item carries.
func itemName(item map[string]any, index int) string {
	for _, field := range []string{"name", "topic", "objection_text"} {
		if v := stringValue(item[field]); v != "" {
			return v
		}
	}
	return fmt.Sprintf("item_%d", index)
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
