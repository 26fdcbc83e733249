// Package lifecycle manages brains end to end: creation, lookup, status
// transitions with single-active enforcement, content seeding, insight
// intake through the quality gate, cascade deletion, and reporting.
// All persistence goes through the vector store; the brain record itself
// lives as a point in the brains collection.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/atlasgtm/gtmbrain/internal/brain"
	"github.com/atlasgtm/gtmbrain/internal/embed"
	"github.com/atlasgtm/gtmbrain/internal/gate"
	"github.com/atlasgtm/gtmbrain/internal/logging"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

// VectorDim is the embedding dimensionality collections are created with.
const VectorDim = 1024

const timeLayout = "2006-01-02T15:04:05Z"

// Manager owns brain lifecycle operations.
type Manager struct {
	store    vector.Store
	embedder embed.Embedder
	gate     *gate.Gate
	log      *logging.Logger

	now   func() time.Time
	newID func() string
}

// NewManager wires a Manager. The gate is used only by AddInsight.
func NewManager(store vector.Store, embedder embed.Embedder, g *gate.Gate, log *logging.Logger) *Manager {
	return &Manager{
		store:    store,
		embedder: embedder,
		gate:     g,
		log:      log.With("component", "lifecycle"),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// EnsureCollections creates every collection the knowledge base uses.
// Idempotent; called once at startup.
func (m *Manager) EnsureCollections(ctx context.Context) error {
	all := append([]string{brain.CollectionBrains, brain.CollectionInsights}, brain.ContentCollections...)
	for _, name := range all {
		if err := m.store.EnsureCollection(ctx, name, VectorDim); err != nil {
			return fmt.Errorf("ensure collection %s: %w", name, err)
		}
	}
	return nil
}

// timestamp renders the current time in the stored RFC3339-UTC form.
func (m *Manager) timestamp() string {
	return m.now().UTC().Format(timeLayout)
}

// brainText is the text a brain record is embedded under, so brains are
// themselves semantically searchable.
func brainText(b brain.Brain) string {
	return fmt.Sprintf("brain %s %s %s", b.Vertical, b.Name, b.Description)
}

// brainPayload converts a Brain to its stored payload form via its JSON
// tags, which define the on-disk field names.
func brainPayload(b brain.Brain) (map[string]any, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal brain: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal brain payload: %w", err)
	}
	return out, nil
}

func brainFromPayload(p map[string]any) (brain.Brain, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return brain.Brain{}, fmt.Errorf("marshal payload: %w", err)
	}
	var b brain.Brain
	if err := json.Unmarshal(raw, &b); err != nil {
		return brain.Brain{}, fmt.Errorf("decode brain payload: %w", err)
	}
	return b, nil
}

// upsertBrain re-embeds and writes a brain record under its deterministic
// point ID.
func (m *Manager) upsertBrain(ctx context.Context, b brain.Brain) error {
	vec, err := m.embedder.EmbedDocuments(ctx, []string{brainText(b)})
	if err != nil {
		return fmt.Errorf("embed brain record: %w", err)
	}
	payload, err := brainPayload(b)
	if err != nil {
		return err
	}
	return m.store.Upsert(ctx, brain.CollectionBrains, []vector.Point{{
		ID:      brain.PointID(b.ID, b.ID),
		Vector:  vec[0],
		Payload: payload,
	}})
}

// requireBrain loads a brain by ID or fails with ErrNotFound. The ID
// format is validated first so malformed IDs never hit the store.
func (m *Manager) requireBrain(ctx context.Context, brainID string) (brain.Brain, error) {
	if err := brain.CheckBrainID(brainID); err != nil {
		return brain.Brain{}, err
	}
	points, err := m.store.Scroll(ctx, brain.CollectionBrains,
		vector.Filter{Must: []vector.Condition{{Field: "id", Value: brainID}}}, 1)
	if err != nil {
		return brain.Brain{}, err
	}
	if len(points) == 0 {
		return brain.Brain{}, fmt.Errorf("%w: brain %s", brain.ErrNotFound, brainID)
	}
	return brainFromPayload(points[0].Payload)
}

// requireSeedable loads a brain and rejects archived ones. Only draft
// and active brains accept new content.
func (m *Manager) requireSeedable(ctx context.Context, brainID string) (brain.Brain, error) {
	b, err := m.requireBrain(ctx, brainID)
	if err != nil {
		return brain.Brain{}, err
	}
	if b.Status == brain.StatusArchived {
		return brain.Brain{}, fmt.Errorf("%w: %s is archived, only draft or active brains can receive content",
			brain.ErrNotSeedable, brainID)
	}
	return b, nil
}

// CreateBrainInput carries create_brain parameters. Config nil means the
// defaults.
type CreateBrainInput struct {
	Vertical    string
	Name        string
	Description string
	Config      *brain.Config
}

// CreateBrainResult is the create_brain response.
type CreateBrainResult struct {
	BrainID string `json:"brain_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateBrain validates input, generates a brain ID, and stores the new
// brain in draft status.
func (m *Manager) CreateBrain(ctx context.Context, in CreateBrainInput) (CreateBrainResult, error) {
	if err := brain.CheckVertical(in.Vertical); err != nil {
		return CreateBrainResult{}, err
	}
	if n := utf8.RuneCountInString(in.Name); n < 3 || n > 100 {
		return CreateBrainResult{}, fmt.Errorf("%w: name must be 3-100 characters", brain.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(in.Description); n < 10 || n > 500 {
		return CreateBrainResult{}, fmt.Errorf("%w: description must be 10-500 characters", brain.ErrInvalidInput)
	}

	cfg := brain.DefaultConfig()
	if in.Config != nil {
		cfg = *in.Config
		if cfg.TierThresholds == nil {
			cfg.TierThresholds = brain.DefaultConfig().TierThresholds
		}
		if cfg.QualityGateThreshold <= 0 {
			cfg.QualityGateThreshold = brain.DefaultConfig().QualityGateThreshold
		}
	}

	ts := m.timestamp()
	b := brain.Brain{
		ID:          brain.NewBrainID(in.Vertical, m.now()),
		Name:        in.Name,
		Vertical:    in.Vertical,
		Version:     "1.0",
		Status:      brain.StatusDraft,
		Description: in.Description,
		Config:      cfg,
		Stats:       brain.Stats{},
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := m.upsertBrain(ctx, b); err != nil {
		return CreateBrainResult{}, err
	}

	m.log.Info("brain created", "brain_id", b.ID, "vertical", b.Vertical)
	return CreateBrainResult{
		BrainID: b.ID,
		Status:  string(brain.StatusDraft),
		Message: fmt.Sprintf("Brain '%s' created for vertical '%s'", in.Name, in.Vertical),
	}, nil
}

// GetBrain resolves a brain three ways: by explicit ID, by a vertical's
// active brain, or (with neither) the default active brain. A nil result
// with nil error means no match.
func (m *Manager) GetBrain(ctx context.Context, brainID, vertical string) (*brain.Brain, error) {
	var filter vector.Filter
	switch {
	case brainID != "":
		filter = vector.Filter{Must: []vector.Condition{{Field: "id", Value: brainID}}}
	case vertical != "":
		filter = vector.Filter{Must: []vector.Condition{
			{Field: "vertical", Value: vertical},
			{Field: "status", Value: string(brain.StatusActive)},
		}}
	default:
		filter = vector.Filter{Must: []vector.Condition{
			{Field: "status", Value: string(brain.StatusActive)},
		}}
	}

	points, err := m.store.Scroll(ctx, brain.CollectionBrains, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	b, err := brainFromPayload(points[0].Payload)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// maxBrainListing caps ListBrains. Brains are per-vertical configuration
// bundles, a few per vertical at most; the cap exists so the listing is
// one scroll page, not an unbounded read.
const maxBrainListing = 1000

// ListBrains returns every brain record, up to maxBrainListing.
func (m *Manager) ListBrains(ctx context.Context) ([]brain.Brain, error) {
	points, err := m.store.Scroll(ctx, brain.CollectionBrains, vector.Filter{}, maxBrainListing)
	if err != nil {
		return nil, err
	}
	out := make([]brain.Brain, 0, len(points))
	for _, p := range points {
		b, err := brainFromPayload(p.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
