package lifecycle

import (
	"context"
	"fmt"

	"github.com/atlasgtm/gtmbrain/internal/brain"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

// StatusResult is the update_brain_status response.
type StatusResult struct {
	BrainID            string `json:"brain_id"`
	PreviousStatus     string `json:"previous_status"`
	NewStatus          string `json:"new_status"`
	DeactivatedBrainID string `json:"deactivated_brain_id,omitempty"`
	Message            string `json:"message"`
}

// UpdateStatus transitions a brain through the state machine. Activation
// enforces at most one active brain per vertical: any other active brain
// in the vertical is archived first, then the target is activated. That
// ordering means a failure mid-way leaves zero active brains rather than
// two, and the next activation converges.
func (m *Manager) UpdateStatus(ctx context.Context, brainID, status string) (StatusResult, error) {
	next, err := brain.ParseStatus(status)
	if err != nil {
		return StatusResult{}, err
	}

	b, err := m.requireBrain(ctx, brainID)
	if err != nil {
		return StatusResult{}, err
	}
	current := b.Status

	if err := brain.CheckTransition(current, next); err != nil {
		return StatusResult{}, err
	}

	var deactivated string
	if next == brain.StatusActive {
		deactivated, err = m.archiveActivePeers(ctx, b.Vertical, brainID)
		if err != nil {
			return StatusResult{}, err
		}
	}

	b.Status = next
	b.UpdatedAt = m.timestamp()
	if err := m.upsertBrain(ctx, b); err != nil {
		return StatusResult{}, err
	}

	m.log.Info("brain status updated",
		"brain_id", brainID, "from", string(current), "to", string(next),
		"deactivated", deactivated)
	return StatusResult{
		BrainID:            brainID,
		PreviousStatus:     string(current),
		NewStatus:          string(next),
		DeactivatedBrainID: deactivated,
		Message: fmt.Sprintf("Brain '%s' status updated from '%s' to '%s'",
			brainID, current, next),
	}, nil
}

// archiveActivePeers archives every active brain in the vertical other
// than the one being activated, returning the last archived ID. There
// should be at most one, but stragglers from interrupted activations are
// cleaned up too.
func (m *Manager) archiveActivePeers(ctx context.Context, vertical, exceptID string) (string, error) {
	points, err := m.store.Scroll(ctx, brain.CollectionBrains, vector.Filter{
		Must: []vector.Condition{
			{Field: "vertical", Value: vertical},
			{Field: "status", Value: string(brain.StatusActive)},
		},
	}, 10)
	if err != nil {
		return "", err
	}

	var deactivated string
	for _, p := range points {
		peer, err := brainFromPayload(p.Payload)
		if err != nil {
			return "", err
		}
		if peer.ID == "" || peer.ID == exceptID {
			continue
		}
		peer.Status = brain.StatusArchived
		peer.UpdatedAt = m.timestamp()
		if err := m.upsertBrain(ctx, peer); err != nil {
			return "", err
		}
		deactivated = peer.ID
	}
	return deactivated, nil
}
