package brain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// Brain IDs are brain_{vertical}_{timestamp_ms}. The legacy
// brain_{vertical}_v{n} form is still accepted on input.
var brainIDPattern = regexp.MustCompile(`^brain_[a-z][a-z0-9_-]*_(\d+|v\d+)$`)

// verticalPattern constrains vertical slugs: lowercase, starts with a
// letter, alphanumeric plus hyphen/underscore.
var verticalPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// NewBrainID generates a unique brain ID for a vertical, e.g.
// brain_defense_1705590000000.
func NewBrainID(vertical string, now time.Time) string {
	return fmt.Sprintf("brain_%s_%d", vertical, now.UnixMilli())
}

// ValidBrainID reports whether id matches the brain ID format.
func ValidBrainID(id string) bool {
	return brainIDPattern.MatchString(id)
}

// CheckBrainID validates a brain ID, returning ErrInvalidInput on mismatch.
func CheckBrainID(id string) error {
	if !ValidBrainID(id) {
		return fmt.Errorf("%w: brain_id %q (expected brain_{vertical}_{timestamp})", ErrInvalidInput, id)
	}
	return nil
}

// CheckVertical validates a vertical slug (format plus 2-50 length).
func CheckVertical(vertical string) error {
	if len(vertical) < 2 || len(vertical) > 50 {
		return fmt.Errorf("%w: vertical must be 2-50 characters", ErrInvalidInput)
	}
	if !verticalPattern.MatchString(vertical) {
		return fmt.Errorf("%w: vertical %q must be lowercase, start with a letter, and contain only [a-z0-9_-]", ErrInvalidInput, vertical)
	}
	return nil
}

// PointID derives the deterministic vector-store point identifier for a
// record keyed by (brainID, key). The store only knows point IDs, so upsert
// semantics come entirely from this derivation: same brain + same key maps
// to the same point, and re-seeding updates in place.
//
// Algorithm: first 32 hex chars of sha256(brainID + ":" + key), formatted
// as a UUID (8-4-4-4-12). STABLE BY CONTRACT — changing it would silently
// break upsert idempotence for every record already stored.
func PointID(brainID, key string) string {
	sum := sha256.Sum256([]byte(brainID + ":" + key))
	h := hex.EncodeToString(sum[:])[:32]
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[:8], h[8:12], h[12:16], h[16:20], h[20:32])
}
