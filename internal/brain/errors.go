package brain

import "errors"

// Error kinds surfaced by the knowledge-base operations. Handlers at the
// tool boundary only ever show the message; these sentinels exist so
// internal callers can branch with errors.Is.
var (
	// ErrInvalidInput marks a malformed or out-of-range parameter. Raised
	// before any network call; never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a reference to a brain or content item that does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotSeedable marks a write against an archived brain. Archived is
	// read-only.
	ErrNotSeedable = errors.New("brain not seedable")
)
