package brain

import "fmt"

// validTransitions is the exhaustive status transition table. Anything not
// listed is rejected. There is no terminal state: archived brains can be
// reactivated.
var validTransitions = map[Status][]Status{
	StatusDraft:    {StatusActive},
	StatusActive:   {StatusArchived},
	StatusArchived: {StatusActive},
}

// CanTransition reports whether the state machine allows current -> next.
func CanTransition(current, next Status) bool {
	for _, allowed := range validTransitions[current] {
		if next == allowed {
			return true
		}
	}
	return false
}

// CheckTransition validates current -> next, returning ErrInvalidTransition
// with the allowed targets on rejection.
func CheckTransition(current, next Status) error {
	if CanTransition(current, next) {
		return nil
	}
	targets := validTransitions[current]
	if len(targets) == 0 {
		return fmt.Errorf("%w: %q has no outgoing transitions", ErrInvalidTransition, current)
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = string(t)
	}
	return fmt.Errorf("%w: %q -> %q (valid from %q: %v)", ErrInvalidTransition, current, next, current, names)
}
