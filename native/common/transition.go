package common

import "fmt"

// ErrTransitionRejected marks an operation that is not legal from the current
// state. Callers should wrap it with the offending state and operation.
var ErrTransitionRejected = fmt.Errorf("transition not allowed")

// TransitionTable declares, in one auditable place, every legal
// state/operation pair of a native state machine and the state it leads to.
// Dispatch logic consults the table instead of scattering per-operation status
// checks.
type TransitionTable[S comparable] map[S]map[string]S

// Next returns the successor state for applying op in state from. The second
// return value reports whether the transition is legal.
func (t TransitionTable[S]) Next(from S, op string) (S, bool) {
	ops, ok := t[from]
	if !ok {
		var zero S
		return zero, false
	}
	next, ok := ops[op]
	return next, ok
}

// Require is Next with the rejection folded into an error.
func (t TransitionTable[S]) Require(from S, op string) (S, error) {
	next, ok := t.Next(from, op)
	if !ok {
		var zero S
		return zero, fmt.Errorf("%w: %v -> %s", ErrTransitionRejected, from, op)
	}
	return next, nil
}
