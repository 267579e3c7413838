package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrLineNotFound reports a line number with no Sale entry.
	ErrLineNotFound = errors.New("line not found")

	// ErrAlreadyVoided reports a second void of the same line.
	ErrAlreadyVoided = errors.New("line already voided")

	// ErrInvalidQuantity reports a quantity that is not positive. Callers
	// that want a line gone must void it, not adjust it to zero.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidAmount reports a negative unit price or tender.
	ErrInvalidAmount = errors.New("amount must not be negative")
)

// StateError reports an operation attempted outside the state that permits it.
// Terminal states (Committed, Aborted, TimedOut) accept no mutation at all.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not permitted in state %s", e.Op, e.State)
}

// IsStateError reports whether err is a StateError, unwrapping as needed.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

func newStateError(op string, state State) *StateError {
	return &StateError{Op: op, State: state}
}
