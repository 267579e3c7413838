package boundary

import (
	"errors"

	"github.com/tillworks/poskernel/internal/kernel"
	"github.com/tillworks/poskernel/internal/ledger"
	"github.com/tillworks/poskernel/internal/money"
)

// Status is the stable numeric result code returned to hosts. Codes are
// versioned with the boundary and never renumbered; hosts map them to their
// own messages. No error text crosses the boundary.
type Status uint8

const (
	StatusOk                 Status = 0
	StatusNotFound           Status = 1
	StatusInvalidState       Status = 2
	StatusValidationFailed   Status = 3
	StatusInsufficientBuffer Status = 4
	StatusTimedOut           Status = 5
	StatusAlreadyVoided      Status = 6
	StatusInternalError      Status = 255
)

// String is for host-side logs only; it never travels with a result.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusInvalidState:
		return "invalid_state"
	case StatusValidationFailed:
		return "validation_failed"
	case StatusInsufficientBuffer:
		return "insufficient_buffer"
	case StatusTimedOut:
		return "timed_out"
	case StatusAlreadyVoided:
		return "already_voided"
	case StatusInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// statusOf collapses kernel and ledger errors onto the stable code set.
// Anything unrecognized is an internal error; the detail stays in the
// host-side log, never in the result.
func statusOf(err error) Status {
	if err == nil {
		return StatusOk
	}
	var stateErr *ledger.StateError
	switch {
	case errors.Is(err, kernel.ErrNotFound), errors.Is(err, ledger.ErrLineNotFound):
		return StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyVoided):
		return StatusAlreadyVoided
	case errors.As(err, &stateErr), errors.Is(err, kernel.ErrClosed):
		return StatusInvalidState
	case errors.Is(err, kernel.ErrSuspendExpired):
		return StatusTimedOut
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, money.ErrInvalidCurrency),
		errors.Is(err, money.ErrOverflow):
		return StatusValidationFailed
	default:
		return StatusInternalError
	}
}
