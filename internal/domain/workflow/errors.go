package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an action is not legal for the current status
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnknownStatus is returned when a status was never declared on the lattice
	ErrUnknownStatus = errors.New("unknown status")

	// ErrNotCandidate is returned when the operator is not eligible to act on the current step
	ErrNotCandidate = errors.New("operator is not a candidate handler")

	// ErrAlreadyResolved is returned when an OR step was already settled by another candidate
	ErrAlreadyResolved = errors.New("step already resolved")

	// ErrAlreadyActed is returned when an AND candidate acts twice on the same step
	ErrAlreadyActed = errors.New("operator already acted on this step")

	// ErrNoHandlerResolved is returned when the target step has no eligible handler
	ErrNoHandlerResolved = errors.New("no handler resolved")
)

// DispatchError carries the diagnostic context of a refused dispatch.
// It unwraps to one of the sentinels above.
type DispatchError struct {
	Kind      error
	ItemID    int64
	StepIndex int
	UserID    string
	Action    Action
	Reason    string
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("%v: item %d step %d action %s", e.Kind, e.ItemID, e.StepIndex, e.Action)
	if e.UserID != "" {
		msg += " operator " + e.UserID
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *DispatchError) Unwrap() error {
	return e.Kind
}
