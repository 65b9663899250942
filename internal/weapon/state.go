package weapon

import (
	"errors"
	"fmt"
)

// ErrInvalidStateTransition is returned when an action is requested from a
// state that does not allow it.
var ErrInvalidStateTransition = errors.New("weapon: invalid state transition")

// State is the bow's action state.
type State int

const (
	Idle State = iota
	Drawing
	Releasing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Drawing:
		return "drawing"
	case Releasing:
		return "releasing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransitionError describes a rejected action.
type TransitionError struct {
	Action string
	From   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("weapon: cannot %s while %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}
