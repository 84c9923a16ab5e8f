package resource

import (
	"errors"
	"fmt"
)

// State is a unit's lifecycle state.
type State string

const (
	StateAvailable State = "available"
	StateOccupied  State = "occupied"
	StateDirty     State = "dirty"
	StateCleaning  State = "cleaning"

	StateIdle   State = "idle"
	StateActive State = "active"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventAllocate             Event = "allocate"
	EventRelease              Event = "release"
	EventStartCleaning        Event = "start_cleaning"
	EventFinishCleaning       Event = "finish_cleaning"
	EventCall                 Event = "call"
	EventCompleteConsultation Event = "complete_consultation"
)

// ErrInvalidTransition is returned for any event not permitted from the
// unit's current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

type edge struct {
	from  State
	event Event
}

var bedTransitions = map[edge]State{
	{StateAvailable, EventAllocate}:      StateOccupied,
	{StateOccupied, EventRelease}:        StateDirty,
	{StateDirty, EventStartCleaning}:     StateCleaning,
	{StateCleaning, EventFinishCleaning}: StateAvailable,
}

var roomTransitions = map[edge]State{
	{StateIdle, EventCall}:                   StateActive,
	{StateActive, EventCompleteConsultation}: StateIdle,
}

// Transition returns the state a unit of the given category moves to when
// ev fires in state from.
func Transition(c Category, from State, ev Event) (State, error) {
	table := bedTransitions
	if c == CategoryConsultation {
		table = roomTransitions
	}
	to, ok := table[edge{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s cannot %s from %s", ErrInvalidTransition, c, ev, from)
	}
	return to, nil
}

// ReadyState is the state in which a unit of category c can be allocated.
func ReadyState(c Category) State {
	if c == CategoryConsultation {
		return StateIdle
	}
	return StateAvailable
}

// InitialState is the state a freshly provisioned unit starts in.
func InitialState(c Category) State {
	return ReadyState(c)
}

// AllocateEvent is the event that takes a ready unit of category c.
func AllocateEvent(c Category) Event {
	if c == CategoryConsultation {
		return EventCall
	}
	return EventAllocate
}

// ReleaseEvent is the event that ends an occupancy of category c.
func ReleaseEvent(c Category) Event {
	if c == CategoryConsultation {
		return EventCompleteConsultation
	}
	return EventRelease
}

// Busy reports whether the state holds an active assignment.
func Busy(s State) bool {
	return s == StateOccupied || s == StateActive
}
