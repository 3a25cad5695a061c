package cover

import (
	"context"

	"github.com/pkg/errors"
)

const (
	CoverOpenState    = "open"
	CoverClosedState  = "closed"
	CoverOpeningState = "opening"
	CoverClosingState = "closing"
	CoverStoppedState = "stopped"
)

const (
	PositionClosed = 0.0
	PositionOpen   = 1.0
)

// Operation is the believed physical motion of the door.
type Operation uint8

const (
	OperationIdle Operation = iota
	OperationOpening
	OperationClosing
)

func (o Operation) String() string {
	switch o {
	case OperationOpening:
		return "opening"
	case OperationClosing:
		return "closing"
	default:
		return "idle"
	}
}

func (o Operation) MarshalText() (text []byte, err error) {
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*o = OperationIdle
	case "opening":
		*o = OperationOpening
	case "closing":
		*o = OperationClosing
	default:
		return errors.Errorf("unknown operation %q", text)
	}

	return nil
}

// Fault describes a condition the controller detected but cannot resolve.
type Fault string

const (
	FaultNone Fault = ""
	// FaultEndstopConflict is raised when both endstops are asserted at once.
	FaultEndstopConflict Fault = "endstop_conflict"
)

type State struct {
	Position  float64
	Operation Operation
	Fault     Fault
}

// Name maps the state onto the open/closed/opening/closing/stopped vocabulary
// used by Home Assistant covers.
func (s State) Name() string {
	switch s.Operation {
	case OperationOpening:
		return CoverOpeningState
	case OperationClosing:
		return CoverClosingState
	}

	switch s.Position {
	case PositionClosed:
		return CoverClosedState
	case PositionOpen:
		return CoverOpenState
	}

	return CoverStoppedState
}

type UpdateHandler func(state State)

type Cover interface {
	Name() string

	Position() float64
	State() State

	OnUpdate(h UpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	Toggle(ctx context.Context) error
	Press(ctx context.Context) error
	SetPosition(ctx context.Context, position float64) error
}

type Restorable interface {
	Cover

	RestorePosition(ctx context.Context, position float64) error
}
