package machine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoPortFound is returned when no serial device answers as a controller.
	ErrNoPortFound = errors.New("no serial port found")

	// ErrMachineUnresponsive matches an UnresponsiveError.
	ErrMachineUnresponsive = errors.New("machine unresponsive")

	// ErrNotConnected is returned by operations on a Machine without a connection.
	ErrNotConnected = errors.New("machine not connected")

	// ErrClosed is returned by operations on a Machine after Disconnect.
	ErrClosed = errors.New("machine closed")
)

// OutOfBoundsError is returned when a coordinate is outside the configured
// limits for its axis.
type OutOfBoundsError struct {
	Axis      Axis
	Value     float64
	Low, High float64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s=%g out of bounds [%g, %g]", e.Axis, e.Value, e.Low, e.High)
}

// ConnectionError is returned when a port cannot be opened or the firmware
// does not come up.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return "connect " + e.Port + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError is returned when reading or writing fails mid-session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnresponsiveError is returned when the machine does not report Idle
// within the configured time.
type UnresponsiveError struct {
	Elapsed time.Duration

	// LastState is the last parsed state, or nil if none was received.
	LastState *State
}

func (e *UnresponsiveError) Error() string {
	if e.LastState == nil {
		return fmt.Sprintf("machine unresponsive after %s: no status received", e.Elapsed)
	}
	return fmt.Sprintf("machine unresponsive after %s: last state %s", e.Elapsed, e.LastState.Status)
}

func (e *UnresponsiveError) Is(target error) bool { return target == ErrMachineUnresponsive }

// CommandError is an `error:N` reply from the controller.
type CommandError struct {
	Line string
	Code string
}

func (e *CommandError) Error() string {
	if e.Line == "" {
		return "controller error:" + e.Code
	}
	return fmt.Sprintf("controller error:%s for %q", e.Code, e.Line)
}

// AlarmError is returned when the controller enters an alarm state.
type AlarmError struct {
	// Code is the alarm code from an `ALARM:N` message, if one was seen.
	Code  string
	State string
}

func (e *AlarmError) Error() string {
	if e.Code != "" {
		return "controller alarm:" + e.Code
	}
	return "controller in alarm state: " + e.State
}

// DispatchError is returned by ExecuteMovement when a move fails. Moves
// after the failing one are discarded.
type DispatchError struct {
	// Done is the number of moves that completed before the failure.
	Done  int
	Total int
	Move  Move
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("move %d/%d %s: %v", e.Done+1, e.Total, e.Move, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
