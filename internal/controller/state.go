package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/dexft/dexft/internal/engine"
)

// State is the lifecycle state of the transfer server.
type State string

const (
	Stopped       State = "stopped"
	Starting      State = "starting"
	Running       State = "running"
	Stopping      State = "stopping"
	FailedToStart State = "failed_to_start"
)

var (
	// ErrInvalidTransition is returned when an edge is not in the transition table.
	ErrInvalidTransition = errors.New("controller: invalid state transition")
	// ErrBusy is returned by RequestStart while a stop is in progress.
	ErrBusy = errors.New("controller: stop in progress")
	// ErrUnexpectedTermination marks an engine exit nobody asked for.
	ErrUnexpectedTermination = errors.New("controller: engine terminated unexpectedly")
)

var allowedTransitions = map[State][]State{
	Stopped:       {Starting},
	FailedToStart: {Starting},
	Starting:      {Running, FailedToStart, Stopping},
	Running:       {Stopping, Stopped, FailedToStart},
	Stopping:      {Stopped},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether the state holds the background privilege.
func (s State) Active() bool {
	return s == Starting || s == Running
}

// PermissionDeniedError is recorded when a start precondition is missing.
type PermissionDeniedError struct {
	Err error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("controller: start precondition failed: %v", e.Err)
}

func (e *PermissionDeniedError) Unwrap() error { return e.Err }

// EngineBindError is recorded when the engine could not claim its listen
// address, either reported directly or inferred from an exit faster than
// the minimum run duration.
type EngineBindError struct {
	Uptime time.Duration
	Err    error
}

func (e *EngineBindError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("controller: engine exited after %s, treated as bind failure", e.Uptime)
	}
	return fmt.Sprintf("controller: engine failed to bind: %v", e.Err)
}

func (e *EngineBindError) Unwrap() error { return e.Err }

func isBindFailure(err error, uptime, minRun time.Duration) bool {
	return engine.IsBindError(err) || uptime < minRun
}
