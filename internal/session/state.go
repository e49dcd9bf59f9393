package session

import (
	"errors"
	"fmt"
	"strings"
)

// State is the lifecycle state of a session's kernel.
type State int

const (
	Idle State = iota
	Starting
	Running
	Restarting
	Stopped
	Crashed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case Stopped:
		return "stopped"
	case Crashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CanTransition reports whether the state machine allows moving from one
// state to another. Restarting is reachable from every state.
func CanTransition(from, to State) bool {
	if to == Restarting {
		return true
	}

	switch from {
	case Idle:
		return to == Starting
	case Starting:
		return to == Running || to == Stopped
	case Running:
		return to == Stopped || to == Crashed
	case Restarting:
		return to == Starting
	case Stopped, Crashed:
		return to == Starting
	default:
		return false
	}
}

// Control is an explicit lifecycle request from the client.
type Control string

const (
	ControlStart   Control = "start"
	ControlStop    Control = "stop"
	ControlRestart Control = "restart"
)

// ErrUnknownControl is returned by ParseControl for unsupported actions.
var ErrUnknownControl = errors.New("unknown control action")

// ParseControl validates a raw control action.
func ParseControl(s string) (Control, error) {
	switch c := Control(strings.ToLower(strings.TrimSpace(s))); c {
	case ControlStart, ControlStop, ControlRestart:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownControl, s)
	}
}
