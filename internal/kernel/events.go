package kernel

import "time"

// EventKind identifies what a kernel event carries.
type EventKind int

const (
	EventOutput     EventKind = iota // stdout chunk
	EventDiagnostic                  // stderr chunk
	EventExit                        // last event of a process generation
)

func (k EventKind) String() string {
	switch k {
	case EventOutput:
		return "output"
	case EventDiagnostic:
		return "diagnostic"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is delivered on Manager.Events in the order it was produced.
type Event struct {
	Kind      EventKind
	ProcessID string
	Data      string
	ExitCode  int
	Requested bool // exit was caused by Stop, Restart or Close
	Err       error
	At        time.Time
}

// Crashed reports whether the event is an exit nobody asked for with a
// failing status. Signal deaths report exit code -1.
func (e Event) Crashed() bool {
	return e.Kind == EventExit && !e.Requested && e.ExitCode != 0
}
