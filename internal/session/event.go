package session

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies an outbound event on the connection.
type EventKind string

const (
	EventOutput   EventKind = "output"   // raw kernel stdout
	EventResponse EventKind = "response" // interpreted action message
	EventError    EventKind = "error"
	EventStatus   EventKind = "status" // state machine transitions
)

// Event is one outbound message. It is encoded on the wire as a single-key
// object such as {"output": "..."}.
type Event struct {
	Kind EventKind
	Text string
}

// Output, Response, Error and Status build events of the matching kind.
func Output(text string) Event   { return Event{Kind: EventOutput, Text: text} }
func Response(text string) Event { return Event{Kind: EventResponse, Text: text} }
func Error(text string) Event    { return Event{Kind: EventError, Text: text} }
func Status(s State) Event       { return Event{Kind: EventStatus, Text: s.String()} }

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[EventKind]string{e.Kind: e.Text})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[EventKind]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("event must have exactly one field, got %d", len(m))
	}
	for k, v := range m {
		switch k {
		case EventOutput, EventResponse, EventError, EventStatus:
			e.Kind, e.Text = k, v
		default:
			return fmt.Errorf("unknown event kind %q", k)
		}
	}
	return nil
}

// Inbound is a message received from the client. Exactly one field is
// expected to be set.
type Inbound struct {
	Command *string `json:"command,omitempty"`
	Control *string `json:"control,omitempty"`
}
