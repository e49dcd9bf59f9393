package session

import "time"

// ExitDisconnect is recorded when the client connection ends.
const ExitDisconnect = "disconnect"

// Session is the persisted record of one client connection and its kernel.
type Session struct {
	ID           string     `json:"id"`
	Distribution string     `json:"distribution"`
	RemoteAddr   string     `json:"remote_addr,omitempty"`
	Status       string     `json:"status"` // State.String(), or "closed" once the connection ended
	StartedAt    time.Time  `json:"started_at"`
	KernelPID    int        `json:"kernel_pid,omitempty"`
	Commands     int        `json:"commands"`
	Restarts     int        `json:"restarts"`
	Crashes      int        `json:"crashes"`
	StoppedAt    *time.Time `json:"stopped_at,omitempty"`
	ExitReason   string     `json:"exit_reason,omitempty"`
}

// StatusClosed marks a record whose connection has ended.
const StatusClosed = "closed"

// Closed reports whether the record belongs to a finished session.
func (s *Session) Closed() bool {
	return s.Status == StatusClosed
}
