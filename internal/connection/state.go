// Package connection provides the protocol-agnostic connection
// lifecycle: a serialized state machine, a retrying connect loop, a
// periodic health monitor, and transition fanout to listeners.
package connection

import "time"

// State is the lifecycle state of a managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateShuttingDown
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateShuttingDown:
		return "shutting_down"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Transition is a broadcast state change.
type Transition struct {
	Service string
	From    State
	To      State
	At      time.Time
	Err     string // optional error context
}
