package devlink

import "time"

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Discovered
	Connected
	Closed
	Error
	// Stopped is terminal: Run has returned and nothing is retried.
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovered:
		return "discovered"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Error:
		return "error"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// idle reports whether s is one of the states that wait for the
// discovery timer.
func (s State) idle() bool {
	return s == Disconnected || s == Closed || s == Error
}

// Snapshot is a point-in-time copy of a Manager's status.
type Snapshot struct {
	State State
	// Target is the path of the selected device; empty unless the state
	// is Discovered or Connected.
	Target string
	// Since is when the current state was entered.
	Since time.Time
	// Attempts counts discovery scans since the link was last connected.
	Attempts int
}
