package stream

// State is the supervisor connection state.
type State int32

const (
	// StateDisconnected indicates no session and no attempt in progress.
	StateDisconnected State = iota

	// StateConnecting indicates token acquisition or Open in progress.
	StateConnecting

	// StateConnected indicates a live session with subscriptions restored.
	StateConnected

	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
