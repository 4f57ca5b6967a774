package runstatus

import "strings"

// State is the connection state of a socket session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Authenticating
	Authenticated
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Authenticating:
		return "Authenticating"
	case Authenticated:
		return "Authenticated"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// Key is the lower-case form used for log fields and metric labels.
func (s State) Key() string {
	return Key(s.String())
}

// Open reports whether a transport is up in this state.
func (s State) Open() bool {
	return s == Connected || s == Authenticating || s == Authenticated
}

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// All lists every state in declaration order.
func All() []State {
	return []State{Disconnected, Connecting, Connected, Authenticating, Authenticated, Reconnecting}
}
