package runstatus

import "testing"

func TestStateKey(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Authenticated, "authenticated"},
		{Reconnecting, "reconnecting"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.Key(); got != tt.want {
			t.Fatalf("%v.Key() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStateOpen(t *testing.T) {
	open := map[State]bool{Connected: true, Authenticating: true, Authenticated: true}
	for _, s := range All() {
		if got := s.Open(); got != open[s] {
			t.Fatalf("%v.Open() = %v, want %v", s, got, open[s])
		}
	}
}
