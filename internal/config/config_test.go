package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// clearScreepsEnv unsets every SCREEPS_* variable for the test. go-flags
// treats an empty variable as set, so blanking is not enough.
func clearScreepsEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, "SCREEPS_") {
			continue
		}
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("Unsetenv(%q) error = %v", key, err)
		}
	}
}

func TestBuildEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		secure     bool
		wantAPI    string
		wantSocket string
	}{
		{name: "default host", host: "screeps.com", secure: true, wantAPI: "https://screeps.com/api", wantSocket: "wss://screeps.com/socket/websocket"},
		{name: "private server", host: "localhost:21025", secure: false, wantAPI: "http://localhost:21025/api", wantSocket: "ws://localhost:21025/socket/websocket"},
		{name: "pasted api url", host: "https://screeps.com/api/auth/me", secure: false, wantAPI: "https://screeps.com/api", wantSocket: "wss://screeps.com/socket/websocket"},
		{name: "pasted ws url", host: "ws://127.0.0.1:21025/socket/websocket", secure: true, wantAPI: "http://127.0.0.1:21025/api", wantSocket: "ws://127.0.0.1:21025/socket/websocket"},
		{name: "query fragment dropped", host: "https://screeps.com/anything?x=1#y", secure: true, wantAPI: "https://screeps.com/api", wantSocket: "wss://screeps.com/socket/websocket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoints, err := BuildEndpoints(tt.host, tt.secure)
			if err != nil {
				t.Fatalf("BuildEndpoints() error = %v", err)
			}
			if endpoints.APIBaseURL != tt.wantAPI {
				t.Fatalf("APIBaseURL = %q, want %q", endpoints.APIBaseURL, tt.wantAPI)
			}
			if endpoints.SocketURL != tt.wantSocket {
				t.Fatalf("SocketURL = %q, want %q", endpoints.SocketURL, tt.wantSocket)
			}
			if endpoints.SignInURL != tt.wantAPI+"/auth/signin" {
				t.Fatalf("SignInURL = %q", endpoints.SignInURL)
			}
		})
	}
}

func TestBuildEndpoints_Invalid(t *testing.T) {
	tests := []string{
		"",
		"ftp://example.com",
		"file:///tmp/screeps",
	}
	for _, host := range tests {
		t.Run(host, func(t *testing.T) {
			if _, err := BuildEndpoints(host, true); err == nil {
				t.Fatalf("expected error for %q", host)
			}
		})
	}
}

func TestEndpointsURL(t *testing.T) {
	endpoints, err := BuildEndpoints("screeps.com", true)
	if err != nil {
		t.Fatalf("BuildEndpoints() error = %v", err)
	}
	for _, path := range []string{"/game/room-terrain", "game/room-terrain"} {
		if got, want := endpoints.URL(path), "https://screeps.com/api/game/room-terrain"; got != want {
			t.Fatalf("URL(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestParseOptions_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	clearScreepsEnv(t)

	opts, err := ParseOptions(nil)
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if opts.Host != DefaultHost {
		t.Fatalf("Host = %q, want %q", opts.Host, DefaultHost)
	}
	if opts.Insecure {
		t.Fatalf("Insecure = true, want false")
	}
	if opts.Timeout != DefaultTimeout {
		t.Fatalf("Timeout = %v, want %v", opts.Timeout, DefaultTimeout)
	}
	if opts.Socket.MaxRetries != 10 || opts.Socket.MaxRetryDelay != time.Minute {
		t.Fatalf("Socket = %+v, want 10 retries capped at 1m", opts.Socket)
	}
	if opts.Socket.NoReconnect || opts.Socket.NoResubscribe || opts.Socket.NoKeepAlive {
		t.Fatalf("Socket = %+v, want reconnect, resubscribe and keep-alive enabled", opts.Socket)
	}
	if opts.Retry.AuthDelay != 2*time.Second {
		t.Fatalf("Retry.AuthDelay = %v, want 2s", opts.Retry.AuthDelay)
	}
}

func TestParseOptions_ArgsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	clearScreepsEnv(t)
	t.Setenv("SCREEPS_TOKEN", "env-token")
	t.Setenv("SCREEPS_SOCKET_MAX_RETRIES", "3")

	opts, err := ParseOptions([]string{"--host", "localhost:21025", "--insecure", "--socket.max-retry-delay", "5s"})
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if opts.Host != "localhost:21025" || !opts.Insecure {
		t.Fatalf("Host/Insecure = %q/%v", opts.Host, opts.Insecure)
	}
	if opts.Token != "env-token" {
		t.Fatalf("Token = %q, want env-token", opts.Token)
	}
	if opts.Socket.MaxRetries != 3 {
		t.Fatalf("Socket.MaxRetries = %d, want 3", opts.Socket.MaxRetries)
	}
	if opts.Socket.MaxRetryDelay != 5*time.Second {
		t.Fatalf("Socket.MaxRetryDelay = %v, want 5s", opts.Socket.MaxRetryDelay)
	}
	endpoints, err := opts.Endpoints()
	if err != nil {
		t.Fatalf("Endpoints() error = %v", err)
	}
	if endpoints.APIBaseURL != "http://localhost:21025/api" {
		t.Fatalf("APIBaseURL = %q", endpoints.APIBaseURL)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "token", opts: Options{Host: "screeps.com", Token: "t"}},
		{name: "token file", opts: Options{Host: "screeps.com", TokenFile: "/run/token"}},
		{name: "password", opts: Options{Host: "screeps.com", Email: "a@b.c", Password: "pw"}},
		{name: "no credentials", opts: Options{Host: "screeps.com"}, wantErr: true},
		{name: "email only", opts: Options{Host: "screeps.com", Email: "a@b.c"}, wantErr: true},
		{name: "no host", opts: Options{Token: "t"}, wantErr: true},
		{name: "negative retries", opts: Options{Host: "screeps.com", Token: "t", Socket: SocketOptions{MaxRetries: -1}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequired(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRequired() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
