package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	DefaultHost    = "screeps.com"
	DefaultTimeout = 7 * time.Second
)

type Options struct {
	Host      string        `long:"host" env:"SCREEPS_HOST" default:"screeps.com" description:"Server host, with port for private servers (e.g. localhost:21025)"`
	Insecure  bool          `long:"insecure" env:"SCREEPS_INSECURE" description:"Use http/ws instead of https/wss"`
	Token     string        `long:"token" env:"SCREEPS_TOKEN" description:"Static auth token"`
	TokenFile string        `long:"token-file" env:"SCREEPS_TOKEN_FILE" description:"File holding the auth token; reloaded when it changes"`
	Email     string        `long:"email" env:"SCREEPS_EMAIL" description:"Account email or username for sign-in"`
	Password  string        `long:"password" env:"SCREEPS_PASSWORD" description:"Account password for sign-in"`
	Timeout   time.Duration `long:"timeout" env:"SCREEPS_TIMEOUT" default:"7s" description:"HTTP request timeout"`
	Debug     bool          `long:"debug" env:"SCREEPS_DEBUG" description:"Enable verbose debug output"`
	LogDir    string        `long:"log-dir" env:"SCREEPS_LOG_DIR" description:"Mirror logs as JSONL files into this directory"`

	Socket SocketOptions `group:"Socket" namespace:"socket" env-namespace:"SCREEPS_SOCKET"`
	Retry  RetryOptions  `group:"Retry" namespace:"retry" env-namespace:"SCREEPS_RETRY"`
}

type SocketOptions struct {
	NoReconnect   bool          `long:"no-reconnect" env:"NO_RECONNECT" description:"Do not reconnect after the socket closes"`
	NoResubscribe bool          `long:"no-resubscribe" env:"NO_RESUBSCRIBE" description:"Do not replay subscriptions after reconnecting"`
	NoKeepAlive   bool          `long:"no-keepalive" env:"NO_KEEPALIVE" description:"Do not send keep-alive pings"`
	MaxRetries    int           `long:"max-retries" env:"MAX_RETRIES" default:"10" description:"Reconnect attempts before giving up"`
	MaxRetryDelay time.Duration `long:"max-retry-delay" env:"MAX_RETRY_DELAY" default:"60s" description:"Upper bound for the reconnect delay"`
}

type RetryOptions struct {
	AuthDelay          time.Duration `long:"auth-delay" env:"AUTH_DELAY" default:"2s" description:"Wait before retrying a 401 while sign-in is in flight"`
	TransportRate      float64       `long:"transport-rate" env:"TRANSPORT_RATE" description:"Max transport-failure retries per second (0 = unlimited)"`
	TransportBurst     int           `long:"transport-burst" env:"TRANSPORT_BURST" default:"1" description:"Burst for transport-failure retries"`
	MaxTransportErrors int           `long:"max-transport-errors" env:"MAX_TRANSPORT_ERRORS" description:"Give up after this many consecutive transport failures (0 = never)"`
}

// Endpoints are the absolute URLs derived from host and scheme.
type Endpoints struct {
	APIBaseURL string
	SignInURL  string
	SocketURL  string
}

const (
	signInPath = "/auth/signin"
	socketPath = "/socket/websocket"
)

// ParseOptions loads .env if present, then parses args with environment
// fallbacks. Embedding programs forward their own args; pass nil to use the
// environment alone.
func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.Host) == "" {
		return errors.New("host is required")
	}
	hasPassword := strings.TrimSpace(opts.Email) != "" && opts.Password != ""
	if strings.TrimSpace(opts.Token) == "" && strings.TrimSpace(opts.TokenFile) == "" && !hasPassword {
		return errors.New("set a token, a token file, or email and password")
	}
	if opts.Socket.MaxRetries < 0 {
		return errors.New("socket max retries must not be negative")
	}
	if opts.Retry.TransportRate < 0 {
		return errors.New("transport retry rate must not be negative")
	}
	return nil
}

func (o Options) Endpoints() (Endpoints, error) {
	return BuildEndpoints(o.Host, !o.Insecure)
}

func BuildEndpoints(host string, secure bool) (Endpoints, error) {
	origin, err := buildOrigin(host, secure)
	if err != nil {
		return Endpoints{}, err
	}
	apiBase := origin.String() + "/api"

	ws := *origin
	ws.Scheme = "ws"
	if origin.Scheme == "https" {
		ws.Scheme = "wss"
	}
	return Endpoints{
		APIBaseURL: apiBase,
		SignInURL:  apiBase + signInPath,
		SocketURL:  ws.String() + socketPath,
	}, nil
}

// URL joins an endpoint path such as "/game/room-terrain" onto the API base.
func (e Endpoints) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.APIBaseURL + path
}

func buildOrigin(raw string, secure bool) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, errors.New("host is required")
	}
	if !strings.Contains(value, "://") {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		value = scheme + "://" + value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("expected a host like screeps.com or localhost:21025, got %q", raw)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "ws":
		parsed.Scheme = "http"
	case "https", "wss":
		parsed.Scheme = "https"
	default:
		return nil, errors.New("host scheme must be http or https")
	}

	// Normalize any pasted endpoint URL down to its origin.
	parsed.Path = ""
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil
	return parsed, nil
}
