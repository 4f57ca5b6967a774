// Package screepsapi is a client for the Screeps web API: rate-limited REST
// calls with transparent re-authentication, and the socket feed with
// reference-counted subscriptions and automatic reconnects.
package screepsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"screepsapi/internal/auth"
	"screepsapi/internal/client"
	"screepsapi/internal/config"
	"screepsapi/internal/logging"
	"screepsapi/internal/metrics"
	"screepsapi/internal/ratelimit"
	"screepsapi/internal/socket"
)

type (
	Options   = config.Options
	Endpoints = config.Endpoints
	Params    = client.Params
	Event     = socket.Event
	Handler   = socket.Handler

	RemoteError        = client.RemoteError
	TransportError     = client.TransportError
	SignInError        = auth.SignInError
	PreconditionError  = socket.PreconditionError
	AuthFailure        = socket.AuthFailure
	ReconnectExhausted = socket.ReconnectExhausted
)

// ParseOptions reads options from args, the environment and a .env file.
func ParseOptions(args []string) (Options, error) {
	return config.ParseOptions(args)
}

// API bundles the REST client and the socket session of one account.
type API struct {
	endpoints Endpoints
	logger    *logging.Logger
	metrics   *metrics.Metrics
	auth      *auth.Manager
	client    *client.Client
	socket    *socket.Session

	ownsLogSink bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// New validates opts and wires the client. A nil logger logs to stderr with
// opts.Debug; a nil reg keeps metrics on a private registry.
func New(opts Options, logger *logging.Logger, reg prometheus.Registerer) (*API, error) {
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}
	endpoints, err := opts.Endpoints()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(opts.Debug)
	}

	a := &API{endpoints: endpoints, logger: logger}
	if opts.LogDir != "" {
		if err := logger.EnableFilePersistence(opts.LogDir, 0); err != nil {
			return nil, fmt.Errorf("enable log persistence: %w", err)
		}
		a.ownsLogSink = true
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	a.metrics = metrics.New(reg)
	a.auth = auth.New(httpClient, endpoints.SignInURL, auth.Credentials{
		Token:    opts.Token,
		Email:    opts.Email,
		Password: opts.Password,
	}, logger.With(logging.Field("component", "auth")))
	if opts.TokenFile != "" {
		if err := a.auth.LoadTokenFile(opts.TokenFile); err != nil {
			a.closeLogSink()
			return nil, fmt.Errorf("load token file: %w", err)
		}
	}

	a.client = client.New(httpClient, endpoints, a.auth, ratelimit.New(),
		logger.With(logging.Field("component", "client")), a.metrics, retryPolicy(opts.Retry))

	dialer := socket.GorillaDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}}
	a.socket = socket.NewSession(endpoints.SocketURL, dialer, a.auth, a.client, socketOptions(opts.Socket),
		logger.With(logging.Field("component", "socket")), a.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if opts.TokenFile != "" {
		path := opts.TokenFile
		a.wg.Go(func() {
			if err := a.auth.WatchTokenFile(ctx, path); err != nil {
				a.logger.Warn("token file watcher stopped", logging.Field("error", err))
			}
		})
	}

	logger.Debug("screeps api ready",
		logging.Field("api", endpoints.APIBaseURL),
		logging.Field("socket", endpoints.SocketURL),
	)
	return a, nil
}

func retryPolicy(opts config.RetryOptions) client.RetryPolicy {
	policy := client.DefaultRetryPolicy()
	if opts.AuthDelay > 0 {
		policy.AuthRetryDelay = opts.AuthDelay
	}
	if opts.TransportRate > 0 {
		policy.TransportRetryRate = rate.Limit(opts.TransportRate)
		policy.TransportRetryBurst = opts.TransportBurst
	}
	policy.MaxTransportRetries = opts.MaxTransportErrors
	return policy
}

func socketOptions(opts config.SocketOptions) socket.Options {
	out := socket.DefaultOptions()
	out.Reconnect = !opts.NoReconnect
	out.Resubscribe = !opts.NoResubscribe
	out.KeepAlive = !opts.NoKeepAlive
	if opts.MaxRetries > 0 {
		out.MaxRetries = opts.MaxRetries
	}
	if opts.MaxRetryDelay > 0 {
		out.MaxRetryDelay = opts.MaxRetryDelay
	}
	return out
}

func (a *API) Endpoints() Endpoints {
	return a.endpoints
}

// Authenticate signs in with email and password, or adopts the static token.
func (a *API) Authenticate(ctx context.Context) error {
	return a.auth.Authenticate(ctx)
}

func (a *API) Token() string {
	return a.auth.Token()
}

// Execute sends one request to the API, waiting out rate limits and retrying
// 401, 429 and transport failures. path is relative to /api.
func (a *API) Execute(ctx context.Context, method string, path string, params Params) (json.RawMessage, error) {
	return a.client.Execute(ctx, method, path, params)
}

func (a *API) Get(ctx context.Context, path string, params Params) (json.RawMessage, error) {
	return a.client.Execute(ctx, http.MethodGet, path, params)
}

func (a *API) Post(ctx context.Context, path string, params Params) (json.RawMessage, error) {
	return a.client.Execute(ctx, http.MethodPost, path, params)
}

// Call executes a request and decodes the response into T.
func Call[T any](ctx context.Context, a *API, method string, path string, params Params) (T, error) {
	return client.Call[T](ctx, a.client, method, path, params)
}

// ResolveUserID returns the signed-in user's id, fetching it once.
func (a *API) ResolveUserID(ctx context.Context) (string, error) {
	return a.client.ResolveUserID(ctx)
}

func (a *API) Limits() *ratelimit.Limiter {
	return a.client.Limits()
}

func (a *API) Socket() *socket.Session {
	return a.socket
}

// Connect authenticates if no token is held yet, then opens the socket.
func (a *API) Connect(ctx context.Context) error {
	if a.auth.Token() == "" {
		if err := a.auth.Authenticate(ctx); err != nil {
			return err
		}
	}
	return a.socket.Connect(ctx)
}

// Close stops the socket and the token watcher. It is safe to call twice.
func (a *API) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		err = a.socket.Close()
		a.wg.Wait()
		a.closeLogSink()
	})
	return err
}

func (a *API) closeLogSink() {
	if a.ownsLogSink {
		_ = a.logger.Close()
	}
}
