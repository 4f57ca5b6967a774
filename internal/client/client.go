package client

import (
	"context"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"screepsapi/internal/config"
	"screepsapi/internal/logging"
	"screepsapi/internal/metrics"
	"screepsapi/internal/ratelimit"
	"screepsapi/internal/runctx"
)

// Authenticator is the credential owner the executor consults on every call.
type Authenticator interface {
	Authenticate(ctx context.Context) error
	InFlight() bool
	Token() string
	UpdateToken(token string)
}

// RetryPolicy tunes how failed calls are re-issued. The zero value keeps the
// historical behavior: 401 and transport failures retry forever, transport
// failures without pacing.
type RetryPolicy struct {
	// AuthRetryDelay is slept before retrying a 401 while a sign-in is
	// already running, or when re-authenticating produced no new token.
	AuthRetryDelay time.Duration
	// TransportRetryRate paces retries after transport failures. Zero or
	// rate.Inf disables pacing.
	TransportRetryRate  rate.Limit
	TransportRetryBurst int
	// MaxTransportRetries caps consecutive transport failures per call.
	// Zero means unbounded.
	MaxTransportRetries int
}

const defaultAuthRetryDelay = 2 * time.Second

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{AuthRetryDelay: defaultAuthRetryDelay, TransportRetryRate: rate.Inf, TransportRetryBurst: 1}
}

type Client struct {
	http      *http.Client
	endpoints config.Endpoints
	auth      Authenticator
	limits    *ratelimit.Limiter
	logger    *logging.Logger
	metrics   *metrics.Metrics
	policy    RetryPolicy

	transportPacer *rate.Limiter

	userMu sync.Mutex
	userID string
	userSF singleflight.Group

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration
}

func New(httpClient *http.Client, endpoints config.Endpoints, auth Authenticator, limits *ratelimit.Limiter, logger *logging.Logger, m *metrics.Metrics, policy RetryPolicy) *Client {
	if logger == nil {
		panic("client.New: logger must not be nil")
	}
	if auth == nil {
		panic("client.New: authenticator must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if limits == nil {
		limits = ratelimit.New()
	}
	if policy.AuthRetryDelay <= 0 {
		policy.AuthRetryDelay = defaultAuthRetryDelay
	}
	c := &Client{
		http:      httpClient,
		endpoints: endpoints,
		auth:      auth,
		limits:    limits,
		logger:    logger,
		metrics:   m,
		policy:    policy,
		now:       time.Now,
		sleep:     runctx.Sleep,
		jitter:    randomBetween,
	}
	if policy.TransportRetryRate > 0 && policy.TransportRetryRate != rate.Inf {
		burst := policy.TransportRetryBurst
		if burst < 1 {
			burst = 1
		}
		c.transportPacer = rate.NewLimiter(policy.TransportRetryRate, burst)
	}
	return c
}

// Limits exposes the budgets the client keeps current.
func (c *Client) Limits() *ratelimit.Limiter {
	return c.limits
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
