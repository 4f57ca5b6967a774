package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"screepsapi/internal/logging"
)

const signInKey = "signin"

type Credentials struct {
	Token    string
	Email    string
	Password string
}

// Manager owns the bearer token shared by HTTP requests and the socket.
type Manager struct {
	http      *http.Client
	signInURL string
	email     string
	password  string
	logger    *logging.Logger

	mu          sync.RWMutex
	token       string
	staticToken string
	adopted     bool

	group    singleflight.Group
	inFlight atomic.Bool
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	OK    int    `json:"ok"`
	Token string `json:"token"`
}

func New(httpClient *http.Client, signInURL string, creds Credentials, logger *logging.Logger) *Manager {
	if logger == nil {
		panic("auth.New: logger must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		http:        httpClient,
		signInURL:   signInURL,
		email:       strings.TrimSpace(creds.Email),
		password:    creds.Password,
		staticToken: strings.TrimSpace(creds.Token),
		logger:      logger,
	}
}

// Authenticate makes a token available. A configured static token is adopted
// on the first call; otherwise the account credentials are exchanged for a
// token. Concurrent callers share one sign-in. With nothing configured it logs
// and returns nil.
func (m *Manager) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	if m.staticToken != "" {
		if !m.adopted {
			m.token = m.staticToken
			m.adopted = true
			m.logger.Debug("static token adopted")
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.email == "" || m.password == "" {
		m.logger.Warn("authentication skipped: no token and no email/password configured")
		return nil
	}

	_, err, shared := m.group.Do(signInKey, func() (any, error) {
		m.inFlight.Store(true)
		defer m.inFlight.Store(false)
		return nil, m.signIn(ctx)
	})
	if shared {
		m.logger.Debug("joined in-flight sign-in")
	}
	return err
}

// InFlight reports whether a sign-in request is currently running.
func (m *Manager) InFlight() bool {
	return m.inFlight.Load()
}

func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// UpdateToken replaces the current token. Servers rotate tokens on responses,
// so the latest value always wins. Empty tokens are ignored.
func (m *Manager) UpdateToken(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

// SetStaticToken replaces the configured static token and the current token.
func (m *Manager) SetStaticToken(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	m.mu.Lock()
	m.staticToken = token
	m.token = token
	m.adopted = true
	m.mu.Unlock()
}

func (m *Manager) signIn(ctx context.Context) error {
	body, err := json.Marshal(signInRequest{Email: m.email, Password: m.password})
	if err != nil {
		return err
	}
	m.logger.Debug("signing in", logging.Field("url", m.signInURL), logging.Field("email", m.email))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.signInURL, bytes.NewReader(body))
	if err != nil {
		return &SignInError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		m.logger.Warn("sign-in request failed", logging.Field("error", err))
		return &SignInError{Err: err}
	}
	defer resp.Body.Close()
	m.logger.Debugf("POST %s -> %s", m.signInURL, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		formatted := logging.FormatHTTPPayload(data)
		m.logger.Warn("sign-in rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", formatted),
		)
		return &SignInError{StatusCode: resp.StatusCode, Status: resp.Status, Body: formatted}
	}

	var decoded signInResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return &SignInError{StatusCode: resp.StatusCode, Status: resp.Status, Err: fmt.Errorf("invalid sign-in response: %w", err)}
	}
	if strings.TrimSpace(decoded.Token) == "" {
		return &SignInError{StatusCode: resp.StatusCode, Status: resp.Status, Body: logging.FormatHTTPPayload(data)}
	}

	m.UpdateToken(decoded.Token)
	m.logger.Info("signed in", logging.Field("email", m.email))
	return nil
}
