package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"screepsapi/internal/logging"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func TestAuthenticate_StaticTokenAdoptedOnce(t *testing.T) {
	calls := 0
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(r, http.StatusOK, `{"ok":1,"token":"x"}`), nil
	})}
	m := New(httpClient, "https://screeps.test/api/auth/signin", Credentials{Token: " static-1 "}, logging.Discard())

	if got := m.Token(); got != "" {
		t.Fatalf("Token() before Authenticate = %q, want empty", got)
	}
	if err := m.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got := m.Token(); got != "static-1" {
		t.Fatalf("Token() = %q, want static-1", got)
	}

	m.UpdateToken("rotated")
	if err := m.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got := m.Token(); got != "rotated" {
		t.Fatalf("Token() after second Authenticate = %q, want rotated", got)
	}
	if calls != 0 {
		t.Fatalf("sign-in requests = %d, want 0 for a static token", calls)
	}
}

func TestAuthenticate_SignIn(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/api/auth/signin" {
			t.Fatalf("path = %q, want /api/auth/signin", r.URL.Path)
		}
		var body signInRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Email != "bot@example.com" || body.Password != "hunter2" {
			t.Fatalf("body = %+v", body)
		}
		return jsonResponse(r, http.StatusOK, `{"ok":1,"token":"signed-in"}`), nil
	})}
	m := New(httpClient, "https://screeps.test/api/auth/signin", Credentials{Email: "bot@example.com", Password: "hunter2"}, logging.Discard())

	if err := m.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got := m.Token(); got != "signed-in" {
		t.Fatalf("Token() = %q, want signed-in", got)
	}
	if m.InFlight() {
		t.Fatalf("InFlight() = true after sign-in completed")
	}
}

func TestAuthenticate_NoCredentialsIsNoop(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request to %s", r.URL)
		return nil, nil
	})}
	logger := logging.Discard()
	var warned atomic.Bool
	unsubscribe := logger.Subscribe(func(event logging.Event) {
		if strings.Contains(event.Message, "authentication skipped") {
			warned.Store(true)
		}
	})
	defer unsubscribe()

	m := New(httpClient, "https://screeps.test/api/auth/signin", Credentials{Email: "bot@example.com"}, logger)
	if err := m.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v, want nil", err)
	}
	if !warned.Load() {
		t.Fatalf("expected a diagnostic log when no credentials are configured")
	}
}

func TestAuthenticate_RejectedReturnsSignInError(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusUnauthorized, `{"error":"not authorized"}`), nil
	})}
	m := New(httpClient, "https://screeps.test/api/auth/signin", Credentials{Email: "a", Password: "b"}, logging.Discard())

	err := m.Authenticate(context.Background())
	var signInErr *SignInError
	if !errors.As(err, &signInErr) {
		t.Fatalf("Authenticate() error = %v, want *SignInError", err)
	}
	if signInErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("StatusCode = %d, want 401", signInErr.StatusCode)
	}
	if !strings.Contains(signInErr.Body, "not authorized") {
		t.Fatalf("Body = %q", signInErr.Body)
	}
	if m.Token() != "" {
		t.Fatalf("Token() = %q, want empty after rejection", m.Token())
	}
}

func TestAuthenticate_TransportFailureWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, boom
	})}
	m := New(httpClient, "https://screeps.test/api/auth/signin", Credentials{Email: "a", Password: "b"}, logging.Discard())

	err := m.Authenticate(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Authenticate() error = %v, want wrapping %v", err, boom)
	}
}

func TestAuthenticate_ConcurrentCallersShareSignIn(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		requests.Add(1)
		<-release
		return jsonResponse(r, http.StatusOK, `{"ok":1,"token":"shared"}`), nil
	})}
	m := New(httpClient, "https://screeps.test/api/auth/signin", Credentials{Email: "a", Password: "b"}, logging.Discard())

	const callers = 8
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			errs <- m.Authenticate(context.Background())
		}()
	}
	started.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for !m.InFlight() {
		if time.Now().After(deadline) {
			t.Fatalf("sign-in never started")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("sign-in requests = %d, want 1", got)
	}
	if m.Token() != "shared" {
		t.Fatalf("Token() = %q, want shared", m.Token())
	}
}

func TestUpdateTokenIgnoresEmpty(t *testing.T) {
	m := New(nil, "", Credentials{}, logging.Discard())
	m.UpdateToken("abc")
	m.UpdateToken("  ")
	if got := m.Token(); got != "abc" {
		t.Fatalf("Token() = %q, want abc", got)
	}
}

func TestWatchTokenFileReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	m := New(nil, "", Credentials{}, logging.Discard())
	if err := m.LoadTokenFile(path); err != nil {
		t.Fatalf("LoadTokenFile() error = %v", err)
	}
	if got := m.Token(); got != "first" {
		t.Fatalf("Token() = %q, want first", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	watchErr := make(chan error, 1)
	go func() { watchErr <- m.WatchTokenFile(ctx, path) }()

	deadline := time.Now().Add(3 * time.Second)
	for m.Token() != "second" {
		if time.Now().After(deadline) {
			t.Fatalf("Token() = %q, want second after file rewrite", m.Token())
		}
		if err := os.WriteFile(path, []byte("second\n"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-watchErr:
		if err != nil {
			t.Fatalf("WatchTokenFile() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("WatchTokenFile() did not stop after cancel")
	}
}

func TestLoadTokenFileRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	m := New(nil, "", Credentials{}, logging.Discard())
	if err := m.LoadTokenFile(path); err == nil {
		t.Fatalf("LoadTokenFile() error = nil, want error for empty file")
	}
}
