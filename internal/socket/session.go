package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"screepsapi/internal/codec"
	"screepsapi/internal/logging"
	"screepsapi/internal/metrics"
	"screepsapi/internal/runctx"
	"screepsapi/internal/runstatus"
)

// TokenSource supplies the credential sent with the auth command.
type TokenSource interface {
	Token() string
}

// UserIDResolver supplies the id used to scope bare subscription paths.
type UserIDResolver interface {
	ResolveUserID(ctx context.Context) (string, error)
}

// Session owns one logical socket connection across reconnects.
type Session struct {
	url      string
	dialer   Dialer
	tokens   TokenSource
	users    UserIDResolver
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.Metrics
	router   *Router
	registry *Registry

	// connectMu serializes Connect calls and reconnect attempts.
	connectMu sync.Mutex

	mu             sync.Mutex
	state          runstatus.State
	current        *attempt
	pending        []string
	subQueue       []string
	keepAliveStop  chan struct{}
	reconnecting   bool
	cancelRecovery context.CancelFunc
	closed         bool

	wg    sync.WaitGroup
	sleep func(ctx context.Context, d time.Duration) error
}

// attempt is one transport. Events from an attempt that is no longer
// current are dropped.
type attempt struct {
	id       string
	conn     Conn
	logger   *logging.Logger
	authCh   chan error
	authOnce sync.Once
}

func (a *attempt) resolveAuth(err error) {
	a.authOnce.Do(func() { a.authCh <- err })
}

func NewSession(url string, dialer Dialer, tokens TokenSource, users UserIDResolver, opts Options, logger *logging.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		panic("socket.NewSession: logger must not be nil")
	}
	if tokens == nil {
		panic("socket.NewSession: token source must not be nil")
	}
	if dialer == nil {
		dialer = GorillaDialer{}
	}
	s := &Session{
		url:      url,
		dialer:   dialer,
		tokens:   tokens,
		users:    users,
		opts:     opts.withDefaults(),
		logger:   logger,
		metrics:  m,
		router:   NewRouter(),
		registry: NewRegistry(),
		state:    runstatus.Disconnected,
		sleep:    runctx.Sleep,
	}
	m.SetSocketState(runstatus.Disconnected)
	return s
}

func (s *Session) Router() *Router {
	return s.router
}

func (s *Session) Registry() *Registry {
	return s.registry
}

// On is shorthand for Router().On.
func (s *Session) On(channel string, h Handler) func() {
	return s.router.On(channel, h)
}

func (s *Session) State() runstatus.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the socket and authenticates it with the current token. It
// returns once the server answered the auth command, the transport failed, or
// ctx is done.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	token := s.tokens.Token()
	if token == "" {
		return &PreconditionError{Op: "connect", Reason: "no token; authenticate before connecting"}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	previous := s.detachLocked()
	s.setStateLocked(runstatus.Connecting)
	s.mu.Unlock()
	if previous != nil {
		_ = previous.conn.Close()
	}

	s.logger.Debug("dialing socket", logging.Field("url", s.url))
	conn, err := s.dialer.Dial(ctx, s.url)
	if err != nil {
		s.mu.Lock()
		if s.current == nil && s.state == runstatus.Connecting {
			s.setStateLocked(runstatus.Disconnected)
		}
		s.mu.Unlock()
		s.logger.Debug("socket dial failed", logging.Field("error", err))
		s.emit(ChannelError, Event{Channel: ChannelError, Err: err})
		return err
	}

	id := uuid.NewString()
	a := &attempt{
		id:     id,
		conn:   conn,
		logger: s.logger.With(logging.Field("conn_id", id)),
		authCh: make(chan error, 1),
	}

	s.mu.Lock()
	if s.closed || ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrClosed
	}
	s.current = a
	s.setStateLocked(runstatus.Connected)
	if s.opts.Resubscribe {
		for _, path := range s.registry.Active() {
			s.queueSubscribeLocked(path)
		}
	}
	s.mu.Unlock()

	a.logger.Info("socket connected")
	s.emit(ChannelConnected, Event{Channel: ChannelConnected})

	s.wg.Go(func() { s.readLoop(a) })

	s.mu.Lock()
	if s.current != a {
		s.mu.Unlock()
		return errors.New("socket closed before auth")
	}
	s.setStateLocked(runstatus.Authenticating)
	writeErr := a.conn.WriteText("auth " + token)
	s.mu.Unlock()
	if writeErr != nil {
		// The read loop sees the broken transport and reports the close.
		a.logger.Debug("socket auth write failed", logging.Field("error", writeErr))
	}

	result, ok := runctx.RecvOrDone(ctx, "socket auth", a.logger, a.authCh)
	if !ok {
		s.abandon(a)
		return ctx.Err()
	}
	return result
}

// abandon drops a if it is still the current attempt.
func (s *Session) abandon(a *attempt) {
	s.mu.Lock()
	if s.current != a {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	s.setStateLocked(runstatus.Disconnected)
	s.mu.Unlock()
	_ = a.conn.Close()
}

func (s *Session) readLoop(a *attempt) {
	for {
		raw, err := a.conn.ReadMessage()
		if err != nil {
			s.handleClose(a, err)
			return
		}
		if !s.isCurrent(a) {
			continue
		}
		s.handleFrame(a, raw)
	}
}

func (s *Session) isCurrent(a *attempt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == a
}

func (s *Session) handleFrame(a *attempt, raw string) {
	switch {
	case codec.IsCompressed(raw):
		s.metrics.ObserveFrame(metrics.FrameCompressed)
	case strings.HasPrefix(raw, "["):
		s.metrics.ObserveFrame(metrics.FrameArray)
	default:
		s.metrics.ObserveFrame(metrics.FrameText)
	}

	frame, err := ParseFrame(raw)
	if err != nil {
		a.logger.Warn("dropping unreadable socket frame",
			logging.Field("error", err),
			logging.Field("frame", logging.Truncate(raw)),
		)
		return
	}
	if frame.Event.Type == TypeServer && frame.Event.Channel == ChannelAuth {
		s.handleAuth(a, frame.Event)
	}
	s.router.Deliver(frame)
}

func (s *Session) handleAuth(a *attempt, event Event) {
	status := event.Fields["status"]
	if status != "ok" {
		s.mu.Lock()
		if s.current == a && s.state == runstatus.Authenticating {
			s.setStateLocked(runstatus.Connected)
		}
		s.mu.Unlock()
		a.logger.Warn("socket auth rejected", logging.Field("status", status))
		a.resolveAuth(&AuthFailure{Status: status})
		return
	}

	s.mu.Lock()
	if s.current != a {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(runstatus.Authenticated)
	pending, queued := s.pending, s.subQueue
	s.pending, s.subQueue = nil, nil
	var writeErr error
	for _, msg := range append(pending, queued...) {
		if writeErr = a.conn.WriteText(msg); writeErr != nil {
			break
		}
	}
	s.startKeepAliveLocked(a)
	s.mu.Unlock()

	if writeErr != nil {
		a.logger.Debug("socket queue flush failed", logging.Field("error", writeErr))
	}
	a.logger.Debug("socket authenticated",
		logging.Field("flushed_messages", len(pending)),
		logging.Field("flushed_subscriptions", len(queued)),
	)
	s.emit(ChannelAuthed, Event{Channel: ChannelAuthed})
	a.resolveAuth(nil)
}

func (s *Session) handleClose(a *attempt, cause error) {
	s.mu.Lock()
	if s.current != a {
		s.mu.Unlock()
		a.resolveAuth(fmt.Errorf("socket closed: %w", cause))
		return
	}
	s.detachLocked()
	s.setStateLocked(runstatus.Disconnected)
	reconnect := s.opts.Reconnect && !s.closed
	s.mu.Unlock()

	_ = a.conn.Close()
	a.logger.Info("socket disconnected", logging.Field("error", cause))
	a.resolveAuth(fmt.Errorf("socket closed: %w", cause))
	if !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		s.emit(ChannelError, Event{Channel: ChannelError, Err: cause})
	}
	s.emit(ChannelDisconnected, Event{Channel: ChannelDisconnected, Err: cause})
	if reconnect {
		s.startReconnect()
	}
}

// Disconnect closes the transport and stops keep-alive and any reconnect in
// progress. Subscriptions are kept; queued messages are dropped. A later
// Connect starts over.
func (s *Session) Disconnect() {
	s.mu.Lock()
	a := s.resetLocked()
	s.mu.Unlock()
	if a != nil {
		_ = a.conn.Close()
		a.resolveAuth(ErrClosed)
	}
	s.logger.Debug("socket disconnect requested")
	s.emit(ChannelDisconnected, Event{Channel: ChannelDisconnected})
}

// Close disconnects, waits for background work and rejects further use.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	a := s.resetLocked()
	s.mu.Unlock()
	if a != nil {
		_ = a.conn.Close()
		a.resolveAuth(ErrClosed)
	}
	s.wg.Wait()
	return nil
}

func (s *Session) resetLocked() *attempt {
	if s.cancelRecovery != nil {
		s.cancelRecovery()
		s.cancelRecovery = nil
	}
	s.reconnecting = false
	a := s.detachLocked()
	s.pending = nil
	s.subQueue = nil
	s.setStateLocked(runstatus.Disconnected)
	return a
}

// detachLocked forgets the current attempt and its keep-alive.
func (s *Session) detachLocked() *attempt {
	s.stopKeepAliveLocked()
	a := s.current
	s.current = nil
	return a
}

// Send writes data when the transport is open and queues it otherwise.
// Queued messages go out, in order, right after the next successful auth.
func (s *Session) Send(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.current == nil || !s.state.Open() {
		s.pending = append(s.pending, data)
		return nil
	}
	return s.current.conn.WriteText(data)
}

// Gzip asks the server to compress frames.
func (s *Session) Gzip(on bool) error {
	if on {
		return s.Send("gzip on")
	}
	return s.Send("gzip off")
}

// Subscribe normalizes path, counts it and asks the server for its feed once
// the socket is authenticated. A non-nil handler is registered on the path.
func (s *Session) Subscribe(ctx context.Context, path string, handler Handler) error {
	if path == "" {
		return nil
	}
	full, err := s.normalize(ctx, path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if handler != nil {
		s.router.On(full, handler)
	}
	s.registry.Add(full)
	var writeErr error
	if s.state == runstatus.Authenticated && s.current != nil {
		writeErr = s.current.conn.WriteText("subscribe " + full)
	} else {
		s.queueSubscribeLocked(full)
	}
	s.mu.Unlock()

	s.emitPath(ChannelSubscribe, full)
	return writeErr
}

// Unsubscribe decrements path and tells the server, queueing the command if
// the socket is down.
func (s *Session) Unsubscribe(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	full, err := s.normalize(ctx, path)
	if err != nil {
		return err
	}
	sendErr := s.Send("unsubscribe " + full)
	s.emitPath(ChannelUnsubscribe, full)
	s.registry.Remove(full)
	return sendErr
}

func (s *Session) normalize(ctx context.Context, path string) (string, error) {
	if !NeedsUserScope(path) {
		return path, nil
	}
	if s.users == nil {
		return "", &PreconditionError{Op: "subscribe", Reason: "path " + path + " needs a user id but no resolver is configured"}
	}
	userID, err := s.users.ResolveUserID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve user id for %s: %w", path, err)
	}
	return NormalizePath(path, userID), nil
}

func (s *Session) queueSubscribeLocked(path string) {
	cmd := "subscribe " + path
	for _, queued := range s.subQueue {
		if queued == cmd {
			return
		}
	}
	s.subQueue = append(s.subQueue, cmd)
}

func (s *Session) startKeepAliveLocked(a *attempt) {
	s.stopKeepAliveLocked()
	if !s.opts.KeepAlive {
		return
	}
	stop := make(chan struct{})
	s.keepAliveStop = stop
	interval := s.opts.KeepAliveInterval
	s.wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := a.conn.Ping(); err != nil {
					a.logger.Debug("keep-alive ping failed", logging.Field("error", err))
				}
			}
		}
	})
}

func (s *Session) stopKeepAliveLocked() {
	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
		s.keepAliveStop = nil
	}
}

func (s *Session) setStateLocked(state runstatus.State) {
	if s.state == state {
		return
	}
	s.state = state
	s.metrics.SetSocketState(state)
}

func (s *Session) emit(channel string, event Event) {
	s.router.emit(channel, event)
}

func (s *Session) emitPath(channel string, path string) {
	data, _ := json.Marshal(path)
	s.emit(channel, Event{Channel: channel, Args: []string{path}, Data: data})
}
