package socket

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"

	"screepsapi/internal/logging"
	"screepsapi/internal/runstatus"
)

// startReconnect launches the recovery loop unless one is already running.
func (s *Session) startReconnect() {
	s.mu.Lock()
	if s.reconnecting || s.closed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.reconnecting = true
	s.cancelRecovery = cancel
	s.setStateLocked(runstatus.Reconnecting)
	s.mu.Unlock()

	s.wg.Go(func() {
		defer cancel()
		s.reconnect(ctx)
	})
}

func (s *Session) newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     s.opts.BaseRetryDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         s.opts.MaxRetryDelay,
	}
}

func (s *Session) reconnect(ctx context.Context) {
	bo := s.newBackOff()
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		delay := min(bo.NextBackOff(), s.opts.MaxRetryDelay)
		s.metrics.ObserveReconnectAttempt()
		s.logger.Debug("socket reconnect scheduled",
			logging.Field("attempt", attempt),
			logging.Field("delay", delay.String()),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return
		}

		s.connectMu.Lock()
		if ctx.Err() != nil {
			s.connectMu.Unlock()
			return
		}
		err := s.connect(ctx)
		s.connectMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err == nil && s.finishReconnect(ctx) {
			s.logger.Info("socket reconnected", logging.Field("attempt", attempt))
			return
		}
		if err == nil {
			err = errors.New("socket closed right after reconnect")
		}
		lastErr = err
		s.logger.Debug("socket reconnect attempt failed",
			logging.Field("attempt", attempt),
			logging.Field("error", err),
		)

		s.mu.Lock()
		if s.current == nil && !s.closed {
			s.setStateLocked(runstatus.Reconnecting)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.reconnecting = false
	s.cancelRecovery = nil
	if s.current == nil {
		s.setStateLocked(runstatus.Disconnected)
	}
	s.mu.Unlock()

	exhausted := &ReconnectExhausted{Attempts: s.opts.MaxRetries, Err: lastErr}
	s.logger.Error("socket reconnect gave up",
		logging.Field("attempts", s.opts.MaxRetries),
		logging.Field("error", lastErr),
	)
	s.emit(ChannelError, Event{Channel: ChannelError, Err: exhausted})
}

// finishReconnect ends the recovery loop after a successful connect and
// re-sends every active subscription once. It reports false when the new
// transport is already gone.
func (s *Session) finishReconnect(ctx context.Context) bool {
	s.mu.Lock()
	if s.current == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.reconnecting = false
	s.cancelRecovery = nil
	s.mu.Unlock()

	for _, path := range s.registry.Active() {
		if err := s.Send("subscribe " + path); err != nil {
			s.logger.Debug("resubscribe failed",
				logging.Field("path", path),
				logging.Field("error", err),
			)
		}
	}
	return true
}
