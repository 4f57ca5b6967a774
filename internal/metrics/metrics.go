// Package metrics holds the prometheus collectors shared by the request
// executor and the socket session.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"screepsapi/internal/runstatus"
)

const namespace = "screepsapi"

// Retry reasons.
const (
	ReasonUnauthorized = "unauthorized"
	ReasonRateLimited  = "rate_limited"
	ReasonTransport    = "transport"
)

// Frame shapes.
const (
	FrameArray      = "array"
	FrameText       = "text"
	FrameCompressed = "compressed"
)

type Metrics struct {
	Requests          *prometheus.CounterVec
	Retries           *prometheus.CounterVec
	RateLimitWaits    *prometheus.CounterVec
	RateLimitWaitTime prometheus.Histogram
	ReconnectAttempts prometheus.Counter
	SocketState       *prometheus.GaugeVec
	Frames            *prometheus.CounterVec
}

// New builds the collectors and registers them on reg. A nil reg gets a
// private registry so several clients can live in one process.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP responses received, by method and status code.",
		}, []string{"method", "code"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Requests re-issued, by reason.",
		}, []string{"reason"}),
		RateLimitWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "waits_total",
			Help:      "Requests delayed because the endpoint budget was exhausted.",
		}, []string{"method"}),
		RateLimitWaitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a rate limit window to reset.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 4, 8),
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "reconnect_attempts_total",
			Help:      "Socket reconnect attempts.",
		}),
		SocketState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "state",
			Help:      "1 for the current socket connection state, 0 otherwise.",
		}, []string{"state"}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "frames_total",
			Help:      "Socket frames received, by shape.",
		}, []string{"shape"}),
	}
	reg.MustRegister(
		m.Requests,
		m.Retries,
		m.RateLimitWaits,
		m.RateLimitWaitTime,
		m.ReconnectAttempts,
		m.SocketState,
		m.Frames,
	)
	m.SetSocketState(runstatus.Disconnected)
	return m
}

// Discard returns collectors bound to a throwaway registry.
func Discard() *Metrics {
	return New(nil)
}

func (m *Metrics) ObserveResponse(method string, code int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveRetry(reason string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRateLimitWait(method string, seconds float64) {
	if m == nil {
		return
	}
	m.RateLimitWaits.WithLabelValues(method).Inc()
	m.RateLimitWaitTime.Observe(seconds)
}

func (m *Metrics) ObserveReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) ObserveFrame(shape string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(shape).Inc()
}

// SetSocketState flips the state gauge so exactly one label reads 1.
func (m *Metrics) SetSocketState(state runstatus.State) {
	if m == nil {
		return
	}
	for _, s := range runstatus.All() {
		value := 0.0
		if s == state {
			value = 1
		}
		m.SocketState.WithLabelValues(s.Key()).Set(value)
	}
}
