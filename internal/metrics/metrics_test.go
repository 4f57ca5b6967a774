package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"screepsapi/internal/runstatus"
)

func TestCountersByLabel(t *testing.T) {
	m := Discard()
	m.ObserveResponse("GET", 200)
	m.ObserveResponse("GET", 200)
	m.ObserveResponse("POST", 429)
	m.ObserveRetry(ReasonRateLimited)
	m.ObserveFrame(FrameArray)

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("GET", "200")); got != 2 {
		t.Fatalf("requests{GET,200} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("POST", "429")); got != 1 {
		t.Fatalf("requests{POST,429} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Retries.WithLabelValues(ReasonRateLimited)); got != 1 {
		t.Fatalf("retries{rate_limited} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Frames.WithLabelValues(FrameArray)); got != 1 {
		t.Fatalf("frames{array} = %v, want 1", got)
	}
}

func TestSocketStateIsExclusive(t *testing.T) {
	m := Discard()
	m.SetSocketState(runstatus.Authenticated)
	for _, s := range runstatus.All() {
		want := 0.0
		if s == runstatus.Authenticated {
			want = 1
		}
		if got := testutil.ToFloat64(m.SocketState.WithLabelValues(s.Key())); got != want {
			t.Fatalf("state{%s} = %v, want %v", s.Key(), got, want)
		}
	}
}

func TestNewRegistersOnProvidedRegistry(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := New(reg)
	m.ObserveReconnectAttempt()
	if got := testutil.ToFloat64(m.ReconnectAttempts); got != 1 {
		t.Fatalf("reconnect attempts = %v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(reg, "screepsapi_socket_reconnect_attempts_total"); err != nil || n != 1 {
		t.Fatalf("GatherAndCount() = %d, %v, want 1, nil", n, err)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveResponse("GET", 200)
	m.ObserveRetry(ReasonTransport)
	m.SetSocketState(runstatus.Connected)
}
