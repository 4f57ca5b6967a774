package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func newBufferLogger(debug bool) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	pretty := false
	return NewWithOptions(Options{Debug: debug, Output: &buf, Pretty: &pretty}), &buf
}

func TestLoggerDebugGatedByFlag(t *testing.T) {
	logger, buf := newBufferLogger(false)
	logger.Debug("hidden")
	logger.Info("shown", Field("room", "W1N1"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line rendered while debug disabled: %q", out)
	}
	if !strings.Contains(out, "[INFO] shown room=W1N1") {
		t.Fatalf("info line = %q, want level, message and field", out)
	}

	logger.SetDebugEnabled(true)
	logger.Debugf("attempt %d", 3)
	if !strings.Contains(buf.String(), "[DEBUG] attempt 3") {
		t.Fatalf("debug line missing after SetDebugEnabled: %q", buf.String())
	}
}

func TestLoggerWithStampsFieldsAndSharesSubscribers(t *testing.T) {
	logger, buf := newBufferLogger(true)
	child := logger.With(Field("conn", "abc"))

	var mu sync.Mutex
	var got []Event
	unsubscribe := logger.Subscribe(func(event Event) {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
	})

	child.Warn("socket closed", Field("code", 1006))
	logger.Info("parent only")
	unsubscribe()
	child.Error("not delivered")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("subscriber events = %d, want 2", len(got))
	}
	if got[0].Level != slog.LevelWarn || got[0].Fields["conn"] != "abc" || got[0].Fields["code"] != int64(1006) {
		t.Fatalf("child event = %+v, want conn and code fields", got[0])
	}
	if _, ok := got[1].Fields["conn"]; ok {
		t.Fatalf("parent event carries child field: %+v", got[1])
	}
	if !strings.Contains(buf.String(), "not delivered") {
		t.Fatalf("unsubscribe should not stop rendering: %q", buf.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored")
	logger.Debugf("ignored %d", 1)
	if logger.DebugEnabled() {
		t.Fatalf("nil logger reports debug enabled")
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestFormatEventANSIIncludesMessageAndJSONBlock(t *testing.T) {
	out := FormatEventANSI(Event{
		Level:   slog.LevelInfo,
		Message: "frame",
		Fields:  map[string]any{"data": `{"x":1}`, "channel": "room"},
	})
	if !strings.Contains(out, "frame") || !strings.Contains(out, "channel") || !strings.Contains(out, "data") {
		t.Fatalf("FormatEventANSI() = %q, want message and field keys", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("FormatEventANSI() missing trailing newline")
	}
}
