package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogDirPathSuffix(t *testing.T) {
	path, err := DefaultLogDirPath()
	if err != nil {
		t.Skipf("no user cache dir: %v", err)
	}
	if got, want := path, filepath.Join("screepsapi", "logs"); !strings.HasSuffix(got, want) {
		t.Fatalf("DefaultLogDirPath() = %q, want suffix %q", got, want)
	}
}

func TestFileSinkWritesJSONLAndRotates(t *testing.T) {
	tmp := t.TempDir()
	sink, err := newFileSink(tmp, 180)
	if err != nil {
		t.Fatalf("newFileSink() error = %v", err)
	}

	event := Event{
		Time:    time.Unix(1700000000, 123456789),
		Level:   slog.LevelDebug,
		Message: "rate limit wait",
		Fields: map[string]any{
			"path":  "/game/room-terrain",
			"wait":  7 * time.Second,
			"error": os.ErrDeadlineExceeded,
		},
	}

	for i := 0; i < 6; i++ {
		if err := sink.WriteEvent(event); err != nil {
			t.Fatalf("WriteEvent() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.WriteEvent(event); err == nil {
		t.Fatalf("WriteEvent() after Close error = nil, want error")
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to create multiple files, got %d", len(entries))
	}

	foundLine := false
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "screepsapi-") || !strings.HasSuffix(entry.Name(), ".jsonl") {
			t.Fatalf("unexpected log filename %q", entry.Name())
		}
		data, readErr := os.ReadFile(filepath.Join(tmp, entry.Name()))
		if readErr != nil {
			t.Fatalf("ReadFile(%q) error = %v", entry.Name(), readErr)
		}
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var decoded jsonLogLine
			if unmarshalErr := json.Unmarshal([]byte(line), &decoded); unmarshalErr != nil {
				t.Fatalf("invalid json line %q: %v", line, unmarshalErr)
			}
			if got, want := decoded.Fields["error"], os.ErrDeadlineExceeded.Error(); got != want {
				t.Fatalf("fields.error = %v, want %q", got, want)
			}
			if got, want := decoded.Fields["wait"], "7s"; got != want {
				t.Fatalf("fields.wait = %v, want %q", got, want)
			}
			foundLine = true
		}
	}
	if !foundLine {
		t.Fatalf("expected at least one JSON line")
	}
}

func TestLoggerCloseStopsFilePersistence(t *testing.T) {
	tmp := t.TempDir()

	logger := Discard()
	if err := logger.EnableFilePersistence(tmp, 1024); err != nil {
		t.Fatalf("EnableFilePersistence() error = %v", err)
	}

	logger.Debug("before close")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	logger.Info("after close")

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("log files = %d, want 1", len(entries))
	}
	content, err := os.ReadFile(filepath.Join(tmp, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "before close") {
		t.Fatalf("expected pre-close debug event in log content")
	}
	if strings.Contains(text, "after close") {
		t.Fatalf("did not expect post-close event in log content")
	}
}
