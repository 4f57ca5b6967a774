package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	compressedPrefix = "gz:"
	// Compressed blobs shorter than this are logged as is.
	compressedElideMin = 64
)

// FormatHTTPPayload renders a response body for logs. JSON is indented,
// JSON-encoded strings are unwrapped and "gz:" blobs are replaced by their
// size.
func FormatHTTPPayload(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "<empty>"
	}
	var quoted string
	if json.Unmarshal([]byte(text), &quoted) == nil {
		text = strings.TrimSpace(quoted)
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return elideCompressed(text)
	}
	if out, ok := indentJSON(elideCompressedValues(decoded)); ok {
		return out
	}
	return text
}

func elideCompressed(s string) string {
	if !strings.HasPrefix(s, compressedPrefix) || len(s) < compressedElideMin {
		return s
	}
	return fmt.Sprintf("%s<%d bytes>", compressedPrefix, len(s)-len(compressedPrefix))
}

func elideCompressedValues(value any) any {
	switch v := value.(type) {
	case string:
		return elideCompressed(v)
	case map[string]any:
		for k, member := range v {
			v[k] = elideCompressedValues(member)
		}
	case []any:
		for i, member := range v {
			v[i] = elideCompressedValues(member)
		}
	}
	return value
}

func indentJSON(value any) (string, bool) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", false
	}
	return strings.TrimSpace(buf.String()), true
}
