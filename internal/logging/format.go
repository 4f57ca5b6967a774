package logging

import (
	"encoding"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"unicode/utf8"
)

const clipLimit = 240

// Field keys rendered after every other JSON block.
var payloadKeys = map[string]bool{
	"payload":  true,
	"response": true,
	"body":     true,
	"data":     true,
	"frame":    true,
}

// Truncate collapses whitespace and clips value to fit on one log line.
func Truncate(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return "<empty>"
	}
	if len(value) <= clipLimit {
		return value
	}
	cut := clipLimit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut] + "..."
}

func FormatEventLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format("15:04:05"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(event.Level.String()))
	b.WriteString("] ")
	b.WriteString(event.Message)
	for _, key := range fieldOrder(event.Fields) {
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(fieldText(event.Fields[key]))
	}
	b.WriteString("\n")
	return b.String()
}

func fieldText(value any) string {
	if block, ok := jsonBlock(value); ok {
		return block
	}
	if value == nil {
		return "<nil>"
	}
	return fmt.Sprint(value)
}

// jsonBlock reports whether value is an object or array worth printing as
// indented JSON, and returns that rendering. Strings qualify only when the
// whole string is a JSON object or array.
func jsonBlock(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			return "", false
		}
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return "", false
		}
		return indentJSON(decoded)
	case json.RawMessage:
		return jsonBlock(string(v))
	case []byte:
		return jsonBlock(string(v))
	case error:
		return jsonBlock(v.Error())
	case encoding.TextMarshaler, fmt.Stringer:
		return "", false
	}
	switch reflect.Indirect(reflect.ValueOf(value)).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return indentJSON(value)
	}
	return "", false
}

// fieldOrder sorts keys alphabetically with inline values first, then JSON
// blocks, then payload blocks.
func fieldOrder(fields map[string]any) []string {
	keys := slices.Sorted(maps.Keys(fields))
	rank := make(map[string]int, len(keys))
	for _, key := range keys {
		if _, ok := jsonBlock(fields[key]); ok {
			rank[key] = 1
			if payloadKeys[key] {
				rank[key] = 2
			}
		}
	}
	slices.SortStableFunc(keys, func(a, b string) int { return rank[a] - rank[b] })
	return keys
}
