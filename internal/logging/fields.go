package logging

import "log/slog"

// fieldMap flattens attrs into event fields. Group members are keyed
// "group.member"; members of an unnamed group are inlined.
func fieldMap(attrs []slog.Attr) map[string]any {
	fields := map[string]any{}
	for _, attr := range attrs {
		addField(fields, "", attr)
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func addField(fields map[string]any, prefix string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = prefix + attr.Key + "."
		}
		for _, member := range value.Group() {
			addField(fields, next, member)
		}
		return
	}
	if attr.Key == "" {
		return
	}
	fields[prefix+attr.Key] = value.Any()
}
