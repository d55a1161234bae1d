package content

import (
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts ISO-8601 strings or native time values and returns a UTC timestamp.
// Unparseable or empty input yields nil so one bad field never rejects the whole record.
func ParseTimestamp(raw any) *time.Time {
	switch value := raw.(type) {
	case nil:
		return nil
	case time.Time:
		if value.IsZero() {
			return nil
		}
		utc := value.UTC()
		return &utc
	case *time.Time:
		if value == nil {
			return nil
		}
		return ParseTimestamp(*value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return nil
		}
		if strings.HasSuffix(trimmed, "z") {
			trimmed = strings.TrimSuffix(trimmed, "z") + "Z"
		}
		for _, layout := range timestampLayouts {
			parsed, err := time.Parse(layout, trimmed)
			if err == nil {
				utc := parsed.UTC()
				return &utc
			}
		}
		return nil
	default:
		return nil
	}
}

// FormatTimestamp renders a timestamp as RFC 3339 in UTC. Nil renders as nil.
func FormatTimestamp(value *time.Time) *string {
	if value == nil || value.IsZero() {
		return nil
	}
	formatted := value.UTC().Format(time.RFC3339)
	return &formatted
}
