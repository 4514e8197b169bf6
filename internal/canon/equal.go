package canon

import (
	"encoding/json"
	"reflect"
	"time"
)

const timestampLayout = time.RFC3339Nano

// FormatTimestamp renders a timestamp in the canonical wire form (UTC,
// RFC3339 with nanoseconds).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses the canonical wire form. An empty string maps to the
// zero time so stores without timestamps still round-trip.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ContentEqual compares two content variants structurally. Raw JSON payloads
// (tool args and results) are compared by value, not byte layout, so
// reformatting across store round-trips does not break equality.
func ContentEqual(a, b Content) bool {
	switch a := a.(type) {
	case Text:
		b, ok := b.(Text)
		return ok && a.Text == b.Text
	case ToolCall:
		b, ok := b.(ToolCall)
		return ok && a.Name == b.Name && a.CallID == b.CallID && JSONEqual(a.Args, b.Args)
	case ToolResult:
		b, ok := b.(ToolResult)
		return ok && a.CallID == b.CallID && a.Name == b.Name && a.IsError == b.IsError && JSONEqual(a.Result, b.Result)
	case Parts:
		b, ok := b.(Parts)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !ContentEqual(a[i], b[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return false
	}
}

// JSONEqual reports whether two raw JSON payloads decode to the same value.
// Both empty is equal; one empty is not.
func JSONEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == 0 && len(b) == 0
	}
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(av, bv)
}
