package device

import (
	"encoding/json"
	"strings"
	"time"
)

// IDLength is the length of a rendered device ID (6 bytes as hex).
const IDLength = 12

// Status is the last JSON object reported by a device, e.g.
// {"temperature":23.5,"humidity":41,"value":12,"hcho":8}.
//
// Numbers are json.Number when decoded by the frame codec. Nested objects
// and arrays are map[string]any and []any.
type Status map[string]any

// DeepCopy returns an independent copy of s.
func (s Status) DeepCopy() Status {
	if s == nil {
		return nil
	}
	return Status(deepCopyMap(s))
}

// Number returns the numeric value of key as a float64.
// It accepts json.Number and the native numeric types.
func (s Status) Number(key string) (float64, bool) {
	switch v := s[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case Status:
		return Status(deepCopyMap(val))
	case []any:
		cpy := make([]any, len(val))
		for i, item := range val {
			cpy[i] = deepCopyValue(item)
		}
		return cpy
	default:
		// Scalars (string, bool, json.Number, float64, nil) are immutable.
		return val
	}
}

// NormalizeID converts a user-supplied MAC ("aa:bb:cc:dd:ee:ff",
// "AA-BB-..", "aabb.ccdd.eeff") to the canonical 12-char uppercase form.
// The result is not validated; use ValidID.
func NormalizeID(raw string) string {
	var b strings.Builder
	b.Grow(IDLength)
	for _, r := range strings.TrimSpace(raw) {
		switch r {
		case ':', '-', '.', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// ValidID reports whether id is 12 uppercase hex characters.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Sighting records when a device was seen by the gateway.
type Sighting struct {
	DeviceID       string    `json:"device_id"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	Frames         int64     `json:"frames"`
	LastRemoteAddr string    `json:"last_remote_addr"`
}
