package sanitize

import (
	"math"
	"strings"
)

// Object walks a decoded JSON object and returns a cleaned copy.
// Keys starting with "$" are dropped, strings go through String, NaN numbers
// become 0, slices and nested objects are walked. Other values pass through.
func Object(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if strings.HasPrefix(key, "$") {
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

// MongoQuery strips operator keys from a client supplied filter so it can only
// express equality on literal values.
func MongoQuery(query map[string]any) map[string]any {
	return Object(query)
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return String(val)
	case float64:
		if math.IsNaN(val) {
			return float64(0)
		}
		return val
	case float32:
		if math.IsNaN(float64(val)) {
			return float32(0)
		}
		return val
	case map[string]any:
		return Object(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = String(item)
		}
		return out
	default:
		return v
	}
}
