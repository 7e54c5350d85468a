package llm

import (
	"encoding/json"
	"strings"
)

// Value is the outcome of a lenient parse of a model response: either a
// JSON object, a JSON array, or neither. In the last case Raw carries the
// original text and every caller falls back to its documented default.
type Value struct {
	Object map[string]any
	Array  []any
	Raw    string
}

// Malformed reports whether no JSON could be extracted.
func (v Value) Malformed() bool {
	return v.Object == nil && v.Array == nil
}

// ParseLoose extracts the first JSON object or array from a potentially
// messy model response (markdown fences, prose before/after the payload).
func ParseLoose(response string) Value {
	v := Value{Raw: response}

	if s, ok := sliceBetween(response, '{', '}'); ok {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			v.Object = obj
			return v
		}
	}

	if s, ok := sliceBetween(response, '[', ']'); ok {
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			v.Array = arr
			return v
		}
	}

	return v
}

// DecodeObject unmarshals the first JSON object in response into out.
// Returns false when the response holds no decodable object.
func DecodeObject(response string, out any) bool {
	s, ok := sliceBetween(response, '{', '}')
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(s), out) == nil
}

// DecodeArray unmarshals the first JSON array in response into out. When the
// response is a bare object it is also tried against out, so callers can
// accept either {"items": [...]}-free arrays or single objects wrapped by
// the model.
func DecodeArray(response string, out any) bool {
	if s, ok := sliceBetween(response, '[', ']'); ok {
		if json.Unmarshal([]byte(s), out) == nil {
			return true
		}
	}
	return false
}

func sliceBetween(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
