package tooling

import (
	"encoding/json"
	"regexp"
	"strings"
)

var jsonFence = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")

// DecodeJSONOutput decodes agent text that should be JSON. It accepts bare
// JSON, a ```json fenced block, or the outermost {...} span of the text.
func DecodeJSONOutput(raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}
	if v, ok := decodeJSON(s); ok {
		return v, true
	}
	if m := jsonFence.FindStringSubmatch(s); m != nil {
		if v, ok := decodeJSON(strings.TrimSpace(m[1])); ok {
			return v, true
		}
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		if v, ok := decodeJSON(s[start : end+1]); ok {
			return v, true
		}
	}
	return nil, false
}

func decodeJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
