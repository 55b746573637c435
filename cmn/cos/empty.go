package cos

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// IsEmptyValue implements the merger's uniform "absent" rule (spec §4.8,
// GLOSSARY "Empty value"): null, an empty array, an object whose "data" key
// is an empty array, or a whitespace-only string. Applied identically to
// source-empty and target-empty checks.
func IsEmptyValue(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return true
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := jsoniter.Unmarshal(raw, &s); err != nil {
			return false
		}
		return strings.TrimSpace(s) == ""
	case '[':
		var arr []jsoniter.RawMessage
		if err := jsoniter.Unmarshal(raw, &arr); err != nil {
			return false
		}
		return len(arr) == 0
	case '{':
		var obj struct {
			Data []jsoniter.RawMessage `json:"data"`
		}
		if err := jsoniter.Unmarshal(raw, &obj); err != nil {
			return false
		}
		return obj.Data != nil && len(obj.Data) == 0 && hasOnlyDataKey(raw)
	default:
		return false
	}
}

// hasOnlyDataKey guards against treating {"data": [], "other": 1} as empty:
// the spec's rule is specifically "an object whose data key is an empty
// array", which in practice (S2ORC embedding vectors) means the sole key.
func hasOnlyDataKey(raw []byte) bool {
	var m map[string]jsoniter.RawMessage
	if err := jsoniter.Unmarshal(raw, &m); err != nil {
		return false
	}
	if len(m) != 1 {
		return false
	}
	_, ok := m["data"]
	return ok
}

// CleanControlChars strips every ASCII control character 0x00-0x1f
// (including tab; line breaks are already consumed by the caller's line
// scanner) from a line before it is parsed as JSON, tolerating upstream
// producers that embed raw control bytes in string fields. A no-op on an
// already-clean line.
func CleanControlChars(line []byte) []byte {
	hasControl := false
	for _, b := range line {
		if b < 0x20 {
			hasControl = true
			break
		}
	}
	if !hasControl {
		return line
	}
	out := make([]byte, 0, len(line))
	for _, b := range line {
		if b < 0x20 {
			continue
		}
		out = append(out, b)
	}
	return out
}
